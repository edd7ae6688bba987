package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"wagerbot/internal/handler"
	"wagerbot/internal/notify"
)

// ErrUnsupportedTarget is returned for targets that are not Telegram chats.
var ErrUnsupportedTarget = errors.New("notification target is not a telegram recipient")

// Sender is the part of *tele.Bot the notifier uses.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Notifier posts session results into the chat the session was started in.
type Notifier struct {
	sender Sender
	names  handler.Directory
}

// NewNotifier creates a Notifier.
func NewNotifier(sender Sender, names handler.Directory) *Notifier {
	return &Notifier{sender: sender, names: names}
}

// Notify renders ev and sends it to target, which must be a tele.Recipient.
func (n *Notifier) Notify(ctx context.Context, target notify.Target, ev notify.Event) error {
	to, ok := target.(tele.Recipient)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedTarget, target)
	}

	names, err := n.names.Names(ctx, ev.Community, handler.EventPlayers(ev))
	if err != nil {
		log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("Failed to look up names for result")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := n.sender.Send(to, handler.RenderEvent(ev, names)); err != nil {
		return fmt.Errorf("failed to send result to %s: %w", to.Recipient(), err)
	}
	return nil
}

// ChatTarget returns the chat of a community, for sessions restored after a
// restart. It returns nil for a community that is not a chat ID.
func ChatTarget(community string) notify.Target {
	id, err := strconv.ParseInt(community, 10, 64)
	if err != nil {
		return nil
	}
	return &tele.Chat{ID: id}
}
