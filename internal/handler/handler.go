// Package handler provides Telegram bot command handlers. Chats map to
// communities and Telegram users to players; both are keyed by their
// decimal Telegram IDs.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"

	"wagerbot/internal/engine"
	"wagerbot/internal/game"
	"wagerbot/internal/game/dice"
	"wagerbot/internal/game/sicbo"
	"wagerbot/internal/ledger"
	"wagerbot/internal/service"
	"wagerbot/internal/session"
)

// requestTimeout bounds database work done inside one update.
const requestTimeout = 5 * time.Second

// CreatedKey is the context key set to true when the update funded a new
// account.
const CreatedKey = "player_created"

// Directory records and looks up player display names.
type Directory interface {
	Upsert(ctx context.Context, community, player, username string) error
	Names(ctx context.Context, community string, players []string) (map[string]string, error)
}

// MemoryDirectory is a Directory for running without a database. Names are
// lost on restart.
type MemoryDirectory struct {
	mu    sync.RWMutex
	names map[string]map[string]string
}

// NewMemoryDirectory creates an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{names: make(map[string]map[string]string)}
}

// Upsert records the player's current username.
func (d *MemoryDirectory) Upsert(_ context.Context, community, player, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.names[community] == nil {
		d.names[community] = make(map[string]string)
	}
	d.names[community][player] = username
	return nil
}

// Names returns the known usernames of players.
func (d *MemoryDirectory) Names(_ context.Context, community string, players []string) (map[string]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(players))
	for _, p := range players {
		if name, ok := d.names[community][p]; ok {
			out[p] = name
		}
	}
	return out, nil
}

// CommunityID returns the community key of a chat.
func CommunityID(chat *tele.Chat) string {
	return strconv.FormatInt(chat.ID, 10)
}

// PlayerID returns the player key of a user.
func PlayerID(user *tele.User) string {
	return strconv.FormatInt(user.ID, 10)
}

// DisplayName returns the username, or the first name when there is none.
func DisplayName(user *tele.User) string {
	if user.Username != "" {
		return user.Username
	}
	return user.FirstName
}

// identify returns the community and player of an update, ok false when
// either is missing.
func identify(c tele.Context) (community, player string, ok bool) {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return "", "", false
	}
	return CommunityID(chat), PlayerID(sender), true
}

// CallbackData returns the callback payload without the marker telebot
// puts in front of unique buttons.
func CallbackData(cb *tele.Callback) string {
	return strings.TrimPrefix(cb.Data, "\f")
}

// parseAmount parses a positive coin amount.
func parseAmount(s string) (int64, error) {
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if amount <= 0 {
		return 0, service.ErrInvalidAmount
	}
	return amount, nil
}

// errorText turns a service or engine error into a chat reply.
func errorText(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "❌ 余额不足"
	case errors.Is(err, session.ErrSessionConflict):
		return "❌ 已有进行中的游戏，请先完成当前游戏"
	case errors.Is(err, session.ErrNotOwner):
		return "❌ 这不是你的游戏"
	case errors.Is(err, session.ErrSessionNotFound):
		return "❌ 没有进行中的游戏"
	case errors.Is(err, engine.ErrBusy):
		return "⏳ 游戏处理中，请稍后再试"
	case errors.Is(err, sicbo.ErrBettingEnded):
		return "❌ 下注已截止"
	case errors.Is(err, sicbo.ErrNoBets):
		return "❌ 还没有人下注"
	case errors.Is(err, dice.ErrInvalidDice):
		return "❌ 骰子点数无效"
	case errors.Is(err, game.ErrInvalidStake):
		return "❌ 下注金额无效"
	case errors.Is(err, game.ErrInvalidTransition):
		return "❌ 当前无法进行该操作"
	case errors.Is(err, game.ErrUnknownGame):
		return "❌ 未知游戏"
	case errors.Is(err, game.ErrUnknownAction):
		return "❌ 无效操作"
	case errors.Is(err, service.ErrInvalidAmount):
		return "❌ 金额必须大于 0"
	case errors.Is(err, service.ErrSelfTransfer):
		return "❌ 不能给自己转账"
	case errors.Is(err, ledger.ErrNegativeBalance):
		return "❌ 余额不能为负数"
	default:
		return "❌ 操作失败，请稍后重试"
	}
}

// signed formats n with an explicit plus sign when positive.
func signed(n int64) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}

// formatDuration renders a wait in hours and minutes.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d秒", int(d.Seconds()+0.5))
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours == 0 {
		return fmt.Sprintf("%d分钟", minutes)
	}
	return fmt.Sprintf("%d小时%d分钟", hours, minutes)
}

var medals = []string{"🥇", "🥈", "🥉"}

func rankLabel(i int) string {
	if i < len(medals) {
		return medals[i]
	}
	return fmt.Sprintf("%d.", i+1)
}

// nameOr returns the @-prefixed display name of player, falling back to
// the player ID.
func nameOr(names map[string]string, player string) string {
	if name := names[player]; name != "" {
		return "@" + name
	}
	return "User" + player
}
