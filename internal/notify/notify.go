// Package notify delivers session outcomes to players. Delivery is best
// effort: the ledger is already settled when an event is sent.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Target is an opaque transport handle, such as a chat to post into.
// A nil Target means nobody is listening.
type Target any

// Event kinds.
const (
	KindResolved  = "resolved"
	KindTimeout   = "timeout"
	// KindRecovered is a session settled while restoring after a restart.
	KindRecovered = "recovered"
)

// Payout is one player's settlement as reported to the transport.
type Payout struct {
	Player  string `json:"player_id"`
	Stake   int64  `json:"stake"`
	Amount  int64  `json:"amount"`
	Balance int64  `json:"balance"`
}

// Event describes a resolved session.
type Event struct {
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id"`
	GameType  string         `json:"game_type"`
	Community string         `json:"community_id"`
	Owner     string         `json:"owner"`
	Result    string         `json:"result"`
	Summary   string         `json:"summary,omitempty"`
	Payouts   []Payout       `json:"payouts"`
	Details   map[string]any `json:"details,omitempty"`
	At        time.Time      `json:"at"`
}

// Notifier sends events to a target.
type Notifier interface {
	Notify(ctx context.Context, target Target, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, target Target, ev Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, target Target, ev Event) error {
	return f(ctx, target, ev)
}

// Log writes events to the structured log. It is used when no transport
// is attached and as a companion to one.
type Log struct{}

// Notify logs ev.
func (Log) Notify(_ context.Context, _ Target, ev Event) error {
	log.Info().
		Str("session_id", ev.SessionID).
		Str("game", ev.GameType).
		Str("community", ev.Community).
		Str("kind", ev.Kind).
		Str("result", ev.Result).
		Int("payouts", len(ev.Payouts)).
		Msg("Session resolved")
	return nil
}

// Multi fans an event out to several notifiers and joins their errors.
type Multi []Notifier

// Notify delivers ev to every notifier.
func (m Multi) Notify(ctx context.Context, target Target, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, target, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
