// Package game defines the contract every wager game implements and the
// registry the engine looks games up in. Machines are pure: they receive a
// session copy and return the next state, never touching balances or timers.
package game

import (
	"encoding/json"
	"errors"
	"time"

	"wagerbot/internal/session"
)

// Game errors.
var (
	// ErrInvalidTransition is returned for an action the current state does not accept.
	ErrInvalidTransition = errors.New("action not allowed in current state")
	// ErrInvalidStake is returned when a stake is outside the game's limits.
	ErrInvalidStake = errors.New("invalid stake")
	// ErrUnknownGame is returned for an unregistered game type.
	ErrUnknownGame = errors.New("unknown game")
	// ErrUnknownAction is returned for an action name the game does not define.
	ErrUnknownAction = errors.New("unknown action")
)

// TimeoutRule declares what happens to escrowed stakes when a deadline passes.
type TimeoutRule string

const (
	// TimeoutRefund returns every stake.
	TimeoutRefund TimeoutRule = "refund"
	// TimeoutForfeit keeps every stake.
	TimeoutForfeit TimeoutRule = "forfeit"
	// TimeoutSettle plays the game out, as for a betting window closing.
	TimeoutSettle TimeoutRule = "settle"
)

// Policy is the per-game behaviour the engine needs to know up front.
type Policy struct {
	// Pooled games hold one session per community instead of per player.
	Pooled bool
	// Persist games are written through to disk and recovered on restart.
	Persist bool
	// Deadline is how long a session may wait; zero means no deadline.
	Deadline time.Duration
	// ExtendOnAction re-arms the deadline after each accepted action.
	ExtendOnAction bool
	// TickInterval drives Tick; zero means the game never ticks.
	TickInterval time.Duration
	// OnTimeout documents what Timeout does with stakes.
	OnTimeout TimeoutRule
	// MinStake for starting a session. Zero lets pooled games open without one.
	MinStake int64
}

// Result values reported in an Outcome.
const (
	ResultWin     = "win"
	ResultLoss    = "loss"
	ResultPush    = "push"
	ResultRefund  = "refund"
	ResultTimeout = "timeout"
	ResultSettled = "settled"
)

// Payout kinds.
const (
	PayoutWin    = "payout"
	PayoutRefund = "refund"
)

// Payout is a gross credit to one player. A player with stakes and no
// payout has forfeited them.
type Payout struct {
	Player string
	Amount int64
	Kind   string
}

// Outcome ends a session.
type Outcome struct {
	Result  string
	Payouts []Payout
	Summary string
	Details map[string]any
}

// Transition is the result of feeding an event to a machine. A non-nil
// Outcome means the session is over.
type Transition struct {
	State   session.State
	Outcome *Outcome
}

// Terminal reports whether the transition ends the session.
func (t Transition) Terminal() bool {
	return t.Outcome != nil
}

// Action is a player move.
type Action struct {
	Player string
	Name   string
	// Stake is escrowed by the engine before the machine sees the action.
	Stake  int64
	Params map[string]any
}

// Machine is one game's state machine.
type Machine interface {
	// Type is the registry key, also stored with persisted sessions.
	Type() string
	// Name is the display name.
	Name() string
	Description() string
	Policy() Policy
	ValidateStake(stake int64) error

	// Start produces the initial state; it may already be terminal.
	Start(s session.Session, params map[string]any, now time.Time) (Transition, error)
	// Apply handles a player action.
	Apply(s session.Session, act Action, now time.Time) (Transition, error)
	// Tick advances a continuous game.
	Tick(s session.Session, now time.Time) (Transition, error)
	// Timeout ends the session when its deadline passes. Must be terminal.
	Timeout(s session.Session, now time.Time) Transition

	DecodeState(raw json.RawMessage) (session.State, error)
	// Describe returns the player-visible view of the state.
	Describe(s session.Session) map[string]any
}

// RefundAll returns every escrowed stake.
func RefundAll(s session.Session, result, summary string) *Outcome {
	out := &Outcome{Result: result, Summary: summary}
	for _, e := range s.Stakes() {
		out.Payouts = append(out.Payouts, Payout{Player: e.Player, Amount: e.Stake, Kind: PayoutRefund})
	}
	return out
}

// ForfeitAll keeps every escrowed stake.
func ForfeitAll(result, summary string) *Outcome {
	return &Outcome{Result: result, Summary: summary}
}

// ParamString reads a string parameter.
func ParamString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// ParamInt reads an integer parameter that may have passed through JSON.
func ParamInt(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
