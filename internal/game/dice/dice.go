// Package dice implements the two-dice game. A round starts and settles in
// one step, so it never needs timers or persistence.
package dice

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"wagerbot/internal/game"
	"wagerbot/internal/session"
)

const (
	// DefaultMaxBet is the maximum allowed bet for dice game
	DefaultMaxBet = 1000

	// DefaultCooldown is the cooldown between dice games
	DefaultCooldown = 3 * time.Second
)

// Errors for dice game
var (
	ErrInvalidDice = errors.New("dice values must be between 1 and 6")
)

// StageRolled is the only stage of a dice round.
const StageRolled = "rolled"

// State is a finished roll.
type State struct {
	Dice1 int `json:"dice1"`
	Dice2 int `json:"dice2"`
}

// Phase implements session.State.
func (s State) Phase() string { return StageRolled }

// Total returns the sum of both dice.
func (s State) Total() int { return s.Dice1 + s.Dice2 }

// Config holds configuration for the dice game.
type Config struct {
	MaxBet   int64
	Cooldown time.Duration
}

// DiceGame implements game.Machine for dice gambling.
type DiceGame struct {
	maxBet   int64
	cooldown time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a new DiceGame with the given configuration.
func New(cfg *Config) *DiceGame {
	d := &DiceGame{
		maxBet:   DefaultMaxBet,
		cooldown: DefaultCooldown,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg != nil {
		if cfg.MaxBet > 0 {
			d.maxBet = cfg.MaxBet
		}
		if cfg.Cooldown > 0 {
			d.cooldown = cfg.Cooldown
		}
	}
	return d
}

// Type returns the registry key.
func (d *DiceGame) Type() string { return "dice" }

// Name returns the game's display name.
func (d *DiceGame) Name() string {
	return "Dice Game"
}

// Description returns a brief description of the game.
func (d *DiceGame) Description() string {
	return "Roll two dice and win based on the total: 2-6 lose, 7 push, 8-11 win, 12 jackpot!"
}

// MaxBet returns the maximum allowed bet.
func (d *DiceGame) MaxBet() int64 {
	return d.maxBet
}

// Cooldown returns the minimum time between two rounds of one player.
func (d *DiceGame) Cooldown() time.Duration {
	return d.cooldown
}

// Policy declares an instant game with no timers.
func (d *DiceGame) Policy() game.Policy {
	return game.Policy{OnTimeout: game.TimeoutRefund, MinStake: 1}
}

// ValidateStake checks the bet amount.
func (d *DiceGame) ValidateStake(bet int64) error {
	if bet <= 0 {
		return fmt.Errorf("%w: bet amount must be positive", game.ErrInvalidStake)
	}
	if bet > d.maxBet {
		return fmt.Errorf("%w: max bet is %d", game.ErrInvalidStake, d.maxBet)
	}
	return nil
}

// Start rolls the dice and settles. Params dice1 and dice2 supply a roll
// made elsewhere, such as Telegram's animated dice.
func (d *DiceGame) Start(s session.Session, params map[string]any, _ time.Time) (game.Transition, error) {
	st, err := d.roll(params)
	if err != nil {
		return game.Transition{}, err
	}

	net := CalculatePayout(st.Dice1, st.Dice2, s.Stake)
	total := st.Total()
	out := &game.Outcome{
		Details: map[string]any{
			"dice1": st.Dice1,
			"dice2": st.Dice2,
			"total": total,
			"bet":   s.Stake,
			"net":   net,
		},
	}

	switch {
	case net > s.Stake:
		out.Result = game.ResultWin
		out.Summary = fmt.Sprintf("🎲🎲 Dice: %d + %d = %d\n🎊 JACKPOT! You won %d coins!", st.Dice1, st.Dice2, total, net)
	case net > 0:
		out.Result = game.ResultWin
		out.Summary = fmt.Sprintf("🎲🎲 Dice: %d + %d = %d\n🎉 You won %d coins!", st.Dice1, st.Dice2, total, net)
	case net == 0:
		out.Result = game.ResultPush
		out.Summary = fmt.Sprintf("🎲🎲 Dice: %d + %d = %d\n😐 Push! Your bet is returned.", st.Dice1, st.Dice2, total)
	default:
		out.Result = game.ResultLoss
		out.Summary = fmt.Sprintf("🎲🎲 Dice: %d + %d = %d\n😢 You lost %d coins.", st.Dice1, st.Dice2, total, -net)
	}

	if net >= 0 {
		kind := game.PayoutWin
		if net == 0 {
			kind = game.PayoutRefund
		}
		out.Payouts = []game.Payout{{Player: s.Owner, Amount: s.Stake + net, Kind: kind}}
	}
	return game.Transition{State: st, Outcome: out}, nil
}

// Apply rejects every action; a round is over once it starts.
func (d *DiceGame) Apply(session.Session, game.Action, time.Time) (game.Transition, error) {
	return game.Transition{}, game.ErrInvalidTransition
}

// Tick is unused.
func (d *DiceGame) Tick(s session.Session, _ time.Time) (game.Transition, error) {
	return game.Transition{State: s.State}, nil
}

// Timeout refunds. It only runs if a round was somehow left open.
func (d *DiceGame) Timeout(s session.Session, _ time.Time) game.Transition {
	return game.Transition{State: s.State, Outcome: game.RefundAll(s, game.ResultRefund, "Round abandoned, your bet is returned.")}
}

// DecodeState decodes a State.
func (d *DiceGame) DecodeState(raw json.RawMessage) (session.State, error) {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode dice state: %w", err)
	}
	return st, nil
}

// Describe shows the roll.
func (d *DiceGame) Describe(s session.Session) map[string]any {
	st, ok := s.State.(State)
	if !ok {
		return map[string]any{"stage": s.Phase()}
	}
	return map[string]any{"dice1": st.Dice1, "dice2": st.Dice2, "total": st.Total()}
}

// CalculatePayout calculates the net result for a dice game.
// Rules:
//   - total ∈ [2,6]: payout = -bet (lose)
//   - total = 7: payout = 0 (push)
//   - total ∈ [8,11]: payout = bet (win)
//   - total = 12: payout = 2*bet (jackpot)
func CalculatePayout(dice1, dice2 int, bet int64) int64 {
	total := dice1 + dice2

	switch {
	case total <= 6:
		return -bet
	case total == 7:
		return 0
	case total <= 11:
		return bet
	default: // total == 12
		return bet * 2
	}
}

// roll reads dice from params, or rolls both when neither is given.
func (d *DiceGame) roll(params map[string]any) (State, error) {
	dice1, ok1 := game.ParamInt(params, "dice1")
	dice2, ok2 := game.ParamInt(params, "dice2")
	if !ok1 && !ok2 {
		d.mu.Lock()
		defer d.mu.Unlock()
		return State{Dice1: d.rng.Intn(6) + 1, Dice2: d.rng.Intn(6) + 1}, nil
	}
	if !ok1 || !ok2 || dice1 < 1 || dice1 > 6 || dice2 < 1 || dice2 > 6 {
		return State{}, ErrInvalidDice
	}
	return State{Dice1: dice1, Dice2: dice2}, nil
}
