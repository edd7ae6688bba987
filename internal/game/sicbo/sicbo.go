// Package sicbo implements Sic Bo (骰宝) as a pooled community game: anyone
// in the chat places fixed-amount bets during the betting window, then three
// dice settle every bet at once.
package sicbo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"wagerbot/internal/game"
	"wagerbot/internal/session"
)

const (
	// DefaultBettingDuration is the default betting window.
	DefaultBettingDuration = 60 * time.Second
	// DefaultBetAmount is the fixed amount of one bet click.
	DefaultBetAmount int64 = 100
)

// Stages.
const (
	StageBetting = "betting"
	StageSettled = "settled"
)

// Actions.
const (
	ActionBet    = "bet"
	ActionSettle = "settle"
)

// Errors for SicBo game
var (
	ErrBettingEnded     = errors.New("betting phase has ended")
	ErrInvalidBetType   = errors.New("invalid bet type")
	ErrInvalidBetNumber = errors.New("bet number must be between 1 and 6")
	ErrNoBets           = errors.New("no bets placed yet")
)

// Bet is the accumulated amount one player has on one option.
type Bet struct {
	Player string `json:"player"`
	Option string `json:"option"`
	Amount int64  `json:"amount"`
}

// State is an open or settled betting round.
type State struct {
	Stage    string    `json:"stage"`
	ClosesAt time.Time `json:"closes_at"`
	Bets     []Bet     `json:"bets"`
	Dice     [3]int    `json:"dice"`
}

// Phase implements session.State.
func (s State) Phase() string { return s.Stage }

// PlayerBets returns one player's totals per option key.
func (s State) PlayerBets(player string) map[string]int64 {
	out := make(map[string]int64)
	for _, b := range s.Bets {
		if b.Player == player {
			out[b.Option] += b.Amount
		}
	}
	return out
}

// Stats returns the number of players, the total staked and the number of
// distinct bets.
func (s State) Stats() (players int, total int64, bets int) {
	seen := make(map[string]bool)
	for _, b := range s.Bets {
		if !seen[b.Player] {
			seen[b.Player] = true
			players++
		}
		total += b.Amount
	}
	return players, total, len(s.Bets)
}

// Config holds configuration for the sic bo game.
type Config struct {
	BettingDuration time.Duration
	BetAmount       int64
}

// Option customizes a Game.
type Option func(*Game)

// WithDice fixes how dice are rolled, mainly for tests.
func WithDice(roll func() [3]int) Option {
	return func(g *Game) { g.roll = roll }
}

// Game implements game.Machine for Sic Bo.
type Game struct {
	duration  time.Duration
	betAmount int64

	mu   sync.Mutex
	rng  *rand.Rand
	roll func() [3]int
}

// New creates a sic bo game with the given configuration.
func New(cfg *Config, opts ...Option) *Game {
	g := &Game{
		duration:  DefaultBettingDuration,
		betAmount: DefaultBetAmount,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg != nil {
		if cfg.BettingDuration > 0 {
			g.duration = cfg.BettingDuration
		}
		if cfg.BetAmount > 0 {
			g.betAmount = cfg.BetAmount
		}
	}
	g.roll = g.rollDice
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Type returns the registry key.
func (g *Game) Type() string { return "sicbo" }

// Name returns the display name.
func (g *Game) Name() string { return "Sic Bo" }

// Description returns a brief description of the game.
func (g *Game) Description() string {
	return fmt.Sprintf("Multiplayer dice game! Bet on numbers (1-6), big, or small. Fixed %d coins per bet.", g.betAmount)
}

// BetAmount returns the fixed amount of one bet.
func (g *Game) BetAmount() int64 { return g.betAmount }

// Policy declares a community-wide round that settles when the window closes.
func (g *Game) Policy() game.Policy {
	return game.Policy{
		Pooled:    true,
		Deadline:  g.duration,
		OnTimeout: game.TimeoutSettle,
	}
}

// ValidateStake accepts only the fixed bet amount.
func (g *Game) ValidateStake(stake int64) error {
	if stake != g.betAmount {
		return fmt.Errorf("%w: each bet is %d", game.ErrInvalidStake, g.betAmount)
	}
	return nil
}

// Start opens the betting window.
func (g *Game) Start(_ session.Session, _ map[string]any, now time.Time) (game.Transition, error) {
	return game.Transition{State: State{Stage: StageBetting, ClosesAt: now.Add(g.duration)}}, nil
}

// Apply handles bet and settle.
func (g *Game) Apply(s session.Session, act game.Action, now time.Time) (game.Transition, error) {
	st, ok := s.State.(State)
	if !ok || st.Stage != StageBetting {
		return game.Transition{}, game.ErrInvalidTransition
	}

	switch act.Name {
	case ActionBet:
		if now.After(st.ClosesAt) {
			return game.Transition{}, fmt.Errorf("%w: %w", game.ErrInvalidTransition, ErrBettingEnded)
		}
		if err := g.ValidateStake(act.Stake); err != nil {
			return game.Transition{}, err
		}
		betType, number, err := ParseOption(game.ParamString(act.Params, "option"))
		if err != nil {
			return game.Transition{}, err
		}
		return game.Transition{State: st.withBet(act.Player, OptionKey(betType, number), act.Stake)}, nil
	case ActionSettle:
		if len(st.Bets) == 0 {
			return game.Transition{}, fmt.Errorf("%w: %w", game.ErrInvalidTransition, ErrNoBets)
		}
		return g.settle(st, g.roll()), nil
	default:
		return game.Transition{}, fmt.Errorf("%w: %q", game.ErrUnknownAction, act.Name)
	}
}

// withBet returns a copy of st with amount added to the player's option.
func (st State) withBet(player, option string, amount int64) State {
	next := st
	next.Bets = make([]Bet, len(st.Bets), len(st.Bets)+1)
	copy(next.Bets, st.Bets)
	for i := range next.Bets {
		if next.Bets[i].Player == player && next.Bets[i].Option == option {
			next.Bets[i].Amount += amount
			return next
		}
	}
	next.Bets = append(next.Bets, Bet{Player: player, Option: option, Amount: amount})
	return next
}

// Tick is unused; the round ends on its deadline or a settle action.
func (g *Game) Tick(s session.Session, _ time.Time) (game.Transition, error) {
	return game.Transition{State: s.State}, nil
}

// Timeout closes the betting window and settles every bet.
func (g *Game) Timeout(s session.Session, _ time.Time) game.Transition {
	st, ok := s.State.(State)
	if !ok {
		return game.Transition{State: s.State, Outcome: game.RefundAll(s, game.ResultRefund, "Round could not be settled, bets are returned.")}
	}
	return g.settle(st, g.roll())
}

// Settle settles st with the given dice. Exposed for deterministic rolls.
func (g *Game) Settle(st State, dice [3]int) game.Transition {
	return g.settle(st, dice)
}

func (g *Game) settle(st State, dice [3]int) game.Transition {
	next := st
	next.Stage = StageSettled
	next.Dice = dice

	gross := make(map[string]int64)
	net := make(map[string]int64)
	var order []string
	for _, b := range st.Bets {
		betType, number, err := ParseOption(b.Option)
		if err != nil {
			continue
		}
		n := CalculatePayout(betType, number, dice, b.Amount)
		if _, seen := net[b.Player]; !seen {
			order = append(order, b.Player)
		}
		net[b.Player] += n
		gross[b.Player] += GrossPayout(b.Amount, n)
	}

	out := &game.Outcome{
		Result:  game.ResultSettled,
		Summary: fmt.Sprintf("Dice %d %d %d = %d", dice[0], dice[1], dice[2], Sum(dice)),
		Details: map[string]any{
			"dice":      dice,
			"total":     Sum(dice),
			"is_triple": IsTriple(dice),
			"net":       net,
		},
	}
	sort.Strings(order)
	for _, p := range order {
		if gross[p] > 0 {
			out.Payouts = append(out.Payouts, game.Payout{Player: p, Amount: gross[p], Kind: game.PayoutWin})
		}
	}
	return game.Transition{State: next, Outcome: out}
}

// DecodeState decodes a State.
func (g *Game) DecodeState(raw json.RawMessage) (session.State, error) {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode sicbo state: %w", err)
	}
	return st, nil
}

// Describe shows the window and pool size.
func (g *Game) Describe(s session.Session) map[string]any {
	st, ok := s.State.(State)
	if !ok {
		return map[string]any{"stage": s.Phase()}
	}
	players, total, bets := st.Stats()
	remaining := time.Until(st.ClosesAt)
	if remaining < 0 {
		remaining = 0
	}
	return map[string]any{
		"stage":     st.Stage,
		"players":   players,
		"total":     total,
		"bets":      bets,
		"remaining": int(remaining.Seconds()),
	}
}

// rollDice generates three random dice values.
func (g *Game) rollDice() [3]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return [3]int{
		g.rng.Intn(6) + 1,
		g.rng.Intn(6) + 1,
		g.rng.Intn(6) + 1,
	}
}
