// Package crash implements a rising-multiplier game: the player cashes out
// before the hidden crash point or loses the stake. Multipliers are kept in
// hundredths so payouts are exact integer math.
package crash

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"wagerbot/internal/game"
	"wagerbot/internal/session"
)

const (
	// DefaultMinBet is the smallest accepted stake.
	DefaultMinBet = 5
	// DefaultMaxBet is the largest accepted stake.
	DefaultMaxBet = 1000
	// DefaultTickInterval is the multiplier update interval.
	DefaultTickInterval = 500 * time.Millisecond
	// DefaultMaxMultiplier caps the crash point.
	DefaultMaxMultiplier = 50.0
	// DefaultMaxDuration bounds a round; reaching it forfeits the stake.
	DefaultMaxDuration = 90 * time.Second

	// Base is the multiplier 1.00x in hundredths.
	Base int64 = 100
	// MinCrashPoint is the lowest crash point, 1.01x.
	MinCrashPoint int64 = 101
)

// Stages.
const (
	StageRunning   = "running"
	StageCashedOut = "cashed_out"
	StageCrashed   = "crashed"
)

// ActionCashOut ends the round at the current multiplier.
const ActionCashOut = "cashout"

// State is a running round.
type State struct {
	Stage      string `json:"stage"`
	Multiplier int64  `json:"multiplier"`
	CrashAt    int64  `json:"crash_at"`
	Ticks      int    `json:"ticks"`
}

// Phase implements session.State.
func (s State) Phase() string { return s.Stage }

// Config holds configuration for the crash game.
type Config struct {
	MinBet        int64
	MaxBet        int64
	TickInterval  time.Duration
	MaxMultiplier float64
	MaxDuration   time.Duration
}

// Option customizes a Game.
type Option func(*Game)

// WithRand sets the random source, mainly for tests.
func WithRand(rng *rand.Rand) Option {
	return func(g *Game) { g.rng = rng }
}

// WithCrashPoint fixes how crash points are drawn, in hundredths.
func WithCrashPoint(fn func() int64) Option {
	return func(g *Game) { g.crashPoint = fn }
}

// Game implements game.Machine for crash.
type Game struct {
	minBet       int64
	maxBet       int64
	tickInterval time.Duration
	maxCrash     int64
	maxDuration  time.Duration

	mu         sync.Mutex
	rng        *rand.Rand
	crashPoint func() int64
}

// New creates a crash game with the given configuration.
func New(cfg *Config, opts ...Option) *Game {
	g := &Game{
		minBet:       DefaultMinBet,
		maxBet:       DefaultMaxBet,
		tickInterval: DefaultTickInterval,
		maxCrash:     int64(DefaultMaxMultiplier * 100),
		maxDuration:  DefaultMaxDuration,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg != nil {
		if cfg.MinBet > 0 {
			g.minBet = cfg.MinBet
		}
		if cfg.MaxBet > 0 {
			g.maxBet = cfg.MaxBet
		}
		if cfg.TickInterval > 0 {
			g.tickInterval = cfg.TickInterval
		}
		if cfg.MaxMultiplier > 1 {
			g.maxCrash = int64(cfg.MaxMultiplier * 100)
		}
		if cfg.MaxDuration > 0 {
			g.maxDuration = cfg.MaxDuration
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CrashPoint maps a uniform u in [0,1) to a crash point in hundredths:
// max(1.01, 0.99/(1-u)), capped at maxPoint.
func CrashPoint(u float64, maxPoint int64) int64 {
	if u >= 1 {
		return maxPoint
	}
	raw := 0.99 / (1 - u)
	point := int64(math.Floor(raw * 100))
	if point < MinCrashPoint {
		point = MinCrashPoint
	}
	if point > maxPoint {
		point = maxPoint
	}
	return point
}

// Payout is the gross credit for cashing out stake at multiplier (hundredths).
func Payout(stake, multiplier int64) int64 {
	return stake * multiplier / Base
}

// FormatMultiplier renders hundredths as "1.23x".
func FormatMultiplier(m int64) string {
	return fmt.Sprintf("%d.%02dx", m/Base, m%Base)
}

// Type returns the registry key.
func (g *Game) Type() string { return "crash" }

// Name returns the display name.
func (g *Game) Name() string { return "Crash" }

// Description returns a brief description of the game.
func (g *Game) Description() string {
	return "The multiplier climbs until it crashes. Cash out before it does."
}

// Policy declares that an expired round forfeits, and that rounds are not
// recovered after a restart.
func (g *Game) Policy() game.Policy {
	return game.Policy{
		Deadline:     g.maxDuration,
		TickInterval: g.tickInterval,
		OnTimeout:    game.TimeoutForfeit,
		MinStake:     g.minBet,
	}
}

// ValidateStake checks the stake against the table limits.
func (g *Game) ValidateStake(stake int64) error {
	if stake < g.minBet || stake > g.maxBet {
		return fmt.Errorf("%w: bet must be between %d and %d", game.ErrInvalidStake, g.minBet, g.maxBet)
	}
	return nil
}

func (g *Game) drawCrashPoint() int64 {
	if g.crashPoint != nil {
		return g.crashPoint()
	}
	g.mu.Lock()
	u := g.rng.Float64()
	g.mu.Unlock()
	return CrashPoint(u, g.maxCrash)
}

// increment returns the growth for one tick: 2-8% of the multiplier, at
// least 0.01x.
func (g *Game) increment(m int64) int64 {
	g.mu.Lock()
	pct := int64(2 + g.rng.Intn(7))
	g.mu.Unlock()
	inc := m * pct / 100
	if inc < 1 {
		inc = 1
	}
	return inc
}

// Start opens a round at 1.00x with a hidden crash point.
func (g *Game) Start(_ session.Session, _ map[string]any, _ time.Time) (game.Transition, error) {
	return game.Transition{State: State{
		Stage:      StageRunning,
		Multiplier: Base,
		CrashAt:    g.drawCrashPoint(),
	}}, nil
}

// Apply handles cash-out.
func (g *Game) Apply(s session.Session, act game.Action, _ time.Time) (game.Transition, error) {
	st, ok := s.State.(State)
	if !ok || st.Stage != StageRunning {
		return game.Transition{}, game.ErrInvalidTransition
	}
	if act.Name != ActionCashOut {
		return game.Transition{}, fmt.Errorf("%w: %q", game.ErrUnknownAction, act.Name)
	}

	st.Stage = StageCashedOut
	amount := Payout(s.Stake, st.Multiplier)
	out := &game.Outcome{
		Result:  game.ResultWin,
		Summary: fmt.Sprintf("Cashed out at %s for %d coins.", FormatMultiplier(st.Multiplier), amount),
		Payouts: []game.Payout{{Player: s.Owner, Amount: amount, Kind: game.PayoutWin}},
		Details: details(st),
	}
	if amount == s.Stake {
		out.Result = game.ResultPush
		out.Payouts[0].Kind = game.PayoutRefund
	}
	return game.Transition{State: st, Outcome: out}, nil
}

// Tick raises the multiplier and crashes the round once it reaches the
// crash point.
func (g *Game) Tick(s session.Session, _ time.Time) (game.Transition, error) {
	st, ok := s.State.(State)
	if !ok || st.Stage != StageRunning {
		return game.Transition{}, game.ErrInvalidTransition
	}
	st.Ticks++
	st.Multiplier += g.increment(st.Multiplier)
	if st.Multiplier < st.CrashAt {
		return game.Transition{State: st}, nil
	}

	st.Multiplier = st.CrashAt
	st.Stage = StageCrashed
	return game.Transition{State: st, Outcome: &game.Outcome{
		Result:  game.ResultLoss,
		Summary: fmt.Sprintf("Crashed at %s. You lose.", FormatMultiplier(st.CrashAt)),
		Details: details(st),
	}}, nil
}

// Timeout forfeits a round that ran past its maximum duration.
func (g *Game) Timeout(s session.Session, _ time.Time) game.Transition {
	st, _ := s.State.(State)
	st.Stage = StageCrashed
	out := game.ForfeitAll(game.ResultTimeout, "Round expired before cash-out. You lose.")
	out.Details = details(st)
	return game.Transition{State: st, Outcome: out}
}

// DecodeState decodes a State.
func (g *Game) DecodeState(raw json.RawMessage) (session.State, error) {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode crash state: %w", err)
	}
	return st, nil
}

// Describe shows the current multiplier. The crash point is revealed only
// after the round ends.
func (g *Game) Describe(s session.Session) map[string]any {
	st, ok := s.State.(State)
	if !ok {
		return map[string]any{"stage": s.Phase()}
	}
	view := map[string]any{
		"stage":      st.Stage,
		"multiplier": FormatMultiplier(st.Multiplier),
		"value":      Payout(s.Stake, st.Multiplier),
	}
	if st.Stage != StageRunning {
		view["crash_at"] = FormatMultiplier(st.CrashAt)
	}
	return view
}

func details(st State) map[string]any {
	return map[string]any{
		"multiplier": FormatMultiplier(st.Multiplier),
		"crash_at":   FormatMultiplier(st.CrashAt),
		"ticks":      st.Ticks,
	}
}
