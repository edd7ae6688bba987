// Package blackjack implements single-player blackjack against a dealer
// who draws to 17. Sessions are persisted so a hand survives a restart.
package blackjack

import (
	"encoding/json"
	"fmt"
	"time"

	"wagerbot/internal/game"
	"wagerbot/internal/session"
)

const (
	// DefaultMinBet is the smallest accepted stake.
	DefaultMinBet = 10
	// DefaultMaxBet is the largest accepted stake.
	DefaultMaxBet = 5000
	// DefaultTurnTimeout is how long the player has for each decision.
	DefaultTurnTimeout = 60 * time.Second

	// DealerStand is the total at which the dealer stops drawing.
	DealerStand = 17
)

// Stages.
const (
	StagePlayerTurn = "player_turn"
	StageDealerTurn = "dealer_turn"
	StageFinished   = "finished"
)

// Actions.
const (
	ActionHit   = "hit"
	ActionStand = "stand"
)

// State is a blackjack hand in progress.
type State struct {
	Stage  string `json:"stage"`
	Player []Card `json:"player"`
	Dealer []Card `json:"dealer"`
	Shoe   []Card `json:"shoe"`
}

// Phase implements session.State.
func (s State) Phase() string { return s.Stage }

// Config holds configuration for the blackjack game.
type Config struct {
	MinBet      int64
	MaxBet      int64
	TurnTimeout time.Duration
}

// Option customizes a Game.
type Option func(*Game)

// WithShoe replaces the card source, mainly for tests. Cards are dealt from
// the front: player, dealer, player, dealer, then draws.
func WithShoe(shoe func() []Card) Option {
	return func(g *Game) { g.shoe = shoe }
}

// Game implements game.Machine for blackjack.
type Game struct {
	minBet      int64
	maxBet      int64
	turnTimeout time.Duration
	shoe        func() []Card
}

// New creates a blackjack game with the given configuration.
func New(cfg *Config, opts ...Option) *Game {
	g := &Game{
		minBet:      DefaultMinBet,
		maxBet:      DefaultMaxBet,
		turnTimeout: DefaultTurnTimeout,
		shoe:        ShuffledDeck,
	}
	if cfg != nil {
		if cfg.MinBet > 0 {
			g.minBet = cfg.MinBet
		}
		if cfg.MaxBet > 0 {
			g.maxBet = cfg.MaxBet
		}
		if cfg.TurnTimeout > 0 {
			g.turnTimeout = cfg.TurnTimeout
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Type returns the registry key.
func (g *Game) Type() string { return "blackjack" }

// Name returns the display name.
func (g *Game) Name() string { return "Blackjack" }

// Description returns a brief description of the game.
func (g *Game) Description() string {
	return "Beat the dealer without going over 21. Blackjack pays 3:2, dealer stands on 17."
}

// Policy declares that an unanswered turn refunds the stake.
func (g *Game) Policy() game.Policy {
	return game.Policy{
		Persist:        true,
		Deadline:       g.turnTimeout,
		ExtendOnAction: true,
		OnTimeout:      game.TimeoutRefund,
		MinStake:       g.minBet,
	}
}

// ValidateStake checks the stake against the table limits.
func (g *Game) ValidateStake(stake int64) error {
	if stake < g.minBet || stake > g.maxBet {
		return fmt.Errorf("%w: bet must be between %d and %d", game.ErrInvalidStake, g.minBet, g.maxBet)
	}
	return nil
}

// Start deals the opening hands. Naturals settle immediately; the dealer
// peeks, so a dealer blackjack beats any non-natural hand before the player
// acts.
func (g *Game) Start(s session.Session, _ map[string]any, _ time.Time) (game.Transition, error) {
	shoe := g.shoe()
	st := State{Stage: StagePlayerTurn, Shoe: shoe}
	var c Card
	for i := 0; i < 2; i++ {
		c, st.Shoe = draw(st.Shoe)
		st.Player = append(st.Player, c)
		c, st.Shoe = draw(st.Shoe)
		st.Dealer = append(st.Dealer, c)
	}

	playerNatural, dealerNatural := IsNatural(st.Player), IsNatural(st.Dealer)
	if !playerNatural && !dealerNatural {
		return game.Transition{State: st}, nil
	}
	st.Stage = StageFinished

	out := &game.Outcome{Details: handDetails(st)}
	switch {
	case playerNatural && dealerNatural:
		out.Result = game.ResultPush
		out.Summary = "Both have blackjack. Push, your bet is returned."
		out.Payouts = []game.Payout{{Player: s.Owner, Amount: s.Stake, Kind: game.PayoutRefund}}
	case playerNatural:
		win := s.Stake * 5 / 2
		out.Result = game.ResultWin
		out.Summary = fmt.Sprintf("Blackjack! You won %d coins.", win)
		out.Payouts = []game.Payout{{Player: s.Owner, Amount: win, Kind: game.PayoutWin}}
	default:
		out.Result = game.ResultLoss
		out.Summary = "Dealer has blackjack. You lose."
	}
	out.Details["natural"] = true
	return game.Transition{State: st, Outcome: out}, nil
}

// Apply handles hit and stand.
func (g *Game) Apply(s session.Session, act game.Action, _ time.Time) (game.Transition, error) {
	st, ok := s.State.(State)
	if !ok || st.Stage != StagePlayerTurn {
		return game.Transition{}, game.ErrInvalidTransition
	}

	switch act.Name {
	case ActionHit:
		var c Card
		shoe := st.Shoe
		c, shoe = draw(shoe)
		next := State{
			Stage:  StagePlayerTurn,
			Player: appendCard(st.Player, c),
			Dealer: st.Dealer,
			Shoe:   shoe,
		}
		total, _ := HandValue(next.Player)
		switch {
		case total > 21:
			next.Stage = StageFinished
			return game.Transition{State: next, Outcome: &game.Outcome{
				Result:  game.ResultLoss,
				Summary: fmt.Sprintf("Bust with %d. You lose.", total),
				Details: handDetails(next),
			}}, nil
		case total == 21:
			return g.dealerPlay(s, next), nil
		}
		return game.Transition{State: next}, nil
	case ActionStand:
		return g.dealerPlay(s, st), nil
	default:
		return game.Transition{}, fmt.Errorf("%w: %q", game.ErrUnknownAction, act.Name)
	}
}

// dealerPlay runs the dealer turn to completion and settles the hand.
func (g *Game) dealerPlay(s session.Session, st State) game.Transition {
	next := State{Stage: StageDealerTurn, Player: st.Player, Dealer: st.Dealer, Shoe: st.Shoe}
	for {
		total, _ := HandValue(next.Dealer)
		if total >= DealerStand {
			break
		}
		var c Card
		c, next.Shoe = draw(next.Shoe)
		next.Dealer = appendCard(next.Dealer, c)
	}
	next.Stage = StageFinished

	player, _ := HandValue(next.Player)
	dealer, _ := HandValue(next.Dealer)
	out := &game.Outcome{Details: handDetails(next)}
	switch {
	case dealer > 21 || player > dealer:
		out.Result = game.ResultWin
		out.Summary = fmt.Sprintf("%d against %d. You won %d coins.", player, dealer, s.Stake*2)
		out.Payouts = []game.Payout{{Player: s.Owner, Amount: s.Stake * 2, Kind: game.PayoutWin}}
	case player == dealer:
		out.Result = game.ResultPush
		out.Summary = fmt.Sprintf("Both %d. Push, your bet is returned.", player)
		out.Payouts = []game.Payout{{Player: s.Owner, Amount: s.Stake, Kind: game.PayoutRefund}}
	default:
		out.Result = game.ResultLoss
		out.Summary = fmt.Sprintf("%d against %d. You lose.", player, dealer)
	}
	return game.Transition{State: next, Outcome: out}
}

// Tick is unused; blackjack only moves on player actions.
func (g *Game) Tick(s session.Session, _ time.Time) (game.Transition, error) {
	return game.Transition{State: s.State}, nil
}

// Timeout refunds the stake of an abandoned hand.
func (g *Game) Timeout(s session.Session, _ time.Time) game.Transition {
	out := game.RefundAll(s, game.ResultTimeout, "Turn timed out, your bet is returned.")
	if st, ok := s.State.(State); ok {
		out.Details = handDetails(st)
		st.Stage = StageFinished
		return game.Transition{State: st, Outcome: out}
	}
	return game.Transition{State: s.State, Outcome: out}
}

// DecodeState decodes a persisted State.
func (g *Game) DecodeState(raw json.RawMessage) (session.State, error) {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode blackjack state: %w", err)
	}
	return st, nil
}

// Describe shows the player's hand and the dealer's up card. The hole card
// stays hidden until the hand is over.
func (g *Game) Describe(s session.Session) map[string]any {
	st, ok := s.State.(State)
	if !ok {
		return map[string]any{"stage": s.Phase()}
	}
	total, soft := HandValue(st.Player)
	view := map[string]any{
		"stage":        st.Stage,
		"player":       FormatHand(st.Player),
		"player_total": total,
		"soft":         soft,
	}
	if st.Stage == StagePlayerTurn && len(st.Dealer) > 0 {
		view["dealer"] = st.Dealer[0].String() + " ??"
		view["dealer_total"] = st.Dealer[0].Points()
		if st.Dealer[0].Rank == Ace {
			view["dealer_total"] = 11
		}
	} else {
		dealer, _ := HandValue(st.Dealer)
		view["dealer"] = FormatHand(st.Dealer)
		view["dealer_total"] = dealer
	}
	return view
}

func handDetails(st State) map[string]any {
	player, _ := HandValue(st.Player)
	dealer, _ := HandValue(st.Dealer)
	return map[string]any{
		"player":       FormatHand(st.Player),
		"player_total": player,
		"dealer":       FormatHand(st.Dealer),
		"dealer_total": dealer,
	}
}

// draw takes the top card, opening a fresh deck when the shoe runs out.
func draw(shoe []Card) (Card, []Card) {
	if len(shoe) == 0 {
		shoe = ShuffledDeck()
	}
	return shoe[0], shoe[1:]
}

func appendCard(cards []Card, c Card) []Card {
	out := make([]Card, len(cards), len(cards)+1)
	copy(out, cards)
	return append(out, c)
}
