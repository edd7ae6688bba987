package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagerbot/internal/game"
	"wagerbot/internal/game/blackjack"
	"wagerbot/internal/game/crash"
	"wagerbot/internal/game/dice"
	"wagerbot/internal/game/sicbo"
	"wagerbot/internal/ledger"
	"wagerbot/internal/model"
	"wagerbot/internal/notify"
	"wagerbot/internal/session"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, _ notify.Target, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

type harness struct {
	ledger   *ledger.Ledger
	sessions *session.Registry
	engine   *Engine
	notes    *recorder
}

func newHarness(t *testing.T, l *ledger.Ledger, sessionPath string, now func() time.Time, machines ...game.Machine) *harness {
	t.Helper()
	if l == nil {
		l = ledger.New(ledger.Options{})
	}
	games := game.NewRegistry()
	for _, m := range machines {
		require.NoError(t, games.Register(m))
	}
	sessions := session.NewRegistry(session.Options{Path: sessionPath})
	t.Cleanup(sessions.Scheduler().Stop)

	notes := &recorder{}
	return &harness{
		ledger:   l,
		sessions: sessions,
		engine:   New(l, sessions, games, Options{Notifier: notes, Now: now}),
		notes:    notes,
	}
}

func (h *harness) fund(t *testing.T, player string, amount int64) {
	t.Helper()
	_, err := h.ledger.SetBalance("c1", player, amount, ledger.Entry{})
	require.NoError(t, err)
}

// settlements returns a session's settlement entries, leaving out refunds
// of rejected actions.
func (h *harness) settlements(sessionID string) []model.Transaction {
	var out []model.Transaction
	for _, tx := range h.ledger.Transactions("c1", ledger.Filter{SessionID: sessionID, Kinds: model.SettlementKinds()}) {
		if tx.Reason != reasonActionRejected {
			out = append(out, tx)
		}
	}
	return out
}

func cards(ranks ...blackjack.Rank) blackjack.Option {
	return blackjack.WithShoe(func() []blackjack.Card {
		out := make([]blackjack.Card, len(ranks))
		for i, r := range ranks {
			out[i] = blackjack.Card{Rank: r, Suit: blackjack.Hearts}
		}
		return out
	})
}

// openHand deals 2+3 against 10+8, leaving the player to act.
var openHand = []blackjack.Rank{blackjack.Two, blackjack.Ten, blackjack.Three, blackjack.Eight, blackjack.Five}

func TestBlackjackNaturalScenario(t *testing.T) {
	h := newHarness(t, nil, "", nil,
		blackjack.New(nil, cards(blackjack.Ace, blackjack.Ten, blackjack.King, blackjack.Nine)))
	h.fund(t, "p1", 500)

	view, err := h.engine.Start(context.Background(), Command{
		Community: "c1", Player: "p1", GameType: "blackjack", Stake: 100, Target: "chat-1",
	})
	require.NoError(t, err)
	require.True(t, view.Resolved())

	assert.Equal(t, game.ResultWin, view.Resolution.Result)
	assert.Equal(t, []notify.Payout{{Player: "p1", Stake: 100, Amount: 250, Balance: 650}}, view.Resolution.Payouts)
	assert.Equal(t, int64(650), h.ledger.GetBalance("c1", "p1"))
	assert.Zero(t, h.sessions.Len())

	txs := h.ledger.SessionTransactions("c1", view.Session.ID)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TxKindPayout, txs[0].Kind)
	assert.Equal(t, int64(250), txs[0].AmountDelta)
	assert.Equal(t, model.TxKindEscrow, txs[1].Kind)
	assert.Equal(t, int64(400), txs[1].BalanceAfter)

	h.engine.Wait()
	events := h.notes.all()
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindResolved, events[0].Kind)
}

func TestConflictDoesNotTouchLedger(t *testing.T) {
	h := newHarness(t, nil, "", nil, blackjack.New(nil, cards(openHand...)), crash.New(nil))
	h.fund(t, "p1", 500)

	_, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 100})
	require.NoError(t, err)
	before := h.ledger.Transactions("c1", ledger.Filter{})

	_, err = h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "crash", Stake: 50})
	assert.ErrorIs(t, err, session.ErrSessionConflict)
	assert.Equal(t, int64(400), h.ledger.GetBalance("c1", "p1"))
	assert.Equal(t, before, h.ledger.Transactions("c1", ledger.Filter{}))
}

func TestInsufficientFundsReleasesKey(t *testing.T) {
	h := newHarness(t, nil, "", nil, blackjack.New(nil, cards(openHand...)))
	h.fund(t, "p1", 50)

	_, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 100})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Zero(t, h.sessions.Len())

	_, err = h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 50})
	assert.NoError(t, err)
}

func TestBusyKeyGivesUp(t *testing.T) {
	h := newHarness(t, nil, "", nil, blackjack.New(nil, cards(openHand...)))
	h.fund(t, "p1", 500)
	h.engine.lockWait = 20 * time.Millisecond

	key := session.Key{Community: "c1", Player: "p1"}
	h.engine.locks.Lock(key.String())
	_, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 100})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Zero(t, h.sessions.Len())
	assert.Equal(t, int64(500), h.ledger.GetBalance("c1", "p1"))
	h.engine.locks.Unlock(key.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.engine.Act(ctx, Action{Key: key, Player: "p1", Name: blackjack.ActionStand})
	assert.ErrorIs(t, err, context.Canceled)

	h.engine.lockWait = time.Second
	_, err = h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 100})
	assert.NoError(t, err)
}

func TestInvalidStakeRejectedBeforeCreate(t *testing.T) {
	h := newHarness(t, nil, "", nil, blackjack.New(nil))
	h.fund(t, "p1", 500)

	_, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 5})
	assert.ErrorIs(t, err, game.ErrInvalidStake)
	_, err = h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "poker", Stake: 5})
	assert.ErrorIs(t, err, game.ErrUnknownGame)
	assert.Zero(t, h.sessions.Len())
	assert.Equal(t, int64(500), h.ledger.GetBalance("c1", "p1"))
}

func TestStandSettlesAndRejectsStrangers(t *testing.T) {
	h := newHarness(t, nil, "", nil, blackjack.New(nil, cards(openHand...)))
	h.fund(t, "p1", 500)

	view, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 100})
	require.NoError(t, err)
	require.False(t, view.Resolved())
	assert.Equal(t, blackjack.StagePlayerTurn, view.Phase)
	assert.Equal(t, "2♥ 3♥", view.Display["player"])
	key := view.Session.Key

	_, err = h.engine.Act(context.Background(), Action{Key: key, Player: "p2", Name: blackjack.ActionStand})
	assert.ErrorIs(t, err, session.ErrNotOwner)

	view, err = h.engine.Act(context.Background(), Action{Key: key, Player: "p1", Name: blackjack.ActionStand})
	require.NoError(t, err)
	require.True(t, view.Resolved())
	assert.Equal(t, game.ResultLoss, view.Resolution.Result)
	assert.Equal(t, int64(400), h.ledger.GetBalance("c1", "p1"))

	loss := h.settlements(view.Session.ID)
	require.Len(t, loss, 1)
	assert.Equal(t, model.TxKindLoss, loss[0].Kind)
	assert.Zero(t, loss[0].AmountDelta)

	_, err = h.engine.Act(context.Background(), Action{Key: key, Player: "p1", Name: blackjack.ActionHit})
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestDoubleResolveSettlesOnce(t *testing.T) {
	h := newHarness(t, nil, "", nil, blackjack.New(nil, cards(openHand...)))
	h.fund(t, "p1", 500)

	view, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 100})
	require.NoError(t, err)
	s := view.Session

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.engine.onDeadline(s.Key, s.ID)
	}()
	go func() {
		defer wg.Done()
		_, _ = h.engine.Act(context.Background(), Action{Key: s.Key, Player: "p1", Name: blackjack.ActionStand})
	}()
	wg.Wait()

	assert.Len(t, h.settlements(s.ID), 1)
	assert.Zero(t, h.sessions.Len())

	// A direct second resolution is a no-op.
	assert.Nil(t, h.engine.resolve(context.Background(), s, game.RefundAll(s, game.ResultRefund, ""), notify.KindTimeout, nil))
	assert.Len(t, h.settlements(s.ID), 1)
}

func TestDeadlineRefundsBlackjack(t *testing.T) {
	h := newHarness(t, nil, "", nil,
		blackjack.New(&blackjack.Config{TurnTimeout: 30 * time.Millisecond}, cards(openHand...)))
	h.fund(t, "p1", 500)

	_, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 100, Target: "chat-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(400), h.ledger.GetBalance("c1", "p1"))

	require.Eventually(t, func() bool { return h.sessions.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(500), h.ledger.GetBalance("c1", "p1"))

	h.engine.Wait()
	events := h.notes.all()
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindTimeout, events[0].Kind)
	assert.Equal(t, game.ResultTimeout, events[0].Result)
}

func TestActionExtendsDeadline(t *testing.T) {
	h := newHarness(t, nil, "", nil,
		blackjack.New(&blackjack.Config{TurnTimeout: time.Hour}, cards(blackjack.Two, blackjack.Ten, blackjack.Three, blackjack.Eight, blackjack.Two)))
	h.fund(t, "p1", 500)

	view, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 100})
	require.NoError(t, err)
	first, ok := h.sessions.Scheduler().Deadline(view.Session.Key)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	view, err = h.engine.Act(context.Background(), Action{Key: view.Session.Key, Player: "p1", Name: blackjack.ActionHit})
	require.NoError(t, err)
	require.False(t, view.Resolved())

	second, ok := h.sessions.Scheduler().Deadline(view.Session.Key)
	require.True(t, ok)
	assert.True(t, second.After(first))
	assert.Equal(t, second, *view.Session.DeadlineAt)
}

func TestCrashCashOut(t *testing.T) {
	h := newHarness(t, nil, "", nil,
		crash.New(&crash.Config{TickInterval: time.Hour}, crash.WithCrashPoint(func() int64 { return 5000 })))
	h.fund(t, "p1", 1000)

	view, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "crash", Stake: 100})
	require.NoError(t, err)
	s := view.Session
	assert.Equal(t, "1.00x", view.Display["multiplier"])

	for i := 0; i < 5; i++ {
		h.engine.onTick(s.Key, s.ID)
	}
	live, ok := h.sessions.Get(s.Key)
	require.True(t, ok)
	m := live.State.(crash.State).Multiplier
	require.Greater(t, m, crash.Base)

	view, err = h.engine.Act(context.Background(), Action{Key: s.Key, Player: "p1", Name: crash.ActionCashOut})
	require.NoError(t, err)
	require.True(t, view.Resolved())
	want := crash.Payout(100, m)
	assert.Equal(t, want, view.Resolution.Payouts[0].Amount)
	assert.Equal(t, 900+want, h.ledger.GetBalance("c1", "p1"))
}

func TestCrashLossThenSessionGone(t *testing.T) {
	h := newHarness(t, nil, "", nil,
		crash.New(&crash.Config{TickInterval: time.Hour}, crash.WithCrashPoint(func() int64 { return crash.MinCrashPoint })))
	h.fund(t, "p1", 1000)

	view, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "crash", Stake: 100})
	require.NoError(t, err)
	s := view.Session

	h.engine.onTick(s.Key, s.ID)
	assert.Zero(t, h.sessions.Len())
	assert.False(t, h.sessions.Scheduler().Pending(s.Key))

	_, err = h.engine.Act(context.Background(), Action{Key: s.Key, Player: "p1", Name: crash.ActionCashOut})
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.Equal(t, int64(900), h.ledger.GetBalance("c1", "p1"))

	loss := h.settlements(s.ID)
	require.Len(t, loss, 1)
	assert.Equal(t, model.TxKindLoss, loss[0].Kind)

	// A tick from the old generation is ignored.
	h.engine.onTick(s.Key, s.ID)
	assert.Len(t, h.settlements(s.ID), 1)
}

func TestDiceResolvesInStart(t *testing.T) {
	h := newHarness(t, nil, "", nil, dice.New(nil))
	h.fund(t, "p1", 100)

	view, err := h.engine.Start(context.Background(), Command{
		Community: "c1", Player: "p1", GameType: "dice", Stake: 40,
		Params: map[string]any{"dice1": 6, "dice2": 6},
	})
	require.NoError(t, err)
	require.True(t, view.Resolved())
	assert.Equal(t, int64(180), h.ledger.GetBalance("c1", "p1"))
	assert.False(t, h.sessions.Scheduler().Pending(view.Session.Key))

	_, err = h.engine.Start(context.Background(), Command{
		Community: "c1", Player: "p1", GameType: "dice", Stake: 40,
		Params: map[string]any{"dice1": 9, "dice2": 1},
	})
	assert.ErrorIs(t, err, dice.ErrInvalidDice)
	assert.Equal(t, int64(180), h.ledger.GetBalance("c1", "p1"), "rejected start refunds the stake")
	assert.Zero(t, h.sessions.Len())
}

func TestSicBoPooledRound(t *testing.T) {
	h := newHarness(t, nil, "", nil, sicbo.New(&sicbo.Config{BettingDuration: time.Hour}, sicbo.WithDice(func() [3]int { return [3]int{6, 5, 4} })))
	for _, p := range []string{"p1", "p2", "p3"} {
		h.fund(t, p, 1000)
	}

	view, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "sicbo"})
	require.NoError(t, err)
	key := view.Session.Key
	assert.True(t, key.Pooled())

	_, err = h.engine.Start(context.Background(), Command{Community: "c1", Player: "p2", GameType: "sicbo"})
	assert.ErrorIs(t, err, session.ErrSessionConflict)

	bet := func(player, option string) error {
		_, err := h.engine.Act(context.Background(), Action{
			Key: key, Player: player, Name: sicbo.ActionBet, Stake: sicbo.DefaultBetAmount,
			Params: map[string]any{"option": option},
		})
		return err
	}
	require.NoError(t, bet("p1", "big"))
	require.NoError(t, bet("p1", "big"))
	require.NoError(t, bet("p2", "small"))
	require.NoError(t, bet("p3", "6"))

	assert.ErrorIs(t, bet("p2", "seven"), sicbo.ErrInvalidBetType)
	assert.Equal(t, int64(900), h.ledger.GetBalance("c1", "p2"), "rejected bet is refunded")

	view, err = h.engine.Act(context.Background(), Action{Key: key, Player: "p2", Name: sicbo.ActionSettle})
	require.NoError(t, err)
	require.True(t, view.Resolved())

	// 6+5+4 = 15: big wins, small loses, one six pays 1:1.
	assert.Equal(t, int64(1200), h.ledger.GetBalance("c1", "p1"))
	assert.Equal(t, int64(900), h.ledger.GetBalance("c1", "p2"))
	assert.Equal(t, int64(1100), h.ledger.GetBalance("c1", "p3"))
	assert.Len(t, view.Resolution.Payouts, 3)
	assert.Len(t, h.settlements(view.Session.ID), 3)
}

func TestSicBoWindowClosesOnDeadline(t *testing.T) {
	h := newHarness(t, nil, "", nil, sicbo.New(&sicbo.Config{BettingDuration: 30 * time.Millisecond}, sicbo.WithDice(func() [3]int { return [3]int{1, 1, 2} })))
	h.fund(t, "p1", 1000)

	view, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "sicbo"})
	require.NoError(t, err)
	_, err = h.engine.Act(context.Background(), Action{
		Key: view.Session.Key, Player: "p1", Name: sicbo.ActionBet, Stake: sicbo.DefaultBetAmount,
		Params: map[string]any{"option": "small"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.sessions.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1100), h.ledger.GetBalance("c1", "p1"))
}

func TestPersistentSessionWrittenThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	h := newHarness(t, nil, path, nil, blackjack.New(nil, cards(openHand...)))
	h.fund(t, "p1", 500)

	_, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 100})
	require.NoError(t, err)

	other := session.NewRegistry(session.Options{Path: path})
	restored, err := other.Restore(h.engine.Games().DecodeState)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, blackjack.StagePlayerTurn, restored[0].Phase())
	assert.NotNil(t, restored[0].DeadlineAt)
}
