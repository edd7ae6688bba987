package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagerbot/internal/game/blackjack"
	"wagerbot/internal/ledger"
	"wagerbot/internal/model"
	"wagerbot/internal/notify"
	"wagerbot/internal/session"
)

// crashAfterStart opens a blackjack hand and abandons the process state,
// leaving only the session file and the ledger behind.
func crashAfterStart(t *testing.T, l *ledger.Ledger, path string) session.Session {
	t.Helper()
	h := newHarness(t, l, path, nil, blackjack.New(&blackjack.Config{TurnTimeout: time.Hour}, cards(openHand...)))
	h.fund(t, "p1", 500)

	view, err := h.engine.Start(context.Background(), Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 100})
	require.NoError(t, err)
	require.False(t, view.Resolved())
	h.sessions.Scheduler().Stop()
	return view.Session
}

func restart(t *testing.T, l *ledger.Ledger, path string, now func() time.Time) (*harness, RecoveryReport) {
	t.Helper()
	h := newHarness(t, l, path, now, blackjack.New(&blackjack.Config{TurnTimeout: time.Hour}))
	report, err := h.engine.Recover(context.Background(), nil)
	require.NoError(t, err)
	return h, report
}

func TestRecoverResumesLiveSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	l := ledger.New(ledger.Options{})
	s := crashAfterStart(t, l, path)

	h, report := restart(t, l, path, nil)
	assert.Equal(t, 1, report.Resumed)
	assert.Equal(t, 1, report.Total())
	assert.True(t, h.sessions.Scheduler().Pending(s.Key))

	view, err := h.engine.Act(context.Background(), Action{Key: s.Key, Player: "p1", Name: blackjack.ActionStand})
	require.NoError(t, err)
	require.True(t, view.Resolved())
	assert.Equal(t, int64(400), l.GetBalance("c1", "p1"))
}

func TestRecoverExpiredSessionRefunds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	l := ledger.New(ledger.Options{})
	s := crashAfterStart(t, l, path)
	assert.Equal(t, int64(400), l.GetBalance("c1", "p1"))

	later := func() time.Time { return time.Now().Add(2 * time.Hour) }
	h, report := restart(t, l, path, later)
	assert.Equal(t, 1, report.Expired)
	assert.Zero(t, h.sessions.Len())
	assert.Equal(t, int64(500), l.GetBalance("c1", "p1"))

	refunds := l.Transactions("c1", ledger.Filter{SessionID: s.ID, Kinds: []string{model.TxKindRefund}})
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(100), refunds[0].AmountDelta)

	// The session file no longer lists it.
	_, report = restart(t, l, path, later)
	assert.Zero(t, report.Total())
}

func TestRecoverSettledSessionIsTornDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	l := ledger.New(ledger.Options{})
	s := crashAfterStart(t, l, path)

	// The process died after settling but before removing the session.
	_, err := l.AddBalance("c1", "p1", 200, ledger.Entry{Kind: model.TxKindPayout, SessionID: s.ID})
	require.NoError(t, err)

	h, report := restart(t, l, path, nil)
	assert.Equal(t, 1, report.TornDown)
	assert.Zero(t, h.sessions.Len())
	assert.False(t, h.sessions.Scheduler().Pending(s.Key))
	assert.Equal(t, int64(600), l.GetBalance("c1", "p1"))
}

func TestRecoverTrimmedEscrowRefunds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	crashAfterStart(t, ledger.New(ledger.Options{}), path)

	// A log trimmed past the session's start no longer holds the escrow.
	trimmed := ledger.New(ledger.Options{MaxTransactions: 2})
	for i := 0; i < 3; i++ {
		_, err := trimmed.AddBalance("c1", "p2", 10, ledger.Entry{Kind: model.TxKindClaim})
		require.NoError(t, err)
	}

	h, report := restart(t, trimmed, path, nil)
	assert.Equal(t, 1, report.Refunded)
	assert.Zero(t, h.sessions.Len())
	assert.Equal(t, int64(100), trimmed.GetBalance("c1", "p1"))
}

// fileLedger opens the ledger file the way a fresh process would. Nothing
// reaches disk unless flushed.
func fileLedger(path string) *ledger.Ledger {
	return ledger.New(ledger.Options{Path: path, Debounce: time.Hour})
}

func TestRecoverDropsSessionWhoseEscrowNeverLanded(t *testing.T) {
	dir := t.TempDir()
	ledgerPath, sessionPath := filepath.Join(dir, "ledger.json"), filepath.Join(dir, "sessions.json")

	durable := fileLedger(ledgerPath)
	_, err := durable.SetBalance("c1", "p1", 500, ledger.Entry{})
	require.NoError(t, err)
	require.NoError(t, durable.Flush())

	// The hand was written out while its escrow only existed in memory.
	crashAfterStart(t, ledger.New(ledger.Options{}), sessionPath)

	reopened := fileLedger(ledgerPath)
	h, report := restart(t, reopened, sessionPath, nil)
	assert.Equal(t, 1, report.Dropped)
	assert.Zero(t, h.sessions.Len())
	assert.Equal(t, int64(500), reopened.GetBalance("c1", "p1"))
	assert.Empty(t, reopened.Transactions("c1", ledger.Filter{Kinds: []string{model.TxKindRefund}}))
}

func TestRestartKeepsEscrowOfLiveHand(t *testing.T) {
	dir := t.TempDir()
	ledgerPath, sessionPath := filepath.Join(dir, "ledger.json"), filepath.Join(dir, "sessions.json")

	s := crashAfterStart(t, fileLedger(ledgerPath), sessionPath)

	reopened := fileLedger(ledgerPath)
	h, report := restart(t, reopened, sessionPath, nil)
	assert.Equal(t, 1, report.Resumed)
	assert.Equal(t, int64(400), reopened.GetBalance("c1", "p1"))

	view, err := h.engine.Act(context.Background(), Action{Key: s.Key, Player: "p1", Name: blackjack.ActionStand})
	require.NoError(t, err)
	require.True(t, view.Resolved())
	assert.Equal(t, int64(400), reopened.GetBalance("c1", "p1"))
}

func TestRestartAfterWinKeepsPayout(t *testing.T) {
	dir := t.TempDir()
	ledgerPath, sessionPath := filepath.Join(dir, "ledger.json"), filepath.Join(dir, "sessions.json")

	// 10+9 against 10+7.
	l := fileLedger(ledgerPath)
	h := newHarness(t, l, sessionPath, nil, blackjack.New(nil, cards(blackjack.Ten, blackjack.Ten, blackjack.Nine, blackjack.Seven)))
	h.fund(t, "p1", 500)

	ctx := context.Background()
	view, err := h.engine.Start(ctx, Command{Community: "c1", Player: "p1", GameType: "blackjack", Stake: 100})
	require.NoError(t, err)
	require.False(t, view.Resolved())

	view, err = h.engine.Act(ctx, Action{Key: view.Session.Key, Player: "p1", Name: blackjack.ActionStand})
	require.NoError(t, err)
	require.True(t, view.Resolved())
	assert.Equal(t, int64(600), l.GetBalance("c1", "p1"))
	h.engine.Wait()
	h.sessions.Scheduler().Stop()

	reopened := fileLedger(ledgerPath)
	_, report := restart(t, reopened, sessionPath, nil)
	assert.Zero(t, report.Total())
	assert.Equal(t, int64(600), reopened.GetBalance("c1", "p1"))
}

func TestRecoverUndecodableStateRefunds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	l := ledger.New(ledger.Options{})
	crashAfterStart(t, l, path)

	h := newHarness(t, l, path, nil, blackjack.New(nil))
	report, err := h.engine.Recover(context.Background(), func(string, json.RawMessage) (session.State, error) {
		return nil, assert.AnError
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Refunded)
	assert.Equal(t, int64(500), l.GetBalance("c1", "p1"))
}

func TestRecoverRetargetsNotifications(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	l := ledger.New(ledger.Options{})
	crashAfterStart(t, l, path)

	later := func() time.Time { return time.Now().Add(2 * time.Hour) }
	h := newHarness(t, l, path, later, blackjack.New(&blackjack.Config{TurnTimeout: time.Hour}))
	var asked []string
	h.engine.retarget = func(community string) notify.Target {
		asked = append(asked, community)
		return community
	}

	report, err := h.engine.Recover(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	h.engine.Wait()

	assert.Equal(t, []string{"c1"}, asked)
	events := h.notes.all()
	require.Len(t, events, 1)
	assert.Equal(t, "c1", events[0].Community)
	assert.Equal(t, int64(500), l.GetBalance("c1", "p1"))
}
