package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagerbot/internal/cooldown"
	"wagerbot/internal/ledger"
	"wagerbot/internal/model"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newAccounts(t *testing.T, opts AccountOptions) (*AccountService, *ledger.Ledger, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	l := ledger.New(ledger.Options{Now: clk.Now})
	opts.Now = clk.Now
	return NewAccountService(l, cooldown.NewStore(l, cooldown.Options{}), opts), l, clk
}

func TestEnsurePlayer_GrantsOnce(t *testing.T) {
	svc, l, clk := newAccounts(t, AccountOptions{InitialBalance: 1000})

	bal, created, err := svc.EnsurePlayer("c1", "p1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1000), bal)

	clk.Advance(365 * 24 * time.Hour)
	bal, created, err = svc.EnsurePlayer("c1", "p1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(1000), bal)

	// Each community funds its own players
	bal, created, err = svc.EnsurePlayer("c2", "p1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1000), bal)

	txs := l.Transactions("c1", ledger.Filter{Player: "p1"})
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxKindClaim, txs[0].Kind)
	assert.Equal(t, ActivityWelcome, txs[0].Reason)
}

func TestEnsurePlayer_NoGrantConfigured(t *testing.T) {
	svc, l, _ := newAccounts(t, AccountOptions{})

	bal, created, err := svc.EnsurePlayer("c1", "p1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Zero(t, bal)
	assert.Empty(t, l.Transactions("c1", ledger.Filter{}))
}

func TestClaimDaily(t *testing.T) {
	svc, _, clk := newAccounts(t, AccountOptions{DailyReward: 500, DailyCooldown: 24 * time.Hour})

	res, err := svc.ClaimDaily("c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Balance)

	clk.Advance(23 * time.Hour)
	res, err = svc.ClaimDaily("c1", "p1")
	assert.ErrorIs(t, err, ErrDailyAlreadyClaimed)
	assert.Equal(t, time.Hour, res.Remaining)

	clk.Advance(time.Hour)
	res, err = svc.ClaimDaily("c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Balance)
}

type stubArchive struct {
	txs []model.Transaction
	err error
}

func (s stubArchive) ListByPlayer(context.Context, string, string, int) ([]model.Transaction, error) {
	return s.txs, s.err
}

func TestHistory_PrefersArchive(t *testing.T) {
	archived := []model.Transaction{{ID: "archived"}}
	svc, l, _ := newAccounts(t, AccountOptions{Archive: stubArchive{txs: archived}})
	_, err := l.AddBalance("c1", "p1", 10, ledger.Entry{Kind: model.TxKindClaim})
	require.NoError(t, err)

	txs, err := svc.History(context.Background(), "c1", "p1", 10)
	require.NoError(t, err)
	assert.Equal(t, archived, txs)
}

func TestHistory_FallsBackToLedger(t *testing.T) {
	svc, l, _ := newAccounts(t, AccountOptions{Archive: stubArchive{err: errors.New("down")}})
	for i := 0; i < 3; i++ {
		_, err := l.AddBalance("c1", "p1", int64(i+1), ledger.Entry{Kind: model.TxKindClaim})
		require.NoError(t, err)
	}

	txs, err := svc.History(context.Background(), "c1", "p1", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(3), txs[0].AmountDelta)
}

func TestAdminAdd(t *testing.T) {
	svc, l, _ := newAccounts(t, AccountOptions{})

	res, err := svc.AdminAdd("c1", "p1", 300, "admin1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.Balance)

	// Corrective debit clamps at zero instead of failing
	res, err = svc.AdminAdd("c1", "p1", -1000, "admin1")
	require.NoError(t, err)
	assert.Zero(t, res.Balance)
	assert.Equal(t, int64(-300), res.Transaction.AmountDelta)

	_, err = svc.AdminAdd("c1", "p1", 0, "admin1")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	txs := l.Transactions("c1", ledger.Filter{Kinds: []string{model.TxKindAdminAdd}})
	assert.Len(t, txs, 2)
}

func TestAdminSet(t *testing.T) {
	svc, _, _ := newAccounts(t, AccountOptions{})

	res, err := svc.AdminSet("c1", "p1", 750, "admin1")
	require.NoError(t, err)
	assert.Equal(t, int64(750), res.Balance)
	assert.Equal(t, model.TxKindAdminSet, res.Transaction.Kind)

	_, err = svc.AdminSet("c1", "p1", -1, "admin1")
	assert.ErrorIs(t, err, ledger.ErrNegativeBalance)
}
