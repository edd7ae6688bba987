package cooldown

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagerbot/internal/ledger"
)

const day = 24 * time.Hour

func TestClaimWindowBoundary(t *testing.T) {
	l := ledger.New(ledger.Options{})
	s := NewStore(l, Options{})
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	res, err := s.Claim("c1", "p1", "daily", start, day, 500)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, int64(500), res.Balance)
	assert.Equal(t, start.Add(day), res.NextEligibleAt)

	res, err = s.Claim("c1", "p1", "daily", start.Add(day-time.Millisecond), day, 500)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, time.Millisecond, res.Remaining)
	assert.Equal(t, int64(500), l.GetBalance("c1", "p1"))

	res, err = s.Claim("c1", "p1", "daily", start.Add(day), day, 500)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, int64(1000), l.GetBalance("c1", "p1"))
}

func TestClaimKeysAreIndependent(t *testing.T) {
	l := ledger.New(ledger.Options{})
	s := NewStore(l, Options{})
	now := time.Now()

	for _, k := range [][3]string{{"c1", "p1", "daily"}, {"c1", "p1", "weekly"}, {"c1", "p2", "daily"}, {"c2", "p1", "daily"}} {
		res, err := s.Claim(k[0], k[1], k[2], now, day, 10)
		require.NoError(t, err)
		assert.True(t, res.OK, "%v should be eligible", k)
	}
}

func TestUnparsableTimestampIsEligible(t *testing.T) {
	l := ledger.New(ledger.Options{})
	s := NewStore(l, Options{})
	s.set("c1", "p1", "daily", "yesterday-ish")

	res, err := s.Claim("c1", "p1", "daily", time.Now(), day, 10)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

type failingCrediter struct{}

func (failingCrediter) AddBalance(string, string, int64, ledger.Entry) (ledger.Result, error) {
	return ledger.Result{}, errors.New("ledger down")
}

func TestFailedCreditRestoresTimestamp(t *testing.T) {
	s := NewStore(failingCrediter{}, Options{})
	_, err := s.Claim("c1", "p1", "daily", time.Now(), day, 10)
	require.Error(t, err)

	_, waiting := s.NextEligible("c1", "p1", "daily", time.Now(), day)
	assert.False(t, waiting)
}

func TestNextEligible(t *testing.T) {
	l := ledger.New(ledger.Options{})
	s := NewStore(l, Options{})
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	_, waiting := s.NextEligible("c1", "p1", "daily", now, day)
	assert.False(t, waiting)

	_, err := s.Claim("c1", "p1", "daily", now, day, 10)
	require.NoError(t, err)

	next, waiting := s.NextEligible("c1", "p1", "daily", now.Add(time.Hour), day)
	assert.True(t, waiting)
	assert.Equal(t, now.Add(day), next)
}

func TestSnapshotPersistsClaims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cooldowns.json")
	l := ledger.New(ledger.Options{})
	now := time.Now()

	s := NewStore(l, Options{Path: path, Debounce: 10 * time.Millisecond})
	_, err := s.Claim("c1", "p1", "daily", now, day, 10)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded := NewStore(l, Options{Path: path})
	res, err := reloaded.Claim("c1", "p1", "daily", now.Add(time.Minute), day, 10)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestGateDoesNotCredit(t *testing.T) {
	l := ledger.New(ledger.Options{})
	s := NewStore(l, Options{})
	now := time.Now()

	assert.True(t, s.Gate("c1", "p1", "dice", now, 3*time.Second).OK)
	res := s.Gate("c1", "p1", "dice", now.Add(time.Second), 3*time.Second)
	assert.False(t, res.OK)
	assert.Equal(t, 2*time.Second, res.Remaining)
	assert.True(t, s.Gate("c1", "p1", "dice", now.Add(3*time.Second), 3*time.Second).OK)
	assert.Equal(t, int64(0), l.GetBalance("c1", "p1"))
	assert.Empty(t, l.Transactions("c1", ledger.Filter{}))
}
