// Package cooldown gates time-windowed claims per (community, player, activity)
// and credits the reward through the ledger.
package cooldown

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wagerbot/internal/ledger"
	"wagerbot/internal/model"
	"wagerbot/internal/pkg/lock"
	"wagerbot/internal/pkg/snapshot"
)

// Crediter is the ledger operation a claim needs.
type Crediter interface {
	AddBalance(community, player string, delta int64, e ledger.Entry) (ledger.Result, error)
}

// ClaimResult reports the outcome of a claim attempt.
type ClaimResult struct {
	OK             bool
	Reward         int64
	Balance        int64
	NextEligibleAt time.Time
	Remaining      time.Duration
}

// Options configures a Store.
type Options struct {
	// Path is the snapshot file. Empty keeps the store in memory only.
	Path     string
	Debounce time.Duration
}

// Store records the last claim time per key. Timestamps are kept as
// RFC3339Nano strings; anything unparsable counts as never claimed.
type Store struct {
	ledger Crediter
	locks  *lock.KeyedLock
	writer *snapshot.Writer

	mu   sync.RWMutex
	data map[string]map[string]map[string]string // community -> player -> activity -> time

	loadOnce sync.Once
	path     string
}

// NewStore creates a Store crediting rewards through l.
func NewStore(l Crediter, opts Options) *Store {
	s := &Store{
		ledger: l,
		locks:  lock.NewKeyedLock(),
		data:   make(map[string]map[string]map[string]string),
		path:   opts.Path,
	}
	s.writer = snapshot.NewWriter("cooldowns", opts.Path, opts.Debounce, s.encode)
	return s
}

func lockKey(community, player, activity string) string {
	return community + "\x00" + player + "\x00" + activity
}

// Claim credits reward if at least window has passed since the last claim.
// The eligibility check and the record are atomic per key.
func (s *Store) Claim(community, player, activity string, now time.Time, window time.Duration, reward int64) (ClaimResult, error) {
	s.ensureLoaded()
	key := lockKey(community, player, activity)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	last, hadLast := s.last(community, player, activity)
	if hadLast {
		next := last.Add(window)
		if now.Before(next) {
			return ClaimResult{NextEligibleAt: next, Remaining: next.Sub(now)}, nil
		}
	}

	prev, hadRaw := s.raw(community, player, activity)
	s.set(community, player, activity, now.UTC().Format(time.RFC3339Nano))

	if reward <= 0 {
		s.writer.Schedule()
		return ClaimResult{OK: true, NextEligibleAt: now.Add(window)}, nil
	}

	res, err := s.ledger.AddBalance(community, player, reward, ledger.Entry{
		Kind:     model.TxKindClaim,
		Reason:   activity,
		Metadata: map[string]any{"activity": activity},
	})
	if err != nil {
		if hadRaw {
			s.set(community, player, activity, prev)
		} else {
			s.clear(community, player, activity)
		}
		return ClaimResult{}, fmt.Errorf("failed to credit %s reward: %w", activity, err)
	}
	s.writer.Schedule()

	return ClaimResult{
		OK:             true,
		Reward:         reward,
		Balance:        res.Balance,
		NextEligibleAt: now.Add(window),
	}, nil
}

// Gate records an uncredited use of activity, such as a game with a
// per-player cooldown. It fails with OK false while the window is open.
func (s *Store) Gate(community, player, activity string, now time.Time, window time.Duration) ClaimResult {
	res, _ := s.Claim(community, player, activity, now, window, 0)
	return res
}

// NextEligible returns when the key may claim again; ok is false when it
// may claim now.
func (s *Store) NextEligible(community, player, activity string, now time.Time, window time.Duration) (time.Time, bool) {
	s.ensureLoaded()
	last, ok := s.last(community, player, activity)
	if !ok {
		return now, false
	}
	next := last.Add(window)
	if !now.Before(next) {
		return now, false
	}
	return next, true
}

func (s *Store) last(community, player, activity string) (time.Time, bool) {
	raw, ok := s.raw(community, player, activity)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		log.Warn().Str("community", community).Str("player", player).Str("activity", activity).
			Str("value", raw).Msg("Unparsable cooldown timestamp, treating as eligible")
		return time.Time{}, false
	}
	return t, true
}

func (s *Store) raw(community, player, activity string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[community][player][activity]
	return v, ok
}

func (s *Store) set(community, player, activity, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	players, ok := s.data[community]
	if !ok {
		players = make(map[string]map[string]string)
		s.data[community] = players
	}
	acts, ok := players[player]
	if !ok {
		acts = make(map[string]string)
		players[player] = acts
	}
	acts[activity] = value
}

func (s *Store) clear(community, player, activity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[community][player], activity)
}

func (s *Store) ensureLoaded() {
	s.loadOnce.Do(func() {
		if s.path == "" {
			return
		}
		var doc map[string]map[string]map[string]string
		found, err := snapshot.ReadJSON(s.path, &doc)
		if err != nil {
			log.Error().Err(err).Str("path", s.path).Msg("Failed to load cooldown snapshot, starting empty")
			return
		}
		if !found || doc == nil {
			return
		}
		s.mu.Lock()
		s.data = doc
		s.mu.Unlock()
	})
}

func (s *Store) encode() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.data)
}

// Flush writes the snapshot synchronously.
func (s *Store) Flush() error {
	return s.writer.Flush()
}

// Close flushes pending writes.
func (s *Store) Close() error {
	return s.writer.Close()
}
