// Package ledger keeps per-community player balances and a bounded,
// append-only transaction log. All balance writes for a community go through
// one mutex; durable writes are debounced whole-state snapshots.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wagerbot/internal/model"
	"wagerbot/internal/pkg/idgen"
	"wagerbot/internal/pkg/snapshot"
)

// Ledger errors.
var (
	// ErrInsufficientFunds is returned when a debit would make a balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNegativeBalance is returned when an overwrite targets a negative amount.
	ErrNegativeBalance = errors.New("balance cannot be negative")
	// ErrInvalidAccount is returned when a community or player ID is empty.
	ErrInvalidAccount = errors.New("community and player are required")
)

// DefaultMaxTransactions is the per-community log cap.
const DefaultMaxTransactions = 500

// archiveTimeout bounds one archive call.
const archiveTimeout = 5 * time.Second

// Archiver mirrors transactions to secondary storage.
type Archiver interface {
	Archive(ctx context.Context, tx model.Transaction) error
}

// Options configures a Ledger.
type Options struct {
	// Path is the snapshot file. Empty keeps the ledger in memory only.
	Path            string
	MaxTransactions int
	Debounce        time.Duration
	Archiver        Archiver
	Now             func() time.Time
}

// Entry describes why a balance changed.
type Entry struct {
	Kind      string
	Reason    string
	SessionID string
	Metadata  map[string]any
	// Corrective entries skip the funds check and clamp the result at zero.
	Corrective bool
}

// Result is the outcome of a balance mutation.
type Result struct {
	Balance     int64
	Transaction model.Transaction
}

// Filter narrows Transactions results. Zero values match everything.
type Filter struct {
	Player    string
	SessionID string
	Kinds     []string
	Limit     int
}

// Holding is one player's balance.
type Holding struct {
	Player  string `json:"player_id"`
	Balance int64  `json:"balance"`
}

type book struct {
	mu           sync.Mutex
	balances     map[string]int64
	transactions []model.Transaction // oldest first
}

// Ledger is safe for concurrent use.
type Ledger struct {
	opts   Options
	mu     sync.RWMutex
	books  map[string]*book
	writer *snapshot.Writer

	loadOnce sync.Once
	loadErr  error
}

// New creates a Ledger. The snapshot is read lazily on first access, or
// eagerly with Load.
func New(opts Options) *Ledger {
	if opts.MaxTransactions <= 0 {
		opts.MaxTransactions = DefaultMaxTransactions
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Ledger{
		opts:  opts,
		books: make(map[string]*book),
	}
	l.writer = snapshot.NewWriter("ledger", opts.Path, opts.Debounce, l.encode)
	return l
}

// Load reads the snapshot if it has not been read yet.
func (l *Ledger) Load() error {
	l.ensureLoaded()
	return l.loadErr
}

func (l *Ledger) ensureLoaded() {
	l.loadOnce.Do(func() {
		if err := l.load(); err != nil {
			l.loadErr = err
			log.Error().Err(err).Str("path", l.opts.Path).Msg("Failed to load ledger snapshot, starting empty")
		}
	})
}

// book returns the community's book, creating it when create is set.
func (l *Ledger) book(community string, create bool) *book {
	l.ensureLoaded()

	l.mu.RLock()
	b, ok := l.books[community]
	l.mu.RUnlock()
	if ok || !create {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.books[community]; ok {
		return b
	}
	b = &book{balances: make(map[string]int64)}
	l.books[community] = b
	return b
}

// GetBalance returns a player's balance, 0 for unknown players.
func (l *Ledger) GetBalance(community, player string) int64 {
	b := l.book(community, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[player]
}

// AddBalance applies delta to a player's balance and records a transaction.
// A debit that would go negative fails with ErrInsufficientFunds before any
// mutation, unless the entry is corrective.
func (l *Ledger) AddBalance(community, player string, delta int64, e Entry) (Result, error) {
	if community == "" || player == "" {
		return Result{}, ErrInvalidAccount
	}
	b := l.book(community, true)

	b.mu.Lock()
	current := b.balances[player]
	next := current + delta
	applied := delta
	if next < 0 {
		if !e.Corrective {
			b.mu.Unlock()
			return Result{}, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, current, -delta)
		}
		next = 0
		applied = -current
		e.Metadata = withMeta(e.Metadata, "requested_delta", delta)
	}
	b.balances[player] = next
	tx := l.appendLocked(b, community, player, applied, next, e)
	b.mu.Unlock()

	l.afterAppend(tx)
	return Result{Balance: next, Transaction: tx}, nil
}

// SetBalance overwrites a player's balance and records the difference.
func (l *Ledger) SetBalance(community, player string, amount int64, e Entry) (Result, error) {
	if community == "" || player == "" {
		return Result{}, ErrInvalidAccount
	}
	if amount < 0 {
		return Result{}, ErrNegativeBalance
	}
	if e.Kind == "" {
		e.Kind = model.TxKindAdminSet
	}
	b := l.book(community, true)

	b.mu.Lock()
	delta := amount - b.balances[player]
	b.balances[player] = amount
	tx := l.appendLocked(b, community, player, delta, amount, e)
	b.mu.Unlock()

	l.afterAppend(tx)
	return Result{Balance: amount, Transaction: tx}, nil
}

// LogTransaction records an audit-only entry without touching the balance.
func (l *Ledger) LogTransaction(community, player string, e Entry) (model.Transaction, error) {
	if community == "" || player == "" {
		return model.Transaction{}, ErrInvalidAccount
	}
	b := l.book(community, true)

	b.mu.Lock()
	tx := l.appendLocked(b, community, player, 0, b.balances[player], e)
	b.mu.Unlock()

	l.afterAppend(tx)
	return tx, nil
}

func (l *Ledger) appendLocked(b *book, community, player string, delta, after int64, e Entry) model.Transaction {
	now := l.opts.Now()
	tx := model.Transaction{
		ID:           idgen.NewIDAt(now),
		CreatedAt:    now,
		CommunityID:  community,
		PlayerID:     player,
		AmountDelta:  delta,
		BalanceAfter: after,
		Kind:         e.Kind,
		Reason:       e.Reason,
		SessionID:    e.SessionID,
		Metadata:     e.Metadata,
	}
	b.transactions = append(b.transactions, tx)
	if over := len(b.transactions) - l.opts.MaxTransactions; over > 0 {
		b.transactions = append(b.transactions[:0], b.transactions[over:]...)
	}
	return tx
}

func (l *Ledger) afterAppend(tx model.Transaction) {
	l.writer.Schedule()

	if l.opts.Archiver == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := l.opts.Archiver.Archive(ctx, tx); err != nil {
			log.Warn().Err(err).Str("tx_id", tx.ID).Msg("Failed to archive transaction")
		}
	}()
}

// Transactions returns matching entries, newest first.
func (l *Ledger) Transactions(community string, f Filter) []model.Transaction {
	b := l.book(community, false)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []model.Transaction
	for i := len(b.transactions) - 1; i >= 0; i-- {
		tx := b.transactions[i]
		if f.Player != "" && tx.PlayerID != f.Player {
			continue
		}
		if f.SessionID != "" && tx.SessionID != f.SessionID {
			continue
		}
		if len(f.Kinds) > 0 && !containsKind(f.Kinds, tx.Kind) {
			continue
		}
		out = append(out, tx)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// SessionTransactions returns every retained entry for a session, newest first.
func (l *Ledger) SessionTransactions(community, sessionID string) []model.Transaction {
	if sessionID == "" {
		return nil
	}
	return l.Transactions(community, Filter{SessionID: sessionID})
}

// OldestTransaction returns the oldest entry still retained for a community.
func (l *Ledger) OldestTransaction(community string) (model.Transaction, bool) {
	b := l.book(community, false)
	if b == nil {
		return model.Transaction{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.transactions) == 0 {
		return model.Transaction{}, false
	}
	return b.transactions[0], true
}

// TopBalances returns up to n holdings ordered by balance, richest first.
func (l *Ledger) TopBalances(community string, n int) []Holding {
	b := l.book(community, false)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	out := make([]Holding, 0, len(b.balances))
	for p, bal := range b.balances {
		out = append(out, Holding{Player: p, Balance: bal})
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Balance != out[j].Balance {
			return out[i].Balance > out[j].Balance
		}
		return out[i].Player < out[j].Player
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Communities returns the IDs of all known communities, sorted.
func (l *Ledger) Communities() []string {
	l.ensureLoaded()
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.books))
	for id := range l.books {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Flush writes the snapshot synchronously.
func (l *Ledger) Flush() error {
	return l.writer.Flush()
}

// Close flushes pending writes. The ledger must not be mutated afterwards.
func (l *Ledger) Close() error {
	return l.writer.Close()
}

func containsKind(kinds []string, kind string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func withMeta(m map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}
