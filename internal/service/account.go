// Package service provides account, transfer and ranking operations on top
// of the ledger and the cooldown store.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"wagerbot/internal/cooldown"
	"wagerbot/internal/ledger"
	"wagerbot/internal/model"
)

// Common errors for account operations.
var (
	ErrDailyAlreadyClaimed = errors.New("daily reward already claimed")
	ErrInvalidAmount       = errors.New("invalid amount: must be positive")
)

// Cooldown activities.
const (
	ActivityDaily   = "daily"
	ActivityWelcome = "welcome"
)

// welcomeWindow is long enough that the welcome grant is paid once.
const welcomeWindow = 100 * 365 * 24 * time.Hour

// Ledger is the subset of the ledger the services use.
type Ledger interface {
	GetBalance(community, player string) int64
	AddBalance(community, player string, delta int64, e ledger.Entry) (ledger.Result, error)
	SetBalance(community, player string, amount int64, e ledger.Entry) (ledger.Result, error)
	Transactions(community string, f ledger.Filter) []model.Transaction
	TopBalances(community string, n int) []ledger.Holding
}

// Claimer grants cooldown-gated rewards.
type Claimer interface {
	Claim(community, player, activity string, now time.Time, window time.Duration, reward int64) (cooldown.ClaimResult, error)
}

// HistoryArchive serves transaction history past the in-memory log.
type HistoryArchive interface {
	ListByPlayer(ctx context.Context, community, player string, limit int) ([]model.Transaction, error)
}

// AccountOptions configures an AccountService.
type AccountOptions struct {
	InitialBalance int64
	DailyReward    int64
	DailyCooldown  time.Duration
	// Archive is optional.
	Archive HistoryArchive
	Now     func() time.Time
}

// AccountService handles balances, claims and admin adjustments.
type AccountService struct {
	ledger   Ledger
	claims   Claimer
	archive  HistoryArchive
	initial  int64
	reward   int64
	cooldown time.Duration
	now      func() time.Time
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(l Ledger, claims Claimer, opts AccountOptions) *AccountService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DailyCooldown <= 0 {
		opts.DailyCooldown = 24 * time.Hour
	}
	return &AccountService{
		ledger:   l,
		claims:   claims,
		archive:  opts.Archive,
		initial:  opts.InitialBalance,
		reward:   opts.DailyReward,
		cooldown: opts.DailyCooldown,
		now:      opts.Now,
	}
}

// EnsurePlayer pays the welcome grant the first time a player is seen in a
// community. Returns the balance and whether the grant was paid.
func (s *AccountService) EnsurePlayer(community, player string) (int64, bool, error) {
	if s.initial <= 0 {
		return s.ledger.GetBalance(community, player), false, nil
	}
	res, err := s.claims.Claim(community, player, ActivityWelcome, s.now(), welcomeWindow, s.initial)
	if err != nil {
		return 0, false, fmt.Errorf("failed to ensure player: %w", err)
	}
	if !res.OK {
		return s.ledger.GetBalance(community, player), false, nil
	}
	log.Info().Str("community", community).Str("player", player).Int64("grant", s.initial).Msg("New player funded")
	return res.Balance, true, nil
}

// GetBalance retrieves a player's current balance.
func (s *AccountService) GetBalance(community, player string) int64 {
	return s.ledger.GetBalance(community, player)
}

// ClaimDaily attempts to claim the daily reward. While the cooldown is open
// it returns ErrDailyAlreadyClaimed with the remaining time in the result.
func (s *AccountService) ClaimDaily(community, player string) (cooldown.ClaimResult, error) {
	res, err := s.claims.Claim(community, player, ActivityDaily, s.now(), s.cooldown, s.reward)
	if err != nil {
		return res, fmt.Errorf("failed to claim daily reward: %w", err)
	}
	if !res.OK {
		return res, ErrDailyAlreadyClaimed
	}
	return res, nil
}

// DailyReward returns the configured daily reward.
func (s *AccountService) DailyReward() int64 { return s.reward }

// History returns a player's latest transactions, newest first. The archive
// is preferred when configured; the retained log is the fallback.
func (s *AccountService) History(ctx context.Context, community, player string, limit int) ([]model.Transaction, error) {
	if s.archive != nil {
		txs, err := s.archive.ListByPlayer(ctx, community, player, limit)
		if err == nil {
			return txs, nil
		}
		log.Warn().Err(err).Str("community", community).Msg("Archive unavailable, using retained log")
	}
	return s.ledger.Transactions(community, ledger.Filter{Player: player, Limit: limit}), nil
}

// GetTopPlayers returns the richest players in a community.
func (s *AccountService) GetTopPlayers(community string, limit int) []ledger.Holding {
	return s.ledger.TopBalances(community, limit)
}

// AdminAdd adjusts a balance by amount. Negative adjustments clamp at zero.
func (s *AccountService) AdminAdd(community, player string, amount int64, admin string) (ledger.Result, error) {
	if amount == 0 {
		return ledger.Result{}, ErrInvalidAmount
	}
	res, err := s.ledger.AddBalance(community, player, amount, ledger.Entry{
		Kind:       model.TxKindAdminAdd,
		Reason:     "admin",
		Metadata:   map[string]any{"admin": admin},
		Corrective: true,
	})
	if err != nil {
		return ledger.Result{}, fmt.Errorf("failed to adjust balance: %w", err)
	}
	log.Info().
		Str("community", community).
		Str("player", player).
		Str("admin", admin).
		Int64("amount", amount).
		Int64("balance", res.Balance).
		Msg("Admin adjusted balance")
	return res, nil
}

// AdminSet overwrites a balance.
func (s *AccountService) AdminSet(community, player string, amount int64, admin string) (ledger.Result, error) {
	res, err := s.ledger.SetBalance(community, player, amount, ledger.Entry{
		Kind:     model.TxKindAdminSet,
		Reason:   "admin",
		Metadata: map[string]any{"admin": admin},
	})
	if err != nil {
		return ledger.Result{}, fmt.Errorf("failed to set balance: %w", err)
	}
	log.Info().
		Str("community", community).
		Str("player", player).
		Str("admin", admin).
		Int64("balance", res.Balance).
		Msg("Admin set balance")
	return res, nil
}
