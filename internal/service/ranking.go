package service

import (
	"context"
	"sort"
	"time"

	"wagerbot/internal/ledger"
	"wagerbot/internal/model"
)

// DailyArchive answers daily ranking queries from the transaction archive.
type DailyArchive interface {
	GetDailyStats(ctx context.Context, community string, date time.Time) ([]model.DailyRank, error)
	GetDailyWinners(ctx context.Context, community string, date time.Time, limit int) ([]model.DailyRank, error)
	GetDailyLosers(ctx context.Context, community string, date time.Time, limit int) ([]model.DailyRank, error)
	GetPlayerDailyProfit(ctx context.Context, community, player string, date time.Time) (int64, error)
}

// RankingService handles leaderboards. Without an archive, daily results
// are computed from the ledger's retained log and cover only what it holds.
type RankingService struct {
	ledger   Ledger
	archive  DailyArchive
	timezone *time.Location
	now      func() time.Time
}

// NewRankingService creates a new RankingService instance. archive may be nil.
func NewRankingService(l Ledger, archive DailyArchive, timezone *time.Location) *RankingService {
	if timezone == nil {
		timezone = time.UTC
	}
	return &RankingService{
		ledger:   l,
		archive:  archive,
		timezone: timezone,
		now:      time.Now,
	}
}

// GetTopPlayers retrieves the richest players.
func (s *RankingService) GetTopPlayers(community string, limit int) []ledger.Holding {
	return s.ledger.TopBalances(community, limit)
}

func (s *RankingService) today() time.Time {
	return s.now().In(s.timezone)
}

// GetDailyWinners retrieves today's biggest winners.
func (s *RankingService) GetDailyWinners(ctx context.Context, community string, limit int) ([]model.DailyRank, error) {
	return s.GetDailyWinnersForDate(ctx, community, s.today(), limit)
}

// GetDailyLosers retrieves today's biggest losers.
func (s *RankingService) GetDailyLosers(ctx context.Context, community string, limit int) ([]model.DailyRank, error) {
	return s.GetDailyLosersForDate(ctx, community, s.today(), limit)
}

// GetDailyWinnersForDate retrieves winners for a specific date.
func (s *RankingService) GetDailyWinnersForDate(ctx context.Context, community string, date time.Time, limit int) ([]model.DailyRank, error) {
	if s.archive != nil {
		return s.archive.GetDailyWinners(ctx, community, date, limit)
	}
	return filterRanks(s.ledgerStats(community, date), limit, func(n int64) bool { return n > 0 }), nil
}

// GetDailyLosersForDate retrieves losers for a specific date, biggest loss first.
func (s *RankingService) GetDailyLosersForDate(ctx context.Context, community string, date time.Time, limit int) ([]model.DailyRank, error) {
	if s.archive != nil {
		return s.archive.GetDailyLosers(ctx, community, date, limit)
	}
	stats := s.ledgerStats(community, date)
	for i, j := 0, len(stats)-1; i < j; i, j = i+1, j-1 {
		stats[i], stats[j] = stats[j], stats[i]
	}
	return filterRanks(stats, limit, func(n int64) bool { return n < 0 }), nil
}

// GetDailyStats retrieves every player's result for a date, best first.
func (s *RankingService) GetDailyStats(ctx context.Context, community string, date time.Time) ([]model.DailyRank, error) {
	if s.archive != nil {
		return s.archive.GetDailyStats(ctx, community, date)
	}
	return s.ledgerStats(community, date), nil
}

// GetPlayerDailyProfit retrieves a player's net game result for today.
func (s *RankingService) GetPlayerDailyProfit(ctx context.Context, community, player string) (int64, error) {
	if s.archive != nil {
		return s.archive.GetPlayerDailyProfit(ctx, community, player, s.today())
	}
	var total int64
	for _, r := range s.ledgerStats(community, s.today()) {
		if r.PlayerID == player {
			total = r.NetProfit
		}
	}
	return total, nil
}

// ledgerStats sums game entries of the retained log for date's day, best
// first, ties by player ID.
func (s *RankingService) ledgerStats(community string, date time.Time) []model.DailyRank {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	end := start.AddDate(0, 0, 1)

	net := make(map[string]int64)
	for _, tx := range s.ledger.Transactions(community, ledger.Filter{Kinds: model.GameKinds()}) {
		if tx.CreatedAt.Before(start) || !tx.CreatedAt.Before(end) {
			continue
		}
		net[tx.PlayerID] += tx.AmountDelta
	}

	stats := make([]model.DailyRank, 0, len(net))
	for player, profit := range net {
		stats = append(stats, model.DailyRank{CommunityID: community, PlayerID: player, NetProfit: profit})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].NetProfit != stats[j].NetProfit {
			return stats[i].NetProfit > stats[j].NetProfit
		}
		return stats[i].PlayerID < stats[j].PlayerID
	})
	return stats
}

func filterRanks(stats []model.DailyRank, limit int, keep func(int64) bool) []model.DailyRank {
	var out []model.DailyRank
	for _, r := range stats {
		if !keep(r.NetProfit) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
