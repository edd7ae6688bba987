package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wagerbot/internal/model"
)

// TransactionRepository archives ledger transactions and answers history and
// daily ranking queries the bounded in-memory log cannot.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Archive stores tx. Archiving the same transaction twice is a no-op.
func (r *TransactionRepository) Archive(ctx context.Context, tx model.Transaction) error {
	const query = `
		INSERT INTO transactions (id, community_id, player_id, amount_delta, balance_after,
			kind, reason, session_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		tx.ID,
		tx.CommunityID,
		tx.PlayerID,
		tx.AmountDelta,
		tx.BalanceAfter,
		tx.Kind,
		tx.Reason,
		tx.SessionID,
		tx.Metadata,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive transaction: %w", err)
	}
	return nil
}

// ListByPlayer returns a player's transactions, newest first.
func (r *TransactionRepository) ListByPlayer(ctx context.Context, community, player string, limit int) ([]model.Transaction, error) {
	const query = `
		SELECT id, community_id, player_id, amount_delta, balance_after,
			kind, reason, session_id, metadata, created_at
		FROM transactions
		WHERE community_id = $1 AND player_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, community, player, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var transactions []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		err := rows.Scan(
			&tx.ID,
			&tx.CommunityID,
			&tx.PlayerID,
			&tx.AmountDelta,
			&tx.BalanceAfter,
			&tx.Kind,
			&tx.Reason,
			&tx.SessionID,
			&tx.Metadata,
			&tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// ListBySession returns every archived entry of a session, oldest first.
func (r *TransactionRepository) ListBySession(ctx context.Context, sessionID string) ([]model.Transaction, error) {
	const query = `
		SELECT id, community_id, player_id, amount_delta, balance_after,
			kind, reason, session_id, metadata, created_at
		FROM transactions
		WHERE session_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session transactions: %w", err)
	}
	defer rows.Close()

	transactions, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Transaction])
	if err != nil {
		return nil, fmt.Errorf("failed to scan session transactions: %w", err)
	}
	return transactions, nil
}

// dayBounds returns the start and end of date's day in its location.
func dayBounds(date time.Time) (time.Time, time.Time) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return startOfDay, startOfDay.AddDate(0, 0, 1)
}

// rankQuery sums game entries per player for one community and day. The
// having clause is appended by the caller.
const rankQuery = `
	SELECT t.community_id, t.player_id, COALESCE(p.username, '') AS username,
		COALESCE(SUM(t.amount_delta), 0) AS net_profit
	FROM transactions t
	LEFT JOIN players p ON p.community_id = t.community_id AND p.player_id = t.player_id
	WHERE t.community_id = $1
	  AND t.kind = ANY($2)
	  AND t.created_at >= $3
	  AND t.created_at < $4
	GROUP BY t.community_id, t.player_id, p.username
`

func (r *TransactionRepository) queryRanks(ctx context.Context, query string, args ...any) ([]model.DailyRank, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[model.DailyRank])
}

// GetDailyStats returns every player's net game result for the day,
// best first. Escrows, payouts and refunds count; claims, transfers and
// admin adjustments do not.
func (r *TransactionRepository) GetDailyStats(ctx context.Context, community string, date time.Time) ([]model.DailyRank, error) {
	start, end := dayBounds(date)
	stats, err := r.queryRanks(ctx, rankQuery+`ORDER BY net_profit DESC, t.player_id`,
		community, model.GameKinds(), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	return stats, nil
}

// GetDailyWinners returns players with a positive net result, biggest first.
func (r *TransactionRepository) GetDailyWinners(ctx context.Context, community string, date time.Time, limit int) ([]model.DailyRank, error) {
	start, end := dayBounds(date)
	winners, err := r.queryRanks(ctx, rankQuery+`HAVING SUM(t.amount_delta) > 0 ORDER BY net_profit DESC, t.player_id LIMIT $5`,
		community, model.GameKinds(), start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily winners: %w", err)
	}
	return winners, nil
}

// GetDailyLosers returns players with a negative net result, biggest loss first.
func (r *TransactionRepository) GetDailyLosers(ctx context.Context, community string, date time.Time, limit int) ([]model.DailyRank, error) {
	start, end := dayBounds(date)
	losers, err := r.queryRanks(ctx, rankQuery+`HAVING SUM(t.amount_delta) < 0 ORDER BY net_profit ASC, t.player_id LIMIT $5`,
		community, model.GameKinds(), start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily losers: %w", err)
	}
	return losers, nil
}

// GetPlayerDailyProfit returns one player's net game result for the day.
func (r *TransactionRepository) GetPlayerDailyProfit(ctx context.Context, community, player string, date time.Time) (int64, error) {
	start, end := dayBounds(date)

	const query = `
		SELECT COALESCE(SUM(amount_delta), 0)
		FROM transactions
		WHERE community_id = $1
		  AND player_id = $2
		  AND kind = ANY($3)
		  AND created_at >= $4
		  AND created_at < $5
	`

	var profit int64
	err := r.pool.QueryRow(ctx, query, community, player, model.GameKinds(), start, end).Scan(&profit)
	if err != nil {
		return 0, fmt.Errorf("failed to get player daily profit: %w", err)
	}

	return profit, nil
}
