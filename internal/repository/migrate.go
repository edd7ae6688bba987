// Package repository provides the PostgreSQL archive of ledger transactions
// and the player directory used for display names and daily rankings.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "players table",
		sql: `
		CREATE TABLE IF NOT EXISTS players (
			community_id TEXT NOT NULL,
			player_id TEXT NOT NULL,
			username VARCHAR(255) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (community_id, player_id)
		);
		`,
	},
	{
		name: "transactions table",
		sql: `
		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			community_id TEXT NOT NULL,
			player_id TEXT NOT NULL,
			amount_delta BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			kind VARCHAR(32) NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_player_time
			ON transactions(community_id, player_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_kind_time
			ON transactions(community_id, kind, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_session
			ON transactions(session_id) WHERE session_id <> '';
		`,
	},
}

// Migrate creates the archive schema. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")
	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Int("migration", i+1).Str("name", m.name).Msg("Migration applied")
	}
	log.Info().Msg("All migrations completed successfully")
	return nil
}
