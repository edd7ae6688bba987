package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wagerbot/internal/model"
)

// Common errors for repository operations.
var (
	ErrPlayerNotFound = errors.New("player not found")
)

// PlayerRepository remembers display names per community. Balances live in
// the ledger; this table only labels rankings and results.
type PlayerRepository struct {
	pool *pgxpool.Pool
}

// NewPlayerRepository creates a new PlayerRepository instance.
func NewPlayerRepository(pool *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{pool: pool}
}

// Upsert records the player's current username.
func (r *PlayerRepository) Upsert(ctx context.Context, community, player, username string) error {
	const query = `
		INSERT INTO players (community_id, player_id, username, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (community_id, player_id)
		DO UPDATE SET username = EXCLUDED.username, updated_at = NOW()
		WHERE players.username <> EXCLUDED.username
	`

	if _, err := r.pool.Exec(ctx, query, community, player, username); err != nil {
		return fmt.Errorf("failed to upsert player: %w", err)
	}
	return nil
}

// Get returns one player. Returns ErrPlayerNotFound if the player is unknown.
func (r *PlayerRepository) Get(ctx context.Context, community, player string) (*model.Player, error) {
	const query = `
		SELECT community_id, player_id, username, updated_at
		FROM players
		WHERE community_id = $1 AND player_id = $2
	`

	var p model.Player
	err := r.pool.QueryRow(ctx, query, community, player).Scan(
		&p.CommunityID,
		&p.PlayerID,
		&p.Username,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}

	return &p, nil
}

// Names returns the known usernames of the given players. Unknown players
// are absent from the map.
func (r *PlayerRepository) Names(ctx context.Context, community string, players []string) (map[string]string, error) {
	names := make(map[string]string, len(players))
	if len(players) == 0 {
		return names, nil
	}

	const query = `
		SELECT player_id, username
		FROM players
		WHERE community_id = $1 AND player_id = ANY($2)
	`

	rows, err := r.pool.Query(ctx, query, community, players)
	if err != nil {
		return nil, fmt.Errorf("failed to get player names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, username string
		if err := rows.Scan(&id, &username); err != nil {
			return nil, fmt.Errorf("failed to scan player name: %w", err)
		}
		names[id] = username
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating player names: %w", err)
	}

	return names, nil
}
