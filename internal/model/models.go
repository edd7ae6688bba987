// Package model defines the data models shared by the ledger, the archive and the transports.
package model

import "time"

// Transaction is one immutable ledger entry. AmountDelta may be zero for
// audit-only entries such as a forfeited stake.
type Transaction struct {
	ID           string         `json:"id" db:"id"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	CommunityID  string         `json:"community_id" db:"community_id"`
	PlayerID     string         `json:"player_id" db:"player_id"`
	AmountDelta  int64          `json:"amount_delta" db:"amount_delta"`
	BalanceAfter int64          `json:"balance_after" db:"balance_after"`
	Kind         string         `json:"kind" db:"kind"`
	Reason       string         `json:"reason,omitempty" db:"reason"`
	SessionID    string         `json:"session_id,omitempty" db:"session_id"`
	Metadata     map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// DailyRank represents a player's net game result for one day.
type DailyRank struct {
	CommunityID string `json:"community_id" db:"community_id"`
	PlayerID    string `json:"player_id" db:"player_id"`
	Username    string `json:"username,omitempty" db:"username"`
	NetProfit   int64  `json:"net_profit" db:"net_profit"`
}

// Player is the last known display name of a player in a community.
type Player struct {
	CommunityID string    `json:"community_id" db:"community_id"`
	PlayerID    string    `json:"player_id" db:"player_id"`
	Username    string    `json:"username" db:"username"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction kinds for categorizing balance changes.
const (
	TxKindEscrow   = "escrow"    // Stake debited into a session
	TxKindPayout   = "payout"    // Winnings credited on resolution
	TxKindRefund   = "refund"    // Stake returned (push, timeout, failed start)
	TxKindLoss     = "loss"      // Zero-delta audit of a forfeited stake
	TxKindClaim    = "claim"     // Cooldown-gated reward such as the daily bonus
	TxKindTransfer = "transfer"  // Player-to-player transfer
	TxKindAdminAdd = "admin_add" // Admin adjustment
	TxKindAdminSet = "admin_set" // Admin overwrite
)

// SettlementKinds returns the kinds written by session resolution.
func SettlementKinds() []string {
	return []string{TxKindPayout, TxKindRefund, TxKindLoss}
}

// GameKinds returns the kinds that count towards daily game rankings.
func GameKinds() []string {
	return []string{TxKindEscrow, TxKindPayout, TxKindRefund}
}

// IsSettlement reports whether kind is written by session resolution.
func IsSettlement(kind string) bool {
	for _, k := range SettlementKinds() {
		if k == kind {
			return true
		}
	}
	return false
}
