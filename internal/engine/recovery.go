package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"wagerbot/internal/game"
	"wagerbot/internal/model"
	"wagerbot/internal/notify"
	"wagerbot/internal/session"
)

// RecoveryReport counts what Recover did with each persisted session.
type RecoveryReport struct {
	Resumed  int
	Refunded int
	Expired  int
	TornDown int
	Dropped  int
}

// Total returns the number of persisted sessions seen.
func (r RecoveryReport) Total() int {
	return r.Resumed + r.Refunded + r.Expired + r.TornDown + r.Dropped
}

// Recover restores persisted sessions. It must run before any transport
// accepts commands. For each session the ledger decides:
//   - every staked player already settled: the session is torn down
//   - no state, or an escrow trimmed from the retained log: stakes are refunded
//   - past its deadline: the game's timeout rule runs
//   - otherwise its timers are re-armed
//
// A staked session whose escrow is neither in the log nor trimmed from it
// never took the stake and is dropped. Restored sessions are notified
// through Options.Retarget, if set.
func (e *Engine) Recover(ctx context.Context, decode session.StateDecoder) (RecoveryReport, error) {
	var report RecoveryReport
	if decode == nil {
		decode = e.games.DecodeState
	}
	restored, err := e.sessions.Restore(decode)
	if err != nil {
		return report, fmt.Errorf("failed to recover sessions: %w", err)
	}

	now := e.now()
	for _, s := range restored {
		e.locks.Lock(s.Key.String())
		outcome := e.recoverOne(ctx, s, now)
		e.locks.Unlock(s.Key.String())

		switch outcome {
		case recoverResumed:
			report.Resumed++
		case recoverRefunded:
			report.Refunded++
		case recoverExpired:
			report.Expired++
		case recoverTornDown:
			report.TornDown++
		default:
			report.Dropped++
		}
	}

	if report.Total() > 0 {
		log.Info().
			Int("resumed", report.Resumed).
			Int("refunded", report.Refunded).
			Int("expired", report.Expired).
			Int("torn_down", report.TornDown).
			Int("dropped", report.Dropped).
			Msg("Recovered persisted sessions")
	}
	return report, nil
}

type recoverOutcome int

const (
	recoverDropped recoverOutcome = iota
	recoverResumed
	recoverRefunded
	recoverExpired
	recoverTornDown
)

func (e *Engine) recoverOne(ctx context.Context, s session.Session, now time.Time) recoverOutcome {
	settled, escrowed := e.ledgerTrail(s)
	stakes := s.Stakes()

	logger := log.With().Str("session_id", s.ID).Str("game", s.GameType).Str("key", s.Key.String()).Logger()

	if s.Target == nil && e.retarget != nil {
		s.Target = e.retarget(s.Key.Community)
	}
	if err := e.sessions.Adopt(s); err != nil {
		logger.Error().Err(err).Msg("Failed to adopt persisted session")
		return recoverDropped
	}

	if len(stakes) > 0 && allSettled(stakes, settled) {
		logger.Info().Msg("Persisted session was already settled, tearing down")
		e.sessions.Remove(s.Key, s.ID)
		return recoverTornDown
	}

	// An escrow missing from the log was only lost if the log has been
	// trimmed past the session's start. Otherwise it never reached disk.
	escrowLost := !escrowed && s.Stake > 0 && e.trimmedSince(s.Key.Community, s.CreatedAt)

	m, err := e.games.MustGet(s.GameType)
	switch {
	case !escrowed && !escrowLost && (s.State == nil || s.Stake > 0):
		logger.Info().Msg("Persisted session never took a stake, dropping")
		e.sessions.Remove(s.Key, s.ID)
		return recoverDropped
	case err != nil || s.State == nil || escrowLost:
		logger.Warn().Bool("escrow_visible", escrowed).Msg("Refunding persisted session")
		e.resolve(ctx, s, game.RefundAll(s, game.ResultRefund, "Session could not be resumed, stakes are returned."), notify.KindRecovered, settled)
		return recoverRefunded
	case s.Expired(now):
		logger.Info().Msg("Persisted session expired while offline")
		e.expire(ctx, s, m, settled)
		return recoverExpired
	}

	e.arm(s, m.Policy())
	logger.Info().Msg("Resumed persisted session")
	return recoverResumed
}

// ledgerTrail reports which players already hold a settlement entry for the
// session and whether any escrow for it is still in the retained log.
func (e *Engine) ledgerTrail(s session.Session) (map[string]bool, bool) {
	settled := make(map[string]bool)
	escrowed := false
	for _, tx := range e.ledger.SessionTransactions(s.Key.Community, s.ID) {
		switch {
		case tx.Kind == model.TxKindEscrow:
			escrowed = true
		case model.IsSettlement(tx.Kind) && tx.Reason != reasonActionRejected:
			settled[tx.PlayerID] = true
		}
	}
	return settled, escrowed
}

// trimmedSince reports whether entries older than the oldest retained one
// may have been evicted after t.
func (e *Engine) trimmedSince(community string, t time.Time) bool {
	oldest, ok := e.ledger.OldestTransaction(community)
	return ok && oldest.CreatedAt.After(t)
}

func allSettled(stakes []session.Entry, settled map[string]bool) bool {
	for _, st := range stakes {
		if !settled[st.Player] {
			return false
		}
	}
	return true
}
