package engine

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"wagerbot/internal/game"
	"wagerbot/internal/ledger"
	"wagerbot/internal/model"
	"wagerbot/internal/notify"
	"wagerbot/internal/session"
)

// resolve settles an outcome: it credits payouts, records forfeited stakes,
// removes the session and hands the event to the notifier. Players in skip
// were settled before a restart and are left alone. The caller holds the
// key lock. Returns nil if the session was already settled.
func (e *Engine) resolve(ctx context.Context, s session.Session, out *game.Outcome, kind string, skip map[string]bool) *notify.Event {
	if _, busy := e.settling.LoadOrStore(s.ID, struct{}{}); busy {
		log.Debug().Str("session_id", s.ID).Msg("Session is already being settled")
		return nil
	}
	defer e.settling.Delete(s.ID)

	if cur, ok := e.sessions.Get(s.Key); !ok || cur.ID != s.ID {
		log.Debug().Str("session_id", s.ID).Msg("Session already resolved")
		return nil
	}

	paid := make(map[string]int64)
	kinds := make(map[string]string)
	for _, p := range out.Payouts {
		paid[p.Player] += p.Amount
		if _, ok := kinds[p.Player]; !ok {
			kinds[p.Player] = p.Kind
		}
	}

	ev := &notify.Event{
		Kind:      kind,
		SessionID: s.ID,
		GameType:  s.GameType,
		Community: s.Key.Community,
		Owner:     s.Owner,
		Result:    out.Result,
		Summary:   out.Summary,
		Details:   out.Details,
		At:        e.now(),
	}

	for _, st := range s.Stakes() {
		amount := paid[st.Player]
		delete(paid, st.Player)
		if skip[st.Player] {
			continue
		}
		balance := e.settle(s, out, st.Player, amount, kinds[st.Player])
		ev.Payouts = append(ev.Payouts, notify.Payout{Player: st.Player, Stake: st.Stake, Amount: amount, Balance: balance})
	}

	// Payouts to players without a stake, such as a free round.
	extra := make([]string, 0, len(paid))
	for p := range paid {
		extra = append(extra, p)
	}
	sort.Strings(extra)
	for _, p := range extra {
		if skip[p] || paid[p] <= 0 {
			continue
		}
		balance := e.settle(s, out, p, paid[p], kinds[p])
		ev.Payouts = append(ev.Payouts, notify.Payout{Player: p, Amount: paid[p], Balance: balance})
	}

	// Payouts reach disk before the session file forgets the hand.
	if err := e.syncLedger(s); err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Msg("Settlement is not on disk yet")
	}
	e.sessions.Remove(s.Key, s.ID)

	log.Info().
		Str("session_id", s.ID).
		Str("game", s.GameType).
		Str("kind", kind).
		Str("result", out.Result).
		Int("payouts", len(ev.Payouts)).
		Msg("Session resolved")

	e.deliver(s.Target, *ev)
	return ev
}

// settle writes one player's settlement entry and returns the new balance.
func (e *Engine) settle(s session.Session, out *game.Outcome, player string, amount int64, payoutKind string) int64 {
	entry := ledger.Entry{
		Reason:    s.GameType,
		SessionID: s.ID,
		Metadata:  map[string]any{"game": s.GameType, "result": out.Result},
	}
	community := s.Key.Community

	if amount <= 0 {
		entry.Kind = model.TxKindLoss
		if _, err := e.ledger.LogTransaction(community, player, entry); err != nil {
			log.Error().Err(err).Str("session_id", s.ID).Str("player", player).Msg("Failed to record forfeited stake")
		}
		return e.ledger.GetBalance(community, player)
	}

	entry.Kind = model.TxKindPayout
	if payoutKind == game.PayoutRefund {
		entry.Kind = model.TxKindRefund
	}
	res, err := e.ledger.AddBalance(community, player, amount, entry)
	if err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Str("player", player).Int64("amount", amount).
			Msg("Failed to credit payout")
		return e.ledger.GetBalance(community, player)
	}
	return res.Balance
}

// deliver sends ev in the background. Failures are logged; the ledger is
// already settled.
func (e *Engine) deliver(target notify.Target, ev notify.Event) {
	if target == nil || e.notifier == nil {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, target, ev); err != nil {
			log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("Failed to deliver resolution")
		}
	}()
}
