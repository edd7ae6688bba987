// Package engine runs game sessions end to end: it escrows stakes, drives
// the game machines, owns their timers through the session registry, and
// settles outcomes on the ledger exactly once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wagerbot/internal/game"
	"wagerbot/internal/ledger"
	"wagerbot/internal/model"
	"wagerbot/internal/notify"
	"wagerbot/internal/pkg/lock"
	"wagerbot/internal/session"
)

const (
	// DefaultNotifyTimeout bounds one notification delivery.
	DefaultNotifyTimeout = 10 * time.Second
	// DefaultLockTimeout bounds the wait for a busy session key.
	DefaultLockTimeout = 5 * time.Second
)

// ErrBusy is returned when a session key stays locked past the lock timeout.
var ErrBusy = errors.New("session is busy")

// Reasons on refunds that undo an escrow. A rejected action's stake never
// joined the session, so that refund is not a settlement.
const (
	reasonStartRejected  = "start_rejected"
	reasonActionRejected = "action_rejected"
)

// Ledger is the balance store the engine settles against.
type Ledger interface {
	GetBalance(community, player string) int64
	AddBalance(community, player string, delta int64, e ledger.Entry) (ledger.Result, error)
	LogTransaction(community, player string, e ledger.Entry) (model.Transaction, error)
	SessionTransactions(community, sessionID string) []model.Transaction
	OldestTransaction(community string) (model.Transaction, bool)
	Flush() error
}

// Command starts a session.
type Command struct {
	Community string
	Player    string
	GameType  string
	Stake     int64
	Params    map[string]any
	// Target receives the resolution event. Nil resolves silently.
	Target notify.Target
}

// Action is a move on a live session.
type Action struct {
	Key    session.Key
	Player string
	Name   string
	Stake  int64
	Params map[string]any
}

// View is what a caller sees after Start or Act. Resolution is set when the
// call ended the session.
type View struct {
	Session    session.Session
	Phase      string
	Display    map[string]any
	Resolution *notify.Event
}

// Resolved reports whether the session ended.
func (v View) Resolved() bool {
	return v.Resolution != nil
}

// Options configures an Engine.
type Options struct {
	Notifier      notify.Notifier
	NotifyTimeout time.Duration
	// Retarget supplies the notification target of a session restored
	// after a restart.
	Retarget    func(community string) notify.Target
	LockTimeout time.Duration
	Now         func() time.Time
}

// Engine is safe for concurrent use. Every operation on a session key runs
// under that key's lock, so actions, ticks and deadlines never interleave.
type Engine struct {
	ledger   Ledger
	sessions *session.Registry
	games    *game.Registry
	notifier notify.Notifier
	timeout  time.Duration
	retarget func(community string) notify.Target
	now      func() time.Time

	locks    *lock.KeyedLock
	lockWait time.Duration
	settling sync.Map // session ID -> struct{}
	inflight sync.WaitGroup
}

// New creates an Engine.
func New(l Ledger, sessions *session.Registry, games *game.Registry, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	return &Engine{
		ledger:   l,
		sessions: sessions,
		games:    games,
		notifier: opts.Notifier,
		timeout:  opts.NotifyTimeout,
		retarget: opts.Retarget,
		now:      opts.Now,
		locks:    lock.NewKeyedLock(),
		lockWait: opts.LockTimeout,
	}
}

// Games returns the game registry.
func (e *Engine) Games() *game.Registry {
	return e.games
}

// Sessions returns the session registry.
func (e *Engine) Sessions() *session.Registry {
	return e.sessions
}

// KeyFor returns the session key a game uses for a player in a community.
func (e *Engine) KeyFor(gameType, community, player string) (session.Key, error) {
	m, err := e.games.MustGet(gameType)
	if err != nil {
		return session.Key{}, err
	}
	if m.Policy().Pooled {
		return session.Key{Community: community}, nil
	}
	return session.Key{Community: community, Player: player}, nil
}

// Start opens a session, escrows the stake and runs the game's opening
// transition. An instant game resolves before Start returns.
func (e *Engine) Start(ctx context.Context, cmd Command) (View, error) {
	m, err := e.games.MustGet(cmd.GameType)
	if err != nil {
		return View{}, err
	}
	pol := m.Policy()
	if cmd.Stake < 0 {
		return View{}, fmt.Errorf("%w: stake cannot be negative", game.ErrInvalidStake)
	}
	if cmd.Stake > 0 || pol.MinStake > 0 {
		if err := m.ValidateStake(cmd.Stake); err != nil {
			return View{}, err
		}
	}

	key := session.Key{Community: cmd.Community, Player: cmd.Player}
	if pol.Pooled {
		key.Player = ""
	}
	var view View
	err = e.withKey(ctx, key, func() error {
		var err error
		view, err = e.start(ctx, m, pol, key, cmd)
		return err
	})
	return view, err
}

func (e *Engine) start(ctx context.Context, m game.Machine, pol game.Policy, key session.Key, cmd Command) (View, error) {
	s, err := e.sessions.TryCreate(session.Spec{
		Key:      key,
		GameType: cmd.GameType,
		Owner:    cmd.Player,
		Stake:    cmd.Stake,
		Persist:  pol.Persist,
		Target:   cmd.Target,
	})
	if err != nil {
		return View{}, err
	}

	if cmd.Stake > 0 {
		if _, err := e.escrow(s, cmd.Player, cmd.Stake, "start"); err != nil {
			e.sessions.Remove(key, s.ID)
			return View{}, err
		}
	}

	now := e.now()
	tr, err := m.Start(s, cmd.Params, now)
	if err == nil && cmd.Stake > 0 {
		// The escrow reaches disk before the hand it pays for.
		err = e.syncLedger(s)
	}
	if err != nil {
		e.compensate(s, cmd.Player, cmd.Stake, reasonStartRejected)
		e.sessions.Remove(key, s.ID)
		return View{}, err
	}

	s, err = e.sessions.Apply(key, "", func(cur *session.Session) error {
		cur.State = tr.State
		if pol.Deadline > 0 && !tr.Terminal() {
			at := now.Add(pol.Deadline)
			cur.DeadlineAt = &at
		}
		return nil
	})
	if err != nil {
		return View{}, fmt.Errorf("failed to store opening state: %w", err)
	}

	log.Info().
		Str("session_id", s.ID).
		Str("game", s.GameType).
		Str("key", key.String()).
		Int64("stake", cmd.Stake).
		Msg("Session started")

	if tr.Terminal() {
		return e.finish(ctx, m, s, tr.Outcome, notify.KindResolved), nil
	}
	e.arm(s, pol)
	return e.view(m, s, nil), nil
}

// Act applies a player action. A stake on the action is escrowed first and
// refunded if the game rejects the action.
func (e *Engine) Act(ctx context.Context, act Action) (View, error) {
	if act.Stake < 0 {
		return View{}, fmt.Errorf("%w: stake cannot be negative", game.ErrInvalidStake)
	}
	var view View
	err := e.withKey(ctx, act.Key, func() error {
		var err error
		view, err = e.act(ctx, act)
		return err
	})
	return view, err
}

func (e *Engine) act(ctx context.Context, act Action) (View, error) {
	s, ok := e.sessions.Get(act.Key)
	if !ok {
		return View{}, session.ErrSessionNotFound
	}
	if !act.Key.Pooled() && act.Player != "" && act.Player != s.Owner {
		return View{}, session.ErrNotOwner
	}
	m, err := e.games.MustGet(s.GameType)
	if err != nil {
		return View{}, err
	}
	pol := m.Policy()

	if act.Stake > 0 {
		if _, err := e.escrow(s, act.Player, act.Stake, act.Name); err != nil {
			return View{}, err
		}
		if err := e.syncLedger(s); err != nil {
			e.compensate(s, act.Player, act.Stake, reasonActionRejected)
			return View{}, err
		}
	}

	now := e.now()
	var tr game.Transition
	updated, err := e.sessions.Apply(act.Key, act.Player, func(cur *session.Session) error {
		next, err := m.Apply(*cur, game.Action{
			Player: act.Player,
			Name:   act.Name,
			Stake:  act.Stake,
			Params: act.Params,
		}, now)
		if err != nil {
			return err
		}
		tr = next
		cur.State = next.State
		if act.Stake > 0 {
			cur.AddEntry(act.Player, act.Stake, act.Name)
		}
		if pol.ExtendOnAction && pol.Deadline > 0 && !next.Terminal() {
			at := now.Add(pol.Deadline)
			cur.DeadlineAt = &at
		}
		return nil
	})
	if err != nil {
		if act.Stake > 0 {
			e.compensate(s, act.Player, act.Stake, reasonActionRejected)
		}
		return View{}, err
	}

	if tr.Terminal() {
		return e.finish(ctx, m, updated, tr.Outcome, notify.KindResolved), nil
	}
	if pol.ExtendOnAction && updated.DeadlineAt != nil {
		e.sessions.Scheduler().ArmDeadline(updated.Key, updated.ID, *updated.DeadlineAt, e.deadlineFunc(updated.Key, updated.ID))
	}
	return e.view(m, updated, nil), nil
}

// Get returns the player-visible view of a live session.
func (e *Engine) Get(key session.Key) (View, error) {
	s, ok := e.sessions.Get(key)
	if !ok {
		return View{}, session.ErrSessionNotFound
	}
	m, err := e.games.MustGet(s.GameType)
	if err != nil {
		return View{}, err
	}
	return e.view(m, s, nil), nil
}

// Wait blocks until in-flight notifications are delivered.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

func (e *Engine) view(m game.Machine, s session.Session, ev *notify.Event) View {
	return View{Session: s, Phase: s.Phase(), Display: m.Describe(s), Resolution: ev}
}

func (e *Engine) finish(ctx context.Context, m game.Machine, s session.Session, out *game.Outcome, kind string) View {
	ev := e.resolve(ctx, s, out, kind, nil)
	return e.view(m, s, ev)
}

func (e *Engine) escrow(s session.Session, player string, stake int64, reason string) (ledger.Result, error) {
	res, err := e.ledger.AddBalance(s.Key.Community, player, -stake, ledger.Entry{
		Kind:      model.TxKindEscrow,
		Reason:    reason,
		SessionID: s.ID,
		Metadata:  map[string]any{"game": s.GameType},
	})
	if err != nil {
		return ledger.Result{}, fmt.Errorf("failed to escrow stake: %w", err)
	}
	return res, nil
}

// compensate returns an escrow whose start or action was rejected.
func (e *Engine) compensate(s session.Session, player string, stake int64, reason string) {
	if stake <= 0 {
		return
	}
	_, err := e.ledger.AddBalance(s.Key.Community, player, stake, ledger.Entry{
		Kind:      model.TxKindRefund,
		Reason:    reason,
		SessionID: s.ID,
		Metadata:  map[string]any{"game": s.GameType},
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Str("player", player).Int64("stake", stake).
			Msg("Failed to refund rejected stake")
		return
	}
	if err := e.syncLedger(s); err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Msg("Refund of rejected stake is not on disk yet")
	}
}

// syncLedger writes the ledger through before a persisted session's file
// records a step that depends on it. Sessions kept in memory only skip it.
func (e *Engine) syncLedger(s session.Session) error {
	if !s.Persist {
		return nil
	}
	if err := e.ledger.Flush(); err != nil {
		return fmt.Errorf("failed to flush ledger: %w", err)
	}
	return nil
}

// withKey runs fn under the session key's lock. Waiting for the lock gives
// up with ErrBusy after the lock timeout, or with ctx's error once ctx ends.
func (e *Engine) withKey(ctx context.Context, key session.Key, fn func() error) error {
	err := e.locks.WithLockContext(ctx, key.String(), e.lockWait, fn)
	if errors.Is(err, lock.ErrLockTimeout) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", ErrBusy, key)
	}
	return err
}

// arm schedules the session's deadline and ticker.
func (e *Engine) arm(s session.Session, pol game.Policy) {
	sched := e.sessions.Scheduler()
	if s.DeadlineAt != nil {
		sched.ArmDeadline(s.Key, s.ID, *s.DeadlineAt, e.deadlineFunc(s.Key, s.ID))
	}
	if pol.TickInterval > 0 {
		sched.StartTicker(s.Key, s.ID, pol.TickInterval, func() { e.onTick(s.Key, s.ID) })
	}
}

func (e *Engine) deadlineFunc(key session.Key, id string) func() {
	return func() { e.onDeadline(key, id) }
}

// current returns the live session for key if it is still generation id.
func (e *Engine) current(key session.Key, id string) (session.Session, game.Machine, bool) {
	s, ok := e.sessions.Get(key)
	if !ok || s.ID != id {
		return session.Session{}, nil, false
	}
	m, err := e.games.MustGet(s.GameType)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("Session has no registered game")
		return s, nil, true
	}
	return s, m, true
}

func (e *Engine) onDeadline(key session.Key, id string) {
	e.locks.Lock(key.String())
	defer e.locks.Unlock(key.String())

	s, m, ok := e.current(key, id)
	if !ok {
		return
	}
	e.expire(context.Background(), s, m, nil)
}

// expire runs the game's timeout rule. Caller holds the key lock.
func (e *Engine) expire(ctx context.Context, s session.Session, m game.Machine, skip map[string]bool) {
	out := game.RefundAll(s, game.ResultRefund, "Session expired, stakes are returned.")
	if m != nil {
		tr := m.Timeout(s, e.now())
		if tr.Terminal() {
			out = tr.Outcome
			if tr.State != nil {
				s.State = tr.State
			}
		} else {
			log.Warn().Str("session_id", s.ID).Str("game", s.GameType).
				Msg("Timeout did not end the session, refunding")
		}
	}
	log.Info().Str("session_id", s.ID).Str("game", s.GameType).Str("result", out.Result).Msg("Session deadline passed")
	e.resolve(ctx, s, out, notify.KindTimeout, skip)
}

func (e *Engine) onTick(key session.Key, id string) {
	e.locks.Lock(key.String())
	defer e.locks.Unlock(key.String())

	s, m, ok := e.current(key, id)
	if !ok || m == nil {
		return
	}
	tr, err := m.Tick(s, e.now())
	if err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("Tick rejected")
		return
	}
	s, err = e.sessions.Apply(key, "", func(cur *session.Session) error {
		cur.State = tr.State
		return nil
	})
	if err != nil {
		return
	}
	if tr.Terminal() {
		e.resolve(context.Background(), s, tr.Outcome, notify.KindResolved, nil)
	}
}
