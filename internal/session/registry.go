package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wagerbot/internal/notify"
	"wagerbot/internal/pkg/idgen"
	"wagerbot/internal/pkg/snapshot"
)

// Spec describes a session to create.
type Spec struct {
	Key      Key
	GameType string
	Owner    string
	Stake    int64
	Persist  bool
	Target   notify.Target
}

// Options configures a Registry.
type Options struct {
	// Path is the write-through store for persistent sessions. Empty keeps
	// every session in memory only.
	Path      string
	Scheduler *Scheduler
	Now       func() time.Time
}

// Registry maps session keys to live sessions. Reads return copies; all
// writes go through TryCreate, Apply, Adopt and Remove.
type Registry struct {
	mu       sync.RWMutex
	sessions map[Key]*Session
	sched    *Scheduler
	writer   *snapshot.Writer
	now      func() time.Time
}

// NewRegistry creates a Registry.
func NewRegistry(opts Options) *Registry {
	if opts.Scheduler == nil {
		opts.Scheduler = NewScheduler()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Registry{
		sessions: make(map[Key]*Session),
		sched:    opts.Scheduler,
		now:      opts.Now,
	}
	r.writer = snapshot.NewWriter("sessions", opts.Path, 0, r.encode)
	return r
}

// Scheduler returns the timer side table bound to this registry.
func (r *Registry) Scheduler() *Scheduler {
	return r.sched
}

// TryCreate inserts a new session if the key is free. The check and the
// insert are one atomic step.
func (r *Registry) TryCreate(spec Spec) (Session, error) {
	now := r.now()
	r.mu.Lock()
	if existing, ok := r.sessions[spec.Key]; ok {
		r.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s (%s)", ErrSessionConflict, existing.GameType, existing.ID)
	}
	s := &Session{
		ID:        idgen.NewIDAt(now),
		Key:       spec.Key,
		GameType:  spec.GameType,
		Owner:     spec.Owner,
		CreatedAt: now,
		Persist:   spec.Persist,
		Target:    spec.Target,
	}
	if spec.Stake > 0 {
		s.AddEntry(spec.Owner, spec.Stake, "")
	}
	r.sessions[spec.Key] = s
	out := s.clone()
	r.mu.Unlock()

	if out.Persist {
		r.persist()
	}
	return out, nil
}

// Get returns a copy of the live session for key.
func (r *Registry) Get(key Key) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Apply runs fn against a copy of the session and stores the result if fn
// succeeds. An empty actor is the system and skips the ownership check, as
// do pooled sessions.
func (r *Registry) Apply(key Key, actor string, fn func(*Session) error) (Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok {
		r.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	if actor != "" && !key.Pooled() && actor != s.Owner {
		r.mu.Unlock()
		return Session{}, ErrNotOwner
	}
	next := s.clone()
	if err := fn(&next); err != nil {
		r.mu.Unlock()
		return Session{}, err
	}
	next.ID, next.Key = s.ID, s.Key
	r.sessions[key] = &next
	out := next.clone()
	r.mu.Unlock()

	if out.Persist {
		r.persist()
	}
	return out, nil
}

// Adopt inserts a restored session as-is.
func (r *Registry) Adopt(s Session) error {
	r.mu.Lock()
	if _, ok := r.sessions[s.Key]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionConflict, s.Key)
	}
	c := s.clone()
	r.sessions[s.Key] = &c
	r.mu.Unlock()
	return nil
}

// Remove deletes the session for key and cancels its timers in the same
// step. A non-empty id only removes that generation of the key. Returns
// false if nothing was removed.
func (r *Registry) Remove(key Key, id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok || (id != "" && s.ID != id) {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, key)
	r.sched.Cancel(key)
	persisted := s.Persist
	r.mu.Unlock()

	if persisted {
		r.persist()
	}
	log.Debug().Str("session_id", s.ID).Str("key", key.String()).Msg("Session removed")
	return true
}

// List returns copies of all live sessions ordered by creation time.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) persist() {
	if err := r.writer.Flush(); err != nil {
		log.Error().Err(err).Str("path", r.writer.Path()).Msg("Failed to persist sessions")
	}
}
