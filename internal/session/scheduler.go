package session

import (
	"sync"
	"time"
)

// timers is the side-table entry for one session key.
type timers struct {
	sessionID  string
	deadline   *time.Timer
	deadlineAt time.Time
	tick       *time.Timer
	interval   time.Duration
	stopped    bool
}

func (t *timers) stop() {
	t.stopped = true
	if t.deadline != nil {
		t.deadline.Stop()
		t.deadline = nil
	}
	if t.tick != nil {
		t.tick.Stop()
		t.tick = nil
	}
}

// Scheduler owns the deadline and tick timers of live sessions, keyed by
// session key. Sessions never hold timer handles themselves.
type Scheduler struct {
	mu      sync.Mutex
	entries map[Key]*timers
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{entries: make(map[Key]*timers)}
}

// entryLocked returns the key's entry for sessionID, replacing an entry
// left over from an older session.
func (s *Scheduler) entryLocked(key Key, sessionID string) *timers {
	if e, ok := s.entries[key]; ok {
		if e.sessionID == sessionID && !e.stopped {
			return e
		}
		e.stop()
	}
	e := &timers{sessionID: sessionID}
	s.entries[key] = e
	return e
}

func (s *Scheduler) live(key Key, e *timers) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key] == e && !e.stopped
}

// ArmDeadline schedules fire at at, replacing any earlier deadline for key.
func (s *Scheduler) ArmDeadline(key Key, sessionID string, at time.Time, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key, sessionID)
	if e.deadline != nil {
		e.deadline.Stop()
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	e.deadlineAt = at

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		current := s.entries[key] == e && !e.stopped && e.deadline == t
		if current {
			e.deadline = nil
		}
		s.mu.Unlock()
		if current {
			fire()
		}
	})
	e.deadline = t
}

// StartTicker calls fire every interval until the key is cancelled. The
// next tick is armed only after fire returns, so ticks never overlap.
func (s *Scheduler) StartTicker(key Key, sessionID string, interval time.Duration, fire func()) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key, sessionID)
	if e.tick != nil {
		e.tick.Stop()
	}
	e.interval = interval

	var t *time.Timer
	t = time.AfterFunc(interval, func() {
		if !s.live(key, e) {
			return
		}
		fire()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.entries[key] == e && !e.stopped && e.tick == t {
			t.Reset(e.interval)
		}
	})
	e.tick = t
}

// Cancel stops every timer for key. It is safe to call repeatedly.
func (s *Scheduler) Cancel(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.stop()
		delete(s.entries, key)
	}
}

// Pending reports whether key has an armed deadline or ticker.
func (s *Scheduler) Pending(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && !e.stopped && (e.deadline != nil || e.tick != nil)
}

// Deadline returns the armed deadline for key.
func (s *Scheduler) Deadline(key Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.deadline == nil {
		return time.Time{}, false
	}
	return e.deadlineAt, true
}

// Len returns the number of keys with timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every timer. Used on shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		e.stop()
		delete(s.entries, key)
	}
}
