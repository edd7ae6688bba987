// Package session holds live game sessions: at most one per key, timers
// owned through a side table, and write-through persistence for games that
// survive restarts.
package session

import (
	"errors"
	"time"

	"wagerbot/internal/notify"
)

// Registry errors.
var (
	// ErrSessionConflict is returned when the key already has a live session.
	ErrSessionConflict = errors.New("a session is already active")
	// ErrSessionNotFound is returned when no live session matches.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotOwner is returned when a non-owner acts on a single-player session.
	ErrNotOwner = errors.New("only the session owner can do that")
)

// Key identifies a session slot. Player is empty for pooled, community-wide games.
type Key struct {
	Community string `json:"community"`
	Player    string `json:"player,omitempty"`
}

// Pooled reports whether the key addresses a community-wide session.
func (k Key) Pooled() bool {
	return k.Player == ""
}

// String returns a stable form of the key, also used as a lock name.
func (k Key) String() string {
	if k.Pooled() {
		return k.Community
	}
	return k.Community + ":" + k.Player
}

// State is a game-specific phase value. Each game decodes its own states.
type State interface {
	Phase() string
}

// Entry is one stake placed into a session.
type Entry struct {
	Player string `json:"player"`
	Stake  int64  `json:"stake"`
	Tag    string `json:"tag,omitempty"`
}

// Session is a live game instance.
type Session struct {
	ID         string
	Key        Key
	GameType   string
	Owner      string
	State      State
	Stake      int64
	Entries    []Entry
	CreatedAt  time.Time
	DeadlineAt *time.Time
	Persist    bool
	Target     notify.Target
}

// Phase returns the state phase, or "pending" before the game has started.
func (s Session) Phase() string {
	if s.State == nil {
		return "pending"
	}
	return s.State.Phase()
}

// AddEntry records a stake.
func (s *Session) AddEntry(player string, stake int64, tag string) {
	s.Entries = append(s.Entries, Entry{Player: player, Stake: stake, Tag: tag})
	s.Stake += stake
}

// Stakes aggregates escrowed stakes per player, in order of first entry.
func (s Session) Stakes() []Entry {
	idx := make(map[string]int)
	var out []Entry
	for _, e := range s.Entries {
		i, ok := idx[e.Player]
		if !ok {
			idx[e.Player] = len(out)
			out = append(out, Entry{Player: e.Player, Stake: e.Stake})
			continue
		}
		out[i].Stake += e.Stake
	}
	return out
}

// Expired reports whether the session is past its deadline at now.
func (s Session) Expired(now time.Time) bool {
	return s.DeadlineAt != nil && !now.Before(*s.DeadlineAt)
}

func (s Session) clone() Session {
	c := s
	if s.Entries != nil {
		c.Entries = append([]Entry(nil), s.Entries...)
	}
	if s.DeadlineAt != nil {
		d := *s.DeadlineAt
		c.DeadlineAt = &d
	}
	return c
}
