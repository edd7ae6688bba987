package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"wagerbot/internal/pkg/snapshot"
)

// StateDecoder turns a persisted state back into the game's State value.
type StateDecoder func(gameType string, raw json.RawMessage) (State, error)

type record struct {
	ID         string          `json:"id"`
	Key        Key             `json:"key"`
	GameType   string          `json:"game_type"`
	Owner      string          `json:"owner"`
	Phase      string          `json:"phase"`
	State      json.RawMessage `json:"state"`
	Stake      int64           `json:"stake"`
	Entries    []Entry         `json:"entries"`
	CreatedAt  time.Time       `json:"created_at"`
	DeadlineAt *time.Time      `json:"deadline_at,omitempty"`
}

type storeFile struct {
	Version  int      `json:"version"`
	Sessions []record `json:"sessions"`
}

func (r *Registry) encode() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := storeFile{Version: 1, Sessions: []record{}}
	for _, s := range r.sessions {
		if !s.Persist {
			continue
		}
		rec := record{
			ID:         s.ID,
			Key:        s.Key,
			GameType:   s.GameType,
			Owner:      s.Owner,
			Phase:      s.Phase(),
			Stake:      s.Stake,
			Entries:    s.Entries,
			CreatedAt:  s.CreatedAt,
			DeadlineAt: s.DeadlineAt,
		}
		if s.State != nil {
			raw, err := json.Marshal(s.State)
			if err != nil {
				return nil, fmt.Errorf("failed to encode state of session %s: %w", s.ID, err)
			}
			rec.State = raw
		}
		doc.Sessions = append(doc.Sessions, rec)
	}
	return json.Marshal(doc)
}

// Restore reads the persisted sessions without registering them. A session
// whose state cannot be decoded is returned with a nil State so the caller
// can still settle its stakes.
func (r *Registry) Restore(decode StateDecoder) ([]Session, error) {
	path := r.writer.Path()
	if path == "" {
		return nil, nil
	}
	var doc storeFile
	found, err := snapshot.ReadJSON(path, &doc)
	if errors.Is(err, snapshot.ErrCorrupt) {
		log.Error().Err(err).Msg("Session snapshot is corrupt, starting with no sessions")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to restore sessions: %w", err)
	}
	if !found {
		return nil, nil
	}

	out := make([]Session, 0, len(doc.Sessions))
	for _, rec := range doc.Sessions {
		s := Session{
			ID:         rec.ID,
			Key:        rec.Key,
			GameType:   rec.GameType,
			Owner:      rec.Owner,
			Stake:      rec.Stake,
			Entries:    rec.Entries,
			CreatedAt:  rec.CreatedAt,
			DeadlineAt: rec.DeadlineAt,
			Persist:    true,
		}
		if len(rec.State) > 0 {
			state, err := decode(rec.GameType, rec.State)
			if err != nil {
				log.Error().Err(err).Str("session_id", rec.ID).Str("game", rec.GameType).
					Msg("Failed to decode persisted session state")
			} else {
				s.State = state
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// Flush writes the persistent sessions synchronously.
func (r *Registry) Flush() error {
	return r.writer.Flush()
}
