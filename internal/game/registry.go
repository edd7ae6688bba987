package game

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"wagerbot/internal/session"
)

// Registry manages game registration and lookup by type.
type Registry struct {
	games map[string]Machine
	mu    sync.RWMutex
}

// NewRegistry creates a new game registry.
func NewRegistry() *Registry {
	return &Registry{
		games: make(map[string]Machine),
	}
}

// Register adds a game to the registry.
// If a game with the same type already exists, it will be replaced.
func (r *Registry) Register(m Machine) error {
	if m == nil {
		return fmt.Errorf("cannot register nil game")
	}
	if m.Type() == "" {
		return fmt.Errorf("game type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[m.Type()] = m
	return nil
}

// Get retrieves a game by its type.
func (r *Registry) Get(gameType string) (Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.games[gameType]
	return m, ok
}

// MustGet retrieves a game or returns ErrUnknownGame.
func (r *Registry) MustGet(gameType string) (Machine, error) {
	m, ok := r.Get(gameType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, gameType)
	}
	return m, nil
}

// List returns all registered games ordered by type.
func (r *Registry) List() []Machine {
	r.mu.RLock()
	games := make([]Machine, 0, len(r.games))
	for _, m := range r.games {
		games = append(games, m)
	}
	r.mu.RUnlock()

	sort.Slice(games, func(i, j int) bool { return games[i].Type() < games[j].Type() })
	return games
}

// Types returns all registered game types, sorted.
func (r *Registry) Types() []string {
	games := r.List()
	types := make([]string, len(games))
	for i, m := range games {
		types[i] = m.Type()
	}
	return types
}

// Count returns the number of registered games.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// Unregister removes a game by type.
// Returns true if the game was found and removed, false otherwise.
func (r *Registry) Unregister(gameType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.games[gameType]; ok {
		delete(r.games, gameType)
		return true
	}
	return false
}

// DecodeState decodes a persisted state with the owning game's decoder.
// It satisfies session.StateDecoder.
func (r *Registry) DecodeState(gameType string, raw json.RawMessage) (session.State, error) {
	m, err := r.MustGet(gameType)
	if err != nil {
		return nil, err
	}
	return m.DecodeState(raw)
}
