package idgen

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDUniqueAndOrdered(t *testing.T) {
	now := time.Now()
	prev := NewIDAt(now)
	seen := map[string]bool{prev: true}
	for i := 0; i < 1000; i++ {
		id := NewIDAt(now)
		assert.False(t, seen[id], "duplicate id %s", id)
		assert.Greater(t, id, prev)
		seen[id] = true
		prev = id
	}
}

func TestNewIDParses(t *testing.T) {
	id := NewID()
	parsed, err := ulid.ParseStrict(id)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ulid.Time(parsed.Time()), time.Second)
}
