package snapshot

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Counter int `json:"counter"`
}

func TestWriteAndReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	var empty doc
	found, err := ReadJSON(path, &empty)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, WriteJSON(path, doc{Counter: 7}))

	var got doc
	found, err = ReadJSON(path, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, got.Counter)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestReadJSONCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var got doc
	_, err := ReadJSON(path, &got)
	assert.ErrorIs(t, err, ErrCorrupt)

	// The broken file is kept beside the path, which now reads as empty.
	aside, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, aside, 1)
	data, err := os.ReadFile(aside[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))

	found, err := ReadJSON(path, &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWriterCoalescesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	var counter atomic.Int64
	var encodes atomic.Int64

	w := NewWriter("test", path, 30*time.Millisecond, func() ([]byte, error) {
		encodes.Add(1)
		return json.Marshal(doc{Counter: int(counter.Load())})
	})

	for i := 0; i < 50; i++ {
		counter.Add(1)
		w.Schedule()
	}
	assert.True(t, w.Pending())

	require.Eventually(t, func() bool { return !w.Pending() && encodes.Load() > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), encodes.Load())

	var got doc
	_, err := ReadJSON(path, &got)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Counter, "encode runs at flush time and sees the latest state")
}

func TestWriterRetriesAfterFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	var calls atomic.Int64

	w := NewWriter("flaky", path, 10*time.Millisecond, func() ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("boom")
		}
		return json.Marshal(doc{Counter: 1})
	})
	w.Schedule()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int64(2))
}

func TestWriterFlushAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	w := NewWriter("test", path, time.Hour, func() ([]byte, error) {
		return json.Marshal(doc{Counter: 3})
	})

	w.Schedule()
	require.NoError(t, w.Close())
	assert.False(t, w.Pending())

	var got doc
	found, err := ReadJSON(path, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, got.Counter)

	assert.ErrorIs(t, w.Flush(), ErrClosed)
}

func TestWriterInMemory(t *testing.T) {
	w := NewWriter("memory", "", 0, func() ([]byte, error) {
		t.Fatal("encode must not run without a path")
		return nil, nil
	})
	w.Schedule()
	assert.False(t, w.Pending())
	assert.NoError(t, w.Flush())
	assert.NoError(t, w.Close())
}
