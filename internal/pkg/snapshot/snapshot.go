// Package snapshot persists whole-state JSON snapshots. Files are replaced
// atomically and writes are debounced so bursts of mutations coalesce into
// one write.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultDelay is the debounce window used when none is configured.
const DefaultDelay = 100 * time.Millisecond

// Snapshot errors.
var (
	// ErrClosed is returned by Flush after Close.
	ErrClosed = errors.New("snapshot writer closed")
	// ErrCorrupt is returned by ReadJSON when a snapshot does not decode.
	ErrCorrupt = errors.New("snapshot is corrupt")
)

// WriteFile writes data to a temp file next to path, syncs it and renames
// it over path, so readers only ever see a complete snapshot.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// WriteJSON encodes v and writes it with WriteFile.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return WriteFile(path, data)
}

// ReadJSON decodes the snapshot at path into v. It returns false with a nil
// error when no snapshot exists yet. A snapshot that does not decode is
// moved aside so the next write cannot replace it, and ErrCorrupt is
// returned.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		aside, merr := moveAside(path)
		if merr != nil {
			log.Error().Err(merr).Str("path", path).Msg("Failed to move corrupt snapshot aside")
		} else {
			log.Warn().Str("path", path).Str("moved_to", aside).Msg("Moved corrupt snapshot aside")
		}
		return false, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	return true, nil
}

// moveAside renames path to a timestamped .corrupt sibling.
func moveAside(path string) (string, error) {
	aside := fmt.Sprintf("%s.corrupt-%s", path, time.Now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(path, aside); err != nil {
		return "", fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return aside, nil
}

// EncodeFunc produces the bytes of a full snapshot. It is called at flush
// time, not at schedule time.
type EncodeFunc func() ([]byte, error)

// Writer debounces snapshot writes for one file. An empty path makes every
// operation a no-op, which keeps stores usable purely in memory.
type Writer struct {
	name   string
	path   string
	delay  time.Duration
	encode EncodeFunc

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	closed  bool

	writeMu sync.Mutex
}

// NewWriter creates a Writer. name is used only in log lines.
func NewWriter(name, path string, delay time.Duration, encode EncodeFunc) *Writer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Writer{
		name:   name,
		path:   path,
		delay:  delay,
		encode: encode,
	}
}

// Path returns the snapshot file path.
func (w *Writer) Path() string {
	return w.path
}

// Schedule marks the state dirty. A write happens once the debounce window
// elapses; further calls inside the window are absorbed.
func (w *Writer) Schedule() {
	if w.path == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.pending {
		return
	}
	w.pending = true
	w.timer = time.AfterFunc(w.delay, w.fire)
}

// Pending reports whether a write is scheduled.
func (w *Writer) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

func (w *Writer) fire() {
	w.mu.Lock()
	w.pending = false
	w.timer = nil
	w.mu.Unlock()

	if err := w.write(); err != nil {
		log.Error().Err(err).Str("snapshot", w.name).Msg("Snapshot write failed, retrying")
		w.Schedule()
	}
}

func (w *Writer) write() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	data, err := w.encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s snapshot: %w", w.name, err)
	}
	if err := WriteFile(w.path, data); err != nil {
		return err
	}
	log.Debug().Str("snapshot", w.name).Int("bytes", len(data)).Msg("Snapshot written")
	return nil
}

// Flush cancels any pending timer and writes synchronously.
func (w *Writer) Flush() error {
	if w.path == "" {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = false
	w.mu.Unlock()

	return w.write()
}

// Close flushes once more and stops accepting schedules.
func (w *Writer) Close() error {
	if w.path == "" {
		return nil
	}
	err := w.Flush()
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return err
}
