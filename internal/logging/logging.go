// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	outputMu sync.RWMutex
	output   io.Writer = os.Stdout
)

// Init sets the global level and output. Unknown levels fall back to info.
// Pretty output uses the console writer for local runs.
func Init(level string, pretty bool) {
	lvl := zerolog.InfoLevel
	if v := strings.TrimSpace(level); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			lvl = parsed
		}
	}

	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	outputMu.Lock()
	output = w
	outputMu.Unlock()

	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// Writer returns the output chosen by Init, for loggers that are not zerolog.
func Writer() io.Writer {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return output
}
