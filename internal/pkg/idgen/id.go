// Package idgen issues sortable unique identifiers for sessions and transactions.
package idgen

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	entropyMu sync.Mutex
)

// NewID returns a new ULID string. IDs issued within the same millisecond
// sort in issue order.
func NewID() string {
	return NewIDAt(time.Now())
}

// NewIDAt returns a new ULID string stamped with t.
func NewIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
