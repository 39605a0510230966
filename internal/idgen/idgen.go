// Package idgen generates the two identifier shapes Khoregos persists:
// 26-character lexicographically-sortable ULIDs for every entity primary key,
// and a UUIDv4 for the session trace id.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new 26-character ULID seeded from the current wall clock.
// A monotonic entropy source is shared across calls (guarded by a mutex) so
// IDs generated within the same millisecond still sort strictly increasing.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewTraceID returns a new UUIDv4, used only for Session.trace_id.
func NewTraceID() string {
	return uuid.NewString()
}
