// Package hlc implements a Hybrid Logical Clock: a monotonically
// non-decreasing timestamp generator combining wall-clock time with a
// logical counter, persisted in the vault so a restart or crash cannot
// rewind it. It generalizes the teacher's plain Lamport clock
// (internal/core/clock.go) with the wall-time component and text
// encoding the CRDT transformer and trigger log require.
package hlc

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haexhub/haexvault/internal/apperr"
)

// ConfigKey is the haex_crdt_configs row this service persists its tail
// under. Sources in the original implementation disagree between
// "hlc_timestamp" and "hlc_last"; this module picks "hlc_last" (see
// DESIGN.md, Open Question iii).
const ConfigKey = "hlc_last"

const configTable = "haex_crdt_configs"

// Timestamp is the text encoding used on the wire and in SQL: a
// zero-padded wall-clock component (milliseconds since epoch) followed by
// a zero-padded logical counter, joined so that lexicographic and
// chronological order agree.
type Timestamp string

// Less reports whether t sorts strictly before other. Comparison is a
// plain string comparison because the encoding is fixed-width.
func (t Timestamp) Less(other Timestamp) bool { return string(t) < string(other) }

func encode(wall int64, counter uint32) Timestamp {
	return Timestamp(fmt.Sprintf("%020d-%010d", wall, counter))
}

func decode(s string) (wall int64, counter uint32, ok bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	var w int64
	var c uint32
	if _, err := fmt.Sscanf(parts[0], "%d", &w); err != nil {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &c); err != nil {
		return 0, 0, false
	}
	return w, c, true
}

// NowFunc is substitutable in tests to make HLC generation deterministic.
type NowFunc func() time.Time

// Service is a process-wide HLC generator. It is mutex-guarded: callers
// that need to preserve ordering within a transaction must hold the lock
// across the whole of NewTimestampAndPersist, which this type does
// internally by serializing calls.
type Service struct {
	mu      sync.Mutex
	wall    int64
	counter uint32
	now     NowFunc
}

// New creates a service seeded at zero. Callers must call Init before
// first use to recover persisted state.
func New() *Service {
	return &Service{now: func() time.Time { return time.Now() }}
}

// NewWithClock creates a service using a substitute wall clock, for tests.
func NewWithClock(now NowFunc) *Service {
	return &Service{now: now}
}

// Init seeds the clock from the vault's persisted tail, taking
// max(persisted, wall_clock) per §4.1. db may be mid-transaction or not;
// Init only reads.
func (s *Service) Init(db *sql.DB) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value sql.NullString
	err := db.QueryRow(
		fmt.Sprintf("SELECT value FROM %s WHERE key = ?", configTable),
		ConfigKey,
	).Scan(&value)
	if err != nil && err != sql.ErrNoRows {
		return &apperr.HlcError{Reason: fmt.Sprintf("reading persisted hlc: %v", err)}
	}

	wallNow := s.now().UnixMilli()
	s.wall, s.counter = wallNow, 0

	if value.Valid {
		if w, c, ok := decode(value.String); ok && (w > s.wall || (w == s.wall && c > s.counter)) {
			s.wall, s.counter = w, c
		}
	}
	return nil
}

// NewTimestampAndPersist produces a fresh timestamp strictly greater than
// any previously returned value in this vault, and writes it to
// haex_crdt_configs in the same transaction so a crash cannot rewind the
// clock. Callers must hold no other lock on this service while tx is open.
func (s *Service) NewTimestampAndPersist(tx *sql.Tx) (Timestamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wallNow := s.now().UnixMilli()
	if wallNow > s.wall {
		s.wall = wallNow
		s.counter = 0
	} else {
		s.counter++
	}
	ts := encode(s.wall, s.counter)

	_, err := tx.Exec(
		fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, configTable),
		ConfigKey, string(ts),
	)
	if err != nil {
		return "", &apperr.HlcError{Reason: fmt.Sprintf("persisting hlc: %v", err)}
	}
	return ts, nil
}

// Peek returns the last timestamp produced without advancing the clock.
func (s *Service) Peek() Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return encode(s.wall, s.counter)
}
