// internal/modbus/telemetry.go
package modbus

import (
	"sync"
	"time"
)

const (
	errorRetention  = 24 * time.Hour
	recentWindow    = time.Minute
	maxLogEntries   = 1000
	historyPageSize = 100
)

type stamped[T any] struct {
	at    time.Time
	value T
}

// slidingLog keeps timestamped entries no older than its retention.
type slidingLog[T any] struct {
	retention time.Duration
	entries   []stamped[T]
}

func newSlidingLog[T any](retention time.Duration) *slidingLog[T] {
	return &slidingLog[T]{retention: retention}
}

func (l *slidingLog[T]) add(now time.Time, v T) {
	l.entries = append(l.entries, stamped[T]{at: now, value: v})
	if len(l.entries) > maxLogEntries {
		l.prune(now)
		if over := len(l.entries) - maxLogEntries; over > 0 {
			l.entries = append(l.entries[:0:0], l.entries[over:]...)
		}
	}
}

func (l *slidingLog[T]) prune(now time.Time) {
	cutoff := now.Add(-l.retention)
	i := 0
	for i < len(l.entries) && !l.entries[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.entries = append(l.entries[:0:0], l.entries[i:]...)
	}
}

func (l *slidingLog[T]) countSince(since time.Time) int {
	n := 0
	for i := len(l.entries) - 1; i >= 0 && l.entries[i].at.After(since); i-- {
		n++
	}
	return n
}

func (l *slidingLog[T]) last() (stamped[T], bool) {
	if len(l.entries) == 0 {
		return stamped[T]{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// newest returns up to limit entries, most recent first.
func (l *slidingLog[T]) newest(limit int) []stamped[T] {
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]stamped[T], 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// ErrorRecord is one failed request.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Address   byte      `json:"address"`
	Message   string    `json:"message"`
}

// AccessRecord is one dispatched request.
type AccessRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Address   byte      `json:"address"`
	Priority  string    `json:"priority"`
}

// portTelemetry aggregates error and access history for one port.
type portTelemetry struct {
	mu       sync.Mutex
	errors   *slidingLog[ErrorRecord]
	accesses *slidingLog[AccessRecord]
}

func newPortTelemetry() *portTelemetry {
	return &portTelemetry{
		errors:   newSlidingLog[ErrorRecord](errorRetention),
		accesses: newSlidingLog[AccessRecord](recentWindow),
	}
}

func (t *portTelemetry) recordError(now time.Time, addr byte, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors.add(now, ErrorRecord{Timestamp: now, Address: addr, Message: err.Error()})
}

func (t *portTelemetry) recordAccess(now time.Time, addr byte, prio Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accesses.add(now, AccessRecord{Timestamp: now, Address: addr, Priority: prio.String()})
}

func (t *portTelemetry) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors.prune(now)
	t.accesses.prune(now)
}

type telemetrySnapshot struct {
	errors24h  int
	errors1m   int
	lastError  *ErrorRecord
	accesses1m int
	lastAccess *time.Time
}

func (t *portTelemetry) snapshot(now time.Time) telemetrySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.errors.prune(now)
	t.accesses.prune(now)

	s := telemetrySnapshot{
		errors24h:  len(t.errors.entries),
		errors1m:   t.errors.countSince(now.Add(-recentWindow)),
		accesses1m: len(t.accesses.entries),
	}
	if e, ok := t.errors.last(); ok {
		rec := e.value
		s.lastError = &rec
	}
	if a, ok := t.accesses.last(); ok {
		at := a.at
		s.lastAccess = &at
	}
	return s
}

func (t *portTelemetry) errorHistory(now time.Time, limit int) []ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.errors.prune(now)
	entries := t.errors.newest(limit)
	out := make([]ErrorRecord, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}

func (t *portTelemetry) accessHistory(now time.Time, limit int) []AccessRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.accesses.prune(now)
	entries := t.accesses.newest(limit)
	out := make([]AccessRecord, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}
