// internal/service/snapshot.go
package service

import (
	"sync"
	"time"
)

// Reading is the latest value of a polled source with its arrival time.
type Reading[T any] struct {
	Data       T         `json:"data"`
	UpdateTime time.Time `json:"update_time"`
	IsFresh    bool      `json:"is_fresh"`
}

// snapshot keeps the last successful reading of a polled source.
type snapshot[T any] struct {
	mu      sync.RWMutex
	value   T
	at      time.Time
	ok      bool
	lastErr error
	window  time.Duration
}

func newSnapshot[T any](window time.Duration) *snapshot[T] {
	return &snapshot[T]{window: window}
}

func (s *snapshot[T]) store(v T, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.at, s.ok, s.lastErr = v, at, true, nil
}

func (s *snapshot[T]) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *snapshot[T]) load(now time.Time) (Reading[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ok {
		return Reading[T]{}, false
	}
	return Reading[T]{
		Data:       s.value,
		UpdateTime: s.at,
		IsFresh:    now.Sub(s.at) <= s.window,
	}, true
}

func (s *snapshot[T]) err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
