// internal/can/dispatch.go
package can

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"vehicle-gateway/internal/errs"
)

// Matcher selects frames.
type Matcher func(Frame) bool

// Handler consumes a matched frame. It runs on the delivering link's read
// goroutine and must not block.
type Handler func(Frame)

// MatchID matches frames carrying one of ids.
func MatchID(ids ...uint32) Matcher {
	return func(f Frame) bool {
		for _, id := range ids {
			if f.ID == id {
				return true
			}
		}
		return false
	}
}

type registration struct {
	matcher Matcher
	handler Handler
}

type outcome struct {
	frame Frame
	err   error
}

type pendingRequest struct {
	matcher  Matcher
	deadline time.Time
	op       string
	timeout  time.Duration
	result   chan outcome
}

// Dispatcher routes received frames to a pending request and to every
// registered handler.
type Dispatcher struct {
	logger *zap.Logger

	mu       sync.Mutex
	pending  []*pendingRequest
	handlers []*registration
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logger.With(zap.String("component", "can-dispatcher"))}
}

// Register adds a handler. The returned function removes it.
func (d *Dispatcher) Register(m Matcher, h Handler) func() {
	reg := &registration{matcher: m, handler: h}

	d.mu.Lock()
	d.handlers = append(d.handlers, reg)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, r := range d.handlers {
				if r == reg {
					d.handlers = append(d.handlers[:i:i], d.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

func (d *Dispatcher) expect(m Matcher, op string, timeout time.Duration) *pendingRequest {
	p := &pendingRequest{
		matcher:  m,
		deadline: time.Now().Add(timeout),
		op:       op,
		timeout:  timeout,
		result:   make(chan outcome, 1),
	}
	d.mu.Lock()
	d.pending = append(d.pending, p)
	d.mu.Unlock()
	return p
}

// forget drops p if it is still pending.
func (d *Dispatcher) forget(p *pendingRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(p)
}

func (d *Dispatcher) removeLocked(p *pendingRequest) bool {
	for i, q := range d.pending {
		if q == p {
			d.pending = append(d.pending[:i:i], d.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch resolves the oldest pending request matching f and then hands f
// to every matching handler in registration order.
func (d *Dispatcher) Dispatch(f Frame) {
	d.mu.Lock()
	var resolved *pendingRequest
	for _, p := range d.pending {
		if p.matcher(f) {
			resolved = p
			break
		}
	}
	if resolved != nil {
		d.removeLocked(resolved)
	}
	handlers := append([]*registration(nil), d.handlers...)
	d.mu.Unlock()

	if resolved != nil {
		resolved.result <- outcome{frame: f}
	}
	for _, r := range handlers {
		if r.matcher(f) {
			d.deliver(r.handler, f)
		}
	}
}

func (d *Dispatcher) deliver(h Handler, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("CAN handler panicked",
				zap.String("frame", f.String()),
				zap.Any("panic", r),
			)
		}
	}()
	h(f)
}

// Sweep fails every pending request whose deadline has passed.
func (d *Dispatcher) Sweep(now time.Time) int {
	d.mu.Lock()
	var expired []*pendingRequest
	kept := d.pending[:0]
	for _, p := range d.pending {
		if now.After(p.deadline) {
			expired = append(expired, p)
		} else {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(d.pending); i++ {
		d.pending[i] = nil
	}
	d.pending = kept
	d.mu.Unlock()

	for _, p := range expired {
		p.result <- outcome{err: &errs.TimeoutError{Op: p.op, After: p.timeout}}
	}
	return len(expired)
}

// Pending returns the number of outstanding requests.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// failAll settles every pending request with err.
func (d *Dispatcher) failAll(err error) {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, p := range pending {
		p.result <- outcome{err: err}
	}
}
