// internal/periodic/task.go
package periodic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Func is the body of a periodic task.
type Func func(ctx context.Context) error

// Option configures a Task.
type Option func(*Task)

// WithImmediate runs the task once as soon as it starts, before the first tick.
func WithImmediate() Option {
	return func(t *Task) {
		t.immediate = true
	}
}

// Task runs a function on a fixed interval until stopped. Errors and panics
// from the function are logged and do not stop the task.
type Task struct {
	name      string
	interval  time.Duration
	fn        Func
	logger    *zap.Logger
	immediate bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a new task. It does nothing until Start is called.
func New(name string, interval time.Duration, fn Func, logger *zap.Logger, opts ...Option) *Task {
	t := &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With(zap.String("task", name)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the task name
func (t *Task) Name() string {
	return t.name
}

// Running reports whether the task loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Start launches the task loop. Calling Start on a running task is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true

	go t.loop(ctx, t.done)
}

// Stop cancels the task and waits for an in-flight run to return.
func (t *Task) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	cancel, done := t.cancel, t.done
	t.running = false
	t.mu.Unlock()

	cancel()
	<-done
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if t.immediate {
		t.run(ctx)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.run(ctx)
		}
	}
}

func (t *Task) run(ctx context.Context) {
	if err := t.safeRun(ctx); err != nil && ctx.Err() == nil {
		t.logger.Warn("Periodic task failed", zap.Error(err))
	}
}

func (t *Task) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.fn(ctx)
}
