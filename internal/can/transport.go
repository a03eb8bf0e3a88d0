// internal/can/transport.go
package can

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/protocol"
)

// DefaultCollectTimeout bounds SendWithCollect when no timeout is given.
const DefaultCollectTimeout = 3000 * time.Millisecond

// TransportConfig configures the CAN transport.
type TransportConfig struct {
	Links          []LinkConfig
	Backoff        BackoffConfig
	SweepInterval  time.Duration
	CollectTimeout time.Duration
	Dial           protocol.DialFunc
}

type linkRunner struct {
	link   *Link
	cancel context.CancelFunc
	done   chan struct{}
}

// Transport multiplexes CAN links over one Dispatcher.
type Transport struct {
	config     TransportConfig
	dispatcher *Dispatcher
	logger     *zap.Logger

	links map[LinkID]*Link
	order []LinkID

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	runners   map[LinkID]*linkRunner
	listeners []func(LinkStatus)
	wg        sync.WaitGroup
	closed    bool
}

// NewTransport creates a transport. Links are not dialled until Start.
func NewTransport(config TransportConfig, logger *zap.Logger) *Transport {
	if config.Backoff.Base <= 0 || config.Backoff.Max <= 0 || config.Backoff.MaxAttempts <= 0 {
		config.Backoff = DefaultBackoff()
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Second
	}
	if config.CollectTimeout <= 0 {
		config.CollectTimeout = DefaultCollectTimeout
	}
	if config.Dial == nil {
		config.Dial = protocol.TCPDialer(protocol.TCPConfig{Name: "can"})
	}

	t := &Transport{
		config:     config,
		dispatcher: NewDispatcher(logger),
		logger:     logger.With(zap.String("component", "can-transport")),
		links:      make(map[LinkID]*Link),
		runners:    make(map[LinkID]*linkRunner),
	}
	for _, lc := range config.Links {
		t.links[lc.ID] = newLink(lc, config.Backoff, config.Dial, t.dispatcher, t.notify, logger)
		t.order = append(t.order, lc.ID)
	}
	return t
}

// Start dials every link and starts the pending request sweep.
func (t *Transport) Start(ctx context.Context) {
	t.mu.Lock()
	if t.ctx != nil || t.closed {
		t.mu.Unlock()
		return
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	t.wg.Add(1)
	go t.sweep()

	for _, id := range t.order {
		if err := t.Connect(id); err != nil {
			t.logger.Warn("Failed to start CAN link", zap.String("link", string(id)), zap.Error(err))
		}
	}
	t.logger.Info("CAN transport started", zap.Int("links", len(t.order)))
}

func (t *Transport) sweep() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case now := <-ticker.C:
			if n := t.dispatcher.Sweep(now); n > 0 {
				t.logger.Debug("Expired pending CAN requests", zap.Int("count", n))
			}
		}
	}
}

// Connect starts the run loop of a link that is stopped or failed.
func (t *Transport) Connect(id LinkID) error {
	link, ok := t.links[id]
	if !ok {
		return fmt.Errorf("can link %q: %w", id, errs.ErrNotFound)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.ctx == nil {
		return fmt.Errorf("can transport: %w", errs.ErrClosed)
	}
	if r, ok := t.runners[id]; ok {
		select {
		case <-r.done:
		default:
			return nil
		}
	}

	ctx, cancel := context.WithCancel(t.ctx)
	r := &linkRunner{link: link, cancel: cancel, done: make(chan struct{})}
	t.runners[id] = r

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(r.done)
		link.run(ctx)
	}()
	return nil
}

// Disconnect stops a link and waits for its run loop to exit.
func (t *Transport) Disconnect(id LinkID) error {
	if _, ok := t.links[id]; !ok {
		return fmt.Errorf("can link %q: %w", id, errs.ErrNotFound)
	}

	t.mu.Lock()
	r, ok := t.runners[id]
	delete(t.runners, id)
	t.mu.Unlock()

	if ok {
		r.cancel()
		<-r.done
	}
	return nil
}

// Register adds a frame handler. The returned function removes it.
func (t *Transport) Register(m Matcher, h Handler) func() {
	return t.dispatcher.Register(m, h)
}

// OnConnectionChange subscribes to link phase changes.
func (t *Transport) OnConnectionChange(fn func(LinkStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *Transport) notify(s LinkStatus) {
	t.mu.Lock()
	listeners := slices.Clone(t.listeners)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// Send writes f on link.
func (t *Transport) Send(id LinkID, f Frame) error {
	link, ok := t.links[id]
	if !ok {
		return fmt.Errorf("can link %q: %w", id, errs.ErrNotFound)
	}
	return link.Send(f)
}

// SendWithCollect writes f on link and waits for the first received frame
// accepted by m. The wait is registered before the write so a fast reply is
// not missed. A zero timeout selects the configured default.
func (t *Transport) SendWithCollect(ctx context.Context, id LinkID, f Frame, m Matcher, timeout time.Duration) (Frame, error) {
	if timeout <= 0 {
		timeout = t.config.CollectTimeout
	}

	op := fmt.Sprintf("can %s collect for %08X", id, f.ID)
	p := t.dispatcher.expect(m, op, timeout)
	if err := t.Send(id, f); err != nil {
		t.dispatcher.forget(p)
		return Frame{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.result:
		return out.frame, out.err
	case <-timer.C:
		t.dispatcher.forget(p)
		return Frame{}, &errs.TimeoutError{Op: op, After: timeout}
	case <-ctx.Done():
		t.dispatcher.forget(p)
		return Frame{}, ctx.Err()
	}
}

// LinkStatus returns the status of one link.
func (t *Transport) LinkStatus(id LinkID) (LinkStatus, error) {
	link, ok := t.links[id]
	if !ok {
		return LinkStatus{}, fmt.Errorf("can link %q: %w", id, errs.ErrNotFound)
	}
	return link.Status(), nil
}

// Status returns the status of every link in configuration order.
func (t *Transport) Status() []LinkStatus {
	out := make([]LinkStatus, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.links[id].Status())
	}
	return out
}

// Pending returns the number of outstanding collect requests.
func (t *Transport) Pending() int {
	return t.dispatcher.Pending()
}

// Close stops every link and fails outstanding collect requests.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	for _, id := range t.order {
		err = multierr.Append(err, t.links[id].close())
	}
	t.wg.Wait()
	t.dispatcher.failAll(fmt.Errorf("can transport: %w", errs.ErrClosed))

	t.logger.Info("CAN transport stopped")
	return err
}
