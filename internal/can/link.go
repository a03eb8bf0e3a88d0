// internal/can/link.go
package can

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/protocol"
)

// LinkID names one CAN-over-TCP gateway connection.
type LinkID string

const (
	LinkTelemetry LinkID = "telemetry"
	LinkControl   LinkID = "control"
)

// Phase is the connection state of a link.
type Phase string

const (
	PhaseDisconnected       Phase = "disconnected"
	PhaseConnecting         Phase = "connecting"
	PhaseConnected          Phase = "connected"
	PhaseReconnectScheduled Phase = "reconnect_scheduled"
	PhaseFailed             Phase = "failed"
)

// LinkConfig addresses one link.
type LinkConfig struct {
	ID          LinkID
	Address     string
	DialTimeout time.Duration
}

// BackoffConfig bounds reconnection.
type BackoffConfig struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the production reconnect policy.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Base: time.Second, Max: 60 * time.Second, MaxAttempts: 10}
}

// Backoff returns min(base*2^attempts, max).
func Backoff(attempts int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// LinkStatus is a snapshot of a link.
type LinkStatus struct {
	Link              LinkID                    `json:"link"`
	Address           string                    `json:"address"`
	Phase             Phase                     `json:"phase"`
	ReconnectAttempts int                       `json:"reconnect_attempts"`
	IsReceiving       bool                      `json:"is_receiving"`
	ConnectedAt       *time.Time                `json:"connected_at,omitempty"`
	LastError         string                    `json:"last_error,omitempty"`
	Stats             *protocol.ConnectionStats `json:"stats,omitempty"`
}

// Link keeps one TCP connection to a CAN gateway alive and feeds received
// frames to a Dispatcher.
type Link struct {
	config     LinkConfig
	backoff    BackoffConfig
	dial       protocol.DialFunc
	dispatcher *Dispatcher
	logger     *zap.Logger
	onChange   func(LinkStatus)

	mu          sync.Mutex
	conn        net.Conn
	phase       Phase
	attempts    int
	receiving   bool
	connectedAt time.Time
	lastErr     error

	writeMu sync.Mutex
}

func newLink(config LinkConfig, backoff BackoffConfig, dial protocol.DialFunc, d *Dispatcher, onChange func(LinkStatus), logger *zap.Logger) *Link {
	return &Link{
		config:     config,
		backoff:    backoff,
		dial:       dial,
		dispatcher: d,
		onChange:   onChange,
		phase:      PhaseDisconnected,
		logger: logger.With(
			zap.String("component", "can-link"),
			zap.String("link", string(config.ID)),
			zap.String("address", config.Address),
		),
	}
}

// Status returns a snapshot of the link.
func (l *Link) Status() LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

func (l *Link) statusLocked() LinkStatus {
	s := LinkStatus{
		Link:              l.config.ID,
		Address:           l.config.Address,
		Phase:             l.phase,
		ReconnectAttempts: l.attempts,
		IsReceiving:       l.receiving,
	}
	if l.phase == PhaseConnected {
		at := l.connectedAt
		s.ConnectedAt = &at
	}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	if st, ok := l.conn.(protocol.StatsReporter); ok {
		stats := st.Stats()
		s.Stats = &stats
	}
	return s
}

func (l *Link) setPhase(phase Phase, err error) {
	l.mu.Lock()
	l.phase = phase
	if err != nil {
		l.lastErr = err
	}
	status := l.statusLocked()
	l.mu.Unlock()

	if l.onChange != nil {
		l.onChange(status)
	}
}

// run connects, reads and reconnects until ctx is done or the attempt
// budget is spent.
func (l *Link) run(ctx context.Context) {
	l.mu.Lock()
	l.attempts = 0
	l.mu.Unlock()

	for ctx.Err() == nil {
		l.setPhase(PhaseConnecting, nil)

		conn, err := l.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}

			l.mu.Lock()
			l.attempts++
			attempts := l.attempts
			l.mu.Unlock()

			if attempts >= l.backoff.MaxAttempts {
				l.logger.Error("Giving up on CAN link", zap.Int("attempts", attempts), zap.Error(err))
				l.setPhase(PhaseFailed, err)
				return
			}

			delay := Backoff(attempts, l.backoff.Base, l.backoff.Max)
			l.logger.Warn("CAN link connect failed",
				zap.Int("attempts", attempts),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)
			l.setPhase(PhaseReconnectScheduled, err)
			sleep(ctx, delay)
			continue
		}

		l.mu.Lock()
		l.conn = conn
		l.attempts = 0
		l.receiving = false
		l.connectedAt = time.Now()
		l.mu.Unlock()
		l.setPhase(PhaseConnected, nil)
		l.logger.Info("CAN link connected")

		err = l.read(ctx, conn)

		l.mu.Lock()
		l.conn = nil
		l.receiving = false
		l.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			break
		}

		delay := Backoff(0, l.backoff.Base, l.backoff.Max)
		l.logger.Warn("CAN link lost", zap.Duration("retry_in", delay), zap.Error(err))
		l.setPhase(PhaseReconnectScheduled, err)
		sleep(ctx, delay)
	}

	l.mu.Lock()
	l.attempts = 0
	l.mu.Unlock()
	l.setPhase(PhaseDisconnected, nil)
	l.logger.Info("CAN link stopped")
}

func (l *Link) connect(ctx context.Context) (net.Conn, error) {
	if l.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.DialTimeout)
		defer cancel()
	}
	return l.dial(ctx, l.config.Address)
}

// read decodes back-to-back frames until the connection fails. Bytes that do
// not decode are dropped along with the rest of the buffer.
func (l *Link) read(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	chunk := make([]byte, 1024)
	var buf []byte
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for len(buf) >= FrameSize {
				f, derr := Decode(buf[:FrameSize])
				if derr != nil {
					l.logger.Warn("Dropping undecodable CAN data", zap.Int("bytes", len(buf)), zap.Error(derr))
					buf = buf[:0]
					break
				}
				buf = buf[FrameSize:]
				l.markReceiving()
				l.dispatcher.Dispatch(f)
			}
			if len(buf) == 0 {
				buf = nil
			}
		}
		if err != nil {
			return err
		}
	}
}

func (l *Link) markReceiving() {
	l.mu.Lock()
	first := !l.receiving
	l.receiving = true
	l.mu.Unlock()
	if first {
		l.logger.Debug("CAN link receiving")
	}
}

// Send writes one frame.
func (l *Link) Send(f Frame) error {
	wire, err := Encode(f)
	if err != nil {
		return err
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return &errs.NotConnectedError{Link: string(l.config.ID)}
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := conn.Write(wire); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return &errs.NotConnectedError{Link: string(l.config.ID)}
		}
		return &errs.TransportError{Op: "write " + string(l.config.ID), Err: err}
	}
	return nil
}

func (l *Link) close() error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
