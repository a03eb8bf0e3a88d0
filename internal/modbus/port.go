// internal/modbus/port.go
package modbus

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/protocol"
)

// Transactor performs one request/response exchange on a bus.
type Transactor interface {
	Transact(ctx context.Context, request []byte) ([]byte, error)
}

var _ Transactor = (*RTUPort)(nil)

// RTUPort runs a Modbus RTU master over a byte stream. A background read
// loop feeds received bytes to a FrameScanner armed with the last request.
type RTUPort struct {
	name   string
	conn   io.ReadWriteCloser
	logger *zap.Logger

	txMu    sync.Mutex
	mu      sync.Mutex
	scanner FrameScanner
	readErr error

	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
	wg        sync.WaitGroup
}

// NewRTUPort wraps conn and starts its read loop.
func NewRTUPort(name string, conn io.ReadWriteCloser, logger *zap.Logger) *RTUPort {
	p := &RTUPort{
		name:   name,
		conn:   conn,
		logger: logger.With(zap.String("component", "rtu-port"), zap.String("port", name)),
		frames: make(chan []byte, 4),
		done:   make(chan struct{}),
	}

	p.wg.Add(1)
	go p.readLoop()
	return p
}

// OpenRTUPort opens a serial line and wraps it in an RTUPort.
func OpenRTUPort(config *protocol.SerialConfig, logger *zap.Logger) (*RTUPort, error) {
	conn, err := protocol.OpenSerial(config, logger)
	if err != nil {
		return nil, err
	}
	return NewRTUPort(config.Name, conn, logger), nil
}

// Name returns the port name
func (p *RTUPort) Name() string {
	return p.name
}

// Stats returns byte counters when the underlying connection keeps them.
func (p *RTUPort) Stats() (protocol.ConnectionStats, bool) {
	if s, ok := p.conn.(protocol.StatsReporter); ok {
		return s.Stats(), true
	}
	return protocol.ConnectionStats{}, false
}

func (p *RTUPort) readLoop() {
	defer p.wg.Done()

	buf := make([]byte, maxBufferLength)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			p.mu.Lock()
			frame, ok := p.scanner.Feed(buf[:n])
			p.mu.Unlock()

			if ok {
				select {
				case p.frames <- frame:
				default:
					p.logger.Warn("Dropping unclaimed frame", zap.Binary("frame", frame))
				}
			}
		}
		if err != nil {
			p.stop(err)
			return
		}
	}
}

func (p *RTUPort) stop(err error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		if !p.closed {
			p.readErr = err
			p.logger.Error("Port read loop stopped", zap.Error(err))
		}
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *RTUPort) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("port %s: %w", p.name, errs.ErrClosed)
	}
	return &errs.TransportError{Op: "read " + p.name, Err: p.readErr}
}

// Transact writes request and waits for the matching response frame.
func (p *RTUPort) Transact(ctx context.Context, request []byte) ([]byte, error) {
	p.txMu.Lock()
	defer p.txMu.Unlock()

	select {
	case <-p.done:
		return nil, p.failure()
	default:
	}

	// frames left over from an abandoned exchange
drain:
	for {
		select {
		case <-p.frames:
		default:
			break drain
		}
	}

	p.mu.Lock()
	p.scanner.Expect(request)
	p.mu.Unlock()

	if _, err := p.conn.Write(request); err != nil {
		return nil, &errs.TransportError{Op: "write " + p.name, Err: err}
	}

	select {
	case frame := <-p.frames:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, p.failure()
	}
}

// Close closes the connection and waits for the read loop to exit.
func (p *RTUPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	err := p.conn.Close()
	p.stop(errs.ErrClosed)
	p.wg.Wait()
	return err
}
