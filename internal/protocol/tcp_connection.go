// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialFunc opens a stream connection. Tests substitute their own.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// TCPDialer returns a DialFunc using the given configuration
func TCPDialer(config TCPConfig) DialFunc {
	return func(ctx context.Context, address string) (net.Conn, error) {
		return DialTCP(ctx, TCPConfig{
			Name:      config.Name,
			Address:   address,
			Timeout:   config.Timeout,
			KeepAlive: config.KeepAlive,
		})
	}
}

// DialTCP opens a TCP connection with keep-alive enabled
func DialTCP(ctx context.Context, config TCPConfig) (net.Conn, error) {
	keepAlive := config.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   config.Timeout,
		KeepAlive: keepAlive,
	}

	conn, err := dialer.DialContext(ctx, "tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Address, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	return &TCPConnection{Conn: conn}, nil
}

// TCPConnection counts the bytes passing through a net.Conn
type TCPConnection struct {
	net.Conn
	stats counters
}

func (tc *TCPConnection) Read(p []byte) (int, error) {
	n, err := tc.Conn.Read(p)
	tc.stats.addRead(n)
	if err != nil {
		tc.stats.errors.Add(1)
	}
	return n, err
}

func (tc *TCPConnection) Write(p []byte) (int, error) {
	n, err := tc.Conn.Write(p)
	tc.stats.addWritten(n)
	if err != nil {
		tc.stats.errors.Add(1)
	}
	return n, err
}

// Stats returns connection statistics
func (tc *TCPConnection) Stats() ConnectionStats {
	return tc.stats.snapshot(true)
}
