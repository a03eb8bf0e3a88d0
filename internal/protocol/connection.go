// internal/protocol/connection.go
package protocol

import (
	"sync/atomic"
	"time"
)

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	Name     string        `json:"name"`
	Port     string        `json:"port"`
	BaudRate int           `json:"baud_rate"`
	DataBits int           `json:"data_bits"`
	StopBits int           `json:"stop_bits"`
	Parity   string        `json:"parity"`
	Timeout  time.Duration `json:"timeout"`
}

// TCPConfig represents TCP connection configuration
type TCPConfig struct {
	Name      string        `json:"name"`
	Address   string        `json:"address"`
	Timeout   time.Duration `json:"timeout"`
	KeepAlive time.Duration `json:"keep_alive"`
}

// ConnectionStats provides byte level statistics for a link
type ConnectionStats struct {
	BytesWritten int64     `json:"bytes_written"`
	BytesRead    int64     `json:"bytes_read"`
	ErrorCount   int64     `json:"error_count"`
	LastActivity time.Time `json:"last_activity"`
	IsConnected  bool      `json:"is_connected"`
}

// StatsReporter is implemented by connections that keep byte counters.
type StatsReporter interface {
	Stats() ConnectionStats
}

var (
	_ StatsReporter = (*SerialConnection)(nil)
	_ StatsReporter = (*TCPConnection)(nil)
)

// counters is shared by the serial and TCP wrappers.
type counters struct {
	written      atomic.Int64
	read         atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64
}

func (c *counters) addRead(n int) {
	c.read.Add(int64(n))
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *counters) addWritten(n int) {
	c.written.Add(int64(n))
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *counters) snapshot(connected bool) ConnectionStats {
	stats := ConnectionStats{
		BytesWritten: c.written.Load(),
		BytesRead:    c.read.Load(),
		ErrorCount:   c.errors.Load(),
		IsConnected:  connected,
	}
	if ts := c.lastActivity.Load(); ts != 0 {
		stats.LastActivity = time.Unix(0, ts)
	}
	return stats
}
