// internal/protocol/serial_connection.go
package protocol

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SerialConnection wraps a go.bug.st/serial port as an io.ReadWriteCloser.
// Read returns (0, nil) when the configured read timeout elapses.
type SerialConnection struct {
	config *SerialConfig
	port   serial.Port
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
	stats  counters
}

// NewSerialConnection creates a new serial connection
func NewSerialConnection(config *SerialConfig, logger *zap.Logger) *SerialConnection {
	return &SerialConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
	}
}

// OpenSerial creates and opens a serial connection in one step.
func OpenSerial(config *SerialConfig, logger *zap.Logger) (*SerialConnection, error) {
	conn := NewSerialConnection(config, logger)
	if err := conn.Open(); err != nil {
		return nil, err
	}
	return conn, nil
}

// Mode converts the configuration to a serial.Mode
func (c *SerialConfig) Mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
	}

	switch c.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch c.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode
}

// Open opens the serial connection
func (sc *SerialConnection) Open() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}

	sc.logger.Info("Opening serial port",
		zap.Int("baud_rate", sc.config.BaudRate),
		zap.Int("data_bits", sc.config.DataBits),
		zap.String("parity", sc.config.Parity),
	)

	port, err := serial.Open(sc.config.Port, sc.config.Mode())
	if err != nil {
		sc.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port %s: %w", sc.config.Port, err)
	}

	if sc.config.Timeout > 0 {
		if err := port.SetReadTimeout(sc.config.Timeout); err != nil {
			port.Close()
			return fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	sc.port = port
	sc.isOpen = true

	sc.logger.Info("Serial port opened successfully")
	return nil
}

// Read reads whatever bytes are available, blocking up to the read timeout.
func (sc *SerialConnection) Read(p []byte) (int, error) {
	sc.mutex.RLock()
	port, open := sc.port, sc.isOpen
	sc.mutex.RUnlock()

	if !open || port == nil {
		return 0, io.EOF
	}

	n, err := port.Read(p)
	if err != nil {
		sc.stats.errors.Add(1)
		return n, fmt.Errorf("failed to read from serial port: %w", err)
	}
	sc.stats.addRead(n)
	return n, nil
}

// Write writes data to the serial port
func (sc *SerialConnection) Write(data []byte) (int, error) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return 0, fmt.Errorf("serial port not open")
	}

	n, err := sc.port.Write(data)
	if err != nil {
		sc.stats.errors.Add(1)
		sc.logger.Error("Serial write failed", zap.Error(err))
		return n, fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(data) {
		return n, fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	sc.stats.addWritten(n)
	sc.logger.Debug("Serial write completed", zap.Int("bytes", n))
	return n, nil
}

// Close closes the serial connection
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return nil
	}

	err := sc.port.Close()
	sc.port = nil
	sc.isOpen = false
	if err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Info("Serial port closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.isOpen && sc.port != nil
}

// Stats returns connection statistics
func (sc *SerialConnection) Stats() ConnectionStats {
	return sc.stats.snapshot(sc.IsOpen())
}
