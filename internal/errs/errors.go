// internal/errs/errors.go
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Typed errors below match these through errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrDeviceCooldown = errors.New("device cooldown")
	ErrRequestTimeout = errors.New("request timeout")
	ErrNotConnected   = errors.New("not connected")
	ErrModbus         = errors.New("modbus exception")
	ErrTransport      = errors.New("transport error")
	ErrBusy           = errors.New("bus busy")
	ErrClosed         = errors.New("closed")
	ErrNotFound       = errors.New("not found")
)

// Modbus exception codes
const (
	ExceptionIllegalFunction                    byte = 1
	ExceptionIllegalDataAddress                 byte = 2
	ExceptionIllegalDataValue                   byte = 3
	ExceptionServerDeviceFailure                byte = 4
	ExceptionAcknowledge                        byte = 5
	ExceptionServerDeviceBusy                   byte = 6
	ExceptionMemoryParityError                  byte = 8
	ExceptionGatewayPathUnavailable             byte = 10
	ExceptionGatewayTargetDeviceFailedToRespond byte = 11
)

// ValidationError reports a malformed frame or parameter. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid creates a ValidationError
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CooldownError is returned while a device's circuit is open.
type CooldownError struct {
	Port      string
	Address   byte
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("device 0x%02X on %s is in cooldown, retry in %d seconds",
		e.Address, e.Port, e.RemainingSeconds())
}

func (e *CooldownError) Is(target error) bool { return target == ErrDeviceCooldown }

// RemainingSeconds rounds the remaining cooldown up to whole seconds.
func (e *CooldownError) RemainingSeconds() int {
	secs := int(e.Remaining / time.Second)
	if e.Remaining%time.Second != 0 {
		secs++
	}
	return secs
}

// TimeoutError reports that no response arrived before the deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: request timeout after %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrRequestTimeout }

// NotConnectedError is returned when writing to a link that is down.
type NotConnectedError struct {
	Link string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s: not connected", e.Link)
}

func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

// ModbusError carries an exception response returned by a device.
type ModbusError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ModbusError) Error() string {
	var name string
	switch e.ExceptionCode {
	case ExceptionIllegalFunction:
		name = "illegal function"
	case ExceptionIllegalDataAddress:
		name = "illegal data address"
	case ExceptionIllegalDataValue:
		name = "illegal data value"
	case ExceptionServerDeviceFailure:
		name = "server device failure"
	case ExceptionAcknowledge:
		name = "acknowledge"
	case ExceptionServerDeviceBusy:
		name = "server device busy"
	case ExceptionMemoryParityError:
		name = "memory parity error"
	case ExceptionGatewayPathUnavailable:
		name = "gateway path unavailable"
	case ExceptionGatewayTargetDeviceFailedToRespond:
		name = "gateway target device failed to respond"
	default:
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, name, e.FunctionCode&0x7F)
}

func (e *ModbusError) Is(target error) bool { return target == ErrModbus }

// TransportError wraps a socket or serial level failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }
