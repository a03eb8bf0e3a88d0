package errs

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", Invalid("dlc", "must be <= 8, got %d", 9), ErrValidation},
		{"cooldown", &CooldownError{Port: "main", Address: 3, Remaining: time.Second}, ErrDeviceCooldown},
		{"timeout", &TimeoutError{Op: "collect", After: time.Second}, ErrRequestTimeout},
		{"not connected", &NotConnectedError{Link: "telemetry"}, ErrNotConnected},
		{"modbus", &ModbusError{FunctionCode: 0x83, ExceptionCode: 2}, ErrModbus},
		{"transport", &TransportError{Op: "read", Err: io.EOF}, ErrTransport},
	}

	for _, tc := range cases {
		wrapped := fmt.Errorf("outer: %w", tc.err)
		if !errors.Is(wrapped, tc.sentinel) {
			t.Fatalf("%s: errors.Is(%v, %v) = false", tc.name, wrapped, tc.sentinel)
		}
		if errors.Is(wrapped, ErrClosed) {
			t.Fatalf("%s: unexpectedly matched ErrClosed", tc.name)
		}
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	err := &TransportError{Op: "write", Err: io.ErrClosedPipe}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected wrapped io.ErrClosedPipe")
	}
}

func TestCooldownRemainingSecondsRoundsUp(t *testing.T) {
	cases := map[time.Duration]int{
		0:                       0,
		time.Second:             1,
		1500 * time.Millisecond: 2,
		9*time.Second + 1:       10,
	}
	for remaining, want := range cases {
		e := &CooldownError{Remaining: remaining}
		if got := e.RemainingSeconds(); got != want {
			t.Fatalf("RemainingSeconds(%v) = %d, want %d", remaining, got, want)
		}
	}
	msg := (&CooldownError{Port: "main", Address: 0x42, Remaining: 2500 * time.Millisecond}).Error()
	if !strings.Contains(msg, "0x42") || !strings.Contains(msg, "3 seconds") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestModbusErrorMessage(t *testing.T) {
	msg := (&ModbusError{FunctionCode: 0x83, ExceptionCode: ExceptionIllegalDataAddress}).Error()
	want := "modbus: exception '2' (illegal data address), function '3'"
	if msg != want {
		t.Fatalf("got %q want %q", msg, want)
	}
}
