package modbus

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/protocol"
)

// serveSlave answers 8-byte requests read from conn, splitting each
// response into two writes preceded by line noise.
func serveSlave(conn net.Conn, slave *testSlave, advertise byte) {
	req := make([]byte, 8)
	for {
		if _, err := io.ReadFull(conn, req); err != nil {
			return
		}
		resp := slave.respond(req)
		if advertise != 0 {
			resp[0] = advertise
			resp = AppendCRC(resp[:len(resp)-2])
		}
		if _, err := conn.Write(append([]byte{0x00}, resp[:3]...)); err != nil {
			return
		}
		if _, err := conn.Write(resp[3:]); err != nil {
			return
		}
	}
}

func TestRTUPortTransact(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	slave := newTestSlave(6)
	slave.holding[2] = 0xBEEF
	go serveSlave(remote, slave, 0)

	port := NewRTUPort("test", local, zaptest.NewLogger(t))
	defer port.Close()

	client := NewClient(port, 500*time.Millisecond).WithUnitID(6)
	regs, err := client.ReadHoldingRegisters(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if regs[0] != 0xBEEF {
		t.Fatalf("reg = 0x%04X, want 0xBEEF", regs[0])
	}

	if err := client.WriteSingleCoil(context.Background(), 1, true); err != nil {
		t.Fatalf("WriteSingleCoil: %v", err)
	}
}

func TestRTUPortRemapsQuirkDevice(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	slave := newTestSlave(0x81)
	slave.holding[0] = 42
	go serveSlave(remote, slave, 0x51)

	port := NewRTUPort("slow", local, zaptest.NewLogger(t))
	defer port.Close()

	regs, err := NewClient(port, 500*time.Millisecond).WithUnitID(0x81).ReadHoldingRegisters(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters via remapped id: %v", err)
	}
	if regs[0] != 42 {
		t.Fatalf("reg = %d, want 42", regs[0])
	}
}

func TestRTUPortClosed(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	port := NewRTUPort("closed", local, zaptest.NewLogger(t))
	port.Close()

	_, err := port.Transact(context.Background(), rtuRequest(1, FuncReadCoils, 0, 1))
	if !errors.Is(err, errs.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestRTUPortPeerGone(t *testing.T) {
	local, remote := net.Pipe()
	port := NewRTUPort("gone", local, zaptest.NewLogger(t))
	defer port.Close()

	remote.Close()

	deadline := time.After(time.Second)
	for {
		_, err := port.Transact(context.Background(), rtuRequest(1, FuncReadCoils, 0, 1))
		if errors.Is(err, errs.ErrTransport) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("err = %v, want transport error", err)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

type countingConn struct {
	net.Conn
}

func (countingConn) Stats() protocol.ConnectionStats {
	return protocol.ConnectionStats{BytesRead: 7, IsConnected: true}
}

func TestRTUPortStats(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	plain := NewRTUPort("plain", local, zaptest.NewLogger(t))
	defer plain.Close()
	if _, ok := plain.Stats(); ok {
		t.Fatalf("Stats() reported counters for a bare pipe")
	}

	local2, remote2 := net.Pipe()
	defer remote2.Close()
	counted := NewRTUPort("counted", countingConn{local2}, zaptest.NewLogger(t))
	defer counted.Close()
	stats, ok := counted.Stats()
	if !ok || stats.BytesRead != 7 || !stats.IsConnected {
		t.Fatalf("Stats() = %+v, %v", stats, ok)
	}
}
