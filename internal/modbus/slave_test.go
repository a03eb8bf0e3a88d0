package modbus

import (
	"context"
	"encoding/binary"
	"sync"
)

// testSlave answers requests the way a simple Modbus device would.
type testSlave struct {
	unitID    byte
	coils     []bool
	inputs    []bool
	holding   []uint16
	exception byte
}

func newTestSlave(unitID byte) *testSlave {
	return &testSlave{
		unitID:  unitID,
		coils:   make([]bool, 32),
		inputs:  make([]bool, 32),
		holding: make([]uint16, 32),
	}
}

func (s *testSlave) respond(req []byte) []byte {
	fc := req[1]
	if s.exception != 0 {
		return AppendCRC([]byte{s.unitID, fc | 0x80, s.exception})
	}

	addr := int(binary.BigEndian.Uint16(req[2:4]))
	qty := int(binary.BigEndian.Uint16(req[4:6]))
	out := []byte{s.unitID, fc}

	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs:
		src := s.coils
		if fc == FuncReadDiscreteInputs {
			src = s.inputs
		}
		packed := packBits(src[addr : addr+qty])
		out = append(out, byte(len(packed)))
		out = append(out, packed...)
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		out = append(out, byte(2*qty))
		for _, v := range s.holding[addr : addr+qty] {
			out = binary.BigEndian.AppendUint16(out, v)
		}
	case FuncWriteSingleCoil:
		s.coils[addr] = qty == coilOn
		out = append(out, req[2:6]...)
	case FuncWriteSingleRegister:
		s.holding[addr] = uint16(qty)
		out = append(out, req[2:6]...)
	case FuncWriteMultipleCoils:
		for i := 0; i < qty; i++ {
			s.coils[addr+i] = req[7+i/8]&(1<<(i%8)) != 0
		}
		out = append(out, req[2:6]...)
	case FuncWriteMultipleRegisters:
		for i := 0; i < qty; i++ {
			s.holding[addr+i] = binary.BigEndian.Uint16(req[7+2*i:])
		}
		out = append(out, req[2:6]...)
	default:
		return AppendCRC([]byte{s.unitID, fc | 0x80, 0x01})
	}
	return AppendCRC(out)
}

// testBus is an in-memory Transactor hosting several slaves. Requests to
// unknown units block until the context expires.
type testBus struct {
	mu     sync.Mutex
	slaves map[byte]*testSlave
	calls  []byte
	hook   func(unitID byte)
}

func newTestBus(slaves ...*testSlave) *testBus {
	b := &testBus{slaves: make(map[byte]*testSlave)}
	for _, s := range slaves {
		b.slaves[s.unitID] = s
	}
	return b
}

func (b *testBus) Transact(ctx context.Context, req []byte) ([]byte, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req[0])
	hook := b.hook
	s := b.slaves[req[0]]
	b.mu.Unlock()

	if hook != nil {
		hook(req[0])
	}
	if s == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return s.respond(req), nil
}

func (b *testBus) callLog() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.calls...)
}
