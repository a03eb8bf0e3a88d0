package service

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"vehicle-gateway/internal/can"
	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/events"
	"vehicle-gateway/internal/modbus"
)

func frame(id uint32, data ...byte) can.Frame {
	f := can.Frame{Format: can.FormatExtended, Type: can.TypeData, ID: id, DLC: uint8(len(data))}
	copy(f.Data[:], data)
	return f
}

// fakeCANBus records sends and delivers frames to registered handlers.
type fakeCANBus struct {
	mu          sync.Mutex
	handlers    map[int]registeredHandler
	next        int
	sent        []can.Frame
	phase       can.Phase
	receiving   bool
	connects    int
	disconnects int
}

type registeredHandler struct {
	m can.Matcher
	h can.Handler
}

func newFakeCANBus() *fakeCANBus {
	return &fakeCANBus{handlers: make(map[int]registeredHandler), phase: can.PhaseDisconnected}
}

func (b *fakeCANBus) Register(m can.Matcher, h can.Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = registeredHandler{m, h}
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *fakeCANBus) deliver(f can.Frame) {
	b.mu.Lock()
	var hs []can.Handler
	for _, r := range b.handlers {
		if r.m(f) {
			hs = append(hs, r.h)
		}
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(f)
	}
}

func (b *fakeCANBus) Send(id can.LinkID, f can.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != can.PhaseConnected {
		return &errs.NotConnectedError{Link: string(id)}
	}
	b.sent = append(b.sent, f)
	return nil
}

func (b *fakeCANBus) LinkStatus(id can.LinkID) (can.LinkStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return can.LinkStatus{Link: id, Phase: b.phase, IsReceiving: b.receiving}, nil
}

func (b *fakeCANBus) Connect(can.LinkID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	b.phase = can.PhaseConnected
	b.receiving = true
	return nil
}

func (b *fakeCANBus) Disconnect(can.LinkID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	b.phase = can.PhaseDisconnected
	b.receiving = false
	return nil
}

func (b *fakeCANBus) sentFrames() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]can.Frame(nil), b.sent...)
}

func (b *fakeCANBus) handlerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

// fakeSlowBus answers hex requests from a table.
type fakeSlowBus struct {
	mu        sync.Mutex
	jobs      map[string]modbus.Job
	responses map[string][]byte
	err       error
	requests  []string
}

func newFakeSlowBus() *fakeSlowBus {
	return &fakeSlowBus{jobs: make(map[string]modbus.Job), responses: make(map[string][]byte)}
}

func (b *fakeSlowBus) Register(name string, job modbus.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[name] = job
}

func (b *fakeSlowBus) SendRequest(_ context.Context, request string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, request)
	if b.err != nil {
		return nil, b.err
	}
	data, ok := b.responses[request]
	if !ok {
		return nil, &errs.TimeoutError{Op: "slow bus", After: time.Second}
	}
	return data, nil
}

func (b *fakeSlowBus) run(t *testing.T, name string) (any, error) {
	t.Helper()
	b.mu.Lock()
	job, ok := b.jobs[name]
	b.mu.Unlock()
	if !ok {
		t.Fatalf("job %q not registered", name)
	}
	return job(context.Background())
}

type coilWrite struct {
	unit    byte
	address uint16
	on      bool
}

// fakeBank is a Modbus bus answering coil and input requests for any unit.
type fakeBank struct {
	mu     sync.Mutex
	coils  map[byte][]bool
	inputs map[byte][]bool
	writes []coilWrite
	down   bool
}

func newFakeBank() *fakeBank {
	return &fakeBank{coils: make(map[byte][]bool), inputs: make(map[byte][]bool)}
}

func (b *fakeBank) bits(m map[byte][]bool, unit byte) []bool {
	if m[unit] == nil {
		m[unit] = make([]bool, 32)
	}
	return m[unit]
}

func (b *fakeBank) setInput(unit byte, index int, v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bits(b.inputs, unit)[index] = v
}

func (b *fakeBank) setCoil(unit byte, index int, v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bits(b.coils, unit)[index] = v
}

func (b *fakeBank) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *fakeBank) coilWrites() []coilWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]coilWrite(nil), b.writes...)
}

func (b *fakeBank) Transact(_ context.Context, req []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.down {
		return nil, &errs.TransportError{Op: "write fake", Err: io.ErrClosedPipe}
	}

	unit, fc := req[0], req[1]
	addr := int(binary.BigEndian.Uint16(req[2:4]))
	qty := int(binary.BigEndian.Uint16(req[4:6]))
	out := []byte{unit, fc}

	switch fc {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs:
		src := b.bits(b.coils, unit)
		if fc == modbus.FuncReadDiscreteInputs {
			src = b.bits(b.inputs, unit)
		}
		packed := make([]byte, (qty+7)/8)
		for i := 0; i < qty; i++ {
			if src[addr+i] {
				packed[i/8] |= 1 << (i % 8)
			}
		}
		out = append(out, byte(len(packed)))
		out = append(out, packed...)
	case modbus.FuncWriteSingleCoil:
		on := qty == 0xFF00
		b.bits(b.coils, unit)[addr] = on
		b.writes = append(b.writes, coilWrite{unit: unit, address: uint16(addr), on: on})
		out = append(out, req[2:6]...)
	default:
		return nil, errors.New("unsupported function")
	}
	return modbus.AppendCRC(out), nil
}

func newTestManager(t *testing.T, tx modbus.Transactor, cooldown time.Duration) *modbus.Manager {
	t.Helper()
	registry := modbus.NewRegistry()
	registry.Add("rs485", "/dev/ttyUSB0", tx, nil, 100*time.Millisecond)
	m := modbus.NewManager(registry, modbus.ManagerConfig{Cooldown: cooldown}, zap.NewNop())
	t.Cleanup(func() { m.Close() })
	return m
}

func newTestEventBus(t *testing.T) *events.Bus {
	t.Helper()
	bus := events.NewBus(100, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	t.Cleanup(func() {
		cancel()
		bus.Wait()
	})
	return bus
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}
	return events.Event{}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
