package modbus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"vehicle-gateway/internal/errs"
)

func newTestManager(t *testing.T, bus *testBus, cooldown time.Duration) (*Manager, PortID) {
	t.Helper()

	reg := NewRegistry()
	id := reg.Add("fast", "/dev/ttyTEST0", bus, nil, 20*time.Millisecond)
	m := NewManager(reg, ManagerConfig{Cooldown: cooldown}, zaptest.NewLogger(t))
	t.Cleanup(func() { m.Close() })
	return m, id
}

func readOne(ctx context.Context, c *Client) (any, error) {
	return c.ReadHoldingRegisters(ctx, 0, 1)
}

// blockFirst makes the bus hold the first request until release is closed.
func blockFirst(bus *testBus) (started <-chan struct{}, release chan struct{}) {
	s := make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	bus.mu.Lock()
	bus.hook = func(byte) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(s)
			<-release
		}
	}
	bus.mu.Unlock()
	return s, release
}

func TestManagerPriorityOrdering(t *testing.T) {
	bus := newTestBus(newTestSlave(1), newTestSlave(2), newTestSlave(3), newTestSlave(4), newTestSlave(5))
	m, port := newTestManager(t, bus, time.Second)
	started, release := blockFirst(bus)

	first, err := m.Submit(port, 1, readOne, PriorityNormal)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	var results []<-chan Result
	for _, sub := range []struct {
		addr byte
		prio Priority
	}{
		{2, PriorityNormal},
		{3, PriorityNormal},
		{4, PriorityHigh},
		{5, PriorityHigh},
	} {
		ch, err := m.Submit(port, sub.addr, readOne, sub.prio)
		if err != nil {
			t.Fatalf("Submit(%d): %v", sub.addr, err)
		}
		results = append(results, ch)
	}

	status, _ := m.PortStatus(port)
	if status.QueueLength != 4 || status.HighPriorityQueued != 2 || !status.IsProcessing {
		t.Fatalf("status = %+v", status)
	}

	close(release)
	if res := <-first; res.Err != nil {
		t.Fatalf("first: %v", res.Err)
	}
	for _, ch := range results {
		if res := <-ch; res.Err != nil {
			t.Fatalf("result: %v", res.Err)
		}
	}

	got := bus.callLog()
	want := []byte{1, 4, 5, 2, 3}
	if string(got) != string(want) {
		t.Fatalf("dispatch order = %v, want %v", got, want)
	}
}

func TestManagerCooldownIsolation(t *testing.T) {
	bus := newTestBus(newTestSlave(1))
	m, port := newTestManager(t, bus, 150*time.Millisecond)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, port, 2, readOne, PriorityNormal)
	if !errors.Is(err, errs.ErrRequestTimeout) {
		t.Fatalf("first request err = %v, want timeout", err)
	}
	if !m.IsOffline(port, 2) {
		t.Fatalf("device 2 not marked offline")
	}

	calls := len(bus.callLog())
	_, err = m.Enqueue(ctx, port, 2, readOne, PriorityNormal)
	var cd *errs.CooldownError
	if !errors.As(err, &cd) {
		t.Fatalf("err = %v, want cooldown", err)
	}
	if cd.Address != 2 || cd.RemainingSeconds() != 1 {
		t.Fatalf("cooldown = %+v", cd)
	}
	if len(bus.callLog()) != calls {
		t.Fatalf("request in cooldown reached the bus")
	}

	if _, err := m.Enqueue(ctx, port, 1, readOne, PriorityNormal); err != nil {
		t.Fatalf("healthy device blocked: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	bus.mu.Lock()
	bus.slaves[2] = newTestSlave(2)
	bus.mu.Unlock()

	if _, err := m.Enqueue(ctx, port, 2, readOne, PriorityNormal); err != nil {
		t.Fatalf("after cooldown: %v", err)
	}
	if m.IsOffline(port, 2) {
		t.Fatalf("device 2 still offline after success")
	}

	states := m.DeviceStates()
	if len(states) != 2 || states[0].Address != 1 || states[1].Address != 2 || states[1].Offline {
		t.Fatalf("device states = %+v", states)
	}
	if states[1].LastFailedTime == nil {
		t.Fatalf("last failure not kept")
	}
}

func TestManagerTelemetry(t *testing.T) {
	bus := newTestBus(newTestSlave(1))
	m, port := newTestManager(t, bus, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.Enqueue(ctx, port, 1, readOne, PriorityNormal); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if _, err := m.Enqueue(ctx, port, 7, readOne, PriorityHigh); err == nil {
		t.Fatalf("request to missing device succeeded")
	}

	status, err := m.PortStatus(port)
	if err != nil {
		t.Fatalf("PortStatus: %v", err)
	}
	if status.AccessCount1m != 4 || status.ErrorCount24h != 1 || status.ErrorCount1m != 1 {
		t.Fatalf("status = %+v", status)
	}
	if status.LastError == nil || status.LastError.Address != 7 {
		t.Fatalf("last error = %+v", status.LastError)
	}
	if status.LastRequestTime == nil || status.TimeSinceLastRequestMs == nil {
		t.Fatalf("last request time missing")
	}

	accesses, _ := m.AccessHistory(port, 0)
	if len(accesses) != 4 || accesses[0].Address != 7 || accesses[0].Priority != "high" {
		t.Fatalf("accesses = %+v", accesses)
	}
	history, _ := m.ErrorHistory(port, 10)
	if len(history) != 1 || !strings.Contains(history[0].Message, "timeout") {
		t.Fatalf("errors = %+v", history)
	}

	sys := m.SystemStatus()
	if len(sys.Queues) != 1 || sys.TotalAccesses1m != 4 || sys.TotalErrors24h != 1 {
		t.Fatalf("system status = %+v", sys)
	}

	if _, err := m.PortStatus(42); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown port err = %v", err)
	}
}

func TestManagerRecoversPanics(t *testing.T) {
	bus := newTestBus(newTestSlave(1))
	m, port := newTestManager(t, bus, time.Second)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, port, 3, func(context.Context, *Client) (any, error) {
		panic("bad decoder")
	}, PriorityNormal)
	if err == nil || !strings.Contains(err.Error(), "bad decoder") {
		t.Fatalf("err = %v", err)
	}

	regs, err := Do(ctx, m, port, 1, PriorityNormal, func(ctx context.Context, c *Client) ([]uint16, error) {
		return c.ReadHoldingRegisters(ctx, 0, 2)
	})
	if err != nil || len(regs) != 2 {
		t.Fatalf("Do after panic = %v, %v", regs, err)
	}
}

func TestManagerCloseFailsQueued(t *testing.T) {
	bus := newTestBus(newTestSlave(1), newTestSlave(2))
	reg := NewRegistry()
	port := reg.Add("fast", "/dev/ttyTEST0", bus, nil, 20*time.Millisecond)
	m := NewManager(reg, ManagerConfig{}, zaptest.NewLogger(t))
	started, release := blockFirst(bus)

	first, _ := m.Submit(port, 1, readOne, PriorityNormal)
	<-started
	queued, err := m.Submit(port, 2, readOne, PriorityNormal)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-closed

	<-first
	if res := <-queued; !errors.Is(res.Err, errs.ErrClosed) {
		t.Fatalf("queued err = %v, want ErrClosed", res.Err)
	}
	if _, err := m.Submit(port, 1, readOne, PriorityNormal); !errors.Is(err, errs.ErrClosed) {
		t.Fatalf("Submit after Close err = %v", err)
	}
}

func TestManagerEnqueueContext(t *testing.T) {
	bus := newTestBus(newTestSlave(1))
	m, port := newTestManager(t, bus, time.Second)
	started, release := blockFirst(bus)
	defer close(release)

	m.Submit(port, 1, readOne, PriorityNormal)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Enqueue(ctx, port, 1, readOne, PriorityNormal); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestManagerRejectsQueuedAtDispatch(t *testing.T) {
	bus := newTestBus(newTestSlave(1))
	m, port := newTestManager(t, bus, time.Minute)
	started, release := blockFirst(bus)

	first, err := m.Submit(port, 2, readOne, PriorityNormal)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	queued, err := m.Submit(port, 2, readOne, PriorityNormal)
	if err != nil {
		t.Fatalf("Submit before failure: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	abandoned, err := m.submit(ctx, port, 1, readOne, PriorityNormal)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	cancel()
	close(release)

	if res := <-first; !errors.Is(res.Err, errs.ErrRequestTimeout) {
		t.Fatalf("first err = %v, want timeout", res.Err)
	}
	if res := <-queued; !errors.Is(res.Err, errs.ErrDeviceCooldown) {
		t.Fatalf("queued err = %v, want cooldown", res.Err)
	}
	if res := <-abandoned; !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("abandoned err = %v, want canceled", res.Err)
	}

	if calls := bus.callLog(); len(calls) != 1 {
		t.Fatalf("bus calls = %v, want only the first request", calls)
	}
	history, _ := m.ErrorHistory(port, 10)
	if len(history) != 3 {
		t.Fatalf("errors = %+v, want 3 records", history)
	}
	status, _ := m.PortStatus(port)
	if status.ErrorCount1m != 3 || status.AccessCount1m != 1 {
		t.Fatalf("status = %+v", status)
	}
}
