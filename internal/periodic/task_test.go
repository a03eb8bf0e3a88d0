package periodic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestTaskRunsOnInterval(t *testing.T) {
	var runs atomic.Int32
	task := New("tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}, zaptest.NewLogger(t))

	task.Start(context.Background())
	task.Start(context.Background())
	if !task.Running() {
		t.Fatalf("task not running after Start")
	}

	time.Sleep(100 * time.Millisecond)
	task.Stop()

	n := runs.Load()
	if n < 3 {
		t.Fatalf("runs = %d, want at least 3", n)
	}
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != n {
		t.Fatalf("task kept running after Stop")
	}
	if task.Running() {
		t.Fatalf("Running() = true after Stop")
	}
}

func TestTaskImmediate(t *testing.T) {
	ran := make(chan struct{}, 1)
	task := New("now", time.Hour, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}, zaptest.NewLogger(t), WithImmediate())

	task.Start(context.Background())
	defer task.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatalf("immediate run did not happen")
	}
}

func TestTaskSurvivesErrorsAndPanics(t *testing.T) {
	var runs atomic.Int32
	task := New("flaky", 5*time.Millisecond, func(context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		}
		return nil
	}, zaptest.NewLogger(t))

	task.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	task.Stop()

	if runs.Load() < 3 {
		t.Fatalf("runs = %d, task stopped after failure", runs.Load())
	}
}

func TestTaskStopWithoutStart(t *testing.T) {
	task := New("idle", time.Second, func(context.Context) error { return nil }, zaptest.NewLogger(t))
	task.Stop()
	if task.Name() != "idle" {
		t.Fatalf("Name() = %q", task.Name())
	}
}
