// internal/modbus/slow.go
package modbus

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/periodic"
	"vehicle-gateway/internal/protocol"
)

// Job is one named step of the slow-bus cycle.
type Job func(ctx context.Context) (any, error)

// TaskExecutionInfo describes one job run. EndTime is nil while the job is
// still running.
type TaskExecutionInfo struct {
	TaskName   string     `json:"task_name"`
	TaskIndex  int        `json:"task_index"`
	TotalTasks int        `json:"total_tasks"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Result     any        `json:"result,omitempty"`
	Err        error      `json:"-"`
	Error      string     `json:"error,omitempty"`
}

// Observer receives execution info at the start and end of every job.
type Observer func(TaskExecutionInfo)

// SchedulerConfig tunes the slow-bus scheduler.
type SchedulerConfig struct {
	Interval       time.Duration
	RequestTimeout time.Duration
}

// DefaultSchedulerConfig returns the production settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:       5 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

type namedJob struct {
	name string
	job  Job
}

type slowPending struct {
	unitID   byte
	function byte
	result   chan Result
}

// startsReply reports whether a response to p can begin at buf[0].
func (p *slowPending) startsReply(buf []byte) bool {
	if buf[0] != p.unitID && !(p.unitID == remapExpectedID && buf[0] == remapAdvertisedID) {
		return false
	}
	return len(buf) < 2 || buf[1] == p.function || buf[1] == p.function|exceptionFlag
}

// align drops leading bytes that cannot start a response to p.
func (p *slowPending) align(buf []byte) []byte {
	for len(buf) > 0 && !p.startsReply(buf) {
		buf = buf[1:]
	}
	return buf
}

// Scheduler owns a slow Modbus link with a single outstanding request and
// runs registered jobs in a fixed cycle.
type Scheduler struct {
	name   string
	conn   io.ReadWriteCloser
	config SchedulerConfig
	logger *zap.Logger

	mu       sync.Mutex
	pending  *slowPending
	buf      []byte
	jobs     []namedJob
	observer Observer
	last     map[string]TaskExecutionInfo
	task     *periodic.Task
	closed   bool

	cycling atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler wraps conn and starts its read loop.
func NewScheduler(name string, conn io.ReadWriteCloser, config SchedulerConfig, logger *zap.Logger) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}

	s := &Scheduler{
		name:   name,
		conn:   conn,
		config: config,
		logger: logger.With(zap.String("component", "slow-bus"), zap.String("port", name)),
		last:   make(map[string]TaskExecutionInfo),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

// OpenScheduler opens the slow serial line.
func OpenScheduler(serialConfig *protocol.SerialConfig, config SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	conn, err := protocol.OpenSerial(serialConfig, logger)
	if err != nil {
		return nil, err
	}
	return NewScheduler(serialConfig.Name, conn, config, logger), nil
}

// Name returns the port name
func (s *Scheduler) Name() string {
	return s.name
}

func (s *Scheduler) readLoop() {
	defer s.wg.Done()
	defer close(s.done)

	buf := make([]byte, maxBufferLength)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.receive(buf[:n])
		}
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.logger.Error("Slow bus read loop stopped", zap.Error(err))
			}
			s.settle(Result{Err: &errs.TransportError{Op: "read " + s.name, Err: err}})
			return
		}
	}
}

func (s *Scheduler) receive(data []byte) {
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		s.logger.Debug("Discarding unsolicited bytes", zap.Binary("data", data))
		return
	}

	s.buf = s.pending.align(append(s.buf, data...))
	if len(s.buf) > maxBufferLength {
		s.buf = s.buf[len(s.buf)-maxBufferLength:]
	}
	frame, ok := slowFrame(s.buf)
	s.mu.Unlock()

	if ok {
		s.settle(decodeSlowFrame(frame))
	}
}

// slowFrame returns the complete frame at the start of buf.
func slowFrame(buf []byte) ([]byte, bool) {
	if len(buf) < 3 {
		return nil, false
	}

	var need int
	switch fc := buf[1]; {
	case fc == FuncReadHoldingRegisters:
		need = 3 + int(buf[2]) + crcLength
	case fc > exceptionFlag:
		need = exceptionLength
	default:
		need = 6 + crcLength
	}
	if len(buf) < need {
		return nil, false
	}
	return append([]byte(nil), buf[:need]...), true
}

func decodeSlowFrame(frame []byte) Result {
	if !CheckCRC(frame) {
		return Result{Err: errs.Invalid("crc", "checksum mismatch in % X", frame)}
	}
	switch fc := frame[1]; {
	case fc == FuncReadHoldingRegisters:
		return Result{Value: frame[3 : 3+int(frame[2])]}
	case fc > exceptionFlag:
		return Result{Err: &errs.ModbusError{FunctionCode: fc, ExceptionCode: frame[2]}}
	default:
		return Result{Value: frame}
	}
}

func (s *Scheduler) settle(res Result) {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.buf = s.buf[:0]
	s.mu.Unlock()

	if p != nil {
		p.result <- res
	}
}

func (s *Scheduler) release(p *slowPending) {
	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
		s.buf = s.buf[:0]
	}
	s.mu.Unlock()
}

// Send writes one raw request frame and waits for its response. Register
// reads resolve with the data bytes, other functions with the whole frame.
func (s *Scheduler) Send(ctx context.Context, frame []byte) ([]byte, error) {
	if len(frame) < minRequestLength {
		return nil, errs.Invalid("request", "frame of %d bytes is too short", len(frame))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("slow bus %s: %w", s.name, errs.ErrClosed)
	}
	if s.pending != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("slow bus %s has a request in flight: %w", s.name, errs.ErrBusy)
	}
	p := &slowPending{unitID: frame[0], function: frame[1], result: make(chan Result, 1)}
	s.pending = p
	s.buf = s.buf[:0]
	s.mu.Unlock()

	select {
	case <-s.done:
		s.release(p)
		return nil, &errs.TransportError{Op: "write " + s.name, Err: io.ErrClosedPipe}
	default:
	}

	if _, err := s.conn.Write(frame); err != nil {
		s.release(p)
		return nil, &errs.TransportError{Op: "write " + s.name, Err: err}
	}

	timer := time.NewTimer(s.config.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-p.result:
		if res.Err != nil {
			return nil, res.Err
		}
		data, ok := res.Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("slow bus %s: unexpected result %T", s.name, res.Value)
		}
		return data, nil
	case <-timer.C:
		s.release(p)
		return nil, &errs.TimeoutError{Op: "slow bus " + s.name, After: s.config.RequestTimeout}
	case <-ctx.Done():
		s.release(p)
		return nil, ctx.Err()
	}
}

// SendRequest sends a hex encoded request frame.
func (s *Scheduler) SendRequest(ctx context.Context, request string) ([]byte, error) {
	frame, err := hex.DecodeString(strings.ReplaceAll(request, " ", ""))
	if err != nil {
		return nil, errs.Invalid("request", "not a hex frame: %v", err)
	}
	if len(frame) < 4 {
		return nil, errs.Invalid("request", "frame of %d bytes is too short", len(frame))
	}
	return s.Send(ctx, frame)
}

// Register appends a job to the cycle.
func (s *Scheduler) Register(name string, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, namedJob{name: name, job: job})
}

// SetObserver installs the execution observer.
func (s *Scheduler) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// RunCycle runs every job once, in registration order. It returns false
// without running anything when a cycle is already in progress.
func (s *Scheduler) RunCycle(ctx context.Context) bool {
	if !s.cycling.CompareAndSwap(false, true) {
		s.logger.Warn("Previous cycle still running, skipping")
		return false
	}
	defer s.cycling.Store(false)

	s.mu.Lock()
	jobs := append([]namedJob(nil), s.jobs...)
	observer := s.observer
	s.mu.Unlock()

	for i, j := range jobs {
		if ctx.Err() != nil {
			return true
		}

		info := TaskExecutionInfo{
			TaskName:   j.name,
			TaskIndex:  i,
			TotalTasks: len(jobs),
			StartTime:  time.Now(),
		}
		s.record(info)
		if observer != nil {
			observer(info)
		}

		result, err := s.runJob(ctx, j.job)
		end := time.Now()
		info.EndTime = &end
		info.Result = result
		info.Err = err
		if err != nil {
			info.Error = err.Error()
			s.logger.Error("Slow bus job failed", zap.String("job", j.name), zap.Error(err))
		}
		s.record(info)
		if observer != nil {
			observer(info)
		}
	}
	return true
}

func (s *Scheduler) runJob(ctx context.Context, job Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}

func (s *Scheduler) record(info TaskExecutionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[info.TaskName] = info
}

// Executions returns the latest execution of every job.
func (s *Scheduler) Executions() []TaskExecutionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskExecutionInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		if info, ok := s.last[j.name]; ok {
			out = append(out, info)
		}
	}
	return out
}

// Busy reports whether a request is in flight.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Start runs a cycle now and then on every interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.task == nil {
		s.task = periodic.New("slow-bus-cycle", s.config.Interval, func(ctx context.Context) error {
			s.RunCycle(ctx)
			return nil
		}, s.logger, periodic.WithImmediate())
	}
	task := s.task
	s.mu.Unlock()

	task.Start(ctx)
	s.logger.Info("Slow bus scheduler started", zap.Duration("interval", s.config.Interval))
}

// Close stops the cycle and the link. A request in flight fails with ErrClosed.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	task := s.task
	s.mu.Unlock()

	if task != nil {
		task.Stop()
	}
	s.settle(Result{Err: fmt.Errorf("slow bus %s: %w", s.name, errs.ErrClosed)})
	err := s.conn.Close()
	s.wg.Wait()
	return err
}
