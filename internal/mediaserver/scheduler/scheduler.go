// Package scheduler runs short cooperative tasks on two clocked queues:
// a heartbeat queue for connection time-to-live bookkeeping and a media
// queue for mixers. Tasks are single-shot; recurring work resubmits itself.
package scheduler

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/frostbyte73/core"
	"github.com/sourcegraph/conc"
)

const (
	// DefaultHeartbeatQuantum is the heartbeat tick; connection timeouts
	// are expressed as timeout_seconds*10 ticks of this length.
	DefaultHeartbeatQuantum = 100 * time.Millisecond

	// DefaultMediaQuantum is one media frame (20ms at 8kHz = 160 samples).
	DefaultMediaQuantum = 20 * time.Millisecond
)

// Task is a unit of work executed once per submission.
type Task struct {
	name      string
	fn        func()
	queued    atomic.Bool
	cancelled atomic.Bool
}

// NewTask creates a task running fn each time it is performed.
func NewTask(name string, fn func()) *Task {
	return &Task{name: name, fn: fn}
}

// Name returns the task name used in logs.
func (t *Task) Name() string { return t.name }

// Cancel prevents a queued submission from running.
func (t *Task) Cancel() { t.cancelled.Store(true) }

// Rearm clears a previous Cancel so the task can be submitted again.
func (t *Task) Rearm() { t.cancelled.Store(false) }

// IsCancelled reports whether the task has been cancelled.
func (t *Task) IsCancelled() bool { return t.cancelled.Load() }

// Scheduler owns the two task queues and the tickers driving them.
type Scheduler struct {
	clock            clock.Clock
	heartbeatQuantum time.Duration
	mediaQuantum     time.Duration

	mu        sync.Mutex
	heartbeat []*Task
	media     []*Task

	started atomic.Bool
	stopped core.Fuse
	wg      conc.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, typically with clock.NewMock() in tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithHeartbeatQuantum overrides DefaultHeartbeatQuantum.
func WithHeartbeatQuantum(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.heartbeatQuantum = d
		}
	}
}

// WithMediaQuantum overrides DefaultMediaQuantum.
func WithMediaQuantum(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.mediaQuantum = d
		}
	}
}

// New creates a scheduler. It does not tick until Start is called.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:            clock.New(),
		heartbeatQuantum: DefaultHeartbeatQuantum,
		mediaQuantum:     DefaultMediaQuantum,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clock returns the clock driving the scheduler.
func (s *Scheduler) Clock() clock.Clock { return s.clock }

// HeartbeatQuantum returns the heartbeat tick length.
func (s *Scheduler) HeartbeatQuantum() time.Duration { return s.heartbeatQuantum }

// MediaQuantum returns the media tick length.
func (s *Scheduler) MediaQuantum() time.Duration { return s.mediaQuantum }

// MediaQuantumSamples returns the samples per media tick at 8kHz.
func (s *Scheduler) MediaQuantumSamples() int {
	return int(s.mediaQuantum * 8000 / time.Second)
}

// SubmitHeartbeat queues t for the next heartbeat tick.
// A task already waiting in a queue is not queued twice.
func (s *Scheduler) SubmitHeartbeat(t *Task) {
	if !t.queued.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.heartbeat = append(s.heartbeat, t)
	s.mu.Unlock()
}

// Submit queues t for the next media tick.
func (s *Scheduler) Submit(t *Task) {
	if !t.queued.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.media = append(s.media, t)
	s.mu.Unlock()
}

// Pending returns the number of queued heartbeat and media tasks.
func (s *Scheduler) Pending() (heartbeat, media int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heartbeat), len(s.media)
}

// RunHeartbeat performs one heartbeat quantum and returns how many tasks ran.
func (s *Scheduler) RunHeartbeat() int {
	s.mu.Lock()
	batch := s.heartbeat
	s.heartbeat = nil
	s.mu.Unlock()
	return s.perform(batch)
}

// RunMedia performs one media quantum and returns how many tasks ran.
func (s *Scheduler) RunMedia() int {
	s.mu.Lock()
	batch := s.media
	s.media = nil
	s.mu.Unlock()
	return s.perform(batch)
}

func (s *Scheduler) perform(batch []*Task) int {
	ran := 0
	for _, t := range batch {
		t.queued.Store(false)
		if t.IsCancelled() {
			continue
		}
		s.run(t)
		ran++
	}
	return ran
}

func (s *Scheduler) run(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[Scheduler] Task panicked", "task", t.name, "panic", r)
		}
	}()
	t.fn()
}

// Start launches the heartbeat and media tickers. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Go(func() { s.loop("heartbeat", s.heartbeatQuantum, s.RunHeartbeat) })
	s.wg.Go(func() { s.loop("media", s.mediaQuantum, s.RunMedia) })
	slog.Info("[Scheduler] Started",
		"heartbeat_quantum", s.heartbeatQuantum,
		"media_quantum", s.mediaQuantum)
}

func (s *Scheduler) loop(queue string, quantum time.Duration, run func() int) {
	ticker := s.clock.Ticker(quantum)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopped.Watch():
			slog.Debug("[Scheduler] Queue stopped", "queue", queue)
			return
		case <-ticker.C:
			run()
		}
	}
}

// Stop halts the tickers and waits for the loops to exit.
// Queued tasks are left unperformed.
func (s *Scheduler) Stop() {
	s.stopped.Break()
	s.wg.Wait()
}
