package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs sync cycles on a fixed interval: one pass immediately
// on Start, then one per tick. Cycles never overlap because the loop is
// their only caller. Single-use: after Stop the scheduler stays
// stopped.
type Scheduler struct {
	pipeline *Pipeline
	interval time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
	running bool
	lastRun time.Time
	lastErr error
	lastRes *CycleResult
}

// SchedulerStatus is a point-in-time snapshot for the health endpoint
// and the status command.
type SchedulerStatus struct {
	Running   bool         `json:"running"`
	LastRun   time.Time    `json:"last_run"`
	LastError string       `json:"last_error,omitempty"`
	LastCycle *CycleResult `json:"last_cycle,omitempty"`
}

// NewScheduler wires a pipeline to an interval. Non-positive intervals
// fall back to hourly.
func NewScheduler(pipeline *Pipeline, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pipeline: pipeline,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the loop and returns immediately. Repeat calls are
// no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.running = true
	s.mu.Unlock()

	s.logger.Info("sync scheduler started", slog.Duration("interval", s.interval))
	go s.loop(ctx)
}

// Stop ends the loop and waits for any in-flight cycle to finish. Safe
// to call repeatedly or before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })
	if started {
		<-s.doneCh
	}
}

// Status reports the loop state. The last cycle result is copied so
// callers never share memory with the loop.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatus{Running: s.running, LastRun: s.lastRun}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.lastRes != nil {
		c := *s.lastRes
		st.LastCycle = &c
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Initial pass: a fresh daemon would otherwise serve stale vectors
	// until the first tick.
	s.cycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// cycle delegates to the pipeline, which owns logging and metrics; the
// scheduler only remembers the outcome for Status.
func (s *Scheduler) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.pipeline.RunCycle(ctx, TriggerSchedule)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErr = err
	if res != nil {
		s.lastRes = res
	}
	s.mu.Unlock()
}
