// Package scheduler runs the learning cycle on an interval with single-flight
// semantics.
//
// A tick that fires while a cycle is still running is skipped and logged,
// never queued. The guarantee is local to one process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultInterval is the default time between scheduled cycles.
const DefaultInterval = time.Hour

var (
	// ErrCycleInProgress is returned by Trigger while a cycle is running.
	ErrCycleInProgress = errors.New("learning cycle already in progress")

	// ErrAlreadyStarted is returned by Start on a running scheduler.
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// Runner executes one learning cycle. *intelligence.Miner satisfies it.
type Runner interface {
	RunCycle(ctx context.Context) error
}

// Status is a snapshot of the scheduler state.
type Status struct {
	Started     bool          `json:"started"`
	IsRunning   bool          `json:"is_running"`
	Interval    time.Duration `json:"interval"`
	LastRunTime *time.Time    `json:"last_run_time,omitempty"`
	NextRunTime *time.Time    `json:"next_run_time,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	Runs        int64         `json:"runs"`
	Skipped     int64         `json:"skipped"`
}

// Scheduler triggers a Runner periodically and on demand.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	lastRun time.Time
	lastErr error
	runs    int64
	skipped int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the time between scheduled cycles.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithCycleTimeout bounds every cycle. Zero means no bound.
func WithCycleTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the time source for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a stopped Scheduler. Call Start to begin scheduled runs.
func New(runner Runner, opts ...Option) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("scheduler: runner cannot be nil")
	}
	s := &Scheduler{
		runner:   runner,
		interval: DefaultInterval,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start registers the interval job and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrAlreadyStarted
	}

	log := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithLogger(log), cron.WithChain(cron.Recover(log)))
	entry, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), s.tick)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	c.Start()
	s.cron = c
	s.entry = entry

	s.logger.Info("learning scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops scheduling new cycles and waits for a running cycle to finish
// or ctx to expire. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop()
	s.logger.Info("learning scheduler stopping")
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs a cycle now and waits for it. It returns ErrCycleInProgress
// when another cycle is running.
func (s *Scheduler) Trigger(ctx context.Context) error {
	return s.runCycle(ctx, "manual")
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Started:   s.cron != nil,
		IsRunning: s.running.Load(),
		Interval:  s.interval,
		Runs:      s.runs,
		Skipped:   s.skipped,
	}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		st.LastRunTime = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.cron != nil {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			st.NextRunTime = &next
		}
	}
	return st
}

func (s *Scheduler) tick() {
	err := s.runCycle(context.Background(), "scheduled")
	if errors.Is(err, ErrCycleInProgress) {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		s.logger.Warn("learning cycle skipped, previous cycle still running")
	}
}

func (s *Scheduler) runCycle(ctx context.Context, source string) (err error) {
	if !s.running.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer s.running.Store(false)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("learning cycle panicked: %v", r)
			s.logger.Error("learning cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		s.mu.Lock()
		s.lastRun = start
		s.lastErr = err
		s.runs++
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("learning cycle failed", zap.String("source", source), zap.Error(err))
			return
		}
		s.logger.Info("learning cycle finished",
			zap.String("source", source),
			zap.Duration("duration", s.now().Sub(start)))
	}()

	s.logger.Debug("learning cycle started", zap.String("source", source))
	return s.runner.RunCycle(ctx)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
