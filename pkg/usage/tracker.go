// Package usage implements the best-effort side channel that records reads.
//
// Reads enqueue usage increments and co-access episodes without waiting for
// the store. The queue is bounded: when it is full the task is dropped and
// logged. Tasks still queued when the process dies are lost, which is
// acceptable because usage counts are a soft ranking signal.
package usage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by Close when the tracker was already closed.
var ErrClosed = errors.New("usage tracker closed")

// Recorder is the slice of storage.Store the tracker writes to.
type Recorder interface {
	IncrementUsage(ctx context.Context, id int64, usageContext string) error
	RecordCoAccess(ctx context.Context, ids []int64) error
}

type taskKind int

const (
	taskIncrement taskKind = iota
	taskCoAccess
)

type task struct {
	kind    taskKind
	id      int64
	ids     []int64
	context string
}

// Stats is a snapshot of tracker counters.
type Stats struct {
	Enqueued  int64
	Completed int64
	Failed    int64
	Dropped   int64
}

// Tracker is a bounded worker pool applying usage tasks to a Recorder.
type Tracker struct {
	recorder Recorder
	logger   *zap.Logger
	timeout  time.Duration
	queue    chan task

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	enqueued  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Tracker.
type Option func(*trackerConfig)

type trackerConfig struct {
	queueSize int
	workers   int
	timeout   time.Duration
	logger    *zap.Logger
}

// WithQueueSize bounds the number of pending tasks. Default 1024.
func WithQueueSize(n int) Option {
	return func(c *trackerConfig) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithWorkers sets the number of worker goroutines. Default 2.
func WithWorkers(n int) Option {
	return func(c *trackerConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithTimeout bounds each store call. Default 5s.
func WithTimeout(d time.Duration) Option {
	return func(c *trackerConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger for dropped and failed tasks.
func WithLogger(l *zap.Logger) Option {
	return func(c *trackerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// New starts a tracker writing to recorder.
func New(recorder Recorder, opts ...Option) *Tracker {
	cfg := trackerConfig{
		queueSize: 1024,
		workers:   2,
		timeout:   5 * time.Second,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &Tracker{
		recorder: recorder,
		logger:   cfg.logger,
		timeout:  cfg.timeout,
		queue:    make(chan task, cfg.queueSize),
	}
	for i := 0; i < cfg.workers; i++ {
		t.wg.Add(1)
		go t.work()
	}
	return t
}

// Increment enqueues a usage increment for every id. It never blocks and
// reports whether all tasks were accepted.
func (t *Tracker) Increment(ids []int64, usageContext string) bool {
	ok := true
	for _, id := range ids {
		if !t.submit(task{kind: taskIncrement, id: id, context: usageContext}) {
			ok = false
		}
	}
	return ok
}

// CoAccess enqueues one co-access episode linking ids. Fewer than two ids is
// a no-op.
func (t *Tracker) CoAccess(ids []int64) bool {
	if len(ids) < 2 {
		return true
	}
	return t.submit(task{kind: taskCoAccess, ids: append([]int64(nil), ids...)})
}

func (t *Tracker) submit(tk task) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.dropped.Add(1)
		return false
	}
	select {
	case t.queue <- tk:
		t.enqueued.Add(1)
		return true
	default:
		t.dropped.Add(1)
		t.logger.Warn("usage queue full, dropping task",
			zap.Int64("memory_id", tk.id),
			zap.Int("ids", len(tk.ids)),
		)
		return false
	}
}

func (t *Tracker) work() {
	defer t.wg.Done()
	for tk := range t.queue {
		t.apply(tk)
	}
}

func (t *Tracker) apply(tk task) {
	defer func() {
		if r := recover(); r != nil {
			t.failed.Add(1)
			t.logger.Error("usage task panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	var err error
	switch tk.kind {
	case taskIncrement:
		err = t.recorder.IncrementUsage(ctx, tk.id, tk.context)
	case taskCoAccess:
		err = t.recorder.RecordCoAccess(ctx, tk.ids)
	}
	if err != nil {
		t.failed.Add(1)
		t.logger.Warn("usage task failed",
			zap.Int64("memory_id", tk.id),
			zap.Int64s("ids", tk.ids),
			zap.String("context", tk.context),
			zap.Error(err),
		)
		return
	}
	t.completed.Add(1)
}

// Stats returns a snapshot of the counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Enqueued:  t.enqueued.Load(),
		Completed: t.completed.Load(),
		Failed:    t.failed.Load(),
		Dropped:   t.dropped.Load(),
	}
}

// Close stops accepting tasks and waits for queued ones to drain or for ctx
// to end.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
