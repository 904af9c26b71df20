package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotRunning is returned when enqueueing on a queue that was never started or is stopped.
	ErrNotRunning = errors.New("queue not running")
	// ErrPending is returned when a job with the same key is already waiting to run.
	ErrPending = errors.New("job already pending")
)

// Job is one unit of timer-driven work.
type Job struct {
	ID      string
	Type    string
	Payload interface{}
	// Key coalesces jobs: while a job with this key waits in the buffer, new ones are refused.
	// Empty keys never coalesce.
	Key      string
	Enqueued time.Time
}

// Handler processes a job. A returned error is logged; jobs are never retried.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	Logger     *zap.Logger
}

// Queue runs jobs on a fixed set of goroutines. With one worker, jobs run strictly in
// enqueue order and never overlap.
type Queue struct {
	name    string
	handler Handler
	workers int
	logger  *zap.Logger

	jobs chan Job

	mu      sync.Mutex
	pending map[string]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewQueue builds a queue that feeds handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		name:    name,
		handler: handler,
		workers: cfg.Workers,
		logger:  cfg.Logger,
		jobs:    make(chan Job, cfg.BufferSize),
		pending: make(map[string]struct{}),
	}
}

// Start launches the workers. Calling it on a running queue is a no-op; a stopped queue
// can be started again.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(q.ctx, i+1)
	}
	q.logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.workers)
}

// Stop cancels the workers, waits for the job in progress and discards what is still buffered.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	dropped := 0
	for {
		select {
		case <-q.jobs:
			dropped++
			continue
		default:
		}
		break
	}
	q.pending = make(map[string]struct{})
	q.mu.Unlock()
	q.logger.Sugar().Infow("queue stopped", "queue", q.name, "discarded", dropped)
}

// Enqueue buffers a job. It fails with ErrPending when job.Key is already waiting and
// with ErrNotRunning outside Start/Stop. It blocks while the buffer is full.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return fmt.Errorf("%s: %w", q.name, ErrNotRunning)
	}
	if job.Key != "" {
		if _, ok := q.pending[job.Key]; ok {
			q.mu.Unlock()
			return fmt.Errorf("%s %s: %w", q.name, job.Key, ErrPending)
		}
		q.pending[job.Key] = struct{}{}
	}
	ctx := q.ctx
	q.mu.Unlock()

	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		q.release(job.Key)
		return fmt.Errorf("%s: %w", q.name, ErrNotRunning)
	}
}

// Pending reports how many keyed jobs are waiting.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) release(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.pending, key)
	q.mu.Unlock()
}

func (q *Queue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.release(job.Key)
			q.run(ctx, workerID, job)
		}
	}
}

func (q *Queue) run(ctx context.Context, workerID int, job Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Sugar().Errorw("job panicked", "queue", q.name, "worker", workerID, "job_id", job.ID, "type", job.Type, "panic", r)
		}
	}()
	if err := q.handler(ctx, job); err != nil {
		q.logger.Sugar().Warnw("job failed", "queue", q.name, "worker", workerID, "job_id", job.ID, "type", job.Type, "error", err)
		return
	}
	q.logger.Sugar().Debugw("job done", "queue", q.name, "job_id", job.ID, "type", job.Type,
		"waited", start.Sub(job.Enqueued), "took", time.Since(start))
}
