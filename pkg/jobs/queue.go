// Package jobs runs background work with bounded retries.
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
	// ErrNotRunning is returned by Enqueue before Start or after Stop.
	ErrNotRunning = errors.New("queue is not running")
	// ErrFull is returned by Enqueue when the buffer has no room.
	ErrFull = errors.New("queue is full")
)

// Job is one unit of background work. Attempt counts failed runs.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler runs a job. A returned error schedules a retry.
type Handler func(context.Context, Job) error

// DropFunc observes a job that will not be run again.
type DropFunc func(Job, error)

// QueueConfig tunes a Queue. Zero values get defaults.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	// RetryDelay is the wait before the first retry; it doubles per attempt
	// up to MaxDelay.
	RetryDelay time.Duration
	MaxDelay   time.Duration
	// JobTimeout bounds a single handler run.
	JobTimeout time.Duration
	Logger     *zap.Logger
	OnDrop     DropFunc
}

func (c *QueueConfig) defaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = c.Workers * 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxDelay < c.RetryDelay {
		c.MaxDelay = 32 * c.RetryDelay
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Queue is an in-process worker pool. Jobs are lost on shutdown; it is meant
// for best-effort side effects such as notification retries.
type Queue struct {
	name string
	cfg  QueueConfig
	log  *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	ctx      context.Context
	cancel   context.CancelFunc
	running  bool

	jobs chan Job
	wg   sync.WaitGroup
}

// NewQueue builds a stopped queue.
func NewQueue(name string, cfg QueueConfig) *Queue {
	cfg.defaults()
	return &Queue{
		name:     name,
		cfg:      cfg,
		log:      cfg.Logger.With(zap.String("queue", name)),
		handlers: make(map[string]Handler),
		jobs:     make(chan Job, cfg.BufferSize),
	}
}

// Register binds handler to jobType, replacing any previous binding.
func (q *Queue) Register(jobType string, handler Handler) {
	q.mu.Lock()
	q.handlers[jobType] = handler
	q.mu.Unlock()
}

// Start launches the workers. Later calls are no-ops while running.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	q.wg.Add(q.cfg.Workers)
	for i := 0; i < q.cfg.Workers; i++ {
		go q.work()
	}
	q.log.Info("queue started", zap.Int("workers", q.cfg.Workers))
}

// Stop cancels in-flight handlers and pending retries, then waits for the
// workers to exit. Buffered jobs are discarded.
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
	q.log.Info("queue stopped", zap.Int("discarded", len(q.jobs)))
}

// Enqueue adds job without blocking.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	running, ctx := q.running, q.ctx
	q.mu.RUnlock()
	if !running {
		return fmt.Errorf("%s: %w", q.name, ErrNotRunning)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", q.name, ErrNotRunning)
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("%s: %w", q.name, ErrFull)
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.process(job)
		}
	}
}

func (q *Queue) handler(jobType string) Handler {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.handlers[jobType]
}

func (q *Queue) process(job Job) {
	h := q.handler(job.Type)
	if h == nil {
		q.drop(job, fmt.Errorf("no handler for job type %q", job.Type))
		return
	}
	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.JobTimeout)
	err := h(ctx, job)
	cancel()
	if err == nil {
		return
	}

	job.Attempt++
	if job.Attempt > q.cfg.MaxRetries {
		q.drop(job, err)
		return
	}
	delay := q.backoff(job.Attempt)
	q.log.Warn("job failed, will retry",
		zap.String("job_id", job.ID), zap.String("type", job.Type),
		zap.Int("attempt", job.Attempt), zap.Duration("delay", delay), zap.Error(err))
	q.retryAfter(job, delay)
}

// backoff returns the wait before retry number attempt, starting at 1.
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.cfg.RetryDelay
	for i := 1; i < attempt && d < q.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > q.cfg.MaxDelay {
		d = q.cfg.MaxDelay
	}
	return d
}

func (q *Queue) retryAfter(job Job, delay time.Duration) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-q.ctx.Done():
		case <-t.C:
			if err := q.Enqueue(job); err != nil {
				q.drop(job, err)
			}
		}
	}()
}

func (q *Queue) drop(job Job, err error) {
	q.log.Error("job dropped",
		zap.String("job_id", job.ID), zap.String("type", job.Type),
		zap.Int("attempt", job.Attempt), zap.Error(err))
	if q.cfg.OnDrop != nil {
		q.cfg.OnDrop(job, err)
	}
}
