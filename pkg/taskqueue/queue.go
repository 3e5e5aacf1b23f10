// Package taskqueue runs asynchronous work one task at a time in FIFO order
// with automatic retry. Each owner constructs its own Queue; there is no
// package-level instance.
package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	appErrors "proofcanvas/pkg/errors"
)

// Task is a unit of work. Returning an error triggers a retry unless the
// error is permanent (see errors.IsPermanent) or wrapped with backoff.Permanent.
type Task func(ctx context.Context) error

// Options configures retry behaviour.
type Options struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultOptions returns the retry settings used when a zero Options is given.
func DefaultOptions() Options {
	return Options{
		MaxTries:        3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
	}
}

type job struct {
	name   string
	task   Task
	result chan error
}

// Queue executes tasks sequentially on a single worker goroutine.
type Queue struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	pending []*job
	closed  bool
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a queue. A nil logger is replaced with a no-op logger.
func New(opts Options, logger *zap.Logger) *Queue {
	def := DefaultOptions()
	if opts.MaxTries == 0 {
		opts.MaxTries = def.MaxTries
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = def.InitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = def.MaxInterval
	}
	if opts.Multiplier <= 1 {
		opts.Multiplier = def.Multiplier
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:   opts,
		logger: logger,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.worker()
	return q
}

// Enqueue appends a task. The returned channel receives the task's final
// error (nil on success) exactly once.
func (q *Queue) Enqueue(name string, task Task) (<-chan error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, appErrors.NewClosedError("task queue")
	}

	j := &job{name: name, task: task, result: make(chan error, 1)}
	q.pending = append(q.pending, j)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return j.result, nil
}

// Do enqueues a task and waits for its result or for ctx to end.
func (q *Queue) Do(ctx context.Context, name string, task Task) error {
	result, err := q.Enqueue(name, task)
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of tasks waiting to run, excluding the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting tasks and waits for queued tasks to finish. If ctx
// ends first, the in-flight task is cancelled and the remaining tasks fail
// with a closed error.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) next() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, q.closed
	}
	j := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return j, false
}

func (q *Queue) worker() {
	defer close(q.done)
	defer q.cancel()

	for {
		j, finished := q.next()
		if finished {
			return
		}
		if j == nil {
			<-q.wake
			continue
		}

		if q.ctx.Err() != nil {
			j.result <- appErrors.NewClosedError("task queue")
			continue
		}
		j.result <- q.run(j)
	}
}

func (q *Queue) run(j *job) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = q.opts.InitialInterval
	exp.MaxInterval = q.opts.MaxInterval
	exp.Multiplier = q.opts.Multiplier

	start := time.Now()
	attempts := 0
	_, err := backoff.Retry(q.ctx, func() (struct{}, error) {
		attempts++
		err := j.task(q.ctx)
		if err != nil && appErrors.IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(q.opts.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.logger.Warn("Task failed, retrying",
				zap.String("task", j.name),
				zap.Error(err),
				zap.Duration("backoff", next),
			)
		}),
	)

	if err != nil {
		q.logger.Error("Task failed",
			zap.String("task", j.name),
			zap.Int("attempts", attempts),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return fmt.Errorf("task %s: %w", j.name, err)
	}

	q.logger.Debug("Task completed",
		zap.String("task", j.name),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
