/*
Package pool runs jobs on a fixed set of worker goroutines fed by a bounded FIFO queue.
Push blocks while the queue is full, so a slow handler population throttles its producer
instead of growing memory. Stop drains the queue by sending one stop sentinel per worker.
*/
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	merr "github.com/next-trace/scg-consumer/contract/errors"
)

// Job is one unit of work. A returned error or a panic is logged and never ends the worker.
type Job func() error

// entry is either a job or, when stop is set, a worker's shutdown sentinel.
type entry struct {
	job  Job
	stop bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger for job failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithName labels log records emitted by the pool.
func WithName(name string) Option {
	return func(p *Pool) { p.name = name }
}

// Pool is a fixed-size worker group draining a bounded job queue.
// A pool is started once and stopped once.
type Pool struct {
	size    int
	queue   chan entry
	wg      sync.WaitGroup
	workers int

	name   string
	logger *slog.Logger
}

// New returns an idle pool of size workers over a queue holding capacity jobs.
// Values below one are raised to one.
func New(size, capacity int, opts ...Option) *Pool {
	size = max(size, 1)
	capacity = max(capacity, 1)

	p := &Pool{
		size:   size,
		queue:  make(chan entry, capacity),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(p)
	}

	return p
}

// Start spawns exactly Size workers.
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)

		go p.work(i)
	}

	p.workers = p.size
}

// Push enqueues job, blocking while the queue is at capacity.
func (p *Pool) Push(job Job) {
	p.queue <- entry{job: job}
}

// PushContext is Push that gives up when ctx ends, returning ctx.Err().
// A job is always enqueued when there is room, even if ctx has already ended.
func (p *Pool) PushContext(ctx context.Context, job Job) error {
	select {
	case p.queue <- entry{job: job}:
		return nil
	default:
	}

	select {
	case p.queue <- entry{job: job}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop sends one sentinel per worker, waits for every worker to exit and resets the
// worker bookkeeping. Jobs queued before Stop still run. Stop on an idle pool returns at once.
func (p *Pool) Stop() {
	for i := 0; i < p.workers; i++ {
		p.queue <- entry{stop: true}
	}

	p.wg.Wait()
	p.workers = 0
}

// Size returns the configured worker count.
func (p *Pool) Size() int { return p.size }

// Cap returns the queue capacity.
func (p *Pool) Cap() int { return cap(p.queue) }

// Len returns the number of queued entries not yet claimed by a worker.
func (p *Pool) Len() int { return len(p.queue) }

func (p *Pool) work(id int) {
	defer p.wg.Done()

	for e := range p.queue {
		if e.stop {
			return
		}

		if err := p.run(e.job); err != nil {
			p.logger.Error("job failed", "pool", p.name, "worker", id, "err", err)
		}
	}
}

func (p *Pool) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v: %w", r, merr.ErrHandlerExecution)
		}
	}()

	if err := job(); err != nil {
		return fmt.Errorf("job: %w", err)
	}

	return nil
}
