package socketpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by the worker pool.
var (
	// ErrPoolClosed is returned when submitting to, or shutting down, a pool that is shutting down.
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrInvalidPoolSize is returned when a pool is created with fewer than one worker.
	ErrInvalidPoolSize = errors.New("worker pool size must be positive")
)

// Task is a unit of work run to completion by one worker.
// ctx is canceled when a shutdown gives up waiting for in-flight tasks.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of long-lived workers.
// Tasks submitted while every worker is busy wait in a bounded queue.
//
// Shutdown stops intake, lets the workers finish the queue and in-flight tasks,
// and cancels the task context if its own context expires first.
type Pool struct {
	workers int
	tasks   chan Task
	logger  Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu         sync.Mutex
	closed     bool
	quit       chan struct{} // closed when shutdown starts, releases blocked submitters
	submitters sync.WaitGroup
	done       chan struct{} // closed once every worker has returned

	active atomic.Int64
}

// NewPool starts a pool with the given number of workers.
func NewPool(workers int, opt ...PoolOption) (*Pool, error) {
	if workers <= 0 {
		return nil, ErrInvalidPoolSize
	}

	opts := poolOptions{queueSize: workers}
	for _, o := range opt {
		o(&opts)
	}
	if opts.queueSize < 0 {
		opts.queueSize = 0
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers: workers,
		tasks:   make(chan Task, opts.queueSize),
		logger:  opts.logger,
		ctx:     ctx,
		cancel:  cancel,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		id := i + 1
		p.group.Go(func() error {
			p.work(id)
			return nil
		})
	}

	p.logger.Debug("worker pool started", "workers", workers, "queue_size", opts.queueSize)
	return p, nil
}

// Submit queues task for execution. It blocks while the queue is full.
//
// Returns:
//   - nil: the task was queued and will run
//   - ErrPoolClosed: the pool is shutting down, the task will not run
//   - ctx.Err(): ctx was done before the task could be queued
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.submitters.Add(1)
	p.mu.Unlock()
	defer p.submitters.Done()

	select {
	case p.tasks <- task:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and waits for queued and running tasks to finish.
// If ctx is done first, running tasks are canceled and Shutdown waits for them to
// return before reporting ctx.Err().
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	p.mu.Unlock()

	close(p.quit)
	// No sender can reach the channel once every admitted submitter has returned.
	p.submitters.Wait()
	close(p.tasks)

	go func() {
		_ = p.group.Wait()
		close(p.done)
	}()

	select {
	case <-p.done:
		p.cancel()
		p.logger.Debug("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, canceling tasks",
			"active", p.Active(), "pending", p.Pending())
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}

// Done returns a channel that is closed once Shutdown has stopped every worker.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Workers returns the fixed number of workers.
func (p *Pool) Workers() int {
	return p.workers
}

// Active returns the number of tasks currently running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Pending returns the number of queued tasks waiting for a worker.
func (p *Pool) Pending() int {
	return len(p.tasks)
}

func (p *Pool) work(id int) {
	for task := range p.tasks {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "worker", id, "panic", fmt.Sprint(r))
		}
	}()

	task(p.ctx)
}
