// Package workerpool runs tasks on a fixed number of execution slots.
package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned by Submit when the backlog is at capacity.
	ErrQueueFull = errors.New("worker queue full")

	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Task is a unit of work. The ctx it receives carries the task's slot, so Sleep
// can hand the slot back while the task waits.
type Task func(ctx context.Context)

type slotKey struct{}

type slot struct {
	sem *semaphore.Weighted
}

// Pool executes submitted tasks with at most size of them holding a slot at once.
type Pool struct {
	size   int
	sem    *semaphore.Weighted
	queue  chan Task
	logger *slog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	done    chan struct{}
}

// New creates a pool with size slots and a backlog of queueSize pending tasks.
func New(size, queueSize int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}

	if queueSize <= 0 {
		queueSize = size
	}

	return &Pool{
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		queue:  make(chan Task, queueSize),
		logger: logger.With("module", "worker_pool"),
		done:   make(chan struct{}),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Start launches the dispatcher. Tasks inherit ctx; cancelling it stops dispatching.
func (p *Pool) Start(ctx context.Context) {
	p.logger.InfoContext(ctx, "Starting worker pool", "workers", p.size, "queue_size", cap(p.queue))

	go p.dispatch(ctx)
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop prevents new submissions, drains queued tasks and waits for running ones.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()

		return
	}

	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	p.wg.Wait()
}

func (p *Pool) dispatch(ctx context.Context) {
	defer close(p.done)

	for task := range p.queue {
		// A cancelled ctx still hands queued tasks a slot so they can record their outcome.
		if err := p.sem.Acquire(context.WithoutCancel(ctx), 1); err != nil {
			p.logger.ErrorContext(ctx, "Failed to acquire worker slot", "error", err)

			continue
		}

		p.wg.Add(1)

		go func(task Task) {
			defer p.wg.Done()
			defer p.sem.Release(1)

			defer func() {
				if r := recover(); r != nil {
					p.logger.ErrorContext(ctx, "Task panicked", "panic", r)
				}
			}()

			task(context.WithValue(ctx, slotKey{}, &slot{sem: p.sem}))
		}(task)
	}
}

// Sleep waits for d or until ctx is done. When ctx carries a pool slot the slot is
// released for the duration, letting other tasks run, and re-acquired before returning.
func Sleep(ctx context.Context, d time.Duration) error {
	s, _ := ctx.Value(slotKey{}).(*slot)
	if s != nil {
		s.sem.Release(1)

		defer func() {
			_ = s.sem.Acquire(context.WithoutCancel(ctx), 1)
		}()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
