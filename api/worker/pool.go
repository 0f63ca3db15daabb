package worker

import (
	"context"
	"fmt"
	"sync"

	"appcore/api/logger"
)

var log = logger.NewLogger("appcore.worker")

// Task runs detached from the request that submitted it.
type Task func(ctx context.Context)

type job struct {
	name string
	fn   Task
}

// Pool runs tasks on a fixed number of goroutines fed by a buffered queue.
// Tasks get a background context, so they finish even if the caller that
// submitted them has gone away.
type Pool struct {
	workers int
	queue   chan job
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{workers: workers, queue: make(chan job, queueSize)}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	log.Infof("starting worker pool with %d workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for j := range p.queue {
		log.Debugf("worker %d running %s", id, j.name)
		execute(j)
	}
}

func execute(j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("task %s panicked: %v", j.name, r)
		}
	}()
	j.fn(context.Background())
}

// Submit enqueues a task. When the queue is full, or the pool has not been
// started, the task runs on its own goroutine. Tasks submitted after Stop are
// dropped.
func (p *Pool) Submit(name string, fn Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		log.Warnf("worker pool stopped, dropping %s", name)
		return
	}
	j := job{name: name, fn: fn}
	if p.started {
		select {
		case p.queue <- j:
			return
		default:
			log.Warnf("worker queue full, running %s detached", name)
		}
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		execute(j)
	}()
}

// Stop stops accepting queued work and waits for running tasks until ctx
// expires.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Infof("worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown timed out: %w", ctx.Err())
	}
}

// Inline runs every task synchronously on the caller's goroutine. Tests use
// it to make reconciliation deterministic.
type Inline struct{}

func (Inline) Submit(name string, fn Task) {
	execute(job{name: name, fn: fn})
}
