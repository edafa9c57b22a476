package scheduler

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("scheduler: pool closed")

// Result is the outcome of one submitted job.
type Result struct {
	Value any
	Err   error
}

// JobFunc is a unit of blocking or CPU-bound work run on a Pool worker.
type JobFunc func(ctx context.Context) (any, error)

type job struct {
	ctx context.Context
	fn  JobFunc
	out chan Result
}

// Pool is a fixed set of workers fed from a bounded queue. Callers only ever
// wait on the result channel returned by Submit.
type Pool struct {
	queue chan job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines reading from a queue of the given size.
func NewPool(workers, queue int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{queue: make(chan job, queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		if err := j.ctx.Err(); err != nil {
			j.out <- Result{Err: err}
			continue
		}
		var r Result
		r.Err = safeCall(func() error {
			v, err := j.fn(j.ctx)
			r.Value = v
			return err
		})
		j.out <- r
	}
}

// Submit queues fn and returns a channel that receives exactly one Result.
// It blocks while the queue is full, until ctx ends.
func (p *Pool) Submit(ctx context.Context, fn JobFunc) (<-chan Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	out := make(chan Result, 1)
	select {
	case p.queue <- job{ctx: ctx, fn: fn, out: out}:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting jobs, lets queued jobs finish and waits for the
// workers to exit. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
