package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by Pool.Submit when no queue slot is free.
var ErrQueueFull = errors.New("pipeline queue is full")

// ErrPoolStopped is returned by Pool.Submit after Stop.
var ErrPoolStopped = errors.New("pipeline pool is stopped")

// Runner executes one pipeline. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// QueueStats reports the current state of the pipeline queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// PoolOptions configures the pipeline worker pool.
type PoolOptions struct {
	Runner    Runner
	Workers   int
	QueueSize int
	Log       zerolog.Logger
}

type job struct {
	ctx    context.Context
	req    Request
	result chan jobResult
}

type jobResult struct {
	res *Result
	err error
}

// Pool bounds the number of concurrently running pipelines. Requests beyond
// Workers wait in a queue of QueueSize; beyond that Submit fails fast.
type Pool struct {
	jobs chan job
	opts PoolOptions
	log  zerolog.Logger
	wg   sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a new pipeline worker pool.
func NewPool(opts PoolOptions) *Pool {
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	return &Pool{
		jobs: make(chan job, opts.QueueSize),
		opts: opts,
		log:  opts.Log.With().Str("component", "pool").Logger(),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info().Int("workers", p.opts.Workers).Int("queue_size", p.opts.QueueSize).Msg("pipeline worker pool started")
}

// Stop refuses new work, lets workers finish queued jobs and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("pipeline worker pool stopped")
}

// enqueue hands req to a worker without waiting for the outcome. It returns
// false if the queue is full or the pool is stopped. The returned channel
// yields exactly one result.
func (p *Pool) enqueue(ctx context.Context, req Request) (<-chan jobResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return nil, false
	}
	j := job{ctx: ctx, req: req, result: make(chan jobResult, 1)}
	select {
	case p.jobs <- j:
		return j.result, true
	default:
		return nil, false
	}
}

// Submit queues req and waits for its result. The run itself uses ctx, so
// callers that want the pipeline to outlive them should pass a detached
// context.
func (p *Pool) Submit(ctx context.Context, req Request) (*Result, error) {
	p.mu.RLock()
	stopped := p.stopped
	p.mu.RUnlock()
	if stopped {
		return nil, ErrPoolStopped
	}

	ch, ok := p.enqueue(ctx, req)
	if !ok {
		return nil, ErrQueueFull
	}
	select {
	case r := <-ch:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns current queue statistics.
func (p *Pool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(p.jobs),
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// QueueDepth returns the number of requests waiting for a worker.
func (p *Pool) QueueDepth() int { return len(p.jobs) }

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.opts.Workers }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for j := range p.jobs {
		p.active.Add(1)
		res, err := p.opts.Runner.Run(j.ctx, j.req)
		p.active.Add(-1)
		if err != nil {
			p.failed.Add(1)
			log.Debug().Err(err).Str("client_id", j.req.ClientID).Msg("pipeline failed")
		} else {
			p.completed.Add(1)
		}
		j.result <- jobResult{res: res, err: err}
	}
}
