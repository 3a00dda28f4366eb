package worker

import (
	"context"
	"sync"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

// Pool manages a pool of workers that execute jobs concurrently. Results are
// returned in submission order regardless of completion order.
type Pool struct {
	workers    int
	jobQueue   chan indexedJob
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once

	mu        sync.Mutex
	submitted int
	results   map[int]Result
}

type indexedJob struct {
	index int
	job   Job
}

// canceledResult stands in for jobs that never ran because the pool was
// shut down.
type canceledResult struct {
	err error
}

func (r *canceledResult) GetError() error {
	return r.err
}

// NewPool creates a new worker pool with the specified number of workers.
// Cancelling ctx stops the pool like Cancel.
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		workers:    workers,
		jobQueue:   make(chan indexedJob, workers*2), // Buffered to prevent blocking
		ctx:        ctx,
		cancelFunc: cancel,
		results:    make(map[int]Result),
	}
}

// Start starts the worker pool
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// worker is the worker goroutine that processes jobs
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case ij, ok := <-p.jobQueue:
			if !ok || p.ctx.Err() != nil {
				return
			}
			result := ij.job.Execute(p.ctx)
			p.mu.Lock()
			p.results[ij.index] = result
			p.mu.Unlock()
		}
	}
}

// Submit submits a job to the pool for execution. Jobs submitted after
// Cancel are not run; Wait reports them with the context error.
func (p *Pool) Submit(job Job) {
	p.mu.Lock()
	index := p.submitted
	p.submitted++
	p.mu.Unlock()

	select {
	case <-p.ctx.Done():
		return
	case p.jobQueue <- indexedJob{index: index, job: job}:
	}
}

// Cancel stops handing out queued jobs. Running jobs see their context
// cancelled.
func (p *Pool) Cancel() {
	p.cancelFunc()
}

// Wait waits for all jobs to complete and returns the results in submission
// order.
func (p *Pool) Wait() []Result {
	p.closeQueue()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	results := make([]Result, p.submitted)
	for i := range results {
		if r, ok := p.results[i]; ok {
			results[i] = r
			continue
		}
		err := p.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		results[i] = &canceledResult{err: err}
	}

	p.cancelFunc()
	return results
}

func (p *Pool) closeQueue() {
	p.closeOnce.Do(func() {
		close(p.jobQueue)
	})
}
