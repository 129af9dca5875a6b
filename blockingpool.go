package asyncoro

import "sync"

// BlockingPool runs blocking third-party calls on a bounded worker pool
// and resumes the calling coroutine with the result through the normal
// wake path, so the scheduler's own goroutine never blocks on the call
// itself. Grounded on asyncoro.py's AsynCoroThreadPool (a supplemented
// feature dropped from the distilled spec - see SPEC_FULL.md).
type BlockingPool struct {
	jobs chan job
	wg   sync.WaitGroup
}

type job struct {
	fn     func() (any, error)
	result chan jobResult
}

type jobResult struct {
	value any
	err   error
}

// NewBlockingPool starts workers goroutines draining a shared job queue.
func NewBlockingPool(workers int) *BlockingPool {
	if workers < 1 {
		workers = 1
	}
	p := &BlockingPool{jobs: make(chan job)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *BlockingPool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		v, err := j.fn()
		j.result <- jobResult{value: v, err: err}
	}
}

// Run submits fn to the pool and suspends the calling coroutine until it
// completes, returning fn's result.
func (p *BlockingPool) Run(ctx *Context, fn func() (any, error)) (any, error) {
	c := ctx.Coro()
	resultCh := make(chan jobResult, 1)
	go func() {
		p.jobs <- job{fn: fn, result: resultCh}
	}()

	done := make(chan jobResult, 1)
	go func() {
		r := <-resultCh
		done <- r
		c.scheduler.wake(c)
	}()

	for {
		select {
		case r := <-done:
			return r.value, r.err
		default:
		}
		if err := ctx.ParkForWake(); err != nil {
			return nil, err
		}
	}
}

// Close stops accepting new jobs and waits for in-flight workers to drain.
func (p *BlockingPool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
