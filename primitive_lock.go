package asyncoro

import "sync"

// Lock is a coroutine-aware mutual exclusion primitive: Acquire suspends
// the calling coroutine (rather than blocking an OS thread) when the lock
// is held, waking the next waiter in FIFO order on Release. Grounded on
// asyncoro.py's Lock class.
type Lock struct {
	mu      sync.Mutex
	owner   *Coro
	waiters []*Coro
}

func NewLock() *Lock { return &Lock{} }

// Acquire blocks the calling coroutine until the lock is free.
func (l *Lock) Acquire(ctx *Context) error {
	c := ctx.Coro()
	l.mu.Lock()
	if l.owner == nil {
		l.owner = c
		l.mu.Unlock()
		return nil
	}
	l.waiters = append(l.waiters, c)
	l.mu.Unlock()

	for {
		if err := ctx.ParkForWake(); err != nil {
			return err
		}
		l.mu.Lock()
		if l.owner == c {
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()
	}
}

// Release hands the lock to the next waiter, or frees it entirely if none
// are waiting. Release by a non-owner is an InvalidStateError.
func (l *Lock) Release(ctx *Context) error {
	c := ctx.Coro()
	l.mu.Lock()
	if l.owner != c {
		l.mu.Unlock()
		return &InvalidStateError{Message: "asyncoro: release of a lock not held by this coroutine"}
	}
	if len(l.waiters) == 0 {
		l.owner = nil
		l.mu.Unlock()
		return nil
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	l.owner = next
	l.mu.Unlock()
	next.scheduler.wake(next)
	return nil
}

// RLock is a reentrant variant: the owning coroutine may Acquire multiple
// times, and must Release the same number of times. Grounded on
// asyncoro.py's RLock class.
type RLock struct {
	l     Lock
	depth int
}

func NewRLock() *RLock { return &RLock{} }

func (r *RLock) Acquire(ctx *Context) error {
	c := ctx.Coro()
	r.l.mu.Lock()
	if r.l.owner == c {
		r.depth++
		r.l.mu.Unlock()
		return nil
	}
	r.l.mu.Unlock()
	if err := r.l.Acquire(ctx); err != nil {
		return err
	}
	r.depth = 1
	return nil
}

func (r *RLock) Release(ctx *Context) error {
	c := ctx.Coro()
	r.l.mu.Lock()
	if r.l.owner != c {
		r.l.mu.Unlock()
		return &InvalidStateError{Message: "asyncoro: release of an rlock not held by this coroutine"}
	}
	r.depth--
	if r.depth > 0 {
		r.l.mu.Unlock()
		return nil
	}
	r.l.mu.Unlock()
	return r.l.Release(ctx)
}
