package asyncoro

import "sync"

// Semaphore is a counting semaphore over coroutines. Grounded on
// asyncoro.py's Semaphore class.
type Semaphore struct {
	mu      sync.Mutex
	count   int
	waiters []*Coro
}

// NewSemaphore creates a Semaphore with the given initial count.
func NewSemaphore(initial int) *Semaphore {
	return &Semaphore{count: initial}
}

// Acquire suspends the calling coroutine until the count is positive, then
// decrements it.
func (s *Semaphore) Acquire(ctx *Context) error {
	c := ctx.Coro()
	for {
		s.mu.Lock()
		if s.count > 0 {
			s.count--
			s.mu.Unlock()
			return nil
		}
		s.waiters = append(s.waiters, c)
		s.mu.Unlock()
		if err := ctx.ParkForWake(); err != nil {
			return err
		}
	}
}

// Release increments the count and wakes one waiter, if any.
func (s *Semaphore) Release() {
	s.mu.Lock()
	s.count++
	var next *Coro
	if len(s.waiters) > 0 {
		next = s.waiters[0]
		s.waiters = s.waiters[1:]
	}
	s.mu.Unlock()
	if next != nil {
		next.scheduler.wake(next)
	}
}
