package asyncoro

import "sync"

// Condition pairs a Lock with a waiter queue woken by Notify/NotifyAll,
// the coroutine analogue of sync.Cond. Grounded on asyncoro.py's
// Condition class, which itself wraps its Lock the same way.
type Condition struct {
	Lock    *Lock
	mu      sync.Mutex
	waiters []*Coro
}

// NewCondition builds a Condition guarded by lock, or a fresh Lock if nil.
func NewCondition(lock *Lock) *Condition {
	if lock == nil {
		lock = NewLock()
	}
	return &Condition{Lock: lock}
}

// Wait releases the Condition's lock and suspends the calling coroutine
// until notified, then reacquires the lock before returning. The caller
// must hold the lock before calling Wait.
func (cnd *Condition) Wait(ctx *Context) error {
	c := ctx.Coro()
	cnd.mu.Lock()
	cnd.waiters = append(cnd.waiters, c)
	cnd.mu.Unlock()

	if err := cnd.Lock.Release(ctx); err != nil {
		return err
	}
	if err := ctx.ParkForWake(); err != nil {
		return err
	}
	return cnd.Lock.Acquire(ctx)
}

// Notify wakes a single waiting coroutine, which will re-contend for the
// lock once woken.
func (cnd *Condition) Notify() {
	cnd.mu.Lock()
	var next *Coro
	if len(cnd.waiters) > 0 {
		next = cnd.waiters[0]
		cnd.waiters = cnd.waiters[1:]
	}
	cnd.mu.Unlock()
	if next != nil {
		next.scheduler.wake(next)
	}
}

// NotifyAll wakes every waiting coroutine.
func (cnd *Condition) NotifyAll() {
	cnd.mu.Lock()
	waiters := cnd.waiters
	cnd.waiters = nil
	cnd.mu.Unlock()
	for _, w := range waiters {
		w.scheduler.wake(w)
	}
}
