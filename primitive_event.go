package asyncoro

import "sync"

// Event is a one-shot (until Clear) broadcast flag: any number of
// coroutines may Wait for it to become set, and Set wakes all of them.
// Grounded on asyncoro.py's Event class.
type Event struct {
	mu      sync.Mutex
	isSet   bool
	waiters []*Coro
}

func NewEvent() *Event { return &Event{} }

// Wait suspends the calling coroutine until Set is called, or returns
// immediately if the event is already set.
func (e *Event) Wait(ctx *Context) error {
	c := ctx.Coro()
	e.mu.Lock()
	if e.isSet {
		e.mu.Unlock()
		return nil
	}
	e.waiters = append(e.waiters, c)
	e.mu.Unlock()
	return ctx.ParkForWake()
}

// Set marks the event and wakes every waiter.
func (e *Event) Set() {
	e.mu.Lock()
	e.isSet = true
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()
	for _, w := range waiters {
		w.scheduler.wake(w)
	}
}

// Clear resets the event to unset.
func (e *Event) Clear() {
	e.mu.Lock()
	e.isSet = false
	e.mu.Unlock()
}

func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isSet
}
