package asyncoro

import "time"

// Context is passed into a coroutine's Body and is the only way the body
// may suspend, receive messages, or invoke sub-coroutines. It must not be
// retained or used from any goroutine other than the one running the body.
type Context struct {
	coro    *Coro
	initial any
}

// NoTimeout tells Suspend/Receive to wait indefinitely, with no timer
// armed, distinguishing "wait forever" from d == 0 ("don't wait at all").
const NoTimeout time.Duration = -1

// Coro returns the coroutine this Context belongs to.
func (ctx *Context) Coro() *Coro { return ctx.coro }

// Suspend yields control back to the scheduler.
//
//   - d == 0: does not suspend at all; returns alarm immediately.
//   - d == NoTimeout: suspends until something else wakes the coroutine
//     (Send, Terminate, HotSwap, ...); no timer is armed.
//   - d > 0: suspends for at most d; if nothing else wakes the coroutine
//     first, it resumes with alarm once d elapses.
//
// It returns an error if an exception (throw, terminate, hot-swap) was
// pending or arrived for this coroutine.
func (ctx *Context) Suspend(d time.Duration, alarm any) (any, error) {
	c := ctx.coro
	if d == 0 {
		return alarm, nil
	}
	if d > 0 {
		c.scheduler.armTimer(c, d, alarm)
	} else {
		c.scheduler.parkUntilWoken(c)
	}
	value, err := c.yield()
	if err != nil {
		return nil, err
	}
	if tf, ok := value.(timerFired); ok {
		return tf.alarm, nil
	}
	return value, nil
}

// Receive waits for a message in this coroutine's mailbox.
//
//   - A message already queued is returned immediately, regardless of
//     timeout.
//   - Otherwise, timeout == 0 returns alarm immediately without waiting.
//   - timeout == NoTimeout waits forever for a message.
//   - timeout > 0 waits at most that long; if it elapses first, Receive
//     returns alarm as a plain value (not an error) - a generic timeout is
//     an expected, deliverable outcome, not a thrown exception.
func (ctx *Context) Receive(timeout time.Duration, alarm any) (any, error) {
	c := ctx.coro
	for {
		c.mu.Lock()
		if len(c.mailbox) > 0 {
			msg := c.mailbox[0]
			c.mailbox = c.mailbox[1:]
			c.mu.Unlock()
			return msg, nil
		}
		if len(c.excQueue) > 0 {
			err := c.excQueue[0]
			c.excQueue = c.excQueue[1:]
			c.mu.Unlock()
			return nil, err
		}
		if timeout == 0 {
			c.mu.Unlock()
			return alarm, nil
		}
		waiter := make(chan struct{})
		c.waiters = append(c.waiters, waiter)
		c.mu.Unlock()

		if timeout > 0 {
			c.scheduler.armTimer(c, timeout, alarm)
		} else {
			c.scheduler.parkUntilWoken(c)
		}
		value, err := c.yield()
		if err != nil {
			return nil, err
		}
		if tf, ok := value.(timerFired); ok {
			return tf.alarm, nil
		}
		// Anything else (including nil) means a message or exception arrived
		// concurrently; loop back and recheck the mailbox from the top.
	}
}

// Send delivers value to another coroutine's mailbox without blocking.
func (ctx *Context) Send(to *Coro, value any) {
	to.deliver(value)
}

// Call runs a sub-coroutine's body synchronously on the current goroutine,
// tracking depth so HotSwappable correctly reports false while nested
// calls are outstanding. This is how the original's explicit caller-frame
// stack is represented: Go's own call stack already does the job.
func (ctx *Context) Call(body Body) (any, error) {
	c := ctx.coro
	c.depth.Add(1)
	defer c.depth.Add(-1)
	sub := &Context{coro: c}
	return body(sub)
}

// Yield gives up the current tick and resumes as soon as the scheduler
// gets back around to it, independent of Suspend's alarm/timeout handling.
func (ctx *Context) Yield() error {
	c := ctx.coro
	c.scheduler.markReady(c)
	_, err := c.yield()
	return err
}

// ParkForWake suspends the coroutine with no ready-queue entry and no
// timer: it only resumes when something external calls wake() on it
// directly, e.g. a Notifier callback reporting socket readiness. This is
// the same parked state Receive uses while waiting on an empty mailbox.
func (ctx *Context) ParkForWake() error {
	c := ctx.coro
	c.scheduler.parkUntilWoken(c)
	_, err := c.yield()
	return err
}
