package asyncoro

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Body is the function a coroutine runs. It receives a *Context for
// suspending, sending, and receiving, and returns a final value or error
// when it completes.
type Body func(ctx *Context) (any, error)

var nextCoroID atomic.Int64

// Coro is a single cooperatively scheduled unit of execution. Internally
// it runs on its own goroutine, but a yieldCh/resumeCh rendezvous ensures
// only one Coro's body ever executes at a time under a given Scheduler -
// the same trampoline shape as a generator-based coroutine, adapted to
// Go's lack of first-class generators.
type Coro struct {
	id     int64
	name   string
	daemon bool

	scheduler *Scheduler
	state     *fastState

	// depth counts live nested sub-coroutine calls on this goroutine's own
	// call stack. It stands in for the original's explicit caller-frame
	// list: because Go is stackful, a nested sub-coroutine invocation is
	// just an ordinary Go call, and hot-swap is only safe at depth 0.
	depth atomic.Int32

	resumeCh chan resumeMsg
	yieldCh  chan yieldMsg

	mu       sync.Mutex
	mailbox  []any
	waiters  []chan struct{} // woken when mailbox becomes non-empty
	excQueue []error         // pending exceptions/signals to deliver on next resume

	monitors   map[int64]*Coro
	monitoring map[int64]*Coro // coroutines this one monitors

	result    any
	resultErr error
	done      chan struct{}

	garbageCollected chan struct{}
}

type resumeMsg struct {
	value any
	err   error // non-nil if this resume is delivering a throw
}

type yieldMsg struct {
	// alive is true for every yield; termination is reported by closing
	// yieldCh rather than by a message.
	alive bool
}

// newCoro constructs a Coro bound to sched and starts its goroutine, which
// waits for the scheduler's first resume before running body.
func newCoro(sched *Scheduler, name string, daemon bool, body Body) *Coro {
	c := &Coro{
		id:               nextCoroID.Add(1),
		name:             name,
		daemon:           daemon,
		scheduler:        sched,
		state:            newFastState(StateAwake),
		resumeCh:         make(chan resumeMsg),
		yieldCh:          make(chan yieldMsg),
		monitors:         make(map[int64]*Coro),
		monitoring:       make(map[int64]*Coro),
		done:             make(chan struct{}),
		garbageCollected: make(chan struct{}),
	}
	runtime.SetFinalizer(c, func(c *Coro) { close(c.garbageCollected) })
	c.start(body)
	return c
}

// ID returns the coroutine's scheduler-unique identifier.
func (c *Coro) ID() int64 { return c.id }

// Name returns the coroutine's registered name, if any.
func (c *Coro) Name() string { return c.name }

func (c *Coro) start(body Body) {
	go func() {
		msg := <-c.resumeCh // wait for the first resume before running body
		ctx := &Context{coro: c}
		if msg.err == nil {
			c.state.Store(StateRunning)
			result, err := c.runBody(ctx, body, msg.value)
			c.finish(result, err)
		} else {
			c.finish(nil, msg.err)
		}
	}()
}

func (c *Coro) runBody(ctx *Context, body Body, firstValue any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("asyncoro: coroutine panic: %v", r)
			}
		}
	}()
	ctx.initial = firstValue
	return body(ctx)
}

func (c *Coro) finish(result any, err error) {
	if sig, ok := err.(HotSwapSignal); ok && c.HotSwappable() {
		c.runSwapped(sig.NewBody)
		return
	}
	c.mu.Lock()
	c.result, c.resultErr = result, err
	c.mu.Unlock()
	c.state.Store(StateTerminated)
	close(c.done)
	close(c.yieldCh)
	c.notifyMonitors(result, err)
	c.scheduler.onCoroFinished(c)
}

// runSwapped replaces c's running body with newBody without recreating the
// goroutine or its resumeCh/yieldCh: the old body just returned, but the
// scheduler's resume() for this turn is still blocked waiting on c.yieldCh,
// so newBody runs immediately, synchronously, in its place, and its first
// call into Suspend/Receive/ParkForWake completes that same rendezvous.
// c's id, name, mailbox, monitors and scheduler registration are untouched -
// from the scheduler's perspective this turn looks like an ordinary yield.
func (c *Coro) runSwapped(newBody Body) {
	c.state.Store(StateRunning)
	ctx := &Context{coro: c}
	result, err := c.runBody(ctx, newBody, nil)
	c.finish(result, err)
}

func (c *Coro) notifyMonitors(result any, err error) {
	c.mu.Lock()
	monitors := make([]*Coro, 0, len(c.monitors))
	for _, m := range c.monitors {
		monitors = append(monitors, m)
	}
	c.mu.Unlock()
	for _, m := range monitors {
		m.deliver(MonitorSignal{Coro: c, Value: result, Err: err})
	}
}

// resume hands control to the coroutine's body and blocks until it yields
// or terminates. It is only ever called from the scheduler's own goroutine.
func (c *Coro) resume(value any, throw error) (alive bool) {
	select {
	case c.resumeCh <- resumeMsg{value: value, err: throw}:
	case <-c.garbageCollected:
		return false
	}
	msg, ok := <-c.yieldCh
	if !ok {
		return false
	}
	return msg.alive
}

// yield is called from within the coroutine's own goroutine (via Context)
// to hand control back to the scheduler, blocking until resumed again.
func (c *Coro) yield() (value any, throw error) {
	c.state.Store(StateSleeping)
	select {
	case c.yieldCh <- yieldMsg{alive: true}:
	case <-c.garbageCollected:
		panic(fmt.Errorf("asyncoro: coroutine %d leaked: resume function was garbage collected", c.id))
	}
	msg := <-c.resumeCh
	c.state.Store(StateRunning)
	return msg.value, msg.err
}

// deliver appends a message to this coroutine's mailbox and wakes any
// pending Receive. Order of delivery across concurrent senders is the
// order in which deliver acquires the lock; FIFO is preserved regardless
// of which OS thread called deliver.
func (c *Coro) deliver(msg any) {
	c.mu.Lock()
	c.mailbox = append(c.mailbox, msg)
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
	c.scheduler.wake(c)
}

// Deliver appends msg to the coroutine's mailbox as if sent by Context.Send,
// for callers outside the scheduler (such as the distributed layer
// relaying a remote message) that hold a *Coro reference directly.
func (c *Coro) Deliver(msg any) { c.deliver(msg) }

// pushException queues an async exception (throw/terminate/hot-swap
// signal) to be raised inside the coroutine the next time it resumes,
// wherever its body is currently suspended.
func (c *Coro) pushException(err error) {
	c.mu.Lock()
	c.excQueue = append(c.excQueue, err)
	c.mu.Unlock()
	c.scheduler.wake(c)
}

func (c *Coro) popException() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.excQueue) == 0 {
		return nil
	}
	err := c.excQueue[0]
	c.excQueue = c.excQueue[1:]
	return err
}

// HotSwappable reports whether this coroutine currently has no live nested
// sub-coroutine calls on its stack, matching the original's "no caller
// frames" precondition for hot swap.
func (c *Coro) HotSwappable() bool { return c.depth.Load() == 0 }

// HotSwap requests that the coroutine replace its running body with
// newBody the next time it is resumed with zero caller-frame depth.
func (c *Coro) HotSwap(newBody Body) error {
	if !c.HotSwappable() {
		return ErrHotSwapDenied
	}
	c.pushException(HotSwapSignal{NewBody: func(ctx *Context) (any, error) { return newBody(ctx) }})
	return nil
}

// Monitor registers other as a monitor of c: when c terminates, other
// receives a MonitorSignal in its mailbox. Returns ErrMonitorCycle if this
// edge would create a cycle in the monitor graph.
func (c *Coro) Monitor(other *Coro) error {
	if wouldCycle(c, other) {
		return ErrMonitorCycle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.monitors[other.id]; ok {
		return ErrAlreadyMonitored
	}
	c.monitors[other.id] = other
	other.mu.Lock()
	other.monitoring[c.id] = c
	other.mu.Unlock()
	return nil
}

// wouldCycle walks from `from` through the coroutines it (transitively)
// monitors looking for `target`: if `from` already watches `target`,
// making `target` a monitor of `from` would close a cycle.
func wouldCycle(from, target *Coro) bool {
	seen := map[int64]bool{}
	var walk func(c *Coro) bool
	walk = func(c *Coro) bool {
		if c.id == target.id {
			return true
		}
		if seen[c.id] {
			return false
		}
		seen[c.id] = true
		c.mu.Lock()
		next := make([]*Coro, 0, len(c.monitoring))
		for _, m := range c.monitoring {
			next = append(next, m)
		}
		c.mu.Unlock()
		for _, n := range next {
			if walk(n) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

// Terminate pushes a termination signal that unwinds the coroutine's body
// the next time it resumes.
func (c *Coro) Terminate() {
	c.pushException(ErrTerminated)
}

// Wait blocks the calling (non-coroutine) goroutine until c terminates,
// or ctx is done.
func (c *Coro) Wait(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.result, c.resultErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Value returns the coroutine's final result and error once terminated;
// ok is false if it is still running.
func (c *Coro) Value() (result any, err error, ok bool) {
	select {
	case <-c.done:
	default:
		return nil, nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.resultErr, true
}
