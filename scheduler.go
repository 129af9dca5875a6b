package asyncoro

import (
	"context"
	"crypto/tls"
	"sync"
	"time"
)

// timerFired wraps an alarm value handed to the ready-dispatch loop so
// Suspend/Receive can tell "the armed timer fired, here is its alarm" apart
// from "something else (a message, an exception) woke this coroutine with
// a nil value" - both would otherwise look like a bare nil resume value.
type timerFired struct{ alarm any }

// Scheduler is a single cooperative run loop: at most one Coro body ever
// executes at once, driven by a ready queue, a timer heap, and a Notifier
// for I/O readiness, the same tick shape as the teacher's Loop.run/tick,
// retargeted from JS-style tasks/microtasks to coroutines and their
// mailboxes.
type Scheduler struct {
	opts   *schedulerOptions
	state  *fastState
	clock  *clock
	lock   *reentrantLock
	timers *timerHeap

	notifier Notifier
	logger   Logger

	regMu    sync.Mutex
	coros    map[int64]*Coro
	named    map[string]*Coro
	liveCoro int // non-daemon coroutines still running

	readyMu    sync.Mutex
	ready      []*Coro
	readySet   map[int64]bool
	readyValue map[int64]any // set only for coroutines woken by a fired timer

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler constructs a Scheduler from the given options but does not
// start its run loop; call Run to do that.
func NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		opts:       cfg,
		state:      newFastState(StateAwake),
		clock:      newClock(),
		lock:       newReentrantLock(),
		timers:     newTimerHeap(),
		notifier:   cfg.notifier,
		logger:     cfg.logger,
		coros:      make(map[int64]*Coro),
		named:      make(map[string]*Coro),
		readySet:   make(map[int64]bool),
		readyValue: make(map[int64]any),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	return s, nil
}

// Spawn registers and starts a new coroutine. name may be empty for an
// anonymous coroutine; a non-empty name must be unique or Spawn returns a
// *DuplicateError. daemon is recorded on the coroutine and excluded from
// the scheduler's count of live non-daemon coroutines; it does not change
// when Run returns.
func (s *Scheduler) Spawn(name string, daemon bool, body Body) (*Coro, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.regMu.Lock()
	if name != "" {
		if _, exists := s.named[name]; exists {
			s.regMu.Unlock()
			return nil, &DuplicateError{Name: name}
		}
	}
	s.regMu.Unlock()

	c := newCoro(s, name, daemon, body)

	s.regMu.Lock()
	s.coros[c.id] = c
	if name != "" {
		s.named[name] = c
	}
	if !daemon {
		s.liveCoro++
	}
	s.regMu.Unlock()

	s.logger.Log(LogEntry{Level: LevelDebug, Component: "scheduler", CoroID: c.id, Message: "spawned", Context: map[string]any{"name": name, "daemon": daemon}})

	s.markReadyLocked(c)
	return c, nil
}

// Logger returns the scheduler's configured Logger, for collaborating
// packages (such as the distributed layer) that want to log through the
// same sink.
func (s *Scheduler) Logger() Logger { return s.logger }

// TLSConfig returns the *tls.Config supplied via WithTLS, or nil if TLS was
// never configured. AsyncSocket's accept/connect paths consult this to
// decide whether to run a TLS handshake after the raw connection completes.
func (s *Scheduler) TLSConfig() *tls.Config { return s.opts.tlsConfig }

// Lookup finds a coroutine registered under name.
func (s *Scheduler) Lookup(name string) (*Coro, bool) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	c, ok := s.named[name]
	return c, ok
}

// Restart replaces a terminated coroutine's body in place, reusing its id
// and any messages still queued in its mailbox - distinct from HotSwap,
// which only applies to a still-running coroutine.
func (s *Scheduler) Restart(c *Coro, newBody Body) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if c.state.Load() != StateTerminated {
		return &InvalidStateError{Message: "asyncoro: restart requires a terminated coroutine"}
	}
	c.state.Store(StateAwake)
	c.done = make(chan struct{})
	c.resumeCh = make(chan resumeMsg)
	c.yieldCh = make(chan yieldMsg)
	c.start(newBody)
	s.markReadyLocked(c)
	return nil
}

func (s *Scheduler) markReadyLocked(c *Coro) {
	s.readyMu.Lock()
	if !s.readySet[c.id] {
		s.readySet[c.id] = true
		s.ready = append(s.ready, c)
	}
	s.readyMu.Unlock()
	s.notifier.Interrupt()
}

// markReady is called from Context methods on the coroutine's own
// goroutine; tick has already released the scheduler lock by then, so only
// readyMu guards the ready queue here.
func (s *Scheduler) markReady(c *Coro) {
	s.readyMu.Lock()
	if !s.readySet[c.id] {
		s.readySet[c.id] = true
		s.ready = append(s.ready, c)
	}
	s.readyMu.Unlock()
}

func (s *Scheduler) armTimer(c *Coro, d time.Duration, alarm any) {
	s.lock.Lock()
	s.timers.arm(c, s.clock.deadline(d), alarm)
	s.lock.Unlock()
}

func (s *Scheduler) parkUntilWoken(c *Coro) {
	// No ready-queue entry and no timer: c only becomes ready again via
	// wake(), called from deliver() or pushException().
}

// markReadyWithValue is used only by the tick loop's timer-expiry handling:
// it stashes the alarm value so the dispatch loop can resume c with it
// instead of the usual nil.
func (s *Scheduler) markReadyWithValue(c *Coro, alarm any) {
	s.readyMu.Lock()
	if !s.readySet[c.id] {
		s.readySet[c.id] = true
		s.ready = append(s.ready, c)
	}
	s.readyValue[c.id] = timerFired{alarm}
	s.readyMu.Unlock()
}

// wake is called from any goroutine (the coroutine's own mailbox/exception
// producers) to make c ready again, cancelling any timer it was waiting
// on and nudging the run loop if it is blocked in Poll.
func (s *Scheduler) wake(c *Coro) {
	s.lock.Lock()
	s.timers.cancel(c)
	s.markReadyLocked(c)
	s.lock.Unlock()
}

func (s *Scheduler) onCoroFinished(c *Coro) {
	s.regMu.Lock()
	delete(s.coros, c.id)
	if c.name != "" {
		delete(s.named, c.name)
	}
	if !c.daemon {
		s.liveCoro--
	}
	s.regMu.Unlock()

	s.logger.Log(LogEntry{Level: LevelDebug, Component: "scheduler", CoroID: c.id, Message: "terminated"})
}

// Run drives the scheduler's tick loop until ctx is cancelled or Shutdown
// is called; it keeps running when no coroutines are left.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.state.TryTransition(StateAwake, StateRunning) {
		return ErrNotRunning
	}
	defer close(s.doneCh)
	defer s.state.Store(StateTerminated)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		default:
		}

		s.tick()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		default:
		}
	}
}

// Shutdown requests the run loop stop at the next tick boundary and waits
// for it to return, or for ctx to expire first.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.state.Store(StateTerminating)
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.notifier.Interrupt()
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick runs one iteration: lock just long enough to snapshot expired
// timers and the ready queue (so Spawn/wake/deliver from other goroutines
// can proceed concurrently), then resumes each ready coroutine without
// holding the lock - a coroutine body runs on its own goroutine, so
// holding the scheduler lock across a resume() would deadlock against any
// external call the body makes back into the scheduler while it runs.
func (s *Scheduler) tick() {
	s.lock.Lock()
	s.clock.tick()

	for _, entry := range s.timers.popExpired(s.clock.now()) {
		// A generic timer expiry delivers its alarm as a plain resume
		// value, never as a thrown error.
		s.markReadyWithValue(entry.coro, entry.alarm)
	}

	s.readyMu.Lock()
	snapshot := s.ready
	s.ready = nil
	values := make(map[int64]any, len(snapshot))
	for _, c := range snapshot {
		delete(s.readySet, c.id)
		if v, ok := s.readyValue[c.id]; ok {
			values[c.id] = v
			delete(s.readyValue, c.id)
		}
	}
	s.readyMu.Unlock()
	s.lock.Unlock()

	for _, c := range snapshot {
		if c.state.Load() == StateTerminated {
			continue
		}
		throw := c.popException()
		c.resume(values[c.id], throw)
	}

	timeout := s.pollTimeout()
	if err := s.notifier.Poll(timeout); err != nil {
		s.logger.Log(LogEntry{Level: LevelWarn, Component: "notifier", Message: "poll error", Err: err})
	}
}

func (s *Scheduler) pollTimeout() time.Duration {
	s.readyMu.Lock()
	hasReady := len(s.ready) > 0
	s.readyMu.Unlock()
	if hasReady {
		return 0
	}
	s.lock.Lock()
	deadline, ok := s.timers.nextDeadline()
	now := s.clock.now()
	s.lock.Unlock()
	if ok {
		d := deadline.Sub(now)
		if d < 0 {
			return 0
		}
		return d
	}
	return 100 * time.Millisecond
}

