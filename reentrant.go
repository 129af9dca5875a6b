package asyncoro

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// reentrantLock lets a goroutine re-enter a lock it already holds, while
// still serializing other goroutines against it. Coroutine bodies run on
// their own goroutines, and tick releases the lock before resuming one, so
// a body calling back into scheduler APIs takes the lock afresh rather
// than re-entering it. Ownership is
// tracked by goroutine id, following the same runtime.Stack-parsing trick
// the teacher uses to detect same-goroutine reentry.
type reentrantLock struct {
	owner atomic.Uint64 // 0 means unlocked
	depth int
	mu    sync.Mutex
	cond  sync.Cond
}

func newReentrantLock() *reentrantLock {
	l := &reentrantLock{}
	l.cond.L = &l.mu
	return l
}

// getGoroutineID parses the current goroutine's id out of runtime.Stack,
// the same technique eventloop.Loop uses to answer isLoopThread.
func getGoroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	// "goroutine 123 [running]:"
	fields := bytes.Fields(buf)
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (l *reentrantLock) Lock() {
	gid := getGoroutineID()
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.owner.Load() != 0 && l.owner.Load() != gid {
		l.cond.Wait()
	}
	l.owner.Store(gid)
	l.depth++
}

func (l *reentrantLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.depth--
	if l.depth == 0 {
		l.owner.Store(0)
		l.cond.Broadcast()
	}
}

// HeldByCurrentGoroutine reports whether the calling goroutine already
// holds the lock, i.e. is the scheduler's own run-loop goroutine mid-tick.
func (l *reentrantLock) HeldByCurrentGoroutine() bool {
	return l.owner.Load() == getGoroutineID()
}
