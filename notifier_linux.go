//go:build linux

package asyncoro

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollNotifier implements Notifier on Linux using epoll plus an eventfd
// self-pipe for Interrupt, following the teacher's FastPoller/wakeup_linux
// split but folded into one type that owns both the epoll fd and the wake
// fd together.
type epollNotifier struct {
	epfd   int
	wakeFd int

	mu  sync.RWMutex
	fds map[int]*registeredFD

	eventBuf [256]unix.EpollEvent
}

type registeredFD struct {
	events IOEvent
	cb     IOCallback
}

func newSystemNotifier() (Notifier, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	n := &epollNotifier{epfd: epfd, wakeFd: wakeFd, fds: make(map[int]*registeredFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	}); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(wakeFd)
		return nil, err
	}
	return n, nil
}

func eventsToEpoll(events IOEvent) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvent {
	var events IOEvent
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}

func (n *epollNotifier) Register(fd int, events IOEvent, cb IOCallback) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.fds[fd]; ok {
		return &DuplicateError{Name: "fd"}
	}
	n.fds[fd] = &registeredFD{events: events, cb: cb}
	return unix.EpollCtl(n.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	})
}

func (n *epollNotifier) Modify(fd int, events IOEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	info, ok := n.fds[fd]
	if !ok {
		return &InvalidStateError{Message: "fd not registered"}
	}
	info.events = events
	return unix.EpollCtl(n.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	})
}

func (n *epollNotifier) Unregister(fd int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.fds[fd]; !ok {
		return nil
	}
	delete(n.fds, fd)
	return unix.EpollCtl(n.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (n *epollNotifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for fd := range n.fds {
		_ = unix.EpollCtl(n.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	n.fds = make(map[int]*registeredFD)
}

func (n *epollNotifier) Poll(timeout time.Duration) error {
	timeoutMs := -1
	if timeout >= 0 {
		timeoutMs = int(timeout.Milliseconds())
	}
	count, err := unix.EpollWait(n.epfd, n.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < count; i++ {
		fd := int(n.eventBuf[i].Fd)
		if fd == n.wakeFd {
			n.drainWake()
			continue
		}
		n.mu.RLock()
		info, ok := n.fds[fd]
		n.mu.RUnlock()
		if !ok || info.cb == nil {
			continue
		}
		info.cb(fd, epollToEvents(n.eventBuf[i].Events))
	}
	return nil
}

func (n *epollNotifier) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(n.wakeFd, buf[:])
		if err != nil {
			break
		}
	}
}

func (n *epollNotifier) Interrupt() {
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(n.wakeFd, one[:])
}

func (n *epollNotifier) Close() error {
	_ = unix.Close(n.wakeFd)
	return unix.Close(n.epfd)
}
