package asyncoro

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// maxMessageSize bounds a single SendMessage/ReceiveMessage frame's payload,
// matching the distributed transport's own frame ceiling.
const maxMessageSize = 64 << 20

// AsyncSocket is a non-blocking TCP socket whose readiness is delivered
// through the scheduler's own Notifier rather than Go's runtime netpoller,
// so a coroutine blocked on Read/Write/Accept/Dial resumes through the
// same wake path as a mailbox receive or timer - there is exactly one
// event loop driving a given Scheduler's coroutines, not two competing
// ones. If the scheduler was configured with WithTLS, the socket upgrades
// itself to TLS right after connect/accept and tlsConn takes over Read and
// Write; the handshake itself runs as a one-off blocking call, acceptable
// because it always executes on this coroutine's own dedicated goroutine,
// never the scheduler's tick goroutine.
type AsyncSocket struct {
	fd         int
	sched      *Scheduler
	closed     bool
	remoteAddr string
	tlsConn    *tls.Conn
}

// RemoteAddr returns the "host:port" of the connected peer, populated for
// sockets returned by DialContext or Listener.Accept.
func (s *AsyncSocket) RemoteAddr() string { return s.remoteAddr }

// sockaddrString renders a unix.Sockaddr as "host:port" for the IPv4
// addresses this package deals in, best-effort for logging/admission
// purposes only.
func sockaddrString(sa unix.Sockaddr) string {
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return ""
	}
	ip := net.IPv4(in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3])
	return fmt.Sprintf("%s:%d", ip.String(), in4.Port)
}

func sockaddrFor(addr string) (unix.Sockaddr, int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, 0, err
	}
	var ip [4]byte
	copy(ip[:], tcpAddr.IP.To4())
	return &unix.SockaddrInet4{Port: tcpAddr.Port, Addr: ip}, unix.AF_INET, nil
}

// DialContext opens an AsyncSocket to address ("host:port"), suspending
// the calling coroutine until the connection completes or ctx's
// associated coroutine is woken by an error.
func DialContext(ctx *Context, address string) (*AsyncSocket, error) {
	sa, domain, err := sockaddrFor(address)
	if err != nil {
		return nil, &NetworkError{Cause: err, Message: "asyncoro: resolve failed"}
	}
	fd, err := rawSocket(domain)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}
	if err := rawConnect(fd, sa); err != nil {
		_ = rawClose(fd)
		return nil, &NetworkError{Cause: err}
	}

	sock := &AsyncSocket{fd: fd, sched: ctx.Coro().scheduler, remoteAddr: address}
	var connErr error
	c := ctx.Coro()
	err = sock.sched.notifier.Register(fd, EventWrite|EventError|EventHangup, func(_ int, events IOEvent) {
		if events&(EventError|EventHangup) != 0 {
			if serr, _ := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); serr != 0 {
				connErr = unix.Errno(serr)
			} else {
				connErr = fmt.Errorf("asyncoro: connect failed")
			}
		}
		sock.sched.wake(c)
	})
	if err != nil {
		_ = rawClose(fd)
		return nil, &NetworkError{Cause: err}
	}
	waitErr := ctx.ParkForWake()
	_ = sock.sched.notifier.Unregister(fd)
	if waitErr != nil {
		_ = rawClose(fd)
		return nil, waitErr
	}
	if connErr != nil {
		_ = rawClose(fd)
		return nil, &NetworkError{Cause: connErr}
	}
	// maybeHandshakeTLS is a no-op without WithTLS; otherwise it has
	// already closed fd (via the os.File wrapper it dups from) by the
	// time it returns, on both success and failure.
	if err := sock.maybeHandshakeTLS(false); err != nil {
		return nil, err
	}
	return sock, nil
}

// Listener accepts inbound AsyncSocket connections on a bound port.
type Listener struct {
	fd    int
	sched *Scheduler
}

// Listen binds and listens on address, returning a Listener whose Accept
// method integrates with the scheduler's Notifier the same way
// DialContext's connect does.
func Listen(sched *Scheduler, address string) (*Listener, error) {
	sa, domain, err := sockaddrFor(address)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}
	fd, err := rawSocket(domain)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = rawClose(fd)
		return nil, &NetworkError{Cause: err}
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = rawClose(fd)
		return nil, &NetworkError{Cause: err}
	}
	if err := unix.Listen(fd, 128); err != nil {
		_ = rawClose(fd)
		return nil, &NetworkError{Cause: err}
	}
	return &Listener{fd: fd, sched: sched}, nil
}

// Accept suspends the calling coroutine until an inbound connection
// arrives.
func (l *Listener) Accept(ctx *Context) (*AsyncSocket, error) {
	c := ctx.Coro()
	err := l.sched.notifier.Register(l.fd, EventRead, func(_ int, _ IOEvent) {
		l.sched.wake(c)
	})
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}
	defer l.sched.notifier.Unregister(l.fd)

	for {
		nfd, sa, err := rawAccept(l.fd)
		if err == nil {
			sock := &AsyncSocket{fd: nfd, sched: l.sched, remoteAddr: sockaddrString(sa)}
			if err := sock.maybeHandshakeTLS(true); err != nil {
				return nil, err
			}
			return sock, nil
		}
		if !isWouldBlock(err) {
			return nil, &NetworkError{Cause: err}
		}
		if waitErr := ctx.ParkForWake(); waitErr != nil {
			return nil, waitErr
		}
	}
}

func (l *Listener) Close() error { return rawClose(l.fd) }

// Read suspends the calling coroutine until at least one byte is
// available or the peer closes the connection.
func (s *AsyncSocket) Read(ctx *Context, p []byte) (int, error) {
	if s.tlsConn != nil {
		return s.readTLS(p)
	}
	for {
		n, err := rawRead(s.fd, p)
		if err == nil {
			return n, nil
		}
		if !isWouldBlock(err) {
			return 0, &NetworkError{Cause: err}
		}
		if waitErr := s.waitFor(ctx, EventRead); waitErr != nil {
			return 0, waitErr
		}
	}
}

// readTLS runs crypto/tls's blocking Read directly: the handshake already
// established that this coroutine's goroutine, not the scheduler's tick
// goroutine, is the one doing the blocking. io.EOF with zero bytes read is
// translated to the raw path's (0, nil) "peer closed" convention; any bytes
// read before EOF are still returned per io.Reader's contract.
func (s *AsyncSocket) readTLS(p []byte) (int, error) {
	n, err := s.tlsConn.Read(p)
	if err != nil {
		if err == io.EOF {
			return n, nil
		}
		return n, &NetworkError{Cause: err}
	}
	return n, nil
}

// Write suspends the calling coroutine until the full buffer has been
// written, looping over partial writes the way a raw non-blocking socket
// requires.
func (s *AsyncSocket) Write(ctx *Context, p []byte) (int, error) {
	if s.tlsConn != nil {
		n, err := s.tlsConn.Write(p)
		if err != nil {
			return n, &NetworkError{Cause: err}
		}
		return n, nil
	}
	total := 0
	for total < len(p) {
		n, err := rawWrite(s.fd, p[total:])
		if err == nil {
			total += n
			continue
		}
		if !isWouldBlock(err) {
			return total, &NetworkError{Cause: err}
		}
		if waitErr := s.waitFor(ctx, EventWrite); waitErr != nil {
			return total, waitErr
		}
	}
	return total, nil
}

func (s *AsyncSocket) waitFor(ctx *Context, event IOEvent) error {
	c := ctx.Coro()
	err := s.sched.notifier.Register(s.fd, event|EventError|EventHangup, func(_ int, _ IOEvent) {
		s.sched.wake(c)
	})
	if err != nil {
		return &NetworkError{Cause: err}
	}
	defer s.sched.notifier.Unregister(s.fd)
	return ctx.ParkForWake()
}

func (s *AsyncSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.tlsConn != nil {
		// The raw fd was already closed (via the dup'd os.File) during the
		// TLS handshake; tlsConn.Close owns shutdown from here.
		return s.tlsConn.Close()
	}
	_ = s.sched.notifier.Unregister(s.fd)
	return rawClose(s.fd)
}

func (s *AsyncSocket) Fd() int { return s.fd }

// maybeHandshakeTLS upgrades the connection to TLS when the scheduler was
// configured with WithTLS; otherwise it is a no-op. It wraps the raw fd in
// a net.Conn (net.FileConn dups the fd, and closing the os.File right after
// closes the original fd, leaving the conn as the only owner of the dup) and
// runs Handshake synchronously, which is safe because this always executes
// on the calling coroutine's own dedicated goroutine.
func (s *AsyncSocket) maybeHandshakeTLS(isServer bool) error {
	cfg := s.sched.TLSConfig()
	if cfg == nil {
		return nil
	}
	file := os.NewFile(uintptr(s.fd), "asyncoro-socket")
	conn, err := net.FileConn(file)
	_ = file.Close()
	if err != nil {
		return &NetworkError{Cause: err, Message: "asyncoro: wrapping fd for TLS"}
	}
	var tlsConn *tls.Conn
	if isServer {
		tlsConn = tls.Server(conn, cfg)
	} else {
		tlsConn = tls.Client(conn, cfg)
	}
	if err := tlsConn.Handshake(); err != nil {
		_ = tlsConn.Close()
		return &NetworkError{Cause: err, Message: "asyncoro: TLS handshake failed"}
	}
	s.tlsConn = tlsConn
	return nil
}

// SendMessage writes payload as a single length-prefixed frame: a 4-byte
// big-endian length followed by the payload bytes.
func (s *AsyncSocket) SendMessage(ctx *Context, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := s.Write(ctx, lenBuf[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := s.Write(ctx, payload)
	return err
}

// ReceiveMessage reads one length-prefixed frame written by SendMessage. It
// returns (nil, nil) if the peer closed the connection cleanly before any
// bytes of the next frame arrived.
func (s *AsyncSocket) ReceiveMessage(ctx *Context) ([]byte, error) {
	lenBuf, err := s.readExact(ctx, 4)
	if err != nil {
		return nil, err
	}
	if lenBuf == nil {
		return nil, nil
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n > maxMessageSize {
		return nil, &NetworkError{Message: fmt.Sprintf("asyncoro: message too large: %d bytes", n)}
	}
	if n == 0 {
		return []byte{}, nil
	}
	body, err := s.readExact(ctx, int(n))
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, &NetworkError{Message: "asyncoro: connection closed mid-message"}
	}
	return body, nil
}

// readExact reads exactly n bytes, or (nil, nil) if the peer closed before
// any byte of this read arrived.
func (s *AsyncSocket) readExact(ctx *Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := s.Read(ctx, buf[read:])
		if err != nil {
			return nil, err
		}
		if m == 0 {
			if read == 0 {
				return nil, nil
			}
			return nil, &NetworkError{Message: "asyncoro: connection closed mid-message"}
		}
		read += m
	}
	return buf, nil
}
