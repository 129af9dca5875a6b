// Package asyncoro implements a cooperative coroutine runtime with
// integrated event-driven I/O and message passing.
package asyncoro

import (
	"errors"
	"fmt"
)

// TimeoutError reports an operation that exceeded its deadline. Nothing in
// this package returns it: Suspend and Receive deliver their alarm value on
// timeout, and AsyncSocket operations take no deadline.
type TimeoutError struct {
	Cause   error
	Message string
}

func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "asyncoro: operation timed out"
	}
	return e.Message
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// NetworkError wraps a transport-level failure, carrying the peer address
// and an OS/library error code where one is available.
type NetworkError struct {
	Code    int
	Cause   error
	Message string
}

func (e *NetworkError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("asyncoro: network error (code %d)", e.Code)
	}
	return e.Message
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// InvalidStateError is returned when an operation is attempted against a
// coroutine, channel, or scheduler that is not in a state that permits it
// (e.g. resuming a terminated coroutine).
type InvalidStateError struct {
	Message string
}

func (e *InvalidStateError) Error() string {
	if e.Message == "" {
		return "asyncoro: invalid state"
	}
	return e.Message
}

// DuplicateError is returned when registering a coroutine name, channel
// name, or notifier fd that already exists.
type DuplicateError struct {
	Name string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("asyncoro: duplicate registration: %s", e.Name)
}

// AuthFailureError is returned by the distributed layer when a peer's
// signature does not match the locally computed token.
type AuthFailureError struct {
	Peer string
}

func (e *AuthFailureError) Error() string {
	return fmt.Sprintf("asyncoro: auth failure from peer %s", e.Peer)
}

// Sentinel errors for conditions that carry no payload.
var (
	ErrClosed          = errors.New("asyncoro: closed")
	ErrTerminated      = errors.New("asyncoro: coroutine terminated")
	ErrMonitorCycle    = errors.New("asyncoro: monitor registration would create a cycle")
	ErrNotRunning      = errors.New("asyncoro: scheduler is not running")
	ErrHotSwapDenied   = errors.New("asyncoro: hot swap denied: coroutine has active caller frames")
	ErrMinReceivers    = errors.New("asyncoro: minimum receiver count not met")
	ErrAlreadyMonitored = errors.New("asyncoro: coroutine is already monitored by this monitor")
)

// MonitorSignal is delivered to a coroutine's monitors when the monitored
// coroutine terminates, either normally (Err == nil) or via panic/throw.
// It is a control-plane value, not a user-facing error: it travels through
// a monitor's mailbox like any other message, it is never returned from an
// API call.
type MonitorSignal struct {
	Coro  *Coro
	Value any
	Err   error
}

// HotSwapSignal is pushed onto a coroutine's exception queue to request
// that, the next time the scheduler resumes it at zero caller-frame depth,
// it swap its running body for NewBody instead of resuming normally.
type HotSwapSignal struct {
	NewBody func(ctx *Context) (any, error)
}

func (HotSwapSignal) Error() string { return "asyncoro: hot swap requested" }

// WrapError mirrors the teacher's own convenience wrapper: a message plus
// a cause chain satisfying errors.Is/As against the cause.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
