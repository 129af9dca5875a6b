package asyncoro

import "sync/atomic"

// State represents the lifecycle of either a Scheduler or a Coro.
//
// Coro:
//
//	StateAwake (0) -> StateRunning (3)        [first resume]
//	StateRunning (3) -> StateSleeping (2)     [suspended]
//	StateSleeping (2) -> StateRunning (3)     [resumed]
//	StateRunning (3) -> StateTerminated (1)   [body returned]
//	StateTerminated (1) -> StateAwake (0)     [Restart]
//
// Scheduler:
//
//	StateAwake (0) -> StateRunning (3)        [Run]
//	StateRunning (3) -> StateTerminating (4)  [Shutdown]
//	any -> StateTerminated (1)                [Run returns]
type State uint64

const (
	StateAwake       State = 0
	StateTerminated  State = 1
	StateSleeping    State = 2
	StateRunning     State = 3
	StateTerminating State = 4
)

func (s State) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free CAS-based state holder shared by Scheduler and
// Coro so both lifecycles use identical transition semantics.
type fastState struct {
	v atomic.Uint64
}

func newFastState(initial State) *fastState {
	s := &fastState{}
	s.v.Store(uint64(initial))
	return s
}

func (s *fastState) Load() State { return State(s.v.Load()) }

func (s *fastState) Store(state State) { s.v.Store(uint64(state)) }

func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

func (s *fastState) TransitionAny(validFrom []State, to State) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}

func (s *fastState) IsTerminal() bool { return s.Load() == StateTerminated }

func (s *fastState) IsRunning() bool {
	st := s.Load()
	return st == StateRunning || st == StateSleeping
}
