package eventloop

import (
	"sync/atomic"
)

// LoopState represents the current state of the event loop.
//
// State Machine:
//
//	StateAwake → StateRunning          [Run()]
//	StateRunning ⇄ StateSleeping       [idle wait via CAS]
//	StateRunning → StateTerminating    [Shutdown(), Close(), ctx cancel]
//	StateSleeping → StateTerminating   [Shutdown(), Close(), ctx cancel]
//	StateAwake → StateTerminated       [Shutdown() before Run()]
//	StateTerminating → StateTerminated [drain complete]
//
// Use TryTransition (CAS) for the temporary states, and Store only for
// StateTerminated.
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake LoopState = 0
	// StateTerminated indicates the loop has been stopped and is fully shut down.
	StateTerminated LoopState = 1
	// StateSleeping indicates the loop is blocked waiting for work or a timer.
	StateSleeping LoopState = 2
	// StateRunning indicates the loop is actively processing tasks.
	StateRunning LoopState = 3
	// StateTerminating indicates shutdown has been requested but not completed.
	StateTerminating LoopState = 4
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
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

// FastState is a lock-free state machine.
type FastState struct {
	v atomic.Uint64
}

// NewFastState creates a new state machine in the Awake state.
func NewFastState() *FastState {
	s := &FastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

// Load returns the current state atomically.
func (s *FastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state, without transition validation.
func (s *FastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *FastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsTerminal returns true if the current state is StateTerminated.
func (s *FastState) IsTerminal() bool {
	return s.Load() == StateTerminated
}

// CanAcceptWork returns true if the loop can accept new work.
//
// Work is still accepted while terminating, so that in-flight operations may
// settle during the final drain.
func (s *FastState) CanAcceptWork() bool {
	return s.Load() != StateTerminated
}
