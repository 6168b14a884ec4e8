package instance

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// State of a simulated instance.
type State int

const (
	StateShutdown State = iota
	StateInitializing
	StateStopped
	StateSleeping
	StateRunningStartRequest
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateShutdown:
		return "SHUTDOWN"
	case StateInitializing:
		return "INITIALIZING"
	case StateStopped:
		return "STOPPED"
	case StateSleeping:
		return "SLEEPING"
	case StateRunningStartRequest:
		return "RUNNING_START_REQUEST"
	case StateRunning:
		return "RUNNING"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// StateHolder guards the state of one instance. Every transition is expressed
// as a test-and-set: callers name the states they expect and get back the
// prior state, so a losing race is visible to them and they decide whether it
// is benign.
//
// When a decision depends on the current state and drives an unguarded action
// (e.g. firing a start request), the caller must take the decision inside
// Locked so state and decision stay consistent.
type StateHolder struct {
	mu       sync.Mutex
	name     string
	instance int
	state    State
}

func NewStateHolder(name string, instance int) *StateHolder {
	return &StateHolder{name: name, instance: instance, state: StateShutdown}
}

// TestAndSet transitions to newState if the current state is one of the
// required states. It returns the prior state and whether the transition
// happened. With no required states the transition is unconditional.
func (h *StateHolder) TestAndSet(newState State, required ...State) (State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.testAndSetLocked(newState, required)
}

func (h *StateHolder) testAndSetLocked(newState State, required []State) (State, bool) {
	prior := h.state
	if len(required) == 0 || slices.Contains(required, h.state) {
		h.state = newState
		return prior, true
	}
	return prior, false
}

// Set transitions unconditionally.
func (h *StateHolder) Set(newState State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = newState
}

// Get returns the current state.
func (h *StateHolder) Get() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Test reports whether the current state is one of the acceptable ones.
func (h *StateHolder) Test(acceptable ...State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Contains(acceptable, h.state)
}

// AcceptsConnections is true only while serving traffic or waiting for a
// start request to complete.
func (h *StateHolder) AcceptsConnections() bool {
	return h.Test(StateRunning, StateRunningStartRequest)
}

// Locked runs fn with the holder's monitor held. fn receives a view that can
// read and transition the state without re-locking.
func (h *StateHolder) Locked(fn func(view *LockedState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&LockedState{holder: h})
}

// LockedState is the view passed to Locked callbacks.
type LockedState struct {
	holder *StateHolder
}

func (v *LockedState) Get() State {
	return v.holder.state
}

func (v *LockedState) Set(newState State) {
	v.holder.state = newState
}

func (v *LockedState) TestAndSet(newState State, required ...State) (State, bool) {
	return v.holder.testAndSetLocked(newState, required)
}

func (v *LockedState) AcceptsConnections() bool {
	return v.holder.state == StateRunning || v.holder.state == StateRunningStartRequest
}

func (h *StateHolder) String() string {
	return fmt.Sprintf("%s.%d: %s", h.name, h.instance, h.Get())
}
