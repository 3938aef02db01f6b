package transport

import (
	"sync"
)

// State is the connection state: disconnected -> connecting -> ready.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// StateTracker holds a State and a Ready channel that is closed while ready
// and replaced when the connection drops.
type StateTracker struct {
	mu       sync.Mutex
	state    State
	ready    chan struct{}
	onChange func(from, to State)
}

func NewStateTracker(onChange func(from, to State)) *StateTracker {
	return &StateTracker{ready: make(chan struct{}), onChange: onChange}
}

func (t *StateTracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *StateTracker) Ready() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

// Set moves to s. Returns false when s is already the current state.
func (t *StateTracker) Set(s State) bool {
	t.mu.Lock()
	from := t.state
	if from == s {
		t.mu.Unlock()
		return false
	}
	t.state = s
	switch {
	case s == StateReady:
		close(t.ready)
	case from == StateReady:
		t.ready = make(chan struct{})
	}
	cb := t.onChange
	t.mu.Unlock()

	if cb != nil {
		cb(from, s)
	}
	return true
}
