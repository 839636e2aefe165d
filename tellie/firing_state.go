package tellie

import (
	"sync"
	"sync/atomic"

	"github.com/jwaterfield/nanopulser/logger"
)

// FireState represents the firing state of the pulser.
type FireState uint32

// Pulser firing states.
const (
	// IdleState indicates that no pulse train is running; any command is legal.
	IdleState FireState = iota
	// FiringState indicates that the device is mid pulse-train and has not yet
	// emitted its end-of-sequence marker. Only firing-safe commands may be issued.
	FiringState
)

// IsIdle returns if the current state is idle.
func (fs FireState) IsIdle() bool { return fs == IdleState }

// IsFiring returns if the current state is firing.
func (fs FireState) IsFiring() bool { return fs == FiringState }

// String returns string representation of the current state.
func (fs FireState) String() string {
	switch fs {
	case IdleState:
		return "idle"
	case FiringState:
		return "firing"
	default:
		return "unknown"
	}
}

// FireStateChangeHandler is a function type that represents a handler for firing
// state changes. It is invoked synchronously when the state changes.
type FireStateChangeHandler func(prevState FireState, newState FireState)

// fireStateMgr manages the Idle/Firing state machine of a session.
//
// State reads are atomic so a monitoring goroutine may poll the state while the
// owning task commands the device; transitions themselves happen only under the
// session's operation lock.
type fireStateMgr struct {
	mu       sync.Mutex
	state    atomic.Uint32
	logger   logger.Logger
	handlers []FireStateChangeHandler
}

func newFireStateMgr(l logger.Logger, handlers ...FireStateChangeHandler) *fireStateMgr {
	mgr := &fireStateMgr{
		logger:   l,
		handlers: handlers,
	}
	mgr.state.Store(uint32(IdleState))

	return mgr
}

// State returns the current firing state.
func (m *fireStateMgr) State() FireState {
	return FireState(m.state.Load())
}

// IsFiring returns if the current state is firing.
func (m *fireStateMgr) IsFiring() bool {
	return m.State().IsFiring()
}

// ToFiring transitions the state to FiringState.
// If the state is already FiringState, the function is a no-op.
func (m *fireStateMgr) ToFiring() {
	m.transition(FiringState)
}

// ToIdle transitions the state to IdleState.
//
// This transition is allowed from any state: it covers both observation of the
// end-of-sequence marker and the unconditional stop command.
// If the state is already IdleState, the function is a no-op.
func (m *fireStateMgr) ToIdle() {
	m.transition(IdleState)
}

func (m *fireStateMgr) transition(newState FireState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prevState := m.State()
	if prevState == newState {
		return
	}

	m.state.Store(uint32(newState))
	m.logger.Debug("firing state changed", "prevState", prevState, "newState", newState)

	for _, handler := range m.handlers {
		if handler != nil {
			handler(prevState, newState)
		}
	}
}
