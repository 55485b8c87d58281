package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/netid/internal/bus"
)

// State represents the login state of one local user.
type State string

const (
	LoggedOut  State = "LOGGED_OUT"
	LoggingIn  State = "LOGGING_IN"
	LoggedIn   State = "LOGGED_IN"
	LoggingOut State = "LOGGING_OUT"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	LoggedOut:  {LoggingIn},
	LoggingIn:  {LoggedIn, LoggedOut},
	LoggedIn:   {LoggingOut, LoggedOut},
	LoggingOut: {LoggedOut, LoggedIn},
}

// Machine tracks and enforces login state transitions for one local user.
type Machine struct {
	mu        sync.RWMutex
	localUser int
	current   State
	bus       *bus.Bus
}

// NewMachine creates a new state machine starting in LoggedOut state.
func NewMachine(localUser int, b *bus.Bus) *Machine {
	return &Machine{
		localUser: localUser,
		current:   LoggedOut,
		bus:       b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// TransitionFrom moves to `to` only if the machine is currently in `from`.
func (m *Machine) TransitionFrom(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != from {
		return fmt.Errorf("local user %d is %s, not %s", m.localUser, m.current, from)
	}
	return m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindAccountStatus, StatusChange{
		LocalUser: m.localUser,
		From:      from,
		To:        to,
	})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	LocalUser int
	From      State
	To        State
}
