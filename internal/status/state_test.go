package status

import (
	"testing"

	"github.com/matheus3301/netid/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(0, nil)
	if m.Current() != LoggedOut {
		t.Errorf("initial state = %s, want LOGGED_OUT", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{LoggedOut, LoggingIn},
		{LoggingIn, LoggedIn},
		{LoggingIn, LoggedOut},
		{LoggedIn, LoggingOut},
		{LoggedIn, LoggedOut},
		{LoggingOut, LoggedOut},
		{LoggingOut, LoggedIn},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(0, nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(0, nil)
	if err := m.Transition(LoggedIn); err == nil {
		t.Error("Transition(LOGGED_OUT -> LOGGED_IN) should fail")
	}
	if err := m.Transition(LoggingOut); err == nil {
		t.Error("Transition(LOGGED_OUT -> LOGGING_OUT) should fail")
	}
}

func TestTransitionFromChecksCurrent(t *testing.T) {
	m := NewMachine(2, nil)
	walkTo(t, m, LoggedIn)

	// A stale login completion must not move a user who is already logging out.
	if err := m.Transition(LoggingOut); err != nil {
		t.Fatal(err)
	}
	if err := m.TransitionFrom(LoggingIn, LoggedIn); err == nil {
		t.Fatal("TransitionFrom(LOGGING_IN, ...) should fail while LOGGING_OUT")
	}
	if m.Current() != LoggingOut {
		t.Errorf("state = %s, want LOGGING_OUT", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("account.", 10)
	defer unsub()

	m := NewMachine(3, b)
	if err := m.Transition(LoggingIn); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindAccountStatus {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindAccountStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.LocalUser != 3 || change.From != LoggedOut || change.To != LoggingIn {
		t.Errorf("change = %+v, want user 3 LOGGED_OUT -> LOGGING_IN", change)
	}
}

// TestFailedLoginReturnsToLoggedOut covers a rejected credential:
// LOGGED_OUT → LOGGING_IN → LOGGED_OUT, after which a retry is allowed.
func TestFailedLoginReturnsToLoggedOut(t *testing.T) {
	m := NewMachine(0, nil)
	steps := []State{LoggingIn, LoggedOut, LoggingIn, LoggedIn}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		LoggedOut:  {},
		LoggingIn:  {LoggingIn},
		LoggedIn:   {LoggingIn, LoggedIn},
		LoggingOut: {LoggingIn, LoggedIn, LoggingOut},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
