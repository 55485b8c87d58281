// Package session tracks multiplayer sessions through their lifecycle:
//
//	Creating → Pending → Starting → InProgress → Ending → Ended (→ Starting)
//	any state but Destroying → Destroying → removed
//
// A Destroy issued while Creating is held until the create resolves.
//
// Transitions are applied optimistically and confirmed by the platform. A
// rejected call restores the state the record had before the call, unless
// another transition has moved it since.
package session

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/logging"
)

// State is a session's lifecycle state.
type State string

const (
	Creating   State = "CREATING"
	Pending    State = "PENDING"
	Starting   State = "STARTING"
	InProgress State = "IN_PROGRESS"
	Ending     State = "ENDING"
	Ended      State = "ENDED"
	Destroying State = "DESTROYING"
	// Removed appears only in StateChanged events, after a destroy completes
	// or a create fails.
	Removed State = "REMOVED"
)

var startableFrom = []State{Pending, Ending, Ended}

// Locals resolves local-user indices to logged-in identities.
type Locals interface {
	Identity(localUser int) (identity.Identity, error)
}

// Record is a snapshot of one session.
type Record struct {
	Name      string
	State     State
	Settings  backend.SessionSettings
	Players   []identity.Identity
	Owner     identity.Identity
	LocalUser int
	RemoteID  string
	Updating  bool
}

// StateChanged is the payload of session.state_changed events.
type StateChanged struct {
	Name      string
	LocalUser int
	From      State
	To        State
}

// PlayersChanged is the payload of session.players_changed events.
type PlayersChanged struct {
	Name    string
	Players []identity.Identity
}

type record struct {
	name      string
	state     State
	settings  backend.SessionSettings
	players   map[identity.Key]identity.Identity
	owner     identity.Identity
	localUser int
	remoteID  string
	updating  bool
	// destroy waiting on the create, given the create's result
	held func(createErr error)
}

func (r *record) snapshot() Record {
	players := make([]identity.Identity, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].String() < players[j].String() })
	return Record{
		Name:      r.name,
		State:     r.state,
		Settings:  r.settings.Clone(),
		Players:   players,
		Owner:     r.owner,
		LocalUser: r.localUser,
		RemoteID:  r.remoteID,
		Updating:  r.updating,
	}
}

type search struct {
	localUser int
	criteria  backend.SearchCriteria
}

// Manager owns the session collection. One mutex serializes every read and
// write of it; platform callbacks re-acquire it only to apply their result.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*record
	searches   map[uint64]*search
	nextSearch uint64

	platform backend.Platform
	locals   Locals
	bus      *bus.Bus
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewManager creates an empty manager. Spans go to the global tracer
// provider unless SetTracerProvider replaces it.
func NewManager(p backend.Platform, locals Locals, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*record),
		searches: make(map[uint64]*search),
		platform: p,
		locals:   locals,
		bus:      b,
		logger:   logging.OrNop(logger),
		tracer:   otel.Tracer("session"),
	}
}

// SetTracerProvider routes the manager's spans to tp. Call it before the
// manager is used.
func (m *Manager) SetTracerProvider(tp trace.TracerProvider) {
	m.tracer = tp.Tracer("session")
}

func (m *Manager) emit(name string, localUser int, from, to State) {
	if from == to {
		return
	}
	m.logger.Info("session state changed",
		zap.String("session", name),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	m.bus.Emit(bus.KindSessionState, StateChanged{Name: name, LocalUser: localUser, From: from, To: to})
}

func (m *Manager) startSpan(ctx context.Context, op, name string) trace.Span {
	_, span := m.tracer.Start(context.WithoutCancel(ctx), "Session.Manager."+op,
		trace.WithAttributes(attribute.String("session.name", name)))
	return span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func done(cb func(error)) func(error) {
	if cb == nil {
		return func(error) {}
	}
	return cb
}

// Create registers a new session owned by localUser and creates it on the
// platform. The record is Creating until the platform answers; on failure
// it is removed.
func (m *Manager) Create(ctx context.Context, localUser int, name string, settings backend.SessionSettings, cb func(error)) error {
	if name == "" {
		return fmt.Errorf("create session: empty name")
	}
	local, err := m.locals.Identity(localUser)
	if err != nil {
		return err
	}
	cb = done(cb)

	m.mu.Lock()
	if _, exists := m.sessions[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("create session %q: %w", name, errs.ErrDuplicateSessionName)
	}
	rec := &record{
		name:      name,
		state:     Creating,
		settings:  settings.Clone(),
		players:   make(map[identity.Key]identity.Identity),
		owner:     local,
		localUser: localUser,
	}
	m.sessions[name] = rec
	m.mu.Unlock()
	m.emit(name, localUser, "", Creating)

	span := m.startSpan(ctx, "Create", name)
	m.platform.CreateSession(local, name, settings.Clone(), func(info backend.SessionInfo, err error) {
		to := Pending
		m.mu.Lock()
		current := m.sessions[name] == rec
		from := rec.state
		held := rec.held
		rec.held = nil
		if current {
			switch {
			case err != nil:
				delete(m.sessions, name)
				to = Removed
			case held != nil:
				rec.remoteID = info.RemoteID
				to = Destroying
			default:
				rec.remoteID = info.RemoteID
				rec.state = Pending
			}
		}
		m.mu.Unlock()

		if current {
			m.emit(name, localUser, from, to)
		}
		if err != nil {
			m.logger.Warn("create session rejected", zap.String("session", name), zap.Error(err))
		}
		endSpan(span, err)
		cb(err)
		if held != nil {
			held(err)
		}
	})
	return nil
}

// Start moves a Pending, Ending or Ended session to InProgress.
func (m *Manager) Start(ctx context.Context, name string, cb func(error)) error {
	return m.transition(ctx, "Start", name, startableFrom, Starting, InProgress, m.platform.StartSession, cb)
}

// End moves an InProgress session to Ended.
func (m *Manager) End(ctx context.Context, name string, cb func(error)) error {
	return m.transition(ctx, "End", name, []State{InProgress}, Ending, Ended, m.platform.EndSession, cb)
}

// transition applies an optimistic move to inFlight, then to confirmed on
// platform success. On rejection the prior state is restored if the record
// is still inFlight.
func (m *Manager) transition(ctx context.Context, op, name string, from []State, inFlight, confirmed State, call func(string, func(error)), cb func(error)) error {
	cb = done(cb)

	m.mu.Lock()
	rec, ok := m.sessions[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s session %q: %w", op, name, errs.ErrSessionNotFound)
	}
	prior := rec.state
	if !slices.Contains(from, prior) {
		m.mu.Unlock()
		return fmt.Errorf("%s session %q from %s: %w", op, name, prior, errs.ErrInvalidStateTransition)
	}
	rec.state = inFlight
	remoteID, localUser := rec.remoteID, rec.localUser
	m.mu.Unlock()
	m.emit(name, localUser, prior, inFlight)

	span := m.startSpan(ctx, op, name)
	span.SetAttributes(attribute.String("session.from", string(prior)))
	call(remoteID, func(err error) {
		to := confirmed
		if err != nil {
			to = prior
		}
		moved := false
		m.mu.Lock()
		if m.sessions[name] == rec && rec.state == inFlight {
			rec.state = to
			moved = true
		}
		m.mu.Unlock()

		if moved {
			m.emit(name, localUser, inFlight, to)
		}
		if err != nil {
			m.logger.Warn("session transition rejected",
				zap.String("session", name),
				zap.String("op", op),
				zap.Bool("rolled_back", moved),
				zap.Error(err),
			)
		}
		endSpan(span, err)
		cb(err)
	})
	return nil
}

// Update replaces a session's settings. Without refreshRemote the change is
// local and cb runs before Update returns. With refreshRemote the platform
// must accept the new settings; on rejection the previous settings are
// restored before cb runs.
func (m *Manager) Update(ctx context.Context, name string, settings backend.SessionSettings, refreshRemote bool, cb func(error)) error {
	cb = done(cb)

	m.mu.Lock()
	rec, ok := m.sessions[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("update session %q: %w", name, errs.ErrSessionNotFound)
	}
	if !refreshRemote {
		rec.settings = settings.Clone()
		m.mu.Unlock()
		cb(nil)
		return nil
	}
	switch state := rec.state; {
	case state == Creating || state == Destroying:
		m.mu.Unlock()
		return fmt.Errorf("update session %q while %s: %w", name, state, errs.ErrInvalidStateTransition)
	case rec.updating:
		m.mu.Unlock()
		return fmt.Errorf("update session %q: %w", name, errs.ErrOperationInProgress)
	}
	old := rec.settings
	rec.settings = settings.Clone()
	rec.updating = true
	remoteID := rec.remoteID
	m.mu.Unlock()

	span := m.startSpan(ctx, "Update", name)
	m.platform.UpdateSession(remoteID, settings.Clone(), func(err error) {
		m.mu.Lock()
		if m.sessions[name] == rec {
			rec.updating = false
			if err != nil {
				rec.settings = old
			}
		}
		m.mu.Unlock()

		if err != nil {
			m.logger.Warn("session update rejected, settings restored", zap.String("session", name), zap.Error(err))
		}
		endSpan(span, err)
		cb(err)
	})
	return nil
}

// Destroy removes a session from the platform and, once confirmed, from the
// collection. On rejection the record keeps its prior state. A session still
// Creating moves to Destroying at once; the platform destroy is issued when
// the create succeeds, and if the create fails cb runs with nil.
func (m *Manager) Destroy(ctx context.Context, name string, cb func(error)) error {
	cb = done(cb)

	m.mu.Lock()
	rec, ok := m.sessions[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("destroy session %q: %w", name, errs.ErrSessionNotFound)
	}
	prior := rec.state
	if prior == Destroying {
		m.mu.Unlock()
		return fmt.Errorf("destroy session %q: %w", name, errs.ErrInvalidStateTransition)
	}
	rec.state = Destroying
	localUser := rec.localUser
	span := m.startSpan(ctx, "Destroy", name)
	if prior == Creating {
		rec.held = func(createErr error) {
			if createErr != nil {
				endSpan(span, nil)
				cb(nil)
				return
			}
			// a rejected destroy leaves the session as a fresh create would
			m.destroyRemote(name, rec, Pending, span, cb)
		}
		m.mu.Unlock()
		m.emit(name, localUser, prior, Destroying)
		return nil
	}
	m.mu.Unlock()
	m.emit(name, localUser, prior, Destroying)

	m.destroyRemote(name, rec, prior, span, cb)
	return nil
}

func (m *Manager) destroyRemote(name string, rec *record, prior State, span trace.Span, cb func(error)) {
	m.mu.Lock()
	remoteID, localUser := rec.remoteID, rec.localUser
	m.mu.Unlock()

	m.platform.DestroySession(remoteID, func(err error) {
		to := Removed
		moved := false
		m.mu.Lock()
		if m.sessions[name] == rec && rec.state == Destroying {
			if err != nil {
				rec.state = prior
				to = prior
			} else {
				delete(m.sessions, name)
			}
			moved = true
		}
		m.mu.Unlock()

		if moved {
			m.emit(name, localUser, Destroying, to)
		}
		endSpan(span, err)
		cb(err)
	})
}

// RegisterPlayers adds players to a session on the platform and locally.
func (m *Manager) RegisterPlayers(ctx context.Context, name string, players []identity.Identity, cb func(error)) error {
	return m.changePlayers(ctx, "RegisterPlayers", name, players, m.platform.RegisterPlayers, true, cb)
}

// UnregisterPlayers removes players from a session.
func (m *Manager) UnregisterPlayers(ctx context.Context, name string, players []identity.Identity, cb func(error)) error {
	return m.changePlayers(ctx, "UnregisterPlayers", name, players, m.platform.UnregisterPlayers, false, cb)
}

func (m *Manager) changePlayers(ctx context.Context, op, name string, players []identity.Identity, call func(string, []identity.Identity, func(error)), add bool, cb func(error)) error {
	cb = done(cb)
	for _, p := range players {
		if !p.IsValid() {
			return fmt.Errorf("%s: %w", op, identity.ErrInvalidIdentity)
		}
	}

	m.mu.Lock()
	rec, ok := m.sessions[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s session %q: %w", op, name, errs.ErrSessionNotFound)
	}
	if state := rec.state; state == Creating || state == Destroying {
		m.mu.Unlock()
		return fmt.Errorf("%s session %q while %s: %w", op, name, state, errs.ErrInvalidStateTransition)
	}
	remoteID := rec.remoteID
	m.mu.Unlock()

	span := m.startSpan(ctx, op, name)
	span.SetAttributes(attribute.Int("session.players", len(players)))
	call(remoteID, slices.Clone(players), func(err error) {
		var snapshot []identity.Identity
		applied := false
		if err == nil {
			m.mu.Lock()
			if m.sessions[name] == rec {
				for _, p := range players {
					if add {
						rec.players[p.Key()] = p
					} else {
						delete(rec.players, p.Key())
					}
				}
				snapshot = rec.snapshot().Players
				applied = true
			}
			m.mu.Unlock()
		}
		if applied {
			m.bus.Emit(bus.KindSessionPlayers, PlayersChanged{Name: name, Players: snapshot})
		}
		endSpan(span, err)
		cb(err)
	})
	return nil
}

// Find searches the platform for joinable sessions on behalf of localUser.
// Each search is tracked under a counter id until its results arrive.
func (m *Manager) Find(ctx context.Context, localUser int, criteria backend.SearchCriteria, cb func([]backend.SessionDescriptor, error)) (uint64, error) {
	local, err := m.locals.Identity(localUser)
	if err != nil {
		return 0, err
	}
	if cb == nil {
		cb = func([]backend.SessionDescriptor, error) {}
	}

	m.mu.Lock()
	m.nextSearch++
	id := m.nextSearch
	m.searches[id] = &search{localUser: localUser, criteria: criteria}
	m.mu.Unlock()

	span := m.startSpan(ctx, "Find", criteria.NamePrefix)
	span.SetAttributes(attribute.Int64("session.search_id", int64(id)))
	m.platform.FindSessions(local, criteria, func(found []backend.SessionDescriptor, err error) {
		m.mu.Lock()
		delete(m.searches, id)
		m.mu.Unlock()

		span.SetAttributes(attribute.Int("session.results", len(found)))
		endSpan(span, err)
		cb(found, err)
	})
	return id, nil
}

// PendingSearches reports searches awaiting results.
func (m *Manager) PendingSearches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.searches)
}

// State returns the state of the named session; ok is false when no such
// session exists.
func (m *Manager) State(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[name]
	if !ok {
		return "", false
	}
	return rec.state, true
}

// Get returns a snapshot of the named session.
func (m *Manager) Get(name string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[name]
	if !ok {
		return Record{}, false
	}
	return rec.snapshot(), true
}

// List returns snapshots of every session, ordered by name.
func (m *Manager) List() []Record {
	m.mu.Lock()
	out := make([]Record, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec.snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
