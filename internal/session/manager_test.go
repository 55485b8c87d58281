package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/backend/memory"
	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
)

var (
	host  = identity.MustNew("host", "")
	guest = identity.MustNew("guest", "")
	ctx   = context.Background()
)

type fixedLocals map[int]identity.Identity

func (f fixedLocals) Identity(localUser int) (identity.Identity, error) {
	id, ok := f[localUser]
	if !ok {
		return identity.Invalid, errs.ErrInvalidLocalUser
	}
	return id, nil
}

func newManager(t *testing.T, b *bus.Bus) (*Manager, *memory.Platform) {
	t.Helper()
	p := memory.New(memory.Options{Deferred: true})
	return NewManager(p, fixedLocals{0: host}, b, nil), p
}

func arenaSettings() backend.SessionSettings {
	return backend.SessionSettings{PublicConnections: 4, ShouldAdvertise: true, UsesPresence: true}
}

// recorder captures completion callbacks.
type recorder struct {
	calls int
	err   error
}

func (r *recorder) cb() func(error) {
	return func(err error) {
		r.calls++
		r.err = err
	}
}

func mustState(t *testing.T, m *Manager, name string, want State) {
	t.Helper()
	got, ok := m.State(name)
	require.True(t, ok, "session %q missing", name)
	assert.Equal(t, want, got)
}

func createArena(t *testing.T, m *Manager, p *memory.Platform) {
	t.Helper()
	var r recorder
	require.NoError(t, m.Create(ctx, 0, "Arena", arenaSettings(), r.cb()))
	p.Flush()
	require.NoError(t, r.err)
}

func TestArenaLifecycle(t *testing.T) {
	m, p := newManager(t, nil)

	var create recorder
	require.NoError(t, m.Create(ctx, 0, "Arena", arenaSettings(), create.cb()))
	mustState(t, m, "Arena", Creating)
	p.Flush()
	assert.Equal(t, 1, create.calls)
	require.NoError(t, create.err)
	mustState(t, m, "Arena", Pending)

	var start recorder
	require.NoError(t, m.Start(ctx, "Arena", start.cb()))
	mustState(t, m, "Arena", Starting)
	p.Flush()
	require.NoError(t, start.err)
	mustState(t, m, "Arena", InProgress)

	var end recorder
	require.NoError(t, m.End(ctx, "Arena", end.cb()))
	mustState(t, m, "Arena", Ending)
	p.Flush()
	require.NoError(t, end.err)
	mustState(t, m, "Arena", Ended)

	var destroy recorder
	require.NoError(t, m.Destroy(ctx, "Arena", destroy.cb()))
	mustState(t, m, "Arena", Destroying)
	p.Flush()
	require.NoError(t, destroy.err)
	assert.Equal(t, 1, destroy.calls)

	_, ok := m.State("Arena")
	assert.False(t, ok)
	assert.Zero(t, p.SessionCount())
}

func TestStartFromInProgressIsRejectedLocally(t *testing.T) {
	m, p := newManager(t, nil)
	createArena(t, m, p)
	require.NoError(t, m.Start(ctx, "Arena", nil))
	p.Flush()
	mustState(t, m, "Arena", InProgress)
	before := p.Calls(memory.OpStartSession)

	var r recorder
	err := m.Start(ctx, "Arena", r.cb())
	require.ErrorIs(t, err, errs.ErrInvalidStateTransition)
	p.Flush()
	assert.Equal(t, before, p.Calls(memory.OpStartSession))
	assert.Zero(t, r.calls)
	mustState(t, m, "Arena", InProgress)
}

func TestRestartAfterEnded(t *testing.T) {
	m, p := newManager(t, nil)
	createArena(t, m, p)
	for _, step := range []func() error{
		func() error { return m.Start(ctx, "Arena", nil) },
		func() error { return m.End(ctx, "Arena", nil) },
		func() error { return m.Start(ctx, "Arena", nil) },
	} {
		require.NoError(t, step())
		p.Flush()
	}
	mustState(t, m, "Arena", InProgress)
}

func TestStartWhileEndingSupersedesEnd(t *testing.T) {
	m, p := newManager(t, nil)
	createArena(t, m, p)
	require.NoError(t, m.Start(ctx, "Arena", nil))
	p.Flush()

	var end, start recorder
	require.NoError(t, m.End(ctx, "Arena", end.cb()))
	require.NoError(t, m.Start(ctx, "Arena", start.cb()))
	p.Flush()

	require.NoError(t, end.err)
	require.NoError(t, start.err)
	mustState(t, m, "Arena", InProgress)
}

func TestDuplicateName(t *testing.T) {
	m, p := newManager(t, nil)
	createArena(t, m, p)

	err := m.Create(ctx, 0, "Arena", arenaSettings(), nil)
	require.ErrorIs(t, err, errs.ErrDuplicateSessionName)
	assert.Equal(t, 1, p.Calls(memory.OpCreateSession))
}

func TestCreateFailureRemovesRecord(t *testing.T) {
	m, p := newManager(t, nil)
	p.Fail(memory.OpCreateSession, identity.Invalid, errs.Rejected(503, "maintenance"))

	var r recorder
	require.NoError(t, m.Create(ctx, 0, "Arena", arenaSettings(), r.cb()))
	p.Flush()

	var rej *errs.RejectedError
	require.ErrorAs(t, r.err, &rej)
	_, ok := m.State("Arena")
	assert.False(t, ok)
}

func TestCreateInvalidLocalUser(t *testing.T) {
	m, p := newManager(t, nil)
	require.ErrorIs(t, m.Create(ctx, 1, "Arena", arenaSettings(), nil), errs.ErrInvalidLocalUser)
	assert.Zero(t, p.Calls(memory.OpCreateSession))
}

func TestRejectedTransitionsRollBack(t *testing.T) {
	m, p := newManager(t, nil)
	createArena(t, m, p)

	p.Fail(memory.OpStartSession, identity.Invalid, errors.New("start refused"))
	var start recorder
	require.NoError(t, m.Start(ctx, "Arena", start.cb()))
	p.Flush()
	require.Error(t, start.err)
	mustState(t, m, "Arena", Pending)

	p.Fail(memory.OpStartSession, identity.Invalid, nil)
	require.NoError(t, m.Start(ctx, "Arena", nil))
	p.Flush()

	p.Fail(memory.OpEndSession, identity.Invalid, errors.New("end refused"))
	var end recorder
	require.NoError(t, m.End(ctx, "Arena", end.cb()))
	p.Flush()
	require.Error(t, end.err)
	mustState(t, m, "Arena", InProgress)

	p.Fail(memory.OpDestroySession, identity.Invalid, errors.New("destroy refused"))
	var destroy recorder
	require.NoError(t, m.Destroy(ctx, "Arena", destroy.cb()))
	p.Flush()
	require.Error(t, destroy.err)
	mustState(t, m, "Arena", InProgress)
}

func TestDestroyTwiceRejected(t *testing.T) {
	m, p := newManager(t, nil)
	createArena(t, m, p)

	require.NoError(t, m.Destroy(ctx, "Arena", nil))
	require.ErrorIs(t, m.Destroy(ctx, "Arena", nil), errs.ErrInvalidStateTransition)
	p.Flush()
	assert.Equal(t, 1, p.Calls(memory.OpDestroySession))
}

func TestDestroyWhileCreating(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("session.state", 16)
	defer unsub()
	m, p := newManager(t, b)

	var create, destroy recorder
	require.NoError(t, m.Create(ctx, 0, "Arena", arenaSettings(), create.cb()))
	require.NoError(t, m.Destroy(ctx, "Arena", destroy.cb()))
	mustState(t, m, "Arena", Destroying)
	require.ErrorIs(t, m.Destroy(ctx, "Arena", nil), errs.ErrInvalidStateTransition)
	assert.Zero(t, p.Calls(memory.OpDestroySession))

	p.Flush()
	require.NoError(t, create.err)
	require.Equal(t, 1, destroy.calls)
	require.NoError(t, destroy.err)
	_, ok := m.State("Arena")
	assert.False(t, ok)
	assert.Equal(t, 1, p.Calls(memory.OpDestroySession))
	assert.Zero(t, p.SessionCount())

	var seq []State
	for len(events) > 0 {
		seq = append(seq, (<-events).Payload.(StateChanged).To)
	}
	assert.Equal(t, []State{Creating, Destroying, Removed}, seq)
}

func TestDestroyWhileCreatingFailedCreate(t *testing.T) {
	m, p := newManager(t, nil)
	p.Fail(memory.OpCreateSession, identity.Invalid, errs.Rejected(409, "name taken"))

	var create, destroy recorder
	require.NoError(t, m.Create(ctx, 0, "Arena", arenaSettings(), create.cb()))
	require.NoError(t, m.Destroy(ctx, "Arena", destroy.cb()))
	p.Flush()

	require.Error(t, create.err)
	require.Equal(t, 1, destroy.calls)
	require.NoError(t, destroy.err)
	_, ok := m.State("Arena")
	assert.False(t, ok)
	assert.Zero(t, p.Calls(memory.OpDestroySession))
}

func TestDestroyWhileCreatingRejected(t *testing.T) {
	m, p := newManager(t, nil)
	p.Fail(memory.OpDestroySession, identity.Invalid, errors.New("destroy refused"))

	var destroy recorder
	require.NoError(t, m.Create(ctx, 0, "Arena", arenaSettings(), nil))
	require.NoError(t, m.Destroy(ctx, "Arena", destroy.cb()))
	p.Flush()

	require.Error(t, destroy.err)
	mustState(t, m, "Arena", Pending)
	list := m.List()
	require.Len(t, list, 1)
	assert.NotEmpty(t, list[0].RemoteID)
}

func TestUnknownSession(t *testing.T) {
	m, _ := newManager(t, nil)
	require.ErrorIs(t, m.Start(ctx, "nope", nil), errs.ErrSessionNotFound)
	require.ErrorIs(t, m.End(ctx, "nope", nil), errs.ErrSessionNotFound)
	require.ErrorIs(t, m.Destroy(ctx, "nope", nil), errs.ErrSessionNotFound)
	require.ErrorIs(t, m.Update(ctx, "nope", arenaSettings(), false, nil), errs.ErrSessionNotFound)
}

func TestUpdateLocalOnlyIsSynchronous(t *testing.T) {
	m, p := newManager(t, nil)
	createArena(t, m, p)

	settings := arenaSettings()
	settings.PublicConnections = 8
	var r recorder
	require.NoError(t, m.Update(ctx, "Arena", settings, false, r.cb()))
	assert.Equal(t, 1, r.calls)

	rec, ok := m.Get("Arena")
	require.True(t, ok)
	assert.Equal(t, 8, rec.Settings.PublicConnections)
	assert.Zero(t, p.Calls(memory.OpUpdateSession))
}

func TestUpdateRemoteRejectionRestoresSettings(t *testing.T) {
	m, p := newManager(t, nil)
	createArena(t, m, p)

	p.Fail(memory.OpUpdateSession, identity.Invalid, errs.Rejected(400, "bad settings"))
	settings := arenaSettings()
	settings.PublicConnections = 16
	settings.Attributes = map[string]string{"mode": "ctf"}

	var r recorder
	var during Record
	require.NoError(t, m.Update(ctx, "Arena", settings, true, func(err error) {
		during, _ = m.Get("Arena")
		r.cb()(err)
	}))
	require.ErrorIs(t, m.Update(ctx, "Arena", settings, true, nil), errs.ErrOperationInProgress)
	p.Flush()

	require.Error(t, r.err)
	assert.Equal(t, 4, during.Settings.PublicConnections, "restored before the callback fires")
	assert.False(t, during.Updating)
	assert.Empty(t, during.Settings.Attributes)
}

func TestPlayers(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("session.players", 4)
	defer unsub()

	m, p := newManager(t, b)
	createArena(t, m, p)

	var reg recorder
	require.NoError(t, m.RegisterPlayers(ctx, "Arena", []identity.Identity{host, guest}, reg.cb()))
	p.Flush()
	require.NoError(t, reg.err)

	rec, _ := m.Get("Arena")
	assert.Len(t, rec.Players, 2)

	require.NoError(t, m.UnregisterPlayers(ctx, "Arena", []identity.Identity{guest}, nil))
	p.Flush()
	rec, _ = m.Get("Arena")
	require.Len(t, rec.Players, 1)
	assert.True(t, rec.Players[0].Equal(host))
	assert.Len(t, events, 2)

	require.ErrorIs(t, m.RegisterPlayers(ctx, "Arena", []identity.Identity{identity.Invalid}, nil), identity.ErrInvalidIdentity)
}

func TestFindUsesCounterIds(t *testing.T) {
	m, p := newManager(t, nil)
	createArena(t, m, p)

	var got []backend.SessionDescriptor
	id1, err := m.Find(ctx, 0, backend.SearchCriteria{NamePrefix: "Ar"}, func(d []backend.SessionDescriptor, err error) {
		require.NoError(t, err)
		got = d
	})
	require.NoError(t, err)
	id2, err := m.Find(ctx, 0, backend.SearchCriteria{NamePrefix: "Zz"}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, m.PendingSearches())
	p.Flush()
	assert.Zero(t, m.PendingSearches())
	require.Len(t, got, 1)
	assert.Equal(t, "Arena", got[0].Name)
}

func TestStateEvents(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("session.state", 16)
	defer unsub()

	m, p := newManager(t, b)
	createArena(t, m, p)
	require.NoError(t, m.Destroy(ctx, "Arena", nil))
	p.Flush()

	var seq []State
	for len(events) > 0 {
		evt := <-events
		seq = append(seq, evt.Payload.(StateChanged).To)
	}
	assert.Equal(t, []State{Creating, Pending, Destroying, Removed}, seq)
}

func TestList(t *testing.T) {
	m, p := newManager(t, nil)
	require.NoError(t, m.Create(ctx, 0, "b-room", arenaSettings(), nil))
	require.NoError(t, m.Create(ctx, 0, "a-room", arenaSettings(), nil))
	p.Flush()

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a-room", list[0].Name)
	assert.True(t, list[0].Owner.Equal(host))
	assert.NotEmpty(t, list[0].RemoteID)
}

func TestTransitionsAreTraced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(ctx) }()

	m, p := newManager(t, nil)
	m.SetTracerProvider(tp)
	createArena(t, m, p)

	p.Fail(memory.OpStartSession, identity.Invalid, errs.Rejected(503, "busy"))
	var r recorder
	require.NoError(t, m.Start(ctx, "Arena", r.cb()))
	p.Flush()
	require.Error(t, r.err)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range rec.Ended() {
		byName[s.Name()] = s
	}
	create, ok := byName["Session.Manager.Create"]
	require.True(t, ok, "no create span")
	assert.Contains(t, create.Attributes(), attribute.String("session.name", "Arena"))
	assert.NotEqual(t, codes.Error, create.Status().Code)

	start, ok := byName["Session.Manager.Start"]
	require.True(t, ok, "no start span")
	assert.Equal(t, codes.Error, start.Status().Code)
}
