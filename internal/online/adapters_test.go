package online

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/netid/internal/account"
	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/backend/memory"
	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/presence"
	"github.com/matheus3301/netid/internal/query"
	"github.com/matheus3301/netid/internal/session"
	"github.com/matheus3301/netid/internal/status"
	"github.com/matheus3301/netid/internal/userinfo"
)

var (
	me  = identity.MustNew("me", "")
	ana = identity.MustNew("ana", "")
)

func newSubsystem(t *testing.T) (*Subsystem, *memory.Platform) {
	t.Helper()
	p := memory.New(memory.Options{Deferred: true})
	p.AddAccount("me", memory.Account{ID: me, Secret: "pw"})
	p.AddAccount("ana", memory.Account{ID: ana, Profile: backend.Profile{DisplayName: "Ana"}})
	p.SetFriendship(me, ana, backend.Friends)

	accounts := account.NewRegistry(p, 2, nil, nil)
	resolver := userinfo.NewResolver(p, query.NewCorrelator(query.Options{}), time.Minute, nil, nil, nil)
	cache := presence.NewCache(p, accounts, resolver, "arena", nil, nil)
	sessions := session.NewManager(p, accounts, nil, nil)
	p.SetNotifier(cache)
	return New(accounts, cache, resolver, sessions, nil), p
}

func login(t *testing.T, s *Subsystem, p *memory.Platform) {
	t.Helper()
	ok := s.Identity.Login(0, backend.Credentials{Kind: backend.CredentialPassword, Account: "me", Secret: "pw"}, func(ok bool, id identity.Identity, errMsg string) {
		require.True(t, ok, errMsg)
		assert.True(t, id.Equal(me))
	})
	require.True(t, ok)
	p.Flush()
	require.Equal(t, status.LoggedIn, s.Identity.GetLoginStatus(0))
}

func TestRejectedRequestNeverCallsBack(t *testing.T) {
	s, p := newSubsystem(t)

	called := false
	cb := func(bool, string) { called = true }
	assert.False(t, s.Friends.RefreshFriends(0, cb))
	assert.False(t, s.Session.StartSession("nope", cb))
	assert.False(t, s.Presence.SetPresence(1, backend.Presence{}, cb))
	assert.False(t, s.User.QueryUserInfo(0, []identity.Identity{ana}, func(bool, []identity.Identity, string) { called = true }))
	p.Flush()
	assert.False(t, called)
	assert.False(t, s.Identity.GetUniqueID(0).IsValid())
}

func TestFriendsAndPresence(t *testing.T) {
	s, p := newSubsystem(t)
	login(t, s, p)

	var refreshed bool
	require.True(t, s.Friends.RefreshFriends(0, func(ok bool, _ string) { refreshed = ok }))
	p.Flush()
	require.True(t, refreshed)

	friends, ok := s.Friends.GetFriends(0)
	require.True(t, ok)
	require.Len(t, friends, 1)
	assert.Equal(t, "Ana", friends[0].DisplayName.Value)
	assert.True(t, s.Friends.IsFriend(0, ana))

	p.PushPresence(ana, backend.Presence{State: backend.Busy, AppID: "arena"})
	p.Flush()
	rec, ok := s.Presence.GetCachedPresence(ana)
	require.True(t, ok)
	assert.Equal(t, backend.Busy, rec.State)
	assert.True(t, rec.PlayingThisApp)

	info, ok := s.User.GetUserInfo(ana)
	require.True(t, ok)
	assert.Equal(t, "Ana", info.DisplayName)
}

func TestSessionFacade(t *testing.T) {
	s, p := newSubsystem(t)
	login(t, s, p)

	var results []bool
	record := func(ok bool, _ string) { results = append(results, ok) }

	require.True(t, s.Session.CreateSession(0, "Arena", backend.SessionSettings{PublicConnections: 4, ShouldAdvertise: true}, record))
	p.Flush()
	require.True(t, s.Session.RegisterPlayer("Arena", ana, record))
	require.True(t, s.Session.StartSession("Arena", record))
	p.Flush()

	state, ok := s.Session.GetSessionState("Arena")
	require.True(t, ok)
	assert.Equal(t, session.InProgress, state)
	assert.Equal(t, []bool{true, true, true}, results)

	require.True(t, s.Session.EndSession("Arena", record))
	p.Flush()
	require.True(t, s.Session.DestroySession("Arena", record))
	p.Flush()
	_, ok = s.Session.GetSessionState("Arena")
	assert.False(t, ok)
}

func TestLogoutForgetsFriends(t *testing.T) {
	s, p := newSubsystem(t)
	login(t, s, p)
	require.True(t, s.Friends.RefreshFriends(0, nil))
	p.Flush()

	require.True(t, s.Identity.Logout(0, nil))
	p.Flush()
	_, ok := s.Friends.GetFriends(0)
	assert.False(t, ok)
	assert.Equal(t, status.LoggedOut, s.Identity.GetLoginStatus(0))
}

func TestCoreKeepsTypedErrors(t *testing.T) {
	s, p := newSubsystem(t)

	err := s.Core.StartSession(context.Background(), "nope", nil)
	require.ErrorIs(t, err, errs.ErrSessionNotFound)
	assert.False(t, s.Session.StartSession("nope", nil))

	err = s.Core.RefreshFriends(context.Background(), 0, nil)
	require.ErrorIs(t, err, errs.ErrInvalidLocalUser)

	login(t, s, p)
	var got error
	require.NoError(t, s.Core.Logout(0, func(err error) { got = err }))
	p.Flush()
	require.NoError(t, got)
	assert.Equal(t, status.LoggedOut, s.Core.LoginStatus(0))
}
