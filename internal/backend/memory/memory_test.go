package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
)

var (
	alice = identity.MustNew("alice", "")
	bob   = identity.MustNew("bob", "5511999")
)

func seeded(t *testing.T) *Platform {
	t.Helper()
	p := New(Options{Deferred: true})
	p.AddAccount("alice", Account{ID: alice, Secret: "pw", Profile: backend.Profile{DisplayName: "Alice"}})
	p.AddAccount("bob", Account{ID: bob, Secret: "pw2", Profile: backend.Profile{DisplayName: "Bob", RealName: "Robert"}})
	return p
}

func login(t *testing.T, p *Platform, creds backend.Credentials) (identity.Identity, error) {
	t.Helper()
	var (
		got  identity.Identity
		gerr error
	)
	p.Login(creds, func(id identity.Identity, err error) { got, gerr = id, err })
	require.Equal(t, 1, p.Flush())
	return got, gerr
}

func TestLoginPassword(t *testing.T) {
	p := seeded(t)

	id, err := login(t, p, backend.Credentials{Kind: backend.CredentialPassword, Account: "alice", Secret: "pw"})
	require.NoError(t, err)
	assert.True(t, id.Equal(alice))

	_, err = login(t, p, backend.Credentials{Kind: backend.CredentialPassword, Account: "alice", Secret: "nope"})
	var rej *errs.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 401, rej.Code)
}

func TestLoginPersistedNeedsTicket(t *testing.T) {
	p := seeded(t)

	_, err := login(t, p, backend.Credentials{Kind: backend.CredentialPersisted, Account: "bob"})
	require.Error(t, err)

	_, err = login(t, p, backend.Credentials{Kind: backend.CredentialPassword, Account: "bob", Secret: "pw2"})
	require.NoError(t, err)

	id, err := login(t, p, backend.Credentials{Kind: backend.CredentialPersisted, Account: "bob"})
	require.NoError(t, err)
	assert.True(t, id.Equal(bob))
}

func TestLoginQRNotSupported(t *testing.T) {
	p := seeded(t)
	_, err := login(t, p, backend.Credentials{Kind: backend.CredentialQR, Account: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), errs.ErrNotSupported.Error())
}

func TestLogoutClearsTicket(t *testing.T) {
	p := seeded(t)
	_, err := login(t, p, backend.Credentials{Kind: backend.CredentialPassword, Account: "alice", Secret: "pw"})
	require.NoError(t, err)

	var logoutErr error
	p.Logout(alice, func(err error) { logoutErr = err })
	p.Flush()
	require.NoError(t, logoutErr)

	_, err = login(t, p, backend.Credentials{Kind: backend.CredentialPersisted, Account: "alice"})
	require.Error(t, err)
}

func TestListFriendshipsMirrorsInvites(t *testing.T) {
	p := seeded(t)
	p.SetFriendship(alice, bob, backend.InviteSent)

	var got []backend.Friendship
	p.ListFriendships(bob, func(fs []backend.Friendship, err error) {
		require.NoError(t, err)
		got = fs
	})
	p.Flush()
	require.Len(t, got, 1)
	assert.True(t, got[0].Target.Equal(alice))
	assert.Equal(t, backend.InviteReceived, got[0].Status)

	var acceptErr error
	p.AcceptInvite(bob, alice, func(err error) { acceptErr = err })
	p.Flush()
	require.NoError(t, acceptErr)

	p.ListFriendships(alice, func(fs []backend.Friendship, err error) { got = fs })
	p.Flush()
	require.Len(t, got, 1)
	assert.Equal(t, backend.Friends, got[0].Status)
}

type recordingNotifier struct {
	presence []identity.Identity
	friends  []backend.Relationship
	upgrades []identity.Identity
}

func (r *recordingNotifier) PresenceChanged(target identity.Identity, _ backend.Presence) {
	r.presence = append(r.presence, target)
}

func (r *recordingNotifier) FriendshipChanged(_, _ identity.Identity, status backend.Relationship) {
	r.friends = append(r.friends, status)
}

func (r *recordingNotifier) IdentityUpgraded(_, upgraded identity.Identity) {
	r.upgrades = append(r.upgrades, upgraded)
}

func TestSetPresenceNotifiesSubscribers(t *testing.T) {
	p := seeded(t)
	n := &recordingNotifier{}
	p.SetNotifier(n)

	p.SetPresence(bob, backend.Presence{State: backend.Online}, nil)
	p.Flush()
	assert.Empty(t, n.presence, "no subscribers yet")

	var initial backend.Presence
	p.SubscribePresence(alice, bob, func(pr backend.Presence, err error) {
		require.NoError(t, err)
		initial = pr
	})
	p.Flush()
	assert.Equal(t, backend.Online, initial.State)

	p.SetPresence(bob, backend.Presence{State: backend.Away, Status: "lunch"}, nil)
	p.Flush()
	require.Len(t, n.presence, 1)
	assert.True(t, n.presence[0].Equal(bob))

	p.UnsubscribePresence(alice, bob)
	p.SetPresence(bob, backend.Presence{State: backend.Busy}, nil)
	p.Flush()
	assert.Len(t, n.presence, 1)
}

func TestFailInjection(t *testing.T) {
	p := seeded(t)
	boom := errors.New("boom")
	p.Fail(OpLookupProfile, bob, boom)

	var aliceErr, bobErr error
	p.LookupProfile(alice, alice, func(_ backend.Profile, err error) { aliceErr = err })
	p.LookupProfile(alice, bob, func(_ backend.Profile, err error) { bobErr = err })
	p.FlushReverse()

	assert.NoError(t, aliceErr)
	assert.ErrorIs(t, bobErr, boom)
	assert.Equal(t, 2, p.Calls(OpLookupProfile))

	p.Fail(OpLookupProfile, bob, nil)
	p.LookupProfile(alice, bob, func(_ backend.Profile, err error) { bobErr = err })
	p.Flush()
	assert.NoError(t, bobErr)
}

func TestSessionsLifecycle(t *testing.T) {
	p := seeded(t)
	settings := backend.SessionSettings{PublicConnections: 2, ShouldAdvertise: true, Attributes: map[string]string{"mode": "ffa"}}

	var info backend.SessionInfo
	p.CreateSession(alice, "Arena", settings, func(i backend.SessionInfo, err error) {
		require.NoError(t, err)
		info = i
	})
	p.Flush()
	require.NotEmpty(t, info.RemoteID)

	var dupErr error
	p.CreateSession(bob, "Arena", settings, func(_ backend.SessionInfo, err error) { dupErr = err })
	p.Flush()
	var rej *errs.RejectedError
	require.ErrorAs(t, dupErr, &rej)
	assert.Equal(t, 409, rej.Code)

	var found []backend.SessionDescriptor
	p.FindSessions(bob, backend.SearchCriteria{NamePrefix: "Ar", Attributes: map[string]string{"mode": "ffa"}}, func(d []backend.SessionDescriptor, err error) {
		require.NoError(t, err)
		found = d
	})
	p.Flush()
	require.Len(t, found, 1)
	assert.Equal(t, 2, found[0].OpenSlots)

	var regErr error
	p.RegisterPlayers(info.RemoteID, []identity.Identity{alice, bob}, func(err error) { regErr = err })
	p.Flush()
	require.NoError(t, regErr)

	p.FindSessions(bob, backend.SearchCriteria{}, func(d []backend.SessionDescriptor, err error) { found = d })
	p.Flush()
	assert.Empty(t, found, "full session is not listed")

	var startErr, endErr, destroyErr error
	p.StartSession(info.RemoteID, func(err error) { startErr = err })
	p.EndSession(info.RemoteID, func(err error) { endErr = err })
	p.DestroySession(info.RemoteID, func(err error) { destroyErr = err })
	p.Flush()
	assert.NoError(t, startErr)
	assert.NoError(t, endErr)
	assert.NoError(t, destroyErr)
	assert.Zero(t, p.SessionCount())

	var missingErr error
	p.StartSession(info.RemoteID, func(err error) { missingErr = err })
	p.Flush()
	require.ErrorAs(t, missingErr, &rej)
	assert.Equal(t, 404, rej.Code)
}

func TestUpgradeIdentityRekeys(t *testing.T) {
	p := seeded(t)
	n := &recordingNotifier{}
	p.SetNotifier(n)
	p.SetFriendship(bob, alice, backend.Friends)

	upgraded, err := alice.WithSecondary("5511888")
	require.NoError(t, err)
	p.UpgradeIdentity(alice, upgraded)
	p.Flush()

	require.Len(t, n.upgrades, 1)
	assert.True(t, n.upgrades[0].Equal(upgraded))

	var got []backend.Friendship
	p.ListFriendships(bob, func(fs []backend.Friendship, err error) {
		require.NoError(t, err)
		got = fs
	})
	p.Flush()
	require.Len(t, got, 1)
	assert.True(t, got[0].Target.Equal(upgraded))
}

func TestSecretsAreNotKept(t *testing.T) {
	p := New(Options{})
	p.AddAccount("carol", Account{ID: identity.MustNew("carol", ""), Secret: "s3cret"})

	assert.Empty(t, p.accounts["carol"].Secret)
	v := p.secrets["carol"]
	assert.NotContains(t, string(v.key), "s3cret")
	assert.True(t, v.match("s3cret"))
	assert.False(t, v.match("s3cre"))

	// The same secret salts differently per account.
	p.AddAccount("dave", Account{ID: identity.MustNew("dave", ""), Secret: "s3cret"})
	assert.NotEqual(t, v.key, p.secrets["dave"].key)

	assert.False(t, verifier{}.match(""))
}
