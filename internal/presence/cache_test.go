package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/backend/memory"
	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/query"
	"github.com/matheus3301/netid/internal/userinfo"
)

var (
	me    = identity.MustNew("me", "")
	ana   = identity.MustNew("ana", "")
	bruno = identity.MustNew("bruno", "")
	caio  = identity.MustNew("caio", "")
)

type fixedLocals map[int]identity.Identity

func (f fixedLocals) Identity(localUser int) (identity.Identity, error) {
	id, ok := f[localUser]
	if !ok {
		return identity.Invalid, errs.ErrInvalidLocalUser
	}
	return id, nil
}

func (f fixedLocals) LocalUserOf(id identity.Identity) (int, bool) {
	for i, v := range f {
		if v.Equal(id) {
			return i, true
		}
	}
	return -1, false
}

func (f fixedLocals) ReplaceIdentity(old, upgraded identity.Identity) bool {
	for i, v := range f {
		if v.Equal(old) {
			f[i] = upgraded
			return true
		}
	}
	return false
}

type fixture struct {
	cache    *Cache
	platform *memory.Platform
	bus      *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := memory.New(memory.Options{Deferred: true})
	p.AddAccount("me", memory.Account{ID: me})
	p.AddAccount("ana", memory.Account{ID: ana, Profile: backend.Profile{DisplayName: "Ana", RealName: "Ana Lima"}})
	p.AddAccount("bruno", memory.Account{ID: bruno, Profile: backend.Profile{DisplayName: "Bruno"}})
	p.AddAccount("caio", memory.Account{ID: caio, Profile: backend.Profile{DisplayName: "Caio"}})
	p.SetFriendship(me, ana, backend.Friends)
	p.SetFriendship(me, bruno, backend.Friends)
	p.SetFriendship(me, caio, backend.Friends)

	b := bus.New()
	resolver := userinfo.NewResolver(p, query.NewCorrelator(query.Options{}), time.Minute, nil, b, nil)
	c := NewCache(p, fixedLocals{0: me}, resolver, "arena", b, nil)
	p.SetNotifier(c)
	return &fixture{cache: c, platform: p, bus: b}
}

func byTarget(records []FriendRecord) map[identity.Key]FriendRecord {
	out := make(map[identity.Key]FriendRecord, len(records))
	for _, r := range records {
		out[r.Target.Key()] = r
	}
	return out
}

func TestGetFriendsBeforeRefresh(t *testing.T) {
	f := newFixture(t)
	records, ok := f.cache.GetFriends(0)
	assert.False(t, ok)
	assert.Empty(t, records)
	assert.Zero(t, f.platform.Calls(memory.OpListFriendships))
}

func TestRefreshFriendsWithOneFailedLookup(t *testing.T) {
	f := newFixture(t)
	f.platform.Fail(memory.OpLookupProfile, bruno, errs.Rejected(404, "profile unavailable"))

	completions := 0
	var refreshErr error
	require.NoError(t, f.cache.RefreshFriends(context.Background(), 0, func(err error) {
		completions++
		refreshErr = err
	}))
	f.platform.FlushReverse()

	assert.Equal(t, 1, completions)
	assert.NoError(t, refreshErr)

	records, ok := f.cache.GetFriends(0)
	require.True(t, ok)
	require.Len(t, records, 3)

	got := byTarget(records)
	assert.Equal(t, "Ana", got[ana.Key()].DisplayName.Value)
	assert.Equal(t, "Ana Lima", got[ana.Key()].RealName.Value)
	assert.Equal(t, "Caio", got[caio.Key()].DisplayName.Value)
	assert.True(t, got[caio.Key()].DisplayName.Resolved)

	failed := got[bruno.Key()]
	assert.False(t, failed.Resolved())
	assert.Empty(t, failed.DisplayName.Value)
	assert.Equal(t, backend.Friends, failed.Relationship)

	assert.Equal(t, 3, f.platform.Calls(memory.OpSubscribePresence))
	for _, r := range records {
		assert.True(t, r.HasPresence, r.Target.String())
	}
}

func TestRefreshFriendsListFailure(t *testing.T) {
	f := newFixture(t)
	f.platform.Fail(memory.OpListFriendships, identity.Invalid, errors.New("offline"))

	var refreshErr error
	require.NoError(t, f.cache.RefreshFriends(context.Background(), 0, func(err error) { refreshErr = err }))
	f.platform.Flush()

	require.Error(t, refreshErr)
	_, ok := f.cache.GetFriends(0)
	assert.False(t, ok)
	assert.Zero(t, f.platform.Calls(memory.OpLookupProfile))
}

func TestRefreshFriendsInvalidLocalUser(t *testing.T) {
	f := newFixture(t)
	called := false
	err := f.cache.RefreshFriends(context.Background(), 3, func(error) { called = true })
	require.ErrorIs(t, err, errs.ErrInvalidLocalUser)
	f.platform.Flush()
	assert.False(t, called)
	assert.Zero(t, f.platform.Calls(memory.OpListFriendships))
}

func TestDuplicateSubscriptionCoalesces(t *testing.T) {
	f := newFixture(t)
	f.platform.SetPresenceOf(ana, backend.Presence{State: backend.Online, AppID: "arena", SessionID: "s1", Joinable: true})

	var first, second PresenceRecord
	require.NoError(t, f.cache.SubscribePresence(0, ana, func(r PresenceRecord, err error) {
		require.NoError(t, err)
		first = r
	}))
	require.NoError(t, f.cache.SubscribePresence(0, ana, func(r PresenceRecord, err error) {
		require.NoError(t, err)
		second = r
	}))
	f.platform.Flush()

	assert.Equal(t, 1, f.platform.Calls(memory.OpSubscribePresence))
	assert.Equal(t, backend.Online, first.State)
	assert.Equal(t, backend.Online, second.State)
	assert.True(t, first.PlayingThisApp)
	assert.True(t, first.Joinable)

	replayed := false
	require.NoError(t, f.cache.SubscribePresence(0, ana, func(r PresenceRecord, err error) {
		replayed = true
		assert.Equal(t, backend.Online, r.State)
	}))
	assert.True(t, replayed, "active subscription replays synchronously")
	assert.Equal(t, 1, f.platform.Calls(memory.OpSubscribePresence))
}

func TestFailedSubscriptionCanBeRetried(t *testing.T) {
	f := newFixture(t)
	f.platform.Fail(memory.OpSubscribePresence, ana, errors.New("busy"))

	var subErr error
	require.NoError(t, f.cache.SubscribePresence(0, ana, func(_ PresenceRecord, err error) { subErr = err }))
	f.platform.Flush()
	require.Error(t, subErr)
	assert.False(t, f.cache.Subscribed(0, ana))

	f.platform.Fail(memory.OpSubscribePresence, ana, nil)
	require.NoError(t, f.cache.SubscribePresence(0, ana, nil))
	f.platform.Flush()
	assert.True(t, f.cache.Subscribed(0, ana))
	assert.Equal(t, 2, f.platform.Calls(memory.OpSubscribePresence))
}

func TestUnsubscribePresence(t *testing.T) {
	f := newFixture(t)

	f.cache.UnsubscribePresence(0, bruno)
	assert.Zero(t, f.platform.Calls(memory.OpUnsubscribe))

	require.NoError(t, f.cache.SubscribePresence(0, bruno, nil))
	f.platform.Flush()
	f.cache.UnsubscribePresence(0, bruno)
	assert.Equal(t, 1, f.platform.Calls(memory.OpUnsubscribe))
	assert.False(t, f.cache.Subscribed(0, bruno))
}

func TestUnsubscribeWhileInFlightCancelsRemote(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.SubscribePresence(0, caio, nil))
	f.cache.UnsubscribePresence(0, caio)
	f.platform.Flush()

	assert.False(t, f.cache.Subscribed(0, caio))
	assert.Equal(t, 1, f.platform.Calls(memory.OpUnsubscribe))
}

func TestResubscribeWhileInFlightKeepsRemote(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.SubscribePresence(0, caio, nil))
	f.cache.UnsubscribePresence(0, caio)

	calls := 0
	require.NoError(t, f.cache.SubscribePresence(0, caio, func(_ PresenceRecord, err error) {
		assert.NoError(t, err)
		calls++
	}))
	f.platform.Flush()

	assert.True(t, f.cache.Subscribed(0, caio))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, f.platform.Calls(memory.OpSubscribePresence))
	assert.Zero(t, f.platform.Calls(memory.OpUnsubscribe))

	f.platform.PushPresence(caio, backend.Presence{State: backend.Busy})
	f.platform.Flush()
	rec, ok := f.cache.CachedPresence(caio)
	require.True(t, ok)
	assert.Equal(t, backend.Busy, rec.State)
}

func TestPushedPresenceReplacesWholesale(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.bus.Subscribe("presence.", 10)
	defer unsub()

	f.platform.SetPresenceOf(ana, backend.Presence{State: backend.Online, Status: "in lobby", Properties: map[string]string{"map": "dust"}})
	require.NoError(t, f.cache.SubscribePresence(0, ana, nil))
	f.platform.Flush()

	f.platform.PushPresence(ana, backend.Presence{State: backend.Away})
	f.platform.Flush()

	rec, ok := f.cache.CachedPresence(ana)
	require.True(t, ok)
	assert.Equal(t, backend.Away, rec.State)
	assert.Empty(t, rec.Status)
	assert.Empty(t, rec.Properties)
	assert.Len(t, events, 2)
}

func TestAttributeUpdateKeepsOtherAttributes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.RefreshFriends(context.Background(), 0, nil))
	f.platform.Flush()

	f.cache.applyProfile(0, me, ana, backend.Profile{Alias: "nana"})
	records, _ := f.cache.GetFriends(0)
	got := byTarget(records)[ana.Key()]
	assert.Equal(t, "Ana", got.DisplayName.Value)
	assert.Equal(t, "Ana Lima", got.RealName.Value)
	assert.Equal(t, "nana", got.Alias.Value)
}

func TestInviteFlowUpdatesCache(t *testing.T) {
	f := newFixture(t)
	dora := identity.MustNew("dora", "")
	f.platform.AddAccount("dora", memory.Account{ID: dora, Profile: backend.Profile{DisplayName: "Dora"}})

	require.NoError(t, f.cache.RefreshFriends(context.Background(), 0, nil))
	f.platform.Flush()

	var inviteErr error
	require.NoError(t, f.cache.SendInvite(0, dora, func(err error) { inviteErr = err }))
	f.platform.Flush()
	require.NoError(t, inviteErr)

	records, _ := f.cache.GetFriends(0)
	assert.Equal(t, backend.InviteSent, byTarget(records)[dora.Key()].Relationship)
	assert.False(t, f.cache.IsFriend(0, dora))

	// dora accepts; the platform pushes the change
	f.platform.SetFriendship(dora, me, backend.Friends)
	f.cache.ApplyFriendship(me, dora, backend.Friends)
	f.platform.Flush()

	assert.True(t, f.cache.IsFriend(0, dora))
	records, _ = f.cache.GetFriends(0)
	assert.Equal(t, "Dora", byTarget(records)[dora.Key()].DisplayName.Value)
}

func TestReplaceIdentityRekeys(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.bus.Subscribe("identity.", 1)
	defer unsub()

	require.NoError(t, f.cache.RefreshFriends(context.Background(), 0, nil))
	f.platform.Flush()

	upgraded, err := bruno.WithSecondary("5511988")
	require.NoError(t, err)
	f.cache.ReplaceIdentity(bruno, upgraded)

	assert.True(t, f.cache.IsFriend(0, upgraded))
	assert.False(t, f.cache.IsFriend(0, bruno))
	assert.True(t, f.cache.Subscribed(0, upgraded))
	_, ok := f.cache.CachedPresence(upgraded)
	assert.True(t, ok)

	evt := <-events
	change, ok := evt.Payload.(IdentityUpgraded)
	require.True(t, ok)
	assert.True(t, change.New.Equal(upgraded))
}

func TestReplaceIdentityDuringSubscribe(t *testing.T) {
	f := newFixture(t)
	upgraded, err := ana.WithSecondary("5511977")
	require.NoError(t, err)

	first := 0
	require.NoError(t, f.cache.SubscribePresence(0, ana, func(_ PresenceRecord, err error) {
		assert.NoError(t, err)
		first++
	}))
	f.cache.ReplaceIdentity(ana, upgraded)
	f.platform.Flush()
	assert.Equal(t, 1, first)
	assert.True(t, f.cache.Subscribed(0, upgraded))

	second := 0
	require.NoError(t, f.cache.SubscribePresence(0, upgraded, func(rec PresenceRecord, err error) {
		assert.NoError(t, err)
		assert.True(t, rec.Target.Equal(upgraded))
		second++
	}))
	f.platform.Flush()

	assert.Equal(t, 1, second)
	assert.Equal(t, 1, f.platform.Calls(memory.OpSubscribePresence))
	assert.Zero(t, f.platform.Calls(memory.OpUnsubscribe))
	_, ok := f.cache.CachedPresence(upgraded)
	assert.True(t, ok)
}

func TestReplaceIdentityMergesListedTwice(t *testing.T) {
	f := newFixture(t)
	upgraded, err := ana.WithSecondary("5511977")
	require.NoError(t, err)
	f.platform.SetFriendship(me, upgraded, backend.Friends)
	require.NoError(t, f.cache.RefreshFriends(context.Background(), 0, nil))
	f.platform.Flush()

	before, ok := f.cache.GetFriends(0)
	require.True(t, ok)
	require.Len(t, before, 4)

	f.cache.ReplaceIdentity(ana, upgraded)

	after, ok := f.cache.GetFriends(0)
	require.True(t, ok)
	assert.Len(t, after, 3)
	rec, ok := byTarget(after)[upgraded.Key()]
	require.True(t, ok)
	assert.Equal(t, "Ana", rec.DisplayName.Value)
	assert.False(t, f.cache.IsFriend(0, ana))
}

func TestPlatformUpgradeSwapsLocalUser(t *testing.T) {
	f := newFixture(t)
	locals := f.cache.locals.(fixedLocals)
	require.NoError(t, f.cache.RefreshFriends(context.Background(), 0, nil))
	f.platform.Flush()

	upgraded, err := me.WithSecondary("5511900")
	require.NoError(t, err)
	f.platform.UpgradeIdentity(me, upgraded)
	f.platform.Flush()

	id, err := locals.Identity(0)
	require.NoError(t, err)
	assert.True(t, id.Equal(upgraded))
	friends, ok := f.cache.GetFriends(0)
	require.True(t, ok)
	assert.Len(t, friends, 3)
}

func TestForgetDropsListAndSubscriptions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.RefreshFriends(context.Background(), 0, nil))
	f.platform.Flush()

	f.cache.Forget(0)
	_, ok := f.cache.GetFriends(0)
	assert.False(t, ok)
	assert.Equal(t, 3, f.platform.Calls(memory.OpUnsubscribe))
}
