package online

import (
	"context"

	"github.com/matheus3301/netid/internal/account"
	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/presence"
	"github.com/matheus3301/netid/internal/query"
	"github.com/matheus3301/netid/internal/session"
	"github.com/matheus3301/netid/internal/status"
	"github.com/matheus3301/netid/internal/userinfo"
)

// Core is the error-returning form of every capability. The interface
// adapters and the control service both call through it, so operations that
// span components (a logout also drops the friend cache) live only here.
//
// A non-nil error return means the request was not attempted and cb will
// not run.
type Core struct {
	accounts *account.Registry
	cache    *presence.Cache
	resolver *userinfo.Resolver
	sessions *session.Manager
}

// Identity

func (c *Core) Login(localUser int, creds backend.Credentials, cb func(identity.Identity, error)) error {
	return c.accounts.Login(localUser, creds, cb)
}

// Logout logs localUser out and, once the platform confirms, forgets their
// friend list and presence subscriptions.
func (c *Core) Logout(localUser int, cb func(error)) error {
	return c.accounts.Logout(localUser, func(err error) {
		if err == nil {
			c.cache.Forget(localUser)
		}
		if cb != nil {
			cb(err)
		}
	})
}

func (c *Core) Identity(localUser int) (identity.Identity, error) {
	return c.accounts.Identity(localUser)
}

func (c *Core) LoginStatus(localUser int) status.State { return c.accounts.Status(localUser) }

// Account is the account name localUser logged in with, or "".
func (c *Core) Account(localUser int) string { return c.accounts.Account(localUser) }

func (c *Core) MaxLocalUsers() int { return c.accounts.Max() }

// Friends

func (c *Core) Friends(localUser int) ([]presence.FriendRecord, bool) {
	return c.cache.GetFriends(localUser)
}

func (c *Core) RefreshFriends(ctx context.Context, localUser int, cb func(error)) error {
	return c.cache.RefreshFriends(ctx, localUser, cb)
}

func (c *Core) IsFriend(localUser int, target identity.Identity) bool {
	return c.cache.IsFriend(localUser, target)
}

func (c *Core) SendInvite(localUser int, target identity.Identity, cb func(error)) error {
	return c.cache.SendInvite(localUser, target, cb)
}

func (c *Core) AcceptInvite(localUser int, target identity.Identity, cb func(error)) error {
	return c.cache.AcceptInvite(localUser, target, cb)
}

func (c *Core) RejectInvite(localUser int, target identity.Identity, cb func(error)) error {
	return c.cache.RejectInvite(localUser, target, cb)
}

// Presence

func (c *Core) SetPresence(localUser int, p backend.Presence, cb func(error)) error {
	return c.cache.SetOwnPresence(localUser, p, cb)
}

// QueryPresence subscribes localUser to target's presence; cb gets the first
// record.
func (c *Core) QueryPresence(localUser int, target identity.Identity, cb func(presence.PresenceRecord, error)) error {
	return c.cache.SubscribePresence(localUser, target, cb)
}

func (c *Core) CachedPresence(target identity.Identity) (presence.PresenceRecord, bool) {
	return c.cache.CachedPresence(target)
}

func (c *Core) UnsubscribePresence(localUser int, target identity.Identity) {
	c.cache.UnsubscribePresence(localUser, target)
}

// User info

// QueryUserInfo resolves targets' profiles on behalf of localUser and
// returns the query id.
func (c *Core) QueryUserInfo(ctx context.Context, localUser int, targets []identity.Identity, cb func(query.Result)) (uint64, error) {
	local, err := c.accounts.Identity(localUser)
	if err != nil {
		return 0, err
	}
	return c.resolver.Query(ctx, localUser, local, targets, nil, cb)
}

func (c *Core) UserInfo(target identity.Identity) (backend.Profile, bool) {
	return c.resolver.Get(target)
}

// Sessions

func (c *Core) CreateSession(ctx context.Context, localUser int, name string, settings backend.SessionSettings, cb func(error)) error {
	return c.sessions.Create(ctx, localUser, name, settings, cb)
}

func (c *Core) StartSession(ctx context.Context, name string, cb func(error)) error {
	return c.sessions.Start(ctx, name, cb)
}

func (c *Core) EndSession(ctx context.Context, name string, cb func(error)) error {
	return c.sessions.End(ctx, name, cb)
}

func (c *Core) DestroySession(ctx context.Context, name string, cb func(error)) error {
	return c.sessions.Destroy(ctx, name, cb)
}

func (c *Core) UpdateSession(ctx context.Context, name string, settings backend.SessionSettings, refreshRemote bool, cb func(error)) error {
	return c.sessions.Update(ctx, name, settings, refreshRemote, cb)
}

func (c *Core) FindSessions(ctx context.Context, localUser int, criteria backend.SearchCriteria, cb func([]backend.SessionDescriptor, error)) (uint64, error) {
	return c.sessions.Find(ctx, localUser, criteria, cb)
}

func (c *Core) RegisterPlayer(ctx context.Context, name string, player identity.Identity, cb func(error)) error {
	return c.sessions.RegisterPlayers(ctx, name, []identity.Identity{player}, cb)
}

func (c *Core) UnregisterPlayer(ctx context.Context, name string, player identity.Identity, cb func(error)) error {
	return c.sessions.UnregisterPlayers(ctx, name, []identity.Identity{player}, cb)
}

func (c *Core) SessionState(name string) (session.State, bool) { return c.sessions.State(name) }

func (c *Core) Session(name string) (session.Record, bool) { return c.sessions.Get(name) }

func (c *Core) Sessions() []session.Record { return c.sessions.List() }

func (c *Core) PendingSearches() int { return c.sessions.PendingSearches() }
