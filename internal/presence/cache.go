// Package presence caches friend lists and presence for each local user and
// keeps them in step with the platform.
//
// Two locks guard the cache: friendsMu over friend lists and presenceMu over
// presence records and subscriptions. No code path holds both.
package presence

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/logging"
	"github.com/matheus3301/netid/internal/query"
	"github.com/matheus3301/netid/internal/userinfo"
)

// Locals resolves local-user indices to logged-in identities.
type Locals interface {
	Identity(localUser int) (identity.Identity, error)
	LocalUserOf(id identity.Identity) (int, bool)
}

type subKey struct {
	localUser int
	target    identity.Key
}

type subscription struct {
	localUser int
	local     identity.Identity
	target    identity.Identity // follows ReplaceIdentity
	active  bool
	waiters []func(PresenceRecord, error)
}

// Cache is the presence and friend cache.
type Cache struct {
	platform backend.Platform
	locals   Locals
	resolver *userinfo.Resolver
	appID    string
	bus      *bus.Bus
	logger   *zap.Logger

	friendsMu sync.RWMutex
	friends   map[int]*friendList

	presenceMu sync.Mutex
	presence   map[identity.Key]PresenceRecord
	subs       map[subKey]*subscription
}

// NewCache creates an empty cache. appID decides PlayingThisApp.
func NewCache(p backend.Platform, locals Locals, resolver *userinfo.Resolver, appID string, b *bus.Bus, logger *zap.Logger) *Cache {
	return &Cache{
		platform: p,
		locals:   locals,
		resolver: resolver,
		appID:    appID,
		bus:      b,
		logger:   logging.OrNop(logger),
		friends:  make(map[int]*friendList),
		presence: make(map[identity.Key]PresenceRecord),
		subs:     make(map[subKey]*subscription),
	}
}

// GetFriends returns the cached friend list of localUser with presence
// snapshots filled in. ok is false when no refresh has completed yet.
func (c *Cache) GetFriends(localUser int) (records []FriendRecord, ok bool) {
	c.friendsMu.RLock()
	list := c.friends[localUser]
	if list != nil {
		records = list.snapshot()
	}
	c.friendsMu.RUnlock()
	if list == nil {
		return nil, false
	}

	c.presenceMu.Lock()
	for i := range records {
		if p, found := c.presence[records[i].Target.Key()]; found {
			records[i].Presence = p
			records[i].HasPresence = true
		}
	}
	c.presenceMu.Unlock()
	return records, true
}

// IsFriend reports whether target is a confirmed friend of localUser in the
// cached list.
func (c *Cache) IsFriend(localUser int, target identity.Identity) bool {
	c.friendsMu.RLock()
	defer c.friendsMu.RUnlock()
	list := c.friends[localUser]
	if list == nil {
		return false
	}
	rec := list.byKey[target.Key()]
	return rec != nil && rec.Relationship == backend.Friends
}

// RefreshFriends reads localUser's friend list from the platform. On success
// the cached list is replaced with placeholder attributes, then two
// independent fan-outs start: attribute resolution and one presence
// subscription per friend. onComplete fires once, after the attribute
// fan-out finalizes, or with the list error.
func (c *Cache) RefreshFriends(ctx context.Context, localUser int, onComplete func(error)) error {
	local, err := c.locals.Identity(localUser)
	if err != nil {
		return err
	}
	if onComplete == nil {
		onComplete = func(error) {}
	}
	ctx = context.WithoutCancel(ctx)

	c.platform.ListFriendships(local, func(list []backend.Friendship, err error) {
		if err != nil {
			c.logger.Warn("list friendships failed", zap.Int("local_user", localUser), zap.Error(err))
			onComplete(fmt.Errorf("list friendships: %w", err))
			return
		}

		fresh := newFriendList()
		targets := make([]identity.Identity, 0, len(list))
		for _, f := range list {
			if !f.Target.IsValid() {
				continue
			}
			if _, dup := fresh.byKey[f.Target.Key()]; !dup {
				targets = append(targets, f.Target)
			}
			fresh.put(&FriendRecord{Target: f.Target, Relationship: f.Status})
		}

		c.friendsMu.Lock()
		c.friends[localUser] = fresh
		snapshot := fresh.snapshot()
		c.friendsMu.Unlock()

		c.logger.Info("friend list refreshed", zap.Int("local_user", localUser), zap.Int("friends", len(snapshot)))
		c.bus.Emit(bus.KindFriendsChanged, FriendsChanged{LocalUser: localUser, Local: local, Full: true, Records: snapshot})

		_, qerr := c.resolver.Query(ctx, localUser, local, targets,
			func(target identity.Identity, p backend.Profile, err error) {
				if err == nil {
					c.applyProfile(localUser, local, target, p)
				}
			},
			func(res query.Result) {
				if !res.Success {
					c.logger.Warn("friend attributes partially resolved",
						zap.Int("local_user", localUser),
						zap.Uint64("query_id", res.ID),
						zap.String("errors", res.Message),
					)
				}
				onComplete(nil)
			},
		)
		if qerr != nil {
			onComplete(qerr)
			return
		}

		for _, target := range targets {
			if err := c.SubscribePresence(localUser, target, nil); err != nil {
				c.logger.Warn("presence subscription not started",
					zap.Int("local_user", localUser),
					zap.String("identity", target.String()),
					zap.Error(err),
				)
			}
		}
	})
	return nil
}

func (c *Cache) applyProfile(localUser int, local, target identity.Identity, p backend.Profile) {
	c.friendsMu.Lock()
	list := c.friends[localUser]
	var rec *FriendRecord
	if list != nil {
		rec = list.byKey[target.Key()]
	}
	if rec == nil {
		c.friendsMu.Unlock()
		return
	}
	rec.DisplayName.set(p.DisplayName)
	rec.RealName.set(p.RealName)
	rec.Alias.set(p.Alias)
	changed := *rec
	c.friendsMu.Unlock()

	c.bus.Emit(bus.KindFriendsChanged, FriendsChanged{LocalUser: localUser, Local: local, Records: []FriendRecord{changed}})
}

// SubscribePresence subscribes localUser to target's presence. An existing
// subscription replays the cached value synchronously; a subscription still
// in flight queues cb. At most one platform call is made per (localUser,
// target) until UnsubscribePresence.
func (c *Cache) SubscribePresence(localUser int, target identity.Identity, cb func(PresenceRecord, error)) error {
	local, err := c.locals.Identity(localUser)
	if err != nil {
		return err
	}
	if !target.IsValid() {
		return identity.ErrInvalidIdentity
	}
	if cb == nil {
		cb = func(PresenceRecord, error) {}
	}
	key := subKey{localUser: localUser, target: target.Key()}

	c.presenceMu.Lock()
	if sub, ok := c.subs[key]; ok {
		if sub.active {
			rec := c.presence[target.Key()]
			c.presenceMu.Unlock()
			cb(rec, nil)
			return nil
		}
		sub.waiters = append(sub.waiters, cb)
		c.presenceMu.Unlock()
		return nil
	}
	sub := &subscription{localUser: localUser, local: local, target: target, waiters: []func(PresenceRecord, error){cb}}
	c.subs[key] = sub
	c.presenceMu.Unlock()

	c.platform.SubscribePresence(local, target, func(p backend.Presence, err error) {
		c.completeSubscription(sub, p, err)
	})
	return nil
}

// completeSubscription settles sub. The key is read under the lock because
// ReplaceIdentity may have moved sub since the platform call.
func (c *Cache) completeSubscription(sub *subscription, p backend.Presence, err error) {
	var rec PresenceRecord
	c.presenceMu.Lock()
	key := subKey{localUser: sub.localUser, target: sub.target.Key()}
	holder, held := c.subs[key]
	current := held && holder == sub
	// A newer subscription for the same pair relies on the platform-side
	// subscription, so a stale one must not cancel it.
	superseded := held && holder != sub
	waiters := sub.waiters
	sub.waiters = nil
	switch {
	case err != nil:
		if current {
			delete(c.subs, key)
		}
	case current:
		sub.active = true
		rec = newPresenceRecord(sub.target, p, c.appID)
		c.presence[key.target] = rec
	default:
		rec = newPresenceRecord(sub.target, p, c.appID)
	}
	c.presenceMu.Unlock()

	switch {
	case err != nil:
		c.logger.Debug("presence subscription failed", zap.String("identity", sub.target.String()), zap.Error(err))
	case !current && !superseded:
		// unsubscribed while in flight
		c.platform.UnsubscribePresence(sub.local, sub.target)
	case current:
		c.publishPresence([]int{sub.localUser}, rec)
	}

	for _, w := range waiters {
		w(rec, err)
	}
}

// UnsubscribePresence drops localUser's subscription to target. It is a
// no-op when none exists.
func (c *Cache) UnsubscribePresence(localUser int, target identity.Identity) {
	key := subKey{localUser: localUser, target: target.Key()}
	c.presenceMu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.presenceMu.Unlock()

	if ok && sub.active {
		c.platform.UnsubscribePresence(sub.local, sub.target)
	}
}

// Subscribed reports whether localUser has an active or in-flight
// subscription to target.
func (c *Cache) Subscribed(localUser int, target identity.Identity) bool {
	c.presenceMu.Lock()
	defer c.presenceMu.Unlock()
	_, ok := c.subs[subKey{localUser: localUser, target: target.Key()}]
	return ok
}

// CachedPresence returns the last presence seen for target.
func (c *Cache) CachedPresence(target identity.Identity) (PresenceRecord, bool) {
	c.presenceMu.Lock()
	defer c.presenceMu.Unlock()
	rec, ok := c.presence[target.Key()]
	return rec, ok
}

// ApplyPresence replaces target's presence wholesale and notifies every
// local user subscribed to it.
func (c *Cache) ApplyPresence(target identity.Identity, p backend.Presence) {
	if !target.IsValid() {
		return
	}
	rec := newPresenceRecord(target, p, c.appID)

	c.presenceMu.Lock()
	c.presence[target.Key()] = rec
	var users []int
	for k, sub := range c.subs {
		if k.target == target.Key() && sub.active {
			users = append(users, k.localUser)
		}
	}
	c.presenceMu.Unlock()

	c.publishPresence(users, rec)
}

func (c *Cache) publishPresence(users []int, rec PresenceRecord) {
	for _, u := range users {
		c.bus.Emit(bus.KindPresenceChanged, PresenceChanged{LocalUser: u, Presence: rec})
		if c.IsFriend(u, rec.Target) {
			c.bus.Emit(bus.KindFriendsChanged, FriendsChanged{LocalUser: u, Records: []FriendRecord{c.friendRecord(u, rec)}})
		}
	}
}

func (c *Cache) friendRecord(localUser int, rec PresenceRecord) FriendRecord {
	c.friendsMu.RLock()
	defer c.friendsMu.RUnlock()
	out := FriendRecord{Target: rec.Target}
	if list := c.friends[localUser]; list != nil {
		if fr := list.byKey[rec.Target.Key()]; fr != nil {
			out = *fr
		}
	}
	out.Presence = rec
	out.HasPresence = true
	return out
}

// SetOwnPresence publishes localUser's presence to the platform and caches
// it once accepted.
func (c *Cache) SetOwnPresence(localUser int, p backend.Presence, cb func(error)) error {
	local, err := c.locals.Identity(localUser)
	if err != nil {
		return err
	}
	if p.AppID == "" {
		p.AppID = c.appID
	}
	p = p.Clone()
	c.platform.SetPresence(local, p, func(err error) {
		if err == nil {
			rec := newPresenceRecord(local, p, c.appID)
			c.presenceMu.Lock()
			c.presence[local.Key()] = rec
			c.presenceMu.Unlock()
			c.bus.Emit(bus.KindPresenceChanged, PresenceChanged{LocalUser: localUser, Presence: rec})
		}
		if cb != nil {
			cb(err)
		}
	})
	return nil
}

// SendInvite asks target to become localUser's friend.
func (c *Cache) SendInvite(localUser int, target identity.Identity, cb func(error)) error {
	return c.relationshipCall(localUser, target, c.platform.SendInvite, backend.InviteSent, cb)
}

// AcceptInvite accepts a pending invite from target.
func (c *Cache) AcceptInvite(localUser int, target identity.Identity, cb func(error)) error {
	return c.relationshipCall(localUser, target, c.platform.AcceptInvite, backend.Friends, cb)
}

// RejectInvite declines a pending invite from target.
func (c *Cache) RejectInvite(localUser int, target identity.Identity, cb func(error)) error {
	return c.relationshipCall(localUser, target, c.platform.RejectInvite, backend.NotFriends, cb)
}

func (c *Cache) relationshipCall(localUser int, target identity.Identity, call func(local, target identity.Identity, cb func(error)), result backend.Relationship, cb func(error)) error {
	local, err := c.locals.Identity(localUser)
	if err != nil {
		return err
	}
	if !target.IsValid() {
		return identity.ErrInvalidIdentity
	}
	call(local, target, func(err error) {
		if err == nil {
			c.setRelationship(localUser, local, target, result)
		}
		if cb != nil {
			cb(err)
		}
	})
	return nil
}

// ApplyFriendship records a relationship change pushed by the platform.
func (c *Cache) ApplyFriendship(local, target identity.Identity, status backend.Relationship) {
	localUser, ok := c.locals.LocalUserOf(local)
	if !ok {
		c.logger.Debug("friendship change for unknown local identity", zap.String("identity", local.String()))
		return
	}
	c.setRelationship(localUser, local, target, status)
	if status == backend.Friends {
		_, _ = c.resolver.Query(context.Background(), localUser, local, []identity.Identity{target},
			func(t identity.Identity, p backend.Profile, err error) {
				if err == nil {
					c.applyProfile(localUser, local, t, p)
				}
			}, nil)
	}
}

// setRelationship updates one entry of an already-queried list. Lists that
// were never refreshed stay unqueried.
func (c *Cache) setRelationship(localUser int, local, target identity.Identity, status backend.Relationship) {
	c.friendsMu.Lock()
	list := c.friends[localUser]
	if list == nil {
		c.friendsMu.Unlock()
		c.bus.Emit(bus.KindFriendshipChanged, FriendshipChanged{LocalUser: localUser, Target: target, Status: status})
		return
	}
	var changed []FriendRecord
	if status == backend.NotFriends {
		list.remove(target.Key())
	} else {
		rec := list.byKey[target.Key()]
		if rec == nil {
			rec = &FriendRecord{Target: target}
			list.put(rec)
		}
		rec.Relationship = status
		changed = append(changed, *rec)
	}
	c.friendsMu.Unlock()

	c.bus.Emit(bus.KindFriendshipChanged, FriendshipChanged{LocalUser: localUser, Target: target, Status: status})
	c.bus.Emit(bus.KindFriendsChanged, FriendsChanged{LocalUser: localUser, Local: local, Records: changed})
}

// ReplaceIdentity re-keys every entry held under old to upgraded, after the
// platform reports that an identity gained a component.
func (c *Cache) ReplaceIdentity(old, upgraded identity.Identity) {
	if !old.IsValid() || !upgraded.IsValid() || old.Equal(upgraded) {
		return
	}
	oldKey, newKey := old.Key(), upgraded.Key()

	c.friendsMu.Lock()
	for _, list := range c.friends {
		rec, ok := list.byKey[oldKey]
		if !ok {
			continue
		}
		if existing, dup := list.byKey[newKey]; dup {
			// Both halves were listed separately; keep one entry.
			existing.merge(rec)
			list.remove(oldKey)
			continue
		}
		for i, k := range list.order {
			if k == oldKey {
				list.order[i] = newKey
			}
		}
		delete(list.byKey, oldKey)
		rec.Target = upgraded
		list.byKey[newKey] = rec
	}
	c.friendsMu.Unlock()

	c.presenceMu.Lock()
	if rec, ok := c.presence[oldKey]; ok {
		delete(c.presence, oldKey)
		rec.Target = upgraded
		c.presence[newKey] = rec
	}
	var dropped []identity.Identity
	for k, sub := range c.subs {
		if k.target != oldKey {
			continue
		}
		delete(c.subs, k)
		nk := subKey{localUser: k.localUser, target: newKey}
		if _, dup := c.subs[nk]; dup {
			if sub.active {
				dropped = append(dropped, sub.local)
			}
			sub.target = upgraded
			continue
		}
		sub.target = upgraded
		c.subs[nk] = sub
	}
	for _, sub := range c.subs {
		if sub.local.Equal(old) {
			sub.local = upgraded
		}
	}
	c.presenceMu.Unlock()

	for _, local := range dropped {
		c.platform.UnsubscribePresence(local, old)
	}

	c.resolver.Rekey(old, upgraded)
	c.logger.Info("identity upgraded", zap.String("old", old.String()), zap.String("new", upgraded.String()))
	c.bus.Emit(bus.KindIdentityUpgraded, IdentityUpgraded{Old: old, New: upgraded})
}

// Forget drops localUser's friend list and subscriptions, as after logout.
func (c *Cache) Forget(localUser int) {
	c.friendsMu.Lock()
	delete(c.friends, localUser)
	c.friendsMu.Unlock()

	var cancel []*subscription
	c.presenceMu.Lock()
	for k, sub := range c.subs {
		if k.localUser == localUser {
			delete(c.subs, k)
			if sub.active {
				cancel = append(cancel, sub)
			}
		}
	}
	c.presenceMu.Unlock()

	for _, sub := range cancel {
		c.platform.UnsubscribePresence(sub.local, sub.target)
	}
}

// PresenceChanged implements backend.Notifier.
func (c *Cache) PresenceChanged(target identity.Identity, p backend.Presence) {
	c.ApplyPresence(target, p)
}

// FriendshipChanged implements backend.Notifier.
func (c *Cache) FriendshipChanged(local, target identity.Identity, status backend.Relationship) {
	c.ApplyFriendship(local, target, status)
}

type identityReplacer interface {
	ReplaceIdentity(old, upgraded identity.Identity) bool
}

// IdentityUpgraded implements backend.Notifier. Local users holding old are
// swapped first when the locals source supports it.
func (c *Cache) IdentityUpgraded(old, upgraded identity.Identity) {
	if r, ok := c.locals.(identityReplacer); ok {
		r.ReplaceIdentity(old, upgraded)
	}
	c.ReplaceIdentity(old, upgraded)
}

var _ backend.Notifier = (*Cache)(nil)
