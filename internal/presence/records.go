package presence

import (
	"time"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/identity"
)

// Attribute is one display attribute of a friend. Until resolved it is a
// placeholder with an empty Value.
type Attribute struct {
	Value    string
	Resolved bool
}

// set records a resolved value. An empty value never erases an earlier one.
func (a *Attribute) set(v string) {
	if v != "" {
		a.Value = v
	}
	a.Resolved = true
}

// PresenceRecord is the cached presence of one identity.
type PresenceRecord struct {
	Target         identity.Identity
	State          backend.PresenceState
	Status         string
	AppID          string
	SessionID      string
	Properties     map[string]string
	PlayingThisApp bool
	Joinable       bool
	UpdatedAt      time.Time
}

func newPresenceRecord(target identity.Identity, p backend.Presence, appID string) PresenceRecord {
	p = p.Clone()
	playing := p.AppID != "" && p.AppID == appID
	return PresenceRecord{
		Target:         target,
		State:          p.State,
		Status:         p.Status,
		AppID:          p.AppID,
		SessionID:      p.SessionID,
		Properties:     p.Properties,
		PlayingThisApp: playing,
		Joinable:       playing && p.Joinable && p.SessionID != "",
		UpdatedAt:      time.Now(),
	}
}

// FriendRecord is one entry of a local user's cached friend list.
type FriendRecord struct {
	Target       identity.Identity
	Relationship backend.Relationship
	DisplayName  Attribute
	RealName     Attribute
	Alias        Attribute
	Presence     PresenceRecord
	HasPresence  bool
}

// Resolved reports whether any display attribute has been resolved.
func (r FriendRecord) Resolved() bool {
	return r.DisplayName.Resolved || r.RealName.Resolved || r.Alias.Resolved
}

// merge fills what r lacks from other, an entry for the same person under
// an older identity.
func (r *FriendRecord) merge(other *FriendRecord) {
	for _, pair := range [][2]*Attribute{
		{&r.DisplayName, &other.DisplayName},
		{&r.RealName, &other.RealName},
		{&r.Alias, &other.Alias},
	} {
		if !pair[0].Resolved && pair[1].Resolved {
			*pair[0] = *pair[1]
		}
	}
	if !r.HasPresence && other.HasPresence {
		r.Presence = other.Presence
		r.Presence.Target = r.Target
		r.HasPresence = true
	}
}

type friendList struct {
	order []identity.Key
	byKey map[identity.Key]*FriendRecord
}

func newFriendList() *friendList {
	return &friendList{byKey: make(map[identity.Key]*FriendRecord)}
}

func (l *friendList) put(rec *FriendRecord) {
	k := rec.Target.Key()
	if _, ok := l.byKey[k]; !ok {
		l.order = append(l.order, k)
	}
	l.byKey[k] = rec
}

func (l *friendList) remove(k identity.Key) bool {
	if _, ok := l.byKey[k]; !ok {
		return false
	}
	delete(l.byKey, k)
	for i, o := range l.order {
		if o == k {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

func (l *friendList) snapshot() []FriendRecord {
	out := make([]FriendRecord, 0, len(l.order))
	for _, k := range l.order {
		out = append(out, *l.byKey[k])
	}
	return out
}

// FriendsChanged is the payload of friends.changed events. Records holds the
// changed entries, or the whole list after a refresh.
type FriendsChanged struct {
	LocalUser int
	Local     identity.Identity
	Full      bool
	Records   []FriendRecord
}

// FriendshipChanged is the payload of friends.relationship_changed events.
type FriendshipChanged struct {
	LocalUser int
	Target    identity.Identity
	Status    backend.Relationship
}

// PresenceChanged is the payload of presence.changed events.
type PresenceChanged struct {
	LocalUser int
	Presence  PresenceRecord
}

// IdentityUpgraded is the payload of identity.upgraded events.
type IdentityUpgraded struct {
	Old identity.Identity
	New identity.Identity
}
