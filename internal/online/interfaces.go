// Package online exposes the identity, friends, presence, user and session
// capabilities as narrow interfaces. Each asynchronous operation returns
// false when the request could not be attempted, in which case its callback
// never runs; otherwise the callback runs exactly once, possibly on another
// goroutine.
package online

import (
	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/presence"
	"github.com/matheus3301/netid/internal/session"
	"github.com/matheus3301/netid/internal/status"
)

// Completion reports the outcome of an asynchronous request.
type Completion func(ok bool, errMsg string)

type IdentityInterface interface {
	Login(localUser int, creds backend.Credentials, cb func(ok bool, id identity.Identity, errMsg string)) bool
	Logout(localUser int, cb Completion) bool
	GetUniqueID(localUser int) identity.Identity
	GetLoginStatus(localUser int) status.State
}

type FriendsInterface interface {
	GetFriends(localUser int) ([]presence.FriendRecord, bool)
	RefreshFriends(localUser int, cb Completion) bool
	IsFriend(localUser int, target identity.Identity) bool
	SendInvite(localUser int, target identity.Identity, cb Completion) bool
	AcceptInvite(localUser int, target identity.Identity, cb Completion) bool
	RejectInvite(localUser int, target identity.Identity, cb Completion) bool
}

type PresenceInterface interface {
	SetPresence(localUser int, p backend.Presence, cb Completion) bool
	QueryPresence(localUser int, target identity.Identity, cb func(ok bool, p presence.PresenceRecord, errMsg string)) bool
	GetCachedPresence(target identity.Identity) (presence.PresenceRecord, bool)
	UnsubscribePresence(localUser int, target identity.Identity)
}

type UserInterface interface {
	QueryUserInfo(localUser int, targets []identity.Identity, cb func(ok bool, targets []identity.Identity, errMsg string)) bool
	GetUserInfo(target identity.Identity) (backend.Profile, bool)
}

type SessionInterface interface {
	CreateSession(localUser int, name string, settings backend.SessionSettings, cb Completion) bool
	StartSession(name string, cb Completion) bool
	UpdateSession(name string, settings backend.SessionSettings, refreshRemote bool, cb Completion) bool
	EndSession(name string, cb Completion) bool
	DestroySession(name string, cb Completion) bool
	FindSessions(localUser int, criteria backend.SearchCriteria, cb func(ok bool, results []backend.SessionDescriptor, errMsg string)) bool
	RegisterPlayer(name string, player identity.Identity, cb Completion) bool
	UnregisterPlayer(name string, player identity.Identity, cb Completion) bool
	GetSessionState(name string) (session.State, bool)
}
