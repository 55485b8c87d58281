// Package backend defines the asynchronous primitives consumed from the
// remote platform. Every Platform call returns immediately and invokes its
// callback exactly once, possibly on another goroutine and in any order
// relative to other calls.
package backend

import (
	"github.com/matheus3301/netid/internal/identity"
)

// CredentialKind selects the login flow.
type CredentialKind string

const (
	CredentialPassword  CredentialKind = "password"
	CredentialQR        CredentialKind = "qr"
	CredentialPersisted CredentialKind = "persisted"
)

// Credentials are handed verbatim to the platform's login.
type Credentials struct {
	Kind    CredentialKind
	Account string
	Secret  string
}

// Profile holds display attributes. Empty fields were not provided.
type Profile struct {
	DisplayName string
	RealName    string
	Alias       string
}

// Relationship is the friendship status between the local user and a target.
type Relationship int

const (
	NotFriends Relationship = iota
	InviteSent
	InviteReceived
	Friends
)

func (r Relationship) String() string {
	switch r {
	case InviteSent:
		return "invite_sent"
	case InviteReceived:
		return "invite_received"
	case Friends:
		return "friends"
	default:
		return "not_friends"
	}
}

// ParseRelationship is the inverse of Relationship.String.
func ParseRelationship(s string) Relationship {
	switch s {
	case "invite_sent":
		return InviteSent
	case "invite_received":
		return InviteReceived
	case "friends":
		return Friends
	default:
		return NotFriends
	}
}

// Friendship is one entry of the remote friend list.
type Friendship struct {
	Target identity.Identity
	Status Relationship
}

// PresenceState is the coarse availability of a user.
type PresenceState int

const (
	Offline PresenceState = iota
	Online
	Away
	Busy
)

func (s PresenceState) String() string {
	switch s {
	case Online:
		return "online"
	case Away:
		return "away"
	case Busy:
		return "busy"
	default:
		return "offline"
	}
}

// ParsePresenceState is the inverse of PresenceState.String.
func ParsePresenceState(s string) PresenceState {
	switch s {
	case "online":
		return Online
	case "away":
		return Away
	case "busy":
		return Busy
	default:
		return Offline
	}
}

// Presence is the platform's presence payload.
type Presence struct {
	State      PresenceState
	Status     string
	AppID      string
	SessionID  string
	Joinable   bool
	Properties map[string]string
}

// Clone returns a deep copy.
func (p Presence) Clone() Presence {
	if p.Properties != nil {
		props := make(map[string]string, len(p.Properties))
		for k, v := range p.Properties {
			props[k] = v
		}
		p.Properties = props
	}
	return p
}

// SessionSettings configures a remote session.
type SessionSettings struct {
	PublicConnections   int
	PrivateConnections  int
	ShouldAdvertise     bool
	AllowJoinInProgress bool
	UsesPresence        bool
	Attributes          map[string]string
}

// Clone returns a deep copy.
func (s SessionSettings) Clone() SessionSettings {
	if s.Attributes != nil {
		attrs := make(map[string]string, len(s.Attributes))
		for k, v := range s.Attributes {
			attrs[k] = v
		}
		s.Attributes = attrs
	}
	return s
}

// SessionInfo is what the platform returns after creating a session.
type SessionInfo struct {
	RemoteID string
}

// SessionDescriptor is one search hit.
type SessionDescriptor struct {
	RemoteID  string
	Name      string
	Owner     identity.Identity
	Settings  SessionSettings
	OpenSlots int
}

// SearchCriteria filters FindSessions. Attributes must all match; an empty
// NamePrefix matches everything.
type SearchCriteria struct {
	NamePrefix string
	Attributes map[string]string
	MaxResults int
}

// Notifier receives push notifications from the platform.
type Notifier interface {
	PresenceChanged(target identity.Identity, p Presence)
	FriendshipChanged(local, target identity.Identity, status Relationship)
	IdentityUpgraded(old, upgraded identity.Identity)
}

// Platform is the callback-driven remote SDK.
type Platform interface {
	SetNotifier(n Notifier)

	Login(creds Credentials, cb func(identity.Identity, error))
	Logout(local identity.Identity, cb func(error))

	LookupProfile(local, target identity.Identity, cb func(Profile, error))
	ListFriendships(local identity.Identity, cb func([]Friendship, error))
	SendInvite(local, target identity.Identity, cb func(error))
	AcceptInvite(local, target identity.Identity, cb func(error))
	RejectInvite(local, target identity.Identity, cb func(error))

	SubscribePresence(local, target identity.Identity, cb func(Presence, error))
	UnsubscribePresence(local, target identity.Identity)
	SetPresence(local identity.Identity, p Presence, cb func(error))

	CreateSession(local identity.Identity, name string, settings SessionSettings, cb func(SessionInfo, error))
	StartSession(remoteID string, cb func(error))
	UpdateSession(remoteID string, settings SessionSettings, cb func(error))
	EndSession(remoteID string, cb func(error))
	DestroySession(remoteID string, cb func(error))
	FindSessions(local identity.Identity, criteria SearchCriteria, cb func([]SessionDescriptor, error))
	RegisterPlayers(remoteID string, players []identity.Identity, cb func(error))
	UnregisterPlayers(remoteID string, players []identity.Identity, cb func(error))
}
