package bus

import "time"

// Event kinds. Subscribers filter on the namespace prefix before the dot.
const (
	KindAccountStatus      = "account.status_changed"
	KindFriendsChanged     = "friends.changed"
	KindFriendshipChanged  = "friends.relationship_changed"
	KindPresenceChanged    = "presence.changed"
	KindProfileResolved    = "profile.resolved"
	KindIdentityUpgraded   = "identity.upgraded"
	KindSessionState       = "session.state_changed"
	KindSessionPlayers     = "session.players_changed"
	KindAuthQR             = "auth.qr"
	KindPlatformConnection = "platform.connection"
	KindDirectorySynced    = "directory.synced"
)

// Event is a domain event. Seq is assigned by Publish and increases by one
// per published event, so a subscriber can detect what it missed.
type Event struct {
	Seq       uint64
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
