package wa

import (
	"context"
	"sort"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
)

var _ backend.Platform = (*Adapter)(nil)

func notSupported(what string) error {
	return errs.Rejected(400, "%s: %v", what, errs.ErrNotSupported)
}

// SetNotifier implements backend.Platform.
func (a *Adapter) SetNotifier(n backend.Notifier) {
	a.mu.Lock()
	a.notifier = n
	a.mu.Unlock()
}

// Login implements backend.Platform. Persisted credentials reuse the stored
// device; QR pairs a new device and publishes the codes on the bus.
func (a *Adapter) Login(creds backend.Credentials, cb func(identity.Identity, error)) {
	switch creds.Kind {
	case backend.CredentialPersisted:
		a.run("login", func(context.Context) {
			cb(a.loginStored())
		})
	case backend.CredentialQR:
		if a.IsLoggedIn() {
			a.run("login", func(context.Context) {
				cb(a.loginStored())
			})
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), QRLoginTimeout)
			defer cancel()
			cb(a.loginQR(ctx))
		}()
	default:
		go cb(identity.Invalid, notSupported("credential kind "+string(creds.Kind)))
	}
}

func (a *Adapter) loginStored() (identity.Identity, error) {
	if !a.IsLoggedIn() {
		return identity.Invalid, errs.Rejected(401, "no stored device credentials")
	}
	if !a.client.IsConnected() {
		if err := a.Connect(); err != nil {
			return identity.Invalid, errs.Rejected(503, "connect: %v", err)
		}
	}
	id, err := a.SelfIdentity()
	if err != nil {
		return identity.Invalid, errs.Rejected(500, "%v", err)
	}
	a.setSelf(id)
	return id, nil
}

// Logout implements backend.Platform. It unlinks the device.
func (a *Adapter) Logout(local identity.Identity, cb func(error)) {
	a.run("logout", func(ctx context.Context) {
		if err := a.client.Logout(ctx); err != nil {
			cb(errs.Rejected(500, "logout: %v", err))
			return
		}
		a.setSelf(identity.Invalid)
		cb(nil)
	})
}

// LookupProfile implements backend.Platform from the device contact store.
func (a *Adapter) LookupProfile(local, target identity.Identity, cb func(backend.Profile, error)) {
	a.run("lookup_profile", func(ctx context.Context) {
		for _, jid := range []types.JID{PNOf(target), LIDOf(target)} {
			if jid.IsEmpty() {
				continue
			}
			info, err := a.client.Store.Contacts.GetContact(ctx, jid)
			if err != nil {
				cb(backend.Profile{}, errs.Rejected(500, "get contact: %v", err))
				return
			}
			if info.Found {
				cb(ProfileFromContact(info), nil)
				return
			}
		}
		cb(backend.Profile{}, errs.Rejected(404, "unknown user %s", target))
	})
}

// ListFriendships implements backend.Platform. Every device-store contact
// is a friend.
func (a *Adapter) ListFriendships(local identity.Identity, cb func([]backend.Friendship, error)) {
	a.run("list_friendships", func(ctx context.Context) {
		contacts, err := a.client.Store.Contacts.GetAllContacts(ctx)
		if err != nil {
			cb(nil, errs.Rejected(500, "get contacts: %v", err))
			return
		}
		seen := make(map[identity.Key]bool)
		var out []backend.Friendship
		for jid := range contacts {
			id, err := a.dir.resolve(ctx, jid)
			if err != nil || id.Equal(local) || seen[id.Key()] {
				continue
			}
			seen[id.Key()] = true
			out = append(out, backend.Friendship{Target: id, Status: backend.Friends})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Target.String() < out[j].Target.String() })
		cb(out, nil)
	})
}

// SendInvite implements backend.Platform. Contacts are managed on the phone.
func (a *Adapter) SendInvite(local, target identity.Identity, cb func(error)) {
	go cb(notSupported("send invite"))
}

// AcceptInvite implements backend.Platform.
func (a *Adapter) AcceptInvite(local, target identity.Identity, cb func(error)) {
	go cb(notSupported("accept invite"))
}

// RejectInvite implements backend.Platform.
func (a *Adapter) RejectInvite(local, target identity.Identity, cb func(error)) {
	go cb(notSupported("reject invite"))
}

// SubscribePresence implements backend.Platform. The initial value is the
// last presence seen, or offline.
func (a *Adapter) SubscribePresence(local, target identity.Identity, cb func(backend.Presence, error)) {
	jid := JIDOf(target)
	a.run("subscribe_presence", func(ctx context.Context) {
		if err := a.client.SubscribePresence(ctx, jid); err != nil {
			cb(backend.Presence{}, errs.Rejected(500, "subscribe presence: %v", err))
			return
		}
		a.mu.Lock()
		a.watched[jid]++
		a.mu.Unlock()
		cb(a.lastPresence(jid), nil)
	})
}

// UnsubscribePresence implements backend.Platform. WhatsApp has no
// unsubscribe; updates for unwatched JIDs are dropped instead.
func (a *Adapter) UnsubscribePresence(local, target identity.Identity) {
	jid := JIDOf(target)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.watched[jid] <= 1 {
		delete(a.watched, jid)
		return
	}
	a.watched[jid]--
}

// SetPresence implements backend.Platform. Offline maps to unavailable,
// every other state to available; Status becomes the profile status text.
func (a *Adapter) SetPresence(local identity.Identity, p backend.Presence, cb func(error)) {
	a.run("set_presence", func(ctx context.Context) {
		state := types.PresenceAvailable
		if p.State == backend.Offline {
			state = types.PresenceUnavailable
		}
		if err := a.client.SendPresence(ctx, state); err != nil {
			cb(errs.Rejected(500, "send presence: %v", err))
			return
		}
		if p.Status != "" {
			if err := a.client.SetStatusMessage(ctx, p.Status); err != nil {
				cb(errs.Rejected(500, "set status: %v", err))
				return
			}
		}
		cb(nil)
	})
}

// CreateSession implements backend.Platform as an announce-only group whose
// topic carries the settings.
func (a *Adapter) CreateSession(local identity.Identity, name string, settings backend.SessionSettings, cb func(backend.SessionInfo, error)) {
	a.run("create_session", func(ctx context.Context) {
		info, err := a.client.CreateGroup(ctx, whatsmeow.ReqCreateGroup{Name: name})
		if err != nil {
			cb(backend.SessionInfo{}, errs.Rejected(500, "create group: %v", err))
			return
		}
		if err := a.client.SetGroupAnnounce(ctx, info.JID, true); err != nil {
			a.logger.Warn("set announce on new session", zap.String("group", info.JID.String()), zap.Error(err))
		}
		if err := a.client.SetGroupTopic(ctx, info.JID, "", "", EncodeTopic(settings)); err != nil {
			_ = a.client.LeaveGroup(ctx, info.JID)
			cb(backend.SessionInfo{}, errs.Rejected(500, "set topic: %v", err))
			return
		}
		cb(backend.SessionInfo{RemoteID: info.JID.String()}, nil)
	})
}

func (a *Adapter) withGroup(op, remoteID string, cb func(error), fn func(ctx context.Context, jid types.JID) error) {
	jid, err := types.ParseJID(remoteID)
	if err != nil || jid.Server != types.GroupServer {
		go cb(errs.Rejected(404, "unknown session %q", remoteID))
		return
	}
	a.run(op, func(ctx context.Context) {
		if err := fn(ctx, jid); err != nil {
			cb(errs.Rejected(500, "%s: %v", op, err))
			return
		}
		cb(nil)
	})
}

// StartSession implements backend.Platform by lifting announce-only mode.
func (a *Adapter) StartSession(remoteID string, cb func(error)) {
	a.withGroup("start_session", remoteID, cb, func(ctx context.Context, jid types.JID) error {
		return a.client.SetGroupAnnounce(ctx, jid, false)
	})
}

// UpdateSession implements backend.Platform by rewriting the topic.
func (a *Adapter) UpdateSession(remoteID string, settings backend.SessionSettings, cb func(error)) {
	a.withGroup("update_session", remoteID, cb, func(ctx context.Context, jid types.JID) error {
		return a.client.SetGroupTopic(ctx, jid, "", "", EncodeTopic(settings))
	})
}

// EndSession implements backend.Platform by restoring announce-only mode.
func (a *Adapter) EndSession(remoteID string, cb func(error)) {
	a.withGroup("end_session", remoteID, cb, func(ctx context.Context, jid types.JID) error {
		return a.client.SetGroupAnnounce(ctx, jid, true)
	})
}

// DestroySession implements backend.Platform by leaving the group.
func (a *Adapter) DestroySession(remoteID string, cb func(error)) {
	a.withGroup("destroy_session", remoteID, cb, func(ctx context.Context, jid types.JID) error {
		return a.client.LeaveGroup(ctx, jid)
	})
}

// FindSessions implements backend.Platform over the joined groups.
func (a *Adapter) FindSessions(local identity.Identity, criteria backend.SearchCriteria, cb func([]backend.SessionDescriptor, error)) {
	a.run("find_sessions", func(ctx context.Context) {
		groups, err := a.client.GetJoinedGroups(ctx)
		if err != nil {
			cb(nil, errs.Rejected(500, "get joined groups: %v", err))
			return
		}
		cb(FilterSessions(groups, criteria), nil)
	})
}

// RegisterPlayers implements backend.Platform by adding participants.
func (a *Adapter) RegisterPlayers(remoteID string, players []identity.Identity, cb func(error)) {
	a.changeParticipants("register_players", remoteID, players, whatsmeow.ParticipantChangeAdd, cb)
}

// UnregisterPlayers implements backend.Platform by removing participants.
func (a *Adapter) UnregisterPlayers(remoteID string, players []identity.Identity, cb func(error)) {
	a.changeParticipants("unregister_players", remoteID, players, whatsmeow.ParticipantChangeRemove, cb)
}

func (a *Adapter) changeParticipants(op, remoteID string, players []identity.Identity, action whatsmeow.ParticipantChange, cb func(error)) {
	jids := make([]types.JID, 0, len(players))
	for _, p := range players {
		jids = append(jids, JIDOf(p))
	}
	a.withGroup(op, remoteID, cb, func(ctx context.Context, jid types.JID) error {
		_, err := a.client.UpdateGroupParticipants(ctx, jid, jids, action)
		return err
	})
}
