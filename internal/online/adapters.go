package online

import (
	"context"

	"go.uber.org/zap"

	"github.com/matheus3301/netid/internal/account"
	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/logging"
	"github.com/matheus3301/netid/internal/presence"
	"github.com/matheus3301/netid/internal/query"
	"github.com/matheus3301/netid/internal/session"
	"github.com/matheus3301/netid/internal/status"
	"github.com/matheus3301/netid/internal/userinfo"
)

// Subsystem bundles one adapter per capability over a shared Core.
type Subsystem struct {
	Core     *Core
	Identity IdentityInterface
	Friends  FriendsInterface
	Presence PresenceInterface
	User     UserInterface
	Session  SessionInterface
}

// New wires the adapters.
func New(accounts *account.Registry, cache *presence.Cache, resolver *userinfo.Resolver, sessions *session.Manager, logger *zap.Logger) *Subsystem {
	core := &Core{accounts: accounts, cache: cache, resolver: resolver, sessions: sessions}
	b := base{core: core, logger: logging.OrNop(logger)}
	return &Subsystem{
		Core:     core,
		Identity: &identityAdapter{b},
		Friends:  &friendsAdapter{b},
		Presence: &presenceAdapter{b},
		User:     &userAdapter{b},
		Session:  &sessionAdapter{b},
	}
}

type base struct {
	core   *Core
	logger *zap.Logger
}

// accepted logs a request that could not be attempted and reports whether
// err is nil.
func (b base) accepted(op string, err error) bool {
	if err != nil {
		b.logger.Debug("request not accepted", zap.String("op", op), zap.Error(err))
		return false
	}
	return true
}

func toErr(cb Completion) func(error) {
	return func(err error) {
		if cb != nil {
			cb(err == nil, errs.Message(err))
		}
	}
}

type identityAdapter struct{ base }

func (a *identityAdapter) Login(localUser int, creds backend.Credentials, cb func(bool, identity.Identity, string)) bool {
	err := a.core.Login(localUser, creds, func(id identity.Identity, err error) {
		if cb != nil {
			cb(err == nil, id, errs.Message(err))
		}
	})
	return a.accepted("login", err)
}

func (a *identityAdapter) Logout(localUser int, cb Completion) bool {
	return a.accepted("logout", a.core.Logout(localUser, toErr(cb)))
}

func (a *identityAdapter) GetUniqueID(localUser int) identity.Identity {
	id, err := a.core.Identity(localUser)
	if err != nil {
		return identity.Invalid
	}
	return id
}

func (a *identityAdapter) GetLoginStatus(localUser int) status.State {
	return a.core.LoginStatus(localUser)
}

type friendsAdapter struct{ base }

func (a *friendsAdapter) GetFriends(localUser int) ([]presence.FriendRecord, bool) {
	return a.core.Friends(localUser)
}

func (a *friendsAdapter) RefreshFriends(localUser int, cb Completion) bool {
	return a.accepted("refresh_friends", a.core.RefreshFriends(context.Background(), localUser, toErr(cb)))
}

func (a *friendsAdapter) IsFriend(localUser int, target identity.Identity) bool {
	return a.core.IsFriend(localUser, target)
}

func (a *friendsAdapter) SendInvite(localUser int, target identity.Identity, cb Completion) bool {
	return a.accepted("send_invite", a.core.SendInvite(localUser, target, toErr(cb)))
}

func (a *friendsAdapter) AcceptInvite(localUser int, target identity.Identity, cb Completion) bool {
	return a.accepted("accept_invite", a.core.AcceptInvite(localUser, target, toErr(cb)))
}

func (a *friendsAdapter) RejectInvite(localUser int, target identity.Identity, cb Completion) bool {
	return a.accepted("reject_invite", a.core.RejectInvite(localUser, target, toErr(cb)))
}

type presenceAdapter struct{ base }

func (a *presenceAdapter) SetPresence(localUser int, p backend.Presence, cb Completion) bool {
	return a.accepted("set_presence", a.core.SetPresence(localUser, p, toErr(cb)))
}

func (a *presenceAdapter) QueryPresence(localUser int, target identity.Identity, cb func(bool, presence.PresenceRecord, string)) bool {
	err := a.core.QueryPresence(localUser, target, func(rec presence.PresenceRecord, err error) {
		if cb != nil {
			cb(err == nil, rec, errs.Message(err))
		}
	})
	return a.accepted("query_presence", err)
}

func (a *presenceAdapter) GetCachedPresence(target identity.Identity) (presence.PresenceRecord, bool) {
	return a.core.CachedPresence(target)
}

func (a *presenceAdapter) UnsubscribePresence(localUser int, target identity.Identity) {
	a.core.UnsubscribePresence(localUser, target)
}

type userAdapter struct{ base }

func (a *userAdapter) QueryUserInfo(localUser int, targets []identity.Identity, cb func(bool, []identity.Identity, string)) bool {
	_, err := a.core.QueryUserInfo(context.Background(), localUser, targets, func(res query.Result) {
		if cb != nil {
			cb(res.Success, res.Targets, res.Message)
		}
	})
	return a.accepted("query_user_info", err)
}

func (a *userAdapter) GetUserInfo(target identity.Identity) (backend.Profile, bool) {
	return a.core.UserInfo(target)
}

type sessionAdapter struct{ base }

func (a *sessionAdapter) CreateSession(localUser int, name string, settings backend.SessionSettings, cb Completion) bool {
	return a.accepted("create_session", a.core.CreateSession(context.Background(), localUser, name, settings, toErr(cb)))
}

func (a *sessionAdapter) StartSession(name string, cb Completion) bool {
	return a.accepted("start_session", a.core.StartSession(context.Background(), name, toErr(cb)))
}

func (a *sessionAdapter) UpdateSession(name string, settings backend.SessionSettings, refreshRemote bool, cb Completion) bool {
	return a.accepted("update_session", a.core.UpdateSession(context.Background(), name, settings, refreshRemote, toErr(cb)))
}

func (a *sessionAdapter) EndSession(name string, cb Completion) bool {
	return a.accepted("end_session", a.core.EndSession(context.Background(), name, toErr(cb)))
}

func (a *sessionAdapter) DestroySession(name string, cb Completion) bool {
	return a.accepted("destroy_session", a.core.DestroySession(context.Background(), name, toErr(cb)))
}

func (a *sessionAdapter) FindSessions(localUser int, criteria backend.SearchCriteria, cb func(bool, []backend.SessionDescriptor, string)) bool {
	_, err := a.core.FindSessions(context.Background(), localUser, criteria, func(found []backend.SessionDescriptor, err error) {
		if cb != nil {
			cb(err == nil, found, errs.Message(err))
		}
	})
	return a.accepted("find_sessions", err)
}

func (a *sessionAdapter) RegisterPlayer(name string, player identity.Identity, cb Completion) bool {
	return a.accepted("register_player", a.core.RegisterPlayer(context.Background(), name, player, toErr(cb)))
}

func (a *sessionAdapter) UnregisterPlayer(name string, player identity.Identity, cb Completion) bool {
	return a.accepted("unregister_player", a.core.UnregisterPlayer(context.Background(), name, player, toErr(cb)))
}

func (a *sessionAdapter) GetSessionState(name string) (session.State, bool) {
	return a.core.SessionState(name)
}
