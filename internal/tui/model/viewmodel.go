package model

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/matheus3301/netid/internal/api"
	"github.com/matheus3301/netid/internal/tui/client"
)

// Caller issues unary Control calls. *client.Client implements it.
type Caller interface {
	Call(ctx context.Context, method string, req map[string]any) (map[string]any, error)
}

// Effect tells the app which panes an event invalidated.
type Effect int

const (
	EffectNone Effect = 0
	// EffectFriends: the friend table must be redrawn.
	EffectFriends Effect = 1 << iota
	EffectSessions
	EffectStatus
	EffectAuth
)

// Has reports whether e includes f.
func (e Effect) Has(f Effect) bool { return e&f != 0 }

// AuthState is the latest pairing event.
type AuthState struct {
	Type    string
	QRCode  string
	Message string
}

// ViewModel caches daemon state for the views. Every field is read through
// the accessors, which return copies.
type ViewModel struct {
	mu sync.RWMutex

	client    Caller
	localUser int

	status         map[string]any
	friends        []map[string]any
	friendsQueried bool
	sessions       []map[string]any
	connection     string
	auth           AuthState
}

// NewViewModel creates a view model for one local user.
func NewViewModel(c Caller, localUser int) *ViewModel {
	return &ViewModel{client: c, localUser: localUser}
}

// LocalUser is the local user index this model follows.
func (vm *ViewModel) LocalUser() int { return vm.localUser }

func (vm *ViewModel) withUser(req map[string]any) map[string]any {
	if req == nil {
		req = map[string]any{}
	}
	req["local_user"] = vm.localUser
	return req
}

// LoadStatus fetches the daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.client.Call(ctx, api.MethodStatus, nil)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	vm.mu.Unlock()
	return nil
}

// LoadFriends fetches the cached friend list.
func (vm *ViewModel) LoadFriends(ctx context.Context) error {
	resp, err := vm.client.Call(ctx, api.MethodListFriends, vm.withUser(nil))
	if err != nil {
		return err
	}
	vm.setFriends(resp)
	return nil
}

// RefreshFriends asks the platform for a fresh list.
func (vm *ViewModel) RefreshFriends(ctx context.Context) error {
	resp, err := vm.client.Call(ctx, api.MethodRefreshFriends, vm.withUser(nil))
	if err != nil {
		return err
	}
	vm.setFriends(resp)
	return nil
}

func (vm *ViewModel) setFriends(resp map[string]any) {
	friends := client.Objects(resp["friends"])
	sort.SliceStable(friends, func(i, j int) bool {
		return strings.ToLower(FriendName(friends[i])) < strings.ToLower(FriendName(friends[j]))
	})
	queried, _ := resp["queried"].(bool)
	vm.mu.Lock()
	vm.friends = friends
	vm.friendsQueried = queried
	vm.mu.Unlock()
}

// LoadSessions fetches the local session table.
func (vm *ViewModel) LoadSessions(ctx context.Context) error {
	resp, err := vm.client.Call(ctx, api.MethodListSessions, nil)
	if err != nil {
		return err
	}
	sessions := client.Objects(resp["sessions"])
	vm.mu.Lock()
	vm.sessions = sessions
	vm.mu.Unlock()
	return nil
}

// Apply folds one event into the cache. Presence updates patch the friend
// list in place; other kinds only report which panes need a reload.
func (vm *ViewModel) Apply(evt client.Event) Effect {
	switch {
	case evt.Kind == "presence.changed":
		if client.Int(evt.Payload, "local_user") != vm.localUser {
			return EffectNone
		}
		return vm.applyPresence(client.Object(evt.Payload, "presence"))
	case strings.HasPrefix(evt.Kind, "friends."):
		return EffectFriends
	case strings.HasPrefix(evt.Kind, "session."):
		return EffectSessions
	case evt.Kind == "account.status_changed", evt.Kind == "identity.upgraded":
		return EffectStatus | EffectFriends
	case evt.Kind == "platform.connection":
		vm.mu.Lock()
		vm.connection = client.String(evt.Payload, "state")
		vm.mu.Unlock()
		return EffectStatus
	case evt.Kind == "auth.qr":
		vm.mu.Lock()
		vm.auth = AuthState{
			Type:    client.String(evt.Payload, "type"),
			QRCode:  client.String(evt.Payload, "qr_code"),
			Message: client.String(evt.Payload, "message"),
		}
		vm.mu.Unlock()
		return EffectAuth
	}
	return EffectNone
}

func (vm *ViewModel) applyPresence(p map[string]any) Effect {
	target := client.String(p, "identity")
	if target == "" {
		return EffectNone
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for i, f := range vm.friends {
		if client.String(f, "identity") != target {
			continue
		}
		patched := make(map[string]any, len(f)+1)
		for k, v := range f {
			patched[k] = v
		}
		patched["presence"] = p
		vm.friends[i] = patched
		return EffectFriends
	}
	return EffectNone
}

// Friends returns a copy of the friend list and whether it was ever queried.
func (vm *ViewModel) Friends() ([]map[string]any, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]map[string]any, len(vm.friends))
	copy(out, vm.friends)
	return out, vm.friendsQueried
}

// Sessions returns a copy of the session table.
func (vm *ViewModel) Sessions() []map[string]any {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]map[string]any, len(vm.sessions))
	copy(out, vm.sessions)
	return out
}

// Status returns the last status response, or nil.
func (vm *ViewModel) Status() map[string]any {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Connection is the last platform connection state, or "".
func (vm *ViewModel) Connection() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.connection
}

// Auth returns the last pairing event.
func (vm *ViewModel) Auth() AuthState {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.auth
}

// User returns the status entry of the followed local user, or nil.
func (vm *ViewModel) User() map[string]any {
	for _, u := range client.Objects(vm.Status()["local_users"]) {
		if client.Int(u, "local_user") == vm.localUser {
			return u
		}
	}
	return nil
}

// NeedsPairing reports whether the followed user must link a device before
// anything else works.
func (vm *ViewModel) NeedsPairing() bool {
	st := vm.Status()
	if client.String(st, "backend") != "whatsapp" {
		return false
	}
	return client.String(vm.User(), "status") == "LOGGED_OUT"
}

// FriendName is the label shown for a friend row.
func FriendName(f map[string]any) string {
	if name := client.String(client.Object(f, "display_name"), "value"); name != "" {
		return name
	}
	return client.String(f, "identity")
}

// Login starts a login and blocks until it completes.
func (vm *ViewModel) Login(ctx context.Context, kind, account, secret string) (string, error) {
	resp, err := vm.client.Call(ctx, api.MethodLogin, vm.withUser(map[string]any{
		"kind": kind, "account": account, "secret": secret,
	}))
	if err != nil {
		return "", err
	}
	return client.String(resp, "identity"), nil
}

// Run executes a prompt command and returns a flash message.
func (vm *ViewModel) Run(ctx context.Context, name string, args []string) (string, error) {
	need := func(n int, usage string) error {
		if len(args) < n {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}
	switch name {
	case "refresh", "r":
		if err := vm.RefreshFriends(ctx); err != nil {
			return "", err
		}
		return "Friend list refreshed", nil
	case "invite", "accept", "reject":
		if err := need(1, name+" <identity>"); err != nil {
			return "", err
		}
		method := map[string]string{
			"invite": api.MethodSendInvite,
			"accept": api.MethodAcceptInvite,
			"reject": api.MethodRejectInvite,
		}[name]
		if _, err := vm.client.Call(ctx, method, vm.withUser(map[string]any{"target": args[0]})); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s: ok", name, args[0]), nil
	case "presence":
		if err := need(1, "presence <online|away|busy|offline> [status...]"); err != nil {
			return "", err
		}
		p := map[string]any{"state": args[0], "status": strings.Join(args[1:], " ")}
		if _, err := vm.client.Call(ctx, api.MethodSetPresence, vm.withUser(map[string]any{"presence": p})); err != nil {
			return "", err
		}
		return "Presence set to " + args[0], nil
	case "login":
		if err := need(2, "login <account> <secret>"); err != nil {
			return "", err
		}
		id, err := vm.Login(ctx, "password", args[0], args[1])
		if err != nil {
			return "", err
		}
		return "Logged in as " + id, nil
	case "logout":
		if _, err := vm.client.Call(ctx, api.MethodLogout, vm.withUser(nil)); err != nil {
			return "", err
		}
		return "Logged out", nil
	case "create":
		if err := need(1, "create <name> [slots]"); err != nil {
			return "", err
		}
		slots := 4
		if len(args) > 1 {
			if _, err := fmt.Sscanf(args[1], "%d", &slots); err != nil {
				return "", fmt.Errorf("slots must be a number: %q", args[1])
			}
		}
		settings := map[string]any{"public_connections": slots, "should_advertise": true}
		if _, err := vm.client.Call(ctx, api.MethodCreateSession, vm.withUser(map[string]any{"name": args[0], "settings": settings})); err != nil {
			return "", err
		}
		return "Session " + args[0] + " created", nil
	case "start", "end", "destroy":
		if err := need(1, name+" <session>"); err != nil {
			return "", err
		}
		method := map[string]string{
			"start":   api.MethodStartSession,
			"end":     api.MethodEndSession,
			"destroy": api.MethodDestroySession,
		}[name]
		if _, err := vm.client.Call(ctx, method, map[string]any{"name": args[0]}); err != nil {
			return "", err
		}
		return fmt.Sprintf("Session %s: %s ok", args[0], name), nil
	case "join", "leave":
		if err := need(2, name+" <session> <identity>"); err != nil {
			return "", err
		}
		method := api.MethodRegisterPlayer
		if name == "leave" {
			method = api.MethodUnregisterPlayer
		}
		if _, err := vm.client.Call(ctx, method, map[string]any{"name": args[0], "player": args[1]}); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s: ok", name, args[1]), nil
	default:
		return "", fmt.Errorf("unknown command %q", name)
	}
}
