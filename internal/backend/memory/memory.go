// Package memory is an in-process backend.Platform. It keeps accounts,
// friendships, presence and sessions in maps and completes every call on its
// own goroutine, or queues completions until Flush when Options.Deferred is
// set, so tests can choose the arrival order.
package memory

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/identity"
)

// Op names a platform primitive, for failure injection and call counting.
type Op string

const (
	OpLogin             Op = "login"
	OpLogout            Op = "logout"
	OpLookupProfile     Op = "lookup_profile"
	OpListFriendships   Op = "list_friendships"
	OpSendInvite        Op = "send_invite"
	OpAcceptInvite      Op = "accept_invite"
	OpRejectInvite      Op = "reject_invite"
	OpSubscribePresence Op = "subscribe_presence"
	OpUnsubscribe       Op = "unsubscribe_presence"
	OpSetPresence       Op = "set_presence"
	OpCreateSession     Op = "create_session"
	OpStartSession      Op = "start_session"
	OpUpdateSession     Op = "update_session"
	OpEndSession        Op = "end_session"
	OpDestroySession    Op = "destroy_session"
	OpFindSessions      Op = "find_sessions"
	OpRegisterPlayers   Op = "register_players"
	OpUnregisterPlayers Op = "unregister_players"
)

// Options tunes completion delivery.
type Options struct {
	Latency      time.Duration
	Jitter       time.Duration
	Deferred     bool
	TicketSecret []byte
	TicketTTL    time.Duration
}

// Account is a seeded remote account. Secret is only read by AddAccount,
// which keeps an argon2id verifier of it.
type Account struct {
	ID      identity.Identity
	Secret  string
	Profile backend.Profile
}

type remoteSession struct {
	id       string
	name     string
	owner    identity.Identity
	settings backend.SessionSettings
	started  bool
	players  map[identity.Key]identity.Identity
}

// Platform is the in-memory backend.
type Platform struct {
	mu   sync.Mutex
	opts Options

	accounts    map[string]*Account
	secrets     map[string]verifier
	byKey       map[identity.Key]*Account
	friendships map[identity.Key]map[identity.Key]backend.Relationship
	presence    map[identity.Key]backend.Presence
	subscribers map[identity.Key]map[identity.Key]identity.Identity
	tickets     map[identity.Key]string
	sessions    map[string]*remoteSession
	nextSession uint64

	failures map[Op]map[identity.Key]error
	calls    map[Op]int
	queue    []func()
	notifier backend.Notifier
}

var _ backend.Platform = (*Platform)(nil)

// New creates an empty platform.
func New(opts Options) *Platform {
	if len(opts.TicketSecret) == 0 {
		opts.TicketSecret = []byte("netid-memory-backend")
	}
	if opts.TicketTTL <= 0 {
		opts.TicketTTL = 24 * time.Hour
	}
	return &Platform{
		opts:        opts,
		accounts:    make(map[string]*Account),
		secrets:     make(map[string]verifier),
		byKey:       make(map[identity.Key]*Account),
		friendships: make(map[identity.Key]map[identity.Key]backend.Relationship),
		presence:    make(map[identity.Key]backend.Presence),
		subscribers: make(map[identity.Key]map[identity.Key]identity.Identity),
		tickets:     make(map[identity.Key]string),
		sessions:    make(map[string]*remoteSession),
		failures:    make(map[Op]map[identity.Key]error),
		calls:       make(map[Op]int),
	}
}

// AddAccount seeds an account reachable by name on login.
func (p *Platform) AddAccount(name string, acc Account) {
	v := newVerifier(acc.Secret)
	a := acc
	a.Secret = ""

	p.mu.Lock()
	defer p.mu.Unlock()
	p.secrets[name] = v
	p.accounts[name] = &a
	p.byKey[acc.ID.Key()] = &a
}

// SetFriendship records a relationship from a's point of view and mirrors it
// on b's side.
func (p *Platform) SetFriendship(a, b identity.Identity, rel backend.Relationship) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setFriendshipLocked(a, b, rel)
}

func (p *Platform) setFriendshipLocked(a, b identity.Identity, rel backend.Relationship) {
	mirror := rel
	switch rel {
	case backend.InviteSent:
		mirror = backend.InviteReceived
	case backend.InviteReceived:
		mirror = backend.InviteSent
	}
	p.setOneSide(a, b, rel)
	p.setOneSide(b, a, mirror)
}

func (p *Platform) setOneSide(local, target identity.Identity, rel backend.Relationship) {
	m := p.friendships[local.Key()]
	if rel == backend.NotFriends {
		delete(m, target.Key())
		return
	}
	if m == nil {
		m = make(map[identity.Key]backend.Relationship)
		p.friendships[local.Key()] = m
	}
	m[target.Key()] = rel
}

// SetPresenceOf stores presence for target without notifying anyone.
func (p *Platform) SetPresenceOf(target identity.Identity, pr backend.Presence) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presence[target.Key()] = pr.Clone()
}

// PushPresence stores presence for target and notifies through the notifier,
// as the platform would when a subscribed user changes state.
func (p *Platform) PushPresence(target identity.Identity, pr backend.Presence) {
	p.mu.Lock()
	p.presence[target.Key()] = pr.Clone()
	n := p.notifier
	p.mu.Unlock()
	if n == nil {
		return
	}
	p.complete(func() { n.PresenceChanged(target, pr.Clone()) })
}

// UpgradeIdentity re-keys every record held under old, as when the platform
// learns a second component for an account, and reports it through the
// notifier.
func (p *Platform) UpgradeIdentity(old, upgraded identity.Identity) {
	oldKey, newKey := old.Key(), upgraded.Key()
	p.mu.Lock()
	if acc, ok := p.byKey[oldKey]; ok {
		delete(p.byKey, oldKey)
		acc.ID = upgraded
		p.byKey[newKey] = acc
	}
	if m, ok := p.friendships[oldKey]; ok {
		delete(p.friendships, oldKey)
		p.friendships[newKey] = m
	}
	for _, m := range p.friendships {
		if rel, ok := m[oldKey]; ok {
			delete(m, oldKey)
			m[newKey] = rel
		}
	}
	if pr, ok := p.presence[oldKey]; ok {
		delete(p.presence, oldKey)
		p.presence[newKey] = pr
	}
	if subs, ok := p.subscribers[oldKey]; ok {
		delete(p.subscribers, oldKey)
		p.subscribers[newKey] = subs
	}
	for _, subs := range p.subscribers {
		if _, ok := subs[oldKey]; ok {
			delete(subs, oldKey)
			subs[newKey] = upgraded
		}
	}
	if t, ok := p.tickets[oldKey]; ok {
		delete(p.tickets, oldKey)
		p.tickets[newKey] = t
	}
	n := p.notifier
	p.mu.Unlock()
	if n == nil {
		return
	}
	p.complete(func() { n.IdentityUpgraded(old, upgraded) })
}

// Fail makes op fail with err for target. identity.Invalid matches every
// target. A nil err clears the entry.
func (p *Platform) Fail(op Op, target identity.Identity, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.failures[op]
	if m == nil {
		m = make(map[identity.Key]error)
		p.failures[op] = m
	}
	if err == nil {
		delete(m, target.Key())
		return
	}
	m[target.Key()] = err
}

// Calls reports how many times op was invoked.
func (p *Platform) Calls(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Queued reports deferred completions waiting for Flush.
func (p *Platform) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Flush runs queued completions in FIFO order until none remain, including
// ones enqueued by the completions themselves. It returns how many ran.
func (p *Platform) Flush() int {
	return p.flush(false)
}

// FlushReverse is Flush with each batch run in reverse arrival order.
func (p *Platform) FlushReverse() int {
	return p.flush(true)
}

func (p *Platform) flush(reverse bool) int {
	n := 0
	for {
		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		if reverse {
			for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
				batch[i], batch[j] = batch[j], batch[i]
			}
		}
		for _, fn := range batch {
			fn()
			n++
		}
	}
}

// SetNotifier implements backend.Platform.
func (p *Platform) SetNotifier(n backend.Notifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifier = n
}

// begin counts the call and returns an injected failure, if any. Caller
// holds p.mu.
func (p *Platform) begin(op Op, target identity.Identity) error {
	p.calls[op]++
	m := p.failures[op]
	if m == nil {
		return nil
	}
	if err, ok := m[target.Key()]; ok {
		return err
	}
	if err, ok := m[identity.Invalid.Key()]; ok {
		return err
	}
	return nil
}

func (p *Platform) complete(fn func()) {
	p.mu.Lock()
	if p.opts.Deferred {
		p.queue = append(p.queue, fn)
		p.mu.Unlock()
		return
	}
	delay := p.opts.Latency
	if p.opts.Jitter > 0 {
		delay += rand.N(p.opts.Jitter)
	}
	p.mu.Unlock()
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		fn()
	}()
}

func (p *Platform) completeErr(cb func(error), err error) {
	if cb == nil {
		return
	}
	p.complete(func() { cb(err) })
}

func sortedTargets(m map[identity.Key]backend.Relationship) []identity.Key {
	keys := make([]identity.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
