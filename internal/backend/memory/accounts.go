package memory

import (
	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
)

// Login implements backend.Platform. Password logins check the seeded
// secret and issue a signed ticket; persisted logins require a ticket from
// an earlier password login.
func (p *Platform) Login(creds backend.Credentials, cb func(identity.Identity, error)) {
	p.mu.Lock()
	id, err := p.loginLocked(creds)
	p.mu.Unlock()
	p.complete(func() { cb(id, err) })
}

func (p *Platform) loginLocked(creds backend.Credentials) (identity.Identity, error) {
	acc, ok := p.accounts[creds.Account]
	target := identity.Invalid
	if ok {
		target = acc.ID
	}
	if err := p.begin(OpLogin, target); err != nil {
		return identity.Invalid, err
	}
	if !ok {
		return identity.Invalid, errs.Rejected(401, "unknown account %q", creds.Account)
	}

	switch creds.Kind {
	case backend.CredentialPassword:
		if !p.secrets[creds.Account].match(creds.Secret) {
			return identity.Invalid, errs.Rejected(401, "bad credentials for %q", creds.Account)
		}
		ticket, err := issueTicket(acc.ID.String(), p.opts.TicketSecret, p.opts.TicketTTL)
		if err != nil {
			return identity.Invalid, errs.Rejected(500, "issue ticket: %v", err)
		}
		p.tickets[acc.ID.Key()] = ticket
		return acc.ID, nil
	case backend.CredentialPersisted:
		ticket, ok := p.tickets[acc.ID.Key()]
		if !ok {
			return identity.Invalid, errs.Rejected(401, "no persisted login for %q", creds.Account)
		}
		if _, err := ticketSubject(ticket, p.opts.TicketSecret); err != nil {
			delete(p.tickets, acc.ID.Key())
			return identity.Invalid, errs.Rejected(401, "persisted login expired: %v", err)
		}
		return acc.ID, nil
	default:
		return identity.Invalid, errs.Rejected(400, "credential kind %q: %v", creds.Kind, errs.ErrNotSupported)
	}
}

// Logout implements backend.Platform.
func (p *Platform) Logout(local identity.Identity, cb func(error)) {
	p.mu.Lock()
	err := p.begin(OpLogout, local)
	if err == nil {
		ticket, ok := p.tickets[local.Key()]
		switch {
		case !ok:
			err = errs.Rejected(401, "%s is not logged in", local)
		default:
			if sub, perr := ticketSubject(ticket, p.opts.TicketSecret); perr != nil || sub != local.String() {
				err = errs.Rejected(401, "ticket mismatch for %s", local)
			}
			delete(p.tickets, local.Key())
			for _, subs := range p.subscribers {
				delete(subs, local.Key())
			}
		}
	}
	p.mu.Unlock()
	p.completeErr(cb, err)
}

// LookupProfile implements backend.Platform.
func (p *Platform) LookupProfile(local, target identity.Identity, cb func(backend.Profile, error)) {
	p.mu.Lock()
	var prof backend.Profile
	err := p.begin(OpLookupProfile, target)
	if err == nil {
		if acc, ok := p.byKey[target.Key()]; ok {
			prof = acc.Profile
		} else {
			err = errs.Rejected(404, "no profile for %s", target)
		}
	}
	p.mu.Unlock()
	p.complete(func() { cb(prof, err) })
}

// ListFriendships implements backend.Platform.
func (p *Platform) ListFriendships(local identity.Identity, cb func([]backend.Friendship, error)) {
	p.mu.Lock()
	var out []backend.Friendship
	err := p.begin(OpListFriendships, local)
	if err == nil {
		m := p.friendships[local.Key()]
		for _, k := range sortedTargets(m) {
			target, derr := k.Identity()
			if derr != nil {
				continue
			}
			out = append(out, backend.Friendship{Target: target, Status: m[k]})
		}
	}
	p.mu.Unlock()
	p.complete(func() { cb(out, err) })
}

// SendInvite implements backend.Platform.
func (p *Platform) SendInvite(local, target identity.Identity, cb func(error)) {
	p.mu.Lock()
	err := p.begin(OpSendInvite, target)
	if err == nil {
		switch {
		case p.byKey[target.Key()] == nil:
			err = errs.Rejected(404, "unknown user %s", target)
		case p.friendships[local.Key()][target.Key()] == backend.Friends:
			err = errs.Rejected(409, "%s is already a friend", target)
		default:
			p.setFriendshipLocked(local, target, backend.InviteSent)
		}
	}
	n := p.notifier
	p.mu.Unlock()
	p.completeErr(cb, err)
	if err == nil && n != nil {
		p.complete(func() { n.FriendshipChanged(target, local, backend.InviteReceived) })
	}
}

// AcceptInvite implements backend.Platform.
func (p *Platform) AcceptInvite(local, target identity.Identity, cb func(error)) {
	p.answerInvite(OpAcceptInvite, local, target, backend.Friends, cb)
}

// RejectInvite implements backend.Platform.
func (p *Platform) RejectInvite(local, target identity.Identity, cb func(error)) {
	p.answerInvite(OpRejectInvite, local, target, backend.NotFriends, cb)
}

func (p *Platform) answerInvite(op Op, local, target identity.Identity, result backend.Relationship, cb func(error)) {
	p.mu.Lock()
	err := p.begin(op, target)
	if err == nil {
		if p.friendships[local.Key()][target.Key()] != backend.InviteReceived {
			err = errs.Rejected(409, "no pending invite from %s", target)
		} else {
			p.setFriendshipLocked(local, target, result)
		}
	}
	n := p.notifier
	p.mu.Unlock()
	p.completeErr(cb, err)
	if err == nil && n != nil {
		p.complete(func() { n.FriendshipChanged(target, local, result) })
	}
}

// SubscribePresence implements backend.Platform.
func (p *Platform) SubscribePresence(local, target identity.Identity, cb func(backend.Presence, error)) {
	p.mu.Lock()
	var pr backend.Presence
	err := p.begin(OpSubscribePresence, target)
	if err == nil {
		if p.byKey[target.Key()] == nil {
			err = errs.Rejected(404, "unknown user %s", target)
		} else {
			subs := p.subscribers[target.Key()]
			if subs == nil {
				subs = make(map[identity.Key]identity.Identity)
				p.subscribers[target.Key()] = subs
			}
			subs[local.Key()] = local
			pr = p.presence[target.Key()].Clone()
		}
	}
	p.mu.Unlock()
	p.complete(func() { cb(pr, err) })
}

// UnsubscribePresence implements backend.Platform.
func (p *Platform) UnsubscribePresence(local, target identity.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[OpUnsubscribe]++
	delete(p.subscribers[target.Key()], local.Key())
}

// SetPresence implements backend.Platform. Subscribers of local are
// notified.
func (p *Platform) SetPresence(local identity.Identity, pr backend.Presence, cb func(error)) {
	p.mu.Lock()
	err := p.begin(OpSetPresence, local)
	notify := false
	if err == nil {
		p.presence[local.Key()] = pr.Clone()
		notify = len(p.subscribers[local.Key()]) > 0
	}
	n := p.notifier
	p.mu.Unlock()
	p.completeErr(cb, err)
	if notify && n != nil {
		p.complete(func() { n.PresenceChanged(local, pr.Clone()) })
	}
}
