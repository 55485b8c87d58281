package memory

import (
	"sort"
	"strconv"
	"strings"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
)

// SessionCount reports how many remote sessions exist.
func (p *Platform) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// CreateSession implements backend.Platform. Names are unique platform-wide.
func (p *Platform) CreateSession(local identity.Identity, name string, settings backend.SessionSettings, cb func(backend.SessionInfo, error)) {
	p.mu.Lock()
	var info backend.SessionInfo
	err := p.begin(OpCreateSession, local)
	if err == nil {
		for _, s := range p.sessions {
			if s.name == name {
				err = errs.Rejected(409, "session %q already exists", name)
				break
			}
		}
	}
	if err == nil {
		p.nextSession++
		id := "mem-" + strconv.FormatUint(p.nextSession, 10)
		p.sessions[id] = &remoteSession{
			id:       id,
			name:     name,
			owner:    local,
			settings: settings.Clone(),
			players:  make(map[identity.Key]identity.Identity),
		}
		info.RemoteID = id
	}
	p.mu.Unlock()
	p.complete(func() { cb(info, err) })
}

// StartSession implements backend.Platform.
func (p *Platform) StartSession(remoteID string, cb func(error)) {
	p.mutateSession(OpStartSession, remoteID, cb, func(s *remoteSession) error {
		if s.started {
			return errs.Rejected(409, "session %q already started", s.name)
		}
		s.started = true
		return nil
	})
}

// UpdateSession implements backend.Platform.
func (p *Platform) UpdateSession(remoteID string, settings backend.SessionSettings, cb func(error)) {
	p.mutateSession(OpUpdateSession, remoteID, cb, func(s *remoteSession) error {
		if settings.PublicConnections+settings.PrivateConnections < len(s.players) {
			return errs.Rejected(400, "session %q has %d players, cannot shrink below", s.name, len(s.players))
		}
		s.settings = settings.Clone()
		return nil
	})
}

// EndSession implements backend.Platform.
func (p *Platform) EndSession(remoteID string, cb func(error)) {
	p.mutateSession(OpEndSession, remoteID, cb, func(s *remoteSession) error {
		if !s.started {
			return errs.Rejected(409, "session %q not started", s.name)
		}
		s.started = false
		return nil
	})
}

// DestroySession implements backend.Platform.
func (p *Platform) DestroySession(remoteID string, cb func(error)) {
	p.mutateSession(OpDestroySession, remoteID, cb, func(s *remoteSession) error {
		delete(p.sessions, s.id)
		return nil
	})
}

// RegisterPlayers implements backend.Platform.
func (p *Platform) RegisterPlayers(remoteID string, players []identity.Identity, cb func(error)) {
	p.mutateSession(OpRegisterPlayers, remoteID, cb, func(s *remoteSession) error {
		capacity := s.settings.PublicConnections + s.settings.PrivateConnections
		added := 0
		for _, pl := range players {
			if _, ok := s.players[pl.Key()]; !ok {
				added++
			}
		}
		if len(s.players)+added > capacity {
			return errs.Rejected(409, "session %q is full", s.name)
		}
		for _, pl := range players {
			s.players[pl.Key()] = pl
		}
		return nil
	})
}

// UnregisterPlayers implements backend.Platform.
func (p *Platform) UnregisterPlayers(remoteID string, players []identity.Identity, cb func(error)) {
	p.mutateSession(OpUnregisterPlayers, remoteID, cb, func(s *remoteSession) error {
		for _, pl := range players {
			delete(s.players, pl.Key())
		}
		return nil
	})
}

func (p *Platform) mutateSession(op Op, remoteID string, cb func(error), fn func(*remoteSession) error) {
	p.mu.Lock()
	err := p.begin(op, identity.Invalid)
	if err == nil {
		s, ok := p.sessions[remoteID]
		if !ok {
			err = errs.Rejected(404, "no session %q", remoteID)
		} else {
			err = fn(s)
		}
	}
	p.mu.Unlock()
	p.completeErr(cb, err)
}

// FindSessions implements backend.Platform. Only advertised sessions with
// free slots are returned, ordered by name.
func (p *Platform) FindSessions(local identity.Identity, criteria backend.SearchCriteria, cb func([]backend.SessionDescriptor, error)) {
	p.mu.Lock()
	var out []backend.SessionDescriptor
	err := p.begin(OpFindSessions, local)
	if err == nil {
		for _, s := range p.sessions {
			if !s.settings.ShouldAdvertise || !strings.HasPrefix(s.name, criteria.NamePrefix) {
				continue
			}
			if s.started && !s.settings.AllowJoinInProgress {
				continue
			}
			open := s.settings.PublicConnections - len(s.players)
			if open <= 0 || !attributesMatch(s.settings.Attributes, criteria.Attributes) {
				continue
			}
			out = append(out, backend.SessionDescriptor{
				RemoteID:  s.id,
				Name:      s.name,
				Owner:     s.owner,
				Settings:  s.settings.Clone(),
				OpenSlots: open,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		if criteria.MaxResults > 0 && len(out) > criteria.MaxResults {
			out = out[:criteria.MaxResults]
		}
	}
	p.mu.Unlock()
	p.complete(func() { cb(out, err) })
}

func attributesMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
