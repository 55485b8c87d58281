package wa

import (
	"context"
	"sync"

	"github.com/matheus3301/netid/internal/identity"
	"go.mau.fi/whatsmeow/types"
)

// lidMapper is the part of the whatsmeow LID store used to pair LIDs with
// phone numbers.
type lidMapper interface {
	GetPNForLID(ctx context.Context, lid types.JID) (types.JID, error)
	GetLIDForPN(ctx context.Context, pn types.JID) (types.JID, error)
}

// directory turns JIDs into identities and remembers what it handed out, so
// that learning the missing half of a pair is reported as an upgrade.
type directory struct {
	mapper   lidMapper
	upgraded func(old, upgraded identity.Identity)

	mu    sync.Mutex
	known map[string]identity.Identity
}

func newDirectory(mapper lidMapper, upgraded func(old, upgraded identity.Identity)) *directory {
	return &directory{
		mapper:   mapper,
		upgraded: upgraded,
		known:    make(map[string]identity.Identity),
	}
}

// resolve pairs jid with its counterpart when the mapping is known.
func (d *directory) resolve(ctx context.Context, jid types.JID) (identity.Identity, error) {
	jid = jid.ToNonAD()
	var lid, pn types.JID
	switch jid.Server {
	case types.HiddenUserServer:
		lid = jid
		if d.mapper != nil {
			pn, _ = d.mapper.GetPNForLID(ctx, jid)
		}
	case types.DefaultUserServer:
		pn = jid
		if d.mapper != nil {
			lid, _ = d.mapper.GetLIDForPN(ctx, jid)
		}
	default:
		return IdentityFromJID(jid)
	}
	id, err := IdentityFromJIDs(lid, pn)
	if err != nil {
		return identity.Invalid, err
	}
	d.learn(id)
	return id, nil
}

// learn records id and reports an upgrade when a previously handed out
// identity carried only one of its components.
func (d *directory) learn(id identity.Identity) {
	var olds []identity.Identity
	d.mu.Lock()
	for _, k := range componentKeys(id) {
		prev, ok := d.known[k]
		if ok && !prev.Equal(id) && isSubset(prev, id) {
			olds = append(olds, prev)
		}
		if !ok || isSubset(prev, id) {
			d.known[k] = id
		}
	}
	d.mu.Unlock()

	if d.upgraded == nil {
		return
	}
	seen := make(map[identity.Key]bool)
	for _, old := range olds {
		if seen[old.Key()] {
			continue
		}
		seen[old.Key()] = true
		d.upgraded(old, id)
	}
}

func componentKeys(id identity.Identity) []string {
	var keys []string
	if id.HasPrimary() {
		keys = append(keys, "p:"+id.Primary())
	}
	if id.HasSecondary() {
		keys = append(keys, "s:"+id.Secondary())
	}
	return keys
}

// isSubset reports whether every component of a is present in b.
func isSubset(a, b identity.Identity) bool {
	if a.HasPrimary() && a.Primary() != b.Primary() {
		return false
	}
	if a.HasSecondary() && a.Secondary() != b.Secondary() {
		return false
	}
	return true
}
