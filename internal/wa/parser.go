package wa

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/identity"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// topicPrefix marks a group topic that carries encoded session settings.
// Groups without it are not sessions.
const topicPrefix = "netid/1 "

// IdentityFromJIDs builds an identity from a LID (primary) and a phone
// number JID (secondary). Either may be empty.
func IdentityFromJIDs(lid, pn types.JID) (identity.Identity, error) {
	var primary, secondary string
	if !lid.IsEmpty() {
		primary = lid.User
	}
	if !pn.IsEmpty() {
		secondary = pn.User
	}
	return identity.New(primary, secondary)
}

// IdentityFromJID converts a single user JID.
func IdentityFromJID(jid types.JID) (identity.Identity, error) {
	jid = jid.ToNonAD()
	switch jid.Server {
	case types.HiddenUserServer:
		return IdentityFromJIDs(jid, types.EmptyJID)
	case types.DefaultUserServer:
		return IdentityFromJIDs(types.EmptyJID, jid)
	default:
		return identity.Invalid, fmt.Errorf("unsupported JID server %q", jid.Server)
	}
}

// LIDOf returns the LID JID of id, or the empty JID.
func LIDOf(id identity.Identity) types.JID {
	if !id.HasPrimary() {
		return types.EmptyJID
	}
	return types.NewJID(id.Primary(), types.HiddenUserServer)
}

// PNOf returns the phone number JID of id, or the empty JID.
func PNOf(id identity.Identity) types.JID {
	if !id.HasSecondary() {
		return types.EmptyJID
	}
	return types.NewJID(id.Secondary(), types.DefaultUserServer)
}

// JIDOf picks the address used to talk to id: the phone number when known,
// otherwise the LID.
func JIDOf(id identity.Identity) types.JID {
	if pn := PNOf(id); !pn.IsEmpty() {
		return pn
	}
	return LIDOf(id)
}

// PresenceFromEvent maps a presence update. WhatsApp only distinguishes
// available from unavailable.
func PresenceFromEvent(evt *events.Presence) backend.Presence {
	p := backend.Presence{State: backend.Online}
	if evt.Unavailable {
		p.State = backend.Offline
	}
	if !evt.LastSeen.IsZero() {
		p.Properties = map[string]string{"last_seen": evt.LastSeen.UTC().Format(time.RFC3339)}
	}
	return p
}

// ProfileFromContact maps a device-store contact entry.
func ProfileFromContact(c types.ContactInfo) backend.Profile {
	display := c.PushName
	if display == "" {
		display = c.BusinessName
	}
	return backend.Profile{
		DisplayName: display,
		RealName:    c.FullName,
		Alias:       c.FirstName,
	}
}

// EncodeTopic renders session settings as a group topic.
func EncodeTopic(s backend.SessionSettings) string {
	v := url.Values{}
	v.Set("pub", strconv.Itoa(s.PublicConnections))
	v.Set("priv", strconv.Itoa(s.PrivateConnections))
	v.Set("adv", strconv.FormatBool(s.ShouldAdvertise))
	v.Set("jip", strconv.FormatBool(s.AllowJoinInProgress))
	v.Set("pres", strconv.FormatBool(s.UsesPresence))
	for k, val := range s.Attributes {
		v.Set("a."+k, val)
	}
	return topicPrefix + v.Encode()
}

// DecodeTopic is the inverse of EncodeTopic. ok is false for topics that do
// not describe a session.
func DecodeTopic(topic string) (s backend.SessionSettings, ok bool) {
	raw, found := strings.CutPrefix(topic, topicPrefix)
	if !found {
		return s, false
	}
	v, err := url.ParseQuery(raw)
	if err != nil {
		return s, false
	}
	s.PublicConnections, _ = strconv.Atoi(v.Get("pub"))
	s.PrivateConnections, _ = strconv.Atoi(v.Get("priv"))
	s.ShouldAdvertise, _ = strconv.ParseBool(v.Get("adv"))
	s.AllowJoinInProgress, _ = strconv.ParseBool(v.Get("jip"))
	s.UsesPresence, _ = strconv.ParseBool(v.Get("pres"))
	for k := range v {
		if name, isAttr := strings.CutPrefix(k, "a."); isAttr {
			if s.Attributes == nil {
				s.Attributes = make(map[string]string)
			}
			s.Attributes[name] = v.Get(k)
		}
	}
	return s, true
}

// DescriptorFromGroup maps a joined group to a session search hit. Groups
// that are not sessions are skipped. A group is started once announce-only
// mode is lifted.
func DescriptorFromGroup(g *types.GroupInfo) (desc backend.SessionDescriptor, started bool, ok bool) {
	settings, ok := DecodeTopic(g.Topic)
	if !ok {
		return desc, false, false
	}
	owner, _ := IdentityFromJID(g.OwnerJID)
	players := len(g.Participants)
	if players > 0 {
		// the owner holds no slot
		players--
	}
	open := settings.PublicConnections - players
	if open < 0 {
		open = 0
	}
	return backend.SessionDescriptor{
		RemoteID:  g.JID.String(),
		Name:      g.Name,
		Owner:     owner,
		Settings:  settings,
		OpenSlots: open,
	}, !g.IsAnnounce, true
}

// MatchSession applies search criteria to one descriptor.
func MatchSession(d backend.SessionDescriptor, started bool, c backend.SearchCriteria) bool {
	if !d.Settings.ShouldAdvertise {
		return false
	}
	if started && !d.Settings.AllowJoinInProgress {
		return false
	}
	if d.OpenSlots <= 0 {
		return false
	}
	if !strings.HasPrefix(d.Name, c.NamePrefix) {
		return false
	}
	for k, want := range c.Attributes {
		if d.Settings.Attributes[k] != want {
			return false
		}
	}
	return true
}

// FilterSessions keeps the matching descriptors, sorted by name, capped at
// criteria.MaxResults when positive.
func FilterSessions(groups []*types.GroupInfo, c backend.SearchCriteria) []backend.SessionDescriptor {
	var out []backend.SessionDescriptor
	for _, g := range groups {
		if g == nil {
			continue
		}
		d, started, ok := DescriptorFromGroup(g)
		if !ok || !MatchSession(d, started, c) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].RemoteID < out[j].RemoteID
	})
	if c.MaxResults > 0 && len(out) > c.MaxResults {
		out = out[:c.MaxResults]
	}
	return out
}
