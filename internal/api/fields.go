package api

import (
	"fmt"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/presence"
	"github.com/matheus3301/netid/internal/session"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request field accessors. Missing fields read as zero values.

func str(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func num(in *structpb.Struct, key string) int {
	return int(in.GetFields()[key].GetNumberValue())
}

func flag(in *structpb.Struct, key string) bool {
	return in.GetFields()[key].GetBoolValue()
}

func object(in *structpb.Struct, key string) *structpb.Struct {
	return in.GetFields()[key].GetStructValue()
}

func stringMap(in *structpb.Struct, key string) map[string]string {
	obj := object(in, key)
	if obj == nil {
		return nil
	}
	out := make(map[string]string, len(obj.GetFields()))
	for k, v := range obj.GetFields() {
		out[k] = v.GetStringValue()
	}
	return out
}

func identityField(in *structpb.Struct, key string) (identity.Identity, error) {
	raw := str(in, key)
	if raw == "" {
		return identity.Invalid, invalidArg("%s is required", key)
	}
	id, err := identity.Parse(raw)
	if err != nil {
		return identity.Invalid, invalidArg("%s: %v", key, err)
	}
	return id, nil
}

func identityList(in *structpb.Struct, key string) ([]identity.Identity, error) {
	values := in.GetFields()[key].GetListValue().GetValues()
	out := make([]identity.Identity, 0, len(values))
	for i, v := range values {
		id, err := identity.Parse(v.GetStringValue())
		if err != nil {
			return nil, invalidArg("%s[%d]: %v", key, i, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func requiredName(in *structpb.Struct) (string, error) {
	name := str(in, "name")
	if name == "" {
		return "", invalidArg("name is required")
	}
	return name, nil
}

func settingsField(in *structpb.Struct) backend.SessionSettings {
	s := object(in, "settings")
	return backend.SessionSettings{
		PublicConnections:   num(s, "public_connections"),
		PrivateConnections:  num(s, "private_connections"),
		ShouldAdvertise:     flag(s, "should_advertise"),
		AllowJoinInProgress: flag(s, "allow_join_in_progress"),
		UsesPresence:        flag(s, "uses_presence"),
		Attributes:          stringMap(s, "attributes"),
	}
}

func credentialsField(in *structpb.Struct) (backend.Credentials, error) {
	kind := backend.CredentialKind(str(in, "kind"))
	switch kind {
	case backend.CredentialPassword, backend.CredentialQR, backend.CredentialPersisted:
	case "":
		kind = backend.CredentialPersisted
	default:
		return backend.Credentials{}, invalidArg("unknown credential kind %q", kind)
	}
	return backend.Credentials{Kind: kind, Account: str(in, "account"), Secret: str(in, "secret")}, nil
}

func presenceField(in *structpb.Struct) backend.Presence {
	return backend.Presence{
		State:      backend.ParsePresenceState(str(in, "state")),
		Status:     str(in, "status"),
		AppID:      str(in, "app_id"),
		SessionID:  str(in, "session_id"),
		Joinable:   flag(in, "joinable"),
		Properties: stringMap(in, "properties"),
	}
}

// Response encoders. Values are plain Go maps and slices accepted by
// structpb.NewStruct.

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return s, nil
}

func stringsAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func identitiesAny(ids []identity.Identity) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func settingsAny(s backend.SessionSettings) map[string]any {
	return map[string]any{
		"public_connections":     s.PublicConnections,
		"private_connections":    s.PrivateConnections,
		"should_advertise":       s.ShouldAdvertise,
		"allow_join_in_progress": s.AllowJoinInProgress,
		"uses_presence":          s.UsesPresence,
		"attributes":             stringsAny(s.Attributes),
	}
}

func profileAny(p backend.Profile) map[string]any {
	return map[string]any{
		"display_name": p.DisplayName,
		"real_name":    p.RealName,
		"alias":        p.Alias,
	}
}

func presenceAny(p presence.PresenceRecord) map[string]any {
	return map[string]any{
		"identity":         p.Target.String(),
		"state":            p.State.String(),
		"status":           p.Status,
		"app_id":           p.AppID,
		"session_id":       p.SessionID,
		"properties":       stringsAny(p.Properties),
		"playing_this_app": p.PlayingThisApp,
		"joinable":         p.Joinable,
		"updated_at_ms":    p.UpdatedAt.UnixMilli(),
	}
}

func attributeAny(a presence.Attribute) map[string]any {
	return map[string]any{"value": a.Value, "resolved": a.Resolved}
}

func friendAny(r presence.FriendRecord) map[string]any {
	m := map[string]any{
		"identity":     r.Target.String(),
		"relationship": r.Relationship.String(),
		"display_name": attributeAny(r.DisplayName),
		"real_name":    attributeAny(r.RealName),
		"alias":        attributeAny(r.Alias),
	}
	if r.HasPresence {
		m["presence"] = presenceAny(r.Presence)
	}
	return m
}

func sessionAny(r session.Record) map[string]any {
	return map[string]any{
		"name":       r.Name,
		"state":      string(r.State),
		"settings":   settingsAny(r.Settings),
		"players":    identitiesAny(r.Players),
		"owner":      r.Owner.String(),
		"local_user": r.LocalUser,
		"remote_id":  r.RemoteID,
		"updating":   r.Updating,
	}
}

func descriptorAny(d backend.SessionDescriptor) map[string]any {
	return map[string]any{
		"remote_id":  d.RemoteID,
		"name":       d.Name,
		"owner":      d.Owner.String(),
		"settings":   settingsAny(d.Settings),
		"open_slots": d.OpenSlots,
	}
}
