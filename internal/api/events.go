package api

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/presence"
	"github.com/matheus3301/netid/internal/session"
	"github.com/matheus3301/netid/internal/status"
	intsync "github.com/matheus3301/netid/internal/sync"
	"github.com/matheus3301/netid/internal/userinfo"
	"github.com/matheus3301/netid/internal/wa"
)

// PayloadVersion is stamped on every event envelope.
const PayloadVersion = 1

const watchBuffer = 256

// WatchEvents streams bus events whose kind starts with the requested
// namespace ("" for all) until the client goes away.
func (s *Service) WatchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := s.Bus.Subscribe(str(in, "namespace"), watchBuffer)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := s.envelope(evt)
			if err != nil {
				s.Logger.Warn("event not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) envelope(evt bus.Event) (*structpb.Struct, error) {
	return newStruct(map[string]any{
		"event_id":            uuid.New().String(),
		"seq":                 evt.Seq,
		"profile":             s.Profile,
		"kind":                evt.Kind,
		"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
		"payload_version":     PayloadVersion,
		"payload":             payloadAny(evt.Payload),
	})
}

// payloadAny flattens a bus payload. Unknown payload types encode as an
// empty object.
func payloadAny(payload any) map[string]any {
	switch p := payload.(type) {
	case status.StatusChange:
		return map[string]any{"local_user": p.LocalUser, "from": string(p.From), "to": string(p.To)}
	case presence.FriendsChanged:
		records := make([]any, 0, len(p.Records))
		for _, r := range p.Records {
			records = append(records, friendAny(r))
		}
		return map[string]any{
			"local_user": p.LocalUser,
			"local":      p.Local.String(),
			"full":       p.Full,
			"records":    records,
		}
	case presence.FriendshipChanged:
		return map[string]any{
			"local_user":   p.LocalUser,
			"target":       p.Target.String(),
			"relationship": p.Status.String(),
		}
	case presence.PresenceChanged:
		return map[string]any{"local_user": p.LocalUser, "presence": presenceAny(p.Presence)}
	case presence.IdentityUpgraded:
		return map[string]any{"old": p.Old.String(), "new": p.New.String()}
	case userinfo.ProfileResolved:
		m := profileAny(p.Profile)
		m["target"] = p.Target.String()
		return m
	case session.StateChanged:
		return map[string]any{
			"name":       p.Name,
			"local_user": p.LocalUser,
			"from":       string(p.From),
			"to":         string(p.To),
		}
	case session.PlayersChanged:
		return map[string]any{"name": p.Name, "players": identitiesAny(p.Players)}
	case wa.AuthEvent:
		return map[string]any{"type": string(p.Type), "qr_code": p.QRCode, "message": p.Message}
	case wa.ConnectionChanged:
		return map[string]any{"state": p.State, "reason": p.Reason}
	case intsync.DirectorySynced:
		return map[string]any{"local_user": p.LocalUser, "friendships": p.Friendships}
	default:
		return map[string]any{}
	}
}
