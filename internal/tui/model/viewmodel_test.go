package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/netid/internal/api"
	"github.com/matheus3301/netid/internal/tui/client"
)

type call struct {
	method string
	req    map[string]any
}

type fakeCaller struct {
	calls     []call
	responses map[string]map[string]any
	err       error
}

func (f *fakeCaller) Call(_ context.Context, method string, req map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, call{method, req})
	if f.err != nil {
		return nil, f.err
	}
	return f.responses[method], nil
}

func friendsResp() map[string]any {
	return map[string]any{
		"queried": true,
		"friends": []any{
			map[string]any{"identity": "zed", "relationship": "friends", "display_name": map[string]any{"value": "zed"}},
			map[string]any{"identity": "ana", "relationship": "friends", "display_name": map[string]any{"value": "Ana"}},
		},
	}
}

func TestLoadFriendsSortsByName(t *testing.T) {
	fc := &fakeCaller{responses: map[string]map[string]any{api.MethodListFriends: friendsResp()}}
	vm := NewViewModel(fc, 1)

	require.NoError(t, vm.LoadFriends(context.Background()))
	friends, queried := vm.Friends()
	require.True(t, queried)
	require.Len(t, friends, 2)
	assert.Equal(t, "Ana", FriendName(friends[0]))
	assert.Equal(t, 1, fc.calls[0].req["local_user"])
}

func TestApplyPresencePatchesFriend(t *testing.T) {
	fc := &fakeCaller{responses: map[string]map[string]any{api.MethodListFriends: friendsResp()}}
	vm := NewViewModel(fc, 0)
	require.NoError(t, vm.LoadFriends(context.Background()))

	evt := client.Event{Kind: "presence.changed", Payload: map[string]any{
		"local_user": float64(0),
		"presence":   map[string]any{"identity": "ana", "state": "busy"},
	}}
	assert.Equal(t, EffectFriends, vm.Apply(evt))
	friends, _ := vm.Friends()
	assert.Equal(t, "busy", client.String(client.Object(friends[0], "presence"), "state"))

	evt.Payload["local_user"] = float64(1)
	assert.Equal(t, EffectNone, vm.Apply(evt))

	evt.Payload["local_user"] = float64(0)
	evt.Payload["presence"] = map[string]any{"identity": "stranger", "state": "online"}
	assert.Equal(t, EffectNone, vm.Apply(evt))
}

func TestApplyKinds(t *testing.T) {
	vm := NewViewModel(&fakeCaller{}, 0)

	assert.True(t, vm.Apply(client.Event{Kind: "friends.relationship_changed"}).Has(EffectFriends))
	assert.True(t, vm.Apply(client.Event{Kind: "session.players_changed"}).Has(EffectSessions))
	assert.True(t, vm.Apply(client.Event{Kind: "account.status_changed"}).Has(EffectStatus))
	assert.Equal(t, EffectNone, vm.Apply(client.Event{Kind: "profile.resolved"}))

	assert.Equal(t, EffectStatus, vm.Apply(client.Event{Kind: "platform.connection", Payload: map[string]any{"state": "connected"}}))
	assert.Equal(t, "connected", vm.Connection())

	assert.Equal(t, EffectAuth, vm.Apply(client.Event{Kind: "auth.qr", Payload: map[string]any{"type": "qr_code", "qr_code": "2@x"}}))
	assert.Equal(t, AuthState{Type: "qr_code", QRCode: "2@x"}, vm.Auth())
}

func TestNeedsPairing(t *testing.T) {
	status := func(backend, state string) map[string]any {
		return map[string]any{
			"backend":     backend,
			"local_users": []any{map[string]any{"local_user": float64(0), "status": state}},
		}
	}
	fc := &fakeCaller{responses: map[string]map[string]any{api.MethodStatus: status("whatsapp", "LOGGED_OUT")}}
	vm := NewViewModel(fc, 0)
	require.NoError(t, vm.LoadStatus(context.Background()))
	assert.True(t, vm.NeedsPairing())

	fc.responses[api.MethodStatus] = status("memory", "LOGGED_OUT")
	require.NoError(t, vm.LoadStatus(context.Background()))
	assert.False(t, vm.NeedsPairing())

	fc.responses[api.MethodStatus] = status("whatsapp", "LOGGED_IN")
	require.NoError(t, vm.LoadStatus(context.Background()))
	assert.False(t, vm.NeedsPairing())
}

func TestRunCommands(t *testing.T) {
	fc := &fakeCaller{responses: map[string]map[string]any{}}
	vm := NewViewModel(fc, 0)
	ctx := context.Background()

	_, err := vm.Run(ctx, "invite", nil)
	assert.EqualError(t, err, "usage: invite <identity>")

	msg, err := vm.Run(ctx, "invite", []string{"ana"})
	require.NoError(t, err)
	assert.Equal(t, "invite ana: ok", msg)
	last := fc.calls[len(fc.calls)-1]
	assert.Equal(t, api.MethodSendInvite, last.method)
	assert.Equal(t, "ana", last.req["target"])

	_, err = vm.Run(ctx, "create", []string{"Arena", "eight"})
	assert.Error(t, err)
	_, err = vm.Run(ctx, "create", []string{"Arena", "8"})
	require.NoError(t, err)
	last = fc.calls[len(fc.calls)-1]
	assert.Equal(t, api.MethodCreateSession, last.method)
	assert.Equal(t, 8, last.req["settings"].(map[string]any)["public_connections"])

	_, err = vm.Run(ctx, "presence", []string{"away", "back", "soon"})
	require.NoError(t, err)
	last = fc.calls[len(fc.calls)-1]
	assert.Equal(t, "back soon", last.req["presence"].(map[string]any)["status"])

	_, err = vm.Run(ctx, "bogus", nil)
	assert.EqualError(t, err, `unknown command "bogus"`)

	fc.err = errors.New("unavailable")
	_, err = vm.Run(ctx, "logout", nil)
	assert.EqualError(t, err, "unavailable")
}
