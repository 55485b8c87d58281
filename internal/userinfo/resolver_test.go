package userinfo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/backend/memory"
	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/query"
)

var (
	me    = identity.MustNew("me", "")
	ana   = identity.MustNew("ana", "")
	bruno = identity.MustNew("bruno", "")
	caio  = identity.MustNew("caio", "")
)

type fakeDirectory map[identity.Key]backend.Profile

func (d fakeDirectory) LookupProfile(id identity.Identity) (backend.Profile, bool) {
	p, ok := d[id.Key()]
	return p, ok
}

func setup(t *testing.T, dir Directory, b *bus.Bus) (*Resolver, *memory.Platform) {
	t.Helper()
	p := memory.New(memory.Options{Deferred: true})
	p.AddAccount("ana", memory.Account{ID: ana, Profile: backend.Profile{DisplayName: "Ana"}})
	p.AddAccount("bruno", memory.Account{ID: bruno, Profile: backend.Profile{DisplayName: "Bruno"}})
	p.AddAccount("caio", memory.Account{ID: caio, Profile: backend.Profile{DisplayName: "Caio"}})
	r := NewResolver(p, query.NewCorrelator(query.Options{}), time.Minute, dir, b, nil)
	return r, p
}

func TestQueryCachesSuccessfulLookups(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("profile.", 10)
	defer unsub()

	r, p := setup(t, nil, b)
	p.Fail(memory.OpLookupProfile, bruno, errors.New("404"))

	items := map[identity.Key]error{}
	var result query.Result
	_, err := r.Query(context.Background(), 0, me, []identity.Identity{ana, bruno, caio},
		func(target identity.Identity, _ backend.Profile, err error) { items[target.Key()] = err },
		func(res query.Result) { result = res },
	)
	require.NoError(t, err)
	p.FlushReverse()

	assert.Len(t, items, 3)
	assert.False(t, result.Success)
	assert.Equal(t, "1: 404", result.Message)

	got, ok := r.Get(ana)
	require.True(t, ok)
	assert.Equal(t, "Ana", got.DisplayName)
	_, ok = r.Get(bruno)
	assert.False(t, ok)

	assert.Len(t, events, 2)
}

func TestGetFallsBackToDirectory(t *testing.T) {
	dir := fakeDirectory{bruno.Key(): {DisplayName: "Bruno (saved)"}}
	r, _ := setup(t, dir, nil)

	got, ok := r.Get(bruno)
	require.True(t, ok)
	assert.Equal(t, "Bruno (saved)", got.DisplayName)
}

func TestRekey(t *testing.T) {
	r, p := setup(t, nil, nil)
	_, err := r.Query(context.Background(), 0, me, []identity.Identity{ana}, nil, nil)
	require.NoError(t, err)
	p.Flush()

	upgraded, err := ana.WithSecondary("5511")
	require.NoError(t, err)
	r.Rekey(ana, upgraded)

	_, ok := r.Get(ana)
	assert.False(t, ok)
	got, ok := r.Get(upgraded)
	require.True(t, ok)
	assert.Equal(t, "Ana", got.DisplayName)

	r.Forget(upgraded)
	_, ok = r.Get(upgraded)
	assert.False(t, ok)
}
