// Package userinfo resolves display attributes of remote users through
// fan-out profile lookups and keeps the results in a TTL cache.
package userinfo

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/logging"
	"github.com/matheus3301/netid/internal/query"
)

// Directory is a persisted source of previously resolved profiles.
type Directory interface {
	LookupProfile(id identity.Identity) (backend.Profile, bool)
}

// ProfileResolved is the payload of profile.resolved events.
type ProfileResolved struct {
	Target  identity.Identity
	Profile backend.Profile
}

// ItemFunc observes each sub-result of a query as it arrives, before the
// query's completion.
type ItemFunc func(target identity.Identity, p backend.Profile, err error)

// Resolver issues profile lookups through a query.Correlator.
type Resolver struct {
	platform   backend.Platform
	correlator *query.Correlator
	cache      *cache.Cache
	directory  Directory
	bus        *bus.Bus
	logger     *zap.Logger
}

// NewResolver creates a resolver. directory may be nil.
func NewResolver(p backend.Platform, c *query.Correlator, ttl time.Duration, directory Directory, b *bus.Bus, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{
		platform:   p,
		correlator: c,
		cache:      cache.New(ttl, ttl+ttl/2),
		directory:  directory,
		bus:        b,
		logger:     logging.OrNop(logger),
	}
}

// Query looks up every target's profile on behalf of local. Successful
// lookups are cached and published before onItem runs for them.
func (r *Resolver) Query(ctx context.Context, localUser int, local identity.Identity, targets []identity.Identity, onItem ItemFunc, onComplete func(query.Result)) (uint64, error) {
	return r.correlator.Begin(ctx, localUser, local, targets, func(t query.Ticket, target identity.Identity) {
		r.platform.LookupProfile(local, target, func(p backend.Profile, err error) {
			if err != nil {
				r.logger.Debug("profile lookup failed",
					zap.Uint64("query_id", t.QueryID()),
					zap.String("identity", target.String()),
					zap.Error(err),
				)
			} else {
				r.cache.Set(cacheKey(target), p, cache.DefaultExpiration)
				r.bus.Emit(bus.KindProfileResolved, ProfileResolved{Target: target, Profile: p})
			}
			if onItem != nil {
				onItem(target, p, err)
			}
			t.Done(err)
		})
	}, onComplete)
}

// Get returns a resolved profile from the cache, then the directory.
func (r *Resolver) Get(id identity.Identity) (backend.Profile, bool) {
	if v, ok := r.cache.Get(cacheKey(id)); ok {
		return v.(backend.Profile), true
	}
	if r.directory == nil {
		return backend.Profile{}, false
	}
	return r.directory.LookupProfile(id)
}

// Forget drops id from the cache.
func (r *Resolver) Forget(id identity.Identity) {
	r.cache.Delete(cacheKey(id))
}

// Rekey moves a cached profile from old to upgraded.
func (r *Resolver) Rekey(old, upgraded identity.Identity) {
	if v, ok := r.cache.Get(cacheKey(old)); ok {
		r.cache.Set(cacheKey(upgraded), v, cache.DefaultExpiration)
		r.cache.Delete(cacheKey(old))
	}
}

func cacheKey(id identity.Identity) string {
	return string(id.Key())
}
