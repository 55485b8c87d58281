// Package sync persists directory changes published on the bus into the
// app-owned store. It is write-behind only: nothing here feeds the
// in-memory caches.
package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/presence"
	"github.com/matheus3301/netid/internal/store"
	"github.com/matheus3301/netid/internal/userinfo"
	"go.uber.org/zap"
)

// DirectorySynced is the payload of directory.synced events.
type DirectorySynced struct {
	LocalUser   int
	Friendships int
}

// Engine handles idempotent persistence of friend lists, profiles and
// identity upgrades. It subscribes to the matching namespaces on the bus.
type Engine struct {
	db         *store.DB
	bus        *bus.Bus
	reconciler *Reconciler
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, r *Reconciler, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if r == nil {
		r = NewReconciler(db, logger)
	}
	return &Engine{
		db:         db,
		bus:        b,
		reconciler: r,
		logger:     logger,
	}
}

// Start subscribes to directory events on the bus. A single subscription
// keeps events of different namespaces in publish order.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("", 512)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if persisted(evt.Kind) {
					e.handleEvent(evt)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func persisted(kind string) bool {
	for _, ns := range []string{"friends.", "profile.", "identity."} {
		if strings.HasPrefix(kind, ns) {
			return true
		}
	}
	return false
}

// Stop stops the engine and waits for the in-flight event to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	var err error
	switch p := evt.Payload.(type) {
	case presence.FriendsChanged:
		err = e.PersistFriends(p)
	case userinfo.ProfileResolved:
		err = e.db.UpsertIdentity(p.Target, p.Profile)
	case presence.IdentityUpgraded:
		err = e.PersistUpgrade(p)
	default:
		return
	}
	if err != nil {
		e.logger.Error("failed to persist event", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

// PersistFriends stores a friend-list change. A full snapshot replaces the
// stored list of the local identity; a partial one updates only the given
// entries. Snapshots without a local identity are presence-only and skipped.
func (e *Engine) PersistFriends(c presence.FriendsChanged) error {
	if !c.Local.IsValid() {
		return nil
	}

	records := make([]store.IdentityRecord, 0, len(c.Records))
	for _, r := range c.Records {
		records = append(records, store.IdentityRecord{ID: r.Target, Profile: resolvedProfile(r)})
	}

	if c.Full {
		friends := make([]backend.Friendship, 0, len(c.Records))
		for _, r := range c.Records {
			friends = append(friends, backend.Friendship{Target: r.Target, Status: r.Relationship})
		}
		if err := e.db.ReplaceFriendships(c.Local, friends); err != nil {
			return fmt.Errorf("replace friendships: %w", err)
		}
		if err := e.db.BulkUpsertIdentities(records); err != nil {
			return fmt.Errorf("upsert identities: %w", err)
		}
		if err := e.reconciler.MarkRefreshed(c.Local, time.Now()); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		e.bus.Emit(bus.KindDirectorySynced, DirectorySynced{LocalUser: c.LocalUser, Friendships: len(friends)})
		return nil
	}

	for _, r := range c.Records {
		if err := e.db.SetFriendship(c.Local, r.Target, r.Relationship); err != nil {
			return fmt.Errorf("set friendship %s: %w", r.Target, err)
		}
	}
	return e.db.BulkUpsertIdentities(records)
}

// PersistUpgrade re-keys stored rows after an identity gained a component.
func (e *Engine) PersistUpgrade(u presence.IdentityUpgraded) error {
	moved, err := e.db.ReconcileUpgrade(u.Old, u.New)
	if err != nil {
		return fmt.Errorf("reconcile upgrade: %w", err)
	}
	if err := e.reconciler.Rekey(u.Old, u.New); err != nil {
		return fmt.Errorf("rekey checkpoint: %w", err)
	}
	e.logger.Info("identity upgraded",
		zap.String("old", u.Old.String()),
		zap.String("new", u.New.String()),
		zap.Int64("friendships_moved", moved))
	return nil
}

// resolvedProfile keeps only attributes that were actually resolved, so
// placeholders never overwrite stored names.
func resolvedProfile(r presence.FriendRecord) backend.Profile {
	var p backend.Profile
	if r.DisplayName.Resolved {
		p.DisplayName = r.DisplayName.Value
	}
	if r.RealName.Resolved {
		p.RealName = r.RealName.Value
	}
	if r.Alias.Resolved {
		p.Alias = r.Alias.Value
	}
	return p
}
