package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/logging"
	"github.com/matheus3301/netid/internal/store"
)

// Reconciler keeps per-identity refresh checkpoints in the sync_state table,
// keyed "friends_refreshed:<identity hex>" with a unix-millisecond value.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a reconciler over db.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logging.OrNop(logger)}
}

const refreshPrefix = "friends_refreshed:"

func refreshKey(local identity.Identity) string {
	return refreshPrefix + local.Key().Hex()
}

func (r *Reconciler) put(key string, at time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, strconv.FormatInt(at.UnixMilli(), 10), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write checkpoint %s: %w", key, err)
	}
	return nil
}

func (r *Reconciler) get(key string) (time.Time, error) {
	var raw string
	if err := r.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&raw); err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt checkpoint %s=%q", key, raw)
	}
	return time.UnixMilli(ms), nil
}

// MarkRefreshed records that the friend list of local was persisted at t.
func (r *Reconciler) MarkRefreshed(local identity.Identity, t time.Time) error {
	return r.put(refreshKey(local), t)
}

// LastRefresh returns when the friend list of local was last persisted.
func (r *Reconciler) LastRefresh(local identity.Identity) (time.Time, bool) {
	at, err := r.get(refreshKey(local))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false
	case err != nil:
		r.logger.Warn("read refresh checkpoint", zap.Error(err))
		return time.Time{}, false
	}
	return at, true
}

// Rekey moves the checkpoint of old onto upgraded, replacing any the
// upgraded identity already had.
func (r *Reconciler) Rekey(old, upgraded identity.Identity) error {
	_, err := r.db.Exec(`UPDATE OR REPLACE sync_state SET key = ? WHERE key = ?`, refreshKey(upgraded), refreshKey(old))
	return err
}
