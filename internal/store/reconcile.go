package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/identity"
)

// ReconcileUpgrade moves every row keyed by old onto upgraded after an
// identity gained a component:
// 1. Ensures an entry for upgraded exists, filling blank attributes from old
// 2. Re-keys friendships where old is the local side or the target
// 3. Deletes the entry for old
// Returns the number of friendship rows moved.
func (db *DB) ReconcileUpgrade(old, upgraded identity.Identity) (int64, error) {
	oldKey, err := keyHex(old)
	if err != nil {
		return 0, fmt.Errorf("old identity: %w", err)
	}
	newKey, err := keyHex(upgraded)
	if err != nil {
		return 0, fmt.Errorf("upgraded identity: %w", err)
	}
	if oldKey == newKey {
		return 0, nil
	}

	var moved int64
	err = db.withTx("reconcile upgrade", func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		if err := upsertIdentity(tx, upgraded, backend.Profile{}, now); err != nil {
			return fmt.Errorf("ensure upgraded identity: %w", err)
		}
		if _, err := tx.Exec(`
			UPDATE identities SET
				display_name = CASE WHEN identities.display_name = '' THEN o.display_name ELSE identities.display_name END,
				real_name = CASE WHEN identities.real_name = '' THEN o.real_name ELSE identities.real_name END,
				alias = CASE WHEN identities.alias = '' THEN o.alias ELSE identities.alias END
			FROM (SELECT display_name, real_name, alias FROM identities WHERE key = ?) AS o
			WHERE identities.key = ?`, oldKey, newKey); err != nil {
			return fmt.Errorf("merge attributes: %w", err)
		}

		for _, col := range []string{"local_key", "target_key"} {
			res, err := tx.Exec(`UPDATE OR REPLACE friendships SET `+col+` = ?, updated_at = ? WHERE `+col+` = ?`, newKey, now, oldKey)
			if err != nil {
				return fmt.Errorf("rekey friendships %s: %w", col, err)
			}
			n, _ := res.RowsAffected()
			moved += n
		}

		if _, err := tx.Exec(`DELETE FROM identities WHERE key = ?`, oldKey); err != nil {
			return fmt.Errorf("delete old identity: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}
