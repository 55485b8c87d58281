package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/identity"
)

const upsertIdentitySQL = `
	INSERT INTO identities (key, primary_id, secondary_id, display_name, real_name, alias, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE identities.display_name END,
		real_name = CASE WHEN excluded.real_name != '' THEN excluded.real_name ELSE identities.real_name END,
		alias = CASE WHEN excluded.alias != '' THEN excluded.alias ELSE identities.alias END,
		updated_at = excluded.updated_at`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertIdentity(x execer, id identity.Identity, p backend.Profile, now int64) error {
	key, err := keyHex(id)
	if err != nil {
		return err
	}
	_, err = x.Exec(upsertIdentitySQL, key, id.Primary(), id.Secondary(), p.DisplayName, p.RealName, p.Alias, now)
	return err
}

// UpsertIdentity inserts or updates a directory entry. Empty profile fields
// never overwrite stored values.
func (db *DB) UpsertIdentity(id identity.Identity, p backend.Profile) error {
	if err := upsertIdentity(db, id, p, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert identity %s: %w", id, err)
	}
	return nil
}

// BulkUpsertIdentities inserts or updates multiple entries in a single
// transaction.
func (db *DB) BulkUpsertIdentities(records []IdentityRecord) error {
	return db.withTx("bulk upsert identities", func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		for _, r := range records {
			if err := upsertIdentity(tx, r.ID, r.Profile, now); err != nil {
				return fmt.Errorf("%s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// GetIdentity returns the directory entry for id, or nil if none exists.
func (db *DB) GetIdentity(id identity.Identity) (*IdentityRecord, error) {
	key, err := keyHex(id)
	if err != nil {
		return nil, err
	}
	r := IdentityRecord{ID: id}
	err = db.QueryRow(`SELECT display_name, real_name, alias, updated_at FROM identities WHERE key = ?`, key).
		Scan(&r.Profile.DisplayName, &r.Profile.RealName, &r.Profile.Alias, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LookupProfile returns the persisted profile for id. Lookup errors are
// reported as a miss.
func (db *DB) LookupProfile(id identity.Identity) (backend.Profile, bool) {
	r, err := db.GetIdentity(id)
	if err != nil || r == nil {
		return backend.Profile{}, false
	}
	return r.Profile, true
}

// IdentityCount returns the number of directory entries.
func (db *DB) IdentityCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM identities`).Scan(&count)
	return count, err
}
