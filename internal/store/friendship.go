package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/identity"
)

const upsertFriendshipSQL = `
	INSERT INTO friendships (local_key, target_key, status, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(local_key, target_key) DO UPDATE SET
		status = excluded.status,
		updated_at = excluded.updated_at`

// ReplaceFriendships replaces the stored friend list of local with the given
// entries. Targets are also recorded in the identity directory.
func (db *DB) ReplaceFriendships(local identity.Identity, friends []backend.Friendship) error {
	localKey, err := keyHex(local)
	if err != nil {
		return err
	}

	return db.withTx("replace friendships", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM friendships WHERE local_key = ?`, localKey); err != nil {
			return fmt.Errorf("clear: %w", err)
		}

		now := time.Now().UnixMilli()
		if err := upsertIdentity(tx, local, backend.Profile{}, now); err != nil {
			return fmt.Errorf("upsert local identity: %w", err)
		}
		for _, f := range friends {
			if f.Status == backend.NotFriends {
				continue
			}
			targetKey, err := keyHex(f.Target)
			if err != nil {
				return fmt.Errorf("friendship target: %w", err)
			}
			if err := upsertIdentity(tx, f.Target, backend.Profile{}, now); err != nil {
				return fmt.Errorf("upsert identity %s: %w", f.Target, err)
			}
			if _, err := tx.Exec(upsertFriendshipSQL, localKey, targetKey, f.Status.String(), now); err != nil {
				return fmt.Errorf("insert %s: %w", f.Target, err)
			}
		}
		return nil
	})
}

// SetFriendship records a single relationship change. NotFriends removes the
// row.
func (db *DB) SetFriendship(local, target identity.Identity, status backend.Relationship) error {
	localKey, err := keyHex(local)
	if err != nil {
		return err
	}
	targetKey, err := keyHex(target)
	if err != nil {
		return err
	}

	if status == backend.NotFriends {
		_, err := db.Exec(`DELETE FROM friendships WHERE local_key = ? AND target_key = ?`, localKey, targetKey)
		return err
	}

	return db.withTx("set friendship", func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		if err := upsertIdentity(tx, target, backend.Profile{}, now); err != nil {
			return fmt.Errorf("upsert identity %s: %w", target, err)
		}
		_, err := tx.Exec(upsertFriendshipSQL, localKey, targetKey, status.String(), now)
		return err
	})
}

// ListFriendships returns the stored relationships of local ordered by the
// target's display name, then key.
func (db *DB) ListFriendships(local identity.Identity) ([]FriendshipRecord, error) {
	localKey, err := keyHex(local)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`
		SELECT f.target_key, f.status, f.updated_at
		FROM friendships f
		LEFT JOIN identities i ON i.key = f.target_key
		WHERE f.local_key = ?
		ORDER BY COALESCE(NULLIF(i.display_name, ''), f.target_key), f.target_key`, localKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []FriendshipRecord
	for rows.Next() {
		var targetKey, status string
		r := FriendshipRecord{Local: local}
		if err := rows.Scan(&targetKey, &status, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if r.Target, err = identityFromHex(targetKey); err != nil {
			return nil, err
		}
		r.Status = backend.ParseRelationship(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// FriendshipCount returns the total number of stored relationships.
func (db *DB) FriendshipCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM friendships`).Scan(&count)
	return count, err
}
