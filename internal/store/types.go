package store

import (
	"encoding/hex"
	"fmt"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/identity"
)

// IdentityRecord is a persisted directory entry for one remote account.
type IdentityRecord struct {
	ID        identity.Identity
	Profile   backend.Profile
	UpdatedAt int64
}

// FriendshipRecord is a persisted relationship between a local identity and
// a target.
type FriendshipRecord struct {
	Local     identity.Identity
	Target    identity.Identity
	Status    backend.Relationship
	UpdatedAt int64
}

func keyHex(id identity.Identity) (string, error) {
	k := id.Key()
	if k == "" {
		return "", identity.ErrInvalidIdentity
	}
	return k.Hex(), nil
}

func identityFromHex(s string) (identity.Identity, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return identity.Invalid, fmt.Errorf("decode key %q: %w", s, err)
	}
	return identity.Decode(b)
}
