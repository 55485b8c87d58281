package memory

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters, light enough for tests that seed many accounts.
const (
	argonTime    = 1
	argonMemory  = 8 * 1024
	argonThreads = 2
	argonKeyLen  = 32
)

// verifier holds a salted argon2id key instead of a seeded secret.
type verifier struct {
	salt []byte
	key  []byte
}

func newVerifier(secret string) verifier {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	return verifier{salt: salt, key: argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)}
}

func (v verifier) match(secret string) bool {
	if len(v.key) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(secret), v.salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, v.key) == 1
}
