// Package identity implements the dual-component account identity and its
// canonical byte and display encodings.
//
// An Identity carries up to two components: a durable primary id assigned by
// the platform, and a secondary id tied to the authentication provider the
// user signed in with. At least one must be present. Values are immutable;
// upgrading an identity with a newly learned component yields a new value
// with a different Key, so holders of the old key must re-key explicitly.
package identity

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/zeebo/xxh3"
)

// ComponentSize is the fixed width of one encoded component buffer.
const ComponentSize = 32

var (
	ErrInvalidIdentity   = errors.New("invalid identity")
	ErrMalformedEncoding = errors.New("malformed identity encoding")
)

// Tag describes which components an encoding carries.
type Tag byte

const (
	TagNone Tag = iota
	TagPrimary
	TagSecondary
	TagBoth
)

var componentRegexp = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,32}$`)

// Identity is one remote account. The zero value is the invalid sentinel.
type Identity struct {
	primary   string
	secondary string
}

// Invalid is the sentinel for "no identity".
var Invalid = Identity{}

// Key is the encoded form of a valid identity, usable as a map key.
type Key string

// ValidateComponent reports whether s is a well-formed component.
func ValidateComponent(s string) error {
	if !componentRegexp.MatchString(s) {
		return fmt.Errorf("component %q: must match %s", s, componentRegexp.String())
	}
	return nil
}

// New builds an identity from its components. Empty strings mean absent.
func New(primary, secondary string) (Identity, error) {
	if primary == "" && secondary == "" {
		return Invalid, ErrInvalidIdentity
	}
	for _, c := range []string{primary, secondary} {
		if c == "" {
			continue
		}
		if err := ValidateComponent(c); err != nil {
			return Invalid, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
		}
	}
	return Identity{primary: primary, secondary: secondary}, nil
}

// MustNew is New for literals known to be valid. It panics on error.
func MustNew(primary, secondary string) Identity {
	id, err := New(primary, secondary)
	if err != nil {
		panic(err)
	}
	return id
}

// FromPrimary returns a primary-only identity.
func FromPrimary(primary string) (Identity, error) {
	return New(primary, "")
}

// FromSecondary returns a secondary-only identity.
func FromSecondary(secondary string) (Identity, error) {
	return New("", secondary)
}

func (id Identity) Primary() string   { return id.primary }
func (id Identity) Secondary() string { return id.secondary }
func (id Identity) HasPrimary() bool  { return id.primary != "" }
func (id Identity) HasSecondary() bool {
	return id.secondary != ""
}

// IsValid reports whether at least one component is present.
func (id Identity) IsValid() bool {
	return id.primary != "" || id.secondary != ""
}

// Tag returns the encoding tag matching the present components.
func (id Identity) Tag() Tag {
	var t Tag
	if id.primary != "" {
		t |= TagPrimary
	}
	if id.secondary != "" {
		t |= TagSecondary
	}
	return t
}

// Encode returns the canonical byte form.
func (id Identity) Encode() ([]byte, error) {
	if !id.IsValid() {
		return nil, ErrInvalidIdentity
	}
	tag := id.Tag()
	buf := make([]byte, 1, 1+2*ComponentSize)
	buf[0] = byte(tag)
	if tag&TagPrimary != 0 {
		buf = appendComponent(buf, id.primary)
	}
	if tag&TagSecondary != 0 {
		buf = appendComponent(buf, id.secondary)
	}
	return buf, nil
}

func appendComponent(buf []byte, c string) []byte {
	var slot [ComponentSize]byte
	copy(slot[:], c)
	return append(buf, slot[:]...)
}

// Decode parses the canonical byte form.
func Decode(b []byte) (Identity, error) {
	if len(b) == 0 {
		return Invalid, fmt.Errorf("%w: empty buffer", ErrMalformedEncoding)
	}
	tag := Tag(b[0])
	if tag > TagBoth {
		return Invalid, fmt.Errorf("%w: unknown tag %d", ErrMalformedEncoding, tag)
	}
	want := 1
	if tag&TagPrimary != 0 {
		want += ComponentSize
	}
	if tag&TagSecondary != 0 {
		want += ComponentSize
	}
	if len(b) != want {
		return Invalid, fmt.Errorf("%w: tag %d wants %d bytes, got %d", ErrMalformedEncoding, tag, want, len(b))
	}
	if tag == TagNone {
		return Invalid, ErrInvalidIdentity
	}

	rest := b[1:]
	var id Identity
	if tag&TagPrimary != 0 {
		c, err := decodeComponent(rest[:ComponentSize])
		if err != nil {
			return Invalid, fmt.Errorf("primary: %w", err)
		}
		id.primary = c
		rest = rest[ComponentSize:]
	}
	if tag&TagSecondary != 0 {
		c, err := decodeComponent(rest[:ComponentSize])
		if err != nil {
			return Invalid, fmt.Errorf("secondary: %w", err)
		}
		id.secondary = c
	}
	return id, nil
}

func decodeComponent(slot []byte) (string, error) {
	n := bytes.IndexByte(slot, 0)
	if n < 0 {
		n = len(slot)
	}
	for _, pad := range slot[n:] {
		if pad != 0 {
			return "", fmt.Errorf("%w: non-zero padding", ErrMalformedEncoding)
		}
	}
	c := string(slot[:n])
	if err := ValidateComponent(c); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	return c, nil
}

// Key returns the map key for id, or "" for the invalid identity.
func (id Identity) Key() Key {
	b, err := id.Encode()
	if err != nil {
		return ""
	}
	return Key(b)
}

// Identity decodes the key back into its identity.
func (k Key) Identity() (Identity, error) {
	return Decode([]byte(k))
}

// Hex returns the key as lowercase hex, for storage and logs.
func (k Key) Hex() string {
	return hex.EncodeToString([]byte(k))
}

// Equal compares the encoded forms.
func (id Identity) Equal(other Identity) bool {
	return id.Key() == other.Key()
}

// Hash is xxh3-64 over the encoding. The invalid identity hashes to 0.
func (id Identity) Hash() uint64 {
	b, err := id.Encode()
	if err != nil {
		return 0
	}
	return xxh3.Hash(b)
}

// Fingerprint is a short hex digest suitable for log fields.
func (id Identity) Fingerprint() string {
	return fmt.Sprintf("%016x", id.Hash())[:8]
}

// WithPrimary returns a copy of id with the primary component set.
func (id Identity) WithPrimary(primary string) (Identity, error) {
	return New(primary, id.secondary)
}

// WithSecondary returns a copy of id with the secondary component set.
func (id Identity) WithSecondary(secondary string) (Identity, error) {
	return New(id.primary, secondary)
}

// String returns the display form: "p:<primary>", "s:<secondary>" or both
// joined by "+". The invalid identity renders as "".
func (id Identity) String() string {
	var parts []string
	if id.primary != "" {
		parts = append(parts, "p:"+id.primary)
	}
	if id.secondary != "" {
		parts = append(parts, "s:"+id.secondary)
	}
	return strings.Join(parts, "+")
}

// Parse is the inverse of String.
func Parse(s string) (Identity, error) {
	if s == "" {
		return Invalid, ErrInvalidIdentity
	}
	parts := strings.Split(s, "+")
	if len(parts) > 2 {
		return Invalid, fmt.Errorf("%w: %q has too many parts", ErrMalformedEncoding, s)
	}
	var primary, secondary string
	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, "p:") && i == 0:
			primary = strings.TrimPrefix(part, "p:")
			if primary == "" {
				return Invalid, fmt.Errorf("%w: empty primary in %q", ErrMalformedEncoding, s)
			}
		case strings.HasPrefix(part, "s:") && secondary == "":
			secondary = strings.TrimPrefix(part, "s:")
			if secondary == "" {
				return Invalid, fmt.Errorf("%w: empty secondary in %q", ErrMalformedEncoding, s)
			}
		default:
			return Invalid, fmt.Errorf("%w: unexpected part %q in %q", ErrMalformedEncoding, part, s)
		}
	}
	id, err := New(primary, secondary)
	if err != nil {
		return Invalid, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	return id, nil
}
