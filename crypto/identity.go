package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// IdentityPrefix defines the human-readable bech32 prefixes understood by the
// marketplace.
type IdentityPrefix string

const (
	AccountPrefix IdentityPrefix = "mys"
	PackagePrefix IdentityPrefix = "myspkg"
)

// IdentityLength is the byte length of an account or package identity.
const IdentityLength = 20

// Identity identifies an account or a contract package. Identities are
// comparable and are used directly as map keys and record fields.
type Identity [IdentityLength]byte

// IdentityFromBytes copies b into an Identity.
func IdentityFromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != IdentityLength {
		return id, fmt.Errorf("identity must be %d bytes long, got %d", IdentityLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool { return id == Identity{} }

// Bytes returns a copy of the raw identity bytes.
func (id Identity) Bytes() []byte { return append([]byte(nil), id[:]...) }

// String renders the identity using the account prefix.
func (id Identity) String() string { return id.Format(AccountPrefix) }

// Format renders the identity as a bech32 string with the supplied prefix.
func (id Identity) Format(prefix IdentityPrefix) string {
	conv, err := bech32.ConvertBits(id[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseIdentity decodes a bech32 account or package identity.
func ParseIdentity(s string) (Identity, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Identity{}, fmt.Errorf("identity required")
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	switch IdentityPrefix(prefix) {
	case AccountPrefix, PackagePrefix:
	default:
		return Identity{}, fmt.Errorf("unsupported identity prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Identity{}, fmt.Errorf("error converting bits: %w", err)
	}
	return IdentityFromBytes(conv)
}
