package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	contractPrefix = "contract-"
	hashPrefix     = "hash-"
	urefPrefix     = "uref-"
	hashHexLength  = 64
)

// ContractHash identifies an asset collection (the registry contract).
type ContractHash [32]byte

// String renders the hash in its formatted "contract-<hex>" form.
func (h ContractHash) String() string { return contractPrefix + hex.EncodeToString(h[:]) }

// IsZero reports whether the hash is unset.
func (h ContractHash) IsZero() bool { return h == ContractHash{} }

// ParseContractHash accepts "contract-<hex>" and the "hash-<hex>" alias.
func ParseContractHash(s string) (ContractHash, error) {
	var h ContractHash
	trimmed := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(trimmed, contractPrefix):
		trimmed = trimmed[len(contractPrefix):]
	case strings.HasPrefix(trimmed, hashPrefix):
		trimmed = trimmed[len(hashPrefix):]
	default:
		return h, fmt.Errorf("contract hash must start with %q", contractPrefix)
	}
	raw, err := decodeHash(trimmed)
	if err != nil {
		return h, fmt.Errorf("contract hash: %w", err)
	}
	copy(h[:], raw)
	return h, nil
}

// PurseRef references a balance-ledger account ("purse").
type PurseRef [32]byte

// String renders the reference as "uref-<hex>-007".
func (p PurseRef) String() string { return urefPrefix + hex.EncodeToString(p[:]) + "-007" }

// IsZero reports whether the reference is unset.
func (p PurseRef) IsZero() bool { return p == PurseRef{} }

// MarshalText implements encoding.TextMarshaler.
func (p PurseRef) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PurseRef) UnmarshalText(text []byte) error {
	parsed, err := ParsePurseRef(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePurseRef decodes "uref-<hex>" with an optional access-rights suffix.
func ParsePurseRef(s string) (PurseRef, error) {
	var p PurseRef
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, urefPrefix) {
		return p, fmt.Errorf("purse must start with %q", urefPrefix)
	}
	trimmed = trimmed[len(urefPrefix):]
	if idx := strings.IndexByte(trimmed, '-'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	raw, err := decodeHash(trimmed)
	if err != nil {
		return p, fmt.Errorf("purse: %w", err)
	}
	copy(p[:], raw)
	return p, nil
}

func decodeHash(s string) ([]byte, error) {
	if len(s) != hashHexLength {
		return nil, fmt.Errorf("must be 32 bytes (got %d hex chars)", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return raw, nil
}
