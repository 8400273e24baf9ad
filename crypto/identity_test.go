package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestIdentityRoundTrip(t *testing.T) {
	var id Identity
	copy(id[:], bytes.Repeat([]byte{0x42}, IdentityLength))

	encoded := id.String()
	if !strings.HasPrefix(encoded, "mys1") {
		t.Fatalf("unexpected prefix: %s", encoded)
	}
	parsed, err := ParseIdentity(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch")
	}

	pkg, err := ParseIdentity(id.Format(PackagePrefix))
	if err != nil {
		t.Fatalf("parse package identity: %v", err)
	}
	if pkg != id {
		t.Fatalf("package identity must decode to the same bytes")
	}
}

func TestParseIdentityRejectsMalformed(t *testing.T) {
	cases := []string{"", "mys1notvalid", "account-hash-00", "cosmos1qqqsyqcyq5rqwzqfpg9scrgwpugpzysnd3ywrp"}
	for _, input := range cases {
		if _, err := ParseIdentity(input); err == nil {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}

func TestContractHashParsing(t *testing.T) {
	var h ContractHash
	copy(h[:], bytes.Repeat([]byte{0xAB}, 32))
	parsed, err := ParseContractHash(h.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != h {
		t.Fatalf("contract hash mismatch")
	}
	alias, err := ParseContractHash(strings.Replace(h.String(), "contract-", "hash-", 1))
	if err != nil || alias != h {
		t.Fatalf("hash- alias not accepted: %v", err)
	}
	if _, err := ParseContractHash("contract-abcd"); err == nil {
		t.Fatalf("expected short hash to fail")
	}
	if _, err := ParseContractHash(strings.TrimPrefix(h.String(), "contract-")); err == nil {
		t.Fatalf("expected missing prefix to fail")
	}
}

func TestPurseRefParsing(t *testing.T) {
	var p PurseRef
	copy(p[:], bytes.Repeat([]byte{0x07}, 32))
	parsed, err := ParsePurseRef(p.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != p {
		t.Fatalf("purse mismatch")
	}
	bare := strings.TrimSuffix(p.String(), "-007")
	if parsed, err := ParsePurseRef(bare); err != nil || parsed != p {
		t.Fatalf("expected bare uref to parse: %v", err)
	}
	if _, err := ParsePurseRef("purse-123"); err == nil {
		t.Fatalf("expected malformed purse to fail")
	}
}
