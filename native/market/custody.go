package market

import (
	"fmt"

	"mystra/crypto"
)

// Well-known names under which the custody purse references are persisted.
const (
	PurseNameOffers   = "offers_purse"
	PurseNameAuctions = "auctions_purse"
)

// NamedKeys persists purse references under stable names.
type NamedKeys interface {
	NamedPurse(name string) (crypto.PurseRef, bool, error)
	PutNamedPurse(name string, ref crypto.PurseRef) error
}

// ResolvePurse returns the purse stored under name, creating and recording it
// on first use. Later resolutions return the same purse.
func ResolvePurse(keys NamedKeys, ledger Ledger, name string) (crypto.PurseRef, error) {
	if keys == nil || ledger == nil {
		return crypto.PurseRef{}, fmt.Errorf("%w: %s: store not configured", ErrPurseRetrieval, name)
	}
	ref, ok, err := keys.NamedPurse(name)
	if err != nil {
		return crypto.PurseRef{}, fmt.Errorf("%w: %s: %v", ErrPurseRetrieval, name, err)
	}
	if ok {
		return ref, nil
	}
	ref, err = ledger.CreateAccount()
	if err != nil {
		return crypto.PurseRef{}, fmt.Errorf("%w: create %s: %v", ErrPurseRetrieval, name, err)
	}
	if err := keys.PutNamedPurse(name, ref); err != nil {
		return crypto.PurseRef{}, fmt.Errorf("%w: record %s: %v", ErrPurseRetrieval, name, err)
	}
	return ref, nil
}

// ResolveVaults resolves both custody purses. The two purses are always
// distinct so offer escrow never mixes with auction escrow.
func ResolveVaults(keys NamedKeys, ledger Ledger) (Vaults, error) {
	offers, err := ResolvePurse(keys, ledger, PurseNameOffers)
	if err != nil {
		return Vaults{}, err
	}
	auctions, err := ResolvePurse(keys, ledger, PurseNameAuctions)
	if err != nil {
		return Vaults{}, err
	}
	if offers == auctions {
		return Vaults{}, fmt.Errorf("%w: offers and auctions resolve to the same purse", ErrPurseRetrieval)
	}
	return Vaults{Offers: offers, Auctions: auctions}, nil
}
