package host

import (
	"context"
	"math/big"

	"github.com/holiman/uint256"

	"mystra/crypto"
	"mystra/native/market"
)

// Entry point names used for devnet helper calls in logs, spans and metrics.
const (
	devMint        = "dev_mint"
	devApprove     = "dev_approve"
	devCreatePurse = "dev_create_purse"
	devFund        = "dev_fund"
)

// GetListing returns the listing slot of an asset.
func (h *Host) GetListing(collection crypto.ContractHash, tokenID *uint256.Int) (slot market.Slot[market.Listing], err error) {
	err = h.view(func(t *tx) error {
		slot, err = t.engine.GetListing(collection, tokenID)
		return err
	})
	return slot, err
}

// GetOffer returns the offer slot an offerer holds on an asset.
func (h *Host) GetOffer(collection crypto.ContractHash, tokenID *uint256.Int, offerer crypto.Identity) (slot market.Slot[market.Offer], err error) {
	err = h.view(func(t *tx) error {
		slot, err = t.engine.GetOffer(collection, tokenID, offerer)
		return err
	})
	return slot, err
}

// GetAuction returns the auction slot of an asset.
func (h *Host) GetAuction(collection crypto.ContractHash, tokenID *uint256.Int) (slot market.Slot[market.Auction], err error) {
	err = h.view(func(t *tx) error {
		slot, err = t.engine.GetAuction(collection, tokenID)
		return err
	})
	return slot, err
}

// VaultBalance returns the amount a custody purse holds on behalf of one
// record.
func (h *Host) VaultBalance(vault crypto.PurseRef, key market.RecordKey) (balance *big.Int, err error) {
	err = h.view(func(t *tx) error {
		balance, err = t.state.VaultBalance(vault, key)
		return err
	})
	return balance, err
}

// PurseBalance returns the balance of a purse.
func (h *Host) PurseBalance(ref crypto.PurseRef) (balance *big.Int, err error) {
	err = h.view(func(t *tx) error {
		balance, err = t.ledger.BalanceOf(ref)
		return err
	})
	return balance, err
}

// IdentityBalance returns the balance of the main purse of an identity.
func (h *Host) IdentityBalance(id crypto.Identity) (balance *big.Int, err error) {
	err = h.view(func(t *tx) error {
		balance, err = t.ledger.IdentityBalance(id)
		return err
	})
	return balance, err
}

// OwnerOf returns the current owner of an asset.
func (h *Host) OwnerOf(collection crypto.ContractHash, tokenID *uint256.Int) (owner crypto.Identity, ok bool, err error) {
	err = h.view(func(t *tx) error {
		owner, ok, err = t.registry.OwnerOf(collection, tokenID)
		return err
	})
	return owner, ok, err
}

func (h *Host) devnet(ctx context.Context, caller crypto.Identity, name string, fn func(*tx) (any, error)) (any, error) {
	if !h.opts.Devnet {
		return nil, ErrDevnetDisabled
	}
	res, err := h.run(ctx, Call{Caller: caller, EntryPoint: name}, fn)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Mint creates an asset owned by owner.
func (h *Host) Mint(ctx context.Context, collection crypto.ContractHash, tokenID *uint256.Int, owner crypto.Identity) error {
	_, err := h.devnet(ctx, owner, devMint, func(t *tx) (any, error) {
		return nil, t.registry.Mint(collection, tokenID, owner)
	})
	return err
}

// ApproveMarketplace approves the marketplace package as the operator of an
// asset on behalf of its owner.
func (h *Host) ApproveMarketplace(ctx context.Context, collection crypto.ContractHash, tokenID *uint256.Int, owner crypto.Identity) error {
	_, err := h.devnet(ctx, owner, devApprove, func(t *tx) (any, error) {
		return nil, t.registry.Approve(collection, tokenID, owner, h.opts.PackageIdentity)
	})
	return err
}

// CreatePurse creates an empty purse spendable by owner.
func (h *Host) CreatePurse(ctx context.Context, owner crypto.Identity) (crypto.PurseRef, error) {
	value, err := h.devnet(ctx, owner, devCreatePurse, func(t *tx) (any, error) {
		return t.ledger.CreatePurse(owner)
	})
	if err != nil {
		return crypto.PurseRef{}, err
	}
	return value.(crypto.PurseRef), nil
}

// Fund credits amount to a purse.
func (h *Host) Fund(ctx context.Context, ref crypto.PurseRef, amount *big.Int) error {
	_, err := h.devnet(ctx, crypto.Identity{}, devFund, func(t *tx) (any, error) {
		return nil, t.ledger.Mint(ref, amount)
	})
	return err
}
