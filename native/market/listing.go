package market

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"mystra/crypto"
)

// CreateListing lists an asset owned by the caller for direct sale. A zero
// duration means the listing never expires. An existing listing for the asset
// is replaced.
func (e *Engine) CreateListing(call CallContext, collection crypto.ContractHash, tokenID *uint256.Int, price *big.Int, durationMinutes uint64) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := checkAmount(price); err != nil {
		return nil, err
	}
	if price == nil || price.Sign() == 0 {
		return nil, ErrPriceSetToZero
	}
	if err := e.requireOwner(collection, tokenID, call.Caller); err != nil {
		return nil, err
	}
	if err := e.requireApproval(collection, tokenID, call.Caller); err != nil {
		return nil, err
	}
	key := ListingKey(collection, tokenID)
	auction, err := e.state.AuctionGet(key)
	if err != nil {
		return nil, err
	}
	if auction.Live() {
		return nil, ErrAuctionInProgress
	}
	listing := &Listing{Seller: call.Caller, Price: cloneBigInt(price)}
	if durationMinutes > 0 {
		expiration, err := expiryAfter(call.BlockTime, durationMinutes)
		if err != nil {
			return nil, err
		}
		listing.Expiration = &expiration
	}
	if err := e.state.ListingPut(key, listing); err != nil {
		return nil, err
	}
	e.emit(NewListingCreatedEvent(AssetRef{Collection: collection, TokenID: tokenID}, listing))
	return listing.Clone(), nil
}

// CancelListing withdraws the listing of an asset owned by the caller. Calling
// it when no listing is live succeeds without effect.
func (e *Engine) CancelListing(call CallContext, collection crypto.ContractHash, tokenID *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(collection, tokenID, call.Caller); err != nil {
		return err
	}
	key := ListingKey(collection, tokenID)
	slot, err := e.state.ListingGet(key)
	if err != nil {
		return err
	}
	if !slot.Live() {
		return nil
	}
	if err := e.state.ListingTombstone(key); err != nil {
		return err
	}
	e.emit(NewListingCancelledEvent(AssetRef{Collection: collection, TokenID: tokenID}, slot.Record.Seller))
	return nil
}

// BuyListing pays the listed price from buyPurse to the seller and moves the
// asset to the caller.
func (e *Engine) BuyListing(call CallContext, collection crypto.ContractHash, tokenID *uint256.Int, buyPurse crypto.PurseRef) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	key := ListingKey(collection, tokenID)
	slot, err := e.state.ListingGet(key)
	if err != nil {
		return nil, err
	}
	if !slot.Live() {
		return nil, fmt.Errorf("%w: listing %s", ErrOfferDoesntExistOrCancelled, slot.State)
	}
	listing := slot.Record
	if listing.Price == nil || listing.Price.Sign() == 0 {
		return nil, fmt.Errorf("%w: listing has no price", ErrOfferDoesntExistOrCancelled)
	}
	balance, err := e.purseBalance(buyPurse, call.Caller)
	if err != nil {
		return nil, err
	}
	// Balance is checked ahead of expiry.
	if balance.Cmp(listing.Price) < 0 {
		return nil, ErrBalanceInsufficient
	}
	if listing.Expiration != nil && call.BlockTime > *listing.Expiration {
		return nil, ErrListingExpired
	}
	owner, err := e.ownerOf(collection, tokenID)
	if err != nil {
		return nil, err
	}
	if owner != listing.Seller {
		return nil, fmt.Errorf("%w: seller no longer owns the asset", ErrPermissionDenied)
	}
	if err := e.requireApproval(collection, tokenID, listing.Seller); err != nil {
		return nil, err
	}
	if err := e.ledger.TransferToIdentity(buyPurse, listing.Seller, listing.Price); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.transferAsset(collection, tokenID, listing.Seller, call.Caller); err != nil {
		return nil, err
	}
	if err := e.state.ListingTombstone(key); err != nil {
		return nil, err
	}
	e.emit(NewListingSoldEvent(AssetRef{Collection: collection, TokenID: tokenID}, listing, call.Caller))
	return listing.Clone(), nil
}
