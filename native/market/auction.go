package market

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"mystra/crypto"
)

// StartAuction opens an English auction for an asset owned by the caller. The
// seller is recorded as the placeholder winner at the starting price until the
// first bid arrives.
func (e *Engine) StartAuction(call CallContext, collection crypto.ContractHash, tokenID *uint256.Int, price *big.Int, durationMinutes uint64) (*Auction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := checkAmount(price); err != nil {
		return nil, err
	}
	if price == nil || price.Sign() == 0 {
		return nil, ErrPriceSetToZero
	}
	if durationMinutes == 0 {
		return nil, ErrInvalidDuration
	}
	endTime, err := expiryAfter(call.BlockTime, durationMinutes)
	if err != nil {
		return nil, err
	}
	if err := e.requireOwner(collection, tokenID, call.Caller); err != nil {
		return nil, err
	}
	if err := e.requireApproval(collection, tokenID, call.Caller); err != nil {
		return nil, err
	}
	key := ListingKey(collection, tokenID)
	existing, err := e.state.AuctionGet(key)
	if err != nil {
		return nil, err
	}
	if existing.Live() {
		return nil, ErrAuctionAlreadyExists
	}
	listing, err := e.state.ListingGet(key)
	if err != nil {
		return nil, err
	}
	if listing.Live() {
		return nil, ErrListingActive
	}
	auction := &Auction{
		Seller:        call.Caller,
		StartingPrice: cloneBigInt(price),
		CurrentBid:    cloneBigInt(price),
		CurrentWinner: call.Caller,
		EndTime:       endTime,
	}
	if err := e.state.AuctionPut(key, auction); err != nil {
		return nil, err
	}
	e.emit(NewAuctionStartedEvent(AssetRef{Collection: collection, TokenID: tokenID}, auction))
	return auction.Clone(), nil
}

func (e *Engine) liveAuction(key RecordKey) (*Auction, error) {
	slot, err := e.state.AuctionGet(key)
	if err != nil {
		return nil, err
	}
	switch {
	case slot.State == RecordTombstoned:
		return nil, ErrAuctionCancelledOrFinished
	case !slot.Live():
		return nil, ErrAuctionNotFound
	}
	return slot.Record, nil
}

// PlaceBid escrows the whole balance of buyPurse as the new leading bid. The
// balance must strictly exceed the current bid. The displaced leader is
// refunded, and a bid landing inside the anti-snipe window pushes the end time
// out by the configured extension.
func (e *Engine) PlaceBid(call CallContext, collection crypto.ContractHash, tokenID *uint256.Int, buyPurse crypto.PurseRef) (*Auction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	key := ListingKey(collection, tokenID)
	auction, err := e.liveAuction(key)
	if err != nil {
		return nil, err
	}
	balance, err := e.purseBalance(buyPurse, call.Caller)
	if err != nil {
		return nil, err
	}
	// A losing bid reports BidTooLow even after the end time.
	if balance.Cmp(auction.CurrentBid) <= 0 {
		return nil, ErrBidTooLow
	}
	if call.BlockTime >= auction.EndTime {
		return nil, ErrAuctionEnded
	}
	if auction.HasBid() {
		if err := e.release(e.vaults.Auctions, key, auction.CurrentWinner, auction.CurrentBid); err != nil {
			return nil, err
		}
	}
	if err := e.escrow(buyPurse, e.vaults.Auctions, key, balance); err != nil {
		return nil, err
	}
	updated := auction.Clone()
	updated.CurrentBid = balance
	updated.CurrentWinner = call.Caller
	updated.BidCount++
	previousEnd := updated.EndTime
	extended := false
	if updated.EndTime-call.BlockTime < e.params.AntiSnipeWindow {
		if updated.EndTime, err = addTime(updated.EndTime, e.params.AntiSnipeExtension); err != nil {
			return nil, err
		}
		extended = true
	}
	if err := e.state.AuctionPut(key, updated); err != nil {
		return nil, err
	}
	asset := AssetRef{Collection: collection, TokenID: tokenID}
	e.emit(NewAuctionBidEvent(asset, updated))
	if extended {
		e.emit(NewAuctionExtendedEvent(asset, updated, previousEnd))
	}
	return updated.Clone(), nil
}

// EndAuction closes a finished auction. With a real bid the seller is paid and
// the asset delivered to the winner; when the seller can no longer deliver,
// the winner is refunded instead. An auction without bids closes with no
// transfers. Anyone may end a finished auction.
func (e *Engine) EndAuction(call CallContext, collection crypto.ContractHash, tokenID *uint256.Int) (*Auction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	key := ListingKey(collection, tokenID)
	auction, err := e.liveAuction(key)
	if err != nil {
		return nil, err
	}
	if call.BlockTime < auction.EndTime {
		return nil, ErrAuctionNotFinished
	}
	asset := AssetRef{Collection: collection, TokenID: tokenID}
	if !auction.HasBid() {
		if err := e.state.AuctionTombstone(key); err != nil {
			return nil, err
		}
		e.emit(NewAuctionClosedEvent(asset, auction))
		return auction.Clone(), nil
	}
	reason, err := e.deliverable(collection, tokenID, auction.Seller)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		if err := e.release(e.vaults.Auctions, key, auction.CurrentWinner, auction.CurrentBid); err != nil {
			return nil, err
		}
		if err := e.state.AuctionTombstone(key); err != nil {
			return nil, err
		}
		e.emit(NewAuctionFailedEvent(asset, auction, reason))
		return auction.Clone(), nil
	}
	if err := e.release(e.vaults.Auctions, key, auction.Seller, auction.CurrentBid); err != nil {
		return nil, err
	}
	if err := e.transferAsset(collection, tokenID, auction.Seller, auction.CurrentWinner); err != nil {
		return nil, err
	}
	if err := e.state.AuctionTombstone(key); err != nil {
		return nil, err
	}
	e.emit(NewAuctionSettledEvent(asset, auction))
	return auction.Clone(), nil
}

// deliverable returns a non-empty reason when seller can no longer hand the
// asset over. Registry faults are returned as errors.
func (e *Engine) deliverable(collection crypto.ContractHash, tokenID *uint256.Int, seller crypto.Identity) (string, error) {
	owner, err := e.ownerOf(collection, tokenID)
	if errors.Is(err, ErrAssetNotFound) {
		return "asset not found", nil
	}
	if err != nil {
		return "", err
	}
	if owner != seller {
		return "seller no longer owns the asset", nil
	}
	if err := e.requireApproval(collection, tokenID, seller); err != nil {
		if errors.Is(err, ErrNeedsTransferApproval) {
			return "transfer approval withdrawn", nil
		}
		return "", err
	}
	return "", nil
}

// VaultBalance returns the amount held for a record key in one of the
// custody purses.
func (e *Engine) VaultBalance(vault crypto.PurseRef, key RecordKey) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	bal, err := e.state.VaultBalance(vault, key)
	if err != nil {
		return nil, fmt.Errorf("vault balance: %w", err)
	}
	return bal, nil
}
