package market

import (
	"fmt"

	"github.com/holiman/uint256"

	"mystra/crypto"
)

// MakeOffer escrows the whole balance of buyPurse as the caller's offer on an
// asset. An empty purse records a zero offer. A previous offer by the same caller is refunded in full first, so the
// offerer's outlay is always the latest offer only.
func (e *Engine) MakeOffer(call CallContext, collection crypto.ContractHash, tokenID *uint256.Int, buyPurse crypto.PurseRef) (*Offer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	// The supplied balance is sampled before any refund lands.
	balance, err := e.purseBalance(buyPurse, call.Caller)
	if err != nil {
		return nil, err
	}
	asset := AssetRef{Collection: collection, TokenID: tokenID}
	key := OfferKey(collection, tokenID, call.Caller)
	previous, err := e.state.OfferGet(key)
	if err != nil {
		return nil, err
	}
	if previous.Live() {
		if err := e.release(e.vaults.Offers, key, call.Caller, previous.Record.Price); err != nil {
			return nil, err
		}
	}
	if err := e.escrow(buyPurse, e.vaults.Offers, key, balance); err != nil {
		return nil, err
	}
	offer := &Offer{
		Offerer:   call.Caller,
		Price:     balance,
		CreatedAt: call.BlockTime,
	}
	if err := e.state.OfferPut(key, offer); err != nil {
		return nil, err
	}
	if previous.Live() {
		e.emit(NewOfferRefundedEvent(asset, previous.Record))
	}
	e.emit(NewOfferMadeEvent(asset, offer))
	return offer.Clone(), nil
}

// AcceptOffer pays the escrowed offer of offerer to the caller, who must own
// the asset, and moves the asset to the offerer.
func (e *Engine) AcceptOffer(call CallContext, collection crypto.ContractHash, tokenID *uint256.Int, offerer crypto.Identity) (*Offer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.requireOwner(collection, tokenID, call.Caller); err != nil {
		return nil, err
	}
	key := OfferKey(collection, tokenID, offerer)
	slot, err := e.state.OfferGet(key)
	if err != nil {
		return nil, err
	}
	switch slot.State {
	case RecordMissing:
		return nil, ErrOfferDoesntExistOrCancelled
	case RecordTombstoned:
		return nil, ErrOfferCancelledOrFinished
	}
	if !slot.Live() {
		return nil, ErrOfferDoesntExistOrCancelled
	}
	if err := e.requireApproval(collection, tokenID, call.Caller); err != nil {
		return nil, err
	}
	offer := slot.Record
	if err := e.release(e.vaults.Offers, key, call.Caller, offer.Price); err != nil {
		return nil, err
	}
	if err := e.transferAsset(collection, tokenID, call.Caller, offerer); err != nil {
		return nil, err
	}
	if err := e.state.OfferTombstone(key); err != nil {
		return nil, err
	}
	e.emit(NewOfferAcceptedEvent(AssetRef{Collection: collection, TokenID: tokenID}, offer, call.Caller))
	return offer.Clone(), nil
}

// CancelOffer refunds the caller's escrowed offer on an asset.
func (e *Engine) CancelOffer(call CallContext, collection crypto.ContractHash, tokenID *uint256.Int) (*Offer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	key := OfferKey(collection, tokenID, call.Caller)
	slot, err := e.state.OfferGet(key)
	if err != nil {
		return nil, err
	}
	if !slot.Live() {
		return nil, fmt.Errorf("%w: offer %s", ErrOfferDoesntExistOrCancelled, slot.State)
	}
	offer := slot.Record
	if err := e.release(e.vaults.Offers, key, call.Caller, offer.Price); err != nil {
		return nil, err
	}
	if err := e.state.OfferTombstone(key); err != nil {
		return nil, err
	}
	e.emit(NewOfferCancelledEvent(AssetRef{Collection: collection, TokenID: tokenID}, offer))
	return offer.Clone(), nil
}
