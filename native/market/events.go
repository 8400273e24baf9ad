package market

import (
	"math/big"
	"strconv"

	"github.com/holiman/uint256"

	"mystra/core/types"
	"mystra/crypto"
)

const (
	EventTypeListingCreated   = "listing.created"
	EventTypeListingCancelled = "listing.cancelled"
	EventTypeListingSold      = "listing.sold"
	EventTypeOfferMade        = "offer.made"
	EventTypeOfferRefunded    = "offer.refunded"
	EventTypeOfferAccepted    = "offer.accepted"
	EventTypeOfferCancelled   = "offer.cancelled"
	EventTypeAuctionStarted   = "auction.started"
	EventTypeAuctionBid       = "auction.bid"
	EventTypeAuctionExtended  = "auction.extended"
	EventTypeAuctionSettled   = "auction.settled"
	EventTypeAuctionClosed    = "auction.closed"
	EventTypeAuctionFailed    = "auction.failed"
)

// AssetRef identifies the asset a marketplace event refers to.
type AssetRef struct {
	Collection crypto.ContractHash
	TokenID    *uint256.Int
}

func (a AssetRef) attributes() map[string]string {
	attrs := map[string]string{"collection": a.Collection.String()}
	if a.TokenID != nil {
		attrs["tokenId"] = a.TokenID.Dec()
	} else {
		attrs["tokenId"] = "0"
	}
	return attrs
}

// NewListingCreatedEvent returns the payload for a newly written listing.
func NewListingCreatedEvent(asset AssetRef, l *Listing) *types.Event {
	attrs := asset.attributes()
	if l != nil {
		attrs["seller"] = l.Seller.String()
		attrs["price"] = amountString(l.Price)
		if l.Expiration != nil {
			attrs["expiration"] = strconv.FormatUint(*l.Expiration, 10)
		}
	}
	return &types.Event{Type: EventTypeListingCreated, Attributes: attrs}
}

// NewListingCancelledEvent returns the payload emitted when a live listing is
// withdrawn by the owner.
func NewListingCancelledEvent(asset AssetRef, seller crypto.Identity) *types.Event {
	attrs := asset.attributes()
	attrs["seller"] = seller.String()
	return &types.Event{Type: EventTypeListingCancelled, Attributes: attrs}
}

// NewListingSoldEvent returns the payload for a completed direct sale.
func NewListingSoldEvent(asset AssetRef, l *Listing, buyer crypto.Identity) *types.Event {
	attrs := asset.attributes()
	attrs["buyer"] = buyer.String()
	if l != nil {
		attrs["seller"] = l.Seller.String()
		attrs["price"] = amountString(l.Price)
	}
	return &types.Event{Type: EventTypeListingSold, Attributes: attrs}
}

// NewOfferMadeEvent returns the payload for an escrowed offer.
func NewOfferMadeEvent(asset AssetRef, o *Offer) *types.Event {
	return newOfferEvent(EventTypeOfferMade, asset, o)
}

// NewOfferRefundedEvent returns the payload emitted when a previous offer is
// refunded because the offerer replaced it.
func NewOfferRefundedEvent(asset AssetRef, o *Offer) *types.Event {
	return newOfferEvent(EventTypeOfferRefunded, asset, o)
}

// NewOfferAcceptedEvent returns the payload for an offer accepted by the owner.
func NewOfferAcceptedEvent(asset AssetRef, o *Offer, owner crypto.Identity) *types.Event {
	evt := newOfferEvent(EventTypeOfferAccepted, asset, o)
	evt.Attributes["owner"] = owner.String()
	return evt
}

// NewOfferCancelledEvent returns the payload for an offer withdrawn by its
// offerer.
func NewOfferCancelledEvent(asset AssetRef, o *Offer) *types.Event {
	return newOfferEvent(EventTypeOfferCancelled, asset, o)
}

func newOfferEvent(eventType string, asset AssetRef, o *Offer) *types.Event {
	attrs := asset.attributes()
	if o != nil {
		attrs["offerer"] = o.Offerer.String()
		attrs["price"] = amountString(o.Price)
		attrs["expirationTime"] = strconv.FormatUint(o.ExpirationTime, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewAuctionStartedEvent returns the payload for a newly opened auction.
func NewAuctionStartedEvent(asset AssetRef, a *Auction) *types.Event {
	return newAuctionEvent(EventTypeAuctionStarted, asset, a)
}

// NewAuctionBidEvent returns the payload for a new leading bid.
func NewAuctionBidEvent(asset AssetRef, a *Auction) *types.Event {
	return newAuctionEvent(EventTypeAuctionBid, asset, a)
}

// NewAuctionExtendedEvent returns the payload emitted when a late bid pushes
// the end time out.
func NewAuctionExtendedEvent(asset AssetRef, a *Auction, previousEnd uint64) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionExtended, asset, a)
	evt.Attributes["previousEndTime"] = strconv.FormatUint(previousEnd, 10)
	return evt
}

// NewAuctionSettledEvent returns the payload for an auction that paid the
// seller and delivered the asset.
func NewAuctionSettledEvent(asset AssetRef, a *Auction) *types.Event {
	return newAuctionEvent(EventTypeAuctionSettled, asset, a)
}

// NewAuctionClosedEvent returns the payload for an auction that ended without
// a bid.
func NewAuctionClosedEvent(asset AssetRef, a *Auction) *types.Event {
	return newAuctionEvent(EventTypeAuctionClosed, asset, a)
}

// NewAuctionFailedEvent returns the payload for an auction whose winner was
// refunded because the asset could no longer be delivered.
func NewAuctionFailedEvent(asset AssetRef, a *Auction, reason string) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionFailed, asset, a)
	evt.Attributes["reason"] = reason
	return evt
}

func newAuctionEvent(eventType string, asset AssetRef, a *Auction) *types.Event {
	attrs := asset.attributes()
	if a != nil {
		attrs["seller"] = a.Seller.String()
		attrs["startingPrice"] = amountString(a.StartingPrice)
		attrs["currentBid"] = amountString(a.CurrentBid)
		attrs["currentWinner"] = a.CurrentWinner.String()
		attrs["endTime"] = strconv.FormatUint(a.EndTime, 10)
		attrs["bids"] = strconv.FormatUint(a.BidCount, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
