package rpc

import (
	"math/big"

	"mystra/core/host"
	"mystra/core/types"
	"mystra/native/market"
)

// ListingResult is the wire form of a listing.
type ListingResult struct {
	Seller     string  `json:"seller"`
	Price      string  `json:"price"`
	Expiration *uint64 `json:"expiration,omitempty"`
}

// OfferResult is the wire form of an offer.
type OfferResult struct {
	Offerer        string `json:"offerer"`
	Price          string `json:"price"`
	ExpirationTime uint64 `json:"expirationTime"`
	CreatedAt      uint64 `json:"createdAt"`
}

// AuctionResult is the wire form of an auction.
type AuctionResult struct {
	Seller        string `json:"seller"`
	StartingPrice string `json:"startingPrice"`
	CurrentBid    string `json:"currentBid"`
	CurrentWinner string `json:"currentWinner"`
	EndTime       uint64 `json:"endTime"`
	BidCount      uint64 `json:"bidCount"`
	HasBid        bool   `json:"hasBid"`
}

// SlotResult reports a record slot. Record is omitted unless State is live.
type SlotResult struct {
	State  string      `json:"state"`
	Record interface{} `json:"record,omitempty"`
}

// CallResult summarises a committed marketplace call.
type CallResult struct {
	CallID    string         `json:"callId"`
	BlockTime uint64         `json:"blockTime"`
	Result    interface{}    `json:"result,omitempty"`
	Events    []*types.Event `json:"events"`
}

// VaultsResult names the custody purses.
type VaultsResult struct {
	Offers   string `json:"offers"`
	Auctions string `json:"auctions"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func listingResult(l *market.Listing) *ListingResult {
	if l == nil {
		return nil
	}
	return &ListingResult{Seller: l.Seller.String(), Price: amountString(l.Price), Expiration: l.Expiration}
}

func offerResult(o *market.Offer) *OfferResult {
	if o == nil {
		return nil
	}
	return &OfferResult{
		Offerer:        o.Offerer.String(),
		Price:          amountString(o.Price),
		ExpirationTime: o.ExpirationTime,
		CreatedAt:      o.CreatedAt,
	}
}

func auctionResult(a *market.Auction) *AuctionResult {
	if a == nil {
		return nil
	}
	return &AuctionResult{
		Seller:        a.Seller.String(),
		StartingPrice: amountString(a.StartingPrice),
		CurrentBid:    amountString(a.CurrentBid),
		CurrentWinner: a.CurrentWinner.String(),
		EndTime:       a.EndTime,
		BidCount:      a.BidCount,
		HasBid:        a.HasBid(),
	}
}

// renderValue converts an entry point result into its wire form.
func renderValue(v interface{}) interface{} {
	switch value := v.(type) {
	case *market.Listing:
		if value == nil {
			return nil
		}
		return listingResult(value)
	case *market.Offer:
		if value == nil {
			return nil
		}
		return offerResult(value)
	case *market.Auction:
		if value == nil {
			return nil
		}
		return auctionResult(value)
	default:
		return nil
	}
}

func callResult(res *host.Result) *CallResult {
	out := &CallResult{CallID: res.CallID, BlockTime: res.BlockTime, Result: renderValue(res.Value), Events: res.Events}
	if out.Events == nil {
		out.Events = []*types.Event{}
	}
	return out
}

func listingSlot(slot market.Slot[market.Listing]) SlotResult {
	out := SlotResult{State: slot.State.String()}
	if slot.Live() {
		out.Record = listingResult(slot.Record)
	}
	return out
}

func offerSlot(slot market.Slot[market.Offer]) SlotResult {
	out := SlotResult{State: slot.State.String()}
	if slot.Live() {
		out.Record = offerResult(slot.Record)
	}
	return out
}

func auctionSlot(slot market.Slot[market.Auction]) SlotResult {
	out := SlotResult{State: slot.State.String()}
	if slot.Live() {
		out.Record = auctionResult(slot.Record)
	}
	return out
}
