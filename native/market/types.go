package market

import (
	"math/big"

	"mystra/crypto"
)

// MillisecondsInMinute converts caller-supplied minute durations into block
// time units.
const MillisecondsInMinute uint64 = 60_000

const (
	// DefaultAntiSnipeWindow is the remaining time below which a bid extends
	// the auction.
	DefaultAntiSnipeWindow = 10 * MillisecondsInMinute
	// DefaultAntiSnipeExtension is how far such a bid pushes the end time out.
	DefaultAntiSnipeExtension = 10 * MillisecondsInMinute
)

// RecordKey is the opaque fixed-width key of a listing, offer or auction slot.
type RecordKey [32]byte

// RecordState distinguishes a slot that was never written from one that has
// been tombstoned.
type RecordState uint8

const (
	RecordMissing RecordState = iota
	RecordTombstoned
	RecordLive
)

func (s RecordState) String() string {
	switch s {
	case RecordMissing:
		return "missing"
	case RecordTombstoned:
		return "tombstoned"
	case RecordLive:
		return "live"
	default:
		return "unknown"
	}
}

// Slot is the result of reading a record store: either a live record or an
// absence, with the kind of absence preserved.
type Slot[T any] struct {
	State  RecordState
	Record *T
}

// Live reports whether the slot holds a record.
func (s Slot[T]) Live() bool { return s.State == RecordLive && s.Record != nil }

// LiveSlot wraps a present record.
func LiveSlot[T any](record *T) Slot[T] { return Slot[T]{State: RecordLive, Record: record} }

// Listing is a direct sale offered by the asset owner.
type Listing struct {
	Seller crypto.Identity
	Price  *big.Int
	// Expiration is nil when the listing never expires.
	Expiration *uint64
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := &Listing{Seller: l.Seller, Price: cloneBigInt(l.Price)}
	if l.Expiration != nil {
		exp := *l.Expiration
		clone.Expiration = &exp
	}
	return clone
}

// Offer is a sealed-balance bid for an asset by one offerer. Price always
// equals the amount held for this offer in the offers custody purse.
type Offer struct {
	Offerer        crypto.Identity
	Price          *big.Int
	ExpirationTime uint64
	CreatedAt      uint64
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Price = cloneBigInt(o.Price)
	return &clone
}

// Auction is an English auction with anti-snipe extension. Until the first
// bid, CurrentBid equals StartingPrice and CurrentWinner equals Seller.
type Auction struct {
	Seller        crypto.Identity
	StartingPrice *big.Int
	CurrentBid    *big.Int
	CurrentWinner crypto.Identity
	EndTime       uint64
	BidCount      uint64
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.StartingPrice = cloneBigInt(a.StartingPrice)
	clone.CurrentBid = cloneBigInt(a.CurrentBid)
	return &clone
}

// HasBid reports whether a real bid has replaced the starting placeholder.
func (a *Auction) HasBid() bool {
	if a == nil {
		return false
	}
	return a.BidCount > 0 && a.CurrentBid.Cmp(a.StartingPrice) != 0
}

// Vaults are the two custodial purses owned by the marketplace.
type Vaults struct {
	Offers   crypto.PurseRef
	Auctions crypto.PurseRef
}

// Params are the tunable engine constants.
type Params struct {
	AntiSnipeWindow    uint64
	AntiSnipeExtension uint64
}

// DefaultParams returns the standard anti-snipe configuration.
func DefaultParams() Params {
	return Params{
		AntiSnipeWindow:    DefaultAntiSnipeWindow,
		AntiSnipeExtension: DefaultAntiSnipeExtension,
	}
}

// CallContext carries the implicit inputs of a call: the authenticated caller
// and the block time sampled once for the whole call.
type CallContext struct {
	Caller    crypto.Identity
	BlockTime uint64
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
