package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"mystra/crypto"
	"mystra/native/market"
)

var (
	listingPrefix    = []byte("market/listing:")
	offerPrefix      = []byte("market/offer:")
	auctionPrefix    = []byte("market/auction:")
	vaultPrefix      = []byte("market/vault:")
	namedPursePrefix = []byte("market/named-purse:")
)

// Record slots carry a one byte marker so a tombstone can never be confused
// with a record whose fields happen to be zero.
const (
	slotTombstone byte = 0x00
	slotLive      byte = 0x01
)

func recordKey(prefix []byte, key market.RecordKey) []byte {
	buf := make([]byte, len(prefix)+len(key))
	copy(buf, prefix)
	copy(buf[len(prefix):], key[:])
	return ethcrypto.Keccak256(buf)
}

func vaultKey(vault crypto.PurseRef, key market.RecordKey) []byte {
	buf := make([]byte, 0, len(vaultPrefix)+len(vault)+len(key))
	buf = append(buf, vaultPrefix...)
	buf = append(buf, vault[:]...)
	buf = append(buf, key[:]...)
	return ethcrypto.Keccak256(buf)
}

func namedPurseKey(name string) []byte {
	buf := make([]byte, len(namedPursePrefix)+len(name))
	copy(buf, namedPursePrefix)
	copy(buf[len(namedPursePrefix):], name)
	return ethcrypto.Keccak256(buf)
}

type storedListing struct {
	Seller        [20]byte
	Price         *big.Int
	HasExpiration bool
	Expiration    uint64
}

type storedOffer struct {
	Offerer        [20]byte
	Price          *big.Int
	ExpirationTime uint64
	CreatedAt      uint64
}

type storedAuction struct {
	Seller        [20]byte
	StartingPrice *big.Int
	CurrentBid    *big.Int
	CurrentWinner [20]byte
	EndTime       uint64
	BidCount      uint64
}

// readSlot loads a marked record and reports its state. dst is only filled for
// live slots.
func (m *Manager) readSlot(key []byte, dst interface{}) (market.RecordState, error) {
	data, ok, err := m.get(key)
	if err != nil {
		return market.RecordMissing, err
	}
	if !ok {
		return market.RecordMissing, nil
	}
	if len(data) == 0 {
		return market.RecordMissing, fmt.Errorf("state: empty record slot")
	}
	switch data[0] {
	case slotTombstone:
		return market.RecordTombstoned, nil
	case slotLive:
		if err := rlp.DecodeBytes(data[1:], dst); err != nil {
			return market.RecordMissing, fmt.Errorf("state: decode record: %w", err)
		}
		return market.RecordLive, nil
	default:
		return market.RecordMissing, fmt.Errorf("state: unknown slot marker 0x%02x", data[0])
	}
}

func (m *Manager) writeSlot(key []byte, record interface{}) error {
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	value := make([]byte, 0, len(encoded)+1)
	value = append(value, slotLive)
	value = append(value, encoded...)
	return m.put(key, value)
}

func (m *Manager) tombstone(key []byte) error {
	return m.put(key, []byte{slotTombstone})
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// ListingGet returns the listing slot stored under key.
func (m *Manager) ListingGet(key market.RecordKey) (market.Slot[market.Listing], error) {
	var stored storedListing
	status, err := m.readSlot(recordKey(listingPrefix, key), &stored)
	if err != nil || status != market.RecordLive {
		return market.Slot[market.Listing]{State: status}, err
	}
	listing := &market.Listing{Seller: crypto.Identity(stored.Seller), Price: nonNil(stored.Price)}
	if stored.HasExpiration {
		exp := stored.Expiration
		listing.Expiration = &exp
	}
	return market.LiveSlot(listing), nil
}

// ListingPut writes a live listing under key.
func (m *Manager) ListingPut(key market.RecordKey, listing *market.Listing) error {
	if listing == nil {
		return fmt.Errorf("state: nil listing")
	}
	stored := storedListing{Seller: listing.Seller, Price: nonNil(listing.Price)}
	if listing.Expiration != nil {
		stored.HasExpiration = true
		stored.Expiration = *listing.Expiration
	}
	return m.writeSlot(recordKey(listingPrefix, key), &stored)
}

// ListingTombstone ends the listing stored under key.
func (m *Manager) ListingTombstone(key market.RecordKey) error {
	return m.tombstone(recordKey(listingPrefix, key))
}

// OfferGet returns the offer slot stored under key.
func (m *Manager) OfferGet(key market.RecordKey) (market.Slot[market.Offer], error) {
	var stored storedOffer
	status, err := m.readSlot(recordKey(offerPrefix, key), &stored)
	if err != nil || status != market.RecordLive {
		return market.Slot[market.Offer]{State: status}, err
	}
	return market.LiveSlot(&market.Offer{
		Offerer:        crypto.Identity(stored.Offerer),
		Price:          nonNil(stored.Price),
		ExpirationTime: stored.ExpirationTime,
		CreatedAt:      stored.CreatedAt,
	}), nil
}

// OfferPut writes a live offer under key.
func (m *Manager) OfferPut(key market.RecordKey, offer *market.Offer) error {
	if offer == nil {
		return fmt.Errorf("state: nil offer")
	}
	return m.writeSlot(recordKey(offerPrefix, key), &storedOffer{
		Offerer:        offer.Offerer,
		Price:          nonNil(offer.Price),
		ExpirationTime: offer.ExpirationTime,
		CreatedAt:      offer.CreatedAt,
	})
}

// OfferTombstone ends the offer stored under key.
func (m *Manager) OfferTombstone(key market.RecordKey) error {
	return m.tombstone(recordKey(offerPrefix, key))
}

// AuctionGet returns the auction slot stored under key.
func (m *Manager) AuctionGet(key market.RecordKey) (market.Slot[market.Auction], error) {
	var stored storedAuction
	status, err := m.readSlot(recordKey(auctionPrefix, key), &stored)
	if err != nil || status != market.RecordLive {
		return market.Slot[market.Auction]{State: status}, err
	}
	return market.LiveSlot(&market.Auction{
		Seller:        crypto.Identity(stored.Seller),
		StartingPrice: nonNil(stored.StartingPrice),
		CurrentBid:    nonNil(stored.CurrentBid),
		CurrentWinner: crypto.Identity(stored.CurrentWinner),
		EndTime:       stored.EndTime,
		BidCount:      stored.BidCount,
	}), nil
}

// AuctionPut writes a live auction under key.
func (m *Manager) AuctionPut(key market.RecordKey, auction *market.Auction) error {
	if auction == nil {
		return fmt.Errorf("state: nil auction")
	}
	return m.writeSlot(recordKey(auctionPrefix, key), &storedAuction{
		Seller:        auction.Seller,
		StartingPrice: nonNil(auction.StartingPrice),
		CurrentBid:    nonNil(auction.CurrentBid),
		CurrentWinner: auction.CurrentWinner,
		EndTime:       auction.EndTime,
		BidCount:      auction.BidCount,
	})
}

// AuctionTombstone ends the auction stored under key.
func (m *Manager) AuctionTombstone(key market.RecordKey) error {
	return m.tombstone(recordKey(auctionPrefix, key))
}

// VaultBalance returns the amount a custody purse holds for one record.
func (m *Manager) VaultBalance(vault crypto.PurseRef, key market.RecordKey) (*big.Int, error) {
	data, ok, err := m.get(vaultKey(vault, key))
	if err != nil {
		return nil, err
	}
	if !ok || len(data) == 0 {
		return big.NewInt(0), nil
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, fmt.Errorf("state: decode vault balance: %w", err)
	}
	return balance, nil
}

func (m *Manager) putVaultBalance(vault crypto.PurseRef, key market.RecordKey, balance *big.Int) error {
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return m.put(vaultKey(vault, key), encoded)
}

// VaultCredit books amt as held for the record in the custody purse.
func (m *Manager) VaultCredit(vault crypto.PurseRef, key market.RecordKey, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: vault credit must be non-negative")
	}
	current, err := m.VaultBalance(vault, key)
	if err != nil {
		return err
	}
	return m.putVaultBalance(vault, key, current.Add(current, amt))
}

// VaultDebit releases amt held for the record. Releasing more than the record
// holds fails with market.ErrCustodyMismatch.
func (m *Manager) VaultDebit(vault crypto.PurseRef, key market.RecordKey, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: vault debit must be non-negative")
	}
	current, err := m.VaultBalance(vault, key)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("%w: record holds %s, release of %s requested", market.ErrCustodyMismatch, current, amt)
	}
	return m.putVaultBalance(vault, key, current.Sub(current, amt))
}

// NamedPurse returns the purse recorded under name.
func (m *Manager) NamedPurse(name string) (crypto.PurseRef, bool, error) {
	data, ok, err := m.get(namedPurseKey(name))
	if err != nil || !ok {
		return crypto.PurseRef{}, false, err
	}
	var raw [32]byte
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return crypto.PurseRef{}, false, fmt.Errorf("state: decode named purse %s: %w", name, err)
	}
	return crypto.PurseRef(raw), true, nil
}

// PutNamedPurse records ref under name.
func (m *Manager) PutNamedPurse(name string, ref crypto.PurseRef) error {
	raw := [32]byte(ref)
	encoded, err := rlp.EncodeToBytes(raw)
	if err != nil {
		return err
	}
	return m.put(namedPurseKey(name), encoded)
}
