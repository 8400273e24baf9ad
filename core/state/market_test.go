package state

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"mystra/crypto"
	"mystra/native/market"
	"mystra/storage"
)

func testKey(fill byte) market.RecordKey {
	var key market.RecordKey
	for i := range key {
		key[i] = fill
	}
	return key
}

func TestListingSlotStates(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	key := market.ListingKey(crypto.ContractHash{1}, uint256.NewInt(1))

	slot, err := m.ListingGet(key)
	require.NoError(t, err)
	require.Equal(t, market.RecordMissing, slot.State)

	exp := uint64(900_000)
	seller := crypto.Identity{0xAA}
	require.NoError(t, m.ListingPut(key, &market.Listing{Seller: seller, Price: big.NewInt(100), Expiration: &exp}))
	slot, err = m.ListingGet(key)
	require.NoError(t, err)
	require.True(t, slot.Live())
	require.Equal(t, seller, slot.Record.Seller)
	require.Equal(t, 0, slot.Record.Price.Cmp(big.NewInt(100)))
	require.NotNil(t, slot.Record.Expiration)
	require.Equal(t, exp, *slot.Record.Expiration)

	require.NoError(t, m.ListingPut(key, &market.Listing{Seller: seller, Price: big.NewInt(5)}))
	slot, err = m.ListingGet(key)
	require.NoError(t, err)
	require.Nil(t, slot.Record.Expiration, "no expiration must round trip as absent")

	require.NoError(t, m.ListingTombstone(key))
	slot, err = m.ListingGet(key)
	require.NoError(t, err)
	require.Equal(t, market.RecordTombstoned, slot.State)
	require.Nil(t, slot.Record)
}

func TestOfferAndAuctionSlots(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	key := testKey(0x10)

	require.NoError(t, m.OfferPut(key, &market.Offer{Offerer: crypto.Identity{1}, Price: big.NewInt(7), CreatedAt: 42}))
	offer, err := m.OfferGet(key)
	require.NoError(t, err)
	require.True(t, offer.Live())
	require.Equal(t, uint64(42), offer.Record.CreatedAt)

	auctionKey := testKey(0x20)
	require.NoError(t, m.AuctionPut(auctionKey, &market.Auction{
		Seller:        crypto.Identity{2},
		StartingPrice: big.NewInt(1),
		CurrentBid:    big.NewInt(3),
		CurrentWinner: crypto.Identity{3},
		EndTime:       1_200_000,
		BidCount:      2,
	}))
	auction, err := m.AuctionGet(auctionKey)
	require.NoError(t, err)
	require.True(t, auction.Record.HasBid())
	require.Equal(t, crypto.Identity{3}, auction.Record.CurrentWinner)

	// Listing and auction stores share keys but never each other's slots.
	listing, err := m.ListingGet(auctionKey)
	require.NoError(t, err)
	require.Equal(t, market.RecordMissing, listing.State)

	require.NoError(t, m.OfferTombstone(key))
	offer, err = m.OfferGet(key)
	require.NoError(t, err)
	require.Equal(t, market.RecordTombstoned, offer.State)
}

func TestZeroPriceRecordIsStillLive(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	key := testKey(0x30)
	require.NoError(t, m.OfferPut(key, &market.Offer{Price: big.NewInt(0)}))
	slot, err := m.OfferGet(key)
	require.NoError(t, err)
	require.Equal(t, market.RecordLive, slot.State)
}

func TestVaultSubLedger(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	vault := crypto.PurseRef{0xEE}
	a, b := testKey(1), testKey(2)

	require.NoError(t, m.VaultCredit(vault, a, big.NewInt(50)))
	require.NoError(t, m.VaultCredit(vault, a, big.NewInt(5)))
	require.NoError(t, m.VaultCredit(vault, b, big.NewInt(10)))

	bal, err := m.VaultBalance(vault, a)
	require.NoError(t, err)
	require.Equal(t, 0, bal.Cmp(big.NewInt(55)))

	err = m.VaultDebit(vault, b, big.NewInt(11))
	require.ErrorIs(t, err, market.ErrCustodyMismatch)

	require.NoError(t, m.VaultDebit(vault, a, big.NewInt(55)))
	bal, err = m.VaultBalance(vault, a)
	require.NoError(t, err)
	require.Equal(t, 0, bal.Sign())

	other, err := m.VaultBalance(crypto.PurseRef{0xDD}, b)
	require.NoError(t, err)
	require.Equal(t, 0, other.Sign(), "sub-ledgers are scoped per purse")
}

func TestNamedPurses(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	_, ok, err := m.NamedPurse(market.PurseNameOffers)
	require.NoError(t, err)
	require.False(t, ok)

	ref := crypto.PurseRef{9, 9, 9}
	require.NoError(t, m.PutNamedPurse(market.PurseNameOffers, ref))
	got, ok, err := m.NamedPurse(market.PurseNameOffers)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ref, got)
}

func TestKVRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	type entry struct {
		Name  string
		Count uint64
	}
	require.NoError(t, m.KVPut([]byte("k"), entry{Name: "a", Count: 3}))
	var out entry
	ok, err := m.KVGet([]byte("k"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry{Name: "a", Count: 3}, out)

	ok, err = m.KVGet([]byte("missing"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, m.KVPut(nil, 1))
}

func TestManagerWritesStayInOverlayUntilCommit(t *testing.T) {
	base := storage.NewMemDB()
	overlay := storage.NewOverlay(base)
	m := NewManager(overlay)
	key := testKey(0x40)
	require.NoError(t, m.ListingPut(key, &market.Listing{Price: big.NewInt(1)}))
	require.Equal(t, 0, base.Len())

	overlay.Discard()
	slot, err := NewManager(base).ListingGet(key)
	require.NoError(t, err)
	require.Equal(t, market.RecordMissing, slot.State)
}
