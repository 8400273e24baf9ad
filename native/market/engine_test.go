package market

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"mystra/core/events"
	"mystra/crypto"
)

type mockState struct {
	listings map[RecordKey]Slot[Listing]
	offers   map[RecordKey]Slot[Offer]
	auctions map[RecordKey]Slot[Auction]
	vaults   map[crypto.PurseRef]map[RecordKey]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		listings: make(map[RecordKey]Slot[Listing]),
		offers:   make(map[RecordKey]Slot[Offer]),
		auctions: make(map[RecordKey]Slot[Auction]),
		vaults:   make(map[crypto.PurseRef]map[RecordKey]*big.Int),
	}
}

func (m *mockState) ListingGet(key RecordKey) (Slot[Listing], error) {
	slot := m.listings[key]
	if slot.Live() {
		return LiveSlot(slot.Record.Clone()), nil
	}
	return slot, nil
}

func (m *mockState) ListingPut(key RecordKey, l *Listing) error {
	m.listings[key] = LiveSlot(l.Clone())
	return nil
}

func (m *mockState) ListingTombstone(key RecordKey) error {
	m.listings[key] = Slot[Listing]{State: RecordTombstoned}
	return nil
}

func (m *mockState) OfferGet(key RecordKey) (Slot[Offer], error) {
	slot := m.offers[key]
	if slot.Live() {
		return LiveSlot(slot.Record.Clone()), nil
	}
	return slot, nil
}

func (m *mockState) OfferPut(key RecordKey, o *Offer) error {
	m.offers[key] = LiveSlot(o.Clone())
	return nil
}

func (m *mockState) OfferTombstone(key RecordKey) error {
	m.offers[key] = Slot[Offer]{State: RecordTombstoned}
	return nil
}

func (m *mockState) AuctionGet(key RecordKey) (Slot[Auction], error) {
	slot := m.auctions[key]
	if slot.Live() {
		return LiveSlot(slot.Record.Clone()), nil
	}
	return slot, nil
}

func (m *mockState) AuctionPut(key RecordKey, a *Auction) error {
	m.auctions[key] = LiveSlot(a.Clone())
	return nil
}

func (m *mockState) AuctionTombstone(key RecordKey) error {
	m.auctions[key] = Slot[Auction]{State: RecordTombstoned}
	return nil
}

func (m *mockState) VaultCredit(vault crypto.PurseRef, key RecordKey, amt *big.Int) error {
	book, ok := m.vaults[vault]
	if !ok {
		book = make(map[RecordKey]*big.Int)
		m.vaults[vault] = book
	}
	current := book[key]
	if current == nil {
		current = big.NewInt(0)
	}
	book[key] = new(big.Int).Add(current, amt)
	return nil
}

func (m *mockState) VaultDebit(vault crypto.PurseRef, key RecordKey, amt *big.Int) error {
	current, _ := m.VaultBalance(vault, key)
	if current.Cmp(amt) < 0 {
		return ErrCustodyMismatch
	}
	m.vaults[vault][key] = new(big.Int).Sub(current, amt)
	return nil
}

func (m *mockState) VaultBalance(vault crypto.PurseRef, key RecordKey) (*big.Int, error) {
	if book, ok := m.vaults[vault]; ok {
		if bal := book[key]; bal != nil {
			return new(big.Int).Set(bal), nil
		}
	}
	return big.NewInt(0), nil
}

type mockLedger struct {
	purses   map[crypto.PurseRef]*big.Int
	owners   map[crypto.PurseRef]crypto.Identity
	accounts map[crypto.Identity]*big.Int
	next     byte
	fail     bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		purses:   make(map[crypto.PurseRef]*big.Int),
		owners:   make(map[crypto.PurseRef]crypto.Identity),
		accounts: make(map[crypto.Identity]*big.Int),
	}
}

func (l *mockLedger) CreateAccount() (crypto.PurseRef, error) {
	l.next++
	var ref crypto.PurseRef
	ref[0] = 0xF0
	ref[31] = l.next
	l.purses[ref] = big.NewInt(0)
	return ref, nil
}

func (l *mockLedger) fund(owner crypto.Identity, amount int64) crypto.PurseRef {
	ref, _ := l.CreateAccount()
	l.purses[ref] = big.NewInt(amount)
	l.owners[ref] = owner
	return ref
}

func (l *mockLedger) BalanceOf(ref crypto.PurseRef) (*big.Int, error) {
	bal, ok := l.purses[ref]
	if !ok {
		return nil, fmt.Errorf("purse %s not found", ref)
	}
	return new(big.Int).Set(bal), nil
}

func (l *mockLedger) debit(src crypto.PurseRef, amount *big.Int) error {
	if l.fail {
		return errors.New("ledger offline")
	}
	bal, ok := l.purses[src]
	if !ok {
		return fmt.Errorf("purse %s not found", src)
	}
	if bal.Cmp(amount) < 0 {
		return errors.New("insufficient funds")
	}
	l.purses[src] = new(big.Int).Sub(bal, amount)
	return nil
}

func (l *mockLedger) TransferToAccount(src, dst crypto.PurseRef, amount *big.Int) error {
	if _, ok := l.purses[dst]; !ok {
		return fmt.Errorf("purse %s not found", dst)
	}
	if err := l.debit(src, amount); err != nil {
		return err
	}
	l.purses[dst] = new(big.Int).Add(l.purses[dst], amount)
	return nil
}

func (l *mockLedger) TransferToIdentity(src crypto.PurseRef, dst crypto.Identity, amount *big.Int) error {
	if err := l.debit(src, amount); err != nil {
		return err
	}
	l.accounts[dst] = new(big.Int).Add(l.account(dst), amount)
	return nil
}

func (l *mockLedger) account(id crypto.Identity) *big.Int {
	if bal := l.accounts[id]; bal != nil {
		return bal
	}
	return big.NewInt(0)
}

func (l *mockLedger) AccessibleBy(ref crypto.PurseRef, caller crypto.Identity) (bool, error) {
	owner, ok := l.owners[ref]
	return ok && owner == caller, nil
}

type mockRegistry struct {
	owners    map[uint64]crypto.Identity
	approved  map[uint64]bool
	transfers int
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{owners: make(map[uint64]crypto.Identity), approved: make(map[uint64]bool)}
}

func (r *mockRegistry) mint(token uint64, owner crypto.Identity, approve bool) {
	r.owners[token] = owner
	r.approved[token] = approve
}

func (r *mockRegistry) OwnerOf(_ crypto.ContractHash, tokenID *uint256.Int) (crypto.Identity, bool, error) {
	owner, ok := r.owners[tokenID.Uint64()]
	return owner, ok, nil
}

func (r *mockRegistry) IsApprovedForMarketplace(_ crypto.ContractHash, tokenID *uint256.Int, owner crypto.Identity) (bool, error) {
	token := tokenID.Uint64()
	return r.approved[token] && r.owners[token] == owner, nil
}

func (r *mockRegistry) TransferFrom(_ crypto.ContractHash, sender, recipient crypto.Identity, tokenIDs []*uint256.Int) error {
	for _, id := range tokenIDs {
		token := id.Uint64()
		if r.owners[token] != sender || !r.approved[token] {
			return fmt.Errorf("token %d: transfer not permitted", token)
		}
		r.owners[token] = recipient
		r.approved[token] = false
		r.transfers++
	}
	return nil
}

type testEnv struct {
	engine   *Engine
	state    *mockState
	ledger   *mockLedger
	registry *mockRegistry
	events   *events.Buffer
	vaults   Vaults
}

var testCollection = crypto.ContractHash{0xC0, 0x11, 0xEC}

func newTestIdentity(fill byte) crypto.Identity {
	var id crypto.Identity
	for i := range id {
		id[i] = fill
	}
	return id
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	state := newMockState()
	ledger := newMockLedger()
	registry := newMockRegistry()
	offers, _ := ledger.CreateAccount()
	auctions, _ := ledger.CreateAccount()
	vaults := Vaults{Offers: offers, Auctions: auctions}
	buf := &events.Buffer{}

	engine := NewEngine()
	engine.SetState(state)
	engine.SetLedger(ledger)
	engine.SetRegistry(registry)
	engine.SetPurseGuard(ledger)
	engine.SetVaults(vaults)
	engine.SetEmitter(buf)
	return &testEnv{engine: engine, state: state, ledger: ledger, registry: registry, events: buf, vaults: vaults}
}

func token(id uint64) *uint256.Int { return uint256.NewInt(id) }

func amount(v int64) *big.Int { return big.NewInt(v) }

func at(id crypto.Identity, minutes uint64) CallContext {
	return CallContext{Caller: id, BlockTime: minutes * MillisecondsInMinute}
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func expectBalance(t *testing.T, label string, got *big.Int, want int64) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: expected %d, got %v", label, want, got)
	}
}

func eventTypes(buf *events.Buffer) []string {
	var out []string
	for _, evt := range buf.Events() {
		out = append(out, evt.EventType())
	}
	return out
}

func TestEngineRequiresConfiguration(t *testing.T) {
	engine := NewEngine()
	_, err := engine.CreateListing(at(newTestIdentity(1), 0), testCollection, token(1), amount(1), 0)
	expectErr(t, err, errNilState)

	engine.SetState(newMockState())
	_, err = engine.MakeOffer(at(newTestIdentity(1), 0), testCollection, token(1), crypto.PurseRef{1})
	expectErr(t, err, errNilLedger)

	engine.SetLedger(newMockLedger())
	engine.SetRegistry(newMockRegistry())
	_, err = engine.MakeOffer(at(newTestIdentity(1), 0), testCollection, token(1), crypto.PurseRef{1})
	expectErr(t, err, errNilVaults)
}

func TestCreateListingRejectsZeroPrice(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	env.registry.mint(1, seller, true)

	_, err := env.engine.CreateListing(at(seller, 0), testCollection, token(1), amount(0), 0)
	expectErr(t, err, ErrPriceSetToZero)
	slot, _ := env.engine.GetListing(testCollection, token(1))
	if slot.State != RecordMissing {
		t.Fatalf("expected no listing to be written, got %s", slot.State)
	}
	if len(env.events.Events()) != 0 {
		t.Fatalf("expected no events, got %v", eventTypes(env.events))
	}
}

func TestCreateListingChecksOwnershipAndApproval(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	stranger := newTestIdentity(0x99)

	_, err := env.engine.CreateListing(at(seller, 0), testCollection, token(1), amount(5), 0)
	expectErr(t, err, ErrAssetNotFound)

	env.registry.mint(1, seller, false)
	_, err = env.engine.CreateListing(at(stranger, 0), testCollection, token(1), amount(5), 0)
	expectErr(t, err, ErrPermissionDenied)
	_, err = env.engine.CreateListing(at(seller, 0), testCollection, token(1), amount(5), 0)
	expectErr(t, err, ErrNeedsTransferApproval)

	env.registry.approved[1] = true
	listing, err := env.engine.CreateListing(at(seller, 2), testCollection, token(1), amount(5), 3)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if listing.Expiration == nil || *listing.Expiration != 5*MillisecondsInMinute {
		t.Fatalf("unexpected expiration %v", listing.Expiration)
	}
}

func TestListingLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	buyer := newTestIdentity(0x22)
	env.registry.mint(1, seller, true)
	purse := env.ledger.fund(buyer, 150)

	if _, err := env.engine.CreateListing(at(seller, 0), testCollection, token(1), amount(100), 0); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if err := env.engine.CancelListing(at(seller, 1), testCollection, token(1)); err != nil {
		t.Fatalf("cancel listing: %v", err)
	}
	_, err := env.engine.BuyListing(at(buyer, 2), testCollection, token(1), purse)
	expectErr(t, err, ErrOfferDoesntExistOrCancelled)

	if _, err := env.engine.CreateListing(at(seller, 10), testCollection, token(1), amount(100), 15); err != nil {
		t.Fatalf("relist: %v", err)
	}
	if _, err := env.engine.BuyListing(at(buyer, 20), testCollection, token(1), purse); err != nil {
		t.Fatalf("buy listing: %v", err)
	}
	expectBalance(t, "buyer purse", env.ledger.purses[purse], 50)
	expectBalance(t, "seller account", env.ledger.account(seller), 100)
	if env.registry.owners[1] != buyer {
		t.Fatalf("asset should belong to buyer")
	}
	slot, _ := env.engine.GetListing(testCollection, token(1))
	if slot.State != RecordTombstoned {
		t.Fatalf("expected tombstoned listing, got %s", slot.State)
	}
	want := []string{EventTypeListingCreated, EventTypeListingCancelled, EventTypeListingCreated, EventTypeListingSold}
	if got := eventTypes(env.events); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestCancelListingWithoutListingIsNoop(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	env.registry.mint(1, seller, true)
	if err := env.engine.CancelListing(at(seller, 0), testCollection, token(1)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(env.events.Events()) != 0 {
		t.Fatalf("expected no events")
	}
	err := env.engine.CancelListing(at(newTestIdentity(0x33), 0), testCollection, token(1))
	expectErr(t, err, ErrPermissionDenied)
}

func TestBuyListingPreconditions(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	buyer := newTestIdentity(0x22)
	env.registry.mint(1, seller, true)
	if _, err := env.engine.CreateListing(at(seller, 0), testCollection, token(1), amount(100), 1); err != nil {
		t.Fatalf("create listing: %v", err)
	}

	poor := env.ledger.fund(buyer, 99)
	_, err := env.engine.BuyListing(at(buyer, 0), testCollection, token(1), poor)
	expectErr(t, err, ErrBalanceInsufficient)

	rich := env.ledger.fund(buyer, 1000)
	late := CallContext{Caller: buyer, BlockTime: MillisecondsInMinute + 1}
	_, err = env.engine.BuyListing(late, testCollection, token(1), rich)
	expectErr(t, err, ErrListingExpired)

	foreign := env.ledger.fund(seller, 1000)
	_, err = env.engine.BuyListing(at(buyer, 0), testCollection, token(1), foreign)
	expectErr(t, err, ErrPermissionDenied)

	env.registry.owners[1] = newTestIdentity(0x44)
	_, err = env.engine.BuyListing(at(buyer, 0), testCollection, token(1), rich)
	expectErr(t, err, ErrPermissionDenied)
	expectBalance(t, "untouched purse", env.ledger.purses[rich], 1000)
}

func TestBuyListingReportsBalanceBeforeExpiry(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	buyer := newTestIdentity(0x22)
	env.registry.mint(1, seller, true)
	if _, err := env.engine.CreateListing(at(seller, 0), testCollection, token(1), amount(100), 1); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	late := CallContext{Caller: buyer, BlockTime: MillisecondsInMinute + 1}
	_, err := env.engine.BuyListing(late, testCollection, token(1), env.ledger.fund(buyer, 5))
	expectErr(t, err, ErrBalanceInsufficient)
}

func TestBuyListingAtExpirationSucceeds(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	buyer := newTestIdentity(0x22)
	env.registry.mint(1, seller, true)
	if _, err := env.engine.CreateListing(at(seller, 0), testCollection, token(1), amount(10), 1); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	purse := env.ledger.fund(buyer, 10)
	if _, err := env.engine.BuyListing(at(buyer, 1), testCollection, token(1), purse); err != nil {
		t.Fatalf("buy at expiration: %v", err)
	}
}

func TestMakeOfferReplacesPreviousOffer(t *testing.T) {
	env := newTestEnv(t)
	offerer := newTestIdentity(0x22)
	first := env.ledger.fund(offerer, 40)
	second := env.ledger.fund(offerer, 70)

	if _, err := env.engine.MakeOffer(at(offerer, 0), testCollection, token(2), first); err != nil {
		t.Fatalf("first offer: %v", err)
	}
	offer, err := env.engine.MakeOffer(at(offerer, 1), testCollection, token(2), second)
	if err != nil {
		t.Fatalf("second offer: %v", err)
	}
	expectBalance(t, "offer price", offer.Price, 70)
	expectBalance(t, "refunded to offerer", env.ledger.account(offerer), 40)
	expectBalance(t, "offers purse", env.ledger.purses[env.vaults.Offers], 70)
	held, _ := env.engine.VaultBalance(env.vaults.Offers, OfferKey(testCollection, token(2), offerer))
	expectBalance(t, "held for offer", held, 70)

	want := []string{EventTypeOfferMade, EventTypeOfferRefunded, EventTypeOfferMade}
	if got := eventTypes(env.events); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestMakeOfferFromEmptyPurseRecordsZeroOffer(t *testing.T) {
	env := newTestEnv(t)
	offerer := newTestIdentity(0x22)
	empty := env.ledger.fund(offerer, 0)
	offer, err := env.engine.MakeOffer(at(offerer, 0), testCollection, token(2), empty)
	if err != nil {
		t.Fatalf("make offer: %v", err)
	}
	expectBalance(t, "offer price", offer.Price, 0)

	slot, err := env.engine.GetOffer(testCollection, token(2), offerer)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if !slot.Live() {
		t.Fatalf("zero offer must be live, got %s", slot.State)
	}
	if _, err := env.engine.CancelOffer(at(offerer, 1), testCollection, token(2)); err != nil {
		t.Fatalf("cancel zero offer: %v", err)
	}
	expectBalance(t, "refund", env.ledger.account(offerer), 0)
}

func TestOfferLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	owner := newTestIdentity(0x11)
	offerer := newTestIdentity(0x22)
	env.registry.mint(2, owner, true)

	_, err := env.engine.AcceptOffer(at(owner, 0), testCollection, token(2), offerer)
	expectErr(t, err, ErrOfferDoesntExistOrCancelled)

	purse := env.ledger.fund(offerer, 25)
	if _, err := env.engine.MakeOffer(at(offerer, 0), testCollection, token(2), purse); err != nil {
		t.Fatalf("make offer: %v", err)
	}
	if _, err := env.engine.CancelOffer(at(offerer, 1), testCollection, token(2)); err != nil {
		t.Fatalf("cancel offer: %v", err)
	}
	expectBalance(t, "refund", env.ledger.account(offerer), 25)
	_, err = env.engine.AcceptOffer(at(owner, 2), testCollection, token(2), offerer)
	expectErr(t, err, ErrOfferCancelledOrFinished)
	_, err = env.engine.CancelOffer(at(offerer, 2), testCollection, token(2))
	expectErr(t, err, ErrOfferDoesntExistOrCancelled)

	again := env.ledger.fund(offerer, 30)
	if _, err := env.engine.MakeOffer(at(offerer, 3), testCollection, token(2), again); err != nil {
		t.Fatalf("make offer again: %v", err)
	}
	_, err = env.engine.AcceptOffer(at(offerer, 4), testCollection, token(2), offerer)
	expectErr(t, err, ErrPermissionDenied)

	if _, err := env.engine.AcceptOffer(at(owner, 4), testCollection, token(2), offerer); err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	expectBalance(t, "owner paid", env.ledger.account(owner), 30)
	expectBalance(t, "offers purse drained", env.ledger.purses[env.vaults.Offers], 0)
	if env.registry.owners[2] != offerer {
		t.Fatalf("asset should belong to offerer")
	}
}

func TestAcceptOfferRequiresApproval(t *testing.T) {
	env := newTestEnv(t)
	owner := newTestIdentity(0x11)
	offerer := newTestIdentity(0x22)
	env.registry.mint(2, owner, false)
	purse := env.ledger.fund(offerer, 5)
	if _, err := env.engine.MakeOffer(at(offerer, 0), testCollection, token(2), purse); err != nil {
		t.Fatalf("make offer: %v", err)
	}
	_, err := env.engine.AcceptOffer(at(owner, 1), testCollection, token(2), offerer)
	expectErr(t, err, ErrNeedsTransferApproval)
}

func TestOfferCustodyIsScopedPerRecord(t *testing.T) {
	env := newTestEnv(t)
	honest := newTestIdentity(0x22)
	thief := newTestIdentity(0x33)
	purse := env.ledger.fund(honest, 50)
	if _, err := env.engine.MakeOffer(at(honest, 0), testCollection, token(2), purse); err != nil {
		t.Fatalf("make offer: %v", err)
	}
	// A forged record without matching escrow cannot drain another offer's funds.
	key := OfferKey(testCollection, token(2), thief)
	env.state.offers[key] = LiveSlot(&Offer{Offerer: thief, Price: amount(50)})
	_, err := env.engine.CancelOffer(at(thief, 1), testCollection, token(2))
	expectErr(t, err, ErrCustodyMismatch)
}

func TestAuctionScenario(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	first := newTestIdentity(0x22)
	second := newTestIdentity(0x33)
	late := newTestIdentity(0x44)
	env.registry.mint(3, seller, true)

	auction, err := env.engine.StartAuction(at(seller, 0), testCollection, token(3), amount(1), 20)
	if err != nil {
		t.Fatalf("start auction: %v", err)
	}
	if auction.CurrentWinner != seller || auction.CurrentBid.Cmp(amount(1)) != 0 || auction.HasBid() {
		t.Fatalf("unexpected initial auction %+v", auction)
	}
	endTime := auction.EndTime

	bidAt := CallContext{Caller: first, BlockTime: 5}
	if _, err := env.engine.PlaceBid(bidAt, testCollection, token(3), env.ledger.fund(first, 2)); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	bidAt.Caller = second
	_, err = env.engine.PlaceBid(bidAt, testCollection, token(3), env.ledger.fund(second, 2))
	expectErr(t, err, ErrBidTooLow)
	if _, err := env.engine.PlaceBid(bidAt, testCollection, token(3), env.ledger.fund(second, 3)); err != nil {
		t.Fatalf("second bid: %v", err)
	}
	expectBalance(t, "first bidder refunded", env.ledger.account(first), 2)
	expectBalance(t, "seller not paid during bidding", env.ledger.account(seller), 0)

	_, err = env.engine.PlaceBid(CallContext{Caller: late, BlockTime: endTime * 2}, testCollection, token(3), env.ledger.fund(late, 10))
	expectErr(t, err, ErrAuctionEnded)

	_, err = env.engine.EndAuction(CallContext{Caller: late, BlockTime: 5}, testCollection, token(3))
	expectErr(t, err, ErrAuctionNotFinished)

	if _, err := env.engine.EndAuction(CallContext{Caller: late, BlockTime: endTime}, testCollection, token(3)); err != nil {
		t.Fatalf("end auction: %v", err)
	}
	expectBalance(t, "seller paid", env.ledger.account(seller), 3)
	expectBalance(t, "winner not repaid", env.ledger.account(second), 0)
	expectBalance(t, "auctions purse drained", env.ledger.purses[env.vaults.Auctions], 0)
	if env.registry.owners[3] != second {
		t.Fatalf("asset should belong to winner")
	}
	if env.registry.transfers != 1 {
		t.Fatalf("expected exactly one asset transfer, got %d", env.registry.transfers)
	}

	_, err = env.engine.EndAuction(CallContext{Caller: late, BlockTime: endTime + 1}, testCollection, token(3))
	expectErr(t, err, ErrAuctionCancelledOrFinished)
	expectBalance(t, "seller paid once", env.ledger.account(seller), 3)
}

func TestPlaceBidRefundsPreviousBidderNotSeller(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	first := newTestIdentity(0x22)
	second := newTestIdentity(0x33)
	env.registry.mint(3, seller, true)
	if _, err := env.engine.StartAuction(at(seller, 0), testCollection, token(3), amount(10), 60); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	if _, err := env.engine.PlaceBid(at(first, 1), testCollection, token(3), env.ledger.fund(first, 15)); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if _, err := env.engine.PlaceBid(at(second, 2), testCollection, token(3), env.ledger.fund(second, 20)); err != nil {
		t.Fatalf("second bid: %v", err)
	}
	expectBalance(t, "previous bidder", env.ledger.account(first), 15)
	expectBalance(t, "seller", env.ledger.account(seller), 0)
	held, _ := env.engine.VaultBalance(env.vaults.Auctions, ListingKey(testCollection, token(3)))
	expectBalance(t, "held for auction", held, 20)
}

func TestPlaceBidReportsBidTooLowAfterEnd(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	bidder := newTestIdentity(0x22)
	env.registry.mint(3, seller, true)
	auction, err := env.engine.StartAuction(at(seller, 0), testCollection, token(3), amount(10), 1)
	if err != nil {
		t.Fatalf("start auction: %v", err)
	}
	after := CallContext{Caller: bidder, BlockTime: auction.EndTime + 1}
	_, err = env.engine.PlaceBid(after, testCollection, token(3), env.ledger.fund(bidder, 1))
	expectErr(t, err, ErrBidTooLow)

	_, err = env.engine.PlaceBid(after, testCollection, token(3), env.ledger.fund(bidder, 11))
	expectErr(t, err, ErrAuctionEnded)
}

func TestPlaceBidWithoutAuction(t *testing.T) {
	env := newTestEnv(t)
	bidder := newTestIdentity(0x22)
	_, err := env.engine.PlaceBid(at(bidder, 0), testCollection, token(9), env.ledger.fund(bidder, 5))
	expectErr(t, err, ErrAuctionNotFound)
}

func TestAntiSnipeExtension(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	bidder := newTestIdentity(0x22)
	env.registry.mint(3, seller, true)
	if _, err := env.engine.StartAuction(at(seller, 0), testCollection, token(3), amount(1), 20); err != nil {
		t.Fatalf("start auction: %v", err)
	}

	early, err := env.engine.PlaceBid(at(bidder, 5), testCollection, token(3), env.ledger.fund(bidder, 2))
	if err != nil {
		t.Fatalf("early bid: %v", err)
	}
	if early.EndTime != 20*MillisecondsInMinute {
		t.Fatalf("early bid must not extend, end time %d", early.EndTime)
	}

	late, err := env.engine.PlaceBid(at(bidder, 15), testCollection, token(3), env.ledger.fund(bidder, 3))
	if err != nil {
		t.Fatalf("late bid: %v", err)
	}
	if late.EndTime != 30*MillisecondsInMinute {
		t.Fatalf("late bid must extend to 30 minutes, got %d", late.EndTime)
	}
	types := eventTypes(env.events)
	if types[len(types)-1] != EventTypeAuctionExtended {
		t.Fatalf("expected extension event, got %v", types)
	}

	_, err = env.engine.PlaceBid(at(bidder, 30), testCollection, token(3), env.ledger.fund(bidder, 4))
	expectErr(t, err, ErrAuctionEnded)
}

func TestAntiSnipeParamsConfigurable(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetParams(Params{AntiSnipeWindow: MillisecondsInMinute, AntiSnipeExtension: 2 * MillisecondsInMinute})
	seller := newTestIdentity(0x11)
	bidder := newTestIdentity(0x22)
	env.registry.mint(3, seller, true)
	if _, err := env.engine.StartAuction(at(seller, 0), testCollection, token(3), amount(1), 10); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	auction, err := env.engine.PlaceBid(at(bidder, 5), testCollection, token(3), env.ledger.fund(bidder, 2))
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if auction.EndTime != 10*MillisecondsInMinute {
		t.Fatalf("bid outside the one minute window must not extend")
	}
}

func TestEndAuctionWithoutBids(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	env.registry.mint(3, seller, true)
	if _, err := env.engine.StartAuction(at(seller, 0), testCollection, token(3), amount(7), 1); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	if _, err := env.engine.EndAuction(at(seller, 1), testCollection, token(3)); err != nil {
		t.Fatalf("end auction: %v", err)
	}
	if env.registry.transfers != 0 || env.ledger.account(seller).Sign() != 0 {
		t.Fatalf("auction without bids must not move funds or assets")
	}
	types := eventTypes(env.events)
	if types[len(types)-1] != EventTypeAuctionClosed {
		t.Fatalf("expected closed event, got %v", types)
	}
}

func TestEndAuctionRefundsWinnerWhenSellerCannotDeliver(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	bidder := newTestIdentity(0x22)
	env.registry.mint(3, seller, true)
	if _, err := env.engine.StartAuction(at(seller, 0), testCollection, token(3), amount(1), 10); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	if _, err := env.engine.PlaceBid(at(bidder, 1), testCollection, token(3), env.ledger.fund(bidder, 9)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	env.registry.approved[3] = false

	if _, err := env.engine.EndAuction(at(bidder, 20), testCollection, token(3)); err != nil {
		t.Fatalf("end auction: %v", err)
	}
	expectBalance(t, "winner refunded", env.ledger.account(bidder), 9)
	expectBalance(t, "seller unpaid", env.ledger.account(seller), 0)
	if env.registry.owners[3] != seller {
		t.Fatalf("asset must stay with seller")
	}
	types := eventTypes(env.events)
	if types[len(types)-1] != EventTypeAuctionFailed {
		t.Fatalf("expected failed event, got %v", types)
	}
}

func TestStartAuctionConflicts(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	env.registry.mint(3, seller, true)

	_, err := env.engine.StartAuction(at(seller, 0), testCollection, token(3), amount(0), 10)
	expectErr(t, err, ErrPriceSetToZero)
	_, err = env.engine.StartAuction(at(seller, 0), testCollection, token(3), amount(1), 0)
	expectErr(t, err, ErrInvalidDuration)
	_, err = env.engine.StartAuction(at(newTestIdentity(0x33), 0), testCollection, token(3), amount(1), 10)
	expectErr(t, err, ErrPermissionDenied)

	if _, err := env.engine.CreateListing(at(seller, 0), testCollection, token(3), amount(5), 0); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	_, err = env.engine.StartAuction(at(seller, 0), testCollection, token(3), amount(1), 10)
	expectErr(t, err, ErrListingActive)

	if err := env.engine.CancelListing(at(seller, 0), testCollection, token(3)); err != nil {
		t.Fatalf("cancel listing: %v", err)
	}
	if _, err := env.engine.StartAuction(at(seller, 0), testCollection, token(3), amount(1), 10); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	_, err = env.engine.StartAuction(at(seller, 0), testCollection, token(3), amount(1), 10)
	expectErr(t, err, ErrAuctionAlreadyExists)
	_, err = env.engine.CreateListing(at(seller, 0), testCollection, token(3), amount(5), 0)
	expectErr(t, err, ErrAuctionInProgress)
}

func TestTimeOverflowIsReported(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	env.registry.mint(1, seller, true)
	call := CallContext{Caller: seller, BlockTime: ^uint64(0) - 1}
	_, err := env.engine.CreateListing(call, testCollection, token(1), amount(1), 1)
	expectErr(t, err, ErrTimeOverflow)
	_, err = env.engine.StartAuction(at(seller, 0), testCollection, token(1), amount(1), ^uint64(0))
	expectErr(t, err, ErrTimeOverflow)
}

func TestAmountOverflowIsReported(t *testing.T) {
	env := newTestEnv(t)
	seller := newTestIdentity(0x11)
	env.registry.mint(1, seller, true)
	huge := new(big.Int).Lsh(big.NewInt(1), MaxAmountBits)
	_, err := env.engine.CreateListing(at(seller, 0), testCollection, token(1), huge, 0)
	expectErr(t, err, ErrAmountOverflow)
}

func TestLedgerFailureSurfacesAsTransferFailed(t *testing.T) {
	env := newTestEnv(t)
	offerer := newTestIdentity(0x22)
	purse := env.ledger.fund(offerer, 5)
	env.ledger.fail = true
	_, err := env.engine.MakeOffer(at(offerer, 0), testCollection, token(2), purse)
	expectErr(t, err, ErrTransferFailed)
}

func TestErrorCodes(t *testing.T) {
	wrapped := fmt.Errorf("%w: listing tombstoned", ErrOfferDoesntExistOrCancelled)
	if Code(wrapped) != 4 || CodeName(wrapped) != "OfferDoesntExistOrCancelled" {
		t.Fatalf("unexpected code %d %s", Code(wrapped), CodeName(wrapped))
	}
	if CodeName(errors.New("boom")) != "Internal" || Code(errors.New("boom")) != CodeInternal {
		t.Fatalf("unnamed errors must map to Internal")
	}
	if CodeName(nil) != "" {
		t.Fatalf("nil error must have no name")
	}
	seen := make(map[ErrorCode]bool)
	for _, entry := range errorCodes {
		if seen[entry.code] {
			t.Fatalf("duplicate code %d", entry.code)
		}
		seen[entry.code] = true
	}
}
