package market

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"mystra/core/events"
	"mystra/core/types"
	"mystra/crypto"
)

type engineState interface {
	ListingGet(key RecordKey) (Slot[Listing], error)
	ListingPut(key RecordKey, listing *Listing) error
	ListingTombstone(key RecordKey) error
	OfferGet(key RecordKey) (Slot[Offer], error)
	OfferPut(key RecordKey, offer *Offer) error
	OfferTombstone(key RecordKey) error
	AuctionGet(key RecordKey) (Slot[Auction], error)
	AuctionPut(key RecordKey, auction *Auction) error
	AuctionTombstone(key RecordKey) error
	// Vault credits and debits track, per record, how much of a custody purse
	// belongs to that record.
	VaultCredit(vault crypto.PurseRef, key RecordKey, amt *big.Int) error
	VaultDebit(vault crypto.PurseRef, key RecordKey, amt *big.Int) error
	VaultBalance(vault crypto.PurseRef, key RecordKey) (*big.Int, error)
}

// AssetRegistry is the marketplace's capability over the external asset
// registry. IsApprovedForMarketplace reports whether owner has authorised the
// marketplace package to transfer the asset.
type AssetRegistry interface {
	OwnerOf(collection crypto.ContractHash, tokenID *uint256.Int) (crypto.Identity, bool, error)
	IsApprovedForMarketplace(collection crypto.ContractHash, tokenID *uint256.Int, owner crypto.Identity) (bool, error)
	TransferFrom(collection crypto.ContractHash, sender, recipient crypto.Identity, tokenIDs []*uint256.Int) error
}

// Ledger is the external custodial balance ledger.
type Ledger interface {
	CreateAccount() (crypto.PurseRef, error)
	BalanceOf(ref crypto.PurseRef) (*big.Int, error)
	TransferToAccount(src, dst crypto.PurseRef, amount *big.Int) error
	TransferToIdentity(src crypto.PurseRef, dst crypto.Identity, amount *big.Int) error
}

// PurseGuard reports whether caller may spend from a purse it supplied as an
// argument.
type PurseGuard interface {
	AccessibleBy(ref crypto.PurseRef, caller crypto.Identity) (bool, error)
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine implements the listing, offer and auction lifecycles. An engine is
// bound to the state of a single call; the host discards every effect of a
// call that returns an error.
type Engine struct {
	state    engineState
	registry AssetRegistry
	ledger   Ledger
	guard    PurseGuard
	vaults   *Vaults
	params   Params
	emitter  events.Emitter
}

// NewEngine creates an engine with default parameters and a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		params:  DefaultParams(),
		emitter: events.NoopEmitter{},
	}
}

// SetState configures the record store backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the asset registry capability.
func (e *Engine) SetRegistry(registry AssetRegistry) { e.registry = registry }

// SetLedger configures the balance ledger.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetPurseGuard configures the purse access check. A nil guard trusts the
// host to have validated purse arguments.
func (e *Engine) SetPurseGuard(guard PurseGuard) { e.guard = guard }

// SetVaults configures the custody purses resolved at startup.
func (e *Engine) SetVaults(vaults Vaults) {
	v := vaults
	e.vaults = &v
}

// SetParams overrides the anti-snipe parameters. Zero fields keep defaults.
func (e *Engine) SetParams(params Params) {
	defaults := DefaultParams()
	if params.AntiSnipeWindow == 0 {
		params.AntiSnipeWindow = defaults.AntiSnipeWindow
	}
	if params.AntiSnipeExtension == 0 {
		params.AntiSnipeExtension = defaults.AntiSnipeExtension
	}
	e.params = params
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.ledger == nil:
		return errNilLedger
	case e.registry == nil:
		return errNilRegistry
	case e.vaults == nil:
		return errNilVaults
	}
	return nil
}

func (e *Engine) ownerOf(collection crypto.ContractHash, tokenID *uint256.Int) (crypto.Identity, error) {
	owner, ok, err := e.registry.OwnerOf(collection, tokenID)
	if err != nil {
		return crypto.Identity{}, fmt.Errorf("%w: owner_of: %v", ErrRegistryCall, err)
	}
	if !ok {
		return crypto.Identity{}, fmt.Errorf("%w: token %s in %s", ErrAssetNotFound, tokenID.Dec(), collection)
	}
	return owner, nil
}

func (e *Engine) requireOwner(collection crypto.ContractHash, tokenID *uint256.Int, caller crypto.Identity) error {
	owner, err := e.ownerOf(collection, tokenID)
	if err != nil {
		return err
	}
	if owner != caller {
		return ErrPermissionDenied
	}
	return nil
}

func (e *Engine) requireApproval(collection crypto.ContractHash, tokenID *uint256.Int, owner crypto.Identity) error {
	approved, err := e.registry.IsApprovedForMarketplace(collection, tokenID, owner)
	if err != nil {
		return fmt.Errorf("%w: get_approved: %v", ErrRegistryCall, err)
	}
	if !approved {
		return ErrNeedsTransferApproval
	}
	return nil
}

func (e *Engine) transferAsset(collection crypto.ContractHash, tokenID *uint256.Int, sender, recipient crypto.Identity) error {
	if err := e.registry.TransferFrom(collection, sender, recipient, []*uint256.Int{tokenID}); err != nil {
		return fmt.Errorf("%w: transfer_from: %v", ErrRegistryCall, err)
	}
	return nil
}

// purseBalance reads the balance of a caller-supplied purse after checking the
// caller may spend from it.
func (e *Engine) purseBalance(purse crypto.PurseRef, caller crypto.Identity) (*big.Int, error) {
	if e.guard != nil {
		ok, err := e.guard.AccessibleBy(purse, caller)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: purse %s not accessible by caller", ErrPermissionDenied, purse)
		}
	}
	balance, err := e.ledger.BalanceOf(purse)
	if err != nil {
		return nil, fmt.Errorf("%w: balance_of: %v", ErrTransferFailed, err)
	}
	if err := checkAmount(balance); err != nil {
		return nil, err
	}
	return cloneBigInt(balance), nil
}

// escrow moves amount from a caller purse into a custody purse and books it
// against the record key.
func (e *Engine) escrow(src, vault crypto.PurseRef, key RecordKey, amount *big.Int) error {
	if err := e.ledger.TransferToAccount(src, vault, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.VaultCredit(vault, key, amount); err != nil {
		return err
	}
	return nil
}

// release pays amount held for the record key out of a custody purse.
func (e *Engine) release(vault crypto.PurseRef, key RecordKey, recipient crypto.Identity, amount *big.Int) error {
	if err := e.state.VaultDebit(vault, key, amount); err != nil {
		return err
	}
	if err := e.ledger.TransferToIdentity(vault, recipient, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// GetListing returns the listing slot for an asset.
func (e *Engine) GetListing(collection crypto.ContractHash, tokenID *uint256.Int) (Slot[Listing], error) {
	if e == nil || e.state == nil {
		return Slot[Listing]{}, errNilState
	}
	return e.state.ListingGet(ListingKey(collection, tokenID))
}

// GetOffer returns the offer slot of offerer for an asset.
func (e *Engine) GetOffer(collection crypto.ContractHash, tokenID *uint256.Int, offerer crypto.Identity) (Slot[Offer], error) {
	if e == nil || e.state == nil {
		return Slot[Offer]{}, errNilState
	}
	return e.state.OfferGet(OfferKey(collection, tokenID, offerer))
}

// GetAuction returns the auction slot for an asset.
func (e *Engine) GetAuction(collection crypto.ContractHash, tokenID *uint256.Int) (Slot[Auction], error) {
	if e == nil || e.state == nil {
		return Slot[Auction]{}, errNilState
	}
	return e.state.AuctionGet(ListingKey(collection, tokenID))
}

// SetRoyalties accepts royalty configuration and intentionally changes
// nothing.
func (e *Engine) SetRoyalties(call CallContext, collection crypto.ContractHash, percentage *uint256.Int) error {
	_ = call
	_ = collection
	_ = percentage
	return nil
}
