package market

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"mystra/crypto"
)

// Entry point names.
const (
	EntryCreateListing = "create_listing"
	EntryCancelListing = "cancel_listing"
	EntryBuyListing    = "buy_listing"
	EntryMakeOffer     = "make_offer"
	EntryAcceptOffer   = "accept_offer"
	EntryCancelOffer   = "cancel_offer"
	EntryStartAuction  = "start_auction"
	EntryPlaceBid      = "place_bid"
	EntryEndAuction    = "end_auction"
	EntrySetRoyalties  = "set_royalties"
)

// Named argument keys.
const (
	ArgContractHash        = "contract_hash"
	ArgTokenID             = "token_id"
	ArgPrice               = "price"
	ArgDurationMinutes     = "duration_minutes"
	ArgBuyPurse            = "buy_purse"
	ArgOfferer             = "offerer"
	ArgRoyaltiesPercentage = "royalties_percentage"
)

// EntryPoints lists every callable entry point in registration order.
var EntryPoints = []string{
	EntryCreateListing,
	EntryCancelListing,
	EntryBuyListing,
	EntryMakeOffer,
	EntryAcceptOffer,
	EntryCancelOffer,
	EntryStartAuction,
	EntryPlaceBid,
	EntryEndAuction,
	EntrySetRoyalties,
}

// Args are the named string arguments of an entry point call.
type Args map[string]string

func (a Args) raw(name string) (string, error) {
	value, ok := a[name]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidArgument, name)
	}
	return strings.TrimSpace(value), nil
}

// Collection parses the contract_hash argument.
func (a Args) Collection() (crypto.ContractHash, error) {
	raw, err := a.raw(ArgContractHash)
	if err != nil {
		return crypto.ContractHash{}, err
	}
	hash, err := crypto.ParseContractHash(raw)
	if err != nil {
		return crypto.ContractHash{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return hash, nil
}

// TokenID parses a decimal or 0x-prefixed hexadecimal U256.
func (a Args) TokenID() (*uint256.Int, error) {
	raw, err := a.raw(ArgTokenID)
	if err != nil {
		return nil, err
	}
	return ParseTokenID(raw)
}

// ParseTokenID parses a decimal or 0x-prefixed hexadecimal U256.
func ParseTokenID(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		value, ok := new(big.Int).SetString(raw[2:], 16)
		if !ok || value.Sign() < 0 {
			return nil, fmt.Errorf("%w: token_id %q", ErrInvalidArgument, raw)
		}
		id, overflow := uint256.FromBig(value)
		if overflow {
			return nil, fmt.Errorf("%w: token_id exceeds 256 bits", ErrInvalidArgument)
		}
		return id, nil
	}
	id, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: token_id: %v", ErrInvalidArgument, err)
	}
	return id, nil
}

func (a Args) amount(name string) (*big.Int, error) {
	raw, err := a.raw(name)
	if err != nil {
		return nil, err
	}
	return ParseAmount(raw)
}

// ParseAmount parses a non-negative decimal U512.
func ParseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q", ErrInvalidArgument, raw)
	}
	if err := checkAmount(value); err != nil {
		return nil, err
	}
	return value, nil
}

func (a Args) duration() (uint64, error) {
	raw, err := a.raw(ArgDurationMinutes)
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: duration_minutes: %v", ErrInvalidArgument, err)
	}
	return minutes, nil
}

func (a Args) purse() (crypto.PurseRef, error) {
	raw, err := a.raw(ArgBuyPurse)
	if err != nil {
		return crypto.PurseRef{}, err
	}
	ref, err := crypto.ParsePurseRef(raw)
	if err != nil {
		return crypto.PurseRef{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return ref, nil
}

func (a Args) identity(name string) (crypto.Identity, error) {
	raw, err := a.raw(name)
	if err != nil {
		return crypto.Identity{}, err
	}
	id, err := crypto.ParseIdentity(raw)
	if err != nil {
		return crypto.Identity{}, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
	}
	return id, nil
}

func (a Args) asset() (crypto.ContractHash, *uint256.Int, error) {
	collection, err := a.Collection()
	if err != nil {
		return crypto.ContractHash{}, nil, err
	}
	tokenID, err := a.TokenID()
	if err != nil {
		return crypto.ContractHash{}, nil, err
	}
	return collection, tokenID, nil
}

// Invoke decodes the named arguments of entryPoint and runs the matching
// operation. The result is the record the operation wrote or consumed, or nil.
func (e *Engine) Invoke(call CallContext, entryPoint string, args Args) (any, error) {
	switch entryPoint {
	case EntryCreateListing, EntryStartAuction:
		collection, tokenID, err := args.asset()
		if err != nil {
			return nil, err
		}
		price, err := args.amount(ArgPrice)
		if err != nil {
			return nil, err
		}
		minutes, err := args.duration()
		if err != nil {
			return nil, err
		}
		if entryPoint == EntryCreateListing {
			return e.CreateListing(call, collection, tokenID, price, minutes)
		}
		return e.StartAuction(call, collection, tokenID, price, minutes)
	case EntryCancelListing:
		collection, tokenID, err := args.asset()
		if err != nil {
			return nil, err
		}
		return nil, e.CancelListing(call, collection, tokenID)
	case EntryBuyListing, EntryMakeOffer, EntryPlaceBid:
		collection, tokenID, err := args.asset()
		if err != nil {
			return nil, err
		}
		purse, err := args.purse()
		if err != nil {
			return nil, err
		}
		switch entryPoint {
		case EntryBuyListing:
			return e.BuyListing(call, collection, tokenID, purse)
		case EntryMakeOffer:
			return e.MakeOffer(call, collection, tokenID, purse)
		default:
			return e.PlaceBid(call, collection, tokenID, purse)
		}
	case EntryAcceptOffer:
		collection, tokenID, err := args.asset()
		if err != nil {
			return nil, err
		}
		offerer, err := args.identity(ArgOfferer)
		if err != nil {
			return nil, err
		}
		return e.AcceptOffer(call, collection, tokenID, offerer)
	case EntryCancelOffer:
		collection, tokenID, err := args.asset()
		if err != nil {
			return nil, err
		}
		return e.CancelOffer(call, collection, tokenID)
	case EntryEndAuction:
		collection, tokenID, err := args.asset()
		if err != nil {
			return nil, err
		}
		return e.EndAuction(call, collection, tokenID)
	case EntrySetRoyalties:
		collection, err := args.Collection()
		if err != nil {
			return nil, err
		}
		raw, err := args.raw(ArgRoyaltiesPercentage)
		if err != nil {
			return nil, err
		}
		percentage, err := ParseTokenID(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: royalties_percentage", ErrInvalidArgument)
		}
		return nil, e.SetRoyalties(call, collection, percentage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntryPoint, entryPoint)
	}
}
