package market

import "errors"

var (
	errNilState    = errors.New("market engine: state not configured")
	errNilLedger   = errors.New("market engine: ledger not configured")
	errNilRegistry = errors.New("market engine: asset registry not configured")
	errNilVaults   = errors.New("market engine: custody purses not configured")
)

// Named failure conditions. Every call that fails returns an error wrapping
// exactly one of these.
var (
	ErrPermissionDenied            = errors.New("market: permission denied")
	ErrPriceSetToZero              = errors.New("market: price set to zero")
	ErrNeedsTransferApproval       = errors.New("market: needs transfer approval")
	ErrOfferDoesntExistOrCancelled = errors.New("market: offer doesn't exist or cancelled")
	ErrOfferCancelledOrFinished    = errors.New("market: offer cancelled or finished")
	ErrBalanceInsufficient         = errors.New("market: balance insufficient")
	ErrListingExpired              = errors.New("market: listing expired")
	ErrBidTooLow                   = errors.New("market: bid too low")
	ErrAuctionEnded                = errors.New("market: auction ended")
	ErrAuctionNotFinished          = errors.New("market: auction not finished")
	ErrAuctionNotFound             = errors.New("market: auction doesn't exist")
	ErrAuctionCancelledOrFinished  = errors.New("market: auction cancelled or finished")
	ErrAuctionAlreadyExists        = errors.New("market: auction already exists")
	ErrAuctionInProgress           = errors.New("market: auction in progress")
	ErrListingActive               = errors.New("market: listing active")
	ErrInvalidDuration             = errors.New("market: invalid duration")
	ErrAssetNotFound               = errors.New("market: asset not found")
	ErrInvalidArgument             = errors.New("market: invalid argument")
	ErrUnknownEntryPoint           = errors.New("market: unknown entry point")
	ErrAmountOverflow              = errors.New("market: amount overflow")
	ErrTimeOverflow                = errors.New("market: time overflow")
	ErrTransferFailed              = errors.New("market: ledger transfer failed")
	ErrRegistryCall                = errors.New("market: asset registry call failed")
	ErrCustodyMismatch             = errors.New("market: custody balance mismatch")
	ErrPurseRetrieval              = errors.New("market: custody purse retrieval failed")
)

// ErrorCode is the stable numeric identifier surfaced to callers.
type ErrorCode uint16

// CodeInternal is reported for failures that are not a named condition.
const CodeInternal ErrorCode = 0

var errorCodes = []struct {
	err  error
	code ErrorCode
	name string
}{
	{ErrPermissionDenied, 1, "PermissionDenied"},
	{ErrPriceSetToZero, 2, "PriceSetToZero"},
	{ErrNeedsTransferApproval, 3, "NeedsTransferApproval"},
	{ErrOfferDoesntExistOrCancelled, 4, "OfferDoesntExistOrCancelled"},
	{ErrOfferCancelledOrFinished, 5, "OfferCancelledOrFinished"},
	{ErrBalanceInsufficient, 6, "BalanceInsufficient"},
	{ErrListingExpired, 7, "ListingExpired"},
	{ErrBidTooLow, 8, "BidTooLow"},
	{ErrAuctionEnded, 9, "AuctionEnded"},
	{ErrAuctionNotFinished, 10, "AuctionNotFinished"},
	{ErrAuctionNotFound, 11, "AuctionDoesntExist"},
	{ErrAuctionCancelledOrFinished, 12, "AuctionCancelledOrFinished"},
	{ErrAuctionAlreadyExists, 13, "AuctionAlreadyExists"},
	{ErrAuctionInProgress, 14, "AuctionInProgress"},
	{ErrListingActive, 15, "ListingActive"},
	{ErrInvalidDuration, 16, "InvalidDuration"},
	{ErrAssetNotFound, 17, "AssetNotFound"},
	{ErrInvalidArgument, 18, "InvalidArgument"},
	{ErrUnknownEntryPoint, 19, "UnknownEntryPoint"},
	{ErrAmountOverflow, 20, "AmountOverflow"},
	{ErrTimeOverflow, 21, "TimeOverflow"},
	{ErrTransferFailed, 22, "TransferFailed"},
	{ErrRegistryCall, 23, "RegistryCallFailed"},
	{ErrCustodyMismatch, 24, "CustodyMismatch"},
	{ErrPurseRetrieval, 25, "OfferPurseRetrieval"},
}

// Code returns the numeric code of the named condition wrapped by err.
func Code(err error) ErrorCode {
	if err == nil {
		return CodeInternal
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// CodeName returns the condition name of err, or "Internal".
func CodeName(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.name
		}
	}
	return "Internal"
}
