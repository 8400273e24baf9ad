package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/holiman/uint256"

	"mystra/core/host"
	"mystra/crypto"
	"mystra/native/market"
	"mystra/services/indexer"
)

// EventQuerier serves indexed events.
type EventQuerier interface {
	Query(ctx context.Context, filter indexer.Filter) ([]indexer.Event, error)
}

var errIndexerDisabled = errors.New("event indexer disabled")

type handlerFunc func(ctx context.Context, caller crypto.Identity, params []json.RawMessage) (interface{}, error)

type method struct {
	auth bool
	fn   handlerFunc
}

func (s *Server) registerMethods() map[string]method {
	return map[string]method{
		"market_call":         {auth: true, fn: s.handleMarketCall},
		"market_getListing":   {fn: s.handleGetListing},
		"market_getOffer":     {fn: s.handleGetOffer},
		"market_getAuction":   {fn: s.handleGetAuction},
		"market_vaults":       {fn: s.handleVaults},
		"market_vaultBalance": {fn: s.handleVaultBalance},
		"market_entryPoints":  {fn: s.handleEntryPoints},
		"market_events":       {fn: s.handleEvents},
		"bank_balance":        {fn: s.handleBalance},
		"nft_ownerOf":         {fn: s.handleOwnerOf},
		"dev_mint":            {auth: true, fn: s.handleDevMint},
		"dev_approve":         {auth: true, fn: s.handleDevApprove},
		"dev_createPurse":     {auth: true, fn: s.handleDevCreatePurse},
		"dev_fund":            {auth: true, fn: s.handleDevFund},
	}
}

func decodeParams(params []json.RawMessage, dst interface{}) error {
	if len(params) != 1 {
		return invalidParams("expected exactly one parameter object")
	}
	if err := json.Unmarshal(params[0], dst); err != nil {
		return invalidParams("invalid parameter object: %v", err)
	}
	return nil
}

type assetParams struct {
	ContractHash string `json:"contractHash"`
	TokenID      string `json:"tokenId"`
}

func (p assetParams) parse() (crypto.ContractHash, *uint256.Int, error) {
	collection, err := crypto.ParseContractHash(p.ContractHash)
	if err != nil {
		return crypto.ContractHash{}, nil, invalidParams("contractHash: %v", err)
	}
	tokenID, err := market.ParseTokenID(p.TokenID)
	if err != nil {
		return crypto.ContractHash{}, nil, invalidParams("tokenId: %v", err)
	}
	return collection, tokenID, nil
}

func parseIdentityParam(name, raw string) (crypto.Identity, error) {
	id, err := crypto.ParseIdentity(raw)
	if err != nil {
		return crypto.Identity{}, invalidParams("%s: %v", name, err)
	}
	return id, nil
}

type marketCallParams struct {
	EntryPoint string            `json:"entryPoint"`
	Args       map[string]string `json:"args"`
}

func (s *Server) handleMarketCall(ctx context.Context, caller crypto.Identity, params []json.RawMessage) (interface{}, error) {
	var p marketCallParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.EntryPoint) == "" {
		return nil, invalidParams("entryPoint required")
	}
	res, err := s.host.Execute(ctx, host.Call{Caller: caller, EntryPoint: p.EntryPoint, Args: market.Args(p.Args)})
	if err != nil {
		return nil, err
	}
	return callResult(res), nil
}

func (s *Server) handleGetListing(_ context.Context, _ crypto.Identity, params []json.RawMessage) (interface{}, error) {
	var p assetParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	collection, tokenID, err := p.parse()
	if err != nil {
		return nil, err
	}
	slot, err := s.host.GetListing(collection, tokenID)
	if err != nil {
		return nil, err
	}
	return listingSlot(slot), nil
}

type offerParams struct {
	assetParams
	Offerer string `json:"offerer"`
}

func (s *Server) handleGetOffer(_ context.Context, _ crypto.Identity, params []json.RawMessage) (interface{}, error) {
	var p offerParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	collection, tokenID, err := p.parse()
	if err != nil {
		return nil, err
	}
	offerer, err := parseIdentityParam("offerer", p.Offerer)
	if err != nil {
		return nil, err
	}
	slot, err := s.host.GetOffer(collection, tokenID, offerer)
	if err != nil {
		return nil, err
	}
	return offerSlot(slot), nil
}

func (s *Server) handleGetAuction(_ context.Context, _ crypto.Identity, params []json.RawMessage) (interface{}, error) {
	var p assetParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	collection, tokenID, err := p.parse()
	if err != nil {
		return nil, err
	}
	slot, err := s.host.GetAuction(collection, tokenID)
	if err != nil {
		return nil, err
	}
	return auctionSlot(slot), nil
}

func (s *Server) handleVaults(context.Context, crypto.Identity, []json.RawMessage) (interface{}, error) {
	vaults := s.host.Vaults()
	return VaultsResult{Offers: vaults.Offers.String(), Auctions: vaults.Auctions.String()}, nil
}

type vaultBalanceParams struct {
	offerParams
	Vault string `json:"vault"`
}

func (s *Server) handleVaultBalance(_ context.Context, _ crypto.Identity, params []json.RawMessage) (interface{}, error) {
	var p vaultBalanceParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	collection, tokenID, err := p.parse()
	if err != nil {
		return nil, err
	}
	vaults := s.host.Vaults()
	var (
		vault crypto.PurseRef
		key   market.RecordKey
	)
	switch strings.ToLower(strings.TrimSpace(p.Vault)) {
	case "offers":
		offerer, err := parseIdentityParam("offerer", p.Offerer)
		if err != nil {
			return nil, err
		}
		vault, key = vaults.Offers, market.OfferKey(collection, tokenID, offerer)
	case "auctions":
		vault, key = vaults.Auctions, market.ListingKey(collection, tokenID)
	default:
		return nil, invalidParams("vault must be offers or auctions")
	}
	balance, err := s.host.VaultBalance(vault, key)
	if err != nil {
		return nil, err
	}
	return map[string]string{"balance": amountString(balance)}, nil
}

func (s *Server) handleEntryPoints(context.Context, crypto.Identity, []json.RawMessage) (interface{}, error) {
	return market.EntryPoints, nil
}

type eventsParams struct {
	Type         string `json:"type"`
	ContractHash string `json:"contractHash"`
	TokenID      string `json:"tokenId"`
	CallID       string `json:"callId"`
	Limit        int    `json:"limit"`
}

func (s *Server) handleEvents(ctx context.Context, _ crypto.Identity, params []json.RawMessage) (interface{}, error) {
	if s.events == nil {
		return nil, errIndexerDisabled
	}
	var p eventsParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}
	filter := indexer.Filter{Type: p.Type, TokenID: p.TokenID, CallID: p.CallID, Limit: p.Limit}
	if p.ContractHash != "" {
		collection, err := crypto.ParseContractHash(p.ContractHash)
		if err != nil {
			return nil, invalidParams("contractHash: %v", err)
		}
		filter.Collection = collection.String()
	}
	return s.events.Query(ctx, filter)
}

type balanceParams struct {
	Purse    string `json:"purse"`
	Identity string `json:"identity"`
}

func (s *Server) handleBalance(_ context.Context, _ crypto.Identity, params []json.RawMessage) (interface{}, error) {
	var p balanceParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	switch {
	case p.Purse != "":
		ref, err := crypto.ParsePurseRef(p.Purse)
		if err != nil {
			return nil, invalidParams("purse: %v", err)
		}
		balance, err := s.host.PurseBalance(ref)
		if err != nil {
			return nil, err
		}
		return map[string]string{"purse": ref.String(), "balance": amountString(balance)}, nil
	case p.Identity != "":
		id, err := parseIdentityParam("identity", p.Identity)
		if err != nil {
			return nil, err
		}
		balance, err := s.host.IdentityBalance(id)
		if err != nil {
			return nil, err
		}
		return map[string]string{"identity": id.String(), "balance": amountString(balance)}, nil
	default:
		return nil, invalidParams("purse or identity required")
	}
}

func (s *Server) handleOwnerOf(_ context.Context, _ crypto.Identity, params []json.RawMessage) (interface{}, error) {
	var p assetParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	collection, tokenID, err := p.parse()
	if err != nil {
		return nil, err
	}
	owner, ok, err := s.host.OwnerOf(collection, tokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]interface{}{"exists": false}, nil
	}
	return map[string]interface{}{"exists": true, "owner": owner.String()}, nil
}

func (s *Server) handleDevMint(ctx context.Context, caller crypto.Identity, params []json.RawMessage) (interface{}, error) {
	var p struct {
		assetParams
		Owner string `json:"owner"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	collection, tokenID, err := p.parse()
	if err != nil {
		return nil, err
	}
	owner := caller
	if p.Owner != "" {
		if owner, err = parseIdentityParam("owner", p.Owner); err != nil {
			return nil, err
		}
	}
	if err := s.host.Mint(ctx, collection, tokenID, owner); err != nil {
		return nil, err
	}
	return map[string]string{"owner": owner.String()}, nil
}

func (s *Server) handleDevApprove(ctx context.Context, caller crypto.Identity, params []json.RawMessage) (interface{}, error) {
	var p assetParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	collection, tokenID, err := p.parse()
	if err != nil {
		return nil, err
	}
	if err := s.host.ApproveMarketplace(ctx, collection, tokenID, caller); err != nil {
		return nil, err
	}
	return map[string]string{"operator": s.host.PackageIdentity().Format(crypto.PackagePrefix)}, nil
}

func (s *Server) handleDevCreatePurse(ctx context.Context, caller crypto.Identity, _ []json.RawMessage) (interface{}, error) {
	ref, err := s.host.CreatePurse(ctx, caller)
	if err != nil {
		return nil, err
	}
	return map[string]string{"purse": ref.String()}, nil
}

func (s *Server) handleDevFund(ctx context.Context, _ crypto.Identity, params []json.RawMessage) (interface{}, error) {
	var p struct {
		Purse  string `json:"purse"`
		Amount string `json:"amount"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	ref, err := crypto.ParsePurseRef(p.Purse)
	if err != nil {
		return nil, invalidParams("purse: %v", err)
	}
	amount, err := market.ParseAmount(p.Amount)
	if err != nil {
		return nil, invalidParams("amount: %v", err)
	}
	if err := s.host.Fund(ctx, ref, amount); err != nil {
		return nil, err
	}
	return map[string]string{"purse": ref.String(), "amount": amount.String()}, nil
}
