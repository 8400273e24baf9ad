package nft

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"mystra/crypto"
)

var (
	ErrTokenExists   = errors.New("nft: token already minted")
	ErrTokenNotFound = errors.New("nft: token not found")
	ErrNotOwner      = errors.New("nft: caller is not the token owner")
	ErrNotApproved   = errors.New("nft: operator not approved for token")
)

var tokenPrefix = []byte("nft/token:")

// Store is the typed key-value surface the registry persists through.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type storedToken struct {
	Owner       [20]byte
	HasApproved bool
	Approved    [20]byte
}

// Registry tracks ownership and single-operator approval of non-fungible
// tokens across collections.
type Registry struct {
	store Store
}

// NewRegistry creates a registry persisting through store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

func tokenKey(collection crypto.ContractHash, tokenID *uint256.Int) []byte {
	var id [32]byte
	if tokenID != nil {
		id = tokenID.Bytes32()
	}
	buf := make([]byte, 0, len(tokenPrefix)+len(collection)+len(id))
	buf = append(buf, tokenPrefix...)
	buf = append(buf, collection[:]...)
	buf = append(buf, id[:]...)
	return buf
}

func (r *Registry) load(collection crypto.ContractHash, tokenID *uint256.Int) (*storedToken, bool, error) {
	if r == nil || r.store == nil {
		return nil, false, fmt.Errorf("nft: store not configured")
	}
	var token storedToken
	ok, err := r.store.KVGet(tokenKey(collection, tokenID), &token)
	if err != nil || !ok {
		return nil, false, err
	}
	return &token, true, nil
}

func (r *Registry) save(collection crypto.ContractHash, tokenID *uint256.Int, token *storedToken) error {
	return r.store.KVPut(tokenKey(collection, tokenID), token)
}

// Mint creates a token owned by owner.
func (r *Registry) Mint(collection crypto.ContractHash, tokenID *uint256.Int, owner crypto.Identity) error {
	_, exists, err := r.load(collection, tokenID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrTokenExists, tokenID.Dec())
	}
	return r.save(collection, tokenID, &storedToken{Owner: owner})
}

// OwnerOf returns the current owner of a token.
func (r *Registry) OwnerOf(collection crypto.ContractHash, tokenID *uint256.Int) (crypto.Identity, bool, error) {
	token, ok, err := r.load(collection, tokenID)
	if err != nil || !ok {
		return crypto.Identity{}, false, err
	}
	return crypto.Identity(token.Owner), true, nil
}

// GetApproved returns the operator approved for a token.
func (r *Registry) GetApproved(collection crypto.ContractHash, tokenID *uint256.Int) (crypto.Identity, bool, error) {
	token, ok, err := r.load(collection, tokenID)
	if err != nil || !ok || !token.HasApproved {
		return crypto.Identity{}, false, err
	}
	return crypto.Identity(token.Approved), true, nil
}

// Approve lets operator transfer the token on the owner's behalf. Only one
// operator is approved at a time.
func (r *Registry) Approve(collection crypto.ContractHash, tokenID *uint256.Int, caller, operator crypto.Identity) error {
	token, ok, err := r.load(collection, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotFound
	}
	if crypto.Identity(token.Owner) != caller {
		return ErrNotOwner
	}
	token.HasApproved = true
	token.Approved = operator
	return r.save(collection, tokenID, token)
}

// Revoke clears the approval of a token.
func (r *Registry) Revoke(collection crypto.ContractHash, tokenID *uint256.Int, caller crypto.Identity) error {
	token, ok, err := r.load(collection, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotFound
	}
	if crypto.Identity(token.Owner) != caller {
		return ErrNotOwner
	}
	token.HasApproved = false
	token.Approved = [20]byte{}
	return r.save(collection, tokenID, token)
}

// TransferFrom moves tokens from sender to recipient. The operator must be the
// sender or the approved operator of every token. Approvals are cleared on
// transfer.
func (r *Registry) TransferFrom(operator crypto.Identity, collection crypto.ContractHash, sender, recipient crypto.Identity, tokenIDs []*uint256.Int) error {
	for _, id := range tokenIDs {
		token, ok, err := r.load(collection, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrTokenNotFound, id.Dec())
		}
		if crypto.Identity(token.Owner) != sender {
			return fmt.Errorf("%w: %s", ErrNotOwner, id.Dec())
		}
		if operator != sender && (!token.HasApproved || crypto.Identity(token.Approved) != operator) {
			return fmt.Errorf("%w: %s", ErrNotApproved, id.Dec())
		}
		if err := r.save(collection, id, &storedToken{Owner: recipient}); err != nil {
			return err
		}
	}
	return nil
}

// OperatorView exposes the registry to the marketplace, acting as the
// marketplace package identity.
type OperatorView struct {
	registry *Registry
	operator crypto.Identity
}

// NewOperatorView binds the registry to the marketplace package identity.
func NewOperatorView(registry *Registry, operator crypto.Identity) *OperatorView {
	return &OperatorView{registry: registry, operator: operator}
}

// OwnerOf returns the current owner of a token.
func (v *OperatorView) OwnerOf(collection crypto.ContractHash, tokenID *uint256.Int) (crypto.Identity, bool, error) {
	return v.registry.OwnerOf(collection, tokenID)
}

// IsApprovedForMarketplace reports whether owner still owns the token and has
// approved the marketplace package as its operator.
func (v *OperatorView) IsApprovedForMarketplace(collection crypto.ContractHash, tokenID *uint256.Int, owner crypto.Identity) (bool, error) {
	current, ok, err := v.registry.OwnerOf(collection, tokenID)
	if err != nil || !ok || current != owner {
		return false, err
	}
	approved, ok, err := v.registry.GetApproved(collection, tokenID)
	if err != nil || !ok {
		return false, err
	}
	return approved == v.operator, nil
}

// TransferFrom transfers tokens as the marketplace operator.
func (v *OperatorView) TransferFrom(collection crypto.ContractHash, sender, recipient crypto.Identity, tokenIDs []*uint256.Int) error {
	return v.registry.TransferFrom(v.operator, collection, sender, recipient, tokenIDs)
}
