package bank

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"mystra/crypto"
)

var (
	// ErrPurseNotFound is returned when a purse reference is unknown.
	ErrPurseNotFound = errors.New("bank: purse not found")
	// ErrInsufficientFunds is returned when a source purse cannot cover a
	// transfer.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("bank: amount must not be negative")
)

var (
	pursePrefix    = []byte("bank/purse:")
	mainPrefix     = []byte("bank/main:")
	sequenceKey    = []byte("bank/purse-seq")
	purseIDContext = []byte("bank/purse-id:")
)

// Store is the typed key-value surface the ledger persists through.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type storedPurse struct {
	HasOwner bool
	Owner    [20]byte
	Balance  *big.Int
}

// Ledger is a custodial balance ledger. Value lives in purses; every identity
// additionally has a main purse that receives transfers addressed to it.
type Ledger struct {
	store Store
}

// NewLedger creates a ledger persisting through store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

func purseKey(ref crypto.PurseRef) []byte {
	return append(append([]byte{}, pursePrefix...), ref[:]...)
}

func mainKey(id crypto.Identity) []byte {
	return append(append([]byte{}, mainPrefix...), id[:]...)
}

func (l *Ledger) load(ref crypto.PurseRef) (*storedPurse, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: store not configured")
	}
	var purse storedPurse
	ok, err := l.store.KVGet(purseKey(ref), &purse)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPurseNotFound, ref)
	}
	if purse.Balance == nil {
		purse.Balance = big.NewInt(0)
	}
	return &purse, nil
}

func (l *Ledger) save(ref crypto.PurseRef, purse *storedPurse) error {
	return l.store.KVPut(purseKey(ref), purse)
}

func (l *Ledger) nextRef() (crypto.PurseRef, error) {
	var seq uint64
	if _, err := l.store.KVGet(sequenceKey, &seq); err != nil {
		return crypto.PurseRef{}, err
	}
	seq++
	if err := l.store.KVPut(sequenceKey, seq); err != nil {
		return crypto.PurseRef{}, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return crypto.PurseRef(ethcrypto.Keccak256Hash(purseIDContext, buf[:])), nil
}

func (l *Ledger) create(owner *crypto.Identity) (crypto.PurseRef, error) {
	if l == nil || l.store == nil {
		return crypto.PurseRef{}, fmt.Errorf("bank: store not configured")
	}
	ref, err := l.nextRef()
	if err != nil {
		return crypto.PurseRef{}, err
	}
	purse := &storedPurse{Balance: big.NewInt(0)}
	if owner != nil {
		purse.HasOwner = true
		purse.Owner = *owner
	}
	if err := l.save(ref, purse); err != nil {
		return crypto.PurseRef{}, err
	}
	return ref, nil
}

// CreateAccount creates an empty purse with no owning identity. Such purses
// are only reachable through the reference returned here.
func (l *Ledger) CreateAccount() (crypto.PurseRef, error) {
	return l.create(nil)
}

// CreatePurse creates an empty purse spendable by owner.
func (l *Ledger) CreatePurse(owner crypto.Identity) (crypto.PurseRef, error) {
	return l.create(&owner)
}

// MainPurse returns the main purse of id, creating it on first use.
func (l *Ledger) MainPurse(id crypto.Identity) (crypto.PurseRef, error) {
	if l == nil || l.store == nil {
		return crypto.PurseRef{}, fmt.Errorf("bank: store not configured")
	}
	var raw [32]byte
	ok, err := l.store.KVGet(mainKey(id), &raw)
	if err != nil {
		return crypto.PurseRef{}, err
	}
	if ok {
		return crypto.PurseRef(raw), nil
	}
	ref, err := l.CreatePurse(id)
	if err != nil {
		return crypto.PurseRef{}, err
	}
	raw = [32]byte(ref)
	if err := l.store.KVPut(mainKey(id), raw); err != nil {
		return crypto.PurseRef{}, err
	}
	return ref, nil
}

// BalanceOf returns the balance of a purse.
func (l *Ledger) BalanceOf(ref crypto.PurseRef) (*big.Int, error) {
	purse, err := l.load(ref)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(purse.Balance), nil
}

// IdentityBalance returns the balance of the main purse of id. Identities that
// never received value report zero.
func (l *Ledger) IdentityBalance(id crypto.Identity) (*big.Int, error) {
	var raw [32]byte
	ok, err := l.store.KVGet(mainKey(id), &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return l.BalanceOf(crypto.PurseRef(raw))
}

// Mint credits amount to a purse out of thin air. Only devnet tooling calls
// this.
func (l *Ledger) Mint(ref crypto.PurseRef, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	purse, err := l.load(ref)
	if err != nil {
		return err
	}
	purse.Balance = new(big.Int).Add(purse.Balance, amount)
	return l.save(ref, purse)
}

// TransferToAccount moves amount between two purses.
func (l *Ledger) TransferToAccount(src, dst crypto.PurseRef, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	from, err := l.load(src)
	if err != nil {
		return err
	}
	to, err := l.load(dst)
	if err != nil {
		return err
	}
	if from.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, %s requested", ErrInsufficientFunds, src, from.Balance, amount)
	}
	if src == dst {
		return nil
	}
	from.Balance = new(big.Int).Sub(from.Balance, amount)
	to.Balance = new(big.Int).Add(to.Balance, amount)
	if err := l.save(src, from); err != nil {
		return err
	}
	return l.save(dst, to)
}

// TransferToIdentity moves amount from a purse into the main purse of dst.
func (l *Ledger) TransferToIdentity(src crypto.PurseRef, dst crypto.Identity, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	ref, err := l.MainPurse(dst)
	if err != nil {
		return err
	}
	return l.TransferToAccount(src, ref, amount)
}

// AccessibleBy reports whether caller owns the purse.
func (l *Ledger) AccessibleBy(ref crypto.PurseRef, caller crypto.Identity) (bool, error) {
	purse, err := l.load(ref)
	if errors.Is(err, ErrPurseNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return purse.HasOwner && crypto.Identity(purse.Owner) == caller, nil
}
