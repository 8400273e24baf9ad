package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"mystra/storage"
)

// Manager reads and writes typed state on top of a key-value database. During
// a call the database is the host's write-buffering overlay, so nothing a
// Manager writes is visible outside the call until the overlay commits.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var kvPrefix = []byte("kv:")

func kvKey(key []byte) []byte {
	buf := make([]byte, len(kvPrefix)+len(key))
	copy(buf, kvPrefix)
	copy(buf[len(kvPrefix):], key)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, fmt.Errorf("state: database not configured")
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (m *Manager) put(key, value []byte) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	return m.db.Put(key, value)
}

// KVPut stores the RLP encoding of value under the supplied key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.get(kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}
