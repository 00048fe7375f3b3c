package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"auctionhouse/storage"
)

// Manager reads and writes RLP encoded records under prefixed keys. It is
// usually bound to a storage.Overlay so a whole unit of work commits at once.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVPut encodes the provided value using RLP and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet retrieves the value stored under key and decodes it into out. The
// boolean return value indicates whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state: manager unavailable")
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// KVDelete removes key. Deleting a missing key is not an error.
func (m *Manager) KVDelete(key []byte) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Delete(key)
}
