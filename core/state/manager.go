package state

import (
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"bountyvault/storage"
)

// Manager provides typed, RLP-encoded access to the key-value store. Keys
// are keccak-hashed before hitting the database so the layout stays uniform
// regardless of the raw key shape.
//
// Begin/Commit/Rollback delimit a write transaction: between Begin and
// Commit all writes land in an in-memory overlay and reads observe it, so a
// failed operation can discard every staged mutation at once. The hosting
// environment serializes calls; the manager performs no locking of its own.
type Manager struct {
	db      storage.Database
	overlay map[string][]byte
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a write transaction. Writes are staged until Commit.
func (m *Manager) Begin() {
	m.overlay = make(map[string][]byte)
}

// Commit flushes the staged writes to the database as one atomic batch, in
// deterministic key order, and closes the transaction. On failure nothing
// has been persisted and the overlay is kept for the caller to roll back.
func (m *Manager) Commit() error {
	if m.overlay == nil {
		return nil
	}
	keys := make([]string, 0, len(m.overlay))
	for k := range m.overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := make([]storage.KV, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, storage.KV{Key: []byte(k), Value: m.overlay[k]})
	}
	if err := m.db.Batch(batch); err != nil {
		return err
	}
	m.overlay = nil
	return nil
}

// Rollback discards every staged write and closes the transaction.
func (m *Manager) Rollback() {
	m.overlay = nil
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) rawPut(hashed, value []byte) error {
	if m.overlay != nil {
		m.overlay[string(hashed)] = value
		return nil
	}
	return m.db.Put(hashed, value)
}

func (m *Manager) rawGet(hashed []byte) ([]byte, bool, error) {
	if m.overlay != nil {
		if value, ok := m.overlay[string(hashed)]; ok {
			return value, true, nil
		}
	}
	value, err := m.db.Get(hashed)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.rawPut(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it
// into out. The boolean reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.rawGet(kvKey(key))
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
