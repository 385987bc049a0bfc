package storage

import (
	"crypto/ed25519"
	"sort"
	"sync"

	icdcrypto "github.com/didirc/icd/crypto"
	"github.com/didirc/icd/crypto/keys"
)

// memoryKeyStorage is the in-process counterpart to fileKeyStorage
// (file.go): same Ed25519-only restriction and id-keyed map, but
// backed by a guarded map instead of a PEM directory, for tests and
// `server.New` callers that don't need the federation signing key to
// survive a restart.
type memoryKeyStorage struct {
	mu   sync.Mutex
	keys map[string]ed25519.PrivateKey
}

// NewMemoryKeyStorage creates an in-memory KeyStorage. Keys placed in
// it do not persist past process exit; use NewFileKeyStorage when the
// federation signing key must survive a restart.
func NewMemoryKeyStorage() icdcrypto.KeyStorage {
	return &memoryKeyStorage{
		keys: make(map[string]ed25519.PrivateKey),
	}
}

// Store records keyPair under id. Only Ed25519 key pairs are
// supported, matching fileKeyStorage: this module never signs with
// anything else (federation Hello, SASL challenge responses are
// Ed25519-only on the server side).
func (s *memoryKeyStorage) Store(id string, keyPair icdcrypto.KeyPair) error {
	priv, ok := keyPair.PrivateKey().(ed25519.PrivateKey)
	if !ok {
		return icdcrypto.ErrInvalidKeyType
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = priv
	return nil
}

// Load returns the key pair recorded under id.
func (s *memoryKeyStorage) Load(id string) (icdcrypto.KeyPair, error) {
	s.mu.Lock()
	priv, ok := s.keys[id]
	s.mu.Unlock()
	if !ok {
		return nil, icdcrypto.ErrKeyNotFound
	}
	return keys.NewEd25519KeyPairFromSeed(priv.Seed())
}

// Delete removes the key pair recorded under id.
func (s *memoryKeyStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[id]; !ok {
		return icdcrypto.ErrKeyNotFound
	}
	delete(s.keys, id)
	return nil
}

// List returns every stored id in sorted order.
func (s *memoryKeyStorage) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether a key is recorded under id.
func (s *memoryKeyStorage) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[id]
	return ok
}
