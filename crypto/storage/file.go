package storage

import (
	"crypto/ed25519"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	icdcrypto "github.com/didirc/icd/crypto"
	"github.com/didirc/icd/crypto/keys"
)

const ed25519PEMType = "ICD ED25519 PRIVATE KEY"

// fileKeyStorage persists key pairs as PEM files under a base
// directory, one file per id, so the federation signing key (and any
// other server-identity key) survives a restart without a database.
// Only Ed25519 is supported: the only key type the federation link
// handshake and SASL verification in this module ever sign with.
type fileKeyStorage struct {
	mu  sync.Mutex
	dir string
}

// NewFileKeyStorage creates a KeyStorage rooted at dir, creating it if
// it does not already exist.
func NewFileKeyStorage(dir string) (icdcrypto.KeyStorage, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("storage: create key directory: %w", err)
	}
	return &fileKeyStorage{dir: dir}, nil
}

func (s *fileKeyStorage) path(id string) string {
	return filepath.Join(s.dir, id+".pem")
}

// Store writes keyPair to disk. Only Ed25519 key pairs are supported.
func (s *fileKeyStorage) Store(id string, keyPair icdcrypto.KeyPair) error {
	priv, ok := keyPair.PrivateKey().(ed25519.PrivateKey)
	if !ok {
		return icdcrypto.ErrInvalidKeyType
	}

	block := &pem.Block{
		Type:  ed25519PEMType,
		Bytes: priv.Seed(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.path(id), pem.EncodeToMemory(block), 0600)
}

// Load reads the key pair stored under id back from disk.
func (s *fileKeyStorage) Load(id string) (icdcrypto.KeyPair, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path(id))
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, icdcrypto.ErrKeyNotFound
		}
		return nil, fmt.Errorf("storage: read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != ed25519PEMType {
		return nil, icdcrypto.ErrInvalidKeyFormat
	}
	return keys.NewEd25519KeyPairFromSeed(block.Bytes)
}

// Delete removes the key file stored under id.
func (s *fileKeyStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return icdcrypto.ErrKeyNotFound
		}
		return fmt.Errorf("storage: delete key file: %w", err)
	}
	return nil
}

// List returns the ids of every key stored under the base directory.
func (s *fileKeyStorage) List() ([]string, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(s.dir)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("storage: list key directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".pem") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(ent.Name(), ".pem"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether a key is stored under id.
func (s *fileKeyStorage) Exists(id string) bool {
	s.mu.Lock()
	_, err := os.Stat(s.path(id))
	s.mu.Unlock()
	return err == nil
}
