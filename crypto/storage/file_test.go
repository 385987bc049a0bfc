package storage

import (
	"testing"

	"github.com/didirc/icd/crypto"
	"github.com/didirc/icd/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyStorageStoreAndLoadSurvivesReconstruction(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileKeyStorage(dir)
	require.NoError(t, err)

	keyPair, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	require.NoError(t, storage.Store("server-signing-key", keyPair))

	// Simulate a process restart: a fresh storage instance pointed at
	// the same directory must recover the same key.
	reopened, err := NewFileKeyStorage(dir)
	require.NoError(t, err)

	loaded, err := reopened.Load("server-signing-key")
	require.NoError(t, err)
	assert.Equal(t, keyPair.ID(), loaded.ID())

	message := []byte("federation hello")
	sig, err := loaded.Sign(message)
	require.NoError(t, err)
	assert.NoError(t, keyPair.Verify(message, sig))
}

func TestFileKeyStorageLoadNonExistentKey(t *testing.T) {
	storage, err := NewFileKeyStorage(t.TempDir())
	require.NoError(t, err)

	_, err = storage.Load("missing")
	assert.Equal(t, crypto.ErrKeyNotFound, err)
}

func TestFileKeyStorageDeleteAndExists(t *testing.T) {
	storage, err := NewFileKeyStorage(t.TempDir())
	require.NoError(t, err)

	keyPair, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	require.NoError(t, storage.Store("k", keyPair))
	assert.True(t, storage.Exists("k"))

	require.NoError(t, storage.Delete("k"))
	assert.False(t, storage.Exists("k"))

	err = storage.Delete("k")
	assert.Equal(t, crypto.ErrKeyNotFound, err)
}

func TestFileKeyStorageListKeys(t *testing.T) {
	storage, err := NewFileKeyStorage(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		kp, err := keys.GenerateEd25519KeyPair()
		require.NoError(t, err)
		require.NoError(t, storage.Store(id, kp))
	}

	ids, err := storage.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestFileKeyStorageRejectsNonEd25519(t *testing.T) {
	storage, err := NewFileKeyStorage(t.TempDir())
	require.NoError(t, err)

	kp, err := keys.GenerateSecp256k1KeyPair()
	require.NoError(t, err)

	err = storage.Store("secp", kp)
	assert.Equal(t, crypto.ErrInvalidKeyType, err)
}
