package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	icdcrypto "github.com/didirc/icd/crypto"
	"github.com/didirc/icd/crypto/keys"
	"github.com/didirc/icd/crypto/storage"
)

var (
	keygenStorageDir string
	keygenKeyID      string
	keygenKeyType    string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate and persist a server signing key",
	Long: `Generates a new key pair and stores it under --storage-dir, keyed
by --key-id. "federation-link" is the id 'icd serve' loads for its S2S
Hello-handshake identity; any other id is a free-standing key this
command can also produce for operators who want to inspect or rotate it
out of band.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVarP(&keygenStorageDir, "storage-dir", "s", "./keys", "directory to persist the key pair in")
	keygenCmd.Flags().StringVarP(&keygenKeyID, "key-id", "k", "federation-link", "id to store the key pair under")
	keygenCmd.Flags().StringVarP(&keygenKeyType, "type", "t", "ed25519", "key type (ed25519, secp256k1)")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	var kp icdcrypto.KeyPair
	var err error

	switch keygenKeyType {
	case "ed25519":
		kp, err = keys.GenerateEd25519KeyPair()
	case "secp256k1":
		kp, err = keys.GenerateSecp256k1KeyPair()
	default:
		return fmt.Errorf("unsupported key type: %s (want ed25519 or secp256k1)", keygenKeyType)
	}
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	if keygenKeyType == "ed25519" {
		store, err := storage.NewFileKeyStorage(keygenStorageDir)
		if err != nil {
			return err
		}
		if err := store.Store(keygenKeyID, kp); err != nil {
			return fmt.Errorf("store key: %w", err)
		}
	} else {
		fmt.Println("non-ed25519 keys are not persisted by file storage; the generated key is not saved")
	}

	fmt.Printf("generated %s key %q\n", keygenKeyType, keygenKeyID)
	if pub, ok := kp.PublicKey().(ed25519.PublicKey); ok {
		fmt.Printf("public key (hex, for peer allowlists): %s\n", hex.EncodeToString(pub))
	}
	return nil
}
