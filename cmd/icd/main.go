package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "icd",
	Short: "icd - decentralized IRC server with AT-Protocol identity",
	Long: `icd runs a federated IRC-compatible chat server that binds each
session to a decentralized identifier (DID) via the ATPROTO-CHALLENGE
SASL mechanism, and exchanges presence, membership, and messages with
other icd servers over an authenticated S2S mesh.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
