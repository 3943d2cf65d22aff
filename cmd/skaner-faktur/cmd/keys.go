package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RexEtImperator/skaner-faktur-projekt/internal/keystore"
)

var keysKeyFile string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage stored signing keys",
	Long: `Manage the on-disk keystore of private keys used to sign KSeF
session init requests. Keys are encrypted at rest when
KEYSTORE_PASSPHRASE is set.`,
}

var keysAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a private key and print its reference",
	Long: `Read a PEM-encoded RSA private key and store it in the keystore.
The printed reference is what the other commands take via --key-ref.

Examples:
  skaner-faktur keys add --key-file private_key.pem
  skaner-faktur keys add --key-file private_key.pem --key-ref user-1`,
	RunE: runKeysAdd,
}

var keysRemoveCmd = &cobra.Command{
	Use:   "remove [reference]",
	Short: "Delete a stored key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRemove,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysAddCmd)
	keysCmd.AddCommand(keysRemoveCmd)

	keysAddCmd.Flags().StringVar(&keysKeyFile, "key-file", "", "Path to the PEM private key (required)")
	_ = keysAddCmd.MarkFlagRequired("key-file")
}

func runKeysAdd(cmd *cobra.Command, args []string) error {
	keyPEM, err := os.ReadFile(keysKeyFile)
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}

	keys := keystore.NewFileStore(cfg.KeystoreDir, cfg.KeystorePassphrase)

	ref, err := keys.Store(keyRef, keyPEM)
	if err != nil {
		return err
	}

	fmt.Println(ref)
	return nil
}

func runKeysRemove(cmd *cobra.Command, args []string) error {
	keys := keystore.NewFileStore(cfg.KeystoreDir, cfg.KeystorePassphrase)
	return keys.Delete(args[0])
}
