package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RexEtImperator/skaner-faktur-projekt/internal/config"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/keystore"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/ksef"
)

var (
	version = "1.0.0"

	// Global flags
	verbose bool
	nip     string
	token   string
	keyRef  string
	baseURL string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "skaner-faktur",
	Short: "Fetch purchase invoices from KSeF",
	Long: `Skaner Faktur is a CLI client for the Polish national e-invoice
system (KSeF). It signs in with the taxpayer's private key, lists
invoices received since a given date, and downloads full FA(2)
invoices as structured data.

Examples:
  # Store a signing key under a reference
  skaner-faktur keys add --key-file private_key.pem

  # Verify that a session can be established
  skaner-faktur test --nip 5260250274 --token <ksef-token> --key-ref <ref>

  # List invoices acquired since a date
  skaner-faktur list --since 2025-01-01 --nip 5260250274 --token <ksef-token> --key-ref <ref>

  # Download one invoice by KSeF reference number
  skaner-faktur import <reference> --nip 5260250274 --token <ksef-token> --key-ref <ref>`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if nip == "" {
			nip = os.Getenv("KSEF_NIP")
		}
		if token == "" {
			token = os.Getenv("KSEF_TOKEN")
		}
		if keyRef == "" {
			keyRef = os.Getenv("KSEF_KEY_REF")
		}
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&nip, "nip", "", "Taxpayer NIP (env: KSEF_NIP)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "KSeF authorization token (env: KSEF_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&keyRef, "key-ref", "", "Keystore reference of the signing key (env: KSEF_KEY_REF)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "KSeF API base URL (env: KSEF_BASE_URL)")
}

// newClient builds a KSeF client from the global flags. The keystore
// lives on disk under the configured directory.
func newClient() (*ksef.Client, error) {
	if nip == "" || token == "" || keyRef == "" {
		return nil, fmt.Errorf("--nip, --token and --key-ref are required (or set KSEF_NIP, KSEF_TOKEN, KSEF_KEY_REF)")
	}

	keys := keystore.NewFileStore(cfg.KeystoreDir, cfg.KeystorePassphrase)

	creds := ksef.Credentials{NIP: nip, AuthToken: token, KeyRef: keyRef}
	return ksef.NewClient(creds, keys,
		ksef.WithBaseURL(cfg.BaseURL),
		ksef.WithRequestTimeout(cfg.RequestTimeout),
		ksef.WithSessionOptions(
			ksef.WithSessionDuration(cfg.SessionDuration),
			ksef.WithSafetyMargin(cfg.SafetyMargin),
		),
	), nil
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
