package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var testTimeout time.Duration

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Verify that a KSeF session can be established",
	Long: `Run the full authentication cycle against KSeF: request a
challenge, sign the init request with the stored private key, and
exchange it for a session token. Nothing else is fetched.

Examples:
  skaner-faktur test --nip 5260250274 --token <ksef-token> --key-ref <ref>`,
	RunE: runTest,
}

func init() {
	rootCmd.AddCommand(testCmd)

	testCmd.Flags().DurationVar(&testTimeout, "timeout", 2*time.Minute, "Authentication timeout")
}

func runTest(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	printVerbose("Authenticating against %s\n", cfg.BaseURL)
	if err := client.TestSession(ctx); err != nil {
		return err
	}

	fmt.Println("KSeF session established")
	return nil
}
