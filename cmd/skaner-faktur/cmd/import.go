package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/RexEtImperator/skaner-faktur-projekt/internal/model"
)

var (
	importOutput  string
	importTimeout time.Duration
)

var importCmd = &cobra.Command{
	Use:   "import [reference]",
	Short: "Download one invoice by KSeF reference number",
	Long: `Fetch the full FA(2) invoice document for the given KSeF reference
number, map it to structured data, and print the invoice together with
its line items and VAT breakdown.

Examples:
  skaner-faktur import 5260250274-20250102-ABCDEF012345-01
  skaner-faktur import <reference> -o invoice.json`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importOutput, "output", "o", "", "Output file (default: stdout)")
	importCmd.Flags().DurationVar(&importTimeout, "timeout", 2*time.Minute, "Fetch timeout")
}

// importResult is the JSON shape written by the import command.
type importResult struct {
	Invoice      *model.Invoice          `json:"invoice"`
	Items        []model.LineItem        `json:"items"`
	VatBreakdown []model.VatBreakdownRow `json:"vat_breakdown"`
}

func runImport(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), importTimeout)
	defer cancel()

	reference := args[0]
	printVerbose("Fetching invoice %s\n", reference)

	invoice, items, breakdown, err := client.ImportInvoice(ctx, reference)
	if err != nil {
		return err
	}

	writer := os.Stdout
	if importOutput != "" {
		f, err := os.Create(importOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		writer = f
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(importResult{
		Invoice:      invoice,
		Items:        items,
		VatBreakdown: breakdown,
	})
}
