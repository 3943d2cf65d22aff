package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/RexEtImperator/skaner-faktur-projekt/internal/model"
)

var (
	listSince   string
	listFormat  string
	listTimeout time.Duration
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List invoices acquired since a date",
	Long: `Query KSeF for purchase invoice headers acquired since the given
date and print them.

Examples:
  skaner-faktur list --since 2025-01-01
  skaner-faktur list --since 2025-01-01 -f json`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listSince, "since", "", "Start date, YYYY-MM-DD (required)")
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "Output format (json, table)")
	listCmd.Flags().DurationVar(&listTimeout, "timeout", 2*time.Minute, "Query timeout")
	_ = listCmd.MarkFlagRequired("since")
}

func runList(cmd *cobra.Command, args []string) error {
	if _, err := time.Parse("2006-01-02", listSince); err != nil {
		return fmt.Errorf("--since must be YYYY-MM-DD: %w", err)
	}

	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()

	printVerbose("Querying invoices since %s\n", listSince)
	headers, err := client.ListInvoicesSince(ctx, listSince)
	if err != nil {
		return err
	}

	switch listFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(headers)
	case "table":
		return listTable(headers)
	default:
		return fmt.Errorf("unsupported output format: %s", listFormat)
	}
}

func listTable(headers []model.InvoiceHeader) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REFERENCE\tNUMBER\tCOUNTERPARTY\tNET\tACQUIRED")
	fmt.Fprintln(tw, "---------\t------\t------------\t---\t--------")

	for _, h := range headers {
		acquired := ""
		if !h.AcquiredAt.IsZero() {
			acquired = h.AcquiredAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			h.Reference,
			h.Number,
			h.CounterpartyName,
			h.NetAmount.String(),
			acquired,
		)
	}

	return tw.Flush()
}
