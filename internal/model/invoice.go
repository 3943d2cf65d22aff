// Package model defines the flat invoice records produced by the KSeF
// integration layer and consumed by persistence and the HTTP API.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tolerance is the maximum acceptable drift between declared invoice
// totals and the sums of line-item amounts (0.01 of a currency unit).
var Tolerance = decimal.New(1, -2)

// Invoice is one invoice as retrieved from KSeF, flattened from the
// FA(2) document. Optional source fields are empty strings / nil times.
type Invoice struct {
	// ExternalReference is the KSeF reference number the invoice was
	// fetched under (empty for invoices from other channels).
	ExternalReference string          `json:"external_reference"`
	Number            string          `json:"number"`
	IssueDate         string          `json:"issue_date"`
	DeliveryDate      string          `json:"delivery_date,omitempty"`
	SellerTaxID       string          `json:"seller_nip"`
	BuyerTaxID        string          `json:"buyer_nip"`
	SellerName        string          `json:"seller_name,omitempty"`
	BuyerName         string          `json:"buyer_name,omitempty"`
	Currency          string          `json:"currency"`
	NetTotal          decimal.Decimal `json:"total_net_amount"`
	VatTotal          decimal.Decimal `json:"total_vat_amount"`
	GrossTotal        decimal.Decimal `json:"total_gross_amount"`
}

// LineItem is a single FaWiersz row, owned by exactly one Invoice.
type LineItem struct {
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit,omitempty"`
	UnitNetPrice decimal.Decimal `json:"unit_price_net"`
	// VatRate keeps the literal rate marker from the document ("23",
	// "8", "zw." for exempt, ...) so non-numeric rates survive mapping.
	VatRate     string          `json:"vat_rate"`
	NetAmount   decimal.Decimal `json:"total_net_amount"`
	VatAmount   decimal.Decimal `json:"total_vat_amount"`
	GrossAmount decimal.Decimal `json:"total_gross_amount"`
}

// VatBreakdownRow aggregates line-item amounts per distinct VAT rate.
// Rows are ordered by first appearance of the rate among the items.
type VatBreakdownRow struct {
	VatRate     string          `json:"vat_rate"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	VatAmount   decimal.Decimal `json:"vat_amount"`
	GrossAmount decimal.Decimal `json:"gross_amount"`
}

// InvoiceHeader is one entry of an incremental KSeF query response.
type InvoiceHeader struct {
	Reference        string          `json:"ksef_reference_number"`
	Number           string          `json:"invoice_number"`
	CounterpartyName string          `json:"counterparty_name,omitempty"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	AcquiredAt       time.Time       `json:"acquisition_timestamp,omitzero"`
}

// Validate checks the invoice totals against its line items: each sum
// must match the declared total within Tolerance, and gross must equal
// net + vat per item and for the totals. Invoices without line items
// only get the gross = net + vat check on the totals.
func (inv *Invoice) Validate(items []LineItem) error {
	if gross := inv.NetTotal.Add(inv.VatTotal); !withinTolerance(gross, inv.GrossTotal) {
		return NewValidationError("total_gross_amount", inv.GrossTotal.String(), "net+vat",
			"gross total does not equal net total plus VAT total")
	}

	if len(items) == 0 {
		return nil
	}

	var net, vat, gross decimal.Decimal
	for _, item := range items {
		if g := item.NetAmount.Add(item.VatAmount); !withinTolerance(g, item.GrossAmount) {
			return NewValidationError("items.total_gross_amount", item.GrossAmount.String(), "net+vat",
				"line item gross does not equal net plus VAT")
		}
		net = net.Add(item.NetAmount)
		vat = vat.Add(item.VatAmount)
		gross = gross.Add(item.GrossAmount)
	}

	switch {
	case !withinTolerance(net, inv.NetTotal):
		return NewValidationError("total_net_amount", inv.NetTotal.String(), "sum(items)",
			"line item net amounts do not sum to the declared net total")
	case !withinTolerance(vat, inv.VatTotal):
		return NewValidationError("total_vat_amount", inv.VatTotal.String(), "sum(items)",
			"line item VAT amounts do not sum to the declared VAT total")
	case !withinTolerance(gross, inv.GrossTotal):
		return NewValidationError("total_gross_amount", inv.GrossTotal.String(), "sum(items)",
			"line item gross amounts do not sum to the declared gross total")
	}
	return nil
}

// ValidateBreakdown checks that rows cover exactly the distinct rates in
// items and that each row equals the sums of its matching items.
func ValidateBreakdown(items []LineItem, rows []VatBreakdownRow) error {
	byRate := make(map[string]*VatBreakdownRow, len(rows))
	for i := range rows {
		byRate[rows[i].VatRate] = &rows[i]
	}

	sums := make(map[string][3]decimal.Decimal)
	for _, item := range items {
		s := sums[item.VatRate]
		sums[item.VatRate] = [3]decimal.Decimal{
			s[0].Add(item.NetAmount),
			s[1].Add(item.VatAmount),
			s[2].Add(item.GrossAmount),
		}
	}

	if len(sums) != len(rows) {
		return NewValidationError("vat_breakdown", len(rows), "one row per rate",
			"breakdown row count does not match distinct VAT rates")
	}
	for rate, s := range sums {
		row, ok := byRate[rate]
		if !ok {
			return NewValidationError("vat_breakdown", rate, "one row per rate",
				"missing breakdown row for VAT rate")
		}
		if !withinTolerance(row.NetAmount, s[0]) || !withinTolerance(row.VatAmount, s[1]) || !withinTolerance(row.GrossAmount, s[2]) {
			return NewValidationError("vat_breakdown", rate, "sum(items)",
				"breakdown row amounts do not match line item sums")
		}
	}
	return nil
}

func withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
