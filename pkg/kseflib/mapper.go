package kseflib

import (
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/model"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/parser/fa"
)

// MapInvoice maps a raw FA(2) XML document to a structured invoice,
// its line items, and the derived VAT breakdown. Missing fields yield
// zero values rather than errors.
func MapInvoice(document []byte) (*Invoice, []LineItem, []VatBreakdownRow, error) {
	return fa.Map(document)
}

// DeriveVatBreakdown groups line items by their literal VAT rate and
// sums net, VAT, and gross per group, preserving first-appearance
// order of the rates.
func DeriveVatBreakdown(items []LineItem) []VatBreakdownRow {
	return fa.DeriveVatBreakdown(items)
}

// ValidateInvoice checks the invoice totals against the sum of its
// line items within the rounding tolerance.
func ValidateInvoice(invoice *Invoice, items []LineItem) error {
	return invoice.Validate(items)
}

// ValidateBreakdown checks a VAT breakdown against the line items it
// was derived from.
func ValidateBreakdown(items []LineItem, rows []VatBreakdownRow) error {
	return model.ValidateBreakdown(items, rows)
}
