// Package fa maps FA(2) invoice documents retrieved from KSeF into the
// flat local invoice model. The schema marks most fields optional and
// represents a single line item the same way as a repeated one, so
// every extraction is tolerant: absent paths yield defaults and
// non-numeric content yields zero instead of failing the mapping.
package fa

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	dec "github.com/RexEtImperator/skaner-faktur-projekt/internal/decimal"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/model"
)

const (
	defaultCurrency = "PLN"
	defaultUnit     = "szt"
)

// Map transforms one FA(2) document into an invoice, its line items,
// and the VAT breakdown derived from them. It fails only when the
// document is not parseable XML or has no Faktura root.
func Map(document []byte) (*model.Invoice, []model.LineItem, []model.VatBreakdownRow, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(document); err != nil {
		return nil, nil, nil, model.NewParseError("document", "not a well-formed XML document", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "Faktura" {
		return nil, nil, nil, model.NewParseError("Faktura", "missing Faktura root element", nil)
	}

	faNode := firstByTag(root, "Fa")
	seller := firstByTag(root, "Podmiot1")
	buyer := firstByTag(root, "Podmiot2")

	invoice := &model.Invoice{
		Number:       optionalText(faNode, "P_2"),
		IssueDate:    optionalText(faNode, "P_1"),
		DeliveryDate: optionalText(faNode, "P_6"),
		SellerTaxID:  partyTaxID(seller),
		BuyerTaxID:   partyTaxID(buyer),
		SellerName:   partyName(seller),
		BuyerName:    partyName(buyer),
		Currency:     currency(faNode),
		NetTotal:     dec.FromStringOrZero(optionalText(faNode, "P_13_1")),
		VatTotal:     dec.FromStringOrZero(optionalText(faNode, "P_14_1")),
		GrossTotal:   dec.FromStringOrZero(optionalText(faNode, "P_15")),
	}

	items := mapLineItems(faNode)
	return invoice, items, DeriveVatBreakdown(items), nil
}

// mapLineItems collects every FaWiersz row. Rows may sit directly under
// Fa or inside a wrapper element; collecting by local tag name makes a
// lone row and a wrapped sequence look the same.
func mapLineItems(faNode *etree.Element) []model.LineItem {
	var items []model.LineItem
	for _, row := range elementsByTag(faNode, "FaWiersz") {
		items = append(items, mapLineItem(row))
	}
	return items
}

func mapLineItem(row *etree.Element) model.LineItem {
	net := dec.FromStringOrZero(optionalText(row, "P_11"))
	rate := optionalText(row, "P_12")

	// P_11A, when present, is the row gross for documents issued in
	// gross terms; otherwise VAT is computed from the rate marker.
	var vat decimal.Decimal
	if grossText := optionalText(row, "P_11A"); grossText != "" {
		vat = dec.FromStringOrZero(grossText).Sub(net)
	} else {
		vat = dec.CalculateVAT(net, rate)
	}

	return model.LineItem{
		Description:  optionalText(row, "P_7"),
		Quantity:     dec.FromStringOrDefault(optionalText(row, "P_8A"), decimal.NewFromInt(1)),
		Unit:         defaultText(optionalText(row, "P_8B"), defaultUnit),
		UnitNetPrice: dec.FromStringOrZero(optionalText(row, "P_9A")),
		VatRate:      rate,
		NetAmount:    net,
		VatAmount:    vat,
		GrossAmount:  net.Add(vat),
	}
}

// DeriveVatBreakdown groups line items by their literal VAT rate marker
// and sums net/VAT/gross per group. Grouping by the raw string keeps
// exempt markers like "zw." distinct; rows come out in the order the
// rates first appear.
func DeriveVatBreakdown(items []model.LineItem) []model.VatBreakdownRow {
	var rows []model.VatBreakdownRow
	index := make(map[string]int)

	for _, item := range items {
		i, seen := index[item.VatRate]
		if !seen {
			i = len(rows)
			index[item.VatRate] = i
			rows = append(rows, model.VatBreakdownRow{VatRate: item.VatRate})
		}
		rows[i].NetAmount = rows[i].NetAmount.Add(item.NetAmount)
		rows[i].VatAmount = rows[i].VatAmount.Add(item.VatAmount)
		rows[i].GrossAmount = rows[i].GrossAmount.Add(item.GrossAmount)
	}
	return rows
}

func partyTaxID(party *etree.Element) string {
	return optionalText(party, "DaneIdentyfikacyjne", "NIP")
}

// partyName prefers the full legal name over the short one, matching
// how both appear across FA(2) revisions.
func partyName(party *etree.Element) string {
	if name := optionalText(party, "DaneIdentyfikacyjne", "PelnaNazwa"); name != "" {
		return name
	}
	return optionalText(party, "DaneIdentyfikacyjne", "Nazwa")
}

func currency(faNode *etree.Element) string {
	return defaultText(optionalText(faNode, "KodWaluty"), defaultCurrency)
}

// optionalText descends elem along the given local tag names and
// returns the trimmed text, or "" when any step is absent. Every leaf
// extraction in this package goes through it so the fallback behavior
// is the same at each site.
func optionalText(elem *etree.Element, path ...string) string {
	for _, tag := range path {
		if elem == nil {
			return ""
		}
		elem = firstByTag(elem, tag)
	}
	if elem == nil {
		return ""
	}
	return strings.TrimSpace(elem.Text())
}

func defaultText(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func firstByTag(elem *etree.Element, tag string) *etree.Element {
	if elem == nil {
		return nil
	}
	for _, child := range elem.ChildElements() {
		if child.Tag == tag {
			return child
		}
		if found := firstByTag(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func elementsByTag(elem *etree.Element, tag string) []*etree.Element {
	if elem == nil {
		return nil
	}
	var out []*etree.Element
	for _, child := range elem.ChildElements() {
		if child.Tag == tag {
			out = append(out, child)
			continue
		}
		out = append(out, elementsByTag(child, tag)...)
	}
	return out
}
