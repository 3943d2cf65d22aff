package decimal

import (
	"github.com/shopspring/decimal"
)

// Zero is decimal zero
var Zero = decimal.Zero

// FromInt creates decimal from int
func FromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// FromFloat creates decimal from float with rounding to grosz precision
func FromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// FromString parses decimal from string
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// FromStringOrZero parses decimal from string, falling back to zero on
// empty or non-numeric content. FA(2) marks most amount fields optional,
// so a single bad field must never abort a mapping.
func FromStringOrZero(s string) decimal.Decimal {
	if s == "" {
		return Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero
	}
	return d
}

// FromStringOrDefault parses decimal from string with an explicit fallback
func FromStringOrDefault(s string, fallback decimal.Decimal) decimal.Decimal {
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return d
}

// Mul multiplies two decimals, rounds to 2 places
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Round(2)
}

// Div divides a by b, rounds to 2 places
func Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return Zero
	}
	return a.Div(b).Round(2)
}

// CalculateVAT computes VAT amount: net * (rate/100), rounded to grosze.
// The rate arrives as the literal marker from the document; non-numeric
// markers ("zw.", "np.", "oo") denote exempt supplies and yield zero.
func CalculateVAT(net decimal.Decimal, rate string) decimal.Decimal {
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return Zero
	}
	hundred := decimal.NewFromInt(100)
	return net.Mul(r).Div(hundred).Round(2)
}

// Sum sums a slice of decimals
func Sum(values []decimal.Decimal) decimal.Decimal {
	result := Zero
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}

// IsPositive returns true if decimal is greater than zero
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(Zero)
}

// IsNonNegative returns true if decimal is >= zero
func IsNonNegative(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(Zero)
}

// RoundPLN rounds to grosz precision
func RoundPLN(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
