// Package money holds the rounding and formatting rules shared by the cart,
// checkout and receipt code. Every stored amount is rounded to two decimal
// places at the point it is computed.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// CurrencySymbol is prefixed by Format.
const CurrencySymbol = "₹"

var ErrInvalidAmount = errors.New("invalid amount")

// en-IN groups thousands, then lakhs and crores: 12,34,567.
var printer = message.NewPrinter(language.MustParse("en-IN"))

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

// LineTotal is round2(qty * unit).
func LineTotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

// Sum adds the values and rounds the result once.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total.Round(2)
}

// Parse reads an operator-entered amount such as "150", "₹1,250.50" or
// " 99.9 ". Empty input and non-numeric text are rejected.
func Parse(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, CurrencySymbol)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(2), nil
}

// Format renders an amount as "₹1,234.50" or "₹12,34,567.50".
func Format(d decimal.Decimal) string {
	rounded := d.Round(2)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	fixed := rounded.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	wholeValue := rounded.Truncate(0).IntPart()
	if len(whole) > 3 {
		whole = printer.Sprintf("%d", wholeValue)
	}
	return sign + CurrencySymbol + whole + "." + frac
}
