package normalize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseMinorUnits converts an integer amount in cents into major units and a
// display string such as "29.95 EUR".
func ParseMinorUnits(minor int64, currency string) (string, decimal.Decimal) {
	d := decimal.New(minor, -2)
	return formatPrice(d, currency), d
}

func formatPrice(d decimal.Decimal, currency string) string {
	if currency == "" {
		return d.StringFixed(2)
	}
	return d.StringFixed(2) + " " + currency
}

// ParsePriceString parses a preformatted price in any of the usual European
// or English notations: "1.299,95 €", "1,299.95", "29,95", "29.95 EUR".
// The returned display string is the trimmed input.
//
// When both separators occur the last one is the decimal separator. A single
// kind of separator is read as a thousands separator when it repeats or is
// followed by exactly three digits.
func ParsePriceString(s string) (string, decimal.Decimal, error) {
	display := strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))

	var b strings.Builder
	for _, r := range display {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	num := strings.Trim(b.String(), ".,")
	if num == "" {
		return display, decimal.Zero, fmt.Errorf("%w: no digits in price %q", ErrMalformed, s)
	}

	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastDot >= 0 || lastComma >= 0:
		sep, idx := ".", lastDot
		if lastComma >= 0 {
			sep, idx = ",", lastComma
		}
		if strings.Count(num, sep) > 1 || len(num)-idx-1 == 3 {
			num = strings.ReplaceAll(num, sep, "")
		} else {
			num = strings.Replace(num, sep, ".", 1)
		}
	}

	d, err := decimal.NewFromString(num)
	if err != nil {
		return display, decimal.Zero, fmt.Errorf("%w: price %q: %v", ErrMalformed, s, err)
	}
	return display, d, nil
}
