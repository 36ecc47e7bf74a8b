package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatPrice renders a value with precision tiered by magnitude: two
// decimals with thousands separators from 1 upward, then 4, 6 and 8 decimals
// for smaller values.
func FormatPrice(v float64) string {
	d := decimal.NewFromFloat(v)
	abs := d.Abs()

	var places int32
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		places = 2
	case abs.GreaterThanOrEqual(decimal.RequireFromString("0.01")):
		places = 4
	case abs.GreaterThanOrEqual(decimal.RequireFromString("0.0001")):
		places = 6
	default:
		places = 8
	}

	return groupThousands(d.StringFixed(places))
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}

	intPart, frac, hasFrac := strings.Cut(s, ".")
	if len(intPart) <= 3 {
		return sign + s
	}

	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + b.String()
}
