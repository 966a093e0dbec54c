package rebalancer

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatCurrency renders an amount with thousands separators, e.g. ₹1,234.56.
// The digits come from the decimal itself, so large amounts stay exact.
func FormatCurrency(symbol string, value decimal.Decimal) string {
	fixed := value.StringFixed(2)

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}

	whole, frac, _ := strings.Cut(fixed, ".")
	return symbol + sign + groupThousands(whole) + "." + frac
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}

	var sb strings.Builder
	head := len(digits) % 3
	if head > 0 {
		sb.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(digits[i : i+3])
	}
	return sb.String()
}

// FormatPercent renders a percentage with 2 decimals, e.g. 12.34%.
func FormatPercent(value decimal.Decimal) string {
	return fmt.Sprintf("%s%%", value.StringFixed(2))
}
