package paygate

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

// AmountsEqual compares numerically, so "100.10" equals "100.100".
func AmountsEqual(expected, actual decimal.Decimal) bool {
	return expected.Equal(actual)
}

// FormatAmount renders whole amounts without a fractional part and others with two decimals.
func FormatAmount(amount decimal.Decimal) string {
	if amount.Equal(amount.Truncate(0)) {
		return amount.StringFixed(0)
	}
	return amount.StringFixed(2)
}
