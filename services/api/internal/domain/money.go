package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// CurrencyEpsilon is the largest difference tolerated between a payment
	// amount and the cost of the lines it selects.
	CurrencyEpsilon = decimal.RequireFromString("0.005")
	// CreditThreshold is the remainder a payment must exceed before it is
	// turned into customer credit.
	CreditThreshold = decimal.RequireFromString("0.01")
	// OverpaymentSlack is applied to the remaining balance to get the largest
	// batch total accepted.
	OverpaymentSlack = decimal.RequireFromString("1.10")
)

// ParseAmount parses a decimal currency string such as "12.50".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal amount", ErrInvalidAmount, s)
	}
	return d, nil
}

// AmountsMatch reports whether a and b are equal within CurrencyEpsilon.
func AmountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(CurrencyEpsilon)
}

// RoundCurrency rounds to cents.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SumAmounts adds up the given amounts.
func SumAmounts(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
