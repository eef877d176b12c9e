package domain

import "github.com/shopspring/decimal"

// DerivePaymentStatus computes the payment status from the current lines and
// the money recorded so far. It is recomputed on every allocation instead of
// being patched.
func DerivePaymentStatus(lines []OrderLine, paidToDate decimal.Decimal) PaymentStatus {
	unpaid := 0
	anyPaid := false
	for _, l := range lines {
		if l.Paid {
			anyPaid = true
			continue
		}
		unpaid++
	}

	switch {
	case unpaid == 0:
		return PaymentStatusFullyPaid
	case anyPaid || paidToDate.IsPositive():
		return PaymentStatusPartiallyPaid
	default:
		return PaymentStatusUnpaid
	}
}

func (s PaymentStatus) rank() int {
	switch s {
	case PaymentStatusPartiallyPaid:
		return 1
	case PaymentStatusFullyPaid:
		return 2
	default:
		return 0
	}
}

// Regresses reports whether moving from s to next would go backwards.
func (s PaymentStatus) Regresses(next PaymentStatus) bool {
	return next.rank() < s.rank()
}
