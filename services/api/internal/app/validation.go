package app

import (
	"fmt"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/shopspring/decimal"
)

// validateBatchShape checks what can be checked without reading the order.
func validateBatchShape(payments []domain.PartialPayment) error {
	if len(payments) == 0 {
		return domain.ErrEmptyBatch
	}
	for i, p := range payments {
		if !p.Amount.IsPositive() {
			return fmt.Errorf("%w: payment %d has amount %s, must be greater than zero", domain.ErrInvalidAmount, i+1, p.Amount)
		}
		if !p.Method.Valid() {
			return fmt.Errorf("%w: payment %d uses %q, expected CASH, CARD or MIXED", domain.ErrInvalidPaymentMethod, i+1, p.Method)
		}
		for _, sel := range p.Lines {
			if sel.LineID == "" {
				return fmt.Errorf("%w: payment %d selects a line without id", domain.ErrInvalidLineSelection, i+1)
			}
			if sel.Quantity < 0 {
				return fmt.Errorf("%w: payment %d asks for %d units of line %s", domain.ErrInvalidLineSelection, i+1, sel.Quantity, sel.LineID)
			}
		}
	}
	return nil
}

// validateBatch checks the batch against the order state. It runs once on an
// unlocked read and again under the order lock.
func validateBatch(order domain.Order, payments []domain.PartialPayment, slack decimal.Decimal) error {
	if order.Settled() {
		return fmt.Errorf("%w: order %d is already fully paid", domain.ErrAlreadySettled, order.Number)
	}

	// claimed accumulates, across the whole batch, the units each line is
	// asked to cover, so two payments cannot pay the same units twice.
	claimed := make(map[string]int)
	for i, p := range payments {
		seen := make(map[string]struct{}, len(p.Lines))
		for _, sel := range p.Lines {
			line, ok := order.Line(sel.LineID)
			if !ok {
				return fmt.Errorf("%w: line %s does not belong to order %d", domain.ErrInvalidLineSelection, sel.LineID, order.Number)
			}
			if line.Paid {
				return fmt.Errorf("%w: line %s (%s) was already paid by %s", domain.ErrInvalidLineSelection, line.ID, line.ProductName, payerOrUnknown(line.PaidBy))
			}
			if _, dup := seen[sel.LineID]; dup {
				return fmt.Errorf("%w: payment %d selects line %s twice", domain.ErrInvalidLineSelection, i+1, sel.LineID)
			}
			seen[sel.LineID] = struct{}{}

			// Zero means whatever earlier payments of the batch left unpaid.
			qty := sel.Quantity
			if qty == 0 {
				qty = line.Quantity - claimed[line.ID]
				if qty <= 0 {
					return fmt.Errorf("%w: line %s (%s) is covered more than once in this batch",
						domain.ErrInvalidLineSelection, line.ID, line.ProductName)
				}
			}
			if qty > line.Quantity {
				return fmt.Errorf("%w: payment %d asks for %d units of line %s (%s) but %d are unpaid",
					domain.ErrInvalidLineSelection, i+1, qty, line.ID, line.ProductName, line.Quantity)
			}
			claimed[line.ID] += qty
			if claimed[line.ID] > line.Quantity {
				return fmt.Errorf("%w: line %s (%s) is covered more than once in this batch",
					domain.ErrInvalidLineSelection, line.ID, line.ProductName)
			}
		}
	}

	amounts := make([]decimal.Decimal, len(payments))
	for i, p := range payments {
		amounts[i] = p.Amount
	}
	total := domain.SumAmounts(amounts...)
	remaining := order.RemainingBalance()
	ceiling := remaining.Mul(slack)
	if total.GreaterThan(ceiling) {
		return fmt.Errorf("%w: batch total %s exceeds %s (remaining balance %s plus tolerance)",
			domain.ErrOverpaymentRejected, total.StringFixed(2), ceiling.StringFixed(2), remaining.StringFixed(2))
	}
	return nil
}

func payerOrUnknown(name string) string {
	if name == "" {
		return "another payer"
	}
	return name
}
