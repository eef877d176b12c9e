package domain

import (
	"fmt"
	"time"
)

// SplitLine carves paidQuantity units off line. The returned paid line is
// new (id paidLineID, origin line.ID) and marked paid; the remainder keeps
// line.ID and the rest of the quantity so references to the original line
// stay valid. line itself is not modified.
//
// Paying the whole line is not a split: 0 < paidQuantity < line.Quantity.
func SplitLine(line OrderLine, paidQuantity int, paidLineID string, now time.Time) (paid OrderLine, remainder OrderLine, err error) {
	if line.Paid {
		return OrderLine{}, OrderLine{}, fmt.Errorf("%w: line %s is already paid", ErrInvalidSplit, line.ID)
	}
	if paidQuantity <= 0 || paidQuantity >= line.Quantity {
		return OrderLine{}, OrderLine{}, fmt.Errorf("%w: cannot split %d of %d units from line %s",
			ErrInvalidSplit, paidQuantity, line.Quantity, line.ID)
	}
	if paidLineID == "" || paidLineID == line.ID {
		return OrderLine{}, OrderLine{}, fmt.Errorf("%w: split line needs a fresh id", ErrInvalidSplit)
	}

	paid = OrderLine{
		ID:           paidLineID,
		OrderID:      line.OrderID,
		ProductID:    line.ProductID,
		ProductName:  line.ProductName,
		UnitPrice:    line.UnitPrice,
		Quantity:     paidQuantity,
		Note:         line.Note,
		Station:      line.Station,
		Paid:         true,
		OriginLineID: line.ID,
		IsSplit:      true,
		CreatedAt:    now,
	}

	remainder = line
	remainder.Quantity = line.Quantity - paidQuantity
	return paid, remainder, nil
}
