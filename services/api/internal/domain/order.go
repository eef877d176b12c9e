package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid        PaymentStatus = "UNPAID"
	PaymentStatusPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	PaymentStatusFullyPaid     PaymentStatus = "FULLY_PAID"
)

type LifecycleStatus string

const (
	LifecycleOpen   LifecycleStatus = "OPEN"
	LifecycleClosed LifecycleStatus = "CLOSED"
)

// Order is a running tab for one table or session.
type Order struct {
	ID              string
	Number          int64
	TenantID        string
	TableID         string
	TableLabel      string
	PaymentStatus   PaymentStatus
	LifecycleStatus LifecycleStatus
	Lines           []OrderLine
	Payments        []Payment
	CreatedAt       time.Time
	ClosedAt        *time.Time
}

// OrderLine is one product/quantity entry of an order and the unit of
// payment attribution. OriginLineID points at the line this one was split
// from; it is a lookup key only.
type OrderLine struct {
	ID           string
	OrderID      string
	Position     int64
	ProductID    string
	ProductName  string
	UnitPrice    decimal.Decimal
	Quantity     int
	Note         string
	Station      string
	Paid         bool
	PaidBy       string
	OriginLineID string
	IsSplit      bool
	CreatedAt    time.Time
}

// Total is quantity * unit price.
func (l OrderLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total sums every line. Splitting preserves it.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Total())
	}
	return total
}

// RemainingBalance sums the lines that are not paid yet.
func (o Order) RemainingBalance() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		if !l.Paid {
			total = total.Add(l.Total())
		}
	}
	return total
}

// PaidToDate sums every recorded payment, matched or not.
func (o Order) PaidToDate() decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// Line returns the line with the given id.
func (o Order) Line(id string) (OrderLine, bool) {
	for _, l := range o.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return OrderLine{}, false
}

// UnpaidLines returns the unpaid lines in creation order.
func (o Order) UnpaidLines() []OrderLine {
	out := make([]OrderLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		if !l.Paid {
			out = append(out, l)
		}
	}
	SortLines(out)
	return out
}

// SortLines orders lines by creation.
func SortLines(lines []OrderLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Position != lines[j].Position {
			return lines[i].Position < lines[j].Position
		}
		return lines[i].CreatedAt.Before(lines[j].CreatedAt)
	})
}

// Settled reports whether the order accepts no further payments.
func (o Order) Settled() bool {
	return o.PaymentStatus == PaymentStatusFullyPaid
}
