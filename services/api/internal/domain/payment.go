package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash  PaymentMethod = "CASH"
	PaymentMethodCard  PaymentMethod = "CARD"
	PaymentMethodMixed PaymentMethod = "MIXED"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodMixed:
		return true
	}
	return false
}

// LineSelection picks a line for an explicit payment. A zero Quantity
// covers whatever quantity of the line is still unpaid.
type LineSelection struct {
	LineID   string
	Quantity int
}

// PartialPayment is one named-payer payment inside an allocation batch.
// A payment without lines is free-form and allocated automatically.
type PartialPayment struct {
	Amount    decimal.Decimal
	Method    PaymentMethod
	PayerName string
	Lines     []LineSelection
}

func (p PartialPayment) FreeForm() bool {
	return len(p.Lines) == 0
}

// Payment is an accepted payment. LineAllocation maps the id of every line
// this payment ended up paying to the quantity it covered; it is filled in
// after splitting, inside the same transaction that inserted the row.
type Payment struct {
	ID                string
	OrderID           string
	BatchID           string
	Amount            decimal.Decimal
	Method            PaymentMethod
	PayerName         string
	OperatorID        string
	LineAllocation    map[string]int
	UnallocatedAmount decimal.NullDecimal
	CreatedAt         time.Time
}

// BatchRecord remembers the outcome of an allocation batch submitted with a
// client batch id.
type BatchRecord struct {
	OrderID   string
	BatchID   string
	Result    []byte
	CreatedAt time.Time
}
