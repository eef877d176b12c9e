package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

type CreditEntryKind string

// CreditEntryAcconto records money received on account.
const CreditEntryAcconto CreditEntryKind = "ACCONTO"

// CustomerCredit is the goodwill account of a named customer.
type CustomerCredit struct {
	ID           string
	CustomerKey  string
	CustomerName string
	Balance      decimal.Decimal
	Entries      []CreditEntry
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CreditEntry struct {
	ID        string
	CreditID  string
	Kind      CreditEntryKind
	Amount    decimal.Decimal
	OrderID   string
	PaymentID string
	CreatedAt time.Time
}

// CustomerKey folds a payer name into the key credit accounts are looked up
// by, so "Anna  Rossi" and "anna rossi" share one account.
func CustomerKey(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}
