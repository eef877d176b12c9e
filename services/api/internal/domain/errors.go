package domain

import "errors"

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrAlreadySettled         = errors.New("order already settled")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidLineSelection   = errors.New("invalid line selection")
	ErrOverpaymentRejected    = errors.New("overpayment rejected")
	ErrConcurrentModification = errors.New("order is being modified by another terminal")
	ErrStoreUnavailable       = errors.New("ledger store unavailable")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrEmptyBatch             = errors.New("payment batch is empty")
	ErrInvalidSplit           = errors.New("invalid split quantity")
	ErrInvalidID              = errors.New("invalid id")
	ErrCreditNotFound         = errors.New("customer credit not found")
	ErrLineNotFound           = errors.New("order line not found")
)

// Stable kind tags, shared with the HTTP layer and clients.
const (
	KindOrderNotFound          = "order_not_found"
	KindAlreadySettled         = "already_settled"
	KindInvalidAmount          = "invalid_amount"
	KindInvalidLineSelection   = "invalid_line_selection"
	KindOverpaymentRejected    = "overpayment_rejected"
	KindConcurrentModification = "concurrent_modification"
	KindStoreUnavailable       = "store_unavailable"
	KindInvalidPaymentMethod   = "invalid_payment_method"
	KindEmptyBatch             = "empty_batch"
	KindInvalidSplit           = "invalid_split"
	KindInvalidID              = "invalid_id"
	KindCreditNotFound         = "credit_not_found"
	KindLineNotFound           = "line_not_found"
	KindInternal               = "internal_error"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrOrderNotFound, KindOrderNotFound},
	{ErrAlreadySettled, KindAlreadySettled},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInvalidLineSelection, KindInvalidLineSelection},
	{ErrOverpaymentRejected, KindOverpaymentRejected},
	{ErrConcurrentModification, KindConcurrentModification},
	{ErrStoreUnavailable, KindStoreUnavailable},
	{ErrInvalidPaymentMethod, KindInvalidPaymentMethod},
	{ErrEmptyBatch, KindEmptyBatch},
	{ErrInvalidSplit, KindInvalidSplit},
	{ErrInvalidID, KindInvalidID},
	{ErrCreditNotFound, KindCreditNotFound},
	{ErrLineNotFound, KindLineNotFound},
}

// Kind returns the taxonomy tag for err, or KindInternal when err is not a
// known domain error.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsRetryable reports whether a caller may resubmit the same request
// unchanged after backing off.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrStoreUnavailable)
}
