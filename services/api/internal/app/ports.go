package app

import (
	"context"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
)

// LedgerRepository is the transactional store behind the allocation engine.
// Methods called with a context returned by WithTx run inside that
// transaction.
type LedgerRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	// LockOrderNoWait takes the exclusive order lock or fails at once with
	// domain.ErrConcurrentModification, then loads lines and payments.
	LockOrderNoWait(ctx context.Context, orderID string) (domain.Order, error)
	FindBatch(ctx context.Context, orderID, batchID string) (*domain.BatchRecord, error)
	SaveBatch(ctx context.Context, rec domain.BatchRecord) error
	CreatePayment(ctx context.Context, payment domain.Payment) error
	UpdatePaymentAllocation(ctx context.Context, payment domain.Payment) error
	InsertLine(ctx context.Context, line domain.OrderLine) error
	UpdateLine(ctx context.Context, line domain.OrderLine) error
	UpdateOrderStatus(ctx context.Context, order domain.Order) error
	// FindOrCreateCredit returns the account with candidate.CustomerKey,
	// inserting candidate when there is none.
	FindOrCreateCredit(ctx context.Context, candidate domain.CustomerCredit) (domain.CustomerCredit, error)
	AppendCreditEntry(ctx context.Context, entry domain.CreditEntry) error
}

// TableManager frees a table once none of its orders is open.
type TableManager interface {
	FreeTableIfIdle(ctx context.Context, tableID, excludingOrderID string) error
}

const (
	TopicPaymentUpdate = "payment:update"
	TopicOrderPaid     = "order:paid"
)

type PublishOptions struct {
	TenantID  string
	Broadcast bool
}

// EventPublisher receives allocation outcomes after commit.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any, opts PublishOptions) error
}

type noopTables struct{}

func (noopTables) FreeTableIfIdle(context.Context, string, string) error { return nil }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any, PublishOptions) error { return nil }
