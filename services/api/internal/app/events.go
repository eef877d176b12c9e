package app

import (
	"context"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentSummary struct {
	ID        string               `json:"id"`
	Amount    decimal.Decimal      `json:"amount"`
	PayerName string               `json:"payerName"`
	Method    domain.PaymentMethod `json:"method"`
}

// PaymentUpdateEvent is published on TopicPaymentUpdate after every
// committed batch.
type PaymentUpdateEvent struct {
	OrderID          string               `json:"orderId"`
	PaymentStatus    domain.PaymentStatus `json:"paymentStatus"`
	RemainingBalance decimal.Decimal      `json:"remainingBalance"`
	Payments         []PaymentSummary     `json:"payments"`
	Timestamp        time.Time            `json:"timestamp"`
}

// OrderPaidEvent is published on TopicOrderPaid when an order becomes fully
// paid.
type OrderPaidEvent struct {
	OrderID     string          `json:"orderId"`
	OrderNumber int64           `json:"orderNumber"`
	TableLabel  string          `json:"tableLabel"`
	Total       decimal.Decimal `json:"total"`
	Timestamp   time.Time       `json:"timestamp"`
}

func newPaymentUpdateEvent(res AllocationResult, now time.Time) PaymentUpdateEvent {
	summaries := make([]PaymentSummary, 0, len(res.Payments))
	for _, p := range res.Payments {
		summaries = append(summaries, PaymentSummary{
			ID:        p.ID,
			Amount:    p.Amount,
			PayerName: p.PayerName,
			Method:    p.Method,
		})
	}
	return PaymentUpdateEvent{
		OrderID:          res.OrderID,
		PaymentStatus:    res.PaymentStatus,
		RemainingBalance: res.RemainingBalance,
		Payments:         summaries,
		Timestamp:        now,
	}
}

func newOrderPaidEvent(order domain.Order, now time.Time) OrderPaidEvent {
	return OrderPaidEvent{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		TableLabel:  order.TableLabel,
		Total:       order.Total(),
		Timestamp:   now,
	}
}

// publishOutcome runs after commit. Failures are logged only: the batch is
// already durable.
func (s *AllocationService) publishOutcome(ctx context.Context, order domain.Order, res AllocationResult, transitioned bool, now time.Time) {
	opts := PublishOptions{TenantID: order.TenantID, Broadcast: true}
	if opts.TenantID == "" {
		opts.TenantID = s.tenant
	}

	if err := s.publisher.Publish(ctx, TopicPaymentUpdate, newPaymentUpdateEvent(res, now), opts); err != nil {
		s.logger.Error("publish payment update",
			zap.String("order_id", order.ID),
			zap.String("topic", TopicPaymentUpdate),
			zap.Error(err),
		)
	}
	if !transitioned {
		return
	}
	if err := s.publisher.Publish(ctx, TopicOrderPaid, newOrderPaidEvent(order, now), opts); err != nil {
		s.logger.Error("publish order paid",
			zap.String("order_id", order.ID),
			zap.String("topic", TopicOrderPaid),
			zap.Error(err),
		)
	}
}
