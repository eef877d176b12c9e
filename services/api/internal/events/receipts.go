package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/app"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const DefaultReceiptQueue = "receipts"

// AMQPChannel is the part of *amqp.Channel the receipt queue uses.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ReceiptQueue enqueues a receipt job for every order that becomes fully
// paid. Other topics are ignored.
type ReceiptQueue struct {
	ch    AMQPChannel
	queue string
	log   *zap.Logger
	now   func() time.Time
}

// DeclareReceiptQueue makes sure the durable queue exists.
func DeclareReceiptQueue(ch AMQPChannel, name string) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

func NewReceiptQueue(ch AMQPChannel, queue string, log *zap.Logger) *ReceiptQueue {
	if queue == "" {
		queue = DefaultReceiptQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReceiptQueue{ch: ch, queue: queue, log: log, now: time.Now}
}

func (q *ReceiptQueue) Publish(ctx context.Context, topic string, payload any, opts app.PublishOptions) error {
	if topic != app.TopicOrderPaid {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode receipt job: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         topic,
		Timestamp:    q.now().UTC(),
		Headers:      amqp.Table{"tenant_id": opts.TenantID},
		Body:         body,
	}
	// Default exchange: the routing key is the queue name.
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg); err != nil {
		return fmt.Errorf("enqueue receipt: %w", err)
	}
	q.log.Info("receipt job enqueued", zap.String("queue", q.queue), zap.String("message_id", msg.MessageId))
	return nil
}
