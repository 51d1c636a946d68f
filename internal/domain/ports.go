package domain

import (
	"context"
	"time"
)

// PaymentGateway выдаёт платёжные токены для заказов.
type PaymentGateway interface {
	CreateTransaction(ctx context.Context, req TokenRequest) (PaymentToken, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// Типы событий заказа, которые уходят в outbox.
const (
	EventOrderCreated          = "order.created"
	EventOrderPaymentUpdated   = "order.payment_updated"
	EventOrderPaid             = "order.paid"
	EventOrderCancelled        = "order.cancelled"
	EventCancellationRequested = "order.cancellation_requested"
	EventCancellationReviewed  = "order.cancellation_reviewed"

	AggregateOrder = "order"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	// Attempts: сколько публикаций уже не удалось.
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
	// DeadCount: события, снятые с доставки после исчерпания попыток.
	DeadCount int
}
