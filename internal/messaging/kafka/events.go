package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// Topics магазина.
const (
	TopicOrderEvents     = "quickshop.order.events"
	TopicDeadLetterQueue = "quickshop.dlq"
)

// Заголовки сообщений. По ним потребители фильтруют события, не разбирая тело.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOriginalTopic = "x-original-topic"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEventEnvelope описывает формат события заказа в топике.
type OrderEventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetter описывает тело сообщения в DLQ. Формат общий с воркером outbox.
type DeadLetter = domain.DeadLetter
