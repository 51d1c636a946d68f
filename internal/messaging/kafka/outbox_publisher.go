package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// OutboxTopicPublisher публикует события заказов из outbox в заданный topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт паблишер для transactional outbox. Пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

// Publish отправляет событие с ключом заказа. Повторная отправка безопасна:
// потребители дедуплицируют по id.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := NewEnvelope(event, p.now())
	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
	}
	if p.topic == TopicDeadLetterQueue {
		headers[HeaderOriginalTopic] = TopicOrderEvents
		headers[HeaderFailedAt] = p.now().UTC().Format(time.RFC3339Nano)
	}

	return p.producer.PublishEvent(ctx, p.topic, key, envelope, headers)
}

// NewEnvelope оборачивает событие outbox в конверт топика.
func NewEnvelope(event domain.OutboxMessage, now time.Time) OrderEventEnvelope {
	return OrderEventEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   now.UTC(),
	}
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
