package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

func cancelledEvent() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventOrderCancelled,
		Payload:       []byte(`{"status":"cancelled"}`),
	}
}

func TestOutboxPublisherPublish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var envelope OrderEventEnvelope
		if err := json.Unmarshal(val, &envelope); err != nil {
			return err
		}
		assert.Equal(t, "outbox-1", envelope.ID)
		assert.Equal(t, "order-123", envelope.AggregateID)
		assert.JSONEq(t, `{"status":"cancelled"}`, string(envelope.Payload))
		assert.False(t, envelope.PublishedAt.IsZero())
		return nil
	})

	publisher := NewOutboxPublisher(newProducer(mockProducer), "")
	require.NoError(t, publisher.Publish(context.Background(), cancelledEvent()))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisherProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(newProducer(mockProducer), TopicDeadLetterQueue)
	require.Error(t, publisher.Publish(context.Background(), cancelledEvent()))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisherNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	require.Error(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}))
}
