package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerPublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var envelope OrderEventEnvelope
		if err := json.Unmarshal(val, &envelope); err != nil {
			return err
		}
		assert.Equal(t, "order.paid", envelope.EventType)
		return nil
	})

	producer := newProducer(mockProducer)
	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-1",
		OrderEventEnvelope{ID: "evt-1", AggregateID: "order-1", EventType: "order.paid", Payload: json.RawMessage(`{}`)},
		map[string]string{HeaderEventType: "order.paid"},
	)
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestProducerPublishEventError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := newProducer(mockProducer)
	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-1", OrderEventEnvelope{ID: "evt-1"}, nil)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestProducerPublishEventCancelledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := producer.PublishEvent(ctx, TopicOrderEvents, "order-1", OrderEventEnvelope{}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mockProducer.Close())
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(ProducerConfig{})
	require.Error(t, err)
}
