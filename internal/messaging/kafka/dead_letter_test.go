package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

func TestDecodeDeadLetter(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":             "evt-1",
		"aggregate_type": "order",
		"aggregate_id":   "order-1",
		"event_type":     "order.paid",
		"payload": map[string]any{
			"outbox_id":     "evt-1",
			"event_type":    "order.paid",
			"payload":       map[string]any{"payment_status": "paid"},
			"attempts":      5,
			"publish_error": "broker unavailable",
			"failed_at":     "2026-03-01T09:59:00Z",
		},
	})
	require.NoError(t, err)

	letter, err := DecodeDeadLetter(raw)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", letter.OutboxID)
	assert.Equal(t, "order-1", letter.AggregateID, "missing fields come from the outer envelope")
	assert.Equal(t, "order", letter.AggregateType)
	assert.Equal(t, "broker unavailable", letter.PublishError)
	assert.Equal(t, 5, letter.Attempts)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 59, 0, 0, time.UTC), letter.FailedAt)
	assert.Equal(t, "order-1", letter.Key())
	assert.Equal(t, "order.paid", RedriveHeaders(letter)[HeaderEventType])

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	envelope := RedriveEnvelope(letter, now)
	assert.Equal(t, "evt-1", envelope.ID)
	assert.Equal(t, now, envelope.PublishedAt)
	assert.JSONEq(t, `{"payment_status":"paid"}`, string(envelope.Payload))
}

func TestDecodeDeadLetterRejectsForeignMessages(t *testing.T) {
	_, err := DecodeDeadLetter([]byte(`{"foo":"bar"}`))
	assert.ErrorIs(t, err, ErrNotDeadLetter)

	_, err = DecodeDeadLetter([]byte(`not json`))
	assert.ErrorIs(t, err, ErrNotDeadLetter)

	_, err = DecodeDeadLetter([]byte(`{"id":"x","payload":"not-an-object"}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotDeadLetter)

	_, err = DecodeDeadLetter([]byte(`{"id":"x","payload":{"outbox_id":"x"}}`))
	require.Error(t, err, "dead letter without original payload")
}

func TestDeadLetterKeyFallsBackToOutboxID(t *testing.T) {
	assert.Equal(t, "evt-9", DeadLetter{OutboxID: "evt-9"}.Key())
}

func TestDeadLetterFromWorkerDecodes(t *testing.T) {
	failedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	letter := domain.NewDeadLetter(domain.OutboxMessage{
		ID:            "evt-3",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-3",
		EventType:     domain.EventOrderPaid,
		Payload:       []byte(`{"status":"paid"}`),
		Attempts:      5,
	}, errors.New("leader not available"), failedAt)
	msg, err := letter.Message()
	require.NoError(t, err)

	raw, err := json.Marshal(OrderEventEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       msg.Payload,
		PublishedAt:   failedAt,
	})
	require.NoError(t, err)

	decoded, err := DecodeDeadLetter(raw)
	require.NoError(t, err)
	assert.Equal(t, letter, decoded)
	assert.JSONEq(t, `{"status":"paid"}`, string(RedriveEnvelope(decoded, failedAt).Payload))
}
