package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/metrics"
	"github.com/vladislavdragonenkov/quickshop/internal/storage/memory"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func TestRecorderEmitWritesOutboxAndTimeline(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	rec := NewRecorder(outbox, timeline, metrics.NewShopMetricsWithRegisterer(prometheus.NewRegistry()), testLogger())

	order := domain.Order{ID: "order-1", OrderNumber: "ORD-1", UserID: "user-1", Status: domain.OrderStatusPending, Total: 505_000}
	rec.Emit(context.Background(), order, Event{
		Type:     domain.EventOrderCreated,
		Timeline: domain.TimelineOrderCreated,
		Reason:   "checkout",
		Payload:  map[string]any{"items": 2},
	})

	pending := outbox.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventOrderCreated, pending[0].EventType)
	assert.Equal(t, "order-1", pending[0].AggregateID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, "ORD-1", payload["order_number"])
	assert.Equal(t, "checkout", payload["reason"])
	assert.EqualValues(t, 2, payload["items"])

	events, err := timeline.List(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TimelineOrderCreated, events[0].Type)
	assert.Equal(t, domain.OrderStatusPending, events[0].OrderStatus)
	assert.Equal(t, domain.ActorSystem, events[0].Actor, "empty actor defaults to system")
}

func TestRecorderTimelineOnly(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	rec := NewRecorder(outbox, timeline, nil, testLogger())

	order := domain.Order{ID: "order-1", Status: domain.OrderStatusPaid, PaymentStatus: domain.PaymentStatusPaid}
	rec.Emit(context.Background(), order, Event{Timeline: domain.TimelinePaymentTokenIssued, Actor: "user-7"})

	assert.Empty(t, outbox.AllPending())
	events, err := timeline.List(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.PaymentStatusPaid, events[0].PaymentStatus)
	assert.Equal(t, "user-7", events[0].Actor)
}

type failingOutbox struct {
	domain.OutboxRepository
}

func (failingOutbox) Enqueue(context.Context, domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errors.New("db down")
}

func TestRecorderSurvivesOutboxFailure(t *testing.T) {
	timeline := memory.NewTimelineRepository()
	rec := NewRecorder(failingOutbox{}, timeline, nil, testLogger())

	rec.Emit(context.Background(), domain.Order{ID: "order-1"}, Event{Type: domain.EventOrderPaid, Timeline: domain.TimelinePaymentUpdated})

	events, err := timeline.List(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	rec.Emit(context.Background(), domain.Order{ID: "order-1"}, Event{Type: domain.EventOrderPaid})
}
