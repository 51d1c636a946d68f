// Package events записывает события жизненного цикла заказа в timeline и transactional outbox.
package events

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/metrics"
)

// Event описывает одно событие заказа.
type Event struct {
	// Type: тип события для outbox (domain.Event*). Пустой тип пишет только timeline.
	Type string
	// Timeline: тип записи в истории заказа (domain.Timeline*). Пустой тип пишет только outbox.
	Timeline string
	Reason   string
	// Actor: кто вызвал событие. Пустой означает ActorSystem.
	Actor    string
	Payload  map[string]any
	Occurred time.Time
}

// Recorder используется всеми сервисами заказа. Ошибки записи логируются и не прерывают
// основную операцию: заказ уже сохранён, событие вторично.
type Recorder struct {
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.ShopMetrics
	logger   *log.Entry
}

// NewRecorder создаёт Recorder. Любой из репозиториев может быть nil.
func NewRecorder(outbox domain.OutboxRepository, timeline domain.TimelineRepository, m *metrics.ShopMetrics, logger *log.Entry) *Recorder {
	if logger == nil {
		logger = log.WithField("component", "order-events")
	}
	return &Recorder{outbox: outbox, timeline: timeline, metrics: m, logger: logger}
}

// Emit записывает событие по заказу.
func (r *Recorder) Emit(ctx context.Context, order domain.Order, event Event) {
	if r == nil {
		return
	}
	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	logger := r.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"event":    event.Type,
	})

	if r.outbox != nil && event.Type != "" {
		payload := map[string]any{
			"order_id":       order.ID,
			"order_number":   order.OrderNumber,
			"user_id":        order.UserID,
			"status":         order.Status,
			"payment_status": order.PaymentStatus,
			"total":          order.Total,
			"ts":             occurred.Format(time.RFC3339Nano),
		}
		if event.Reason != "" {
			payload["reason"] = event.Reason
		}
		for k, v := range event.Payload {
			payload[k] = v
		}

		data, err := json.Marshal(payload)
		if err != nil {
			logger.WithError(err).Error("marshal event failed")
		} else if _, err := r.outbox.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			AggregateID:   order.ID,
			EventType:     event.Type,
			Payload:       data,
		}); err != nil {
			logger.WithError(err).Error("enqueue event failed")
		} else {
			r.metrics.RecordOutboxEvent()
		}
	}

	if r.timeline != nil && event.Timeline != "" {
		actor := event.Actor
		if actor == "" {
			actor = domain.ActorSystem
		}
		if err := r.timeline.Append(ctx, domain.TimelineEvent{
			OrderID:       order.ID,
			Type:          event.Timeline,
			OrderStatus:   order.Status,
			PaymentStatus: order.PaymentStatus,
			Actor:         actor,
			Reason:        event.Reason,
			Occurred:      occurred,
		}); err != nil {
			logger.WithError(err).Warn("append timeline event failed")
		} else {
			r.metrics.RecordTimelineEvent()
		}
	}
}
