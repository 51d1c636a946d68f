package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения label result для webhook-уведомлений.
const (
	WebhookApplied          = "applied"
	WebhookDuplicate        = "duplicate"
	WebhookInvalidSignature = "invalid_signature"
	WebhookOrderNotFound    = "order_not_found"
	WebhookError            = "error"
)

// Значения label result для оформления заказа.
const (
	CheckoutCreated            = "created"
	CheckoutGatewayUnavailable = "gateway_unavailable"
	CheckoutRejected           = "rejected"
)

// Значения label result для доставки событий outbox.
const (
	OutboxSent             = "sent"
	OutboxRetried          = "retried"
	OutboxDeadLettered     = "dead_lettered"
	OutboxDeadLetterFailed = "dead_letter_failed"
)

// ShopMetrics содержит метрики магазина: оформление, оплата, остатки, отмены, корзина.
type ShopMetrics struct {
	// Платёжные уведомления
	webhookResults  *prometheus.CounterVec
	webhookDuration prometheus.Histogram

	// Списание остатков
	stockDecrements *prometheus.CounterVec

	checkoutResults *prometheus.CounterVec
	cancellations   *prometheus.CounterVec

	cartSyncFailures prometheus.Counter

	// HTTP
	httpDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Доставка событий заказа в брокер
	outboxDeliveries *prometheus.CounterVec
	outboxPending    prometheus.Gauge
	outboxOldestAge  prometheus.Gauge
}

// NewShopMetrics создаёт метрики в реестре по умолчанию.
func NewShopMetrics() *ShopMetrics {
	return NewShopMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewShopMetricsWithRegisterer создаёт метрики в указанном реестре.
// Повторная регистрация возвращает уже зарегистрированные коллекторы.
func NewShopMetricsWithRegisterer(registerer prometheus.Registerer) *ShopMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ShopMetrics{
		webhookResults: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "quickshop_payment_notifications_total",
			Help: "Total number of payment gateway notifications grouped by result",
		}, []string{"result"}),
		webhookDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "quickshop_payment_notification_duration_seconds",
			Help:    "Duration of payment notification processing in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		stockDecrements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "quickshop_stock_decrements_total",
			Help: "Total number of per-line stock decrements grouped by result",
		}, []string{"result"}),
		checkoutResults: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "quickshop_checkout_total",
			Help: "Total number of checkout attempts grouped by result",
		}, []string{"result"}),
		cancellations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "quickshop_cancellation_requests_total",
			Help: "Total number of cancellation workflow actions",
		}, []string{"action"}),
		cartSyncFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "quickshop_cart_sync_failures_total",
			Help: "Total number of failed cart synchronisations with the remote store",
		}),
		httpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "quickshop_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "quickshop_timeline_events_total",
			Help: "Total number of order timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "quickshop_outbox_events_total",
			Help: "Total number of order events enqueued to the outbox",
		}),
		outboxDeliveries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "quickshop_outbox_deliveries_total",
			Help: "Order event delivery attempts grouped by result",
		}, []string{"result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "quickshop_outbox_pending_events",
			Help: "Order events waiting for the broker",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "quickshop_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest order event waiting for the broker",
		}),
	}
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// Методы безопасны для nil-получателя: сервисы без метрик просто ничего не пишут.

// RecordWebhook фиксирует результат обработки уведомления и её длительность.
func (m *ShopMetrics) RecordWebhook(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.webhookResults.WithLabelValues(result).Inc()
	m.webhookDuration.Observe(duration.Seconds())
}

// RecordStockDecrement фиксирует результат списания остатка по одной позиции.
func (m *ShopMetrics) RecordStockDecrement(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.stockDecrements.WithLabelValues(result).Inc()
}

// RecordCheckout фиксирует результат оформления заказа.
func (m *ShopMetrics) RecordCheckout(result string) {
	if m == nil {
		return
	}
	m.checkoutResults.WithLabelValues(result).Inc()
}

// RecordCancellation фиксирует действие в процессе отмены (requested/approved/rejected).
func (m *ShopMetrics) RecordCancellation(action string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(action).Inc()
}

// RecordCartSyncFailure увеличивает счётчик неудачных синхронизаций корзины.
func (m *ShopMetrics) RecordCartSyncFailure() {
	if m == nil {
		return
	}
	m.cartSyncFailures.Inc()
}

// ObserveHTTPRequest записывает длительность HTTP-запроса.
func (m *ShopMetrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, fmt.Sprintf("%d", code)).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ShopMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ShopMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordOutboxDelivery учитывает попытку доставки события заказа.
func (m *ShopMetrics) RecordOutboxDelivery(result string) {
	if m == nil {
		return
	}
	m.outboxDeliveries.WithLabelValues(result).Inc()
}

// SetOutboxBacklog обновляет размер очереди outbox и возраст самого старого события.
func (m *ShopMetrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(oldestAge.Seconds())
}
