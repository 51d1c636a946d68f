// Package payment обрабатывает уведомления платёжного шлюза.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/gateway/midtrans"
	"github.com/vladislavdragonenkov/quickshop/internal/metrics"
	"github.com/vladislavdragonenkov/quickshop/internal/service/events"
)

// Result описывает, что произошло с заказом после уведомления.
type Result struct {
	Order      domain.Order
	Outcome    domain.PaymentOutcome
	Transition domain.PaymentTransition
	// DecrementFailures: число позиций, по которым не удалось списать остаток.
	DecrementFailures int
}

// Options задаёт необязательные зависимости процессора.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.ShopMetrics
	Recorder *events.Recorder
	Tracer   trace.Tracer
	Now      func() time.Time
}

// Option настраивает Processor.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithRecorder задаёт запись событий заказа.
func WithRecorder(r *events.Recorder) Option {
	return func(opts *Options) { opts.Recorder = r }
}

// WithTracer задаёт tracer.
func WithTracer(t trace.Tracer) Option {
	return func(opts *Options) { opts.Tracer = t }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// Processor применяет уведомления шлюза к заказам.
//
// Безопасен при повторной и параллельной доставке одного уведомления: переход
// вычисляется под блокировкой строки заказа, а остаток списывается только при
// первом переходе в paid.
type Processor struct {
	orders    domain.OrderRepository
	products  domain.ProductRepository
	logs      domain.PaymentLogRepository
	serverKey string

	recorder *events.Recorder
	metrics  *metrics.ShopMetrics
	tracer   trace.Tracer
	logger   *log.Entry
	now      func() time.Time
}

// NewProcessor создаёт процессор уведомлений.
func NewProcessor(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	logs domain.PaymentLogRepository,
	serverKey string,
	options ...Option,
) *Processor {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "payment-processor")
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("quickshop/payment")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Processor{
		orders:    orders,
		products:  products,
		logs:      logs,
		serverKey: serverKey,
		recorder:  opts.Recorder,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// HandleNotification проверяет подпись и применяет уведомление к заказу.
//
// Ошибки: domain.ErrInvalidSignature (ничего не меняется), domain.ErrOrderNotFound,
// любые другие означают, что шлюз должен повторить доставку.
func (p *Processor) HandleNotification(ctx context.Context, n domain.PaymentNotification, raw []byte) (result Result, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "payment.HandleNotification",
		trace.WithAttributes(
			attribute.String("order.number", n.OrderID),
			attribute.String("payment.transaction_status", n.TransactionStatus),
		),
	)
	metricResult := metrics.WebhookError
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("payment.result", metricResult))
		span.End()
		p.metrics.RecordWebhook(metricResult, time.Since(start))
	}()

	logger := p.logger.WithFields(log.Fields{
		"order_number":       n.OrderID,
		"transaction_id":     n.TransactionID,
		"transaction_status": n.TransactionStatus,
	})

	if !midtrans.VerifySignature(n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey, p.serverKey) {
		metricResult = metrics.WebhookInvalidSignature
		logger.Warn("payment notification rejected: invalid signature")
		return Result{}, domain.ErrInvalidSignature
	}

	order, err := p.orders.GetByNumber(ctx, n.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			metricResult = metrics.WebhookOrderNotFound
			logger.Warn("payment notification for unknown order")
			return Result{}, err
		}
		return Result{}, fmt.Errorf("load order %s: %w", n.OrderID, err)
	}
	logger = logger.WithField("order_id", order.ID)

	// Журнал пишется при любом исходе, как только заказ найден.
	defer func() {
		if logErr := p.appendLog(ctx, order.ID, n, raw); logErr != nil {
			logger.WithError(logErr).Error("failed to append payment log")
			if err == nil {
				metricResult = metrics.WebhookError
				err = fmt.Errorf("append payment log: %w", logErr)
			}
		}
	}()

	outcome := domain.MapTransaction(n.TransactionStatus, n.FraudStatus)
	if !outcome.Recognized {
		logger.WithField("fraud_status", n.FraudStatus).Warn("unrecognised transaction status, treating as pending")
	}
	result.Outcome = outcome

	now := p.now()
	tr, err := p.orders.ApplyPayment(ctx, order.ID, func(current domain.Order) domain.PaymentTransition {
		return domain.ApplyPaymentOutcome(current, outcome, n.PaymentType, now)
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply payment to order %s: %w", order.ID, err)
	}
	result.Transition = tr
	result.Order = tr.Order

	if !tr.Changed {
		metricResult = metrics.WebhookDuplicate
		logger.WithField("payment_status", tr.Order.PaymentStatus).Info("payment notification did not change order")
		return result, nil
	}
	metricResult = metrics.WebhookApplied

	logger.WithFields(log.Fields{
		"payment_status":  tr.Order.PaymentStatus,
		"previous_status": tr.PreviousPayment,
		"order_status":    tr.Order.Status,
	}).Info("payment status updated")

	if tr.DecrementStock {
		result.DecrementFailures = p.decrementStock(ctx, tr.Order, logger)
	}
	p.emit(ctx, tr, n, result.DecrementFailures)

	return result, nil
}

// decrementStock списывает остаток по каждой позиции. Ошибки не прерывают обработку:
// оплата уже зафиксирована, расхождение разбирается по логам и метрикам.
func (p *Processor) decrementStock(ctx context.Context, order domain.Order, logger *log.Entry) int {
	failures := 0
	for _, item := range order.Items {
		if err := p.products.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			failures++
			p.metrics.RecordStockDecrement(false)
			logger.WithError(err).WithFields(log.Fields{
				"product_id": item.ProductID,
				"quantity":   item.Quantity,
			}).Error("stock decrement failed")
			continue
		}
		p.metrics.RecordStockDecrement(true)
	}
	return failures
}

func (p *Processor) emit(ctx context.Context, tr domain.PaymentTransition, n domain.PaymentNotification, decrementFailures int) {
	order := tr.Order
	payload := map[string]any{
		"previous_payment_status": tr.PreviousPayment,
		"transaction_status":      n.TransactionStatus,
		"payment_type":            n.PaymentType,
	}
	p.recorder.Emit(ctx, order, events.Event{
		Type:     domain.EventOrderPaymentUpdated,
		Timeline: domain.TimelinePaymentUpdated,
		Actor:    domain.ActorGateway,
		Reason:   fmt.Sprintf("%s -> %s", tr.PreviousPayment, order.PaymentStatus),
		Payload:  payload,
	})
	if tr.DecrementStock {
		reason := "all lines"
		if decrementFailures > 0 {
			reason = fmt.Sprintf("%d of %d lines failed", decrementFailures, len(order.Items))
		}
		p.recorder.Emit(ctx, order, events.Event{
			Type:     domain.EventOrderPaid,
			Timeline: domain.TimelineStockDecremented,
			Reason:   reason,
		})
	}
	if order.Status == domain.OrderStatusCancelled && tr.PreviousStatus != domain.OrderStatusCancelled {
		p.recorder.Emit(ctx, order, events.Event{
			Type:   domain.EventOrderCancelled,
			Reason: "payment " + string(order.PaymentStatus),
		})
	}
}

func (p *Processor) appendLog(ctx context.Context, orderID string, n domain.PaymentNotification, raw []byte) error {
	if p.logs == nil {
		return nil
	}
	if len(raw) == 0 {
		encoded, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		raw = encoded
	}
	return p.logs.Append(ctx, domain.PaymentLog{
		OrderID:           orderID,
		TransactionID:     n.TransactionID,
		TransactionStatus: n.TransactionStatus,
		PaymentType:       n.PaymentType,
		FraudStatus:       n.FraudStatus,
		StatusCode:        n.StatusCode,
		RawPayload:        raw,
		CreatedAt:         p.now().UTC(),
	})
}

// Replay повторно применяет сохранённое уведомление из журнала.
// Подпись проверяется заново, поэтому подделанные записи отклоняются.
func (p *Processor) Replay(ctx context.Context, entry domain.PaymentLog) (Result, error) {
	var n domain.PaymentNotification
	if err := json.Unmarshal(entry.RawPayload, &n); err != nil {
		return Result{}, fmt.Errorf("decode payment log %s: %w", entry.ID, err)
	}
	return p.HandleNotification(ctx, n, entry.RawPayload)
}
