// Package checkout оформляет заказ из корзины и выдаёт платёжный токен.
package checkout

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/metrics"
	"github.com/vladislavdragonenkov/quickshop/internal/service/events"
)

// OrderNumberPrefix задаёт префикс внешнего номера заказа.
const OrderNumberPrefix = "ORD-"

// Request содержит данные оформления заказа.
type Request struct {
	Lines     []domain.CartLine
	Shipping  domain.ShippingDetails
	ReturnURL string
}

// Result содержит созданный заказ и платёжный токен.
type Result struct {
	Order   domain.Order
	Payment domain.PaymentToken
}

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.ShopMetrics
	Recorder *events.Recorder
	Tracer   trace.Tracer
	Pricing  domain.PricingRule
	Now      func() time.Time
}

// Option настраивает Service.
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

// WithPricing задаёт правило расчёта доставки.
func WithPricing(rule domain.PricingRule) Option {
	return func(opts *Options) { opts.Pricing = rule }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// Service оформляет заказы.
type Service struct {
	orders   domain.OrderRepository
	products domain.ProductRepository
	carts    domain.CartRepository
	gateway  domain.PaymentGateway

	pricing  domain.PricingRule
	recorder *events.Recorder
	metrics  *metrics.ShopMetrics
	tracer   trace.Tracer
	logger   *log.Entry
	now      func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewService создаёт сервис оформления. carts может быть nil, тогда серверная корзина не очищается.
func NewService(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	carts domain.CartRepository,
	gateway domain.PaymentGateway,
	options ...Option,
) *Service {
	opts := Options{Pricing: domain.DefaultPricingRule()}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "checkout")
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("quickshop/checkout")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		orders:   orders,
		products: products,
		carts:    carts,
		gateway:  gateway,
		pricing:  opts.Pricing,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		logger:   opts.Logger,
		now:      opts.Now,
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
}

// PlaceOrder проверяет запрос, пересчитывает цены по каталогу, сохраняет заказ
// с позициями и запрашивает платёжный токен.
//
// Если шлюз не выдал токен, заказ остаётся в pending/unpaid, а ошибка оборачивает
// domain.ErrGatewayUnavailable; Result.Order при этом заполнен.
func (s *Service) PlaceOrder(ctx context.Context, userID string, req Request) (result Result, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.PlaceOrder",
		trace.WithAttributes(attribute.Int("checkout.lines", len(req.Lines))),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if userID == "" {
		s.metrics.RecordCheckout(metrics.CheckoutRejected)
		return Result{}, domain.ErrUnauthenticated
	}

	order, err := s.buildOrder(ctx, userID, req)
	if err != nil {
		s.metrics.RecordCheckout(metrics.CheckoutRejected)
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("order.number", order.OrderNumber),
		attribute.Int64("order.total", order.Total),
	)

	if err := s.orders.Create(ctx, order); err != nil {
		return Result{}, fmt.Errorf("save order: %w", err)
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"user_id":      userID,
	})
	logger.WithField("total", order.Total).Info("order created")
	s.recorder.Emit(ctx, order, events.Event{
		Type:     domain.EventOrderCreated,
		Timeline: domain.TimelineOrderCreated,
		Actor:    userID,
		Payload:  map[string]any{"items": len(order.Items), "shipping_fee": order.ShippingFee},
		Occurred: order.CreatedAt,
	})

	if s.carts != nil {
		if err := s.carts.Clear(ctx, userID); err != nil {
			logger.WithError(err).Warn("failed to clear server cart after checkout")
		}
	}

	token, err := s.requestToken(ctx, order, req.ReturnURL)
	if err != nil {
		s.metrics.RecordCheckout(metrics.CheckoutGatewayUnavailable)
		logger.WithError(err).Warn("payment token request failed, order left unpaid")
		return Result{Order: order}, err
	}

	s.metrics.RecordCheckout(metrics.CheckoutCreated)
	return Result{Order: order, Payment: token}, nil
}

// RequestPayment повторно запрашивает токен для собственного неоплаченного заказа.
func (s *Service) RequestPayment(ctx context.Context, userID, orderID, returnURL string) (result Result, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.RequestPayment",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if userID == "" {
		return Result{}, domain.ErrUnauthenticated
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if order.UserID != userID {
		return Result{}, domain.ErrOrderNotFound
	}
	if !order.AwaitingPayment() {
		return Result{Order: order}, domain.ErrPaymentNotRequired
	}

	token, err := s.requestToken(ctx, order, returnURL)
	if err != nil {
		return Result{Order: order}, err
	}
	return Result{Order: order, Payment: token}, nil
}

func (s *Service) requestToken(ctx context.Context, order domain.Order, returnURL string) (domain.PaymentToken, error) {
	if s.gateway == nil {
		return domain.PaymentToken{}, fmt.Errorf("%w: gateway is not configured", domain.ErrGatewayUnavailable)
	}
	token, err := s.gateway.CreateTransaction(ctx, domain.TokenRequestForOrder(order, returnURL))
	if err != nil {
		s.recorder.Emit(ctx, order, events.Event{Timeline: domain.TimelinePaymentTokenFailed, Reason: err.Error()})
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		return domain.PaymentToken{}, err
	}
	s.recorder.Emit(ctx, order, events.Event{Timeline: domain.TimelinePaymentTokenIssued})
	return token, nil
}

// buildOrder валидирует запрос и собирает заказ по актуальным данным каталога.
func (s *Service) buildOrder(ctx context.Context, userID string, req Request) (domain.Order, error) {
	lines, err := normalizeLines(req.Lines)
	if err != nil {
		return domain.Order{}, err
	}
	shipping := req.Shipping.Normalize()
	if err := shipping.Validate(); err != nil {
		return domain.Order{}, err
	}

	items := make([]domain.OrderItem, 0, len(lines))
	var subtotal int64
	for _, line := range lines {
		product, err := s.products.Get(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return domain.Order{}, fmt.Errorf("product %s: %w", line.ProductID, domain.ErrProductInactive)
			}
			return domain.Order{}, fmt.Errorf("load product %s: %w", line.ProductID, err)
		}
		if !product.IsActive {
			return domain.Order{}, fmt.Errorf("product %s: %w", product.Name, domain.ErrProductInactive)
		}
		if line.Quantity > product.Stock {
			return domain.Order{}, fmt.Errorf("product %s (%d left): %w", product.Name, product.Stock, domain.ErrInsufficientStock)
		}

		lineTotal := product.Price * int64(line.Quantity)
		items = append(items, domain.OrderItem{
			ID:           uuid.NewString(),
			ProductID:    product.ID,
			ProductName:  product.Name,
			ProductImage: product.ImageURL,
			ProductSKU:   product.SKU,
			Price:        product.Price,
			Quantity:     line.Quantity,
			Subtotal:     lineTotal,
		})
		subtotal += lineTotal
	}

	quote := s.pricing.Quote(subtotal)
	now := s.now().UTC()
	order := domain.Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		OrderNumber:   s.newOrderNumber(now),
		Items:         items,
		Shipping:      shipping,
		Subtotal:      quote.Subtotal,
		ShippingFee:   quote.ShippingFee,
		Total:         quote.Total,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("order invariants: %w", errors.Join(errs...))
	}
	return order, nil
}

// newOrderNumber выдаёт ORD-<ULID>: номера уникальны и сортируются по времени.
func (s *Service) newOrderNumber(now time.Time) string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return OrderNumberPrefix + ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

// normalizeLines проверяет количества и объединяет повторяющиеся товары.
func normalizeLines(lines []domain.CartLine) ([]domain.CartLine, error) {
	if len(lines) == 0 {
		return nil, domain.ErrCartEmpty
	}
	verr := domain.NewValidationError()
	out := make([]domain.CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for i, line := range lines {
		if line.ProductID == "" {
			verr.Add(fmt.Sprintf("items[%d].product_id", i), "is required")
			continue
		}
		if line.Quantity < 1 {
			verr.Add(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
			continue
		}
		if j, ok := index[line.ProductID]; ok {
			out[j].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
