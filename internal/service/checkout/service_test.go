package checkout

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/metrics"
	"github.com/vladislavdragonenkov/quickshop/internal/service/events"
	"github.com/vladislavdragonenkov/quickshop/internal/storage/memory"
)

type fakeGateway struct {
	mu       sync.Mutex
	err      error
	requests []domain.TokenRequest
}

func (g *fakeGateway) CreateTransaction(_ context.Context, req domain.TokenRequest) (domain.PaymentToken, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return domain.PaymentToken{}, g.err
	}
	return domain.PaymentToken{Token: "tok-" + req.OrderNumber, RedirectURL: "https://pay.example/" + req.OrderNumber}, nil
}

type fixture struct {
	svc      *Service
	orders   *memory.OrderRepository
	products *memory.ProductRepository
	carts    *memory.CartRepository
	outbox   *memory.OutboxRepository
	timeline *memory.TimelineRepository
	gateway  *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)

	f := &fixture{
		orders:   memory.NewOrderRepository(),
		products: memory.NewProductRepository(),
		outbox:   memory.NewOutboxRepository(),
		timeline: memory.NewTimelineRepository(),
		gateway:  &fakeGateway{},
	}
	f.carts = memory.NewCartRepository(f.products)

	ctx := context.Background()
	for _, p := range []domain.Product{
		{ID: "serum", Name: "Vitamin C Serum", Slug: "serum", Price: 150_000, Stock: 10, IsActive: true},
		{ID: "toner", Name: "Rose Toner", Slug: "toner", Price: 180_000, Stock: 1, IsActive: true},
		{ID: "cream", Name: "Night Cream", Slug: "cream", Price: 600_000, Stock: 5, IsActive: true},
		{ID: "retired", Name: "Old Mask", Slug: "retired", Price: 50_000, Stock: 5, IsActive: false},
	} {
		require.NoError(t, f.products.Create(ctx, p))
	}

	m := metrics.NewShopMetricsWithRegisterer(prometheus.NewRegistry())
	f.svc = NewService(f.orders, f.products, f.carts, f.gateway,
		WithLogger(entry),
		WithMetrics(m),
		WithRecorder(events.NewRecorder(f.outbox, f.timeline, m, entry)),
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }),
	)
	return f
}

func validShipping() domain.ShippingDetails {
	return domain.ShippingDetails{
		FullName:   " Siti Rahma ",
		Email:      "siti@example.com",
		Phone:      "081234567890",
		Address:    "Jl. Melati 5",
		City:       "Bandung",
		Province:   "Jawa Barat",
		PostalCode: "40111",
	}
}

func TestPlaceOrderChargesShippingBelowThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.carts.Replace(ctx, "user-1", []domain.CartLine{{ProductID: "serum", Quantity: 2}}))

	res, err := f.svc.PlaceOrder(ctx, "user-1", Request{
		Lines:     []domain.CartLine{{ProductID: "serum", Quantity: 2}, {ProductID: "toner", Quantity: 1}},
		Shipping:  validShipping(),
		ReturnURL: "https://shop.example/finish",
	})
	require.NoError(t, err)

	order := res.Order
	assert.Equal(t, int64(480_000), order.Subtotal)
	assert.Equal(t, int64(25_000), order.ShippingFee)
	assert.Equal(t, int64(505_000), order.Total)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.PaymentStatusUnpaid, order.PaymentStatus)
	assert.True(t, strings.HasPrefix(order.OrderNumber, OrderNumberPrefix))
	assert.Equal(t, "Siti Rahma", order.Shipping.FullName)
	assert.Equal(t, "tok-"+order.OrderNumber, res.Payment.Token)

	stored, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)

	require.Len(t, f.gateway.requests, 1)
	sent := f.gateway.requests[0]
	assert.Equal(t, order.Total, sent.GrossAmount)
	last := sent.LineItems[len(sent.LineItems)-1]
	assert.Equal(t, domain.ShippingLineItemID, last.ID)
	assert.Equal(t, int64(25_000), last.Price)
	assert.Equal(t, "https://shop.example/finish", sent.ReturnURL)

	cart, err := f.carts.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart, "server cart is cleared after checkout")

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventOrderCreated, pending[0].EventType)

	timeline, err := f.timeline.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, domain.TimelineOrderCreated, timeline[0].Type)
	assert.Equal(t, domain.TimelinePaymentTokenIssued, timeline[1].Type)
}

func TestPlaceOrderFreeShippingAboveThreshold(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.PlaceOrder(context.Background(), "user-1", Request{
		Lines:    []domain.CartLine{{ProductID: "cream", Quantity: 1}},
		Shipping: validShipping(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), res.Order.Subtotal)
	assert.Zero(t, res.Order.ShippingFee)
	assert.Equal(t, int64(600_000), res.Order.Total)
}

func TestPlaceOrderValidation(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		req    Request
		check  func(t *testing.T, err error)
	}{
		{
			name: "anonymous",
			req:  Request{Lines: []domain.CartLine{{ProductID: "serum", Quantity: 1}}, Shipping: validShipping()},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, domain.ErrUnauthenticated)
			},
			userID: "",
		},
		{
			name:   "empty cart",
			userID: "user-1",
			req:    Request{Shipping: validShipping()},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, domain.ErrCartEmpty)
			},
		},
		{
			name:   "bad phone",
			userID: "user-1",
			req: Request{
				Lines: []domain.CartLine{{ProductID: "serum", Quantity: 1}},
				Shipping: func() domain.ShippingDetails {
					d := validShipping()
					d.Phone = "12345"
					return d
				}(),
			},
			check: func(t *testing.T, err error) {
				var verr *domain.ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Contains(t, verr.Fields, "phone")
			},
		},
		{
			name:   "zero quantity",
			userID: "user-1",
			req:    Request{Lines: []domain.CartLine{{ProductID: "serum", Quantity: 0}}, Shipping: validShipping()},
			check: func(t *testing.T, err error) {
				require.True(t, domain.IsValidation(err))
			},
		},
		{
			name:   "inactive product",
			userID: "user-1",
			req:    Request{Lines: []domain.CartLine{{ProductID: "retired", Quantity: 1}}, Shipping: validShipping()},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, domain.ErrProductInactive)
			},
		},
		{
			name:   "unknown product",
			userID: "user-1",
			req:    Request{Lines: []domain.CartLine{{ProductID: "ghost", Quantity: 1}}, Shipping: validShipping()},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, domain.ErrProductInactive)
			},
		},
		{
			name:   "duplicated lines exceed stock",
			userID: "user-1",
			req: Request{
				Lines:    []domain.CartLine{{ProductID: "toner", Quantity: 1}, {ProductID: "toner", Quantity: 1}},
				Shipping: validShipping(),
			},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, domain.ErrInsufficientStock)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.PlaceOrder(context.Background(), tc.userID, tc.req)
			require.Error(t, err)
			tc.check(t, err)

			orders, listErr := f.orders.List(context.Background(), domain.OrderFilter{})
			require.NoError(t, listErr)
			assert.Empty(t, orders, "rejected checkout must not persist anything")
			assert.Empty(t, f.gateway.requests)
		})
	}
}

func TestPlaceOrderGatewayFailureKeepsPendingOrder(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("connection refused")

	res, err := f.svc.PlaceOrder(context.Background(), "user-1", Request{
		Lines:    []domain.CartLine{{ProductID: "serum", Quantity: 1}},
		Shipping: validShipping(),
	})
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	require.NotEmpty(t, res.Order.ID)

	stored, err := f.orders.Get(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.Equal(t, domain.PaymentStatusUnpaid, stored.PaymentStatus)

	timeline, err := f.timeline.List(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TimelinePaymentTokenFailed, timeline[len(timeline)-1].Type)
}

func TestRequestPaymentRetriesToken(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("timeout")
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, "user-1", Request{
		Lines:    []domain.CartLine{{ProductID: "serum", Quantity: 1}},
		Shipping: validShipping(),
	})
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	f.gateway.err = nil
	retry, err := f.svc.RequestPayment(ctx, "user-1", res.Order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "tok-"+res.Order.OrderNumber, retry.Payment.Token)

	_, err = f.svc.RequestPayment(ctx, "user-2", res.Order.ID, "")
	require.ErrorIs(t, err, domain.ErrOrderNotFound, "foreign orders are invisible")

	orders, err := f.orders.List(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, orders, 1, "retry must not create a new order")
}

func TestRequestPaymentRejectsPaidOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, "user-1", Request{
		Lines:    []domain.CartLine{{ProductID: "serum", Quantity: 1}},
		Shipping: validShipping(),
	})
	require.NoError(t, err)

	_, err = f.orders.ApplyPayment(ctx, res.Order.ID, func(current domain.Order) domain.PaymentTransition {
		return domain.ApplyPaymentOutcome(current, domain.MapTransaction(domain.TransactionSettlement, ""), "gopay", time.Now())
	})
	require.NoError(t, err)

	_, err = f.svc.RequestPayment(ctx, "user-1", res.Order.ID, "")
	require.ErrorIs(t, err, domain.ErrPaymentNotRequired)
}

func TestOrderNumbersAreUnique(t *testing.T) {
	f := newFixture(t)
	seen := map[string]bool{}
	now := time.Now()
	for i := 0; i < 1000; i++ {
		n := f.svc.newOrderNumber(now)
		require.False(t, seen[n], "duplicate order number %s", n)
		seen[n] = true
	}
}
