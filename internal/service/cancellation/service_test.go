package cancellation

import (
	"context"
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

type fixture struct {
	orders   *memory.OrderRepository
	requests *memory.CancellationRepository
	outbox   *memory.OutboxRepository
	timeline *memory.TimelineRepository
	service  *Service
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)

	f := &fixture{
		orders:   memory.NewOrderRepository(),
		outbox:   memory.NewOutboxRepository(),
		timeline: memory.NewTimelineRepository(),
		now:      time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC),
	}
	f.requests = memory.NewCancellationRepository(f.orders)
	m := metrics.NewShopMetricsWithRegisterer(prometheus.NewRegistry())
	f.service = NewService(f.orders, f.requests,
		WithLogger(entry),
		WithMetrics(m),
		WithRecorder(events.NewRecorder(f.outbox, f.timeline, m, entry)),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) seedOrder(t *testing.T, id, userID string, status domain.OrderStatus) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:          id,
		UserID:      userID,
		OrderNumber: "ORD-" + id,
		Items: []domain.OrderItem{
			{ID: id + "-1", ProductID: "serum", ProductName: "Serum", Price: 150_000, Quantity: 1, Subtotal: 150_000},
		},
		Subtotal:      150_000,
		ShippingFee:   25_000,
		Total:         175_000,
		Status:        status,
		PaymentStatus: domain.PaymentStatusPaid,
		CreatedAt:     f.now.Add(-time.Hour),
		UpdatedAt:     f.now.Add(-time.Hour),
	}
	require.NoError(t, f.orders.Create(context.Background(), order))
	return order
}

func TestRequestDependsOnOrderStatus(t *testing.T) {
	tests := []struct {
		status  domain.OrderStatus
		wantErr error
	}{
		{domain.OrderStatusPending, nil},
		{domain.OrderStatusPaid, nil},
		{domain.OrderStatusProcessing, nil},
		{domain.OrderStatusShipped, domain.ErrInvalidState},
		{domain.OrderStatusDelivered, domain.ErrInvalidState},
		{domain.OrderStatusCancelled, domain.ErrInvalidState},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			f := newFixture(t)
			order := f.seedOrder(t, "o-1", "user-1", tc.status)

			req, err := f.service.Request(context.Background(), "user-1", order.ID, "changed my mind")
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				views, listErr := f.service.List(context.Background(), "")
				require.NoError(t, listErr)
				assert.Empty(t, views)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.CancellationPending, req.Status)
			assert.Equal(t, "changed my mind", req.Reason)
			assert.Equal(t, f.now, req.CreatedAt)
		})
	}
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, "o-1", "user-1", domain.OrderStatusProcessing)
	ctx := context.Background()

	_, err := f.service.Request(ctx, "user-1", order.ID, "   ")
	require.True(t, domain.IsValidation(err))

	_, err = f.service.Request(ctx, "user-1", order.ID, "<b></b>")
	require.True(t, domain.IsValidation(err), "markup-only reason is empty after sanitising")

	_, err = f.service.Request(ctx, "user-1", order.ID, strings.Repeat("a", MaxTextLength+1))
	require.True(t, domain.IsValidation(err))

	_, err = f.service.Request(ctx, "", order.ID, "reason")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = f.service.Request(ctx, "user-2", order.ID, "reason")
	require.ErrorIs(t, err, domain.ErrOrderNotFound, "foreign order looks missing")

	_, err = f.service.Request(ctx, "user-1", "missing", "reason")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestRequestSanitisesReason(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, "o-1", "user-1", domain.OrderStatusPaid)

	req, err := f.service.Request(context.Background(), "user-1", order.ID, `<script>alert(1)</script>Wrong shade & size`)
	require.NoError(t, err)
	assert.Equal(t, "Wrong shade & size", req.Reason)
}

func TestDuplicatePendingRequestIsRejected(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, "o-1", "user-1", domain.OrderStatusProcessing)
	ctx := context.Background()

	_, err := f.service.Request(ctx, "user-1", order.ID, "first")
	require.NoError(t, err)
	_, err = f.service.Request(ctx, "user-1", order.ID, "second")
	require.ErrorIs(t, err, domain.ErrDuplicateRequest)
}

func TestConcurrentRequestsCreateOnePending(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, "o-1", "user-1", domain.OrderStatusProcessing)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Request(context.Background(), "user-1", order.ID, "please"); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestApproveCancelsOrderOnce(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, "o-1", "user-1", domain.OrderStatusProcessing)
	ctx := context.Background()

	req, err := f.service.Request(ctx, "user-1", order.ID, "ordered twice")
	require.NoError(t, err)

	approved, err := f.service.Approve(ctx, "admin-1", req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.CancellationApproved, approved.Status)
	assert.Equal(t, "admin-1", approved.ReviewedBy)
	require.NotNil(t, approved.ReviewedAt)
	assert.Equal(t, f.now, *approved.ReviewedAt)

	stored, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus, "no automatic refund")

	_, err = f.service.Approve(ctx, "admin-1", req.ID, "")
	require.ErrorIs(t, err, domain.ErrRequestNotPending)
	_, err = f.service.Reject(ctx, "admin-1", req.ID, "too late")
	require.ErrorIs(t, err, domain.ErrRequestNotPending)

	var types []string
	for _, msg := range f.outbox.AllPending() {
		types = append(types, msg.EventType)
	}
	assert.ElementsMatch(t, []string{
		domain.EventCancellationRequested,
		domain.EventCancellationReviewed,
		domain.EventOrderCancelled,
	}, types)

	timeline, err := f.timeline.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, domain.TimelineCancellationRequested, timeline[0].Type)
	assert.Equal(t, "user-1", timeline[0].Actor)
	assert.Equal(t, domain.TimelineCancellationApproved, timeline[1].Type)
	assert.Equal(t, "admin-1", timeline[1].Actor)
	assert.Equal(t, domain.OrderStatusCancelled, timeline[1].OrderStatus)
}

func TestRejectRequiresNotesAndLeavesOrder(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, "o-1", "user-1", domain.OrderStatusPaid)
	ctx := context.Background()

	req, err := f.service.Request(ctx, "user-1", order.ID, "found cheaper")
	require.NoError(t, err)

	_, err = f.service.Reject(ctx, "admin-1", req.ID, " ")
	require.True(t, domain.IsValidation(err))

	rejected, err := f.service.Reject(ctx, "admin-1", req.ID, "already packed")
	require.NoError(t, err)
	assert.Equal(t, domain.CancellationRejected, rejected.Status)
	assert.Equal(t, "already packed", rejected.AdminNotes)

	stored, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, stored.Status)

	// После отказа можно подать новую заявку.
	_, err = f.service.Request(ctx, "user-1", order.ID, "please reconsider")
	require.NoError(t, err)
}

func TestReviewUnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Approve(context.Background(), "admin-1", "missing", "")
	require.ErrorIs(t, err, domain.ErrCancellationNotFound)

	_, err = f.service.Approve(context.Background(), "", "missing", "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.seedOrder(t, "o-1", "user-1", domain.OrderStatusPaid)
	second := f.seedOrder(t, "o-2", "user-2", domain.OrderStatusPaid)

	r1, err := f.service.Request(ctx, "user-1", first.ID, "one")
	require.NoError(t, err)
	f.now = f.now.Add(time.Minute)
	_, err = f.service.Request(ctx, "user-2", second.ID, "two")
	require.NoError(t, err)
	_, err = f.service.Reject(ctx, "admin-1", r1.ID, "no")
	require.NoError(t, err)

	all, err := f.service.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].Request.OrderID, "newest first")
	assert.Equal(t, second.OrderNumber, all[0].Order.OrderNumber)

	pending, err := f.service.List(ctx, domain.CancellationPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "two", pending[0].Request.Reason)

	_, err = f.service.List(ctx, "bogus")
	require.True(t, domain.IsValidation(err))
}
