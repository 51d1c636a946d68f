package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/gateway/midtrans"
	"github.com/vladislavdragonenkov/quickshop/internal/service/payment"
	"github.com/vladislavdragonenkov/quickshop/internal/storage/memory"
)

const testServerKey = "SB-Mid-server-replay"

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestReadConfig(t *testing.T) {
	cfg, err := readConfig([]string{"-orders= QS-1, ,QS-2 "}, lookupFrom(map[string]string{
		envPostgresDSN: "postgres://localhost/shop",
		envServerKey:   "key",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"QS-1", "QS-2"}, cfg.orders)
	assert.False(t, cfg.execute, "dry-run by default")

	cfg, err = readConfig([]string{"-orders=QS-1", "-execute", "-dsn=postgres://flag", "-server-key=flag"}, lookupFrom(nil))
	require.NoError(t, err)
	assert.True(t, cfg.execute)
	assert.Equal(t, "postgres://flag", cfg.dsn)
}

func TestReadConfig_Errors(t *testing.T) {
	env := lookupFrom(map[string]string{envPostgresDSN: "postgres://x", envServerKey: "key"})

	_, err := readConfig(nil, env)
	require.ErrorContains(t, err, "order number")

	_, err = readConfig([]string{"-orders=QS-1"}, lookupFrom(map[string]string{envServerKey: "key"}))
	require.ErrorContains(t, err, envPostgresDSN)

	_, err = readConfig([]string{"-orders=QS-1"}, lookupFrom(map[string]string{envPostgresDSN: "postgres://x"}))
	require.ErrorContains(t, err, envServerKey)

	_, err = readConfig([]string{"-bogus"}, env)
	require.Error(t, err)
}

type replayEnv struct {
	orders   *memory.OrderRepository
	products *memory.ProductRepository
	logs     *memory.PaymentLogRepository
	out      *bytes.Buffer
	replayer *replayer
}

func newReplayEnv(t *testing.T) *replayEnv {
	t.Helper()
	ctx := context.Background()

	orders := memory.NewOrderRepository()
	products := memory.NewProductRepository()
	logs := memory.NewPaymentLogRepository()
	require.NoError(t, products.Create(ctx, domain.Product{ID: "mask", Name: "Sheet Mask", Slug: "sheet-mask", Price: 50_000, Stock: 5, IsActive: true}))
	require.NoError(t, orders.Create(ctx, domain.Order{
		ID:            "order-1",
		UserID:        "user-1",
		OrderNumber:   "QS-1",
		Items:         []domain.OrderItem{{ID: "item-1", ProductID: "mask", ProductName: "Sheet Mask", Price: 50_000, Quantity: 2, Subtotal: 100_000}},
		Subtotal:      100_000,
		ShippingFee:   25_000,
		Total:         125_000,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     time.Now().UTC(),
	}))

	logger := log.New()
	logger.SetOutput(io.Discard)
	out := &bytes.Buffer{}
	return &replayEnv{
		orders:   orders,
		products: products,
		logs:     logs,
		out:      out,
		replayer: &replayer{
			orders:    orders,
			logs:      logs,
			processor: payment.NewProcessor(orders, products, logs, testServerKey, payment.WithLogger(log.NewEntry(logger))),
			serverKey: testServerKey,
			out:       out,
			now:       time.Now,
		},
	}
}

func (e *replayEnv) appendLog(t *testing.T, id, status, key string) {
	t.Helper()
	n := domain.PaymentNotification{
		OrderID:           "QS-1",
		StatusCode:        "200",
		GrossAmount:       "125000.00",
		SignatureKey:      midtrans.SignatureKey("QS-1", "200", "125000.00", key),
		TransactionStatus: status,
		FraudStatus:       "accept",
		PaymentType:       "bank_transfer",
		TransactionID:     "tx-1",
	}
	raw, err := json.Marshal(n)
	require.NoError(t, err)
	require.NoError(t, e.logs.Append(context.Background(), domain.PaymentLog{
		ID:                id,
		OrderID:           "order-1",
		TransactionID:     n.TransactionID,
		TransactionStatus: status,
		RawPayload:        raw,
	}))
}

func TestReplayDryRunChangesNothing(t *testing.T) {
	env := newReplayEnv(t)
	env.appendLog(t, "log-1", "pending", testServerKey)
	env.appendLog(t, "log-2", "settlement", testServerKey)
	env.appendLog(t, "log-3", "settlement", "forged-key")

	summary, err := env.replayer.replayOrder(context.Background(), "QS-1", false)
	require.NoError(t, err)
	assert.Equal(t, replaySummary{entries: 3, applied: 2, changed: 2, rejected: 1}, summary)
	assert.Contains(t, env.out.String(), "payment=paid status=processing changed=true decrement=true (dry-run)")
	assert.Contains(t, env.out.String(), "signature mismatch")

	order, err := env.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	product, err := env.products.Get(context.Background(), "mask")
	require.NoError(t, err)
	assert.Equal(t, 5, product.Stock)
}

func TestReplayExecuteIsIdempotent(t *testing.T) {
	env := newReplayEnv(t)
	env.appendLog(t, "log-1", "settlement", testServerKey)
	env.appendLog(t, "log-2", "settlement", testServerKey)

	summary, err := env.replayer.replayOrder(context.Background(), "QS-1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.applied)
	assert.Equal(t, 1, summary.changed, "the duplicate notification changes nothing")

	summary, err = env.replayer.replayOrder(context.Background(), "QS-1", true)
	require.NoError(t, err)
	assert.Zero(t, summary.changed)

	order, err := env.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)

	product, err := env.products.Get(context.Background(), "mask")
	require.NoError(t, err)
	assert.Equal(t, 3, product.Stock, "stock drops once")
}

func TestReplayUnknownOrder(t *testing.T) {
	env := newReplayEnv(t)
	_, err := env.replayer.replayOrder(context.Background(), "QS-404", false)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestRunAgainstPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("QUICKSHOP_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("QUICKSHOP_POSTGRES_TEST_DSN is not set")
	}

	var out bytes.Buffer
	err := run(context.Background(), config{dsn: dsn, serverKey: testServerKey, orders: []string{"QS-missing"}}, &out)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}
