package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/gateway/midtrans"
	"github.com/vladislavdragonenkov/quickshop/internal/httpapi"
)

const (
	callScenario = "scenario"
	callCheckout = "checkout"
	callWebhook  = "webhook"
	callGetOrder = "get_order"

	tokenTTL = time.Hour
)

type loadMode string

const (
	modeCheckout        loadMode = "checkout"
	modeCheckoutWebhook loadMode = "checkout-webhook"
)

type config struct {
	baseURL     string
	total       int
	duplicates  int
	concurrency int
	timeout     time.Duration
	mode        loadMode
	productID   string
	quantity    int
	status      string
	authSecret  string
	serverKey   string
	userTag     string
	outputPath  string
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCheckout:
		return modeCheckout, nil
	case modeCheckoutWebhook:
		return modeCheckoutWebhook, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func parseConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	var (
		cfg       config
		modeValue string
	)

	env := func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "storefront base URL")
	fs.IntVar(&cfg.total, "total", 50, "number of orders to place")
	fs.IntVar(&cfg.duplicates, "duplicates", 5, "concurrent deliveries of the same webhook per order")
	fs.IntVar(&cfg.concurrency, "concurrency", 10, "number of concurrent order scenarios")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCheckoutWebhook), "load mode: checkout | checkout-webhook")
	fs.StringVar(&cfg.productID, "product", "", "product id to order (must have enough stock)")
	fs.IntVar(&cfg.quantity, "quantity", 1, "units per order")
	fs.StringVar(&cfg.status, "status", "settlement", "transaction_status sent in webhooks")
	fs.StringVar(&cfg.authSecret, "auth-secret", env("QUICKSHOP_AUTH_SECRET"), "token signing secret (fallback: QUICKSHOP_AUTH_SECRET)")
	fs.StringVar(&cfg.serverKey, "server-key", env("QUICKSHOP_MIDTRANS_SERVER_KEY"), "webhook signing key (fallback: QUICKSHOP_MIDTRANS_SERVER_KEY)")
	fs.StringVar(&cfg.userTag, "user-tag", "load", "user id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("addr is required")
	case cfg.total <= 0:
		return cfg, errors.New("total must be > 0")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case strings.TrimSpace(cfg.productID) == "":
		return cfg, errors.New("product is required")
	case cfg.authSecret == "":
		return cfg, errors.New("auth-secret is required")
	case strings.TrimSpace(cfg.userTag) == "":
		return cfg, errors.New("user-tag is required")
	}
	if cfg.mode == modeCheckoutWebhook {
		if cfg.duplicates <= 0 {
			return cfg, errors.New("duplicates must be > 0")
		}
		if cfg.serverKey == "" {
			return cfg, errors.New("server-key is required for webhook mode")
		}
	}
	return cfg, nil
}

type order struct {
	ID            string               `json:"id"`
	OrderNumber   string               `json:"order_number"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	Total         int64                `json:"total"`
}

type checkoutResult struct {
	Order order `json:"order"`
}

// runner выполняет сценарии против одного экземпляра витрины.
type runner struct {
	cfg    config
	client *http.Client
	col    *collector
}

func newRunner(cfg config, client *http.Client) *runner {
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}
	return &runner{cfg: cfg, client: client, col: newCollector()}
}

func (r *runner) run(ctx context.Context) report {
	startedAt := time.Now()
	runID := uuid.NewString()[:8]

	jobs := make(chan int, r.cfg.concurrency*2)
	var wg sync.WaitGroup
	for w := 0; w < r.cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				_ = r.runScenario(ctx, runID, index)
			}
		}()
	}

	for i := 0; i < r.cfg.total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return r.col.buildReport(startedAt, time.Since(startedAt))
}

// runScenario оформляет заказ и, в режиме webhook, доставляет одно и то же уведомление несколько раз параллельно.
func (r *runner) runScenario(ctx context.Context, runID string, index int) (err error) {
	start := time.Now()
	defer func() {
		r.col.record(callScenario, time.Since(start), http.StatusOK, err == nil)
	}()

	userID := fmt.Sprintf("%s-%s-%d", r.cfg.userTag, runID, index)
	token, err := httpapi.IssueToken(r.cfg.authSecret, userID, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	placed, err := r.checkout(ctx, token, fmt.Sprintf("lt-%s-%d", runID, index))
	if err != nil {
		return err
	}
	if r.cfg.mode == modeCheckout {
		return nil
	}

	notification := r.notification(placed.Order)
	errs := make([]error, r.cfg.duplicates)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.duplicates; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.deliverWebhook(ctx, notification)
		}(i)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	final, err := r.getOrder(ctx, token, placed.Order.ID)
	if err != nil {
		return err
	}
	want := domain.MapTransaction(r.cfg.status, notification.FraudStatus)
	if final.PaymentStatus != want.PaymentStatus {
		return fmt.Errorf("order %s: payment status %s, want %s", final.OrderNumber, final.PaymentStatus, want.PaymentStatus)
	}
	return nil
}

func (r *runner) notification(o order) domain.PaymentNotification {
	gross := fmt.Sprintf("%d.00", o.Total)
	return domain.PaymentNotification{
		OrderID:           o.OrderNumber,
		StatusCode:        "200",
		GrossAmount:       gross,
		SignatureKey:      midtrans.SignatureKey(o.OrderNumber, "200", gross, r.cfg.serverKey),
		TransactionStatus: r.cfg.status,
		FraudStatus:       "accept",
		PaymentType:       "bank_transfer",
		TransactionID:     "lt-" + o.OrderNumber,
	}
}

func (r *runner) checkout(ctx context.Context, token, key string) (checkoutResult, error) {
	body := map[string]any{
		"items": []map[string]any{{"product_id": r.cfg.productID, "quantity": r.cfg.quantity}},
		"shipping": map[string]any{
			"full_name":   "Load Test",
			"email":       "loadtest@example.com",
			"phone":       "081200000000",
			"address":     "Jl. Uji Beban 1",
			"city":        "Jakarta",
			"province":    "DKI Jakarta",
			"postal_code": "10110",
		},
	}
	var out checkoutResult
	err := r.call(ctx, callCheckout, http.MethodPost, "/api/v1/me/orders", body, map[string]string{
		"Authorization":              "Bearer " + token,
		httpapi.IdempotencyKeyHeader: key,
	}, http.StatusCreated, &out)
	return out, err
}

func (r *runner) deliverWebhook(ctx context.Context, n domain.PaymentNotification) error {
	return r.call(ctx, callWebhook, http.MethodPost, "/api/v1/payment/webhook", n, nil, http.StatusOK, nil)
}

func (r *runner) getOrder(ctx context.Context, token, id string) (order, error) {
	var out order
	err := r.call(ctx, callGetOrder, http.MethodGet, "/api/v1/me/orders/"+id, nil, map[string]string{
		"Authorization": "Bearer " + token,
	}, http.StatusOK, &out)
	return out, err
}

func (r *runner) call(ctx context.Context, name, method, path string, body any, headers map[string]string, want int, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.col.record(name, time.Since(start), statusTransportError, false)
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()
	raw, readErr := io.ReadAll(resp.Body)
	r.col.record(name, time.Since(start), resp.StatusCode, resp.StatusCode == want && readErr == nil)

	if resp.StatusCode != want {
		return fmt.Errorf("%s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if readErr != nil {
		return fmt.Errorf("%s: read body: %w", name, readErr)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode body: %w", name, err)
		}
	}
	return nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := newRunner(cfg, nil).run(context.Background())
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}
