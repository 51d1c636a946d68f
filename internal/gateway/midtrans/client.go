// Package midtrans содержит клиент Snap API платёжного шлюза Midtrans.
package midtrans

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/version"
)

const (
	SandboxBaseURL    = "https://app.sandbox.midtrans.com"
	ProductionBaseURL = "https://app.midtrans.com"

	transactionsPath = "/snap/v1/transactions"
	defaultTimeout   = 15 * time.Second
)

// Config задаёт параметры клиента.
type Config struct {
	ServerKey  string
	Production bool
	// BaseURL переопределяет адрес API (используется в тестах и для прокси).
	BaseURL string
	Timeout time.Duration
}

// Client выдаёт Snap-токены для заказов.
type Client struct {
	serverKey  string
	endpoint   string
	httpClient *http.Client
	logger     *log.Entry
}

// NewClient создаёт клиент. httpClient == nil означает клиент с таймаутом из cfg.
func NewClient(cfg Config, httpClient *http.Client, logger *log.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.ServerKey) == "" {
		return nil, errors.New("midtrans server key is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = SandboxBaseURL
		if cfg.Production {
			base = ProductionBaseURL
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = log.WithField("component", "midtrans")
	}
	return &Client{
		serverKey:  cfg.ServerKey,
		endpoint:   base + transactionsPath,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type customerDetails struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type itemDetail struct {
	ID       string `json:"id"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Name     string `json:"name"`
}

type callbacks struct {
	Finish string `json:"finish"`
}

type snapRequest struct {
	TransactionDetails transactionDetails `json:"transaction_details"`
	CustomerDetails    customerDetails    `json:"customer_details"`
	ItemDetails        []itemDetail       `json:"item_details"`
	Callbacks          *callbacks         `json:"callbacks,omitempty"`
}

type snapError struct {
	ErrorMessages []string `json:"error_messages"`
}

// maxItemNameLength задаёт ограничение Snap API на длину имени позиции.
const maxItemNameLength = 50

func buildRequest(req domain.TokenRequest) snapRequest {
	items := make([]itemDetail, 0, len(req.LineItems))
	for _, line := range req.LineItems {
		name := line.Name
		if r := []rune(name); len(r) > maxItemNameLength {
			name = string(r[:maxItemNameLength])
		}
		items = append(items, itemDetail{ID: line.ID, Price: line.Price, Quantity: line.Quantity, Name: name})
	}
	body := snapRequest{
		TransactionDetails: transactionDetails{OrderID: req.OrderNumber, GrossAmount: req.GrossAmount},
		CustomerDetails: customerDetails{
			FirstName: req.Customer.Name,
			Email:     req.Customer.Email,
			Phone:     req.Customer.Phone,
		},
		ItemDetails: items,
	}
	if req.ReturnURL != "" {
		body.Callbacks = &callbacks{Finish: req.ReturnURL}
	}
	return body
}

// CreateTransaction запрашивает Snap-токен. Любая ошибка транспорта или ответ не 2xx
// оборачивает domain.ErrGatewayUnavailable.
func (c *Client) CreateTransaction(ctx context.Context, req domain.TokenRequest) (domain.PaymentToken, error) {
	payload, err := json.Marshal(buildRequest(req))
	if err != nil {
		return domain.PaymentToken{}, fmt.Errorf("encode snap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.PaymentToken{}, fmt.Errorf("build snap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.serverKey+":")))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.PaymentToken{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PaymentToken{}, fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}

	logger := c.logger.WithFields(log.Fields{
		"order_number": req.OrderNumber,
		"status":       resp.StatusCode,
		"duration":     time.Since(start).String(),
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var snapErr snapError
		_ = json.Unmarshal(body, &snapErr)
		message := strings.Join(snapErr.ErrorMessages, "; ")
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		logger.WithField("gateway_error", message).Warn("snap transaction rejected")
		return domain.PaymentToken{}, fmt.Errorf("%w: status %d: %s", domain.ErrGatewayUnavailable, resp.StatusCode, message)
	}

	var token domain.PaymentToken
	if err := json.Unmarshal(body, &token); err != nil {
		return domain.PaymentToken{}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayUnavailable, err)
	}
	if token.Token == "" {
		return domain.PaymentToken{}, fmt.Errorf("%w: empty token in response", domain.ErrGatewayUnavailable)
	}

	logger.Debug("snap token issued")
	return token, nil
}
