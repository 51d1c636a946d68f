package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// Remote хранит серверную копию корзины авторизованного пользователя.
type Remote interface {
	Load(ctx context.Context, userID string) ([]domain.CartItem, error)
	// Replace перезаписывает серверную корзину целиком.
	Replace(ctx context.Context, userID string, items []domain.CartItem) error
}

// RepositoryRemote адаптирует domain.CartRepository к Remote (используется на сервере и в тестах).
type RepositoryRemote struct {
	repo domain.CartRepository
}

// NewRepositoryRemote создаёт адаптер над хранилищем корзин.
func NewRepositoryRemote(repo domain.CartRepository) *RepositoryRemote {
	return &RepositoryRemote{repo: repo}
}

func (r *RepositoryRemote) Load(ctx context.Context, userID string) ([]domain.CartItem, error) {
	return r.repo.Load(ctx, userID)
}

func (r *RepositoryRemote) Replace(ctx context.Context, userID string, items []domain.CartItem) error {
	return r.repo.Replace(ctx, userID, Lines(items))
}

// Lines превращает позиции корзины в строки для серверного хранилища.
func Lines(items []domain.CartItem) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.CartLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// CartPath задаёт путь серверного API корзины текущего пользователя.
const CartPath = "/api/v1/me/cart"

// TokenSource возвращает bearer-токен текущего пользователя.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken возвращает TokenSource с фиксированным токеном.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// APIClient реализует Remote поверх HTTP API магазина.
// Пользователь определяется сервером по токену, userID используется только в логах.
type APIClient struct {
	baseURL    string
	token      TokenSource
	httpClient *http.Client
}

// NewAPIClient создаёт клиент API корзины. httpClient == nil означает клиент с таймаутом 10s.
func NewAPIClient(baseURL string, token TokenSource, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// CartResponse описывает тело ответа GET /api/v1/me/cart.
type CartResponse struct {
	Items []domain.CartItem `json:"items"`
}

// ReplaceCartRequest описывает тело запроса PUT /api/v1/me/cart.
type ReplaceCartRequest struct {
	Items []domain.CartLine `json:"items"`
}

func (c *APIClient) Load(ctx context.Context, userID string) ([]domain.CartItem, error) {
	var resp CartResponse
	if err := c.do(ctx, http.MethodGet, nil, &resp); err != nil {
		return nil, fmt.Errorf("load cart for %s: %w", userID, err)
	}
	return resp.Items, nil
}

func (c *APIClient) Replace(ctx context.Context, userID string, items []domain.CartItem) error {
	body, err := json.Marshal(ReplaceCartRequest{Items: Lines(items)})
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := c.do(ctx, http.MethodPut, body, nil); err != nil {
		return fmt.Errorf("replace cart for %s: %w", userID, err)
	}
	return nil
}

func (c *APIClient) do(ctx context.Context, method string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+CartPath, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return domain.ErrUnauthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
