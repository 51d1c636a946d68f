package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// StubGateway реализует конфигурируемую заглушку платёжного шлюза для локального запуска и тестов.
// Выдаёт детерминированный токен по номеру заказа.
type StubGateway struct {
	mu sync.Mutex

	RedirectBase string
	Err          error

	Calls    int
	Requests []domain.TokenRequest
}

// NewStubGateway возвращает заглушку с успешным сценарием по умолчанию.
func NewStubGateway(redirectBase string) *StubGateway {
	return &StubGateway{RedirectBase: redirectBase}
}

// CreateTransaction возвращает заранее настроенный результат и запоминает запрос.
func (g *StubGateway) CreateTransaction(_ context.Context, req domain.TokenRequest) (domain.PaymentToken, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Calls++
	g.Requests = append(g.Requests, req)
	if g.Err != nil {
		return domain.PaymentToken{}, g.Err
	}
	token := "stub-" + req.OrderNumber
	return domain.PaymentToken{
		Token:       token,
		RedirectURL: fmt.Sprintf("%s/%s", g.RedirectBase, token),
	}, nil
}

// SetErr задаёт ошибку для следующих вызовов.
func (g *StubGateway) SetErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Err = err
}

var _ domain.PaymentGateway = (*StubGateway)(nil)
