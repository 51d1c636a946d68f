package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// ErrCircuitOpen возвращается, пока breaker не пропускает запросы к шлюзу.
var ErrCircuitOpen = errors.New("payment gateway circuit is open")

// CircuitState описывает состояние breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig задаёт порог срабатывания и время до пробного запроса.
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// CircuitBreaker оборачивает платёжный шлюз и перестаёт вызывать его
// после серии отказов. Ошибки валидации и отмена контекста отказами не считаются.
type CircuitBreaker struct {
	next   domain.PaymentGateway
	cfg    BreakerConfig
	logger *log.Entry
	now    func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	probing     bool
}

// NewCircuitBreaker создаёт breaker поверх шлюза.
func NewCircuitBreaker(next domain.PaymentGateway, cfg BreakerConfig, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.New().WithField("component", "gateway-breaker")
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		next:   next,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CreateTransaction реализует domain.PaymentGateway.
func (cb *CircuitBreaker) CreateTransaction(ctx context.Context, req domain.TokenRequest) (domain.PaymentToken, error) {
	if err := cb.acquire(req.OrderNumber); err != nil {
		return domain.PaymentToken{}, err
	}

	token, err := cb.next.CreateTransaction(ctx, req)
	cb.release(req.OrderNumber, err)
	return token, err
}

func (cb *CircuitBreaker) acquire(orderNumber string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cfg.ResetTimeout {
			return fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, ErrCircuitOpen)
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("order_number", orderNumber).Info("payment gateway circuit half-open")
	case CircuitHalfOpen:
		// Пока идёт пробный запрос, остальные получают отказ.
		if cb.probing {
			return fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, ErrCircuitOpen)
		}
	}
	if cb.state == CircuitHalfOpen {
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) release(orderNumber string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false

	if err != nil && errors.Is(err, domain.ErrGatewayUnavailable) {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithFields(log.Fields{
					"order_number": orderNumber,
					"failures":     cb.failures,
				}).Warn("payment gateway circuit opened")
			}
			cb.state = CircuitOpen
		}
		return
	}
	if err != nil {
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.logger.WithField("order_number", orderNumber).Info("payment gateway circuit closed")
	}
	cb.state = CircuitClosed
	cb.failures = 0
}
