package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

type scriptedGateway struct {
	calls int
	errs  []error
}

func (g *scriptedGateway) CreateTransaction(_ context.Context, req domain.TokenRequest) (domain.PaymentToken, error) {
	idx := g.calls
	g.calls++
	if idx < len(g.errs) && g.errs[idx] != nil {
		return domain.PaymentToken{}, g.errs[idx]
	}
	return domain.PaymentToken{Token: "tok-" + req.OrderNumber}, nil
}

func unavailable(n int) error {
	return fmt.Errorf("%w: attempt %d", domain.ErrGatewayUnavailable, n)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	next := &scriptedGateway{errs: []error{unavailable(1), unavailable(2)}}
	cb := NewCircuitBreaker(next, BreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cb.CreateTransaction(ctx, domain.TokenRequest{OrderNumber: "QS-1"})
		require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	}
	require.Equal(t, CircuitOpen, cb.State())

	_, err := cb.CreateTransaction(ctx, domain.TokenRequest{OrderNumber: "QS-1"})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	require.Equal(t, 2, next.calls, "open circuit must not reach the gateway")
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	next := &scriptedGateway{errs: []error{unavailable(1), unavailable(2)}}
	cb := NewCircuitBreaker(next, BreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Second}, nil)
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := cb.CreateTransaction(ctx, domain.TokenRequest{OrderNumber: "QS-1"})
	require.Error(t, err)
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(11 * time.Second)
	_, err = cb.CreateTransaction(ctx, domain.TokenRequest{OrderNumber: "QS-2"})
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	require.NotErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, CircuitOpen, cb.State(), "failed probe reopens the circuit")

	now = now.Add(11 * time.Second)
	token, err := cb.CreateTransaction(ctx, domain.TokenRequest{OrderNumber: "QS-3"})
	require.NoError(t, err)
	require.Equal(t, "tok-QS-3", token.Token)
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerIgnoresNonGatewayErrors(t *testing.T) {
	next := &scriptedGateway{errs: []error{context.Canceled, errors.New("bad request"), context.Canceled}}
	cb := NewCircuitBreaker(next, BreakerConfig{MaxFailures: 1}, nil)

	for i := 0; i < 3; i++ {
		_, err := cb.CreateTransaction(context.Background(), domain.TokenRequest{OrderNumber: "QS-1"})
		require.Error(t, err)
	}
	require.Equal(t, CircuitClosed, cb.State())
	require.Equal(t, 3, next.calls)
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	next := &scriptedGateway{errs: []error{unavailable(1), nil, unavailable(3)}}
	cb := NewCircuitBreaker(next, BreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute}, nil)

	for i := 0; i < 3; i++ {
		_, _ = cb.CreateTransaction(context.Background(), domain.TokenRequest{OrderNumber: "QS-1"})
	}
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitStateString(t *testing.T) {
	require.Equal(t, "closed", CircuitClosed.String())
	require.Equal(t, "open", CircuitOpen.String())
	require.Equal(t, "half-open", CircuitHalfOpen.String())
}
