package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// PaymentLogRepository — append-only журнал уведомлений в памяти.
type PaymentLogRepository struct {
	mu      sync.RWMutex
	entries []domain.PaymentLog
}

// NewPaymentLogRepository создаёт пустой журнал.
func NewPaymentLogRepository() *PaymentLogRepository {
	return &PaymentLogRepository{}
}

func (r *PaymentLogRepository) Append(_ context.Context, entry domain.PaymentLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.RawPayload = append([]byte(nil), entry.RawPayload...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

// ListByOrder возвращает записи заказа в порядке поступления.
func (r *PaymentLogRepository) ListByOrder(_ context.Context, orderID string) ([]domain.PaymentLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PaymentLog, 0)
	for _, entry := range r.entries {
		if entry.OrderID == orderID {
			result = append(result, entry)
		}
	}
	return result, nil
}

var _ domain.PaymentLogRepository = (*PaymentLogRepository)(nil)
