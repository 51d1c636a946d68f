package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

type paymentLogRepository struct {
	db *sql.DB
}

// NewPaymentLogRepository создаёт PostgreSQL-реализацию PaymentLogRepository.
func NewPaymentLogRepository(store *Store) domain.PaymentLogRepository {
	return &paymentLogRepository{db: store.DB()}
}

func (r *paymentLogRepository) Append(ctx context.Context, entry domain.PaymentLog) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	raw := entry.RawPayload
	if !json.Valid(raw) {
		// raw_response имеет тип JSONB, невалидное тело сохраняем строкой.
		quoted, err := json.Marshal(string(raw))
		if err != nil {
			return fmt.Errorf("encode raw payload: %w", err)
		}
		raw = quoted
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_logs (
			id, order_id, transaction_id, transaction_status, payment_type,
			fraud_status, status_code, raw_response, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		entry.ID, entry.OrderID, entry.TransactionID, entry.TransactionStatus, entry.PaymentType,
		entry.FraudStatus, entry.StatusCode, string(raw), entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("append payment log: %w", err)
	}
	return nil
}

func (r *paymentLogRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentLog, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, transaction_id, transaction_status, payment_type,
		       fraud_status, status_code, raw_response::text, created_at
		FROM payment_logs
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payment logs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PaymentLog, 0)
	for rows.Next() {
		var (
			entry domain.PaymentLog
			raw   string
		)
		if err := rows.Scan(
			&entry.ID, &entry.OrderID, &entry.TransactionID, &entry.TransactionStatus, &entry.PaymentType,
			&entry.FraudStatus, &entry.StatusCode, &raw, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment log: %w", err)
		}
		entry.RawPayload = []byte(raw)
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment logs: %w", err)
	}
	return result, nil
}

var _ domain.PaymentLogRepository = (*paymentLogRepository)(nil)
