package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
// История хранится в order_timeline и удаляется вместе с заказом.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	if event.Actor == "" {
		event.Actor = domain.ActorSystem
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_timeline (order_id, type, order_status, payment_status, actor, reason, occurred)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, event.OrderID, event.Type, string(event.OrderStatus), string(event.PaymentStatus),
		event.Actor, event.Reason, event.Occurred.UTC())
	if err != nil {
		if hasPgCode(err, foreignKeyViolation) {
			return fmt.Errorf("append order timeline %s: %w", event.OrderID, domain.ErrOrderNotFound)
		}
		return fmt.Errorf("append order timeline: %w", err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, type, order_status, payment_status, actor, reason, occurred
		FROM order_timeline
		WHERE order_id = $1
		ORDER BY occurred ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order timeline: %w", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var (
			event         domain.TimelineEvent
			orderStatus   string
			paymentStatus string
		)
		if err := rows.Scan(&event.OrderID, &event.Type, &orderStatus, &paymentStatus,
			&event.Actor, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan order timeline: %w", err)
		}
		event.OrderStatus = domain.OrderStatus(orderStatus)
		event.PaymentStatus = domain.PaymentStatus(paymentStatus)
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order timeline: %w", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
