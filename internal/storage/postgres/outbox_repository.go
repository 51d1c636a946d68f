package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

type outboxRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB(), now: time.Now}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = r.now().UTC()
	msg.Attempts = 0
	msg.LastError = ""

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempts, available_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$6,$6)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, msg.CreatedAt); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue order event: %w", err)
	}
	return msg, nil
}

// ClaimDue сдвигает available_at захваченных строк на lease одним запросом.
// SKIP LOCKED не даёт двум воркерам взять одно событие.
func (r *outboxRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	now := r.now().UTC()

	rows, err := r.db.QueryContext(ctx, `
		WITH due AS (
			SELECT id FROM outbox
			WHERE status = 'pending' AND available_at <= $1
			ORDER BY created_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox o
		SET available_at = $3, updated_at = $1
		FROM due
		WHERE o.id = due.id
		RETURNING o.id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload,
		          o.attempts, o.last_error, o.created_at
	`, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claim order events: %w", err)
	}
	defer rows.Close()

	claimed := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(
			&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload,
			&msg.Attempts, &msg.LastError, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		claimed = append(claimed, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order events: %w", err)
	}

	// RETURNING не сохраняет порядок подзапроса.
	sortOutboxByCreated(claimed)
	return claimed, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			MIN(created_at) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'dead')
		FROM outbox
	`).Scan(&stats.PendingCount, &oldest, &stats.DeadCount); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.exec(ctx, "mark order event sent", `
		UPDATE outbox SET status = 'sent', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, r.now().UTC())
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id, publishErr string, retryAt time.Time) error {
	return r.exec(ctx, "schedule order event retry", `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $2, available_at = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'
	`, id, publishErr, retryAt.UTC(), r.now().UTC())
}

func (r *outboxRepository) MarkDead(ctx context.Context, id, publishErr string) error {
	return r.exec(ctx, "mark order event dead", `
		UPDATE outbox
		SET status = 'dead', attempts = attempts + 1, last_error = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, publishErr, r.now().UTC())
}

func (r *outboxRepository) exec(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.ErrOutboxMessageNotFound
	}
	return nil
}

func sortOutboxByCreated(msgs []domain.OutboxMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
