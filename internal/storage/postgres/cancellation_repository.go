package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

const cancellationColumns = `id, order_id, user_id, reason, status, admin_notes, reviewed_by, reviewed_at, created_at`

type cancellationRepository struct {
	db *sql.DB
}

// NewCancellationRepository создаёт PostgreSQL-реализацию CancellationRepository.
func NewCancellationRepository(store *Store) domain.CancellationRepository {
	return &cancellationRepository{db: store.DB()}
}

// CreatePending опирается на частичный уникальный индекс uq_order_cancellations_pending.
func (r *cancellationRepository) CreatePending(ctx context.Context, req domain.CancellationRequest) (domain.CancellationRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.Status = domain.CancellationPending

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_cancellations (id, order_id, user_id, reason, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, req.ID, req.OrderID, req.UserID, req.Reason, string(req.Status), req.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.CancellationRequest{}, domain.ErrDuplicateRequest
		}
		return domain.CancellationRequest{}, fmt.Errorf("insert cancellation request: %w", err)
	}
	return req, nil
}

func (r *cancellationRepository) Get(ctx context.Context, id string) (domain.CancellationRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return getCancellation(ctx, r.db, id, false)
}

func (r *cancellationRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.CancellationRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+cancellationColumns+`
		FROM order_cancellations
		WHERE order_id = $1
		ORDER BY created_at DESC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list cancellations by order: %w", err)
	}
	defer rows.Close()

	result := make([]domain.CancellationRequest, 0)
	for rows.Next() {
		req, err := scanCancellation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cancellation: %w", err)
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cancellations: %w", err)
	}
	return result, nil
}

func (r *cancellationRepository) List(ctx context.Context, status domain.CancellationStatus) ([]domain.CancellationView, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.order_id, c.user_id, c.reason, c.status, c.admin_notes, c.reviewed_by, c.reviewed_at, c.created_at,
		       o.order_number, o.status, o.payment_status, o.total, o.shipping_name, o.created_at
		FROM order_cancellations c
		JOIN orders o ON o.id = c.order_id
		WHERE ($1 = '' OR c.status = $1)
		ORDER BY c.created_at DESC, c.id ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list cancellations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.CancellationView, 0)
	for rows.Next() {
		var (
			v             domain.CancellationView
			reqStatus     string
			reviewedAt    sql.NullTime
			orderStatus   string
			paymentStatus string
		)
		if err := rows.Scan(
			&v.Request.ID, &v.Request.OrderID, &v.Request.UserID, &v.Request.Reason, &reqStatus,
			&v.Request.AdminNotes, &v.Request.ReviewedBy, &reviewedAt, &v.Request.CreatedAt,
			&v.Order.OrderNumber, &orderStatus, &paymentStatus, &v.Order.Total, &v.Order.ShippingName, &v.Order.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cancellation view: %w", err)
		}
		v.Request.Status = domain.CancellationStatus(reqStatus)
		if reviewedAt.Valid {
			t := reviewedAt.Time.UTC()
			v.Request.ReviewedAt = &t
		}
		v.Order.ID = v.Request.OrderID
		v.Order.UserID = v.Request.UserID
		v.Order.Status = domain.OrderStatus(orderStatus)
		v.Order.PaymentStatus = domain.PaymentStatus(paymentStatus)
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cancellation views: %w", err)
	}
	return result, nil
}

// Review выполняет решение по заявке в одной транзакции: условный UPDATE заявки
// (status = 'pending') и, при одобрении, отмену заказа.
func (r *cancellationRepository) Review(ctx context.Context, review domain.CancellationReview) (req domain.CancellationRequest, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.CancellationRequest{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	req, err = getCancellation(ctx, tx, review.RequestID, true)
	if err != nil {
		return domain.CancellationRequest{}, err
	}
	if req.Status != domain.CancellationPending {
		err = domain.ErrRequestNotPending
		return domain.CancellationRequest{}, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE order_cancellations
		SET status = $2,
		    admin_notes = $3,
		    reviewed_by = $4,
		    reviewed_at = $5
		WHERE id = $1
		  AND status = 'pending'
	`, req.ID, string(review.Decision), review.AdminNotes, review.ReviewedBy, review.ReviewedAt)
	if err != nil {
		return domain.CancellationRequest{}, fmt.Errorf("update cancellation: %w", err)
	}
	if err = expectAffected(res, domain.ErrRequestNotPending); err != nil {
		return domain.CancellationRequest{}, err
	}

	if review.Decision == domain.CancellationApproved {
		res, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2,
			    updated_at = $3
			WHERE id = $1
		`, req.OrderID, string(domain.OrderStatusCancelled), review.ReviewedAt)
		if err != nil {
			return domain.CancellationRequest{}, fmt.Errorf("cancel order: %w", err)
		}
		if err = expectAffected(res, domain.ErrOrderNotFound); err != nil {
			return domain.CancellationRequest{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.CancellationRequest{}, fmt.Errorf("commit review: %w", err)
	}

	reviewedAt := review.ReviewedAt.UTC()
	req.Status = review.Decision
	req.AdminNotes = review.AdminNotes
	req.ReviewedBy = review.ReviewedBy
	req.ReviewedAt = &reviewedAt
	return req, nil
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getCancellation(ctx context.Context, q rowQueryer, id string, forUpdate bool) (domain.CancellationRequest, error) {
	query := `SELECT ` + cancellationColumns + ` FROM order_cancellations WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	req, err := scanCancellation(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CancellationRequest{}, domain.ErrCancellationNotFound
		}
		return domain.CancellationRequest{}, fmt.Errorf("select cancellation: %w", err)
	}
	return req, nil
}

func scanCancellation(row rowScanner) (domain.CancellationRequest, error) {
	var (
		req        domain.CancellationRequest
		status     string
		reviewedAt sql.NullTime
	)
	if err := row.Scan(
		&req.ID, &req.OrderID, &req.UserID, &req.Reason, &status,
		&req.AdminNotes, &req.ReviewedBy, &reviewedAt, &req.CreatedAt,
	); err != nil {
		return domain.CancellationRequest{}, err
	}
	req.Status = domain.CancellationStatus(status)
	if reviewedAt.Valid {
		t := reviewedAt.Time.UTC()
		req.ReviewedAt = &t
	}
	return req, nil
}

var _ domain.CancellationRepository = (*cancellationRepository)(nil)
