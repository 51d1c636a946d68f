package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

const orderColumns = `
	id, user_id, order_number, subtotal, tax, shipping_fee, total,
	status, payment_status, payment_method, paid_at,
	shipping_name, shipping_email, shipping_phone, shipping_address,
	shipping_city, shipping_province, shipping_postal_code, notes,
	created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Create пишет заказ и позиции в одной транзакции.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
		order.ID, order.UserID, order.OrderNumber,
		order.Subtotal, order.Tax, order.ShippingFee, order.Total,
		string(order.Status), string(order.PaymentStatus), order.PaymentMethod, nullTime(order.PaidAt),
		order.Shipping.FullName, order.Shipping.Email, order.Shipping.Phone, order.Shipping.Address,
		order.Shipping.City, order.Shipping.Province, order.Shipping.PostalCode, order.Shipping.Notes,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, product_name, product_image, product_sku,
				price, quantity, subtotal, position
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			item.ID, order.ID, item.ProductID, item.ProductName, item.ProductImage, item.ProductSKU,
			item.Price, item.Quantity, item.Subtotal, i,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r *orderRepository) GetByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.getBy(ctx, "order_number", orderNumber)
}

func (r *orderRepository) getBy(ctx context.Context, column, value string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := loadItems(ctx, r.db, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", userID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		items, err := loadItems(ctx, r.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_number, user_id, status, payment_status, total, shipping_name, created_at
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list order summaries: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrderSummary, 0)
	for rows.Next() {
		var (
			s             domain.OrderSummary
			status        string
			paymentStatus string
		)
		if err := rows.Scan(&s.ID, &s.OrderNumber, &s.UserID, &status, &paymentStatus, &s.Total, &s.ShippingName, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order summary: %w", err)
		}
		s.Status = domain.OrderStatus(status)
		s.PaymentStatus = domain.PaymentStatus(paymentStatus)
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order summaries: %w", err)
	}

	return result, nil
}

// ApplyPayment блокирует строку заказа (SELECT ... FOR UPDATE), вычисляет переход и
// записывает его условным UPDATE. Повторные и конкурентные уведомления видят уже
// сохранённый статус оплаты.
func (r *orderRepository) ApplyPayment(ctx context.Context, orderID string, apply domain.PaymentApplier) (tr domain.PaymentTransition, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PaymentTransition{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	current, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentTransition{}, domain.ErrOrderNotFound
		}
		return domain.PaymentTransition{}, fmt.Errorf("lock order: %w", err)
	}
	items, err := loadItems(ctx, tx, current.ID)
	if err != nil {
		return domain.PaymentTransition{}, err
	}
	current.Items = items

	tr = apply(current)
	if !tr.Changed {
		err = tx.Commit()
		if err != nil {
			return domain.PaymentTransition{}, fmt.Errorf("commit payment noop: %w", err)
		}
		return tr, nil
	}

	next := tr.Order
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    payment_method = $3,
		    paid_at = $4,
		    updated_at = $5
		WHERE id = $6
		  AND payment_status = $7
	`,
		string(next.Status),
		string(next.PaymentStatus),
		next.PaymentMethod,
		nullTime(next.PaidAt),
		next.UpdatedAt,
		orderID,
		string(current.PaymentStatus),
	)
	if err != nil {
		return domain.PaymentTransition{}, fmt.Errorf("update order payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.PaymentTransition{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		err = fmt.Errorf("order %s payment status changed concurrently", orderID)
		return domain.PaymentTransition{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.PaymentTransition{}, fmt.Errorf("commit payment update: %w", err)
	}

	return tr, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		paymentStatus string
		paidAt        sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.UserID, &order.OrderNumber,
		&order.Subtotal, &order.Tax, &order.ShippingFee, &order.Total,
		&status, &paymentStatus, &order.PaymentMethod, &paidAt,
		&order.Shipping.FullName, &order.Shipping.Email, &order.Shipping.Phone, &order.Shipping.Address,
		&order.Shipping.City, &order.Shipping.Province, &order.Shipping.PostalCode, &order.Shipping.Notes,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		order.PaidAt = &t
	}
	return order, nil
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, product_name, product_image, product_sku, price, quantity, subtotal
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.ProductName, &item.ProductImage, &item.ProductSKU,
			&item.Price, &item.Quantity, &item.Subtotal,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	return hasPgCode(err, uniqueViolation)
}

func hasPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

var _ domain.OrderRepository = (*orderRepository)(nil)
