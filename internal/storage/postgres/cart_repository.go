package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

// Load возвращает позиции корзины вместе с текущими данными товаров.
func (r *cartRepository) Load(ctx context.Context, userID string) ([]domain.CartItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.slug, p.price, c.quantity, p.image_url, p.stock, COALESCE(p.category_id, '')
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.position ASC, c.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CartItem, 0)
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(
			&item.ProductID, &item.Name, &item.Slug, &item.Price, &item.Quantity,
			&item.Image, &item.Stock, &item.Category,
		); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return items, nil
}

// Replace удаляет старые позиции и вставляет новые в одной транзакции.
func (r *cartRepository) Replace(ctx context.Context, userID string, lines []domain.CartLine) (err error) {
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

	if _, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	for i, line := range lines {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO cart_items (user_id, product_id, quantity, position)
			VALUES ($1,$2,$3,$4)
		`, userID, line.ProductID, line.Quantity, i); err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit cart replace: %w", err)
	}
	return nil
}

func (r *cartRepository) Clear(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
