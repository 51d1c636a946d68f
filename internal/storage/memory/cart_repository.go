package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// CartRepository хранит серверные корзины; данные товара берутся из каталога при чтении.
type CartRepository struct {
	mu       sync.RWMutex
	lines    map[string][]domain.CartLine
	products domain.ProductRepository
}

// NewCartRepository создаёт репозиторий корзин поверх каталога.
func NewCartRepository(products domain.ProductRepository) *CartRepository {
	return &CartRepository{
		lines:    make(map[string][]domain.CartLine),
		products: products,
	}
}

// Load возвращает позиции с актуальной ценой и остатком. Удалённые товары пропускаются.
func (r *CartRepository) Load(ctx context.Context, userID string) ([]domain.CartItem, error) {
	r.mu.RLock()
	lines := append([]domain.CartLine(nil), r.lines[userID]...)
	r.mu.RUnlock()

	items := make([]domain.CartItem, 0, len(lines))
	for _, line := range lines {
		product, err := r.products.Get(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				continue
			}
			return nil, err
		}
		items = append(items, domain.CartItem{
			ProductID: product.ID,
			Name:      product.Name,
			Slug:      product.Slug,
			Price:     product.Price,
			Quantity:  line.Quantity,
			Image:     product.ImageURL,
			Stock:     product.Stock,
			Category:  product.CategoryID,
		})
	}
	return items, nil
}

// Replace перезаписывает корзину пользователя.
func (r *CartRepository) Replace(_ context.Context, userID string, lines []domain.CartLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(lines) == 0 {
		delete(r.lines, userID)
		return nil
	}
	r.lines[userID] = append([]domain.CartLine(nil), lines...)
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	return r.Replace(ctx, userID, nil)
}

var _ domain.CartRepository = (*CartRepository)(nil)
