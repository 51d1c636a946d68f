package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// OrderRepository — простая in-memory реализация domain.OrderRepository.
type OrderRepository struct {
	mu       sync.RWMutex
	items    map[string]domain.Order
	byNumber map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		items:    make(map[string]domain.Order),
		byNumber: make(map[string]string),
	}
}

// Create сохраняет заказ вместе с позициями, если ID и номер ещё не заняты.
func (r *OrderRepository) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	if _, exists := r.byNumber[order.OrderNumber]; exists {
		return domain.ErrOrderAlreadyExists
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	r.byNumber[order.OrderNumber] = order.ID
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *OrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetByNumber ищет заказ по внешнему номеру.
func (r *OrderRepository) GetByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	r.mu.RLock()
	id, ok := r.byNumber[orderNumber]
	r.mu.RUnlock()
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

// ListByUser возвращает заказы пользователя, ограничивая выборку limit (если >0).
func (r *OrderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.UserID != userID {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	sortNewestFirst(result)

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// List возвращает сводку по всем заказам с фильтром по статусу.
func (r *OrderRepository) List(_ context.Context, filter domain.OrderFilter) ([]domain.OrderSummary, error) {
	r.mu.RLock()
	orders := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		orders = append(orders, order)
	}
	r.mu.RUnlock()

	sortNewestFirst(orders)
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}

	result := make([]domain.OrderSummary, 0, len(orders))
	for _, order := range orders {
		result = append(result, order.Summary())
	}
	return result, nil
}

// ApplyPayment выполняет apply под эксклюзивной блокировкой репозитория.
func (r *OrderRepository) ApplyPayment(_ context.Context, orderID string, apply domain.PaymentApplier) (domain.PaymentTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[orderID]
	if !ok {
		return domain.PaymentTransition{}, domain.ErrOrderNotFound
	}

	tr := apply(cloneOrder(current))
	if tr.Changed {
		r.items[orderID] = cloneOrder(tr.Order)
	}
	return tr, nil
}

// forceCancel переводит заказ в cancelled независимо от оплаты. Вызывается при одобрении отмены.
func (r *OrderRepository) forceCancel(orderID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = at
	r.items[orderID] = order
	return nil
}

func (r *OrderRepository) summary(orderID string) (domain.OrderSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[orderID]
	if !ok {
		return domain.OrderSummary{}, false
	}
	return order.Summary(), true
}

func sortNewestFirst(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	if order.PaidAt != nil {
		paidAt := *order.PaidAt
		order.PaidAt = &paidAt
	}
	return order
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
