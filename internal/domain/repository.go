package domain

import (
	"context"
	"time"
)

// OrderFilter — параметры выборки заказов для админки.
type OrderFilter struct {
	Status OrderStatus
	Limit  int
}

// PaymentApplier вычисляет переход заказа по текущему состоянию, прочитанному под блокировкой.
type PaymentApplier func(current Order) PaymentTransition

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями атомарно: либо всё, либо ничего.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetByNumber ищет заказ по внешнему номеру (order_id в терминах шлюза).
	GetByNumber(ctx context.Context, orderNumber string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// List возвращает сводку по всем заказам.
	List(ctx context.Context, filter OrderFilter) ([]OrderSummary, error)
	// ApplyPayment читает заказ под блокировкой строки, вызывает apply и сохраняет результат,
	// если Changed. Конкурентные вызовы по одному заказу сериализуются.
	ApplyPayment(ctx context.Context, orderID string, apply PaymentApplier) (PaymentTransition, error)
}

// ProductRepository хранит каталог и остатки.
type ProductRepository interface {
	Create(ctx context.Context, product Product) error
	Update(ctx context.Context, product Product) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Product, error)
	GetBySlug(ctx context.Context, slug string) (Product, error)
	List(ctx context.Context, filter ProductFilter) ([]Product, error)
	// DecrementStock атомарно уменьшает остаток, только если его хватает.
	// Возвращает ErrInsufficientStock, если остаток меньше qty.
	DecrementStock(ctx context.Context, productID string, qty int) error
}

// CategoryRepository хранит разделы каталога.
type CategoryRepository interface {
	// List возвращает категории, упорядоченные по имени.
	List(ctx context.Context) ([]Category, error)
	Get(ctx context.Context, id string) (Category, error)
}

// ProfileRepository хранит роли пользователей.
type ProfileRepository interface {
	Get(ctx context.Context, userID string) (Profile, error)
	Upsert(ctx context.Context, profile Profile) error
}

// CartRepository хранит серверную копию корзины пользователя.
type CartRepository interface {
	// Load возвращает позиции корзины с актуальными данными товаров.
	Load(ctx context.Context, userID string) ([]CartItem, error)
	// Replace перезаписывает корзину пользователя целиком.
	Replace(ctx context.Context, userID string, lines []CartLine) error
	// Clear удаляет все позиции пользователя.
	Clear(ctx context.Context, userID string) error
}

// CancellationRepository хранит заявки на отмену.
type CancellationRepository interface {
	// CreatePending сохраняет новую заявку. Возвращает ErrDuplicateRequest,
	// если по заказу уже есть заявка в статусе pending.
	CreatePending(ctx context.Context, request CancellationRequest) (CancellationRequest, error)
	Get(ctx context.Context, id string) (CancellationRequest, error)
	ListByOrder(ctx context.Context, orderID string) ([]CancellationRequest, error)
	// List возвращает заявки (опционально по статусу) вместе со сводкой заказа.
	List(ctx context.Context, status CancellationStatus) ([]CancellationView, error)
	// Review фиксирует решение по pending-заявке. При одобрении в той же единице работы
	// заказ переводится в cancelled. Повторное рассмотрение даёт ErrRequestNotPending.
	Review(ctx context.Context, review CancellationReview) (CancellationRequest, error)
}

// PaymentLogRepository — append-only журнал уведомлений шлюза.
type PaymentLogRepository interface {
	Append(ctx context.Context, entry PaymentLog) error
	ListByOrder(ctx context.Context, orderID string) ([]PaymentLog, error)
}

// OutboxRepository хранит события заказов до доставки в брокер.
// Счётчик попыток живёт в хранилище, поэтому перезапуск процесса не обнуляет его.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// ClaimDue забирает до limit событий, чья очередная попытка уже наступила,
	// и откладывает их на lease, чтобы параллельный воркер их не взял.
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	// MarkRetry увеличивает счётчик попыток и назначает следующую на retryAt.
	MarkRetry(ctx context.Context, id, publishErr string, retryAt time.Time) error
	// MarkDead снимает событие с доставки, оно уходит в DLQ.
	MarkDead(ctx context.Context, id, publishErr string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
