package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrOutOfStock возвращается, если в корзине уже лежит весь доступный сток товара.
	ErrOutOfStock = errors.New("product is out of stock")
	// ErrInsufficientStock возвращается, если запрошено больше единиц, чем есть на складе.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCartEmpty — попытка оформить заказ с пустой корзиной.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrUnauthenticated — операция требует авторизованного пользователя.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden — у пользователя нет прав на операцию.
	ErrForbidden = errors.New("forbidden")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists — конфликт по id или order_number при создании.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrInvalidState — операция недопустима в текущем статусе заказа.
	ErrInvalidState = errors.New("invalid order state")
	// ErrItemQtyInvalid — количество в позиции должно быть больше нуля.
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// ErrItemPriceInvalid — цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// ErrAmountMismatch — суммы заказа не сходятся с позициями.
	ErrAmountMismatch = errors.New("order amounts do not match items")
	// ErrPaymentNotRequired — заказ уже оплачен или закрыт, новый токен не нужен.
	ErrPaymentNotRequired = errors.New("order does not accept payment")

	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductInactive — товар снят с продажи.
	ErrProductInactive = errors.New("product is not active")
	// ErrSlugTaken — slug товара уже занят.
	ErrSlugTaken = errors.New("product slug already taken")
	// ErrCategoryNotFound возвращается, если категория не найдена.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrProfileNotFound возвращается, если у пользователя нет профиля.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrCancellationNotFound возвращается, если заявка на отмену не найдена.
	ErrCancellationNotFound = errors.New("cancellation request not found")
	// ErrDuplicateRequest — по заказу уже есть заявка на отмену в статусе pending.
	ErrDuplicateRequest = errors.New("duplicate pending cancellation request")
	// ErrRequestNotPending — заявка уже рассмотрена.
	ErrRequestNotPending = errors.New("cancellation request is not pending")

	// ErrInvalidSignature — подпись уведомления платёжного шлюза не совпала.
	ErrInvalidSignature = errors.New("invalid notification signature")
	// ErrGatewayUnavailable — платёжный шлюз не выдал токен.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ повторно использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxMessageNotFound — событие outbox не найдено.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
)

// ValidationError описывает ошибки пользовательского ввода по полям.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError создаёт пустую ошибку валидации.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add фиксирует проблему с полем.
func (e *ValidationError) Add(field, problem string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = problem
}

// Empty сообщает, что замечаний нет.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// Err возвращает nil, если замечаний нет.
func (e *ValidationError) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range sortedKeys(e.Fields) {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsValidation проверяет, что ошибка относится к пользовательскому вводу.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsConflict проверяет, что операция отклонена из-за конфликта состояния.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrRequestNotPending) ||
		errors.Is(err, ErrSlugTaken) ||
		errors.Is(err, ErrProductInactive) ||
		errors.Is(err, ErrOrderAlreadyExists)
}

// IsNotFound объединяет все ошибки отсутствующих сущностей.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrCategoryNotFound) ||
		errors.Is(err, ErrCancellationNotFound)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
