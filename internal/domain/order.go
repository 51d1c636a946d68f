package domain

import (
	"regexp"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа в магазине.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid — оплата подтверждена, заказ ещё не передан в обработку.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusProcessing — заказ собирается на складе.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ получен клиентом.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — терминальный статус отмены.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// rank задаёт порядок статусов: переходы допускаются только вперёд.
func (s OrderStatus) rank() int {
	switch s {
	case OrderStatusPending:
		return 0
	case OrderStatusPaid:
		return 1
	case OrderStatusProcessing:
		return 2
	case OrderStatusShipped:
		return 3
	case OrderStatusDelivered:
		return 4
	default:
		return -1
	}
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Cancellable сообщает, можно ли запросить отмену заказа в этом статусе.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing:
		return true
	default:
		return false
	}
}

// CanMoveTo проверяет допустимость перехода. Отмена доступна только из ранних статусов.
func (s OrderStatus) CanMoveTo(next OrderStatus) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return s.Cancellable()
	}
	return next.rank() > s.rank()
}

// OrderItem — неизменяемый снимок товара на момент оформления заказа.
type OrderItem struct {
	ID           string
	ProductID    string
	ProductName  string
	ProductImage string
	ProductSKU   string
	Price        int64
	Quantity     int
	Subtotal     int64
}

// ShippingDetails — снимок адреса и контактов покупателя.
type ShippingDetails struct {
	FullName   string `json:"full_name" yaml:"full_name"`
	Email      string `json:"email" yaml:"email"`
	Phone      string `json:"phone" yaml:"phone"`
	Address    string `json:"address" yaml:"address"`
	City       string `json:"city" yaml:"city"`
	Province   string `json:"province" yaml:"province"`
	PostalCode string `json:"postal_code" yaml:"postal_code"`
	Notes      string `json:"notes,omitempty" yaml:"notes"`
}

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// Индонезийский номер: +62, 62 или ведущий 0 и ещё 9–12 цифр.
	phonePattern = regexp.MustCompile(`^(\+62|62|0)[0-9]{9,12}$`)
)

// Normalize обрезает пробелы во всех полях.
func (d ShippingDetails) Normalize() ShippingDetails {
	return ShippingDetails{
		FullName:   strings.TrimSpace(d.FullName),
		Email:      strings.TrimSpace(d.Email),
		Phone:      strings.TrimSpace(d.Phone),
		Address:    strings.TrimSpace(d.Address),
		City:       strings.TrimSpace(d.City),
		Province:   strings.TrimSpace(d.Province),
		PostalCode: strings.TrimSpace(d.PostalCode),
		Notes:      strings.TrimSpace(d.Notes),
	}
}

// Validate проверяет обязательные поля, email и телефон.
func (d ShippingDetails) Validate() error {
	verr := NewValidationError()
	required := []struct {
		field string
		value string
	}{
		{"full_name", d.FullName},
		{"email", d.Email},
		{"phone", d.Phone},
		{"address", d.Address},
		{"city", d.City},
		{"province", d.Province},
		{"postal_code", d.PostalCode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			verr.Add(r.field, "is required")
		}
	}
	if _, missing := verr.Fields["email"]; !missing && !emailPattern.MatchString(strings.TrimSpace(d.Email)) {
		verr.Add("email", "is not a valid email address")
	}
	if _, missing := verr.Fields["phone"]; !missing && !phonePattern.MatchString(strings.TrimSpace(d.Phone)) {
		verr.Add("phone", "is not a valid phone number")
	}
	return verr.Err()
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID            string
	UserID        string
	OrderNumber   string
	Items         []OrderItem
	Shipping      ShippingDetails
	Subtotal      int64
	Tax           int64
	ShippingFee   int64
	Total         int64
	Status        OrderStatus
	PaymentStatus PaymentStatus
	PaymentMethod string
	PaidAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderSummary — облегчённое представление заказа для списков.
type OrderSummary struct {
	ID            string
	OrderNumber   string
	UserID        string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Total         int64
	ShippingName  string
	CreatedAt     time.Time
}

// Summary строит облегчённое представление заказа.
func (o Order) Summary() OrderSummary {
	return OrderSummary{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total,
		ShippingName:  o.Shipping.FullName,
		CreatedAt:     o.CreatedAt,
	}
}

// AwaitingPayment сообщает, что по заказу ещё можно запросить платёжный токен.
func (o Order) AwaitingPayment() bool {
	return o.Status == OrderStatusPending &&
		(o.PaymentStatus == PaymentStatusUnpaid || o.PaymentStatus == PaymentStatusPending)
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUnauthenticated)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrCartEmpty)
	}

	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.Subtotal != item.Price*int64(item.Quantity) {
			errs = append(errs, ErrAmountMismatch)
		}
		calc += item.Subtotal
	}
	if calc != o.Subtotal || o.Subtotal+o.ShippingFee+o.Tax != o.Total {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// PricingRule — правило расчёта доставки: фиксированная ставка ниже порога, бесплатно от порога.
type PricingRule struct {
	FreeShippingThreshold int64 `yaml:"free_shipping_threshold"`
	ShippingFee           int64 `yaml:"shipping_fee"`
}

// DefaultPricingRule — текущие значения магазина в рупиях.
func DefaultPricingRule() PricingRule {
	return PricingRule{FreeShippingThreshold: 500_000, ShippingFee: 25_000}
}

// Quote — результат расчёта стоимости заказа.
type Quote struct {
	Subtotal    int64
	ShippingFee int64
	Total       int64
}

// Quote считает доставку и итог по сумме позиций.
func (r PricingRule) Quote(subtotal int64) Quote {
	fee := r.ShippingFee
	if subtotal >= r.FreeShippingThreshold {
		fee = 0
	}
	return Quote{Subtotal: subtotal, ShippingFee: fee, Total: subtotal + fee}
}
