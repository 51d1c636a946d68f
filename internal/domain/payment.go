package domain

import (
	"strings"
	"time"
)

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	// PaymentStatusUnpaid — токен ещё не использован, уведомлений от шлюза не было.
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// PaymentStatusPending — шлюз принял транзакцию, но деньги ещё не подтверждены.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — деньги получены.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — платёж отклонён или отменён.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusExpired — покупатель не оплатил вовремя.
	PaymentStatusExpired PaymentStatus = "expired"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusExpired:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что статус оплаты больше не меняется.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed || s == PaymentStatusExpired
}

// Статусы транзакции, которые присылает платёжный шлюз.
const (
	TransactionCapture    = "capture"
	TransactionSettlement = "settlement"
	TransactionPending    = "pending"
	TransactionDeny       = "deny"
	TransactionCancel     = "cancel"
	TransactionExpire     = "expire"

	FraudAccept = "accept"
)

// PaymentNotification — тело webhook-уведомления платёжного шлюза.
type PaymentNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
	TransactionID     string `json:"transaction_id"`
	TransactionTime   string `json:"transaction_time,omitempty"`
}

// PaymentOutcome — пара статусов, в которую отображается уведомление.
type PaymentOutcome struct {
	PaymentStatus PaymentStatus
	OrderStatus   OrderStatus
	// Recognized равен false для статусов, которых нет в таблице соответствия.
	Recognized bool
}

// MapTransaction переводит статус транзакции шлюза в статусы заказа.
func MapTransaction(transactionStatus, fraudStatus string) PaymentOutcome {
	switch strings.ToLower(strings.TrimSpace(transactionStatus)) {
	case TransactionCapture:
		if strings.EqualFold(strings.TrimSpace(fraudStatus), FraudAccept) {
			return PaymentOutcome{PaymentStatusPaid, OrderStatusProcessing, true}
		}
		return PaymentOutcome{PaymentStatusPending, OrderStatusPending, true}
	case TransactionSettlement:
		return PaymentOutcome{PaymentStatusPaid, OrderStatusProcessing, true}
	case TransactionPending:
		return PaymentOutcome{PaymentStatusPending, OrderStatusPending, true}
	case TransactionDeny, TransactionCancel:
		return PaymentOutcome{PaymentStatusFailed, OrderStatusCancelled, true}
	case TransactionExpire:
		return PaymentOutcome{PaymentStatusExpired, OrderStatusCancelled, true}
	default:
		return PaymentOutcome{PaymentStatusPending, OrderStatusPending, false}
	}
}

// PaymentTransition — результат применения уведомления к заказу.
type PaymentTransition struct {
	Order           Order
	PreviousPayment PaymentStatus
	PreviousStatus  OrderStatus
	// Changed равен false, если заказ остался прежним (повторная доставка).
	Changed bool
	// DecrementStock выставляется ровно один раз за жизнь заказа: при первом переходе в paid.
	DecrementStock bool
}

// ApplyPaymentOutcome вычисляет новое состояние заказа.
// Терминальный статус оплаты не перезаписывается, статус заказа движется только вперёд,
// paid_at проставляется только при переходе в paid.
func ApplyPaymentOutcome(current Order, outcome PaymentOutcome, paymentType string, now time.Time) PaymentTransition {
	tr := PaymentTransition{
		Order:           current,
		PreviousPayment: current.PaymentStatus,
		PreviousStatus:  current.Status,
	}
	if current.PaymentStatus.Terminal() {
		return tr
	}

	next := current
	next.PaymentStatus = outcome.PaymentStatus
	if current.Status.CanMoveTo(outcome.OrderStatus) {
		next.Status = outcome.OrderStatus
	}
	if paymentType = strings.TrimSpace(paymentType); paymentType != "" {
		next.PaymentMethod = paymentType
	}
	if next.PaymentStatus == PaymentStatusPaid {
		paidAt := now.UTC()
		next.PaidAt = &paidAt
	}

	tr.Changed = next.PaymentStatus != current.PaymentStatus ||
		next.Status != current.Status ||
		next.PaymentMethod != current.PaymentMethod
	if !tr.Changed {
		return tr
	}
	next.UpdatedAt = now.UTC()
	tr.Order = next
	tr.DecrementStock = next.PaymentStatus == PaymentStatusPaid &&
		current.PaymentStatus != PaymentStatusPaid &&
		next.Status != OrderStatusCancelled
	return tr
}

// PaymentLog — запись аудита по каждому уведомлению шлюза. Не изменяется.
type PaymentLog struct {
	ID                string
	OrderID           string
	TransactionID     string
	TransactionStatus string
	PaymentType       string
	FraudStatus       string
	StatusCode        string
	RawPayload        []byte
	CreatedAt         time.Time
}

// PaymentToken — ответ шлюза на запрос токена.
type PaymentToken struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// TokenLineItem — позиция в запросе токена.
type TokenLineItem struct {
	ID       string
	Name     string
	Price    int64
	Quantity int
}

// TokenCustomer — контакты покупателя для шлюза.
type TokenCustomer struct {
	Name  string
	Email string
	Phone string
}

// TokenRequest — запрос платёжного токена по заказу.
type TokenRequest struct {
	OrderNumber string
	GrossAmount int64
	Customer    TokenCustomer
	LineItems   []TokenLineItem
	ReturnURL   string
}

// ShippingLineItemID — идентификатор синтетической позиции доставки.
const ShippingLineItemID = "SHIPPING"

// TokenRequestForOrder собирает запрос токена: позиции заказа плюс строка доставки.
func TokenRequestForOrder(order Order, returnURL string) TokenRequest {
	items := make([]TokenLineItem, 0, len(order.Items)+1)
	for _, item := range order.Items {
		items = append(items, TokenLineItem{
			ID:       item.ProductID,
			Name:     item.ProductName,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}
	items = append(items, TokenLineItem{
		ID:       ShippingLineItemID,
		Name:     "Shipping Fee",
		Price:    order.ShippingFee,
		Quantity: 1,
	})
	return TokenRequest{
		OrderNumber: order.OrderNumber,
		GrossAmount: order.Total,
		Customer: TokenCustomer{
			Name:  order.Shipping.FullName,
			Email: order.Shipping.Email,
			Phone: order.Shipping.Phone,
		},
		LineItems: items,
		ReturnURL: returnURL,
	}
}
