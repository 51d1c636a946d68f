package domain

import "time"

// Типы событий в истории заказа.
const (
	TimelineOrderCreated          = "order_created"
	TimelinePaymentTokenIssued    = "payment_token_issued"
	TimelinePaymentTokenFailed    = "payment_token_failed"
	TimelinePaymentUpdated        = "payment_updated"
	TimelineStockDecremented      = "stock_decremented"
	TimelineCancellationRequested = "cancellation_requested"
	TimelineCancellationApproved  = "cancellation_approved"
	TimelineCancellationRejected  = "cancellation_rejected"
)

// Инициаторы событий, не связанные с пользователем.
const (
	ActorSystem  = "system"
	ActorGateway = "payment_gateway"
)

// TimelineEvent описывает событие в жизненном цикле заказа вместе со статусами,
// в которых заказ остался после него.
type TimelineEvent struct {
	OrderID       string
	Type          string
	OrderStatus   OrderStatus
	PaymentStatus PaymentStatus
	// Actor: id пользователя или администратора, либо ActorSystem/ActorGateway.
	Actor    string
	Reason   string
	Occurred time.Time
}
