package domain

import "time"

// CancellationStatus описывает состояние заявки на отмену.
type CancellationStatus string

const (
	// CancellationPending — заявка ждёт решения администратора.
	CancellationPending CancellationStatus = "pending"
	// CancellationApproved — заявка одобрена, заказ отменён.
	CancellationApproved CancellationStatus = "approved"
	// CancellationRejected — заявка отклонена, заказ не тронут.
	CancellationRejected CancellationStatus = "rejected"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s CancellationStatus) Valid() bool {
	switch s {
	case CancellationPending, CancellationApproved, CancellationRejected:
		return true
	default:
		return false
	}
}

// CancellationRequest — заявка покупателя на отмену заказа.
type CancellationRequest struct {
	ID         string
	OrderID    string
	UserID     string
	Reason     string
	Status     CancellationStatus
	AdminNotes string
	ReviewedBy string
	ReviewedAt *time.Time
	CreatedAt  time.Time
}

// CancellationReview — решение администратора по заявке.
type CancellationReview struct {
	RequestID  string
	Decision   CancellationStatus
	AdminNotes string
	ReviewedBy string
	ReviewedAt time.Time
}

// CancellationView — заявка вместе с краткой информацией о заказе (для админки).
type CancellationView struct {
	Request CancellationRequest
	Order   OrderSummary
}
