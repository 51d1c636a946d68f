package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

type productResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Stock       int       `json:"stock"`
	CategoryID  string    `json:"category_id,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	SKU         string    `json:"sku,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		CategoryID:  p.CategoryID,
		ImageURL:    p.ImageURL,
		SKU:         p.SKU,
		IsActive:    p.IsActive,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toProductList(products []domain.Product) []productResponse {
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	return out
}

type categoryResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type orderItemResponse struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	ProductImage string `json:"product_image,omitempty"`
	ProductSKU   string `json:"product_sku,omitempty"`
	Price        int64  `json:"price"`
	Quantity     int    `json:"quantity"`
	Subtotal     int64  `json:"subtotal"`
}

type timelineResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

type orderResponse struct {
	ID            string                 `json:"id"`
	OrderNumber   string                 `json:"order_number"`
	UserID        string                 `json:"user_id"`
	Status        domain.OrderStatus     `json:"status"`
	PaymentStatus domain.PaymentStatus   `json:"payment_status"`
	PaymentMethod string                 `json:"payment_method,omitempty"`
	Items         []orderItemResponse    `json:"items"`
	Shipping      domain.ShippingDetails `json:"shipping"`
	Subtotal      int64                  `json:"subtotal"`
	Tax           int64                  `json:"tax"`
	ShippingFee   int64                  `json:"shipping_fee"`
	Total         int64                  `json:"total"`
	PaidAt        *time.Time             `json:"paid_at,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Timeline      []timelineResponse     `json:"timeline,omitempty"`
	Cancellations []cancellationResponse `json:"cancellations,omitempty"`
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			ID:           item.ID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductImage: item.ProductImage,
			ProductSKU:   item.ProductSKU,
			Price:        item.Price,
			Quantity:     item.Quantity,
			Subtotal:     item.Subtotal,
		})
	}
	return orderResponse{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		Items:         items,
		Shipping:      o.Shipping,
		Subtotal:      o.Subtotal,
		Tax:           o.Tax,
		ShippingFee:   o.ShippingFee,
		Total:         o.Total,
		PaidAt:        o.PaidAt,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

type orderSummaryResponse struct {
	ID            string               `json:"id"`
	OrderNumber   string               `json:"order_number"`
	UserID        string               `json:"user_id"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	Total         int64                `json:"total"`
	ShippingName  string               `json:"shipping_name,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

func toOrderSummary(s domain.OrderSummary) orderSummaryResponse {
	return orderSummaryResponse{
		ID:            s.ID,
		OrderNumber:   s.OrderNumber,
		UserID:        s.UserID,
		Status:        s.Status,
		PaymentStatus: s.PaymentStatus,
		Total:         s.Total,
		ShippingName:  s.ShippingName,
		CreatedAt:     s.CreatedAt,
	}
}

type cancellationResponse struct {
	ID         string                    `json:"id"`
	OrderID    string                    `json:"order_id"`
	UserID     string                    `json:"user_id"`
	Reason     string                    `json:"reason"`
	Status     domain.CancellationStatus `json:"status"`
	AdminNotes string                    `json:"admin_notes,omitempty"`
	ReviewedBy string                    `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time                `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time                 `json:"created_at"`
	Order      *orderSummaryResponse     `json:"order,omitempty"`
}

func toCancellationResponse(c domain.CancellationRequest) cancellationResponse {
	return cancellationResponse{
		ID:         c.ID,
		OrderID:    c.OrderID,
		UserID:     c.UserID,
		Reason:     c.Reason,
		Status:     c.Status,
		AdminNotes: c.AdminNotes,
		ReviewedBy: c.ReviewedBy,
		ReviewedAt: c.ReviewedAt,
		CreatedAt:  c.CreatedAt,
	}
}

type checkoutRequest struct {
	Items     []domain.CartLine      `json:"items"`
	Shipping  domain.ShippingDetails `json:"shipping"`
	ReturnURL string                 `json:"return_url"`
}

type checkoutResponse struct {
	Order   orderResponse        `json:"order"`
	Payment *domain.PaymentToken `json:"payment,omitempty"`
}

type checkoutFailureResponse struct {
	ErrorEnvelope
	Order orderResponse `json:"order"`
}

type paymentRetryRequest struct {
	ReturnURL string `json:"return_url"`
}

type cancelOrderRequest struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

type messageResponse struct {
	Message string `json:"message"`
}
