package domain

import "time"

// LowStockThreshold — ниже этого остатка товар попадает в отчёт админки.
const LowStockThreshold = 10

// Product — карточка товара каталога.
type Product struct {
	ID          string
	Name        string
	Slug        string
	Description string
	Price       int64
	Stock       int
	CategoryID  string
	ImageURL    string
	SKU         string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Category — раздел каталога.
type Category struct {
	ID   string
	Name string
	Slug string
}

// ProductFilter — параметры выборки каталога.
type ProductFilter struct {
	CategoryID string
	ActiveOnly bool
	// MaxStock > 0 ограничивает выборку товарами с остатком меньше значения.
	MaxStock int
	Limit    int
}

// Role определяет права пользователя.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Profile — запись пользователя с ролью.
type Profile struct {
	UserID   string
	FullName string
	Role     Role
}
