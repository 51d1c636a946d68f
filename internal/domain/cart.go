package domain

// CartItem — позиция корзины. Stock — остаток, известный на момент добавления или последней синхронизации.
type CartItem struct {
	ProductID string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Image     string `json:"image,omitempty"`
	Stock     int    `json:"stock"`
	Category  string `json:"category,omitempty"`
}

// Extension возвращает стоимость позиции.
func (i CartItem) Extension() int64 {
	return i.Price * int64(i.Quantity)
}

// CartLine — строка корзины, сохранённая на сервере (товар и количество).
type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
