package cart

import "github.com/vladislavdragonenkov/quickshop/internal/domain"

// Merge сливает гостевую корзину в серверную.
//
// Порядок серверных позиций сохраняется, новые гостевые позиции дописываются в конец.
// Для совпадающих товаров количество равно min(серверное+гостевое, остаток из гостевой позиции),
// остаток позиции берётся из гостевого снимка.
func Merge(remote, guest []domain.CartItem) []domain.CartItem {
	merged := make([]domain.CartItem, 0, len(remote)+len(guest))
	index := make(map[string]int, len(remote)+len(guest))

	for _, item := range remote {
		if item.ProductID == "" || item.Quantity < 1 {
			continue
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}

	for _, g := range guest {
		if g.ProductID == "" || g.Quantity < 1 {
			continue
		}
		i, ok := index[g.ProductID]
		if !ok {
			index[g.ProductID] = len(merged)
			merged = append(merged, g)
			continue
		}
		merged[i].Quantity = min(merged[i].Quantity+g.Quantity, g.Stock)
		merged[i].Stock = g.Stock
	}

	if len(merged) == 0 {
		return nil
	}
	return merged
}
