package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// ProductRepository хранит каталог в памяти.
type ProductRepository struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository создаёт пустой каталог.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{items: make(map[string]domain.Product)}
}

func (r *ProductRepository) Create(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[product.ID]; exists {
		return fmt.Errorf("product %s already exists", product.ID)
	}
	if r.slugTakenLocked(product.Slug, product.ID) {
		return domain.ErrSlugTaken
	}
	r.items[product.ID] = product
	return nil
}

func (r *ProductRepository) Update(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[product.ID]; !ok {
		return domain.ErrProductNotFound
	}
	if r.slugTakenLocked(product.Slug, product.ID) {
		return domain.ErrSlugTaken
	}
	r.items[product.ID] = product
	return nil
}

func (r *ProductRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return domain.ErrProductNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *ProductRepository) Get(_ context.Context, id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *ProductRepository) GetBySlug(_ context.Context, slug string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, product := range r.items {
		if product.Slug == slug {
			return product, nil
		}
	}
	return domain.Product{}, domain.ErrProductNotFound
}

// List возвращает товары по фильтру, новые первыми.
func (r *ProductRepository) List(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	r.mu.RLock()
	result := make([]domain.Product, 0, len(r.items))
	for _, product := range r.items {
		if filter.ActiveOnly && !product.IsActive {
			continue
		}
		if filter.CategoryID != "" && product.CategoryID != filter.CategoryID {
			continue
		}
		if filter.MaxStock > 0 && product.Stock >= filter.MaxStock {
			continue
		}
		result = append(result, product)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// DecrementStock уменьшает остаток под блокировкой, если его хватает.
func (r *ProductRepository) DecrementStock(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if product.Stock < qty {
		return domain.ErrInsufficientStock
	}
	product.Stock -= qty
	r.items[productID] = product
	return nil
}

func (r *ProductRepository) slugTakenLocked(slug, exceptID string) bool {
	for id, product := range r.items {
		if id != exceptID && product.Slug == slug {
			return true
		}
	}
	return false
}

var _ domain.ProductRepository = (*ProductRepository)(nil)

// CategoryRepository хранит категории в памяти.
type CategoryRepository struct {
	mu    sync.RWMutex
	items map[string]domain.Category
}

// NewCategoryRepository создаёт репозиторий с начальным набором категорий.
func NewCategoryRepository(seed ...domain.Category) *CategoryRepository {
	repo := &CategoryRepository{items: make(map[string]domain.Category, len(seed))}
	for _, c := range seed {
		repo.items[c.ID] = c
	}
	return repo
}

func (r *CategoryRepository) List(_ context.Context) ([]domain.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Category, 0, len(r.items))
	for _, c := range r.items {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *CategoryRepository) Get(_ context.Context, id string) (domain.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.items[id]
	if !ok {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	return c, nil
}

var _ domain.CategoryRepository = (*CategoryRepository)(nil)

// ProfileRepository хранит роли пользователей в памяти.
type ProfileRepository struct {
	mu    sync.RWMutex
	items map[string]domain.Profile
}

// NewProfileRepository создаёт пустой репозиторий профилей.
func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{items: make(map[string]domain.Profile)}
}

func (r *ProfileRepository) Get(_ context.Context, userID string) (domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.items[userID]
	if !ok {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	return p, nil
}

func (r *ProfileRepository) Upsert(_ context.Context, profile domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[profile.UserID] = profile
	return nil
}

var _ domain.ProfileRepository = (*ProfileRepository)(nil)
