package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/storage/memory"
)

func TestProductRepository_DecrementStockIsGuarded(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	require.NoError(t, repo.Create(ctx, domain.Product{ID: "p-1", Slug: "serum", Stock: 10, IsActive: true}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.DecrementStock(ctx, "p-1", 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrInsufficientStock):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, ok)
	require.Equal(t, 15, refused)
	product, err := repo.Get(ctx, "p-1")
	require.NoError(t, err)
	require.Zero(t, product.Stock)

	require.ErrorIs(t, repo.DecrementStock(ctx, "missing", 1), domain.ErrProductNotFound)
	require.ErrorIs(t, repo.DecrementStock(ctx, "p-1", 0), domain.ErrItemQtyInvalid)
}

func TestProductRepository_SlugUniquenessAndFilters(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	require.NoError(t, repo.Create(ctx, domain.Product{ID: "p-1", Slug: "serum", Stock: 3, IsActive: true, CategoryID: "c-1"}))
	require.NoError(t, repo.Create(ctx, domain.Product{ID: "p-2", Slug: "toner", Stock: 40, IsActive: false, CategoryID: "c-1"}))
	require.ErrorIs(t, repo.Create(ctx, domain.Product{ID: "p-3", Slug: "serum"}), domain.ErrSlugTaken)
	require.ErrorIs(t, repo.Update(ctx, domain.Product{ID: "p-2", Slug: "serum"}), domain.ErrSlugTaken)

	active, err := repo.List(ctx, domain.ProductFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)

	low, err := repo.List(ctx, domain.ProductFilter{MaxStock: domain.LowStockThreshold})
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, "p-1", low[0].ID)

	bySlug, err := repo.GetBySlug(ctx, "toner")
	require.NoError(t, err)
	require.Equal(t, "p-2", bySlug.ID)

	require.NoError(t, repo.Delete(ctx, "p-2"))
	require.ErrorIs(t, repo.Delete(ctx, "p-2"), domain.ErrProductNotFound)
}

func TestCategoryRepository_ListSortedByName(t *testing.T) {
	repo := memory.NewCategoryRepository(
		domain.Category{ID: "c-2", Name: "Skincare"},
		domain.Category{ID: "c-1", Name: "Haircare"},
	)
	list, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Haircare", list[0].Name)
	require.Equal(t, "Skincare", list[1].Name)

	_, err = repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrCategoryNotFound)
}

func TestCartRepository_ReplaceAndLoad(t *testing.T) {
	ctx := context.Background()
	products := memory.NewProductRepository()
	require.NoError(t, products.Create(ctx, domain.Product{ID: "p-1", Name: "Serum", Slug: "serum", Price: 150_000, Stock: 5}))
	repo := memory.NewCartRepository(products)

	require.NoError(t, repo.Replace(ctx, "user-1", []domain.CartLine{
		{ProductID: "p-1", Quantity: 2},
		{ProductID: "gone", Quantity: 1},
	}))

	items, err := repo.Load(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, domain.CartItem{ProductID: "p-1", Name: "Serum", Slug: "serum", Price: 150_000, Quantity: 2, Stock: 5}, items[0])

	require.NoError(t, repo.Clear(ctx, "user-1"))
	items, err = repo.Load(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, items)
}
