package catalog

import (
	"context"
	"io"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/storage/memory"
)

func newTestService() (*Service, *memory.ProductRepository) {
	logger := log.New()
	logger.SetOutput(io.Discard)

	products := memory.NewProductRepository()
	categories := memory.NewCategoryRepository(
		domain.Category{ID: "skincare", Name: "Skincare", Slug: "skincare"},
		domain.Category{ID: "makeup", Name: "Makeup", Slug: "makeup"},
	)
	return NewService(products, categories, log.NewEntry(logger)), products
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Hydrating Serum":             "hydrating-serum",
		"  Crème Brûlée Lip Balm  ":   "creme-brulee-lip-balm",
		"Vitamin C 10% / Niacinamide": "vitamin-c-10-niacinamide",
		"---":                         "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestCreateProductGeneratesUniqueSlug(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.CreateProduct(ctx, ProductInput{Name: "Glow Toner", Price: 120_000, Stock: 5, CategoryID: "skincare"})
	require.NoError(t, err)
	assert.Equal(t, "glow-toner", first.Slug)
	assert.True(t, first.IsActive)

	second, err := svc.CreateProduct(ctx, ProductInput{Name: "Glow  Toner!", Price: 125_000, Stock: 5})
	require.NoError(t, err)
	assert.Equal(t, "glow-toner-2", second.Slug)
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, ProductInput{Name: "", Price: -1, Stock: -2})
	require.True(t, domain.IsValidation(err))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "price")
	assert.Contains(t, verr.Fields, "stock")

	_, err = svc.CreateProduct(ctx, ProductInput{Name: "Lipstick", CategoryID: "fragrance"})
	require.True(t, domain.IsValidation(err))
}

func TestCreateProductSanitisesText(t *testing.T) {
	svc, _ := newTestService()
	p, err := svc.CreateProduct(context.Background(), ProductInput{
		Name:        "<i>Night</i> Cream",
		Description: `<p>Rich <b>cream</b></p><script>alert(1)</script><a href="https://example.com">more</a>`,
	})
	require.NoError(t, err)
	assert.Equal(t, "Night Cream", p.Name)
	assert.NotContains(t, p.Description, "script")
	assert.Contains(t, p.Description, "<b>cream</b>")
	assert.Contains(t, p.Description, `rel="nofollow"`)
}

func TestStorefrontHidesInactiveProducts(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	inactive := false

	active, err := svc.CreateProduct(ctx, ProductInput{Name: "Cleanser", Stock: 20, CategoryID: "skincare"})
	require.NoError(t, err)
	hidden, err := svc.CreateProduct(ctx, ProductInput{Name: "Old Mascara", Stock: 3, CategoryID: "makeup", IsActive: &inactive})
	require.NoError(t, err)

	list, err := svc.ListProducts(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)

	_, err = svc.ProductBySlug(ctx, hidden.Slug)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	got, err := svc.ProductBySlug(ctx, "cleanser")
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)

	all, err := svc.AdminProducts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLowStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, ProductInput{Name: "Plenty", Stock: domain.LowStockThreshold})
	require.NoError(t, err)
	low, err := svc.CreateProduct(ctx, ProductInput{Name: "Almost Gone", Stock: domain.LowStockThreshold - 1})
	require.NoError(t, err)

	list, err := svc.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, low.ID, list[0].ID)
}

func TestUpdateAndDeleteProduct(t *testing.T) {
	svc, products := newTestService()
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, ProductInput{Name: "Sheet Mask", Price: 30_000, Stock: 50})
	require.NoError(t, err)

	updated, err := svc.UpdateProduct(ctx, p.ID, ProductInput{Name: "Sheet Mask", Price: 35_000, Stock: 40})
	require.NoError(t, err)
	assert.Equal(t, "sheet-mask", updated.Slug)
	assert.Equal(t, int64(35_000), updated.Price)
	assert.True(t, updated.IsActive, "is_active keeps its value when omitted")

	renamed, err := svc.UpdateProduct(ctx, p.ID, ProductInput{Name: "Hydrogel Mask", Price: 35_000, Stock: 40})
	require.NoError(t, err)
	assert.Equal(t, "hydrogel-mask", renamed.Slug)

	stored, err := products.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hydrogel Mask", stored.Name)

	_, err = svc.UpdateProduct(ctx, "missing", ProductInput{Name: "X"})
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	require.NoError(t, svc.DeleteProduct(ctx, p.ID))
	require.ErrorIs(t, svc.DeleteProduct(ctx, p.ID), domain.ErrProductNotFound)
}

func TestCategoriesOrderedByName(t *testing.T) {
	svc, _ := newTestService()
	cats, err := svc.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Makeup", cats[0].Name)
	assert.Equal(t, "Skincare", cats[1].Name)
}
