// Package catalog управляет витриной: товары, категории, остатки.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// maxSlugAttempts ограничивает, сколько суффиксов перебирается при конфликте slug.
const maxSlugAttempts = 20

// ProductInput содержит поля товара, которые задаёт администратор.
type ProductInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	CategoryID  string `json:"category_id"`
	ImageURL    string `json:"image_url"`
	SKU         string `json:"sku"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

// Service реализует операции каталога для витрины и админки.
type Service struct {
	products   domain.ProductRepository
	categories domain.CategoryRepository

	policy *bluemonday.Policy
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис каталога. categories может быть nil, тогда категория не проверяется.
func NewService(products domain.ProductRepository, categories domain.CategoryRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Service{
		products:   products,
		categories: categories,
		policy:     newDescriptionPolicy(),
		logger:     logger,
		now:        time.Now,
	}
}

func newDescriptionPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	return policy
}

// ListProducts возвращает активные товары витрины, опционально по категории.
func (s *Service) ListProducts(ctx context.Context, categoryID string, limit int) ([]domain.Product, error) {
	return s.products.List(ctx, domain.ProductFilter{
		CategoryID: strings.TrimSpace(categoryID),
		ActiveOnly: true,
		Limit:      limit,
	})
}

// ProductBySlug возвращает активный товар; снятый с продажи выглядит как отсутствующий.
func (s *Service) ProductBySlug(ctx context.Context, slug string) (domain.Product, error) {
	product, err := s.products.GetBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		return domain.Product{}, err
	}
	if !product.IsActive {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// Categories возвращает категории по имени.
func (s *Service) Categories(ctx context.Context) ([]domain.Category, error) {
	if s.categories == nil {
		return []domain.Category{}, nil
	}
	return s.categories.List(ctx)
}

// AdminProducts возвращает все товары, включая неактивные.
func (s *Service) AdminProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	return s.products.List(ctx, domain.ProductFilter{Limit: limit})
}

// LowStock возвращает товары с остатком ниже domain.LowStockThreshold.
func (s *Service) LowStock(ctx context.Context) ([]domain.Product, error) {
	return s.products.List(ctx, domain.ProductFilter{MaxStock: domain.LowStockThreshold})
}

// CreateProduct создаёт товар со slug из названия.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (domain.Product, error) {
	in, err := s.validate(ctx, in)
	if err != nil {
		return domain.Product{}, err
	}

	now := s.now().UTC()
	product := domain.Product{
		ID:        uuid.NewString(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyInput(&product, in)

	base := Slugify(in.Name)
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		product.Slug = slugCandidate(base, attempt)
		err = s.products.Create(ctx, product)
		if !errors.Is(err, domain.ErrSlugTaken) {
			break
		}
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("create product: %w", err)
	}

	s.logger.WithFields(log.Fields{"product_id": product.ID, "slug": product.Slug}).Info("product created")
	return product, nil
}

// UpdateProduct перезаписывает поля товара. Slug пересчитывается при смене названия.
func (s *Service) UpdateProduct(ctx context.Context, id string, in ProductInput) (domain.Product, error) {
	current, err := s.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	in, err = s.validate(ctx, in)
	if err != nil {
		return domain.Product{}, err
	}

	renamed := current.Name != in.Name
	applyInput(&current, in)
	current.UpdatedAt = s.now().UTC()

	if !renamed {
		if err := s.products.Update(ctx, current); err != nil {
			return domain.Product{}, fmt.Errorf("update product: %w", err)
		}
		return current, nil
	}

	base := Slugify(in.Name)
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		current.Slug = slugCandidate(base, attempt)
		err = s.products.Update(ctx, current)
		if !errors.Is(err, domain.ErrSlugTaken) {
			break
		}
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("update product: %w", err)
	}
	s.logger.WithFields(log.Fields{"product_id": current.ID, "slug": current.Slug}).Info("product renamed")
	return current, nil
}

// DeleteProduct удаляет товар. Позиции прошлых заказов хранят снимок и не страдают.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.products.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("product_id", id).Info("product deleted")
	return nil
}

func (s *Service) validate(ctx context.Context, in ProductInput) (ProductInput, error) {
	in.Name = strings.TrimSpace(html.UnescapeString(bluemonday.StrictPolicy().Sanitize(in.Name)))
	in.Description = strings.TrimSpace(s.policy.Sanitize(in.Description))
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	in.SKU = strings.TrimSpace(in.SKU)

	verr := domain.NewValidationError()
	if in.Name == "" {
		verr.Add("name", "is required")
	} else if Slugify(in.Name) == "" {
		verr.Add("name", "must contain letters or digits")
	}
	if in.Price < 0 {
		verr.Add("price", "must be non-negative")
	}
	if in.Stock < 0 {
		verr.Add("stock", "must be non-negative")
	}
	if err := verr.Err(); err != nil {
		return in, err
	}

	if in.CategoryID != "" && s.categories != nil {
		if _, err := s.categories.Get(ctx, in.CategoryID); err != nil {
			if errors.Is(err, domain.ErrCategoryNotFound) {
				verr.Add("category_id", "does not exist")
				return in, verr
			}
			return in, fmt.Errorf("load category: %w", err)
		}
	}
	return in, nil
}

func applyInput(product *domain.Product, in ProductInput) {
	product.Name = in.Name
	product.Description = in.Description
	product.Price = in.Price
	product.Stock = in.Stock
	product.CategoryID = in.CategoryID
	product.ImageURL = in.ImageURL
	product.SKU = in.SKU
	if in.IsActive != nil {
		product.IsActive = *in.IsActive
	}
}

func slugCandidate(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, attempt+1)
}

// Slugify переводит название в URL-slug: без диакритики, в нижнем регистре,
// слова через дефис.
func Slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}
