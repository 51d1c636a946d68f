package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

const productColumns = `id, name, slug, description, price, stock, COALESCE(category_id, ''), image_url, sku, is_active, created_at, updated_at`

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (
			id, name, slug, description, price, stock, category_id, image_url, sku, is_active, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7, ''),$8,$9,$10,$11,$12)
	`,
		p.ID, p.Name, p.Slug, p.Description, p.Price, p.Stock, p.CategoryID,
		p.ImageURL, p.SKU, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSlugTaken
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *productRepository) Update(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2,
		    slug = $3,
		    description = $4,
		    price = $5,
		    stock = $6,
		    category_id = NULLIF($7, ''),
		    image_url = $8,
		    sku = $9,
		    is_active = $10,
		    updated_at = $11
		WHERE id = $1
	`,
		p.ID, p.Name, p.Slug, p.Description, p.Price, p.Stock, p.CategoryID,
		p.ImageURL, p.SKU, p.IsActive, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSlugTaken
		}
		return fmt.Errorf("update product: %w", err)
	}
	return expectAffected(res, domain.ErrProductNotFound)
}

func (r *productRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return expectAffected(res, domain.ErrProductNotFound)
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	return r.getBy(ctx, "id", id)
}

func (r *productRepository) GetBySlug(ctx context.Context, slug string) (domain.Product, error) {
	return r.getBy(ctx, "slug", slug)
}

func (r *productRepository) getBy(ctx context.Context, column, value string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	p, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r *productRepository) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 = '' OR category_id = $1)
		  AND (NOT $2 OR is_active)
		  AND ($3 <= 0 OR stock < $3)
		ORDER BY created_at DESC, id ASC
		LIMIT $4
	`, filter.CategoryID, filter.ActiveOnly, filter.MaxStock, limit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// DecrementStock вызывает серверную функцию decrement_product_stock: списание
// выполняется одним условным UPDATE и не может увести остаток в минус.
func (r *productRepository) DecrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var ok bool
	if err := r.db.QueryRowContext(ctx, `SELECT decrement_product_stock($1, $2)`, productID, qty).Scan(&ok); err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if ok {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return domain.ErrProductNotFound
	}
	return domain.ErrInsufficientStock
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Description, &p.Price, &p.Stock, &p.CategoryID,
		&p.ImageURL, &p.SKU, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)

type categoryRepository struct {
	db *sql.DB
}

// NewCategoryRepository создаёт PostgreSQL-реализацию CategoryRepository.
func NewCategoryRepository(store *Store) domain.CategoryRepository {
	return &categoryRepository{db: store.DB()}
}

func (r *categoryRepository) List(ctx context.Context) ([]domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT id, name, slug FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Category, 0)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return result, nil
}

func (r *categoryRepository) Get(ctx context.Context, id string) (domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var c domain.Category
	err := r.db.QueryRowContext(ctx, `SELECT id, name, slug FROM categories WHERE id = $1`, id).Scan(&c.ID, &c.Name, &c.Slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Category{}, domain.ErrCategoryNotFound
		}
		return domain.Category{}, fmt.Errorf("select category: %w", err)
	}
	return c, nil
}

var _ domain.CategoryRepository = (*categoryRepository)(nil)

type profileRepository struct {
	db *sql.DB
}

// NewProfileRepository создаёт PostgreSQL-реализацию ProfileRepository.
func NewProfileRepository(store *Store) domain.ProfileRepository {
	return &profileRepository{db: store.DB()}
}

func (r *profileRepository) Get(ctx context.Context, userID string) (domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		p    domain.Profile
		role string
	)
	err := r.db.QueryRowContext(ctx, `SELECT user_id, full_name, role FROM profiles WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.FullName, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Profile{}, domain.ErrProfileNotFound
		}
		return domain.Profile{}, fmt.Errorf("select profile: %w", err)
	}
	p.Role = domain.Role(role)
	return p, nil
}

func (r *profileRepository) Upsert(ctx context.Context, p domain.Profile) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	role := p.Role
	if role == "" {
		role = domain.RoleCustomer
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, full_name, role)
		VALUES ($1,$2,$3)
		ON CONFLICT (user_id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    role = EXCLUDED.role
	`, p.UserID, p.FullName, string(role)); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

var _ domain.ProfileRepository = (*profileRepository)(nil)
