package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/storage/memory"
	"github.com/vladislavdragonenkov/quickshop/internal/storage/postgres"
)

// repositories объединяет хранилища, общие для всех сервисов процесса.
type repositories struct {
	orders        domain.OrderRepository
	products      domain.ProductRepository
	categories    domain.CategoryRepository
	profiles      domain.ProfileRepository
	carts         domain.CartRepository
	cancellations domain.CancellationRepository
	paymentLogs   domain.PaymentLogRepository
	outbox        domain.OutboxRepository
	timeline      domain.TimelineRepository
	idempotency   domain.IdempotencyRepository

	// store задан только для postgres; используется в health check и при остановке.
	store *postgres.Store
}

// close освобождает соединения с базой.
func (r *repositories) close(logger *log.Entry) {
	if r == nil || r.store == nil {
		return
	}
	if err := r.store.Close(); err != nil {
		logger.WithError(err).Warn("failed to close postgres store")
	}
}

// defaultCategories возвращает разделы каталога, с которыми стартует in-memory хранилище.
func defaultCategories() []domain.Category {
	return []domain.Category{
		{ID: "skincare", Name: "Skincare", Slug: "skincare"},
		{ID: "makeup", Name: "Makeup", Slug: "makeup"},
		{ID: "haircare", Name: "Haircare", Slug: "haircare"},
		{ID: "fragrance", Name: "Fragrance", Slug: "fragrance"},
	}
}

func initRepositories(ctx context.Context, cfg StorageConfig, logger *log.Entry) (*repositories, error) {
	switch cfg.Driver {
	case "", StorageDriverMemory:
		orders := memory.NewOrderRepository()
		products := memory.NewProductRepository()
		logger.Info("using in-memory storage")
		return &repositories{
			orders:        orders,
			products:      products,
			categories:    memory.NewCategoryRepository(defaultCategories()...),
			profiles:      memory.NewProfileRepository(),
			carts:         memory.NewCartRepository(products),
			cancellations: memory.NewCancellationRepository(orders),
			paymentLogs:   memory.NewPaymentLogRepository(),
			outbox:        memory.NewOutboxRepository(),
			timeline:      memory.NewTimelineRepository(),
			idempotency:   memory.NewIdempotencyRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		store, err := postgres.OpenWithOptions(ctx, cfg.PostgresDSN, postgres.PoolOptions{MaxOpenConns: cfg.MaxOpenConns})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			state, err := store.MigrationStatus(ctx)
			if err == nil {
				logger.WithFields(log.Fields{"version": state.Version, "applied": state.Applied}).Info("postgres schema is up to date")
			}
		}
		logger.Info("using postgres storage")
		return &repositories{
			orders:        postgres.NewOrderRepository(store),
			products:      postgres.NewProductRepository(store),
			categories:    postgres.NewCategoryRepository(store),
			profiles:      postgres.NewProfileRepository(store),
			carts:         postgres.NewCartRepository(store),
			cancellations: postgres.NewCancellationRepository(store),
			paymentLogs:   postgres.NewPaymentLogRepository(store),
			outbox:        postgres.NewOutboxRepository(store),
			timeline:      postgres.NewTimelineRepository(store),
			idempotency:   postgres.NewIdempotencyRepository(store),
			store:         store,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
