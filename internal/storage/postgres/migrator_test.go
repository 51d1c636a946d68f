package postgres

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddedMigrations(t *testing.T) map[string]migration {
	t.Helper()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)

	byName := make(map[string]migration, len(migrations))
	for _, m := range migrations {
		byName[m.Name] = m
	}
	return byName
}

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)

	names := make([]string, 0, len(migrations))
	for i, m := range migrations {
		assert.Equal(t, int64(i+1), m.Version, "versions have no gaps")
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"catalog", "orders", "payments_cancellations", "outbox_timeline_idempotency"}, names)
	assert.Equal(t, len(migrations), pendingCount(migrations, map[int64]bool{}))
	assert.Equal(t, 1, pendingCount(migrations, map[int64]bool{1: true, 2: true, 3: true}))
}

func TestCatalogMigrationDecrementsStockAtomically(t *testing.T) {
	t.Parallel()

	catalog := embeddedMigrations(t)["catalog"]
	assert.Contains(t, catalog.UpSQL, "CREATE OR REPLACE FUNCTION decrement_product_stock(p_product_id TEXT, p_qty INTEGER)")
	assert.Contains(t, catalog.UpSQL, "cart_items")
	assert.Contains(t, catalog.DownSQL, "DROP FUNCTION IF EXISTS decrement_product_stock")
}

func TestCancellationMigrationAllowsOnePendingRequest(t *testing.T) {
	t.Parallel()

	m := embeddedMigrations(t)["payments_cancellations"]
	idx := strings.Index(m.UpSQL, "CREATE UNIQUE INDEX IF NOT EXISTS uq_order_cancellations_pending")
	require.GreaterOrEqual(t, idx, 0, "pending cancellation index is missing")

	stmt := m.UpSQL[idx:]
	stmt = stmt[:strings.Index(stmt, ";")]
	assert.Contains(t, stmt, "(order_id)")
	assert.Contains(t, stmt, "WHERE status = 'pending'")
	assert.Contains(t, m.DownSQL, "DROP TABLE IF EXISTS order_cancellations")
}

func TestOutboxMigrationTracksAttempts(t *testing.T) {
	t.Parallel()

	m := embeddedMigrations(t)["outbox_timeline_idempotency"]
	for _, fragment := range []string{
		"CREATE TABLE IF NOT EXISTS outbox (",
		"attempts INTEGER NOT NULL DEFAULT 0",
		"available_at TIMESTAMPTZ NOT NULL",
		"CREATE TABLE IF NOT EXISTS order_timeline (",
		"order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE",
		"CREATE TABLE IF NOT EXISTS idempotency_keys (",
	} {
		assert.Contains(t, m.UpSQL, fragment)
	}
	for _, table := range []string{"outbox", "order_timeline", "idempotency_keys"} {
		assert.Contains(t, m.DownSQL, "DROP TABLE IF EXISTS "+table+";")
	}
}

func TestLoadMigrationsFromFS_MissingDown(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0005_product_reviews.up.sql": {
			Data: []byte("CREATE TABLE product_reviews (id TEXT PRIMARY KEY);"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both up and down")
}

func TestLoadMigrationsFromFS_InvalidFilename(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/seed_products.sql": {
			Data: []byte("INSERT INTO products DEFAULT VALUES;"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	require.Error(t, err)
}

func TestLoadMigrationsFromFS_EmptyFile(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0005_product_reviews.up.sql": {
			Data: []byte("   \n"),
		},
		"sql/migrations/0005_product_reviews.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS product_reviews;"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	require.Error(t, err)
}
