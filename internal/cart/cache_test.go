package cart

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

func TestFileCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "storage.json")
	cache := NewFileCache(path)

	items, err := cache.Load()
	require.NoError(t, err)
	assert.Empty(t, items)

	want := []domain.CartItem{{ProductID: "a", Name: "Serum", Price: 150_000, Quantity: 2, Stock: 4}}
	require.NoError(t, cache.Save(want))

	got, err := NewFileCache(path).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileCacheKeepsForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"theme":"dark"}`), 0o600))

	cache := NewFileCache(path)
	require.NoError(t, cache.Save([]domain.CartItem{{ProductID: "a", Quantity: 1, Stock: 1}}))

	var doc map[string]json.RawMessage
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.JSONEq(t, `"dark"`, string(doc["theme"]))
	assert.Contains(t, doc, CacheKey)

	require.NoError(t, cache.Clear())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark"}`, string(data))
}

func TestFileCacheRecoversFromCorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	cache := NewFileCache(path)
	_, err := cache.Load()
	require.Error(t, err)

	require.NoError(t, cache.Save([]domain.CartItem{{ProductID: "a", Quantity: 1, Stock: 2}}))
	items, err := cache.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	cache := NewMemoryCache()
	items := []domain.CartItem{{ProductID: "a", Quantity: 1, Stock: 2}}
	require.NoError(t, cache.Save(items))
	items[0].Quantity = 2

	loaded, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded[0].Quantity)
}
