package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// CacheKey задаёт ключ, под которым корзина хранится в локальном кэше.
const CacheKey = "quickshop-cart"

// Cache сохраняет корзину локально между запусками.
type Cache interface {
	Load() ([]domain.CartItem, error)
	Save(items []domain.CartItem) error
	Clear() error
}

// MemoryCache хранит корзину в памяти процесса.
type MemoryCache struct {
	mu    sync.Mutex
	items []domain.CartItem
}

// NewMemoryCache создаёт пустой кэш в памяти.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Load() ([]domain.CartItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneItems(c.items), nil
}

func (c *MemoryCache) Save(items []domain.CartItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = cloneItems(items)
	return nil
}

func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	return nil
}

type cacheEntry struct {
	Items []domain.CartItem `json:"items"`
}

// FileCache хранит корзину в JSON-файле. Другие ключи в файле сохраняются как есть.
type FileCache struct {
	mu   sync.Mutex
	path string
}

// NewFileCache создаёт кэш в указанном файле. Файл создаётся при первой записи.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

func (c *FileCache) Load() ([]domain.CartItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.readLocked()
	if err != nil {
		return nil, err
	}
	raw, ok := doc[CacheKey]
	if !ok {
		return nil, nil
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode cart cache: %w", err)
	}
	return entry.Items, nil
}

func (c *FileCache) Save(items []domain.CartItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.readLocked()
	if err != nil {
		// Повреждённый файл перезаписывается текущим состоянием.
		doc = map[string]json.RawMessage{}
	}
	if items == nil {
		items = []domain.CartItem{}
	}
	raw, err := json.Marshal(cacheEntry{Items: items})
	if err != nil {
		return fmt.Errorf("encode cart cache: %w", err)
	}
	doc[CacheKey] = raw
	return c.writeLocked(doc)
}

func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.readLocked()
	if err != nil {
		return os.Remove(c.path)
	}
	if _, ok := doc[CacheKey]; !ok {
		return nil
	}
	delete(doc, CacheKey)
	return c.writeLocked(doc)
}

func (c *FileCache) readLocked() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("read cart cache: %w", err)
	}
	doc := map[string]json.RawMessage{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode cart cache: %w", err)
	}
	return doc, nil
}

// writeLocked пишет во временный файл и переименовывает его, чтобы не оставлять обрезанный JSON.
func (c *FileCache) writeLocked(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cart cache: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cart cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".quickshop-cart-*")
	if err != nil {
		return fmt.Errorf("create cart cache temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cart cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cart cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace cart cache: %w", err)
	}
	return nil
}
