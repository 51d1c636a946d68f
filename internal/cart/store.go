// Package cart реализует клиентскую корзину: гостевой и авторизованный режимы,
// проверку количества по остатку, слияние при входе и фоновую синхронизацию с сервером.
package cart

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/metrics"
)

// Options задаёт зависимости корзины.
type Options struct {
	Cache    Cache
	Remote   Remote
	Notifier Notifier
	Logger   *log.Entry
	Metrics  *metrics.ShopMetrics
}

// Option настраивает Store.
type Option func(*Options)

// WithCache задаёт локальный кэш корзины.
func WithCache(cache Cache) Option {
	return func(opts *Options) {
		opts.Cache = cache
	}
}

// WithRemote задаёт серверное хранилище корзины авторизованного пользователя.
func WithRemote(remote Remote) Option {
	return func(opts *Options) {
		opts.Remote = remote
	}
}

// WithNotifier задаёт получателя уведомлений о результате операций.
func WithNotifier(notifier Notifier) Option {
	return func(opts *Options) {
		opts.Notifier = notifier
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// Store хранит корзину одного клиента.
//
// Мутации двухфазные: сначала меняется локальное состояние и кэш, затем
// в Syncer ставится задача записи на сервер. Ошибка синхронизации не откатывает
// локальное состояние, она видна через SyncStatus.
type Store struct {
	mu     sync.RWMutex
	items  []domain.CartItem
	userID string

	// identityMu сериализует смену пользователя: одновременно выполняется не больше одного входа/выхода.
	identityMu sync.Mutex

	cache    Cache
	remote   Remote
	syncer   *Syncer
	notifier Notifier
	logger   *log.Entry
}

// New создаёт корзину и восстанавливает гостевое состояние из кэша.
func New(options ...Option) *Store {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	s := &Store{
		cache:    cache,
		remote:   opts.Remote,
		syncer:   NewSyncer(opts.Remote, logger, opts.Metrics),
		notifier: notifier,
		logger:   logger,
	}

	items, err := cache.Load()
	if err != nil {
		logger.WithError(err).Warn("failed to restore cart from cache")
	}
	s.items = sanitize(items)
	return s
}

// AddItem добавляет одну единицу товара. Если в корзине уже весь остаток
// item.Stock, возвращает domain.ErrOutOfStock и не меняет количество.
func (s *Store) AddItem(item domain.CartItem) error {
	s.mu.Lock()
	idx := s.indexLocked(item.ProductID)
	if idx >= 0 {
		existing := s.items[idx]
		// Остаток берётся из добавляемого товара: он свежее снимка в корзине.
		if item.Stock >= existing.Quantity {
			s.items[idx].Stock = item.Stock
		}
		if existing.Quantity >= item.Stock {
			s.mu.Unlock()
			s.notifier.Notify(Notice{Event: EventOutOfStock, ProductID: item.ProductID, Name: existing.Name})
			return domain.ErrOutOfStock
		}
		s.items[idx].Quantity++
		s.mu.Unlock()
		s.commit()
		s.notifier.Notify(Notice{Event: EventQuantityIncreased, ProductID: item.ProductID, Name: existing.Name})
		return nil
	}

	if item.Stock < 1 {
		s.mu.Unlock()
		s.notifier.Notify(Notice{Event: EventOutOfStock, ProductID: item.ProductID, Name: item.Name})
		return domain.ErrOutOfStock
	}
	item.Quantity = 1
	s.items = append(s.items, item)
	s.mu.Unlock()
	s.commit()
	s.notifier.Notify(Notice{Event: EventAdded, ProductID: item.ProductID, Name: item.Name})
	return nil
}

// RemoveItem удаляет позицию. Отсутствующий товар игнорируется.
func (s *Store) RemoveItem(productID string) {
	s.mu.Lock()
	idx := s.indexLocked(productID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	name := s.items[idx].Name
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.mu.Unlock()
	s.commit()
	s.notifier.Notify(Notice{Event: EventRemoved, ProductID: productID, Name: name})
}

// UpdateQuantity задаёт количество. quantity < 1 удаляет позицию,
// quantity больше остатка даёт domain.ErrInsufficientStock без изменений.
func (s *Store) UpdateQuantity(productID string, quantity int) error {
	if quantity < 1 {
		s.RemoveItem(productID)
		return nil
	}

	s.mu.Lock()
	idx := s.indexLocked(productID)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	item := s.items[idx]
	if quantity > item.Stock {
		s.mu.Unlock()
		s.notifier.Notify(Notice{
			Event:     EventInsufficientStock,
			ProductID: productID,
			Name:      item.Name,
			Message:   fmt.Sprintf("only %d left", item.Stock),
		})
		return domain.ErrInsufficientStock
	}
	if item.Quantity == quantity {
		s.mu.Unlock()
		return nil
	}
	s.items[idx].Quantity = quantity
	s.mu.Unlock()
	s.commit()
	return nil
}

// Clear очищает корзину.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
	s.commit()
}

// TotalItems возвращает сумму количеств по всем позициям.
func (s *Store) TotalItems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, item := range s.items {
		total += item.Quantity
	}
	return total
}

// TotalPrice возвращает сумму price*quantity по всем позициям.
func (s *Store) TotalPrice() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, item := range s.items {
		total += item.Extension()
	}
	return total
}

// ItemCount возвращает количество товара в корзине или 0.
func (s *Store) ItemCount(productID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx := s.indexLocked(productID); idx >= 0 {
		return s.items[idx].Quantity
	}
	return 0
}

// Items возвращает копию позиций в порядке добавления.
func (s *Store) Items() []domain.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneItems(s.items)
}

// UserID возвращает текущего пользователя или пустую строку для гостя.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// SetIdentity переключает корзину между гостем ("") и пользователем.
//
// Выход очищает корзину и кэш. Вход забирает серверную корзину, сливает в неё
// гостевые позиции и перезаписывает серверную копию результатом. Если серверную
// корзину получить не удалось, гостевая корзина остаётся активной, перезапись
// не выполняется, а ошибка возвращается и попадает в SyncStatus.
func (s *Store) SetIdentity(ctx context.Context, userID string) error {
	s.identityMu.Lock()
	defer s.identityMu.Unlock()

	if s.UserID() == userID {
		return nil
	}

	if userID == "" {
		// Задачи предыдущего пользователя больше не должны влиять на статус синхронизации.
		s.syncer.Invalidate()
		s.mu.Lock()
		s.userID = ""
		s.items = nil
		s.mu.Unlock()
		if err := s.cache.Clear(); err != nil {
			s.logger.WithError(err).Warn("failed to clear cart cache on logout")
		}
		s.logger.Debug("cart identity cleared")
		return nil
	}

	var remoteItems []domain.CartItem
	if s.remote != nil {
		loaded, err := s.remote.Load(ctx, userID)
		if err != nil {
			// Личность не меняется: без серверной корзины слияние невозможно,
			// а синхронизация гостевого снимка затёрла бы её. Повторный вход выполнит слияние.
			s.syncer.recordFailure(fmt.Errorf("load remote cart: %w", err))
			s.logger.WithError(err).WithField("user_id", userID).Warn("failed to load remote cart, keeping guest cart")
			return fmt.Errorf("load remote cart: %w", err)
		}
		remoteItems = loaded
	}

	s.syncer.Invalidate()
	s.mu.Lock()
	guest := cloneItems(s.items)
	s.items = Merge(remoteItems, guest)
	s.userID = userID
	s.mu.Unlock()

	s.logger.WithFields(log.Fields{
		"user_id":      userID,
		"guest_items":  len(guest),
		"remote_items": len(remoteItems),
	}).Debug("cart merged on login")
	s.commit()
	return nil
}

// SyncStatus возвращает состояние синхронизации с сервером.
func (s *Store) SyncStatus() SyncStatus {
	return s.syncer.Status()
}

// Flush ждёт завершения поставленных задач синхронизации.
func (s *Store) Flush(ctx context.Context) error {
	return s.syncer.Flush(ctx)
}

// commit сохраняет текущее состояние в кэш и ставит задачу синхронизации.
func (s *Store) commit() {
	s.mu.RLock()
	items := cloneItems(s.items)
	userID := s.userID
	s.mu.RUnlock()

	if err := s.cache.Save(items); err != nil {
		s.logger.WithError(err).Warn("failed to persist cart cache")
	}
	if userID != "" {
		s.syncer.Enqueue(userID, items)
	}
}

func (s *Store) indexLocked(productID string) int {
	for i := range s.items {
		if s.items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func cloneItems(items []domain.CartItem) []domain.CartItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.CartItem, len(items))
	copy(out, items)
	return out
}

// sanitize отбрасывает из восстановленного состояния позиции, нарушающие инварианты корзины.
func sanitize(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ProductID == "" || item.Quantity < 1 || item.Quantity > item.Stock {
			continue
		}
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
