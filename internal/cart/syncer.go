package cart

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/metrics"
)

const defaultSyncTimeout = 10 * time.Second

// SyncStatus описывает результат последней синхронизации корзины.
type SyncStatus struct {
	// LastEnqueued: номер последней поставленной задачи.
	LastEnqueued uint64
	// LastSynced: номер последней успешно записанной задачи.
	LastSynced uint64
	// Discarded: сколько задач вытеснено более новыми или отброшено после смены пользователя.
	Discarded int
	Failures  int
	LastError error
	// LastAttempt: время завершения последней учтённой попытки.
	LastAttempt time.Time
}

// Pending сообщает, что последнее изменение ещё не записано на сервер.
func (s SyncStatus) Pending() bool {
	return s.LastSynced < s.LastEnqueued
}

type syncTask struct {
	seq    uint64
	userID string
	items  []domain.CartItem
}

// Syncer последовательно записывает состояние корзины на сервер.
//
// Каждая задача получает возрастающий номер. В очереди хранится только последняя
// задача: промежуточные состояния вытесняются, потому что запись перезаписывает
// корзину целиком. Результаты задач, поставленных до Invalidate, не учитываются.
type Syncer struct {
	remote  Remote
	logger  *log.Entry
	metrics *metrics.ShopMetrics
	timeout time.Duration

	mu      sync.Mutex
	seq     uint64
	cutoff  uint64
	pending *syncTask
	running bool
	idle    chan struct{}
	status  SyncStatus
}

// NewSyncer создаёт Syncer. При remote == nil задачи не выполняются.
func NewSyncer(remote Remote, logger *log.Entry, m *metrics.ShopMetrics) *Syncer {
	if logger == nil {
		logger = log.WithField("component", "cart-syncer")
	}
	return &Syncer{
		remote:  remote,
		logger:  logger,
		metrics: m,
		timeout: defaultSyncTimeout,
	}
}

// Enqueue ставит задачу записи корзины пользователя и возвращает её номер.
func (s *Syncer) Enqueue(userID string, items []domain.CartItem) uint64 {
	if s.remote == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	if s.pending != nil {
		s.status.Discarded++
	}
	s.pending = &syncTask{seq: s.seq, userID: userID, items: cloneItems(items)}
	s.status.LastEnqueued = s.seq

	if !s.running {
		s.running = true
		s.idle = make(chan struct{})
		go s.loop()
	}
	return s.seq
}

// Invalidate отбрасывает поставленную задачу и помечает устаревшими все уже выполняющиеся.
func (s *Syncer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		s.pending = nil
		s.status.Discarded++
	}
	s.cutoff = s.seq
	s.status.LastSynced = s.seq
	s.status.LastEnqueued = s.seq
}

// Status возвращает копию текущего состояния синхронизации.
func (s *Syncer) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Flush ждёт, пока очередь опустеет, или отмены ctx.
func (s *Syncer) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Syncer) loop() {
	for {
		s.mu.Lock()
		task := s.pending
		s.pending = nil
		if task == nil {
			s.running = false
			close(s.idle)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.remote.Replace(ctx, task.userID, task.items)
		cancel()

		s.complete(*task, err)
	}
}

func (s *Syncer) complete(task syncTask, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.seq <= s.cutoff {
		s.logger.WithField("seq", task.seq).Debug("discarding stale cart sync result")
		return
	}

	s.status.LastAttempt = time.Now()
	if err != nil {
		s.status.Failures++
		s.status.LastError = err
		s.metrics.RecordCartSyncFailure()
		s.logger.WithError(err).WithFields(log.Fields{
			"seq":     task.seq,
			"user_id": task.userID,
		}).Warn("cart sync failed")
		return
	}

	if task.seq > s.status.LastSynced {
		s.status.LastSynced = task.seq
	}
	s.status.LastError = nil
}

// recordFailure фиксирует ошибку, не связанную с конкретной задачей (например, загрузку при входе).
func (s *Syncer) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.Failures++
	s.status.LastError = err
	s.status.LastAttempt = time.Now()
	s.metrics.RecordCartSyncFailure()
}
