package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusDead    = "dead"
)

type outboxRecord struct {
	msg         domain.OutboxMessage
	status      string
	availableAt time.Time
}

// OutboxRepository хранит события заказов в памяти процесса.
type OutboxRepository struct {
	mu      sync.Mutex
	records map[string]*outboxRecord
	now     func() time.Time
}

// OutboxOption настраивает OutboxRepository.
type OutboxOption func(*OutboxRepository)

// WithOutboxClock подменяет источник времени для расписания повторов.
func WithOutboxClock(now func() time.Time) OutboxOption {
	return func(r *OutboxRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewOutboxRepository создаёт in-memory outbox.
func NewOutboxRepository(opts ...OutboxOption) *OutboxRepository {
	r := &OutboxRepository{records: make(map[string]*outboxRecord), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue сохраняет событие, доступное к отправке сразу.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := r.now().UTC()
	msg.CreatedAt = now
	msg.Attempts = 0
	msg.LastError = ""
	r.records[msg.ID] = &outboxRecord{msg: msg, status: outboxStatusPending, availableAt: now}
	return msg, nil
}

// ClaimDue возвращает самые старые события, срок очередной попытки которых наступил.
func (r *OutboxRepository) ClaimDue(_ context.Context, limit int, lease time.Duration) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	now := r.now().UTC()

	result := make([]domain.OutboxMessage, 0, limit)
	for _, rec := range r.pendingLocked() {
		if len(result) == limit {
			break
		}
		if rec.availableAt.After(now) {
			continue
		}
		rec.availableAt = now.Add(lease)
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats возвращает размер очереди, возраст самого старого события и число мёртвых.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.pendingLocked()
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].msg.CreatedAt
	}
	for _, rec := range r.records {
		if rec.status == outboxStatusDead {
			stats.DeadCount++
		}
	}
	return stats, nil
}

// MarkSent снимает событие с доставки после успешной публикации.
func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.update(id, func(rec *outboxRecord) {
		rec.status = outboxStatusSent
	})
}

// MarkRetry записывает неудачную попытку.
func (r *OutboxRepository) MarkRetry(_ context.Context, id, publishErr string, retryAt time.Time) error {
	return r.update(id, func(rec *outboxRecord) {
		rec.msg.Attempts++
		rec.msg.LastError = publishErr
		rec.availableAt = retryAt.UTC()
	})
}

// MarkDead фиксирует последнюю неудачную попытку и больше не выдаёт событие.
func (r *OutboxRepository) MarkDead(_ context.Context, id, publishErr string) error {
	return r.update(id, func(rec *outboxRecord) {
		rec.msg.Attempts++
		rec.msg.LastError = publishErr
		rec.status = outboxStatusDead
	})
}

// AllPending возвращает копию всех недоставленных событий, включая отложенные.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.pendingLocked()
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result
}

func (r *OutboxRepository) update(id string, apply func(*outboxRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxMessageNotFound
	}
	apply(record)
	return nil
}

func (r *OutboxRepository) pendingLocked() []*outboxRecord {
	pending := make([]*outboxRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.status == outboxStatusPending {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].msg.CreatedAt.Equal(pending[j].msg.CreatedAt) {
			return pending[i].msg.CreatedAt.Before(pending[j].msg.CreatedAt)
		}
		return pending[i].msg.ID < pending[j].msg.ID
	})
	return pending
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
