// Package outbox доставляет события заказов из transactional outbox в брокер.
package outbox

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/metrics"
)

const (
	defaultPollInterval  = time.Second
	defaultBatchSize     = 100
	defaultMaxAttempts   = 5
	defaultRetryDelay    = time.Second
	defaultMaxRetryDelay = 5 * time.Minute
	defaultLease         = 30 * time.Second
)

// Config задаёт расписание доставки.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts: после стольких неудачных публикаций событие уходит в DLQ.
	MaxAttempts   int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// Lease: на сколько взятое событие скрыто от других воркеров.
	Lease time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = defaultMaxRetryDelay
	}
	if c.Lease <= 0 {
		c.Lease = defaultLease
	}
	return c
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics задаёт метрики доставки.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithDeadLetters задаёт publisher топика DLQ. Без него исчерпавшее попытки
// событие только помечается в хранилище.
func WithDeadLetters(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.deadLetters = publisher
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// BatchResult подводит итог одного цикла.
type BatchResult struct {
	Sent         int
	Retried      int
	DeadLettered int
}

// Worker публикует события заказов. Каждая неудачная публикация записывается
// в хранилище и откладывает событие по экспоненте, повтор выполняет уже следующий цикл.
type Worker struct {
	repo        domain.OutboxRepository
	publisher   domain.OutboxPublisher
	deadLetters domain.OutboxPublisher
	cfg         Config
	metrics     *metrics.ShopMetrics
	logger      *log.Entry
	now         func() time.Time
}

// NewWorker создаёт воркер доставки.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, cfg Config, options ...Option) *Worker {
	w := &Worker{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    log.WithField("component", "outbox-worker"),
		now:       time.Now,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		result, err := w.ProcessOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.WithError(err).Warn("outbox delivery cycle failed")
		} else if result.Retried > 0 || result.DeadLettered > 0 {
			w.logger.WithFields(log.Fields{
				"sent":          result.Sent,
				"retried":       result.Retried,
				"dead_lettered": result.DeadLettered,
			}).Info("outbox delivery cycle finished with failures")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает готовые к отправке события и публикует их по одному разу.
func (w *Worker) ProcessOnce(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	if err := ctx.Err(); err != nil {
		return result, err
	}

	events, err := w.repo.ClaimDue(ctx, w.cfg.BatchSize, w.cfg.Lease)
	if err != nil {
		return result, fmt.Errorf("claim outbox events: %w", err)
	}

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		switch w.deliver(ctx, event) {
		case metrics.OutboxSent:
			result.Sent++
		case metrics.OutboxRetried:
			result.Retried++
		default:
			result.DeadLettered++
		}
	}

	w.refreshBacklog(ctx)
	return result, nil
}

// deliver публикует одно событие и возвращает итог в терминах метрики.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) string {
	logger := w.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"order_id":   event.AggregateID,
		"event_type": event.EventType,
	})

	publishErr := w.publisher.Publish(ctx, event)
	if publishErr == nil {
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			logger.WithError(err).Warn("failed to mark order event as sent")
		}
		w.metrics.RecordOutboxDelivery(metrics.OutboxSent)
		return metrics.OutboxSent
	}

	event.Attempts++
	event.LastError = publishErr.Error()
	logger = logger.WithField("attempt", event.Attempts).WithError(publishErr)

	if event.Attempts < w.cfg.MaxAttempts {
		retryAt := w.now().Add(w.retryDelay(event.Attempts))
		if err := w.repo.MarkRetry(ctx, event.ID, event.LastError, retryAt); err != nil {
			logger.WithField("mark_error", err.Error()).Warn("failed to schedule order event retry")
		}
		logger.WithField("retry_at", retryAt).Warn("order event publish failed, retry scheduled")
		w.metrics.RecordOutboxDelivery(metrics.OutboxRetried)
		return metrics.OutboxRetried
	}

	logger.Error("order event publish failed, attempts exhausted")
	if err := w.sendDeadLetter(ctx, domain.NewDeadLetter(event, publishErr, w.now())); err != nil {
		logger.WithField("dlq_error", err.Error()).Warn("failed to publish order event to DLQ")
		w.metrics.RecordOutboxDelivery(metrics.OutboxDeadLetterFailed)
	}
	if err := w.repo.MarkDead(ctx, event.ID, event.LastError); err != nil {
		logger.WithField("mark_error", err.Error()).Warn("failed to mark order event as dead")
	}
	w.metrics.RecordOutboxDelivery(metrics.OutboxDeadLettered)
	return metrics.OutboxDeadLettered
}

func (w *Worker) sendDeadLetter(ctx context.Context, letter domain.DeadLetter) error {
	if w.deadLetters == nil {
		return nil
	}
	msg, err := letter.Message()
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := w.deadLetters.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

// retryDelay удваивает задержку с каждой попыткой, не превышая MaxRetryDelay.
func (w *Worker) retryDelay(attempts int) time.Duration {
	delay := w.cfg.RetryDelay
	for i := 1; i < attempts && delay < w.cfg.MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > w.cfg.MaxRetryDelay {
		return w.cfg.MaxRetryDelay
	}
	return delay
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}
