// Package cancellation реализует заявки покупателя на отмену заказа и их рассмотрение администратором.
package cancellation

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/metrics"
	"github.com/vladislavdragonenkov/quickshop/internal/service/events"
)

// MaxTextLength ограничивает длину причины и комментария администратора (в символах).
const MaxTextLength = 1000

// Метки действий для метрики заявок.
const (
	actionRequested = "requested"
	actionApproved  = "approved"
	actionRejected  = "rejected"
)

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.ShopMetrics
	Recorder *events.Recorder
	Now      func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithRecorder задаёт запись событий заказа.
func WithRecorder(r *events.Recorder) Option {
	return func(opts *Options) { opts.Recorder = r }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// Service обслуживает заявки на отмену.
type Service struct {
	orders   domain.OrderRepository
	requests domain.CancellationRepository

	policy   *bluemonday.Policy
	recorder *events.Recorder
	metrics  *metrics.ShopMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис заявок.
func NewService(orders domain.OrderRepository, requests domain.CancellationRepository, options ...Option) *Service {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "cancellation")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		orders:   orders,
		requests: requests,
		policy:   bluemonday.StrictPolicy(),
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Request создаёт заявку на отмену собственного заказа.
//
// Чужой или отсутствующий заказ даёт domain.ErrOrderNotFound, заказ вне статусов
// pending/paid/processing даёт domain.ErrInvalidState, повторная заявка при наличии
// pending даёт domain.ErrDuplicateRequest.
func (s *Service) Request(ctx context.Context, userID, orderID, reason string) (domain.CancellationRequest, error) {
	if userID == "" {
		return domain.CancellationRequest{}, domain.ErrUnauthenticated
	}

	verr := domain.NewValidationError()
	if strings.TrimSpace(orderID) == "" {
		verr.Add("orderId", "is required")
	}
	reason, problem := s.cleanText(reason)
	if problem != "" {
		verr.Add("reason", problem)
	}
	if err := verr.Err(); err != nil {
		return domain.CancellationRequest{}, err
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.CancellationRequest{}, err
	}
	if order.UserID != userID {
		return domain.CancellationRequest{}, domain.ErrOrderNotFound
	}
	if !order.Status.Cancellable() {
		return domain.CancellationRequest{}, fmt.Errorf("order in status %s: %w", order.Status, domain.ErrInvalidState)
	}

	created, err := s.requests.CreatePending(ctx, domain.CancellationRequest{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		UserID:    userID,
		Reason:    reason,
		Status:    domain.CancellationPending,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.CancellationRequest{}, err
	}

	s.metrics.RecordCancellation(actionRequested)
	s.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"request_id": created.ID,
		"user_id":    userID,
	}).Info("cancellation requested")
	s.recorder.Emit(ctx, order, events.Event{
		Type:     domain.EventCancellationRequested,
		Timeline: domain.TimelineCancellationRequested,
		Reason:   reason,
		Actor:    userID,
		Payload:  map[string]any{"request_id": created.ID},
		Occurred: created.CreatedAt,
	})
	return created, nil
}

// Approve одобряет заявку и отменяет заказ в одной единице работы.
// Остатки и деньги не возвращаются автоматически.
func (s *Service) Approve(ctx context.Context, adminID, requestID, notes string) (domain.CancellationRequest, error) {
	notes, problem := s.cleanText(notes)
	if problem != "" && notes != "" {
		return domain.CancellationRequest{}, fieldError("adminNotes", problem)
	}
	return s.review(ctx, adminID, requestID, domain.CancellationApproved, notes)
}

// Reject отклоняет заявку. Комментарий обязателен, заказ не меняется.
func (s *Service) Reject(ctx context.Context, adminID, requestID, notes string) (domain.CancellationRequest, error) {
	notes, problem := s.cleanText(notes)
	if problem != "" {
		return domain.CancellationRequest{}, fieldError("adminNotes", problem)
	}
	return s.review(ctx, adminID, requestID, domain.CancellationRejected, notes)
}

// List возвращает заявки для админки; пустой статус означает все.
func (s *Service) List(ctx context.Context, status domain.CancellationStatus) ([]domain.CancellationView, error) {
	if status != "" && !status.Valid() {
		return nil, fieldError("status", "is not a valid cancellation status")
	}
	return s.requests.List(ctx, status)
}

// ListByOrder возвращает историю заявок по заказу.
func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]domain.CancellationRequest, error) {
	return s.requests.ListByOrder(ctx, orderID)
}

func (s *Service) review(ctx context.Context, adminID, requestID string, decision domain.CancellationStatus, notes string) (domain.CancellationRequest, error) {
	if adminID == "" {
		return domain.CancellationRequest{}, domain.ErrUnauthenticated
	}
	if strings.TrimSpace(requestID) == "" {
		return domain.CancellationRequest{}, fieldError("id", "is required")
	}

	reviewed, err := s.requests.Review(ctx, domain.CancellationReview{
		RequestID:  requestID,
		Decision:   decision,
		AdminNotes: notes,
		ReviewedBy: adminID,
		ReviewedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.CancellationRequest{}, err
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id":   reviewed.OrderID,
		"request_id": reviewed.ID,
		"admin_id":   adminID,
		"decision":   decision,
	})
	logger.Info("cancellation reviewed")

	action := actionRejected
	timeline := domain.TimelineCancellationRejected
	if decision == domain.CancellationApproved {
		action = actionApproved
		timeline = domain.TimelineCancellationApproved
	}
	s.metrics.RecordCancellation(action)

	order, err := s.orders.Get(ctx, reviewed.OrderID)
	if err != nil {
		// Решение уже зафиксировано, без заказа пропускаем только события.
		logger.WithError(err).Warn("order not loaded after review, events skipped")
		return reviewed, nil
	}
	s.recorder.Emit(ctx, order, events.Event{
		Type:     domain.EventCancellationReviewed,
		Timeline: timeline,
		Reason:   notes,
		Actor:    adminID,
		Payload:  map[string]any{"request_id": reviewed.ID, "decision": string(decision)},
	})
	if decision == domain.CancellationApproved {
		s.recorder.Emit(ctx, order, events.Event{
			Type:   domain.EventOrderCancelled,
			Reason: "cancellation approved",
			Actor:  adminID,
		})
	}
	return reviewed, nil
}

// cleanText удаляет разметку и пробелы по краям. Возвращает описание проблемы,
// если текст пустой или слишком длинный.
func (s *Service) cleanText(raw string) (string, string) {
	cleaned := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
	switch {
	case cleaned == "":
		return "", "is required"
	case utf8.RuneCountInString(cleaned) > MaxTextLength:
		return cleaned, fmt.Sprintf("must be at most %d characters", MaxTextLength)
	default:
		return cleaned, ""
	}
}

func fieldError(field, problem string) error {
	verr := domain.NewValidationError()
	verr.Add(field, problem)
	return verr
}
