package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// CancellationRepository хранит заявки на отмену. Одобрение отменяет заказ в OrderRepository.
type CancellationRepository struct {
	mu     sync.Mutex
	items  map[string]domain.CancellationRequest
	orders *OrderRepository
}

// NewCancellationRepository создаёт репозиторий заявок, связанный с заказами.
func NewCancellationRepository(orders *OrderRepository) *CancellationRepository {
	return &CancellationRepository{
		items:  make(map[string]domain.CancellationRequest),
		orders: orders,
	}
}

func (r *CancellationRepository) CreatePending(_ context.Context, request domain.CancellationRequest) (domain.CancellationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.items {
		if existing.OrderID == request.OrderID && existing.Status == domain.CancellationPending {
			return domain.CancellationRequest{}, domain.ErrDuplicateRequest
		}
	}
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	request.Status = domain.CancellationPending
	r.items[request.ID] = request
	return request, nil
}

func (r *CancellationRepository) Get(_ context.Context, id string) (domain.CancellationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.items[id]
	if !ok {
		return domain.CancellationRequest{}, domain.ErrCancellationNotFound
	}
	return req, nil
}

func (r *CancellationRepository) ListByOrder(_ context.Context, orderID string) ([]domain.CancellationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.CancellationRequest, 0)
	for _, req := range r.items {
		if req.OrderID == orderID {
			result = append(result, req)
		}
	}
	sortRequests(result)
	return result, nil
}

func (r *CancellationRepository) List(_ context.Context, status domain.CancellationStatus) ([]domain.CancellationView, error) {
	r.mu.Lock()
	requests := make([]domain.CancellationRequest, 0, len(r.items))
	for _, req := range r.items {
		if status != "" && req.Status != status {
			continue
		}
		requests = append(requests, req)
	}
	r.mu.Unlock()

	sortRequests(requests)
	result := make([]domain.CancellationView, 0, len(requests))
	for _, req := range requests {
		summary, _ := r.orders.summary(req.OrderID)
		result = append(result, domain.CancellationView{Request: req, Order: summary})
	}
	return result, nil
}

// Review меняет статус pending-заявки; при одобрении отменяет заказ.
// Если заказ пропал, заявка остаётся pending.
func (r *CancellationRepository) Review(_ context.Context, review domain.CancellationReview) (domain.CancellationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.items[review.RequestID]
	if !ok {
		return domain.CancellationRequest{}, domain.ErrCancellationNotFound
	}
	if req.Status != domain.CancellationPending {
		return domain.CancellationRequest{}, domain.ErrRequestNotPending
	}

	if review.Decision == domain.CancellationApproved {
		if err := r.orders.forceCancel(req.OrderID, review.ReviewedAt); err != nil {
			return domain.CancellationRequest{}, err
		}
	}

	reviewedAt := review.ReviewedAt
	req.Status = review.Decision
	req.AdminNotes = review.AdminNotes
	req.ReviewedBy = review.ReviewedBy
	req.ReviewedAt = &reviewedAt
	r.items[req.ID] = req
	return req, nil
}

func sortRequests(requests []domain.CancellationRequest) {
	sort.Slice(requests, func(i, j int) bool {
		if !requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].CreatedAt.After(requests[j].CreatedAt)
		}
		return requests[i].ID < requests[j].ID
	})
}

var _ domain.CancellationRepository = (*CancellationRepository)(nil)
