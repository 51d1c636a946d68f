package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/service/catalog"
)

func (s *Server) adminListOrders(w http.ResponseWriter, r *http.Request) {
	filter := domain.OrderFilter{
		Status: domain.OrderStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", defaultListLimit, maxListLimit),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondError(w, r, s.logger, fieldError("status", "is not a known order status"))
		return
	}

	orders, err := s.deps.Orders.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	out := make([]orderSummaryResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderSummary(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (s *Server) adminListCancellations(w http.ResponseWriter, r *http.Request) {
	views, err := s.deps.Cancellations.List(r.Context(), domain.CancellationStatus(r.URL.Query().Get("status")))
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	out := make([]cancellationResponse, 0, len(views))
	for _, v := range views {
		resp := toCancellationResponse(v.Request)
		summary := toOrderSummary(v.Order)
		resp.Order = &summary
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancellations": out})
}

func (s *Server) adminApproveCancellation(w http.ResponseWriter, r *http.Request) {
	s.reviewCancellation(w, r, s.deps.Cancellations.Approve)
}

func (s *Server) adminRejectCancellation(w http.ResponseWriter, r *http.Request) {
	s.reviewCancellation(w, r, s.deps.Cancellations.Reject)
}

type reviewFunc func(ctx context.Context, adminID, requestID, notes string) (domain.CancellationRequest, error)

func (s *Server) reviewCancellation(w http.ResponseWriter, r *http.Request, review reviewFunc) {
	var req reviewRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	reviewed, err := review(r.Context(), principal(r).UserID, chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toCancellationResponse(reviewed))
}

// adminListProducts отдаёт весь каталог, включая скрытые товары; ?low_stock=true оставляет только заканчивающиеся.
func (s *Server) adminListProducts(w http.ResponseWriter, r *http.Request) {
	var (
		products []domain.Product
		err      error
	)
	if r.URL.Query().Get("low_stock") == "true" {
		products, err = s.deps.Catalog.LowStock(r.Context())
	} else {
		products, err = s.deps.Catalog.AdminProducts(r.Context(), queryInt(r, "limit", 0, maxListLimit))
	}
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": toProductList(products)})
}

func (s *Server) adminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	product, err := s.deps.Catalog.CreateProduct(r.Context(), in)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(product))
}

func (s *Server) adminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	product, err := s.deps.Catalog.UpdateProduct(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (s *Server) adminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func fieldError(field, problem string) error {
	verr := domain.NewValidationError()
	verr.Add(field, problem)
	return verr
}
