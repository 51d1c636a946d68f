package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vladislavdragonenkov/quickshop/internal/cart"
	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/service/checkout"
)

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.deps.Catalog.ListProducts(r.Context(), r.URL.Query().Get("category"), queryInt(r, "limit", 0, maxListLimit))
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": toProductList(products)})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.deps.Catalog.ProductBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.deps.Catalog.Categories(r.Context())
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	out := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryResponse{ID: c.ID, Name: c.Name, Slug: c.Slug})
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Carts.Load(r.Context(), principal(r).UserID)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	if items == nil {
		items = []domain.CartItem{}
	}
	writeJSON(w, http.StatusOK, cart.CartResponse{Items: items})
}

// replaceCart перезаписывает серверную корзину целиком снимком клиента.
func (s *Server) replaceCart(w http.ResponseWriter, r *http.Request) {
	var req cart.ReplaceCartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	verr := domain.NewValidationError()
	seen := make(map[string]bool, len(req.Items))
	for i, line := range req.Items {
		switch {
		case line.ProductID == "":
			verr.Add(fmt.Sprintf("items[%d].product_id", i), "is required")
		case line.Quantity < 1:
			verr.Add(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		case seen[line.ProductID]:
			verr.Add(fmt.Sprintf("items[%d].product_id", i), "is duplicated")
		}
		seen[line.ProductID] = true
	}
	if err := verr.Err(); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	userID := principal(r).UserID
	if err := s.deps.Carts.Replace(r.Context(), userID, req.Items); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	items, err := s.deps.Carts.Load(r.Context(), userID)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	if items == nil {
		items = []domain.CartItem{}
	}
	writeJSON(w, http.StatusOK, cart.CartResponse{Items: items})
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	result, err := s.deps.Checkout.PlaceOrder(r.Context(), principal(r).UserID, checkout.Request{
		Lines:     req.Items,
		Shipping:  req.Shipping,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) && result.Order.ID != "" {
			s.writeGatewayFailure(w, r, result.Order, err)
			return
		}
		respondError(w, r, s.logger, err)
		return
	}

	payment := result.Payment
	writeJSON(w, http.StatusCreated, checkoutResponse{Order: toOrderResponse(result.Order), Payment: &payment})
}

// writeGatewayFailure отвечает 502, но возвращает созданный заказ: оплату можно повторить.
func (s *Server) writeGatewayFailure(w http.ResponseWriter, r *http.Request, order domain.Order, err error) {
	apiErr := classify(err)
	s.logger.WithError(err).WithField("order_id", order.ID).Warn("order created without payment token")
	writeJSON(w, apiErr.Status, checkoutFailureResponse{
		ErrorEnvelope: ErrorEnvelope{
			Error:     ErrorBody{Code: apiErr.Code, Message: apiErr.Message},
			RequestID: middleware.GetReqID(r.Context()),
		},
		Order: toOrderResponse(order),
	})
}

func (s *Server) listMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.deps.Orders.ListByUser(r.Context(), principal(r).UserID, queryInt(r, "limit", defaultListLimit, maxListLimit))
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (s *Server) getMyOrder(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	order, err := s.deps.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	if order.UserID != p.UserID && !p.IsAdmin() {
		respondError(w, r, s.logger, domain.ErrOrderNotFound)
		return
	}

	resp := toOrderResponse(order)
	if s.deps.Timeline != nil {
		events, err := s.deps.Timeline.List(r.Context(), order.ID)
		if err != nil {
			respondError(w, r, s.logger, err)
			return
		}
		for _, e := range events {
			resp.Timeline = append(resp.Timeline, timelineResponse{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
		}
	}
	requests, err := s.deps.Cancellations.ListByOrder(r.Context(), order.ID)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	for _, c := range requests {
		resp.Cancellations = append(resp.Cancellations, toCancellationResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) retryPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRetryRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	result, err := s.deps.Checkout.RequestPayment(r.Context(), principal(r).UserID, chi.URLParam(r, "id"), req.ReturnURL)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) && result.Order.ID != "" {
			s.writeGatewayFailure(w, r, result.Order, err)
			return
		}
		respondError(w, r, s.logger, err)
		return
	}
	payment := result.Payment
	writeJSON(w, http.StatusOK, checkoutResponse{Order: toOrderResponse(result.Order), Payment: &payment})
}

// requestCancellation отвечает 400 на все отказы по состоянию, как ожидает клиент.
func (s *Server) requestCancellation(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	created, err := s.deps.Cancellations.Request(r.Context(), principal(r).UserID, req.OrderID, req.Reason)
	if err != nil {
		apiErr := classify(err)
		switch {
		case errors.Is(err, domain.ErrInvalidState):
			apiErr = newAPIError(http.StatusBadRequest, CodeInvalidState, "order can no longer be cancelled")
		case errors.Is(err, domain.ErrDuplicateRequest):
			apiErr = newAPIError(http.StatusBadRequest, CodeDuplicateRequest, "a cancellation request for this order is already pending")
		}
		if apiErr.Status >= http.StatusInternalServerError {
			respondError(w, r, s.logger, err)
			return
		}
		WriteError(w, r, apiErr)
		return
	}
	writeJSON(w, http.StatusCreated, toCancellationResponse(created))
}

// paymentWebhook принимает уведомление шлюза. Любой ответ кроме 200 шлюз доставит повторно.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, r, newAPIError(http.StatusBadRequest, CodeInvalidInput, "failed to read body"))
		return
	}
	var n domain.PaymentNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		WriteError(w, r, newAPIError(http.StatusBadRequest, CodeInvalidInput, "invalid JSON body"))
		return
	}

	if _, err := s.deps.Payments.HandleNotification(r.Context(), n, raw); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "OK"})
}
