// Package httpapi реализует HTTP/JSON API витрины и админки.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/metrics"
	"github.com/vladislavdragonenkov/quickshop/internal/service/cancellation"
	"github.com/vladislavdragonenkov/quickshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/quickshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/quickshop/internal/service/payment"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxBodyBytes          = 1 << 20
	defaultListLimit      = 50
	maxListLimit          = 200
)

// Deps содержит зависимости API. Health может быть nil.
type Deps struct {
	Catalog       *catalog.Service
	Checkout      *checkout.Service
	Payments      *payment.Processor
	Cancellations *cancellation.Service

	Orders      domain.OrderRepository
	Carts       domain.CartRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository

	Auth    *Authenticator
	Health  http.Handler
	Metrics *metrics.ShopMetrics
	Logger  *log.Entry

	RequestTimeout time.Duration
}

// Server обслуживает HTTP API.
type Server struct {
	deps   Deps
	logger *log.Entry
}

// NewServer проверяет зависимости и создаёт сервер.
func NewServer(deps Deps) (*Server, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("httpapi: catalog service is required")
	case deps.Checkout == nil:
		return nil, errors.New("httpapi: checkout service is required")
	case deps.Payments == nil:
		return nil, errors.New("httpapi: payment processor is required")
	case deps.Cancellations == nil:
		return nil, errors.New("httpapi: cancellation service is required")
	case deps.Orders == nil || deps.Carts == nil:
		return nil, errors.New("httpapi: order and cart repositories are required")
	case deps.Auth == nil:
		return nil, errors.New("httpapi: authenticator is required")
	}
	if deps.Logger == nil {
		deps.Logger = log.WithField("component", "http-api")
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	return &Server{deps: deps, logger: deps.Logger}, nil
}

// Routes собирает chi-роутер со всеми маршрутами.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger, s.deps.Metrics))
	r.Use(recoverer(s.logger))
	r.Use(middleware.Timeout(s.deps.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, newAPIError(http.StatusNotFound, CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, newAPIError(http.StatusMethodNotAllowed, CodeInvalidInput, "method not allowed"))
	})

	if s.deps.Health != nil {
		r.Method(http.MethodGet, "/healthz", s.deps.Health)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", s.listProducts)
		r.Get("/products/{slug}", s.getProduct)
		r.Get("/categories", s.listCategories)

		r.Post("/payment/webhook", s.paymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.deps.Auth.RequireUser)

			r.Get("/me/cart", s.getCart)
			r.Put("/me/cart", s.replaceCart)

			r.With(idempotent(s.deps.Idempotency, s.logger)).Post("/me/orders", s.placeOrder)
			r.Get("/me/orders", s.listMyOrders)
			r.Get("/me/orders/{id}", s.getMyOrder)
			r.Post("/me/orders/{id}/payment", s.retryPayment)

			r.Post("/orders/cancel", s.requestCancellation)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)

				r.Get("/orders", s.adminListOrders)
				r.Get("/cancellations", s.adminListCancellations)
				r.Post("/cancellations/{id}/approve", s.adminApproveCancellation)
				r.Post("/cancellations/{id}/reject", s.adminRejectCancellation)

				r.Get("/products", s.adminListProducts)
				r.Post("/products", s.adminCreateProduct)
				r.Put("/products/{id}", s.adminUpdateProduct)
				r.Delete("/products/{id}", s.adminDeleteProduct)
			})
		})
	})

	return r
}

// decodeJSON читает тело запроса в dst, запрещая неизвестные поля.
func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return newAPIError(http.StatusBadRequest, CodeInvalidInput, "invalid JSON body: "+err.Error())
	}
	return nil
}

// decodeOptionalJSON допускает пустое тело.
func decodeOptionalJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return newAPIError(http.StatusBadRequest, CodeInvalidInput, "failed to read body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return newAPIError(http.StatusBadRequest, CodeInvalidInput, "invalid JSON body: "+err.Error())
	}
	return nil
}

// principal возвращает пользователя запроса; RequireUser гарантирует его наличие.
func principal(r *http.Request) Principal {
	p, _ := PrincipalFromContext(r.Context())
	return p
}
