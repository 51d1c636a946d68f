package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// Коды ошибок в конверте ответа.
const (
	CodeInvalidInput      = "invalid_input"
	CodeUnauthenticated   = "unauthenticated"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeOutOfStock        = "insufficient_stock"
	CodeProductInactive   = "product_inactive"
	CodeInvalidState      = "invalid_state"
	CodeDuplicateRequest  = "duplicate_request"
	CodeNotPending        = "not_pending"
	CodeInvalidSignature  = "invalid_signature"
	CodeGatewayError      = "payment_gateway_error"
	CodePaymentNotNeeded  = "payment_not_required"
	CodeIdempotencyKey    = "idempotency_key_required"
	CodeIdempotencyReused = "idempotency_key_reused"
	CodeInProgress        = "request_in_progress"
	CodeInternal          = "internal_error"
)

// ErrorBody описывает содержимое поля error.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorEnvelope описывает тело ответа с ошибкой.
type ErrorEnvelope struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError описывает ошибку с HTTP-статусом и кодом для клиента.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
}

func (e APIError) Error() string {
	return e.Code + ": " + e.Message
}

func newAPIError(status int, code, message string) APIError {
	return APIError{Status: status, Code: code, Message: message}
}

// WriteError пишет конверт ошибки с request id из chi.
func WriteError(w http.ResponseWriter, r *http.Request, apiErr APIError) {
	status := apiErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, ErrorEnvelope{
		Error: ErrorBody{
			Code:    apiErr.Code,
			Message: sanitizeMessage(apiErr.Message),
			Fields:  apiErr.Fields,
		},
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// classify переводит доменную ошибку в HTTP-ответ.
func classify(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return APIError{Status: http.StatusBadRequest, Code: CodeInvalidInput, Message: "request validation failed", Fields: verr.Fields}
	case errors.Is(err, domain.ErrCartEmpty):
		return newAPIError(http.StatusBadRequest, CodeInvalidInput, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		return newAPIError(http.StatusUnauthorized, CodeUnauthenticated, "authentication required")
	case errors.Is(err, domain.ErrForbidden):
		return newAPIError(http.StatusForbidden, CodeForbidden, "forbidden")
	case errors.Is(err, domain.ErrInvalidSignature):
		return newAPIError(http.StatusForbidden, CodeInvalidSignature, "invalid signature")
	case domain.IsNotFound(err):
		return newAPIError(http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrOutOfStock):
		return newAPIError(http.StatusConflict, CodeOutOfStock, err.Error())
	case errors.Is(err, domain.ErrProductInactive):
		return newAPIError(http.StatusConflict, CodeProductInactive, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		return newAPIError(http.StatusConflict, CodeInvalidState, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		return newAPIError(http.StatusConflict, CodeDuplicateRequest, err.Error())
	case errors.Is(err, domain.ErrRequestNotPending):
		return newAPIError(http.StatusConflict, CodeNotPending, err.Error())
	case errors.Is(err, domain.ErrPaymentNotRequired):
		return newAPIError(http.StatusConflict, CodePaymentNotNeeded, err.Error())
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return newAPIError(http.StatusBadGateway, CodeGatewayError, "payment gateway is unavailable, retry payment later")
	case domain.IsConflict(err):
		return newAPIError(http.StatusConflict, CodeConflict, err.Error())
	default:
		return newAPIError(http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

// respondError классифицирует ошибку, логирует серверные сбои и пишет ответ.
func respondError(w http.ResponseWriter, r *http.Request, logger *log.Entry, err error) {
	apiErr := classify(err)
	if apiErr.Status >= http.StatusInternalServerError {
		logger.WithError(err).WithFields(log.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed")
	}
	WriteError(w, r, apiErr)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitizeMessage(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > 512 {
		value = value[:512]
	}
	return value
}
