package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

const (
	// IdempotencyKeyHeader: заголовок ключа идемпотентности оформления заказа.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader выставляется на ответах, отданных из кеша.
	ReplayedHeader = "Idempotent-Replayed"

	idempotencyTTL     = 24 * time.Hour
	maxIdempotencyBody = 1 << 20
)

// idempotent гарантирует, что запрос с одним ключом выполняется один раз:
// повтор с тем же телом получает сохранённый ответ, с другим телом получает 409.
func idempotent(repo domain.IdempotencyRepository, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if repo == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if key == "" {
				WriteError(w, r, newAPIError(http.StatusBadRequest, CodeIdempotencyKey, "Idempotency-Key header is required"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBody+1))
			if err != nil {
				WriteError(w, r, newAPIError(http.StatusBadRequest, CodeInvalidInput, "failed to read request body"))
				return
			}
			if len(body) > maxIdempotencyBody {
				WriteError(w, r, newAPIError(http.StatusRequestEntityTooLarge, CodeInvalidInput, "request body is too large"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scope := r.Method + " " + r.URL.Path
			if p, ok := PrincipalFromContext(r.Context()); ok {
				scope = p.UserID + ":" + scope
			}
			hash := domain.HashRequest(scope, body)
			entry := logger.WithField("idempotency_key", key)

			record, err := repo.CreateProcessing(r.Context(), key, hash, time.Now().UTC().Add(idempotencyTTL))
			if err != nil {
				replayIdempotent(w, r, entry, record, err)
				return
			}

			rec := &capturingWriter{ResponseWriter: w}
			defer func() {
				if p := recover(); p != nil {
					// Ключ не должен оставаться в processing до конца TTL; ответ 500 пишет recoverer.
					markPanicked(r, repo, entry, key)
					panic(p)
				}
			}()
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			if status < http.StatusBadRequest {
				err = repo.MarkDone(r.Context(), key, rec.body.Bytes(), status)
			} else {
				err = repo.MarkFailed(r.Context(), key, rec.body.Bytes(), status)
			}
			if err != nil {
				entry.WithError(err).Warn("failed to store idempotent response")
			}
		})
	}
}

func markPanicked(r *http.Request, repo domain.IdempotencyRepository, logger *log.Entry, key string) {
	body, _ := json.Marshal(ErrorEnvelope{
		Error:     ErrorBody{Code: CodeInternal, Message: "internal server error"},
		RequestID: middleware.GetReqID(r.Context()),
	})
	if err := repo.MarkFailed(context.WithoutCancel(r.Context()), key, body, http.StatusInternalServerError); err != nil {
		logger.WithError(err).Warn("failed to release idempotency key after panic")
	}
}

func replayIdempotent(w http.ResponseWriter, r *http.Request, logger *log.Entry, record domain.IdempotencyRecord, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		WriteError(w, r, newAPIError(http.StatusConflict, CodeIdempotencyReused, "idempotency key is already used with a different request"))
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Replayable() {
			WriteError(w, r, newAPIError(http.StatusConflict, CodeInProgress, "request with the same idempotency key is still processing"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(record.HTTPStatus)
		_, _ = w.Write(record.ResponseBody)
	default:
		logger.WithError(createErr).Error("failed to create idempotency record")
		WriteError(w, r, newAPIError(http.StatusInternalServerError, CodeInternal, "failed to initialize idempotent request"))
	}
}

// capturingWriter копирует ответ, чтобы сохранить его для повторов.
type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *capturingWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
