package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/storage/memory"
)

func TestIdempotentReleasesKeyAfterPanic(t *testing.T) {
	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)
	repo := memory.NewIdempotencyRepository()

	calls := 0
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoverer(entry))
	r.With(idempotent(repo, entry)).Post("/orders", func(http.ResponseWriter, *http.Request) {
		calls++
		panic("boom")
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"qty":1}`))
		req.Header.Set(IdempotencyKeyHeader, "key-panic")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusInternalServerError, first.Code)
	assert.Equal(t, CodeInternal, decodeBody[ErrorEnvelope](t, first).Error.Code)

	record, err := repo.Get(context.Background(), "key-panic")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, record.Status)
	assert.Equal(t, http.StatusInternalServerError, record.HTTPStatus)

	retry := send()
	require.Equal(t, http.StatusInternalServerError, retry.Code)
	assert.Equal(t, "true", retry.Header().Get(ReplayedHeader))
	assert.Equal(t, CodeInternal, decodeBody[ErrorEnvelope](t, retry).Error.Code, "retry is not stuck in progress")
	assert.Equal(t, 1, calls)
}
