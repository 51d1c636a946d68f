package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/metrics"
)

// accessLog пишет одну запись logrus на запрос и метрику длительности по шаблону маршрута.
func accessLog(logger *log.Entry, m *metrics.ShopMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				latency := time.Since(start)
				route := routePattern(r)
				m.ObserveHTTPRequest(r.Method, route, status, latency)

				entry := logger.WithFields(log.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"method":     r.Method,
					"route":      route,
					"status":     status,
					"latency_ms": latency.Milliseconds(),
					"bytes":      ww.BytesWritten(),
					"remote_ip":  r.RemoteAddr,
				})
				switch {
				case status >= http.StatusInternalServerError:
					entry.Error("request completed")
				case status >= http.StatusBadRequest:
					entry.Warn("request completed")
				default:
					entry.Info("request completed")
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// recoverer превращает панику обработчика в 500 с конвертом ошибки.
func recoverer(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.WithFields(log.Fields{
						"request_id": middleware.GetReqID(r.Context()),
						"panic":      rec,
					}).Error("handler panic")
					WriteError(w, r, newAPIError(http.StatusInternalServerError, CodeInternal, "internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// routePattern возвращает шаблон chi, чтобы не раздувать кардинальность метрик.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func queryInt(r *http.Request, name string, fallback, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
