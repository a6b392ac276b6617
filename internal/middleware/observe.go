package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/metrics"
)

const (
	RequestIDHeader                = "X-Request-ID"
	RequestIDContextKey contextKey = "request_id"
	loggerContextKey    contextKey = "logger"
	maxRequestIDLen                = 128
)

// RequestID tags every request with an id, reusing a sane inbound
// X-Request-ID, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), RequestIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the id set by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// Logger returns the request scoped logger set by Logging, or base.
func Logger(ctx context.Context, base logrus.FieldLogger) logrus.FieldLogger {
	if l, ok := ctx.Value(loggerContextKey).(logrus.FieldLogger); ok {
		return l
	}
	return base
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logging logs one line per request and records it in m. Panics in next
// are logged and answered with 500.
func Logging(log logrus.FieldLogger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			reqLog := log.WithFields(logrus.Fields{
				"request_id": RequestIDFromContext(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			ctx := context.WithValue(r.Context(), loggerContextKey, logrus.FieldLogger(reqLog))

			defer func() {
				if p := recover(); p != nil {
					reqLog.WithField("panic", p).Error("handler panicked")
					writeError(rec, http.StatusInternalServerError, "Internal server error")
				}
				elapsed := time.Since(start)
				m.ObserveHTTP(r.Method, rec.status, elapsed)
				entry := reqLog.WithFields(logrus.Fields{
					"status":      rec.status,
					"duration_ms": elapsed.Milliseconds(),
				})
				if rec.status >= http.StatusInternalServerError {
					entry.Warn("request failed")
				} else {
					entry.Debug("request served")
				}
			}()

			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}
