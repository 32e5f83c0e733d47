package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --------------------------------------------------------------------------
// Middleware (logging, metrics, panic recovery)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// instrument wraps the handler chain with request ids, structured request
// logging, per-status counters, and panic recovery. A panicking handler
// yields a 500 to the client and never takes down the process.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panicked",
					zap.String("request_id", requestID),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
				)
				writeError(rw, newError(http.StatusInternalServerError,
					"InternalError", "internal server error"))
			}
			metrics.GetOrCreateCounter(fmt.Sprintf(
				`annod_http_requests_total{method=%q,status="%d"}`,
				r.Method, rw.statusCode,
			)).Inc()
			s.logger.Debug("request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Duration("duration", time.Since(start)),
			)
		}()

		next.ServeHTTP(rw, r)
	})
}
