package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/metrics"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/semaphore"
)

// RequestIDHeader carries the per-request id back to the caller.
const RequestIDHeader = "X-Request-Id"

// loggingMiddleware logs details about each request and response
func loggingMiddleware(logger zerolog.Logger, recorder *metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = ksuid.New().String()
			}
			w.Header().Set(RequestIDHeader, requestID)

			// Inject logger into request context
			ctx := logger.With().Str("request_id", requestID).Logger().WithContext(r.Context())
			r = r.WithContext(ctx)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			zerolog.Ctx(ctx).Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("query", r.URL.RawQuery).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Msg("Incoming request")

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			recorder.Request(r.Method, strconv.Itoa(rw.statusCode), duration.Seconds())

			zerolog.Ctx(ctx).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status_code", rw.statusCode).
				Dur("duration", duration).
				Msg("Request completed")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// limitMiddleware serves at most workers requests at once; the rest wait
// until a slot frees up or the client goes away. workers <= 0 disables the
// limit.
func limitMiddleware(workers int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if workers <= 0 {
			return next
		}

		sem := semaphore.NewWeighted(workers)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sem.Acquire(r.Context(), 1); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Request abandoned while waiting for a worker")
				http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				return
			}
			defer sem.Release(1)

			next.ServeHTTP(w, r)
		})
	}
}
