package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Checker reports whether a dependency is usable.
type Checker interface {
	Ready(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Ready(ctx context.Context) error { return f(ctx) }

// Status is the JSON body of the health endpoints.
type Status struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LivenessHandler always reports UP while the process serves requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, Status{Status: "UP"})
	}
}

// ReadinessHandler runs every checker and reports 503 if any fails.
func ReadinessHandler(timeout time.Duration, checkers map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		status := Status{Status: "UP", Checks: make(map[string]string, len(checkers))}
		code := http.StatusOK
		for name, checker := range checkers {
			if err := checker.Ready(ctx); err != nil {
				logger.Warn().Err(err).Str("check", name).Msg("Readiness check failed")
				status.Status = "DOWN"
				status.Checks[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status.Checks[name] = "UP"
		}

		writeStatus(w, code, status)
	}
}

func writeStatus(w http.ResponseWriter, code int, status Status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
