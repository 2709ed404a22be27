// Package httptransport assembles the public HTTP surface: the proof API,
// health endpoints, and Prometheus metrics.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sigillum/internal/platform/middleware"
	proofhandler "sigillum/internal/proof/handler"
	"sigillum/internal/transport/http/shared"
)

// HealthChecker reports whether a backing resource is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps carries everything the router mounts.
type Deps struct {
	Logger       *slog.Logger
	Proofs       proofhandler.Service
	JWTValidator middleware.JWTValidator
	// Checks maps a resource name to its health probe. Nil checkers are skipped.
	Checks map[string]HealthChecker
}

// NewRouter wires all public endpoints.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", handleHealth(deps))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Mounted last so the static routes above win over the proof subtree.
	proofhandler.New(deps.Proofs, deps.Logger, deps.JWTValidator).Register(r)

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		for name, checker := range deps.Checks {
			if checker == nil {
				continue
			}
			if err := checker.Health(ctx); err != nil {
				deps.Logger.WarnContext(ctx, "health check failed",
					"resource", name,
					"error", err,
				)
				shared.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "unhealthy",
					"resource": name,
				})
				return
			}
		}
		shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
