package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helm-app/landregistry/common/middleware"
	"github.com/helm-app/landregistry/producer/internal/handlers"
)

// NewRouter constructs a ServeMux with the producer routes registered.
// requireAuth, when non-nil, guards POST /register.
func NewRouter(h *handlers.RegisterHandler, requireAuth func(http.Handler) http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	var register http.Handler = http.HandlerFunc(h.Register)
	if requireAuth != nil {
		register = requireAuth(register)
	}
	mux.Handle("/register", register)

	// Health endpoints
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = middleware.Recover(logger)(handler)
	handler = middleware.AccessLog(logger, "/health", "/readyz", "/metrics")(handler)
	return middleware.RequestID(handler)
}
