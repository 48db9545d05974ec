package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helm-app/landregistry/common/middleware"
	"github.com/helm-app/landregistry/consumer/internal/handlers"
)

// NewRouter constructs a ServeMux with the consumer routes registered.
func NewRouter(h *handlers.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Registrations
	mux.HandleFunc("GET /registrations", h.ListRegistrations)
	mux.HandleFunc("GET /registrations/{id}", h.GetRegistration)

	// Dead letters
	mux.HandleFunc("GET /dlq", h.DeadLetters)

	// Health endpoints
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = middleware.Recover(logger)(handler)
	handler = middleware.AccessLog(logger, "/health", "/readyz", "/metrics")(handler)
	return middleware.RequestID(handler)
}
