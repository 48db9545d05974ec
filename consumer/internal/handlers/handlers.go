// Package handlers serves the consumer's read API and health probes.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/helm-app/landregistry/common/httputil"
	"github.com/helm-app/landregistry/common/logging"
	"github.com/helm-app/landregistry/common/messaging"
	"github.com/helm-app/landregistry/consumer/internal/dlq"
	"github.com/helm-app/landregistry/consumer/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Store is the read side of the registration repository.
type Store interface {
	GetRegistration(ctx context.Context, submissionID string) (*repository.Registration, error)
	ListRegistrations(ctx context.Context, limit, offset int) ([]repository.Registration, int, error)
	Ping(ctx context.Context) error
}

// DeadLetters exposes the DLQ for inspection.
type DeadLetters interface {
	List(ctx context.Context, limit int) ([]dlq.Entry, error)
	Stats(ctx context.Context) dlq.Stats
}

// Handler serves the consumer HTTP API.
type Handler struct {
	store  Store
	broker messaging.HealthChecker
	dead   DeadLetters
	logger *slog.Logger
}

// New creates a Handler. dead may be nil when the DLQ is disabled.
func New(store Store, broker messaging.HealthChecker, dead DeadLetters, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  store,
		broker: broker,
		dead:   dead,
		logger: logger.With(slog.String(logging.FieldComponent, "consumer-handler")),
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Service: "consumer"})
}

type databaseStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type readyResponse struct {
	Status   string                 `json:"status"`
	Service  string                 `json:"service"`
	Broker   messaging.HealthStatus `json:"broker"`
	Database databaseStatus         `json:"database"`
}

// Ready handles GET /readyz: 200 only while both the broker and the database answer.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := readyResponse{
		Status:   "ready",
		Service:  "consumer",
		Broker:   messaging.CheckHealth(ctx, h.broker),
		Database: databaseStatus{Connected: true},
	}
	if err := h.store.Ping(ctx); err != nil {
		resp.Database = databaseStatus{Error: err.Error()}
	}

	status := http.StatusOK
	if !resp.Broker.Connected || !resp.Database.Connected {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

type listResponse struct {
	Registrations []repository.Registration `json:"registrations"`
	Pagination    httputil.Pagination       `json:"pagination"`
}

// ListRegistrations handles GET /registrations?page=&limit=.
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParsePagination(r, defaultPageSize, maxPageSize)

	regs, total, err := h.store.ListRegistrations(r.Context(), page.Limit, page.Offset())
	if err != nil {
		h.storeError(w, r, "list registrations", err)
		return
	}
	if regs == nil {
		regs = []repository.Registration{}
	}
	page.Total = total
	httputil.WriteJSON(w, http.StatusOK, listResponse{Registrations: regs, Pagination: page})
}

// GetRegistration handles GET /registrations/{id}, where id is the submission ID.
func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "submission id is required")
		return
	}

	reg, err := h.store.GetRegistration(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "Registration not found")
			return
		}
		h.storeError(w, r, "get registration", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reg)
}

type dlqResponse struct {
	Stats   dlq.Stats   `json:"stats"`
	Entries []dlq.Entry `json:"entries"`
}

// DeadLetters handles GET /dlq?limit=.
func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.dead == nil {
		httputil.WriteError(w, http.StatusNotFound, "Dead letter queue not enabled")
		return
	}
	limit := httputil.ParseIntParam(r.URL.Query().Get("limit"), 50)
	if limit < 1 || limit > maxPageSize {
		limit = 50
	}

	entries, err := h.dead.List(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list dlq", logging.Error(err))
		httputil.WriteErrorDetail(w, http.StatusServiceUnavailable, "Service Unavailable", "dead letter queue unavailable")
		return
	}
	if entries == nil {
		entries = []dlq.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, dlqResponse{Stats: h.dead.Stats(r.Context()), Entries: entries})
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), "failed to "+op, logging.Error(err))
	if errors.Is(err, repository.ErrUnavailable) {
		httputil.WriteErrorDetail(w, http.StatusServiceUnavailable, "Service Unavailable", "registration store unavailable")
		return
	}
	httputil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
}
