package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helm-app/landregistry/common/landtitle"
	"github.com/helm-app/landregistry/common/middleware"
	"github.com/helm-app/landregistry/consumer/internal/handlers"
	"github.com/helm-app/landregistry/consumer/internal/repository"
)

func TestRouter_Endpoints(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	_, err := repo.SaveRegistration(context.Background(), landtitle.Submission{ID: "sub-1"})
	assert.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(handlers.New(repo, nil, nil, logger), logger)

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusServiceUnavailable},
		{http.MethodGet, "/registrations", http.StatusOK},
		{http.MethodGet, "/registrations/sub-1", http.StatusOK},
		{http.MethodGet, "/registrations/sub-2", http.StatusNotFound},
		{http.MethodGet, "/dlq", http.StatusNotFound},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPost, "/registrations", http.StatusMethodNotAllowed},
		{http.MethodGet, "/register", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))
		})
	}
}
