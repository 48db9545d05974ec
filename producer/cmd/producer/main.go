package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helm-app/landregistry/common/landtitle"
	"github.com/helm-app/landregistry/common/logging"
	natsclient "github.com/helm-app/landregistry/common/messaging/nats"
	"github.com/helm-app/landregistry/producer/internal/auth"
	"github.com/helm-app/landregistry/producer/internal/config"
	"github.com/helm-app/landregistry/producer/internal/handlers"
	"github.com/helm-app/landregistry/producer/internal/server"
	"github.com/helm-app/landregistry/producer/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("producer"))
	logging.SetDefault(logger)

	slog.Info("Starting Producer service",
		slog.Int("port", cfg.Server.Port),
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("queue", cfg.Queue.Name),
	)

	// Connect to the broker; exhausting the retry budget is fatal
	sup := natsclient.NewSupervisor(natsclient.SupervisorConfig{
		Conn: natsclient.Config{
			URL:      cfg.NATS.URL,
			Name:     cfg.NATS.Name,
			Timeout:  cfg.NATS.ConnectTimeout,
			Username: cfg.NATS.Username,
			Password: cfg.NATS.Password,
			Token:    cfg.NATS.Token,
		},
		Retry: natsclient.RetryPolicy{
			Attempts: cfg.NATS.ConnectAttempts,
			Delay:    cfg.NATS.ConnectDelay,
		},
		ReconnectDelay: cfg.NATS.ReconnectDelay,
	}, logger.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Connect(ctx); err != nil {
		slog.Error("Failed to connect to NATS", logging.Error(err))
		os.Exit(1)
	}
	defer sup.Close()

	if limit := sup.MaxPayload(); limit > 0 && limit < cfg.Ingestion.MaxPayloadBytes {
		slog.Warn("NATS max_payload is below the ingestion payload cap; large submissions will be refused",
			slog.Int64("server_max_payload", limit),
			slog.Int64("max_payload_bytes", cfg.Ingestion.MaxPayloadBytes))
	}

	queue := natsclient.NewQueue(sup, natsclient.QueueConfig{
		Name:           cfg.Queue.Name,
		Subject:        cfg.Queue.Subject,
		PublishTimeout: cfg.Queue.PublishTimeout,
	}, logger.Logger)

	declareCtx, declareCancel := context.WithTimeout(ctx, 30*time.Second)
	err = queue.DeclareQueue(declareCtx)
	declareCancel()
	if err != nil {
		slog.Error("Failed to declare queue", slog.String("queue", cfg.Queue.Name), logging.Error(err))
		os.Exit(1)
	}

	relay := service.NewRelay(queue, service.Options{
		Limits: landtitle.Limits{
			MaxAttachments:     cfg.Ingestion.MaxAttachments,
			MaxAttachmentBytes: cfg.Ingestion.MaxAttachmentBytes,
		},
		MaxPayloadBytes: cfg.Ingestion.MaxPayloadBytes,
	}, logger)

	handler := handlers.NewRegisterHandler(relay, sup, cfg.Ingestion.MaxPayloadBytes, logger.Logger)

	var requireAuth func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		requireAuth = auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer).RequireBearer(logger.Logger)
		slog.Info("Bearer token verification enabled for /register")
	}
	router := server.NewRouter(handler, requireAuth, logger.Logger)

	// Create server with config values
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Producer service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		slog.Info("Received signal", slog.String("signal", sig.String()))
	case <-sup.Fatal():
		slog.Error("Broker connection lost permanently, exiting")
		exitCode = 1
	case err := <-serverErr:
		slog.Error("Server error", logging.Error(err))
		exitCode = 1
	}

	slog.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
		exitCode = 1
	}
	if err := sup.Close(); err != nil {
		slog.Warn("Broker close failed", logging.Error(err))
	}

	slog.Info("Server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
