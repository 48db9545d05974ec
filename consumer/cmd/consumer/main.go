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

	"github.com/helm-app/landregistry/common/database"
	"github.com/helm-app/landregistry/common/landtitle"
	"github.com/helm-app/landregistry/common/logging"
	natsclient "github.com/helm-app/landregistry/common/messaging/nats"
	"github.com/helm-app/landregistry/consumer/internal/blobstore"
	"github.com/helm-app/landregistry/consumer/internal/config"
	"github.com/helm-app/landregistry/consumer/internal/dedupe"
	"github.com/helm-app/landregistry/consumer/internal/dlq"
	"github.com/helm-app/landregistry/consumer/internal/handlers"
	"github.com/helm-app/landregistry/consumer/internal/relay"
	"github.com/helm-app/landregistry/consumer/internal/repository"
	"github.com/helm-app/landregistry/consumer/internal/server"
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
	).With(logging.Service("consumer"))
	logging.SetDefault(logger)

	slog.Info("Starting Consumer service",
		slog.Int("port", cfg.Server.Port),
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("queue", cfg.Queue.Name),
		slog.String("database_driver", cfg.Database.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize repository", logging.Error(err))
		os.Exit(1)
	}
	defer repo.Close()

	// Dedupe cache
	var cache dedupe.Cache = dedupe.NoOpCache{}
	if cfg.Redis.Enabled {
		rc, err := dedupe.NewRedisCache(ctx, cfg.Redis.URL, cfg.Redis.DedupeTTL)
		if err != nil {
			slog.Error("Failed to connect to Redis", logging.Error(err))
			os.Exit(1)
		}
		cache = rc
		slog.Info("Redis dedupe cache enabled", slog.Duration("ttl", cfg.Redis.DedupeTTL))
	}
	defer cache.Close()

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

	if err := sup.Connect(ctx); err != nil {
		slog.Error("Failed to connect to NATS", logging.Error(err))
		os.Exit(1)
	}
	defer sup.Close()

	queue := natsclient.NewQueue(sup, natsclient.QueueConfig{
		Name:    cfg.Queue.Name,
		Subject: cfg.Queue.Subject,
		Consumer: natsclient.ConsumerConfig{
			Name:          cfg.Queue.ConsumerName,
			FilterSubject: cfg.Queue.Subject,
			AckWait:       cfg.Queue.AckWait,
			MaxDeliver:    cfg.Queue.MaxDeliver,
			MaxAckPending: cfg.Queue.MaxAckPending,
		},
		RequeueDelay: cfg.Queue.RequeueDelay,
	}, logger.Logger)

	declareCtx, declareCancel := context.WithTimeout(ctx, 30*time.Second)
	err = queue.DeclareQueue(declareCtx)
	declareCancel()
	if err != nil {
		slog.Error("Failed to declare queue", slog.String("queue", cfg.Queue.Name), logging.Error(err))
		os.Exit(1)
	}

	// Dead letter stream
	var (
		deadWriter dlq.Writer
		deadReader handlers.DeadLetters
	)
	if cfg.DLQ.Enabled {
		dead, err := dlq.NewJetStreamDLQ(ctx, sup, cfg.DLQ.Stream, cfg.DLQ.Subject, logger.Logger)
		if err != nil {
			slog.Error("Failed to initialize DLQ", logging.Error(err))
			os.Exit(1)
		}
		deadWriter, deadReader = dead, dead
	}

	r := relay.New(repo, cache, deadWriter, relay.Config{
		Limits: landtitle.Limits{
			MaxAttachments:     cfg.Ingestion.MaxAttachments,
			MaxAttachmentBytes: cfg.Ingestion.MaxAttachmentBytes,
		},
		MaxDeliver:   cfg.Queue.MaxDeliver,
		WriteTimeout: cfg.Database.WriteTimeout,
	}, logger)

	// The queue re-attaches the subscription after every reconnect.
	sub, err := queue.Consume(ctx, r.OnMessage)
	if err != nil {
		slog.Error("Failed to start consuming", logging.Error(err))
		os.Exit(1)
	}

	router := server.NewRouter(handlers.New(repo, sup, deadReader, logger.Logger), logger.Logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Consumer service listening", slog.String("addr", srv.Addr))
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

	// Stop taking deliveries first; unsettled ones are redelivered after AckWait.
	if err := sub.Unsubscribe(); err != nil {
		slog.Warn("Unsubscribe failed", logging.Error(err))
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

// openRepository runs migrations and opens the configured registration store.
func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	if cfg.Database.Driver == "memory" {
		slog.Warn("Using in-memory registration store; data is lost on restart")
		return repository.NewInMemoryRepository(), nil
	}

	connString := cfg.Database.Postgres.ConnString()
	version, err := database.Migrate(cfg.Database.MigrationsPath, connString)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("Database migrations applied", slog.Uint64("version", uint64(version)))

	opts := repository.PostgresOptions{MaxConns: cfg.Database.MaxConns}
	if cfg.BlobStore.Enabled {
		store, err := blobstore.NewMinIO(blobstore.Config{
			Endpoint:  cfg.BlobStore.Endpoint,
			AccessKey: cfg.BlobStore.AccessKey,
			SecretKey: cfg.BlobStore.SecretKey,
			UseTLS:    cfg.BlobStore.UseTLS,
			Bucket:    cfg.BlobStore.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("blob store: %w", err)
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := store.EnsureBucket(bucketCtx); err != nil {
			return nil, fmt.Errorf("blob store: %w", err)
		}
		opts.Blobs = store
		slog.Info("Attachment blob store enabled", slog.String("bucket", store.Bucket()))
	}

	return repository.NewPostgresRepository(ctx, connString, opts)
}
