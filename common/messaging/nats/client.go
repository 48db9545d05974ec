// Package nats implements the messaging contract on NATS JetStream.
//
// The library's own reconnect loop is disabled: a dropped connection is closed
// and reported to the Supervisor, which owns every redial.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrConnect is returned when the connect retry budget is exhausted.
var ErrConnect = errors.New("nats: connect retries exhausted")

// Config holds NATS client configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// Timeout bounds a single connect attempt.
	Timeout time.Duration

	// Username for authentication (optional).
	Username string

	// Password for authentication (optional).
	Password string

	// Token for token-based authentication (optional).
	Token string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     nats.DefaultURL,
		Name:    "landregistry",
		Timeout: 5 * time.Second,
	}
}

// RetryPolicy bounds connection attempts.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy is 10 attempts, 3s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 10, Delay: 3 * time.Second}
}

// Conn is the part of *nats.Conn the supervisor and queue depend on.
type Conn interface {
	IsConnected() bool
	FlushTimeout(timeout time.Duration) error
	MaxPayload() int64
	Drain() error
	Close()
}

// Dialer opens one connection. onDisconnect must be invoked when the
// connection is lost.
type Dialer func(ctx context.Context, cfg Config, onDisconnect func(error)) (Conn, jetstream.JetStream, error)

// NATSDialer connects to a real NATS server with reconnection disabled.
func NATSDialer(ctx context.Context, cfg Config, onDisconnect func(error)) (Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = nats.ErrConnectionClosed
			}
			onDisconnect(err)
		}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return nc, js, nil
}

// Dial runs the bounded connect loop: up to policy.Attempts tries separated by
// policy.Delay. It returns ErrConnect once the budget is spent, or ctx's error
// if ctx ends first.
func Dial(ctx context.Context, cfg Config, policy RetryPolicy, dial Dialer, onDisconnect func(error), logger *slog.Logger) (Conn, jetstream.JetStream, error) {
	if dial == nil {
		dial = NATSDialer
	}
	if logger == nil {
		logger = slog.Default()
	}
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, js, err := dial(ctx, cfg, onDisconnect)
		if err == nil {
			if attempt > 1 {
				logger.Info("connected to NATS", slog.String("url", cfg.URL), slog.Int("attempt", attempt))
			}
			return conn, js, nil
		}
		lastErr = err
		logger.Warn("NATS connect attempt failed",
			slog.String("url", cfg.URL),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, policy.Delay); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, fmt.Errorf("%w after %d attempts: %v", ErrConnect, attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
