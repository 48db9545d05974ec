package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/helm-app/landregistry/common/messaging"
)

// ReconnectFunc runs after the supervisor installs a new connection.
type ReconnectFunc func(ctx context.Context, js jetstream.JetStream) error

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Conn           Config
	Retry          RetryPolicy
	ReconnectDelay time.Duration

	// Dialer defaults to NATSDialer.
	Dialer Dialer
}

// Supervisor is the only owner of the broker connection. Other components
// read it through JetStream/IsReady and must re-check before every use.
//
// State machine: Connecting -> Connected -> Disconnected -> Reconnecting ->
// Connected | Fatal. Close moves any state to Closed.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	mu   sync.RWMutex
	conn Conn
	js   jetstream.JetStream

	state        atomic.Int32
	generation   atomic.Uint64
	reconnecting atomic.Bool
	closing      atomic.Bool

	// lifeMu orders wg.Add in OnDisconnect against wg.Wait in Close.
	lifeMu sync.Mutex

	cbMu        sync.Mutex
	onReconnect []ReconnectFunc

	fatal     chan struct{}
	fatalOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a Supervisor. Call Connect to establish the first connection.
func NewSupervisor(cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	if cfg.Dialer == nil {
		cfg.Dialer = NATSDialer
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "broker-supervisor")),
		fatal:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	s.setState(messaging.ConnConnecting)
	return s
}

// Connect performs the initial bounded-retry connect. Failure is fatal.
func (s *Supervisor) Connect(ctx context.Context) error {
	if err := s.dial(ctx); err != nil {
		s.enterFatal(err)
		return err
	}
	s.setState(messaging.ConnConnected)
	s.logger.Info("connected to NATS", slog.String("url", s.cfg.Conn.URL))
	return nil
}

func (s *Supervisor) dial(ctx context.Context) error {
	gen := s.generation.Add(1)
	onDisconnect := func(err error) {
		if s.generation.Load() != gen {
			return
		}
		s.OnDisconnect(err)
	}

	conn, js, err := Dial(ctx, s.cfg.Conn, s.cfg.Retry, s.cfg.Dialer, onDisconnect, s.logger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.conn
	s.conn, s.js = conn, js
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// OnDisconnect starts a reconnect sequence. Calls made while one is already
// running, after Close, or after Fatal are ignored.
func (s *Supervisor) OnDisconnect(err error) {
	if s.closing.Load() || s.State() == messaging.ConnFatal {
		return
	}
	if !s.reconnecting.CompareAndSwap(false, true) {
		s.logger.Debug("reconnect already in progress")
		return
	}

	s.lifeMu.Lock()
	if s.closing.Load() {
		s.lifeMu.Unlock()
		s.reconnecting.Store(false)
		return
	}
	s.wg.Add(1)
	s.setState(messaging.ConnDisconnected)
	s.lifeMu.Unlock()

	attrs := []any{slog.Duration("retry_in", s.cfg.ReconnectDelay)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.Warn("lost connection to NATS", attrs...)

	go func() {
		defer s.wg.Done()
		s.reconnect()
	}()
}

func (s *Supervisor) reconnect() {
	if err := sleep(s.ctx, s.cfg.ReconnectDelay); err != nil {
		s.reconnecting.Store(false)
		return
	}

	s.setState(messaging.ConnReconnecting)
	if err := s.dial(s.ctx); err != nil {
		if s.closing.Load() {
			s.reconnecting.Store(false)
			return
		}
		reconnectsTotal.WithLabelValues("failed").Inc()
		s.enterFatal(err)
		s.reconnecting.Store(false)
		return
	}

	s.setState(messaging.ConnConnected)
	reconnectsTotal.WithLabelValues("success").Inc()
	s.logger.Info("reconnected to NATS")

	s.runReconnectCallbacks()
	s.reconnecting.Store(false)

	// A drop during the callbacks was swallowed by the single-flight guard.
	if conn := s.currentConn(); conn != nil && !conn.IsConnected() {
		s.OnDisconnect(nil)
	}
}

func (s *Supervisor) runReconnectCallbacks() {
	s.cbMu.Lock()
	callbacks := append([]ReconnectFunc(nil), s.onReconnect...)
	s.cbMu.Unlock()

	s.mu.RLock()
	js := s.js
	s.mu.RUnlock()

	for i, fn := range callbacks {
		if err := fn(s.ctx, js); err != nil {
			s.logger.Error("reconnect callback failed", slog.Int("callback", i), slog.String("error", err.Error()))
		}
	}
}

// OnReconnect registers fn to run, in registration order, after each reconnect.
func (s *Supervisor) OnReconnect(fn ReconnectFunc) {
	s.cbMu.Lock()
	s.onReconnect = append(s.onReconnect, fn)
	s.cbMu.Unlock()
}

func (s *Supervisor) enterFatal(err error) {
	s.setState(messaging.ConnFatal)
	s.logger.Error("giving up on NATS connection", slog.String("error", err.Error()))
	s.fatalOnce.Do(func() { close(s.fatal) })
}

// Fatal is closed once reconnection has been abandoned.
func (s *Supervisor) Fatal() <-chan struct{} {
	return s.fatal
}

// State returns the current connection state.
func (s *Supervisor) State() messaging.ConnState {
	return messaging.ConnState(s.state.Load())
}

func (s *Supervisor) setState(st messaging.ConnState) {
	s.state.Store(int32(st))
	recordState(st)
}

func (s *Supervisor) currentConn() Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// IsReady reports whether the supervisor is connected and the socket is live.
func (s *Supervisor) IsReady() bool {
	if s.State() != messaging.ConnConnected {
		return false
	}
	conn := s.currentConn()
	return conn != nil && conn.IsConnected()
}

// JetStream returns the live JetStream context, or messaging.ErrNotReady.
func (s *Supervisor) JetStream() (jetstream.JetStream, error) {
	if !s.IsReady() {
		return nil, messaging.ErrNotReady
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.js == nil {
		return nil, messaging.ErrNotReady
	}
	return s.js, nil
}

// MaxPayload returns the server's max message size, or 0 if unknown.
func (s *Supervisor) MaxPayload() int64 {
	conn := s.currentConn()
	if conn == nil || !conn.IsConnected() {
		return 0
	}
	return conn.MaxPayload()
}

// CheckHealth flushes the connection to measure liveness.
func (s *Supervisor) CheckHealth(ctx context.Context) error {
	conn := s.currentConn()
	if conn == nil || !conn.IsConnected() {
		return messaging.ErrNotReady
	}
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close drains the connection and stops any reconnect in flight.
func (s *Supervisor) Close() error {
	s.lifeMu.Lock()
	first := s.closing.CompareAndSwap(false, true)
	s.lifeMu.Unlock()
	if !first {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	s.setState(messaging.ConnClosed)
	conn := s.currentConn()
	if conn == nil {
		return nil
	}
	if conn.IsConnected() {
		if err := conn.Drain(); err != nil {
			conn.Close()
			return fmt.Errorf("drain NATS connection: %w", err)
		}
		return nil
	}
	conn.Close()
	return nil
}
