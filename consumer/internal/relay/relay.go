// Package relay turns queue deliveries into stored registrations.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/helm-app/landregistry/common/database"
	"github.com/helm-app/landregistry/common/envelope"
	"github.com/helm-app/landregistry/common/landtitle"
	"github.com/helm-app/landregistry/common/logging"
	"github.com/helm-app/landregistry/common/messaging"
	"github.com/helm-app/landregistry/common/middleware"
	"github.com/helm-app/landregistry/consumer/internal/dedupe"
	"github.com/helm-app/landregistry/consumer/internal/dlq"
	"github.com/helm-app/landregistry/consumer/internal/metrics"
	"github.com/helm-app/landregistry/consumer/internal/repository"
)

// Store persists validated submissions.
type Store interface {
	SaveRegistration(ctx context.Context, sub landtitle.Submission) (*repository.Registration, error)
}

// Config bounds how deliveries are processed.
type Config struct {
	Limits       landtitle.Limits
	MaxDeliver   int
	WriteTimeout time.Duration
}

// Relay is the consumer's per-delivery handler.
type Relay struct {
	store  Store
	cache  dedupe.Cache
	dlq    dlq.Writer
	cfg    Config
	logger *logging.Logger
}

// New creates a Relay. cache and dead may be nil.
func New(store Store, cache dedupe.Cache, dead dlq.Writer, cfg Config, logger *logging.Logger) *Relay {
	if cache == nil {
		cache = dedupe.NoOpCache{}
	}
	if cfg.Limits == (landtitle.Limits{}) {
		cfg.Limits = landtitle.DefaultLimits()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Relay{
		store:  store,
		cache:  cache,
		dlq:    dead,
		cfg:    cfg,
		logger: logger.Component("consumer-relay"),
	}
}

// OnMessage processes one delivery and returns how it should be settled.
// It never settles the delivery itself.
func (r *Relay) OnMessage(ctx context.Context, d *messaging.Delivery) messaging.Outcome {
	outcome := r.process(ctx, d)
	metrics.DeliveriesTotal.WithLabelValues(outcome.String()).Inc()
	return outcome
}

func (r *Relay) process(ctx context.Context, d *messaging.Delivery) messaging.Outcome {
	data := d.Data()
	logger := r.logger.With(logging.Attempt(d.Attempt()))
	if reqID := d.Header(messaging.HeaderRequestID); reqID != "" {
		ctx = middleware.WithRequestID(ctx, reqID)
	}

	sub, err := envelope.Decode(data)
	if err != nil {
		return r.discard(ctx, logger, d, envelope.PeekID(data), dlq.ReasonDecode, err)
	}
	ctx = logging.ContextWithSubmission(ctx, sub.ID)

	if err := landtitle.Validate(sub, r.cfg.Limits); err != nil {
		return r.discard(ctx, logger, d, sub.ID, dlq.ReasonValidation, err)
	}

	seen, err := r.cache.Seen(ctx, sub.ID)
	if err != nil {
		logger.WarnContext(ctx, "dedupe lookup failed", logging.Error(err))
	} else if seen {
		metrics.DuplicatesTotal.WithLabelValues("cache").Inc()
		logger.InfoContext(ctx, "duplicate delivery skipped")
		return messaging.OutcomeAck
	}

	sub = sub.WithGeneratedNumbers()

	wctx, cancel := database.WriteContext(ctx, r.cfg.WriteTimeout)
	start := time.Now()
	reg, err := r.store.SaveRegistration(wctx, sub)
	cancel()
	metrics.StorageDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, repository.ErrDuplicateSubmission):
		metrics.DuplicatesTotal.WithLabelValues("store").Inc()
		logger.InfoContext(ctx, "submission already stored")
		r.mark(ctx, logger, sub.ID)
		return messaging.OutcomeAck
	case errors.Is(err, repository.ErrInvalidRecord):
		metrics.StorageErrors.WithLabelValues("rejected").Inc()
		return r.discard(ctx, logger, d, sub.ID, dlq.ReasonRejected, err)
	default:
		metrics.StorageErrors.WithLabelValues("unavailable").Inc()
		if r.exhausted(d) {
			return r.discard(ctx, logger, d, sub.ID, dlq.ReasonMaxDeliveries, err)
		}
		logger.WarnContext(ctx, "storage failed, requeueing", logging.Error(err))
		return messaging.OutcomeRejectRequeue
	}

	r.mark(ctx, logger, sub.ID)
	logger.InfoContext(ctx, "registration stored",
		slog.Int64("registration_id", reg.ID),
		slog.String("title_number", reg.TitleNumber),
		slog.Int("attachments", reg.AttachmentCount),
	)
	return messaging.OutcomeAck
}

func (r *Relay) exhausted(d *messaging.Delivery) bool {
	return r.cfg.MaxDeliver > 0 && d.Attempt() >= r.cfg.MaxDeliver
}

func (r *Relay) mark(ctx context.Context, logger *logging.Logger, id string) {
	if err := r.cache.Mark(ctx, id); err != nil {
		logger.WarnContext(ctx, "dedupe mark failed", logging.Error(err))
	}
}

// discard dead-letters the delivery and rejects it without requeue. When the
// DLQ write fails the delivery is requeued instead, until it runs out of attempts.
func (r *Relay) discard(ctx context.Context, logger *logging.Logger, d *messaging.Delivery, id, reason string, cause error) messaging.Outcome {
	logger.WarnContext(ctx, "discarding submission", slog.String("reason", reason), logging.Error(cause))
	if r.dlq == nil {
		return messaging.OutcomeRejectNoRequeue
	}

	err := r.dlq.Write(ctx, dlq.Failure{
		SubmissionID: id,
		Reason:       reason,
		Err:          cause,
		Attempts:     d.Attempt(),
		Payload:      d.Data(),
	})
	if err == nil {
		metrics.DLQTotal.WithLabelValues(reason).Inc()
		return messaging.OutcomeRejectNoRequeue
	}
	if !r.exhausted(d) {
		logger.WarnContext(ctx, "dlq write failed, requeueing", logging.Error(err))
		return messaging.OutcomeRejectRequeue
	}
	logger.ErrorContext(ctx, "dlq write failed, submission dropped", logging.Error(err))
	return messaging.OutcomeRejectNoRequeue
}
