// Package service turns registration requests into durable queue messages.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helm-app/landregistry/common/envelope"
	"github.com/helm-app/landregistry/common/landtitle"
	"github.com/helm-app/landregistry/common/logging"
	"github.com/helm-app/landregistry/common/messaging"
	msgnats "github.com/helm-app/landregistry/common/messaging/nats"
	"github.com/helm-app/landregistry/common/middleware"
	"github.com/helm-app/landregistry/producer/internal/metrics"
)

// ErrPayloadTooLarge is returned when the encoded envelope exceeds the configured cap.
var ErrPayloadTooLarge = errors.New("submission payload too large")

// RejectReason says why a submission was not accepted.
type RejectReason string

const (
	ReasonValidation  RejectReason = "validation_error"
	ReasonUnavailable RejectReason = "service_unavailable"
)

// RawSubmission is a registration request as received over HTTP, before
// any coercion or validation.
type RawSubmission struct {
	Fields      map[string]any
	Attachments []landtitle.Attachment
}

// Result is the outcome of Submit. Exactly one of Accepted or Reason is set.
type Result struct {
	Accepted     bool
	SubmissionID string
	Reason       RejectReason
	Errors       []landtitle.FieldError
}

// Rejected reports whether the submission was refused.
func (r Result) Rejected() bool { return !r.Accepted }

// Options configures a Relay.
type Options struct {
	Limits          landtitle.Limits
	MaxPayloadBytes int64

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() (string, error)
}

// Relay validates submissions and publishes them to the durable queue.
type Relay struct {
	pub    messaging.Publisher
	opts   Options
	logger *logging.Logger
}

// NewRelay creates a Relay publishing through pub.
func NewRelay(pub messaging.Publisher, opts Options, logger *logging.Logger) *Relay {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = newSubmissionID
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Relay{
		pub:    pub,
		opts:   opts,
		logger: logger.Component("producer-relay"),
	}
}

func newSubmissionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Limits returns the attachment limits the relay enforces.
func (r *Relay) Limits() landtitle.Limits { return r.opts.Limits }

// Ready reports whether the broker can currently accept publishes.
func (r *Relay) Ready() bool { return r.pub.IsReady() }

// Submit validates raw and, when it is valid, publishes it as one persistent
// message. Invalid input and an unavailable broker are reported as a rejected
// Result; the returned error is reserved for oversize payloads and publish
// failures.
func (r *Relay) Submit(ctx context.Context, raw RawSubmission) (Result, error) {
	fields, parseErr := landtitle.ParseFields(raw.Fields)
	sub := landtitle.Submission{
		Fields:      fields,
		Attachments: raw.Attachments,
		ReceivedAt:  r.opts.Now().UTC(),
	}

	if issues := validationIssues(parseErr, landtitle.Validate(sub, r.opts.Limits)); len(issues) > 0 {
		metrics.SubmissionsTotal.WithLabelValues(metrics.StatusInvalid).Inc()
		r.logger.InfoContext(ctx, "submission rejected", slog.Int("issues", len(issues)))
		return Result{Reason: ReasonValidation, Errors: issues}, nil
	}

	if !r.pub.IsReady() {
		metrics.SubmissionsTotal.WithLabelValues(metrics.StatusUnavailable).Inc()
		r.logger.WarnContext(ctx, "submission rejected, broker not ready")
		return Result{Reason: ReasonUnavailable}, nil
	}

	id, err := r.opts.NewID()
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(metrics.StatusError).Inc()
		return Result{}, fmt.Errorf("generate submission id: %w", err)
	}
	sub.ID = id
	ctx = logging.ContextWithSubmission(ctx, id)

	data, err := envelope.Encode(sub)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(metrics.StatusError).Inc()
		return Result{}, err
	}
	if r.opts.MaxPayloadBytes > 0 && int64(len(data)) > r.opts.MaxPayloadBytes {
		metrics.SubmissionsTotal.WithLabelValues(metrics.StatusTooLarge).Inc()
		return Result{}, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), r.opts.MaxPayloadBytes)
	}

	pubOpts := []messaging.PublishOption{
		messaging.WithMsgID(id),
		messaging.WithHeader(messaging.HeaderSubmissionID, id),
	}
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		pubOpts = append(pubOpts, messaging.WithHeader(messaging.HeaderRequestID, reqID))
	}

	start := time.Now()
	err = r.pub.Publish(ctx, data, pubOpts...)
	metrics.PublishDuration.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
	case errors.Is(err, messaging.ErrNotReady):
		metrics.SubmissionsTotal.WithLabelValues(metrics.StatusUnavailable).Inc()
		r.logger.WarnContext(ctx, "publish refused, broker not ready", logging.Error(err))
		return Result{Reason: ReasonUnavailable}, nil
	case errors.Is(err, msgnats.ErrMessageTooLarge):
		metrics.SubmissionsTotal.WithLabelValues(metrics.StatusTooLarge).Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
	default:
		metrics.SubmissionsTotal.WithLabelValues(metrics.StatusError).Inc()
		return Result{}, fmt.Errorf("publish submission %s: %w", id, err)
	}

	metrics.SubmissionsTotal.WithLabelValues(metrics.StatusAccepted).Inc()
	metrics.AttachmentBytesTotal.Add(float64(sub.TotalAttachmentBytes()))
	r.logger.InfoContext(ctx, "submission queued",
		slog.Int("attachments", len(sub.Attachments)),
		slog.Int("envelope_bytes", len(data)))
	return Result{Accepted: true, SubmissionID: id}, nil
}

// validationIssues merges field errors from parsing with the attachment
// errors from validation. Field rules are already covered by parseErr.
func validationIssues(parseErr, validateErr error) []landtitle.FieldError {
	var issues []landtitle.FieldError
	var ve *landtitle.ValidationError
	if errors.As(parseErr, &ve) {
		issues = append(issues, ve.Errors...)
	}
	if errors.As(validateErr, &ve) {
		for _, fe := range ve.Errors {
			if parseErr == nil || strings.HasPrefix(fe.Field, "attachments") {
				issues = append(issues, fe)
			}
		}
	}
	return issues
}
