// Package dlq keeps submissions the consumer discarded in a JetStream stream
// so operators can inspect and replay them.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/helm-app/landregistry/common/logging"
	"github.com/helm-app/landregistry/common/messaging"
	natsclient "github.com/helm-app/landregistry/common/messaging/nats"
)

// Reasons a submission is dead-lettered.
const (
	ReasonDecode        = "decode_error"
	ReasonValidation    = "validation_error"
	ReasonRejected      = "storage_rejected"
	ReasonMaxDeliveries = "max_deliveries"
)

// ErrDisabled is returned by List when no DLQ is configured.
var ErrDisabled = errors.New("dlq not enabled")

// Writer records a discarded submission.
type Writer interface {
	Write(ctx context.Context, f Failure) error
}

// Failure describes one discarded delivery.
type Failure struct {
	SubmissionID string
	Reason       string
	Err          error
	Attempts     int
	Payload      []byte
}

// Entry is a dead-lettered submission as listed back from the stream.
type Entry struct {
	Sequence     uint64    `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
	SubmissionID string    `json:"submission_id,omitempty"`
	Reason       string    `json:"reason"`
	Error        string    `json:"error,omitempty"`
	Attempts     int       `json:"attempts"`
	Size         int       `json:"size"`
	Payload      []byte    `json:"-"`
}

// Stats summarizes the DLQ stream.
type Stats struct {
	Enabled      bool   `json:"enabled"`
	Backend      string `json:"backend"`
	WrittenLocal uint64 `json:"written_local"`
	Messages     uint64 `json:"total_messages"`
	Bytes        uint64 `json:"total_bytes"`
	FirstSeq     uint64 `json:"first_seq"`
	LastSeq      uint64 `json:"last_seq"`
	Error        string `json:"error,omitempty"`
}

// Broker is the part of the connection supervisor the DLQ depends on.
type Broker interface {
	JetStream() (jetstream.JetStream, error)
	OnReconnect(fn natsclient.ReconnectFunc)
}

// JetStreamDLQ writes failed submissions to a JetStream stream. The
// original bytes are the message body; the failure is described in headers.
type JetStreamDLQ struct {
	broker  Broker
	cfg     natsclient.StreamConfig
	subject string
	logger  *slog.Logger
	written atomic.Uint64
}

var _ Writer = (*JetStreamDLQ)(nil)

// NewJetStreamDLQ declares the DLQ stream and re-declares it after every reconnect.
func NewJetStreamDLQ(ctx context.Context, broker Broker, stream, subject string, logger *slog.Logger) (*JetStreamDLQ, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &JetStreamDLQ{
		broker:  broker,
		cfg:     natsclient.DeadLetterStreamConfig(stream, subject),
		subject: subject,
		logger:  logger.With(slog.String(logging.FieldComponent, "dlq")),
	}

	js, err := broker.JetStream()
	if err != nil {
		return nil, err
	}
	if _, err := natsclient.CreateOrUpdateStream(ctx, js, q.cfg); err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}
	broker.OnReconnect(func(ctx context.Context, js jetstream.JetStream) error {
		_, err := natsclient.CreateOrUpdateStream(ctx, js, q.cfg)
		return err
	})

	q.logger.Info("DLQ stream ready", slog.String("stream", stream), slog.String("subject", subject))
	return q, nil
}

// Write publishes f to the DLQ stream and waits for the broker ack.
func (q *JetStreamDLQ) Write(ctx context.Context, f Failure) error {
	js, err := q.broker.JetStream()
	if err != nil {
		return err
	}

	msg := nats.NewMsg(q.subject)
	msg.Data = f.Payload
	msg.Header.Set(messaging.HeaderDLQReason, f.Reason)
	msg.Header.Set(messaging.HeaderDLQAttempts, strconv.Itoa(f.Attempts))
	if f.Err != nil {
		msg.Header.Set(messaging.HeaderDLQError, truncate(f.Err.Error(), 1024))
	}

	var opts []jetstream.PublishOpt
	if f.SubmissionID != "" {
		msg.Header.Set(messaging.HeaderSubmissionID, f.SubmissionID)
		opts = append(opts, jetstream.WithMsgID(f.SubmissionID+":"+f.Reason))
	}

	if _, err := js.PublishMsg(ctx, msg, opts...); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	q.written.Add(1)
	q.logger.WarnContext(ctx, "submission dead-lettered",
		logging.SubmissionID(f.SubmissionID),
		slog.String("reason", f.Reason),
		logging.Attempt(f.Attempts),
		logging.Error(f.Err),
	)
	return nil
}

func (q *JetStreamDLQ) stream(ctx context.Context) (jetstream.Stream, error) {
	js, err := q.broker.JetStream()
	if err != nil {
		return nil, err
	}
	return js.Stream(ctx, q.cfg.Name)
}

// List returns up to limit entries, oldest first.
func (q *JetStreamDLQ) List(ctx context.Context, limit int) ([]Entry, error) {
	if q == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}

	stream, err := q.stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("open dlq stream: %w", err)
	}

	// Ephemeral consumer; the server removes it once idle.
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject:     q.subject,
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		MaxDeliver:        1,
		InactiveThreshold: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	entries := make([]Entry, 0, limit)
	for msg := range msgs.Messages() {
		entries = append(entries, entryFrom(msg))
	}
	if err := msgs.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		q.logger.WarnContext(ctx, "DLQ fetch completed with error", logging.Error(err))
	}
	return entries, nil
}

func entryFrom(msg jetstream.Msg) Entry {
	h := msg.Headers()
	e := Entry{
		SubmissionID: h.Get(messaging.HeaderSubmissionID),
		Reason:       h.Get(messaging.HeaderDLQReason),
		Error:        h.Get(messaging.HeaderDLQError),
		Size:         len(msg.Data()),
		Payload:      msg.Data(),
	}
	e.Attempts, _ = strconv.Atoi(h.Get(messaging.HeaderDLQAttempts))
	if meta, err := msg.Metadata(); err == nil {
		e.Sequence = meta.Sequence.Stream
		e.Timestamp = meta.Timestamp
	}
	return e
}

// Stats returns DLQ metrics from JetStream.
func (q *JetStreamDLQ) Stats(ctx context.Context) Stats {
	if q == nil {
		return Stats{Backend: "jetstream"}
	}
	s := Stats{Enabled: true, Backend: "jetstream", WrittenLocal: q.written.Load()}

	stream, err := q.stream(ctx)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	info, err := stream.Info(ctx)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.Messages = info.State.Msgs
	s.Bytes = info.State.Bytes
	s.FirstSeq = info.State.FirstSeq
	s.LastSeq = info.State.LastSeq
	return s
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
