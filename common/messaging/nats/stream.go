package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name; for the submission queue it is the queue name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// MaxMsgs is the maximum number of messages in the stream.
	MaxMsgs int64

	// MaxMsgSize caps a single message; -1 defers to the server's max_payload.
	MaxMsgSize int32

	// Duplicates is the window in which a repeated Nats-Msg-Id is dropped.
	Duplicates time.Duration

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// ConsumerConfig defines a durable JetStream consumer.
type ConsumerConfig struct {
	// Name is the durable consumer name.
	Name string

	// FilterSubject filters which messages this consumer receives.
	FilterSubject string

	// AckWait is time to wait for settlement before redelivery.
	AckWait time.Duration

	// MaxDeliver is maximum delivery attempts before the broker stops redelivering.
	MaxDeliver int

	// MaxAckPending is maximum unsettled messages.
	MaxAckPending int
}

// QueueStreamConfig returns the durable, persistent work queue for submissions.
// Each message is removed once a consumer acknowledges it.
func QueueStreamConfig(name, subject string) StreamConfig {
	return StreamConfig{
		Name:       name,
		Subjects:   []string{subject},
		MaxAge:     7 * 24 * time.Hour,
		MaxBytes:   10 * 1024 * 1024 * 1024, // 10GB
		MaxMsgs:    -1,
		MaxMsgSize: -1,
		Duplicates: 2 * time.Minute,
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
	}
}

// DeadLetterStreamConfig returns the stream holding discarded submissions.
func DeadLetterStreamConfig(name, subject string) StreamConfig {
	return StreamConfig{
		Name:       name,
		Subjects:   []string{subject},
		MaxAge:     30 * 24 * time.Hour,
		MaxBytes:   5 * 1024 * 1024 * 1024, // 5GB
		MaxMsgs:    -1,
		MaxMsgSize: -1,
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
	}
}

// DefaultConsumerConfig returns defaults for the submission consumer.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 64,
	}
}

func (c StreamConfig) toJetStream() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       c.Name,
		Subjects:   c.Subjects,
		MaxAge:     c.MaxAge,
		MaxBytes:   c.MaxBytes,
		MaxMsgs:    c.MaxMsgs,
		MaxMsgSize: c.MaxMsgSize,
		Duplicates: c.Duplicates,
		Retention:  c.Retention,
		Storage:    c.Storage,
	}
}

func (c ConsumerConfig) toJetStream() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Name:          c.Name,
		Durable:       c.Name,
		FilterSubject: c.FilterSubject,
		AckWait:       c.AckWait,
		MaxDeliver:    c.MaxDeliver,
		MaxAckPending: c.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
}

// CreateOrUpdateStream declares cfg on the server. It is idempotent.
func CreateOrUpdateStream(ctx context.Context, js jetstream.JetStream, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, cfg.toJetStream())
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// CreateOrUpdateConsumer declares a durable consumer on streamName.
func CreateOrUpdateConsumer(ctx context.Context, js jetstream.JetStream, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, cfg.toJetStream())
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}
	return consumer, nil
}
