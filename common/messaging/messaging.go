// Package messaging defines the broker-agnostic contract between the producer
// and consumer relays: a durable queue that accepts persistent publishes and
// hands out deliveries which must be settled exactly once.
package messaging

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotReady is returned by Publish when no broker connection is usable.
	ErrNotReady = errors.New("messaging: broker not ready")

	// ErrAlreadySettled is returned by a second Settle on the same delivery.
	ErrAlreadySettled = errors.New("messaging: delivery already settled")

	// ErrFatal is reported when reconnection has been abandoned.
	ErrFatal = errors.New("messaging: broker connection lost permanently")
)

// Message is a payload published to, or received from, a queue.
type Message struct {
	// Subject is the subject the message was published to.
	Subject string

	// Data is the raw payload (an encoded envelope).
	Data []byte

	// Metadata carries message headers.
	Metadata map[string]string

	// Timestamp is when the broker stored the message.
	Timestamp time.Time
}

// Handler processes one delivery and reports how it should be settled.
// The queue implementation performs the settlement.
type Handler func(ctx context.Context, d *Delivery) Outcome

// Subscription represents an active consumer on a queue.
type Subscription interface {
	// Unsubscribe stops fetching new deliveries.
	Unsubscribe() error

	// Subject returns the subject this subscription is bound to.
	Subject() string

	// IsValid returns true while the subscription is active.
	IsValid() bool
}

// Publisher publishes persistent messages to a durable queue.
type Publisher interface {
	// Publish returns nil only after the broker has stored the message.
	// It fails fast with ErrNotReady when there is no usable connection.
	Publish(ctx context.Context, data []byte, opts ...PublishOption) error

	// IsReady reports whether a publish can currently be attempted.
	IsReady() bool
}

// Consumer registers a handler for deliveries from a durable queue.
type Consumer interface {
	Consume(ctx context.Context, handler Handler, opts ...SubscribeOption) (Subscription, error)
}

// Queue combines Publisher and Consumer.
type Queue interface {
	Publisher
	Consumer

	// Name returns the durable queue name.
	Name() string
}

// PublishOption configures message publishing behavior.
type PublishOption func(*PublishOptions)

// PublishOptions is the resolved set of publish options.
type PublishOptions struct {
	Headers map[string]string
	MsgID   string
}

// NewPublishOptions applies opts in order.
func NewPublishOptions(opts ...PublishOption) PublishOptions {
	var o PublishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithHeader adds a header to the published message.
func WithHeader(key, value string) PublishOption {
	return func(o *PublishOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// WithMsgID sets the broker-side deduplication ID of the message.
func WithMsgID(id string) PublishOption {
	return func(o *PublishOptions) {
		o.MsgID = id
	}
}

// SubscribeOption configures subscription behavior.
type SubscribeOption func(*SubscribeOptions)

// SubscribeOptions is the resolved set of subscribe options.
type SubscribeOptions struct {
	MaxInFlight  int
	AckWait      time.Duration
	MaxDeliver   int
	RequeueDelay time.Duration
}

// NewSubscribeOptions applies opts over defaults.
func NewSubscribeOptions(defaults SubscribeOptions, opts ...SubscribeOption) SubscribeOptions {
	o := defaults
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMaxInFlight sets the maximum number of unsettled deliveries.
func WithMaxInFlight(n int) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.MaxInFlight = n
	}
}

// WithAckWait sets the time to wait for settlement before redelivery.
func WithAckWait(d time.Duration) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.AckWait = d
	}
}

// WithMaxDeliver caps the number of delivery attempts per message.
func WithMaxDeliver(n int) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.MaxDeliver = n
	}
}

// WithRequeueDelay sets the redelivery delay applied to OutcomeRejectRequeue.
func WithRequeueDelay(d time.Duration) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.RequeueDelay = d
	}
}
