package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Outcome is the consumer's verdict on one delivery.
type Outcome int

const (
	// OutcomeAck removes the message from the queue.
	OutcomeAck Outcome = iota + 1
	// OutcomeRejectNoRequeue discards the message permanently.
	OutcomeRejectNoRequeue
	// OutcomeRejectRequeue returns the message for redelivery.
	OutcomeRejectRequeue
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRejectNoRequeue:
		return "reject_no_requeue"
	case OutcomeRejectRequeue:
		return "reject_requeue"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DeliveryState tracks where a delivery is in its settle lifecycle.
type DeliveryState int

const (
	StateUnacknowledged DeliveryState = iota
	StateAcknowledged
	StateRejectedNoRequeue
	StateRejectedRequeue
)

func (s DeliveryState) String() string {
	switch s {
	case StateUnacknowledged:
		return "unacknowledged"
	case StateAcknowledged:
		return "acknowledged"
	case StateRejectedNoRequeue:
		return "rejected_no_requeue"
	case StateRejectedRequeue:
		return "rejected_requeue"
	default:
		return "unknown"
	}
}

// Settler performs the broker operation for an outcome.
type Settler interface {
	Settle(ctx context.Context, outcome Outcome) error
}

// SettlerFunc adapts a function to the Settler interface.
type SettlerFunc func(ctx context.Context, outcome Outcome) error

// Settle calls f(ctx, outcome).
func (f SettlerFunc) Settle(ctx context.Context, outcome Outcome) error {
	return f(ctx, outcome)
}

// Delivery is one message handed to a consumer. It must be settled exactly once.
type Delivery struct {
	msg     Message
	id      string
	attempt int
	settler Settler

	mu    sync.Mutex
	state DeliveryState
}

// NewDelivery wraps msg. attempt is 1 on first delivery.
func NewDelivery(msg Message, id string, attempt int, settler Settler) *Delivery {
	if attempt < 1 {
		attempt = 1
	}
	return &Delivery{msg: msg, id: id, attempt: attempt, settler: settler}
}

// Data returns the raw payload.
func (d *Delivery) Data() []byte { return d.msg.Data }

// Subject returns the subject the message was published to.
func (d *Delivery) Subject() string { return d.msg.Subject }

// ID returns the broker message ID (the submission ID for relay traffic).
func (d *Delivery) ID() string { return d.id }

// Attempt returns the 1-based delivery attempt.
func (d *Delivery) Attempt() int { return d.attempt }

// Header returns a message header, or "".
func (d *Delivery) Header(key string) string { return d.msg.Metadata[key] }

// Timestamp returns when the broker stored the message.
func (d *Delivery) Timestamp() time.Time { return d.msg.Timestamp }

// State returns the current settle state.
func (d *Delivery) State() DeliveryState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Settle applies outcome through the broker. The state only advances when the
// broker call succeeds, so a failed ack may be retried; once settled, any
// further call returns ErrAlreadySettled.
func (d *Delivery) Settle(ctx context.Context, outcome Outcome) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateUnacknowledged {
		return ErrAlreadySettled
	}

	var next DeliveryState
	switch outcome {
	case OutcomeAck:
		next = StateAcknowledged
	case OutcomeRejectNoRequeue:
		next = StateRejectedNoRequeue
	case OutcomeRejectRequeue:
		next = StateRejectedRequeue
	default:
		return fmt.Errorf("messaging: unknown outcome %d", int(outcome))
	}

	if d.settler != nil {
		if err := d.settler.Settle(ctx, outcome); err != nil {
			return fmt.Errorf("settle %s: %w", outcome, err)
		}
	}
	d.state = next
	return nil
}
