package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/helm-app/landregistry/common/messaging"
)

// ErrMessageTooLarge is returned when a payload exceeds the server's max_payload.
var ErrMessageTooLarge = errors.New("nats: message exceeds server max payload")

const settleTimeout = 5 * time.Second

// QueueConfig configures a durable queue backed by a JetStream work-queue stream.
type QueueConfig struct {
	// Name is the durable queue (and stream) name.
	Name string

	// Subject is the subject bound to the queue.
	Subject string

	// PublishTimeout bounds each publish including the broker ack.
	PublishTimeout time.Duration

	// Consumer is the durable consumer used by Consume.
	Consumer ConsumerConfig

	// RequeueDelay is applied to OutcomeRejectRequeue.
	RequeueDelay time.Duration
}

// Queue implements messaging.Queue on JetStream. The connection is borrowed
// from the Supervisor on every call.
type Queue struct {
	sup    *Supervisor
	cfg    QueueConfig
	logger *slog.Logger

	declareOnce sync.Once
}

var _ messaging.Queue = (*Queue)(nil)

// NewQueue creates a Queue bound to sup.
func NewQueue(sup *Supervisor, cfg QueueConfig, logger *slog.Logger) *Queue {
	if cfg.Name == "" {
		cfg.Name = messaging.DefaultQueueName
	}
	if cfg.Subject == "" {
		cfg.Subject = messaging.SubjectSubmissions
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.Consumer.Name == "" {
		cfg.Consumer = DefaultConsumerConfig(messaging.DefaultConsumerName, cfg.Subject)
	}
	if cfg.Consumer.FilterSubject == "" {
		cfg.Consumer.FilterSubject = cfg.Subject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		sup:    sup,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "queue"), slog.String("queue", cfg.Name)),
	}
}

// Name returns the durable queue name.
func (q *Queue) Name() string { return q.cfg.Name }

// IsReady reports whether a publish can be attempted now.
func (q *Queue) IsReady() bool { return q.sup.IsReady() }

// DeclareQueue creates the durable queue if it does not exist. It is
// re-declared automatically after every reconnect.
func (q *Queue) DeclareQueue(ctx context.Context) error {
	js, err := q.sup.JetStream()
	if err != nil {
		return err
	}
	if _, err := CreateOrUpdateStream(ctx, js, QueueStreamConfig(q.cfg.Name, q.cfg.Subject)); err != nil {
		return err
	}

	q.declareOnce.Do(func() {
		q.sup.OnReconnect(func(ctx context.Context, js jetstream.JetStream) error {
			_, err := CreateOrUpdateStream(ctx, js, QueueStreamConfig(q.cfg.Name, q.cfg.Subject))
			return err
		})
	})
	q.logger.Info("declared durable queue", slog.String("subject", q.cfg.Subject))
	return nil
}

// Publish stores data in the queue and waits for the broker ack.
// Without a live connection it fails immediately with messaging.ErrNotReady.
func (q *Queue) Publish(ctx context.Context, data []byte, opts ...messaging.PublishOption) error {
	js, err := q.sup.JetStream()
	if err != nil {
		publishedTotal.WithLabelValues(q.cfg.Name, "not_ready").Inc()
		return err
	}
	if limit := q.sup.MaxPayload(); limit > 0 && int64(len(data)) > limit {
		publishedTotal.WithLabelValues(q.cfg.Name, "too_large").Inc()
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(data), limit)
	}

	o := messaging.NewPublishOptions(opts...)
	msg := nats.NewMsg(q.cfg.Subject)
	msg.Data = data
	for k, v := range o.Headers {
		msg.Header.Set(k, v)
	}
	var pubOpts []jetstream.PublishOpt
	if o.MsgID != "" {
		pubOpts = append(pubOpts, jetstream.WithMsgID(o.MsgID))
	}

	ctx, cancel := context.WithTimeout(ctx, q.cfg.PublishTimeout)
	defer cancel()

	ack, err := js.PublishMsg(ctx, msg, pubOpts...)
	if err != nil {
		if !q.sup.IsReady() {
			publishedTotal.WithLabelValues(q.cfg.Name, "not_ready").Inc()
			return fmt.Errorf("%w: %v", messaging.ErrNotReady, err)
		}
		publishedTotal.WithLabelValues(q.cfg.Name, "error").Inc()
		return fmt.Errorf("publish to %s: %w", q.cfg.Name, err)
	}

	if ack.Duplicate {
		publishedTotal.WithLabelValues(q.cfg.Name, "duplicate").Inc()
		q.logger.DebugContext(ctx, "broker dropped duplicate publish", slog.String("msg_id", o.MsgID))
		return nil
	}
	publishedTotal.WithLabelValues(q.cfg.Name, "stored").Inc()
	return nil
}

// Consume attaches handler to the durable consumer. Deliveries are handed to
// handler one at a time and settled with the returned outcome unless the
// handler settled them itself. The subscription survives reconnects.
func (q *Queue) Consume(ctx context.Context, handler messaging.Handler, opts ...messaging.SubscribeOption) (messaging.Subscription, error) {
	so := messaging.NewSubscribeOptions(messaging.SubscribeOptions{
		MaxInFlight:  q.cfg.Consumer.MaxAckPending,
		AckWait:      q.cfg.Consumer.AckWait,
		MaxDeliver:   q.cfg.Consumer.MaxDeliver,
		RequeueDelay: q.cfg.RequeueDelay,
	}, opts...)

	js, err := q.sup.JetStream()
	if err != nil {
		return nil, err
	}

	sub := &subscription{subject: q.cfg.Subject, baseCtx: ctx}
	if err := q.attach(ctx, js, sub, handler, so); err != nil {
		return nil, err
	}

	q.sup.OnReconnect(func(rctx context.Context, js jetstream.JetStream) error {
		if sub.stopped() {
			return nil
		}
		q.logger.Info("resubscribing after reconnect")
		return q.attach(rctx, js, sub, handler, so)
	})
	return sub, nil
}

func (q *Queue) attach(ctx context.Context, js jetstream.JetStream, sub *subscription, handler messaging.Handler, so messaging.SubscribeOptions) error {
	cc := q.cfg.Consumer
	cc.AckWait = so.AckWait
	cc.MaxDeliver = so.MaxDeliver
	if so.MaxInFlight > 0 {
		cc.MaxAckPending = so.MaxInFlight
	}

	consumer, err := CreateOrUpdateConsumer(ctx, js, q.cfg.Name, cc)
	if err != nil {
		return err
	}

	var consumeOpts []jetstream.PullConsumeOpt
	if so.MaxInFlight > 0 {
		consumeOpts = append(consumeOpts, jetstream.PullMaxMessages(so.MaxInFlight))
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(sub.ctx(), msg, handler, so.RequeueDelay)
	}, consumeOpts...)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	sub.replace(cons)
	q.logger.Info("consuming", slog.String("consumer", cc.Name), slog.Int("max_deliver", cc.MaxDeliver))
	return nil
}

func (q *Queue) handle(ctx context.Context, msg jetstream.Msg, handler messaging.Handler, requeueDelay time.Duration) {
	var meta *jetstream.MsgMetadata
	if m, err := msg.Metadata(); err == nil {
		meta = m
	}
	d := deliveryFrom(msg.Subject(), msg.Data(), msg.Headers(), meta, msg, requeueDelay)

	outcome := handler(ctx, d)
	if d.State() != messaging.StateUnacknowledged {
		return
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err := d.Settle(settleCtx, outcome); err != nil {
		q.logger.Error("failed to settle delivery",
			slog.String("submission_id", d.ID()),
			slog.String("outcome", outcome.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	settledTotal.WithLabelValues(q.cfg.Name, outcome.String()).Inc()
}

// acker is the settlement surface of jetstream.Msg.
type acker interface {
	DoubleAck(ctx context.Context) error
	Nak() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

type msgSettler struct {
	msg          acker
	requeueDelay time.Duration
}

// Settle maps outcomes onto JetStream acks: Ack waits for the server to
// confirm, RejectNoRequeue terminates redelivery, RejectRequeue naks.
func (s *msgSettler) Settle(ctx context.Context, outcome messaging.Outcome) error {
	switch outcome {
	case messaging.OutcomeAck:
		return s.msg.DoubleAck(ctx)
	case messaging.OutcomeRejectNoRequeue:
		return s.msg.Term()
	case messaging.OutcomeRejectRequeue:
		if s.requeueDelay > 0 {
			return s.msg.NakWithDelay(s.requeueDelay)
		}
		return s.msg.Nak()
	default:
		return fmt.Errorf("unsupported outcome %s", outcome)
	}
}

func deliveryFrom(subject string, data []byte, headers nats.Header, meta *jetstream.MsgMetadata, ack acker, requeueDelay time.Duration) *messaging.Delivery {
	m := messaging.Message{Subject: subject, Data: data}
	if len(headers) > 0 {
		m.Metadata = make(map[string]string, len(headers))
		for k := range headers {
			m.Metadata[k] = headers.Get(k)
		}
	}

	attempt := 1
	if meta != nil {
		attempt = int(meta.NumDelivered)
		m.Timestamp = meta.Timestamp
	}

	id := headers.Get(nats.MsgIdHdr)
	if id == "" {
		id = headers.Get(messaging.HeaderSubmissionID)
	}
	return messaging.NewDelivery(m, id, attempt, &msgSettler{msg: ack, requeueDelay: requeueDelay})
}

// subscription tracks the live ConsumeContext, replaced on each reconnect.
type subscription struct {
	subject string

	mu      sync.Mutex
	cons    jetstream.ConsumeContext
	baseCtx context.Context
	done    bool
}

func (s *subscription) replace(cons jetstream.ConsumeContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		cons.Stop()
		return
	}
	if s.cons != nil {
		s.cons.Stop()
	}
	s.cons = cons
}

func (s *subscription) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

func (s *subscription) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Unsubscribe drains in-flight deliveries and stops fetching.
func (s *subscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	if s.cons != nil {
		s.cons.Drain()
	}
	return nil
}

func (s *subscription) Subject() string { return s.subject }

func (s *subscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.done && s.cons != nil
}
