package nats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

type fakeConn struct {
	connected  atomic.Bool
	closed     atomic.Bool
	drained    atomic.Bool
	maxPayload int64
	flushErr   error
}

func newFakeConn() *fakeConn {
	c := &fakeConn{maxPayload: 8 * 1024 * 1024}
	c.connected.Store(true)
	return c
}

func (c *fakeConn) IsConnected() bool { return c.connected.Load() }
func (c *fakeConn) MaxPayload() int64 { return c.maxPayload }
func (c *fakeConn) FlushTimeout(time.Duration) error {
	return c.flushErr
}
func (c *fakeConn) Drain() error {
	c.drained.Store(true)
	c.connected.Store(false)
	return nil
}
func (c *fakeConn) Close() {
	c.closed.Store(true)
	c.connected.Store(false)
}

// scriptedDialer fails whenever fail(call) returns true. Calls are 1-based.
type scriptedDialer struct {
	mu       sync.Mutex
	fail     func(call int) bool
	calls    int
	conns    []*fakeConn
	handlers []func(error)
}

func (d *scriptedDialer) dial(ctx context.Context, _ Config, onDisconnect func(error)) (Conn, jetstream.JetStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail != nil && d.fail(d.calls) {
		return nil, nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	d.handlers = append(d.handlers, onDisconnect)
	return c, nil, nil
}

func (d *scriptedDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptedDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *scriptedDialer) handler(i int) func(error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[i]
}

type fakeAcker struct {
	calls []string
	delay time.Duration
	err   error
}

func (a *fakeAcker) DoubleAck(context.Context) error {
	a.calls = append(a.calls, "ack")
	return a.err
}

func (a *fakeAcker) Nak() error {
	a.calls = append(a.calls, "nak")
	return a.err
}

func (a *fakeAcker) NakWithDelay(d time.Duration) error {
	a.calls = append(a.calls, "nak_delay")
	a.delay = d
	return a.err
}

func (a *fakeAcker) Term() error {
	a.calls = append(a.calls, "term")
	return a.err
}

type fakeConsumeContext struct {
	stopped atomic.Bool
	drained atomic.Bool
	closed  chan struct{}
}

func newFakeConsumeContext() *fakeConsumeContext {
	return &fakeConsumeContext{closed: make(chan struct{})}
}

func (f *fakeConsumeContext) Stop()                   { f.stopped.Store(true) }
func (f *fakeConsumeContext) Drain()                  { f.drained.Store(true) }
func (f *fakeConsumeContext) Closed() <-chan struct{} { return f.closed }
