package nats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helm-app/landregistry/common/messaging"
)

func newTestSupervisor(d *scriptedDialer, attempts int, reconnectDelay time.Duration) *Supervisor {
	return NewSupervisor(SupervisorConfig{
		Conn:           DefaultConfig(),
		Retry:          RetryPolicy{Attempts: attempts, Delay: time.Millisecond},
		ReconnectDelay: reconnectDelay,
		Dialer:         d.dial,
	}, nil)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestSupervisor_ConnectWithinBudget(t *testing.T) {
	d := &scriptedDialer{fail: func(call int) bool { return call <= 2 }}
	s := newTestSupervisor(d, 3, time.Millisecond)
	defer s.Close()

	assert.Equal(t, messaging.ConnConnecting, s.State())
	require.NoError(t, s.Connect(context.Background()))

	assert.Equal(t, messaging.ConnConnected, s.State())
	assert.True(t, s.IsReady())
	assert.Equal(t, 3, d.callCount())
	assert.False(t, isClosed(s.Fatal()))
}

func TestSupervisor_ConnectExhaustedIsFatal(t *testing.T) {
	d := &scriptedDialer{fail: func(int) bool { return true }}
	s := newTestSupervisor(d, 3, time.Millisecond)
	defer s.Close()

	err := s.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, messaging.ConnFatal, s.State())
	assert.True(t, isClosed(s.Fatal()))
	assert.False(t, s.IsReady())

	_, err = s.JetStream()
	assert.ErrorIs(t, err, messaging.ErrNotReady)
}

func TestSupervisor_SingleFlightReconnect(t *testing.T) {
	d := &scriptedDialer{}
	s := newTestSupervisor(d, 3, 50*time.Millisecond)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))

	var callbacks atomic.Int32
	s.OnReconnect(func(context.Context, jetstream.JetStream) error {
		callbacks.Add(1)
		return nil
	})

	d.conn(0).connected.Store(false)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.OnDisconnect(errors.New("socket closed"))
		}()
	}
	wg.Wait()

	assert.False(t, s.IsReady(), "publishers must see not-ready while reconnecting")

	require.Eventually(t, func() bool {
		return s.State() == messaging.ConnConnected && callbacks.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, d.callCount(), "one initial dial plus exactly one reconnect dial")
	assert.True(t, d.conn(0).closed.Load(), "replaced connection is closed")
	assert.True(t, s.IsReady())
}

func TestSupervisor_ReconnectExhaustedIsFatal(t *testing.T) {
	d := &scriptedDialer{fail: func(call int) bool { return call > 1 }}
	s := newTestSupervisor(d, 3, time.Millisecond)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))

	d.conn(0).connected.Store(false)
	d.handler(0)(errors.New("socket closed"))

	select {
	case <-s.Fatal():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not report fatal")
	}
	assert.Equal(t, messaging.ConnFatal, s.State())
	assert.Equal(t, 4, d.callCount(), "initial dial plus full retry budget")

	s.OnDisconnect(errors.New("again"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, d.callCount(), "no reconnect after fatal")
}

func TestSupervisor_StaleConnectionEventsIgnored(t *testing.T) {
	d := &scriptedDialer{}
	s := newTestSupervisor(d, 3, time.Millisecond)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))

	d.conn(0).connected.Store(false)
	d.handler(0)(errors.New("socket closed"))
	require.Eventually(t, func() bool {
		return d.callCount() == 2 && s.State() == messaging.ConnConnected
	}, 2*time.Second, 5*time.Millisecond)

	d.handler(0)(errors.New("late event from old socket"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, d.callCount())
	assert.Equal(t, messaging.ConnConnected, s.State())
}

func TestSupervisor_CallbackErrorDoesNotBlockOthers(t *testing.T) {
	d := &scriptedDialer{}
	s := newTestSupervisor(d, 3, time.Millisecond)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))

	var order []int
	var mu sync.Mutex
	s.OnReconnect(func(context.Context, jetstream.JetStream) error {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		return errors.New("declare failed")
	})
	s.OnReconnect(func(context.Context, jetstream.JetStream) error {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		return nil
	})

	d.handler(0)(nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2}, order)
}

func TestSupervisor_CloseStopsReconnect(t *testing.T) {
	d := &scriptedDialer{}
	s := newTestSupervisor(d, 3, time.Hour)
	require.NoError(t, s.Connect(context.Background()))

	d.handler(0)(errors.New("socket closed"))
	require.Equal(t, messaging.ConnDisconnected, s.State())

	require.NoError(t, s.Close())
	assert.Equal(t, messaging.ConnClosed, s.State())
	assert.Equal(t, 1, d.callCount())

	s.OnDisconnect(errors.New("after close"))
	assert.Equal(t, messaging.ConnClosed, s.State())
	assert.NoError(t, s.Close(), "close is idempotent")
}

func TestSupervisor_CloseRacesDisconnect(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := &scriptedDialer{}
		s := newTestSupervisor(d, 3, time.Hour)
		require.NoError(t, s.Connect(context.Background()))

		start := make(chan struct{})
		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				s.OnDisconnect(errors.New("socket closed"))
			}()
		}
		close(start)
		require.NoError(t, s.Close())
		wg.Wait()

		assert.Equal(t, messaging.ConnClosed, s.State(), "iteration %d", i)
		assert.Equal(t, 1, d.callCount(), "no redial after close, iteration %d", i)
	}
}

func TestSupervisor_CloseDrainsLiveConnection(t *testing.T) {
	d := &scriptedDialer{}
	s := newTestSupervisor(d, 3, time.Millisecond)
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.Close())
	assert.True(t, d.conn(0).drained.Load())
}

func TestSupervisor_ReadinessRechecksSocket(t *testing.T) {
	d := &scriptedDialer{}
	s := newTestSupervisor(d, 3, time.Hour)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsReady())
	assert.Equal(t, int64(8*1024*1024), s.MaxPayload())

	d.conn(0).connected.Store(false)
	assert.Equal(t, messaging.ConnConnected, s.State())
	assert.False(t, s.IsReady())
	assert.Zero(t, s.MaxPayload())
	assert.ErrorIs(t, s.CheckHealth(context.Background()), messaging.ErrNotReady)
}

func TestSupervisor_CheckHealth(t *testing.T) {
	d := &scriptedDialer{}
	s := newTestSupervisor(d, 3, time.Hour)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))

	assert.NoError(t, s.CheckHealth(context.Background()))

	d.conn(0).flushErr = errors.New("timeout")
	assert.Error(t, s.CheckHealth(context.Background()))

	status := messaging.CheckHealth(context.Background(), s)
	assert.Equal(t, "connected", status.State)
	assert.False(t, status.Connected)
}
