package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.URL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	policy := DefaultRetryPolicy()
	assert.Equal(t, 10, policy.Attempts)
	assert.Equal(t, 3*time.Second, policy.Delay)
}

func TestDial_BoundedRetries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		budget    int
		wantErr   bool
		wantCalls int
	}{
		{name: "first attempt succeeds", failures: 0, budget: 10, wantCalls: 1},
		{name: "succeeds before budget", failures: 9, budget: 10, wantCalls: 10},
		{name: "budget exhausted", failures: 10, budget: 10, wantErr: true, wantCalls: 10},
		{name: "zero budget tries once", failures: 1, budget: 0, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &scriptedDialer{fail: func(call int) bool { return call <= tt.failures }}
			policy := RetryPolicy{Attempts: tt.budget, Delay: time.Millisecond}

			conn, _, err := Dial(context.Background(), DefaultConfig(), policy, d.dial, func(error) {}, nil)

			assert.Equal(t, tt.wantCalls, d.callCount())
			if tt.wantErr {
				require.ErrorIs(t, err, ErrConnect)
				assert.Nil(t, conn)
				return
			}
			require.NoError(t, err)
			assert.True(t, conn.IsConnected())
		})
	}
}

func TestDial_ContextCancelledDuringBackoff(t *testing.T) {
	d := &scriptedDialer{fail: func(int) bool { return true }}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := Dial(ctx, DefaultConfig(), RetryPolicy{Attempts: 10, Delay: time.Second}, d.dial, nil, nil)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, d.callCount())
}
