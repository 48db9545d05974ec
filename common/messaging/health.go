package messaging

import (
	"context"
	"time"
)

// ConnState is the broker connection lifecycle state.
type ConnState int32

const (
	ConnConnecting ConnState = iota
	ConnConnected
	ConnDisconnected
	ConnReconnecting
	ConnFatal
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnReconnecting:
		return "reconnecting"
	case ConnFatal:
		return "fatal"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// HealthChecker can check the health of a messaging connection.
type HealthChecker interface {
	// CheckHealth returns nil if the connection is healthy, error otherwise.
	CheckHealth(ctx context.Context) error

	// State returns the current connection state.
	State() ConnState
}

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// CheckHealth reports the state of hc and, when connected, the round-trip latency of a health probe.
func CheckHealth(ctx context.Context, hc HealthChecker) HealthStatus {
	if hc == nil {
		return HealthStatus{State: "unknown", Error: "no broker client"}
	}

	state := hc.State()
	status := HealthStatus{State: state.String()}
	if state != ConnConnected {
		status.Error = "not connected to message broker"
		return status
	}

	start := time.Now()
	err := hc.CheckHealth(ctx)
	status.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		status.Error = "health check failed: " + err.Error()
		return status
	}
	status.Connected = true
	return status
}
