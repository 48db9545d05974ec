package database

import (
	"context"
	"time"
)

// Timeouts applied to repository calls that do not carry their own deadline.
const (
	DefaultQueryTimeout = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second
)

// QueryContext bounds a read by DefaultQueryTimeout.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

// WriteContext bounds a write by d, falling back to DefaultWriteTimeout when d <= 0.
func WriteContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultWriteTimeout
	}
	return context.WithTimeout(parent, d)
}
