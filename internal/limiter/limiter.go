// Package limiter defines interfaces and implementations for metering the
// AI matching endpoint per caller.
package limiter

import (
	"context"
	"time"
)

// Limiter bounds how many metered calls a caller may make per window.
type Limiter interface {
	// Allow reports whether a call is currently allowed and optional retry-after.
	Allow(ctx context.Context, ipHash []byte) (bool, time.Duration, error)
	// Record counts a served call against the caller's window.
	Record(ctx context.Context, ipHash []byte) error
}

// Unlimited is a no-op Limiter for deployments without a database.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, []byte) (bool, time.Duration, error) { return true, 0, nil }
func (Unlimited) Record(context.Context, []byte) error                       { return nil }
