// Package quota enforces per-identity request quotas. A sliding-window
// limiter and a token bucket share one decision shape; the Manager composes
// minute, hour, and day windows under a single JSON-backed config with
// two-phase admission (check all windows, then consume all).
package quota

import (
	"context"
	"time"
)

// Decision is the outcome of a limiter check or consume.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	Limit      int           `json:"limit"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Limiter is the capability set shared by all quota implementations.
type Limiter interface {
	// Check reports whether one admission would currently be allowed,
	// without consuming.
	Check(ctx context.Context, key string) (Decision, error)
	// Consume admits n requests if capacity allows.
	Consume(ctx context.Context, key string, n int) (Decision, error)
	// Reset clears all state for the key.
	Reset(ctx context.Context, key string) error
}
