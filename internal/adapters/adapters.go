// Package adapters fetches and parses external benchmark sources into raw
// metrics: OpenRouter's model listing for costs, arena rankings for ELO,
// static leaderboards for benchmark scores, and a local Ollama instance for
// self-hosted models.
package adapters

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/routehub/routehub/internal/catalog"
)

// Source is one external benchmark provider.
type Source interface {
	// Name is the stable source tag used for bookkeeping and alias rows.
	Name() string
	// URL is the fetch endpoint.
	URL() string
	// SyncInterval is how often the scheduler refreshes this source.
	SyncInterval() time.Duration
	// Validate is a cheap shape check on a fetched payload, run before the
	// payload is cached or parsed. It guards against a source serving an
	// error page with a 200 status.
	Validate(payload []byte) bool
	// Parse turns a fetched payload into raw metrics.
	Parse(payload []byte) ([]catalog.RawMetric, error)
}

// StatusError captures a non-success HTTP response from a source.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ParseRetryAfter records the Retry-After header value, accepting either a
// second count or an HTTP date.
func (e *StatusError) ParseRetryAfter(header string) {
	if header == "" {
		return
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
		return
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			e.RetryAfter = d
		}
	}
}
