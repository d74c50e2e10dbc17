package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/routehub/routehub/internal/urlcheck"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	baseBackoff       = 500 * time.Millisecond
	maxRetryAfterWait = 30 * time.Second
	userAgent         = "routehub/1.0"
)

// Fetcher retrieves source payloads over HTTP with URL validation, retries
// with exponential backoff on transient failures, and Retry-After handling
// on 429s.
type Fetcher struct {
	client     *http.Client
	checker    *urlcheck.Checker
	maxRetries int
	backoff    time.Duration
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient substitutes the HTTP client (tests use this).
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxRetries bounds retry attempts for transient failures.
func WithMaxRetries(n int) FetcherOption {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithBackoff overrides the base backoff between retries (tests use this).
func WithBackoff(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.backoff = d
		}
	}
}

// NewFetcher creates a Fetcher whose transport carries OTel spans for every
// outbound request.
func NewFetcher(checker *urlcheck.Checker, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		checker:    checker,
		maxRetries: defaultMaxRetries,
		backoff:    baseBackoff,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs the URL and returns the response body. Transient failures
// (network errors, 5xx, 429) are retried with exponential backoff; other
// non-200 responses fail immediately as a StatusError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.checker.Validate(url); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("routehub.adapters").Start(ctx, "source.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", url)),
	)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			wait := f.backoff << (attempt - 1)
			var se *StatusError
			if errors.As(lastErr, &se) && se.RetryAfter > 0 {
				wait = se.RetryAfter
				if wait > maxRetryAfterWait {
					wait = maxRetryAfterWait
				}
			}
			select {
			case <-ctx.Done():
				span.SetStatus(codes.Error, "cancelled")
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		body, err := f.doOnce(ctx, url)
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return body, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "fetch failed")
	return nil, fmt.Errorf("fetch %s: %w", url, lastErr)
}

func (f *Fetcher) doOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
		se.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, se
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
