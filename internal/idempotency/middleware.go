package idempotency

import (
	"bytes"
	"net/http"
	"strings"
)

// Middleware replays the cached response for a repeated Idempotency-Key.
// Requests without the header pass through unchanged, as do streaming
// responses: an event stream is consumed as it is produced and cannot be
// replayed meaningfully.
func Middleware(cache *Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if resp, ok := cache.get(key); ok {
				if resp.ContentType != "" {
					w.Header().Set("Content-Type", resp.ContentType)
				}
				w.Header().Set("Idempotency-Replay", "true")
				w.WriteHeader(resp.StatusCode)
				_, _ = w.Write(resp.Body)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			ct := rec.Header().Get("Content-Type")
			if strings.HasPrefix(ct, "text/event-stream") {
				return
			}
			cache.set(key, storedResponse{
				Body:        rec.body.Bytes(),
				StatusCode:  rec.status,
				ContentType: ct,
			})
		})
	}
}

// recorder tees the response so it can be cached while still streaming to
// the client. Flush is forwarded so SSE passthrough keeps working.
type recorder struct {
	http.ResponseWriter
	body    bytes.Buffer
	status  int
	written bool
}

func (r *recorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
