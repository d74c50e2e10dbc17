// Package logging configures the process-wide slog JSON logger. All log
// output passes through a redacting handler so bearer tokens, adapter API
// keys, and prompt bodies never land in log storage.
package logging

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const redactedValue = "[REDACTED]"

// redactedKeys name attributes whose values never appear in logs: auth
// headers, and anything carrying prompt or completion text. The gateway logs
// routing decisions, never conversation content.
var redactedKeys = map[string]bool{
	"authorization":       true,
	"x-api-key":           true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"body":                true,
	"request_body":        true,
	"req_body":            true,
	"prompt":              true,
	"messages":            true,
	"content":             true,
	"delta":               true,
}

// redactedFragments catch credential-bearing keys by substring, so
// "openrouter_api_key" and "vault_secret" are covered without listing every
// adapter. Bare "token" is matched separately: token counts are routing
// metrics here, and "prompt_tokens" must stay visible.
var redactedFragments = []string{"key", "secret", "password"}

// globalLevel backs the JSON handler so SetLevel takes effect without
// recreating the logger.
var globalLevel = new(slog.LevelVar)

// Setup initializes the global slog logger at the given level and installs it
// as the slog default.
func Setup(level string) *slog.Logger {
	SetLevel(level)

	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: globalLevel})
	logger := slog.New(&RedactingHandler{base: base})
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the global log level at runtime. Valid values are "debug",
// "warn", "error"; anything else means "info".
func SetLevel(level string) {
	switch level {
	case "debug":
		globalLevel.Set(slog.LevelDebug)
	case "warn":
		globalLevel.Set(slog.LevelWarn)
	case "error":
		globalLevel.Set(slog.LevelError)
	default:
		globalLevel.Set(slog.LevelInfo)
	}
}

// RedactingHandler wraps an slog.Handler and rewrites sensitive attribute
// values before they reach the sink.
type RedactingHandler struct {
	base slog.Handler
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.base.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		clean = append(clean, redactAttr(a))
	}
	return &RedactingHandler{base: h.base.WithAttrs(clean)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{base: h.base.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if redactedKeys[key] {
		return slog.String(a.Key, redactedValue)
	}
	for _, frag := range redactedFragments {
		if strings.Contains(key, frag) {
			return slog.String(a.Key, redactedValue)
		}
	}
	if key == "token" || strings.HasSuffix(key, "_token") {
		return slog.String(a.Key, redactedValue)
	}
	return a
}

// RequestLogger returns chi middleware that emits one line per request.
// Bodies and auth headers are never logged; the quota identity derived by the
// auth layer is safe to log and shows up on the handlers' own lines instead.
func RequestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = middleware.GetReqID(r.Context())
			}

			next.ServeHTTP(ww, r)

			logger.Info("http_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", reqID),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
