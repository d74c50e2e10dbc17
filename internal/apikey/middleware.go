// Package apikey enforces the gateway's bearer token. Auth is optional: with
// no token configured every request passes, which is the expected mode for
// local single-user deployments.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const identityContextKey contextKey = "identity"

// bypassPaths are reachable without a token: probes, the landing page, and
// the Prometheus scrape endpoint.
var bypassPaths = map[string]bool{
	"/":        true,
	"/health":  true,
	"/metrics": true,
}

// Identity returns the quota identity attached to the request context, or ""
// when auth middleware did not run.
func Identity(ctx context.Context) string {
	if v, ok := ctx.Value(identityContextKey).(string); ok {
		return v
	}
	return ""
}

// clientIP prefers the proxy-set header over the socket address.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// identityFor derives the per-identity quota key. Authenticated requests are
// keyed by a digest of the token so logs never carry the secret; anonymous
// requests fall back to the client IP.
func identityFor(r *http.Request, token string) string {
	if token != "" {
		sum := sha256.Sum256([]byte(token))
		return "key:" + hex.EncodeToString(sum[:8])
	}
	return "ip:" + clientIP(r)
}

// Middleware validates Bearer tokens against the configured secret using a
// timing-safe comparison. An empty secret disables enforcement.
func Middleware(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypassPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			token := strings.TrimPrefix(auth, "Bearer ")

			if secret != "" {
				if auth == "" {
					logger.Warn("auth: missing token", "ip", clientIP(r), "path", r.URL.Path)
					unauthorized(w, "authorization required")
					return
				}
				if !strings.HasPrefix(auth, "Bearer ") {
					logger.Warn("auth: invalid format", "ip", clientIP(r), "path", r.URL.Path)
					unauthorized(w, "invalid authorization format")
					return
				}
				if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
					logger.Warn("auth: invalid token", "ip", clientIP(r), "path", r.URL.Path)
					unauthorized(w, "invalid token")
					return
				}
			}

			ctx := context.WithValue(r.Context(), identityContextKey, identityFor(r, token))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, msg, http.StatusUnauthorized)
}
