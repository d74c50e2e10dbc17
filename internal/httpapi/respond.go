package httpapi

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"error": "<msg>"}
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// periods maps the period query parameter onto analytics windows.
var periods = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// parsePeriod resolves the ?period= parameter, defaulting to 24h.
func parsePeriod(r *http.Request) (time.Duration, bool) {
	p := r.URL.Query().Get("period")
	if p == "" {
		return periods["24h"], true
	}
	d, ok := periods[p]
	return d, ok
}
