package httpapi

import (
	"net/http"
	"strconv"
)

// AnalyticsSummaryHandler reports request totals for a period.
func AnalyticsSummaryHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window, ok := parsePeriod(r)
		if !ok {
			jsonError(w, "invalid period, want one of 1h 24h 7d 30d", http.StatusBadRequest)
			return
		}
		summary, err := d.Analytics.Summarize(r.Context(), window)
		if err != nil {
			jsonError(w, "summarize: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// AnalyticsUsageHandler reports a bucketed request time-series.
func AnalyticsUsageHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window, ok := parsePeriod(r)
		if !ok {
			jsonError(w, "invalid period, want one of 1h 24h 7d 30d", http.StatusBadRequest)
			return
		}
		bucket := 60
		if v := r.URL.Query().Get("bucket"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				jsonError(w, "invalid bucket minutes", http.StatusBadRequest)
				return
			}
			bucket = n
		}
		points, err := d.Analytics.Timeseries(r.Context(), window, bucket)
		if err != nil {
			jsonError(w, "timeseries: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"bucket_minutes": bucket,
			"points":         points,
		})
	}
}

// AnalyticsModelsHandler reports per-model usage aggregates.
func AnalyticsModelsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window, ok := parsePeriod(r)
		if !ok {
			jsonError(w, "invalid period, want one of 1h 24h 7d 30d", http.StatusBadRequest)
			return
		}
		usage, err := d.Analytics.ModelBreakdown(r.Context(), window)
		if err != nil {
			jsonError(w, "model breakdown: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"models": usage,
		})
	}
}
