package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/routehub/routehub/internal/scoring"
)

// ModelsListHandler lists the catalog. Inactive models are included only with
// ?all=true.
func ModelsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activeOnly := r.URL.Query().Get("all") != "true"
		models, err := d.Store.ListModels(r.Context(), activeOnly)
		if err != nil {
			jsonError(w, "list models: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"models": models,
			"count":  len(models),
		})
	}
}

// ModelMetricsHandler returns the latest metric view for one model.
func ModelMetricsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			jsonError(w, "invalid model id", http.StatusBadRequest)
			return
		}
		m, err := d.Store.GetModel(r.Context(), id)
		if err != nil {
			jsonError(w, "get model: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if m == nil {
			jsonError(w, "model not found", http.StatusNotFound)
			return
		}
		view, err := d.Store.MetricsView(r.Context(), id)
		if err != nil {
			jsonError(w, "metrics view: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"model":   m,
			"metrics": view.Values,
		})
	}
}

// RankingsHandler ranks the catalog under a profile.
func RankingsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := r.URL.Query().Get("profile")
		if profile == "" {
			profile = defaultProfile
		}
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				jsonError(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		scores, err := d.Router.Rank(r.Context(), profile, limit)
		if errors.Is(err, scoring.ErrUnknownProfile) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			jsonError(w, "rank: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"profile":  profile,
			"rankings": scores,
		})
	}
}

// ProfilesHandler lists the routing profiles with weights and constraints.
func ProfilesHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"profiles": d.Profiles.List(),
		})
	}
}
