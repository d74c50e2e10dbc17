package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/routehub/routehub/internal/apikey"
	"github.com/routehub/routehub/internal/budget"
	"github.com/routehub/routehub/internal/scheduler"
)

// BudgetGetHandler returns the budget config plus current spend standing.
func BudgetGetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := d.Budget.SpendSummary(r.Context())
		if err != nil {
			jsonError(w, "spend summary: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"config":  d.Budget.Config(),
			"summary": summary,
		})
	}
}

// BudgetPutHandler replaces the budget config and persists it.
func BudgetPutHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg budget.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := d.Budget.UpdateConfig(cfg); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": d.Budget.Config()})
	}
}

// QuotaStatusHandler reports the calling identity's standing across all
// quota windows without consuming an admission.
func QuotaStatusHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := apikey.Identity(r.Context())
		res, err := d.Quota.StatusFor(r.Context(), identity)
		if err != nil {
			jsonError(w, "quota status: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"identity": identity,
			"config":   d.Quota.Config(),
			"status":   res,
		})
	}
}

// QuotaResetHandler clears the calling identity's quota windows.
func QuotaResetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := apikey.Identity(r.Context())
		if err := d.Quota.Reset(r.Context(), identity); err != nil {
			jsonError(w, "quota reset: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"identity": identity, "reset": true})
	}
}

// ReviewListHandler lists aliases waiting for a human resolution decision.
func ReviewListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aliases, err := d.Store.ListAliasesNeedingReview(r.Context())
		if err != nil {
			jsonError(w, "list review queue: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"aliases": aliases,
			"count":   len(aliases),
		})
	}
}

type reviewRequest struct {
	Action string `json:"action"`
}

// ReviewDecideHandler approves or rejects one pending alias. Rejection drops
// the alias; already-ingested metrics stay on the canonical model.
func ReviewDecideHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alias := chi.URLParam(r, "alias")
		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		var approve bool
		switch req.Action {
		case "approve":
			approve = true
		case "reject":
			approve = false
		default:
			jsonError(w, `action must be "approve" or "reject"`, http.StatusBadRequest)
			return
		}
		if err := d.Store.ReviewAlias(r.Context(), alias, approve); err != nil {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"alias": alias, "action": req.Action})
	}
}

// JobsListHandler lists scheduled jobs with their run bookkeeping.
func JobsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"jobs": d.Scheduler.ListJobs(),
		})
	}
}

// JobRunHandler triggers one scheduled job out of band.
func JobRunHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := d.Scheduler.RunNow(id)
		switch {
		case errors.Is(err, scheduler.ErrUnknownJob):
			jsonError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, scheduler.ErrJobRunning):
			jsonError(w, err.Error(), http.StatusConflict)
		case err != nil:
			jsonError(w, err.Error(), http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusAccepted, map[string]any{"job": id, "triggered": true})
		}
	}
}

// SourcesHandler reports ingest bookkeeping for every benchmark source.
func SourcesHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := d.Store.ListSources(r.Context())
		if err != nil {
			jsonError(w, "list sources: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
	}
}

// BreakersHandler reports every model's circuit breaker state.
func BreakersHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		states := d.Breakers.States()
		out := make(map[string]string, len(states))
		for model, st := range states {
			out[model] = st.String()
		}
		writeJSON(w, http.StatusOK, map[string]any{"breakers": out})
	}
}

// StreamStatsHandler reports live connection-manager counters.
func StreamStatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Streaming.Stats())
	}
}
