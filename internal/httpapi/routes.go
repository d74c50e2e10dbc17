package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/routehub/routehub/internal/analytics"
	"github.com/routehub/routehub/internal/budget"
	"github.com/routehub/routehub/internal/circuitbreaker"
	"github.com/routehub/routehub/internal/events"
	"github.com/routehub/routehub/internal/metrics"
	"github.com/routehub/routehub/internal/quota"
	"github.com/routehub/routehub/internal/routing"
	"github.com/routehub/routehub/internal/scheduler"
	"github.com/routehub/routehub/internal/scoring"
	"github.com/routehub/routehub/internal/store"
	"github.com/routehub/routehub/internal/streaming"
	"github.com/routehub/routehub/internal/vault"
)

// Dependencies is everything the HTTP layer needs. Optional subsystems are
// nil-safe: handlers for absent dependencies return 503.
type Dependencies struct {
	Logger   *slog.Logger
	Store    store.Store
	Router   *routing.Router
	Profiles *scoring.Registry
	Breakers *circuitbreaker.Registry

	Quota  *quota.Manager
	Budget *budget.Manager

	Analytics *analytics.Storage
	EventBus  *events.Bus
	Metrics   *metrics.Registry

	Streaming *streaming.Manager
	WSHandler http.Handler

	Scheduler *scheduler.Scheduler
	Vault     *vault.Vault

	Producer Producer
	Version  string
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": "routehub",
			"version": d.Version,
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": d.Version,
		})
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", ChatCompletionsHandler(d))

		r.Get("/models", ModelsListHandler(d))
		r.Get("/models/rankings", RankingsHandler(d))
		r.Get("/models/{id}/metrics", ModelMetricsHandler(d))
		r.Get("/routing/profiles", ProfilesHandler(d))

		r.Get("/analytics/summary", AnalyticsSummaryHandler(d))
		r.Get("/analytics/usage", AnalyticsUsageHandler(d))
		r.Get("/analytics/models", AnalyticsModelsHandler(d))

		r.Get("/budget", BudgetGetHandler(d))
		r.Put("/budget", BudgetPutHandler(d))
		r.Get("/quota", QuotaStatusHandler(d))
		r.Post("/quota/reset", QuotaResetHandler(d))

		r.Get("/resolution/review", ReviewListHandler(d))
		r.Post("/resolution/review/{alias}", ReviewDecideHandler(d))

		r.Get("/scheduler/jobs", JobsListHandler(d))
		r.Post("/scheduler/jobs/{id}/run", JobRunHandler(d))

		r.Get("/sources", SourcesHandler(d))
		r.Get("/breakers", BreakersHandler(d))
		r.Get("/streaming/stats", StreamStatsHandler(d))

		if d.Vault != nil {
			r.Post("/vault/unlock", VaultUnlockHandler(d))
			r.Post("/vault/lock", VaultLockHandler(d))
			r.Get("/vault/secrets", VaultListHandler(d))
			r.Put("/vault/secrets/{name}", VaultSetHandler(d))
			r.Delete("/vault/secrets/{name}", VaultDeleteHandler(d))
		}

		if d.WSHandler != nil {
			r.Handle("/stream", d.WSHandler)
		}
		r.Post("/stream/sse", SSEChatHandler(d))
	})
}
