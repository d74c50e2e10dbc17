// Package app assembles the gateway: storage, benchmark ingest, routing,
// admission control, streaming, and the HTTP surface, wired from one Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/routehub/routehub/internal/adapters"
	"github.com/routehub/routehub/internal/analytics"
	"github.com/routehub/routehub/internal/apikey"
	"github.com/routehub/routehub/internal/budget"
	"github.com/routehub/routehub/internal/circuitbreaker"
	"github.com/routehub/routehub/internal/events"
	"github.com/routehub/routehub/internal/httpapi"
	"github.com/routehub/routehub/internal/idempotency"
	"github.com/routehub/routehub/internal/logging"
	"github.com/routehub/routehub/internal/metrics"
	"github.com/routehub/routehub/internal/offline"
	"github.com/routehub/routehub/internal/quota"
	"github.com/routehub/routehub/internal/resolve"
	"github.com/routehub/routehub/internal/routing"
	"github.com/routehub/routehub/internal/scheduler"
	"github.com/routehub/routehub/internal/scoring"
	"github.com/routehub/routehub/internal/store"
	"github.com/routehub/routehub/internal/streaming"
	"github.com/routehub/routehub/internal/temporal"
	"github.com/routehub/routehub/internal/tracing"
	"github.com/routehub/routehub/internal/urlcheck"
	"github.com/routehub/routehub/internal/vault"
)

// Version is stamped into / and /health responses.
const Version = "1.0.0"

// fetchTimeout bounds one outbound benchmark fetch.
const fetchTimeout = 30 * time.Second

// idempotencyTTL is how long a completed response stays replayable.
const idempotencyTTL = time.Hour

type Server struct {
	cfg    Config
	r      *chi.Mux
	logger *slog.Logger

	store     *store.SQLiteStore
	vault     *vault.Vault
	collector *analytics.Collector
	scheduler *scheduler.Scheduler
	temporal  *temporal.Manager

	tracingShutdown func(context.Context) error
	cancel          context.CancelFunc
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	tracingShutdown, err := tracing.Setup(tracing.Config{
		Enabled:        cfg.OTelEnabled,
		Endpoint:       cfg.OTelEndpoint,
		ServiceName:    "routehub",
		ServiceVersion: Version,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	anStorage := analytics.NewStorage(db.DB())
	if err := anStorage.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	collector := analytics.NewCollector(anStorage, logger)

	bus := events.NewBus()
	m := metrics.New()

	profiles := scoring.NewRegistry()
	breakers := circuitbreaker.NewRegistry()
	breakers.OnStateChange(func(model string, from, to circuitbreaker.State) {
		logger.Info("breaker state change",
			slog.String("model", model),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		bus.Publish(events.Event{
			Type:      events.EventBreakerChange,
			ModelName: model,
			OldState:  from.String(),
			NewState:  to.String(),
		})
	})
	router := routing.New(db, profiles, breakers, logger,
		routing.WithFallbackCount(cfg.FallbackCount))

	var redisClient *redis.Client
	var windows quota.WindowStore = quota.NewMemoryWindowStore()
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		windows = quota.NewRedisWindowStore(redisClient, "routehub", logger)
		logger.Info("quota windows backed by redis", slog.String("addr", cfg.RedisAddr))
	}
	quotaMgr := quota.NewManager(quota.LoadConfig(cfg.QuotaConfigPath(), logger), windows, logger)
	budgetMgr := budget.NewManager(cfg.BudgetConfigPath(), anStorage, logger)

	v, err := vault.New(db.DB(), cfg.VaultEnabled)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.VaultEnabled && cfg.VaultPassword != "" {
		if err := v.Unlock([]byte(cfg.VaultPassword)); err != nil {
			logger.Warn("vault unlock failed, starting locked", "error", err)
		}
	}

	cache, err := offline.New(cfg.CacheDir(), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	srcCache := offline.NewSourceCache(cache, time.Duration(cfg.CacheMaxAgeHours)*time.Hour)

	var invalidator *offline.Invalidator
	if redisClient != nil {
		invalidator = offline.NewInvalidator(redisClient, "routehub:cache:invalidate", cache, logger)
	}

	fetcher := adapters.NewFetcher(urlcheck.New(cfg.URLAllowlist),
		adapters.WithHTTPClient(&http.Client{
			Timeout:   fetchTimeout,
			Transport: tracing.HTTPTransport(nil),
		}))
	ingestor := store.NewIngestor(db, resolve.NewResolver(), logger)
	pipeline := adapters.NewPipeline(fetcher, srcCache, ingestor, logger)
	sources := buildSources(cfg)

	streamMgr := streaming.NewManager(logger,
		streaming.WithMaxClients(cfg.MaxStreamClients))

	sched, err := scheduler.New(db.DB(), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	deps := httpapi.Dependencies{
		Logger:    logger,
		Store:     db,
		Router:    router,
		Profiles:  profiles,
		Breakers:  breakers,
		Quota:     quotaMgr,
		Budget:    budgetMgr,
		Analytics: anStorage,
		EventBus:  bus,
		Metrics:   m,
		Streaming: streamMgr,
		Scheduler: sched,
		Vault:     v,
		Producer:  httpapi.EchoProducer{},
		Version:   Version,
	}
	deps.WSHandler = streaming.NewWSHandler(streamMgr, httpapi.WSChatFunc(deps), logger)

	s := &Server{
		cfg:             cfg,
		logger:          logger,
		store:           db,
		vault:           v,
		collector:       collector,
		scheduler:       sched,
		tracingShutdown: tracingShutdown,
	}

	if cfg.TemporalEnabled {
		tm, err := temporal.New(temporal.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, &temporal.Activities{
			Pipeline: pipeline,
			Sources:  sources,
			Router:   router,
			Bus:      bus,
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("temporal unavailable, refreshes stay on the in-process scheduler", "error", err)
		} else if err := tm.Start(); err != nil {
			logger.Warn("temporal worker failed to start", "error", err)
			tm.Stop()
		} else {
			s.temporal = tm
			logger.Info("temporal worker started",
				slog.String("host", cfg.TemporalHostPort),
				slog.String("task_queue", cfg.TemporalTaskQueue))
		}
	}

	if err := s.registerJobs(cfg, sched, pipeline, sources, bus, db, anStorage, router); err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go analytics.RunConsumer(ctx, bus, collector)
	go m.RunConsumer(ctx, bus)
	go streamMgr.Run(ctx)
	if invalidator != nil {
		go invalidator.Run(ctx)
	}
	sched.Start()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(tracing.Middleware())
	r.Use(apikey.Middleware(cfg.APIToken, logger))
	r.Use(idempotency.Middleware(idempotency.NewCache(idempotencyTTL)))

	httpapi.MountRoutes(r, deps)
	s.r = r

	return s, nil
}

// buildSources instantiates the enabled benchmark adapters.
func buildSources(cfg Config) []adapters.Source {
	interval := time.Duration(cfg.SyncIntervalMinutes) * time.Minute
	var sources []adapters.Source
	for _, name := range cfg.Sources {
		switch name {
		case "openrouter":
			sources = append(sources, adapters.NewOpenRouterSource(cfg.OpenRouterURL, interval))
		case "arena":
			sources = append(sources, adapters.NewArenaSource(cfg.ArenaURL, interval))
		case "leaderboard":
			sources = append(sources, adapters.NewLeaderboardSource(cfg.LeaderboardURL, interval))
		}
	}
	if cfg.LocalSourceURL != "" {
		sources = append(sources, adapters.NewLocalSource(cfg.LocalSourceURL, interval))
	}
	return sources
}

// registerJobs sets up the recurring work: benchmark refreshes, daily
// pruning, and an hourly routing-index rebuild. With a Temporal worker
// running, refreshes ride one durable workflow; otherwise each source gets
// its own in-process job.
func (s *Server) registerJobs(cfg Config, sched *scheduler.Scheduler, pipeline *adapters.Pipeline, sources []adapters.Source, bus *events.Bus, db *store.SQLiteStore, anStorage *analytics.Storage, router *routing.Router) error {
	interval := time.Duration(cfg.SyncIntervalMinutes) * time.Minute
	if s.temporal != nil {
		if len(sources) > 0 {
			err := sched.AddJob("refresh-workflow", interval, true, func(ctx context.Context) error {
				id, err := s.temporal.TriggerRefresh(ctx, temporal.RefreshInput{})
				if err != nil {
					return err
				}
				s.logger.Info("refresh workflow started", slog.String("workflow_id", id))
				return nil
			})
			if err != nil {
				return err
			}
		}
	} else {
		for _, src := range sources {
			src := src
			job := func(ctx context.Context) error {
				report, err := pipeline.Sync(ctx, src)
				if err != nil {
					bus.Publish(events.Event{
						Type:     events.EventSourceFailed,
						Source:   src.Name(),
						ErrorMsg: err.Error(),
					})
					return err
				}
				bus.Publish(events.Event{
					Type:            events.EventSourceSynced,
					Source:          src.Name(),
					MetricsRecorded: report.MetricsRecorded,
				})
				return nil
			}
			if err := sched.AddJob("refresh-"+src.Name(), src.SyncInterval(), true, job); err != nil {
				return err
			}
		}
	}

	metricsRetention := time.Duration(cfg.MetricsRetentionDays) * 24 * time.Hour
	inactivity := time.Duration(cfg.ModelInactiveDays) * 24 * time.Hour
	if err := sched.AddJob("prune-metrics", 24*time.Hour, false, func(ctx context.Context) error {
		pruned, err := db.PruneMetrics(ctx, metricsRetention)
		if err != nil {
			return err
		}
		marked, err := db.MarkInactiveModels(ctx, inactivity)
		if err != nil {
			return err
		}
		s.logger.Info("store pruned", slog.Int64("metrics_deleted", pruned), slog.Int64("models_deactivated", marked))
		return nil
	}); err != nil {
		return err
	}

	analyticsRetention := time.Duration(cfg.AnalyticsRetentionDays) * 24 * time.Hour
	if err := sched.AddJob("prune-analytics", 24*time.Hour, false, func(ctx context.Context) error {
		deleted, err := anStorage.PruneOldEvents(ctx, analyticsRetention)
		if err != nil {
			return err
		}
		s.logger.Info("analytics pruned", slog.Int64("events_deleted", deleted))
		return nil
	}); err != nil {
		return err
	}

	return sched.AddJob("rebuild-routing-index", time.Hour, false, func(ctx context.Context) error {
		return router.RebuildIndex(ctx)
	})
}

func (s *Server) Router() http.Handler { return s.r }

// SetLogLevel adjusts the process log level at runtime (SIGHUP reload).
func (s *Server) SetLogLevel(level string) {
	logging.SetLevel(level)
	s.logger.Info("log level changed", slog.String("level", level))
}

// Close stops background work and flushes buffered analytics before closing
// the database.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.temporal != nil {
		s.temporal.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.collector != nil {
		if err := s.collector.Close(ctx); err != nil {
			s.logger.Warn("analytics flush on shutdown failed", "error", err)
		}
	}
	if s.tracingShutdown != nil {
		if err := s.tracingShutdown(ctx); err != nil {
			s.logger.Warn("tracing shutdown failed", "error", err)
		}
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
