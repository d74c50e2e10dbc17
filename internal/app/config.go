package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the process configuration, read from ROUTEHUB_* environment
// variables.
type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN   string
	DataDir string

	// APIToken enables bearer auth when non-empty.
	APIToken    string
	CORSOrigins []string

	// Routing.
	FallbackCount int

	// Quota. RedisAddr switches the sliding-window store from in-memory to
	// redis so limits hold across replicas.
	RedisAddr string

	// Streaming.
	MaxStreamClients int

	// Benchmark sources. Sources lists the enabled adapters; LocalSourceURL
	// adds the local file adapter when set.
	Sources             []string
	OpenRouterURL       string
	ArenaURL            string
	LeaderboardURL      string
	LocalSourceURL      string
	SyncIntervalMinutes int
	URLAllowlist        []string
	CacheMaxAgeHours    int

	// Retention.
	MetricsRetentionDays   int
	ModelInactiveDays      int
	AnalyticsRetentionDays int

	// Vault. The master password unlocks at boot when provided.
	VaultEnabled  bool
	VaultPassword string

	// Temporal workflow engine.
	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	// OpenTelemetry tracing.
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("ROUTEHUB_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("ROUTEHUB_LOG_LEVEL", "info"),

		DBDSN:   getEnv("ROUTEHUB_DB_DSN", "file:data/routehub.sqlite"),
		DataDir: getEnv("ROUTEHUB_DATA_DIR", "data"),

		APIToken:    getEnv("ROUTEHUB_API_TOKEN", ""),
		CORSOrigins: getEnvStringSlice("ROUTEHUB_CORS_ORIGINS", nil),

		FallbackCount: getEnvInt("ROUTEHUB_FALLBACK_COUNT", 2),

		RedisAddr: getEnv("ROUTEHUB_REDIS_ADDR", ""),

		MaxStreamClients: getEnvInt("ROUTEHUB_MAX_STREAM_CLIENTS", 100),

		Sources:             getEnvStringSlice("ROUTEHUB_SOURCES", []string{"openrouter", "arena", "leaderboard"}),
		OpenRouterURL:       getEnv("ROUTEHUB_OPENROUTER_URL", "https://openrouter.ai/api/v1/models"),
		ArenaURL:            getEnv("ROUTEHUB_ARENA_URL", "https://lmarena.ai/api/leaderboard"),
		LeaderboardURL:      getEnv("ROUTEHUB_LEADERBOARD_URL", "https://datasets-server.huggingface.co/rows?dataset=open-llm-leaderboard"),
		LocalSourceURL:      getEnv("ROUTEHUB_LOCAL_SOURCE", ""),
		SyncIntervalMinutes: getEnvInt("ROUTEHUB_SYNC_INTERVAL_MINUTES", 60),
		URLAllowlist:        getEnvStringSlice("ROUTEHUB_URL_ALLOWLIST", nil),
		CacheMaxAgeHours:    getEnvInt("ROUTEHUB_CACHE_MAX_AGE_HOURS", 24),

		MetricsRetentionDays:   getEnvInt("ROUTEHUB_METRICS_RETENTION_DAYS", 30),
		ModelInactiveDays:      getEnvInt("ROUTEHUB_MODEL_INACTIVE_DAYS", 90),
		AnalyticsRetentionDays: getEnvInt("ROUTEHUB_ANALYTICS_RETENTION_DAYS", 30),

		VaultEnabled:  getEnvBool("ROUTEHUB_VAULT_ENABLED", false),
		VaultPassword: getEnv("ROUTEHUB_VAULT_PASSWORD", ""),

		TemporalEnabled:   getEnvBool("ROUTEHUB_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("ROUTEHUB_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("ROUTEHUB_TEMPORAL_NAMESPACE", "routehub"),
		TemporalTaskQueue: getEnv("ROUTEHUB_TEMPORAL_TASK_QUEUE", "routehub-refresh"),

		OTelEnabled:     getEnvBool("ROUTEHUB_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("ROUTEHUB_OTEL_ENDPOINT", "localhost:4318"),
		OTelSampleRatio: getEnvFloat("ROUTEHUB_OTEL_SAMPLE_RATIO", 1),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.FallbackCount < 0 {
		return fmt.Errorf("ROUTEHUB_FALLBACK_COUNT must be >= 0, got %d", c.FallbackCount)
	}
	if c.MaxStreamClients <= 0 {
		return fmt.Errorf("ROUTEHUB_MAX_STREAM_CLIENTS must be > 0, got %d", c.MaxStreamClients)
	}
	if c.SyncIntervalMinutes <= 0 {
		return fmt.Errorf("ROUTEHUB_SYNC_INTERVAL_MINUTES must be > 0, got %d", c.SyncIntervalMinutes)
	}
	if c.MetricsRetentionDays <= 0 || c.ModelInactiveDays <= 0 || c.AnalyticsRetentionDays <= 0 {
		return fmt.Errorf("retention windows must be > 0")
	}
	known := map[string]bool{"openrouter": true, "arena": true, "leaderboard": true}
	for _, s := range c.Sources {
		if !known[s] {
			return fmt.Errorf("ROUTEHUB_SOURCES: unknown source %q", s)
		}
	}
	return nil
}

// CacheDir is where per-source payload cache files live.
func (c Config) CacheDir() string {
	return filepath.Join(c.DataDir, "cache")
}

// QuotaConfigPath is the JSON quota config document.
func (c Config) QuotaConfigPath() string {
	return filepath.Join(c.DataDir, "quota.json")
}

// BudgetConfigPath is the JSON budget config document.
func (c Config) BudgetConfigPath() string {
	return filepath.Join(c.DataDir, "budget.json")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
