package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	_ "modernc.org/sqlite"

	"github.com/routehub/routehub/internal/catalog"
)

// viewCacheTTL bounds how long a metrics view may be served without hitting
// the database. Ingest invalidates eagerly, so this only covers out-of-band
// writes.
const viewCacheTTL = time.Minute

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db    *sql.DB
	views *gocache.Cache

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode, set busy timeout, enforce foreign keys on metric and
	// alias rows.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{
		db:      db,
		views:   gocache.New(viewCacheTTL, 5*time.Minute),
		nowFunc: time.Now,
	}, nil
}

// DB returns the underlying sql.DB handle so sibling subsystems (analytics,
// the scheduler) can share one database file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS models (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			provider TEXT NOT NULL DEFAULT '',
			context_length INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_id INTEGER NOT NULL REFERENCES models(id) ON DELETE CASCADE,
			source TEXT NOT NULL,
			kind TEXT NOT NULL,
			value REAL NOT NULL,
			metadata TEXT,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_model_kind ON metrics(model_id, kind, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_source ON metrics(source)`,
		`CREATE TABLE IF NOT EXISTS model_aliases (
			alias TEXT PRIMARY KEY,
			canonical_id INTEGER NOT NULL REFERENCES models(id) ON DELETE CASCADE,
			confidence REAL NOT NULL,
			reviewed INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_aliases_reviewed ON model_aliases(reviewed)`,
		`CREATE TABLE IF NOT EXISTS benchmark_sources (
			name TEXT PRIMARY KEY,
			url TEXT NOT NULL DEFAULT '',
			last_sync TEXT,
			last_success TEXT,
			status TEXT NOT NULL DEFAULT 'never',
			error TEXT NOT NULL DEFAULT '',
			interval_minutes INTEGER NOT NULL DEFAULT 60
		)`,
		`CREATE TABLE IF NOT EXISTS routing_index (
			model_id INTEGER NOT NULL REFERENCES models(id) ON DELETE CASCADE,
			profile TEXT NOT NULL,
			score REAL NOT NULL,
			quality_score REAL NOT NULL DEFAULT 0,
			latency_score REAL NOT NULL DEFAULT 0,
			cost_score REAL NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (model_id, profile)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_index_profile_score ON routing_index(profile, score DESC)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Catalog ---

const modelColumns = `id, name, provider, context_length, active, description, created_at`

func scanModel(row interface{ Scan(...any) error }) (catalog.Model, error) {
	var m catalog.Model
	var active int
	var createdAt string
	if err := row.Scan(&m.ID, &m.Name, &m.Provider, &m.ContextLength, &active, &m.Description, &createdAt); err != nil {
		return m, err
	}
	m.Active = active != 0
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return m, nil
}

func (s *SQLiteStore) ListModels(ctx context.Context, activeOnly bool) ([]catalog.Model, error) {
	q := `SELECT ` + modelColumns + ` FROM models`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var models []catalog.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (s *SQLiteStore) GetModel(ctx context.Context, id int64) (*catalog.Model, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE id = ?`, id)
	m, err := scanModel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) GetModelByName(ctx context.Context, name string) (*catalog.Model, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE name = ?`, name)
	m, err := scanModel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) CreateModel(ctx context.Context, m catalog.Model) (int64, error) {
	created := m.CreatedAt
	if created.IsZero() {
		created = s.nowFunc()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO models (name, provider, context_length, active, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.Name, m.Provider, m.ContextLength, boolToInt(m.Active), m.Description,
		created.UTC().Format(time.RFC3339))
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("model %q: %w", m.Name, ErrDuplicate)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) SetModelActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE models SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("model %d: %w", id, ErrNotFound)
	}
	s.invalidateView(id)
	return nil
}

func (s *SQLiteStore) CatalogNames(ctx context.Context, activeOnly bool) (map[int64]string, error) {
	q := `SELECT id, name FROM models`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	names := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// --- Aliases ---

func (s *SQLiteStore) GetAlias(ctx context.Context, alias string) (*catalog.Alias, error) {
	var a catalog.Alias
	var reviewed int
	err := s.db.QueryRowContext(ctx,
		`SELECT alias, canonical_id, confidence, reviewed, source FROM model_aliases WHERE alias = ?`,
		alias).Scan(&a.Alias, &a.CanonicalID, &a.Confidence, &reviewed, &a.Source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Reviewed = reviewed != 0
	return &a, nil
}

func (s *SQLiteStore) UpsertAlias(ctx context.Context, a catalog.Alias) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_aliases (alias, canonical_id, confidence, reviewed, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET
			canonical_id = excluded.canonical_id,
			confidence = excluded.confidence,
			reviewed = excluded.reviewed,
			source = excluded.source
	`, a.Alias, a.CanonicalID, a.Confidence, boolToInt(a.Reviewed), a.Source)
	return err
}

func (s *SQLiteStore) ListAliasesNeedingReview(ctx context.Context) ([]catalog.Alias, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alias, canonical_id, confidence, reviewed, source
		 FROM model_aliases WHERE reviewed = 0 ORDER BY confidence DESC, alias`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var aliases []catalog.Alias
	for rows.Next() {
		var a catalog.Alias
		var reviewed int
		if err := rows.Scan(&a.Alias, &a.CanonicalID, &a.Confidence, &reviewed, &a.Source); err != nil {
			return nil, err
		}
		a.Reviewed = reviewed != 0
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// ReviewAlias approves or rejects a pending alias mapping. Rejection removes
// the alias row only; metrics already recorded under it are kept.
func (s *SQLiteStore) ReviewAlias(ctx context.Context, alias string, approve bool) error {
	var res sql.Result
	var err error
	if approve {
		res, err = s.db.ExecContext(ctx, `UPDATE model_aliases SET reviewed = 1 WHERE alias = ?`, alias)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM model_aliases WHERE alias = ?`, alias)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("alias %q: %w", alias, ErrNotFound)
	}
	return nil
}

// --- Metrics ---

// AppendMetrics records a batch of measurements for one model in a single
// transaction and invalidates its cached view.
func (s *SQLiteStore) AppendMetrics(ctx context.Context, source string, modelID int64, metrics []catalog.RawMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics (model_id, source, kind, value, metadata, timestamp) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range metrics {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = s.nowFunc()
		}
		var meta sql.NullString
		if len(m.Metadata) > 0 {
			raw, err := json.Marshal(m.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metric metadata: %w", err)
			}
			meta = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, modelID, source, m.Kind, m.Value, meta, ts.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.invalidateView(modelID)
	return nil
}

func viewCacheKey(modelID int64) string {
	return fmt.Sprintf("view:%d", modelID)
}

func (s *SQLiteStore) invalidateView(modelID int64) {
	s.views.Delete(viewCacheKey(modelID))
	s.views.Delete("views:all")
}

// MetricsView returns the latest value per metric kind for one model. The
// catalog context length backfills the context_length kind when no source
// has reported one.
func (s *SQLiteStore) MetricsView(ctx context.Context, modelID int64) (catalog.MetricsView, error) {
	if cached, found := s.views.Get(viewCacheKey(modelID)); found {
		return cached.(catalog.MetricsView), nil
	}

	m, err := s.GetModel(ctx, modelID)
	if err != nil {
		return catalog.MetricsView{}, err
	}
	if m == nil {
		return catalog.MetricsView{}, fmt.Errorf("model %d: %w", modelID, ErrNotFound)
	}

	view := catalog.MetricsView{ModelID: modelID, Name: m.Name, Values: make(map[string]float64)}
	// Rows arrive oldest first; later rows overwrite, leaving the newest
	// value per kind.
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, value FROM metrics WHERE model_id = ? ORDER BY timestamp ASC, id ASC`, modelID)
	if err != nil {
		return catalog.MetricsView{}, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var kind string
		var value float64
		if err := rows.Scan(&kind, &value); err != nil {
			return catalog.MetricsView{}, err
		}
		view.Values[kind] = value
	}
	if err := rows.Err(); err != nil {
		return catalog.MetricsView{}, err
	}
	if m.ContextLength > 0 {
		if _, ok := view.Values[catalog.KindContextLength]; !ok {
			view.Values[catalog.KindContextLength] = float64(m.ContextLength)
		}
	}
	s.views.SetDefault(viewCacheKey(modelID), view)
	return view, nil
}

// AllMetricsViews returns the metrics view for every model in one pass.
func (s *SQLiteStore) AllMetricsViews(ctx context.Context, activeOnly bool) ([]catalog.MetricsView, error) {
	if activeOnly {
		if cached, found := s.views.Get("views:all"); found {
			return cached.([]catalog.MetricsView), nil
		}
	}

	models, err := s.ListModels(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*catalog.MetricsView, len(models))
	views := make([]catalog.MetricsView, len(models))
	for i, m := range models {
		views[i] = catalog.MetricsView{ModelID: m.ID, Name: m.Name, Values: make(map[string]float64)}
		byID[m.ID] = &views[i]
		if m.ContextLength > 0 {
			views[i].Values[catalog.KindContextLength] = float64(m.ContextLength)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, kind, value FROM metrics ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var modelID int64
		var kind string
		var value float64
		if err := rows.Scan(&modelID, &kind, &value); err != nil {
			return nil, err
		}
		if v, ok := byID[modelID]; ok {
			v.Values[kind] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if activeOnly {
		s.views.SetDefault("views:all", views)
	}
	return views, nil
}

// PruneMetrics deletes metric rows older than the retention window and
// reports how many were removed. Safe to run repeatedly.
func (s *SQLiteStore) PruneMetrics(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.nowFunc().Add(-retention).UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `DELETE FROM metrics WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if n > 0 {
		s.views.Flush()
	}
	return n, err
}

// MarkInactiveModels deactivates models with no metrics inside the
// inactivity window. Models created inside the window are left alone so a
// freshly registered model is not deactivated before its first sync.
func (s *SQLiteStore) MarkInactiveModels(ctx context.Context, inactivity time.Duration) (int64, error) {
	cutoff := s.nowFunc().Add(-inactivity).UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		UPDATE models SET active = 0
		WHERE active = 1
		  AND created_at < ?
		  AND id NOT IN (SELECT DISTINCT model_id FROM metrics WHERE timestamp >= ?)
	`, cutoff, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if n > 0 {
		s.views.Flush()
	}
	return n, err
}

// --- Source bookkeeping ---

func (s *SQLiteStore) RecordSourceSync(ctx context.Context, src catalog.SourceStatus) error {
	var lastSync, lastSuccess sql.NullString
	if !src.LastSync.IsZero() {
		lastSync = sql.NullString{String: src.LastSync.UTC().Format(time.RFC3339), Valid: true}
	}
	if !src.LastSuccess.IsZero() {
		lastSuccess = sql.NullString{String: src.LastSuccess.UTC().Format(time.RFC3339), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO benchmark_sources (name, url, last_sync, last_success, status, error, interval_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url,
			last_sync = COALESCE(excluded.last_sync, benchmark_sources.last_sync),
			last_success = COALESCE(excluded.last_success, benchmark_sources.last_success),
			status = excluded.status,
			error = excluded.error,
			interval_minutes = excluded.interval_minutes
	`, src.Name, src.URL, lastSync, lastSuccess, src.Status, src.Error, src.IntervalMinutes)
	return err
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]catalog.SourceStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, url, last_sync, last_success, status, error, interval_minutes
		 FROM benchmark_sources ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sources []catalog.SourceStatus
	for rows.Next() {
		var src catalog.SourceStatus
		var lastSync, lastSuccess sql.NullString
		if err := rows.Scan(&src.Name, &src.URL, &lastSync, &lastSuccess, &src.Status, &src.Error, &src.IntervalMinutes); err != nil {
			return nil, err
		}
		if lastSync.Valid {
			src.LastSync, _ = time.Parse(time.RFC3339, lastSync.String)
		}
		if lastSuccess.Valid {
			src.LastSuccess, _ = time.Parse(time.RFC3339, lastSuccess.String)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// --- Routing index ---

// SaveRoutingIndex atomically replaces the precomputed scores for a profile.
func (s *SQLiteStore) SaveRoutingIndex(ctx context.Context, profile string, rows []RoutingIndexRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM routing_index WHERE profile = ?`, profile); err != nil {
		return err
	}
	now := s.nowFunc().UTC().Format(time.RFC3339)
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO routing_index (model_id, profile, score, quality_score, latency_score, cost_score, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.ModelID, profile, r.Score, r.QualityScore, r.LatencyScore, r.CostScore, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RoutingIndex returns the precomputed ranking for a profile, best first.
func (s *SQLiteStore) RoutingIndex(ctx context.Context, profile string, limit int) ([]RoutingIndexRow, error) {
	q := `
		SELECT r.model_id, m.name, r.profile, r.score, r.quality_score, r.latency_score, r.cost_score
		FROM routing_index r
		JOIN models m ON m.id = r.model_id
		WHERE r.profile = ?
		ORDER BY r.score DESC, r.model_id ASC`
	args := []any{profile}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RoutingIndexRow
	for rows.Next() {
		var r RoutingIndexRow
		if err := rows.Scan(&r.ModelID, &r.ModelName, &r.Profile, &r.Score, &r.QualityScore, &r.LatencyScore, &r.CostScore); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
