package adapters

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/routehub/routehub/internal/offline"
	"github.com/routehub/routehub/internal/store"
)

// Pipeline runs one source end to end: fetch, cache, parse, ingest. A failed
// fetch falls back to the last cached payload so routing keeps working while
// a source is down.
type Pipeline struct {
	fetcher  *Fetcher
	cache    *offline.SourceCache
	ingestor *store.Ingestor
	logger   *slog.Logger
}

// NewPipeline wires the fetcher, offline cache, and ingestor together.
func NewPipeline(fetcher *Fetcher, cache *offline.SourceCache, ingestor *store.Ingestor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{fetcher: fetcher, cache: cache, ingestor: ingestor, logger: logger}
}

// Sync refreshes one source. The returned report is valid even on error.
func (p *Pipeline) Sync(ctx context.Context, src Source) (store.IngestReport, error) {
	interval := int(src.SyncInterval().Minutes())

	payload, fetchErr := p.fetcher.Fetch(ctx, src.URL())
	if fetchErr == nil && !src.Validate(payload) {
		// A 200 with a broken body must not displace the cached payload.
		fetchErr = fmt.Errorf("source %s returned an invalid payload", src.Name())
	}
	fromCache := false
	if fetchErr != nil {
		stale, ok, cacheErr := p.cache.RetrieveStale(src.Name())
		if cacheErr != nil || !ok {
			err := fmt.Errorf("source %s unavailable and no cached payload: %w", src.Name(), fetchErr)
			_ = p.ingestor.RecordSourceFailure(ctx, src.Name(), src.URL(), interval, err)
			return store.IngestReport{Source: src.Name()}, err
		}
		p.logger.Warn("live payload unusable, ingesting cached payload",
			"source", src.Name(), "error", fetchErr)
		payload = stale
		fromCache = true
	} else {
		if err := p.cache.Store(src.Name(), payload); err != nil {
			p.logger.Warn("caching source payload failed", "source", src.Name(), "error", err)
		}
	}

	metrics, err := src.Parse(payload)
	if err != nil {
		if fromCache {
			err = fmt.Errorf("cached payload unusable: %w", err)
		}
		_ = p.ingestor.RecordSourceFailure(ctx, src.Name(), src.URL(), interval, err)
		return store.IngestReport{Source: src.Name()}, err
	}

	return p.ingestor.IngestSourceRun(ctx, src.Name(), src.URL(), metrics, interval)
}
