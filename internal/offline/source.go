package offline

import "time"

const sourceKeyPrefix = "source:"

// DefaultSourceMaxAge is how long an adapter payload is considered fresh.
const DefaultSourceMaxAge = 24 * time.Hour

// SourceCache stores raw adapter payloads keyed by source tag, so ingestion
// can fall back to the last good fetch when a source is unreachable.
type SourceCache struct {
	cache  *Cache
	maxAge time.Duration
}

// NewSourceCache wraps a Cache with per-source payload semantics. maxAge <= 0
// uses DefaultSourceMaxAge.
func NewSourceCache(c *Cache, maxAge time.Duration) *SourceCache {
	if maxAge <= 0 {
		maxAge = DefaultSourceMaxAge
	}
	return &SourceCache{cache: c, maxAge: maxAge}
}

// Store records the latest payload for a source.
func (s *SourceCache) Store(source string, payload []byte) error {
	return s.cache.Set(sourceKeyPrefix+source, payload, s.maxAge)
}

// Retrieve returns the payload if it is younger than maxAge.
func (s *SourceCache) Retrieve(source string) ([]byte, bool, error) {
	var payload []byte
	ok, err := s.cache.Get(sourceKeyPrefix+source, &payload)
	return payload, ok, err
}

// RetrieveStale returns the last-known payload regardless of age. Use only
// when the live fetch has failed.
func (s *SourceCache) RetrieveStale(source string) ([]byte, bool, error) {
	var payload []byte
	ok, err := s.cache.GetStale(sourceKeyPrefix+source, &payload)
	return payload, ok, err
}

// Clear drops the cached payload for one source, or all sources when source
// is empty.
func (s *SourceCache) Clear(source string) (int, error) {
	if source == "" {
		return s.cache.Clear(sourceKeyPrefix + "*")
	}
	return s.cache.Clear(sourceKeyPrefix + source)
}
