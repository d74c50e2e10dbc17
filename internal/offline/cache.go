// Package offline is a TTL-bounded cache of last-known-good adapter payloads.
// A go-cache memory layer fronts one JSON file per key on disk, so payloads
// survive restarts and remain retrievable after expiry via an explicit
// stale-allowed fetch when a live source is down.
package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NoTTL marks an entry that never expires.
const NoTTL time.Duration = -1

const fileExt = ".json"

// entry is the on-disk representation of one cached value.
type entry struct {
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"data"`
	StoredAt   time.Time       `json:"stored_at"`
	TTLSeconds float64         `json:"ttl_seconds"` // <= 0 means no expiry
}

func (e entry) expired(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(e.StoredAt) > time.Duration(e.TTLSeconds*float64(time.Second))
}

// Cache is the in-process offline cache. All disk mutations are serialized
// under one mutex. Expiry hides an entry from Get/Exists and drops it from
// the memory layer; the disk file stays behind as the last-known-good
// payload for GetStale until it is deleted, cleared, or evicted.
type Cache struct {
	mu      sync.Mutex
	mem     *gocache.Cache
	dir     string
	maxSize int
	logger  *slog.Logger

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithMaxSize bounds the number of entries; when exceeded, the oldest entries
// by creation time are evicted first.
func WithMaxSize(n int) CacheOption {
	return func(c *Cache) { c.maxSize = n }
}

// New creates a Cache persisting under dir, creating it if needed.
func New(dir string, logger *slog.Logger, opts ...CacheOption) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("offline: create cache dir: %w", err)
	}
	// The go-cache janitor sweeps expired memory entries every 10 minutes.
	c := &Cache{
		mem:     gocache.New(gocache.NoExpiration, 10*time.Minute),
		dir:     dir,
		logger:  logger,
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Cache) filename(key string) string {
	return filepath.Join(c.dir, url.QueryEscape(key)+fileExt)
}

func keyFromFilename(name string) (string, bool) {
	if !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	key, err := url.QueryUnescape(strings.TrimSuffix(name, fileExt))
	if err != nil {
		return "", false
	}
	return key, true
}

// Set stores a JSON-serializable value under key with the given TTL
// (NoTTL for no expiry).
func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("offline: marshal %q: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(key, data, ttl)
}

func (c *Cache) setLocked(key string, data json.RawMessage, ttl time.Duration) error {
	e := entry{Key: key, Data: data, StoredAt: c.nowFunc()}
	memTTL := gocache.NoExpiration
	if ttl > 0 {
		e.TTLSeconds = ttl.Seconds()
		memTTL = ttl
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.filename(key), raw, 0o644); err != nil {
		return fmt.Errorf("offline: write %q: %w", key, err)
	}
	c.mem.Set(key, e, memTTL)
	c.evictLocked()
	return nil
}

// evictLocked drops the oldest entries while the cache exceeds maxSize.
func (c *Cache) evictLocked() {
	if c.maxSize <= 0 {
		return
	}
	entries, err := c.loadAllLocked()
	if err != nil || len(entries) <= c.maxSize {
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StoredAt.Before(entries[j].StoredAt)
	})
	for _, e := range entries[:len(entries)-c.maxSize] {
		c.deleteLocked(e.Key)
	}
}

func (c *Cache) loadAllLocked() ([]entry, error) {
	names, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var entries []entry
	for _, f := range names {
		if f.IsDir() {
			continue
		}
		e, err := c.readFile(filepath.Join(c.dir, f.Name()))
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *Cache) readFile(path string) (entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return entry{}, err
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return entry{}, err
	}
	return e, nil
}

// Get unmarshals the cached value into out. Expired entries read as absent
// and are dropped from the memory layer opportunistically; the disk copy
// stays available to GetStale.
func (c *Cache) Get(key string, out any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key, out, false)
}

// GetStale is Get without the TTL check: it returns the last-known payload
// even when expired. Used when a live fetch has failed.
func (c *Cache) GetStale(key string, out any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, err := c.getLocked(key, out, true)
	if ok {
		c.logger.Warn("serving stale cache entry", "key", key)
	}
	return ok, err
}

func (c *Cache) getLocked(key string, out any, allowStale bool) (bool, error) {
	var e entry
	if v, found := c.mem.Get(key); found {
		e = v.(entry)
	} else {
		var err error
		e, err = c.readFile(c.filename(key))
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}

	if !allowStale && e.expired(c.nowFunc()) {
		c.mem.Delete(key)
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(e.Data, out); err != nil {
			return false, fmt.Errorf("offline: unmarshal %q: %w", key, err)
		}
	}
	return true, nil
}

// Exists reports whether a non-expired entry is present.
func (c *Cache) Exists(key string) (bool, error) {
	return c.Get(key, nil)
}

// Age returns how long ago the entry was stored.
func (c *Cache) Age(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.readFile(c.filename(key))
	if err != nil {
		return 0, false
	}
	return c.nowFunc().Sub(e.StoredAt), true
}

// Delete removes an entry from both layers.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteLocked(key)
}

func (c *Cache) deleteLocked(key string) {
	c.mem.Delete(key)
	_ = os.Remove(c.filename(key))
}

// Clear removes entries whose keys match the glob pattern; an empty pattern
// clears everything.
func (c *Cache) Clear(pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range names {
		key, ok := keyFromFilename(f.Name())
		if !ok {
			continue
		}
		if pattern != "" {
			match, err := path.Match(pattern, key)
			if err != nil {
				return removed, fmt.Errorf("offline: bad pattern %q: %w", pattern, err)
			}
			if !match {
				continue
			}
		}
		c.deleteLocked(key)
		removed++
	}
	return removed, nil
}

// GetMany fetches several keys at once; absent and expired keys are omitted
// from the result.
func (c *Cache) GetMany(keys []string) (map[string]json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		var raw json.RawMessage
		ok, err := c.getLocked(k, &raw, false)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = raw
		}
	}
	return out, nil
}

// SetMany stores several values under one lock acquisition.
func (c *Cache) SetMany(values map[string]any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("offline: marshal %q: %w", k, err)
		}
		if err := c.setLocked(k, data, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Increment atomically adds delta to an integer entry, creating it at delta
// if absent, and returns the new value.
func (c *Cache) Increment(key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current int64
	if _, err := c.getLocked(key, &current, false); err != nil {
		return 0, err
	}
	current += delta

	data, err := json.Marshal(current)
	if err != nil {
		return 0, err
	}
	if err := c.setLocked(key, data, NoTTL); err != nil {
		return 0, err
	}
	return current, nil
}

// GetOrCompute returns the cached value or invokes factory to compute and
// store it.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, out any, factory func() (any, error)) error {
	ok, err := c.Get(key, out)
	if err != nil || ok {
		return err
	}

	value, err := factory()
	if err != nil {
		return err
	}
	if err := c.Set(key, value, ttl); err != nil {
		return err
	}
	_, err = c.Get(key, out)
	return err
}
