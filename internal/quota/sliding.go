package quota

import (
	"context"
	"sort"
	"sync"
	"time"
)

// WindowStore persists admission timestamps for sliding-window limiting.
// Implementations must keep per-key operations atomic.
type WindowStore interface {
	// Prune removes admissions at or before cutoff and returns the number
	// remaining for the key.
	Prune(ctx context.Context, key string, cutoff time.Time) (int, error)
	// Oldest returns the earliest remaining admission timestamp.
	Oldest(ctx context.Context, key string) (time.Time, bool, error)
	// Append records n admissions at ts.
	Append(ctx context.Context, key string, ts time.Time, n int) error
	// Clear drops all admissions for the key.
	Clear(ctx context.Context, key string) error
}

// MemoryWindowStore keeps admission timestamps in process memory under a
// single mutex.
type MemoryWindowStore struct {
	mu   sync.Mutex
	keys map[string][]time.Time
}

// NewMemoryWindowStore creates an empty in-memory window store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{keys: make(map[string][]time.Time)}
}

func (s *MemoryWindowStore) Prune(_ context.Context, key string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.keys[key]
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
	if i > 0 {
		ts = append([]time.Time(nil), ts[i:]...)
		if len(ts) == 0 {
			delete(s.keys, key)
		} else {
			s.keys[key] = ts
		}
	}
	return len(ts), nil
}

func (s *MemoryWindowStore) Oldest(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.keys[key]
	if len(ts) == 0 {
		return time.Time{}, false, nil
	}
	return ts[0], true, nil
}

func (s *MemoryWindowStore) Append(_ context.Context, key string, ts time.Time, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < n; i++ {
		s.keys[key] = append(s.keys[key], ts)
	}
	return nil
}

func (s *MemoryWindowStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

// SlidingWindow counts admissions within the trailing window and denies once
// the count reaches the limit.
type SlidingWindow struct {
	store  WindowStore
	window time.Duration
	limit  int

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// NewSlidingWindow creates a limiter admitting at most limit requests per
// window over the given store.
func NewSlidingWindow(store WindowStore, limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		store:   store,
		window:  window,
		limit:   limit,
		nowFunc: time.Now,
	}
}

// Limit returns the configured admission limit.
func (w *SlidingWindow) Limit() int { return w.limit }

// Window returns the configured window length.
func (w *SlidingWindow) Window() time.Duration { return w.window }

func (w *SlidingWindow) decision(ctx context.Context, key string, count int, allowed bool, now time.Time) (Decision, error) {
	d := Decision{
		Allowed:   allowed,
		Limit:     w.limit,
		Remaining: w.limit - count,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}

	oldest, ok, err := w.store.Oldest(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if ok {
		d.ResetAt = oldest.Add(w.window)
		if !allowed {
			d.RetryAfter = d.ResetAt.Sub(now)
			if d.RetryAfter < 0 {
				d.RetryAfter = 0
			}
		}
	}
	return d, nil
}

// Check reports whether one more admission fits in the window.
func (w *SlidingWindow) Check(ctx context.Context, key string) (Decision, error) {
	now := w.nowFunc()
	count, err := w.store.Prune(ctx, key, now.Add(-w.window))
	if err != nil {
		return Decision{}, err
	}
	return w.decision(ctx, key, count, count < w.limit, now)
}

// Consume admits n requests if the window has room for all of them.
func (w *SlidingWindow) Consume(ctx context.Context, key string, n int) (Decision, error) {
	now := w.nowFunc()
	count, err := w.store.Prune(ctx, key, now.Add(-w.window))
	if err != nil {
		return Decision{}, err
	}
	if count+n > w.limit {
		return w.decision(ctx, key, count, false, now)
	}
	if err := w.store.Append(ctx, key, now, n); err != nil {
		return Decision{}, err
	}
	return w.decision(ctx, key, count+n, true, now)
}

// Reset clears the window for the key.
func (w *SlidingWindow) Reset(ctx context.Context, key string) error {
	return w.store.Clear(ctx, key)
}
