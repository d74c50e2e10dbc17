package quota

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindowStore keeps admission timestamps in a redis sorted set per key,
// scored by nanosecond timestamp. When redis becomes unreachable the store
// degrades to an in-process fallback so admission keeps working; counts may
// be stale for the remainder of the affected windows.
type RedisWindowStore struct {
	client   redis.UniversalClient
	prefix   string
	fallback *MemoryWindowStore
	logger   *slog.Logger

	mu       sync.Mutex
	degraded bool
	seq      atomic.Uint64
}

// NewRedisWindowStore creates a redis-backed window store. Keys are
// namespaced under the given prefix.
func NewRedisWindowStore(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisWindowStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisWindowStore{
		client:   client,
		prefix:   prefix,
		fallback: NewMemoryWindowStore(),
		logger:   logger,
	}
}

func (s *RedisWindowStore) key(k string) string { return s.prefix + k }

// noteOutcome flips the degraded flag, logging only on edges so an outage
// produces one warning and one recovery line.
func (s *RedisWindowStore) noteOutcome(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil && !s.degraded {
		s.degraded = true
		s.logger.Warn("quota redis store unavailable, falling back to memory", "error", err)
	} else if err == nil && s.degraded {
		s.degraded = false
		s.logger.Info("quota redis store recovered")
	}
}

func (s *RedisWindowStore) Prune(ctx context.Context, key string, cutoff time.Time) (int, error) {
	k := s.key(key)
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff.UnixNano(), 10))
	card := pipe.ZCard(ctx, k)
	_, err := pipe.Exec(ctx)
	s.noteOutcome(err)
	if err != nil {
		return s.fallback.Prune(ctx, key, cutoff)
	}
	return int(card.Val()), nil
}

func (s *RedisWindowStore) Oldest(ctx context.Context, key string) (time.Time, bool, error) {
	res, err := s.client.ZRangeWithScores(ctx, s.key(key), 0, 0).Result()
	s.noteOutcome(err)
	if err != nil {
		return s.fallback.Oldest(ctx, key)
	}
	if len(res) == 0 {
		return time.Time{}, false, nil
	}
	// Scores are float64 and cannot hold epoch nanoseconds exactly; the
	// member string carries the precise admission time.
	nanos := int64(res[0].Score)
	if m, ok := res[0].Member.(string); ok {
		if i := strings.IndexByte(m, '-'); i > 0 {
			if v, perr := strconv.ParseInt(m[:i], 10, 64); perr == nil {
				nanos = v
			}
		}
	}
	return time.Unix(0, nanos), true, nil
}

func (s *RedisWindowStore) Append(ctx context.Context, key string, ts time.Time, n int) error {
	members := make([]redis.Z, n)
	for i := range members {
		members[i] = redis.Z{
			Score:  float64(ts.UnixNano()),
			Member: fmt.Sprintf("%d-%d", ts.UnixNano(), s.seq.Add(1)),
		}
	}
	k := s.key(key)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, k, members...)
	// A day is the longest window the manager composes.
	pipe.Expire(ctx, k, 25*time.Hour)
	_, err := pipe.Exec(ctx)
	s.noteOutcome(err)
	if err != nil {
		return s.fallback.Append(ctx, key, ts, n)
	}
	return nil
}

func (s *RedisWindowStore) Clear(ctx context.Context, key string) error {
	err := s.client.Del(ctx, s.key(key)).Err()
	s.noteOutcome(err)
	if err != nil {
		return s.fallback.Clear(ctx, key)
	}
	return nil
}
