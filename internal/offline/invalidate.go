package offline

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Invalidator keeps cache replicas coherent: deleting a key on one instance
// broadcasts the key over a redis channel so every other instance drops its
// local copy too.
type Invalidator struct {
	client  redis.UniversalClient
	channel string
	cache   *Cache
	logger  *slog.Logger
}

func NewInvalidator(client redis.UniversalClient, channel string, cache *Cache, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{client: client, channel: channel, cache: cache, logger: logger}
}

// Broadcast publishes a key deletion to every subscribed instance, including
// this one. The local delete happens when the message comes back around.
func (i *Invalidator) Broadcast(ctx context.Context, key string) error {
	return i.client.Publish(ctx, i.channel, key).Err()
}

// Run subscribes and applies remote deletions until ctx is cancelled.
func (i *Invalidator) Run(ctx context.Context) {
	sub := i.client.Subscribe(ctx, i.channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			i.cache.Delete(msg.Payload)
			i.logger.Debug("cache key invalidated", slog.String("key", msg.Payload))
		}
	}
}
