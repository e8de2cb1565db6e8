// Package feedcache stores the last fetched payload per (feed type, provider).
package feedcache

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/ttl"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
)

// Cache is the generic per-provider, per-feed-type payload store. Each key is
// replaced wholesale on every successful fetch; staleness is bounded only by
// the TTL set at write time.
type Cache interface {
	Find(ctx context.Context, feedType model.FeedType, provider model.FeedProvider) ([]byte, bool, error)

	// Update overwrites the entry unconditionally. lastUpdatedEpoch and
	// declaredTTLSeconds come from the fetched document itself.
	Update(ctx context.Context, feedType model.FeedType, provider model.FeedProvider, payload []byte, lastUpdatedEpoch, declaredTTLSeconds int64) error
}

type redisFeedCache struct {
	cli        *redisstore.Client
	minimumTTL time.Duration
	now        func() time.Time
}

type Option func(*redisFeedCache)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *redisFeedCache) { c.now = now }
}

func NewRedisCache(cli *redisstore.Client, minimumTTL time.Duration, opts ...Option) Cache {
	c := &redisFeedCache{
		cli:        cli,
		minimumTTL: minimumTTL,
		now:        time.Now,
	}
	for _, f := range opts {
		f(c)
	}
	return c
}

func (c *redisFeedCache) Find(ctx context.Context, feedType model.FeedType, provider model.FeedProvider) ([]byte, bool, error) {
	raw, found, err := c.cli.Get(ctx, Key(feedType, provider.Name))
	if err != nil {
		return nil, false, fmt.Errorf("feedcache find %s/%s: %w", feedType, provider.Name, err)
	}
	return raw, found, nil
}

func (c *redisFeedCache) Update(ctx context.Context, feedType model.FeedType, provider model.FeedProvider, payload []byte, lastUpdatedEpoch, declaredTTLSeconds int64) error {
	expiry := ttl.Effective(c.now(), lastUpdatedEpoch, declaredTTLSeconds, int64(c.minimumTTL.Seconds()))
	key := Key(feedType, provider.Name)
	if err := c.cli.Set(ctx, key, payload, expiry); err != nil {
		return fmt.Errorf("feedcache update %s/%s: %w", feedType, provider.Name, err)
	}
	return nil
}

// Key builds the cache key for a (feed type, provider) pair.
func Key(feedType model.FeedType, providerName string) string {
	return fmt.Sprintf("feed:%s_%s", feedType, providerName)
}
