// Package redisstore wraps the Redis client operations used by the caches,
// the spatial index, the event channel and the leader lease.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return val, true, nil
}

// MGet returns a map of found keys to their values. Missing keys are omitted.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if len(keys) == 0 {
		observability.ObserveCacheOp("mget", nil, time.Since(start).Seconds())
		return map[string][]byte{}, nil
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	observability.ObserveCacheOp("mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make(map[string][]byte, len(vals))
	for i, v := range vals {
		if v == nil {
			continue // missing key
		}
		switch t := v.(type) {
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	n, err := c.rdb.Exists(ctx, key).Result()
	observability.ObserveCacheOp("exists", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("redis EXISTS %q: %w", key, err)
	}
	return n > 0, nil
}

// GetDel fetches and deletes the key in one call. Returns found=false when
// the key did not exist.
func (c *Client) GetDel(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	val, err := c.rdb.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCacheOp("getdel", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	observability.ObserveCacheOp("getdel", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("redis GETDEL %q: %w", key, err)
	}
	return val, true, nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// GeoAdd upserts a member's position. The returned count is the number of
// newly inserted members: 1 for an insert, 0 for a move.
func (c *Client) GeoAdd(ctx context.Context, key string, lon, lat float64, member string) (int64, error) {
	start := time.Now()
	n, err := c.rdb.GeoAdd(ctx, key, &redis.GeoLocation{
		Name:      member,
		Longitude: lon,
		Latitude:  lat,
	}).Result()
	observability.ObserveIndexOp("geoadd", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis GEOADD %q: %w", key, err)
	}
	return n, nil
}

// GeoRemove deletes a member from the geo set. Members of a geo set are plain
// sorted-set members, so removal is ZREM.
func (c *Client) GeoRemove(ctx context.Context, key, member string) (bool, error) {
	start := time.Now()
	n, err := c.rdb.ZRem(ctx, key, member).Result()
	observability.ObserveIndexOp("zrem", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("redis ZREM %q: %w", key, err)
	}
	return n > 0, nil
}

// GeoRadius returns member names within radiusMeters of the point, closest
// first when ascending. count <= 0 means no server-side cap.
func (c *Client) GeoRadius(ctx context.Context, key string, lon, lat, radiusMeters float64, ascending bool, count int) ([]string, error) {
	q := &redis.GeoRadiusQuery{
		Radius: radiusMeters,
		Unit:   "m",
	}
	if ascending {
		q.Sort = "ASC"
	} else {
		q.Sort = "DESC"
	}
	if count > 0 {
		q.Count = count
	}

	start := time.Now()
	locs, err := c.rdb.GeoRadius(ctx, key, lon, lat, q).Result()
	observability.ObserveIndexOp("georadius", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis GEORADIUS %q: %w", key, err)
	}

	out := make([]string, len(locs))
	for i, l := range locs {
		out[i] = l.Name
	}
	return out, nil
}

func (c *Client) HSet(ctx context.Context, key, field, value string) error {
	start := time.Now()
	err := c.rdb.HSet(ctx, key, field, value).Err()
	observability.ObserveCacheOp("hset", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis HSET %q %q: %w", key, field, err)
	}
	return nil
}

// HGet returns found=false when the field does not exist.
func (c *Client) HGet(ctx context.Context, key, field string) (string, bool, error) {
	start := time.Now()
	val, err := c.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCacheOp("hget", nil, time.Since(start).Seconds())
		return "", false, nil
	}
	observability.ObserveCacheOp("hget", err, time.Since(start).Seconds())
	if err != nil {
		return "", false, fmt.Errorf("redis HGET %q %q: %w", key, field, err)
	}
	return val, true, nil
}

func (c *Client) HDel(ctx context.Context, key string, fields ...string) error {
	start := time.Now()
	err := c.rdb.HDel(ctx, key, fields...).Err()
	observability.ObserveCacheOp("hdel", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis HDEL %q: %w", key, err)
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	start := time.Now()
	err := c.rdb.Publish(ctx, channel, payload).Err()
	observability.ObserveCacheOp("publish", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis PUBLISH %q: %w", channel, err)
	}
	return nil
}

// Subscribe opens a subscription on the given channels. The caller owns the
// returned PubSub and must Close it.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

// PSubscribe opens a pattern subscription, used for keyspace notifications.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return c.rdb.PSubscribe(ctx, patterns...)
}

// EnableKeyspaceExpiry turns on expired-key notifications. Best effort: some
// deployments lock down CONFIG, in which case expiry events simply never fire.
func (c *Client) EnableKeyspaceExpiry(ctx context.Context) error {
	if err := c.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		return fmt.Errorf("redis CONFIG SET notify-keyspace-events: %w", err)
	}
	return nil
}

// AcquireLease atomically claims the key for holder with the given TTL.
func (c *Client) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX %q: %w", key, err)
	}
	return ok, nil
}

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RenewLease extends the lease only if holder still owns it.
func (c *Client) RenewLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, c.rdb, []string{key}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lease renew %q: %w", key, err)
	}
	return n > 0, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// ReleaseLease drops the lease only if holder still owns it.
func (c *Client) ReleaseLease(ctx context.Context, key, holder string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{key}, holder).Err(); err != nil {
		return fmt.Errorf("redis lease release %q: %w", key, err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
