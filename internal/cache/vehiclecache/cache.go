// Package vehiclecache is the system of record for vehicle state.
//
// Mutations are broadcast on a Redis channel so that the single leader
// instance observes writes made by every instance in the cluster. TTL expiry
// is observed through Redis keyspace notifications.
package vehiclecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
)

const (
	keyPrefix = "vehicle:"

	// EventsChannel carries created/updated/removed events cluster-wide.
	EventsChannel = "vehiclecache:events"
)

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
	EventExpired EventKind = "expired"
)

// Event is one vehicle cache mutation. Expired events carry no vehicle: the
// value is already gone when Redis reports the expiry.
type Event struct {
	Kind    EventKind      `json:"kind"`
	Key     string         `json:"key"`
	Vehicle *model.Vehicle `json:"vehicle,omitempty"`
}

// Key builds the provider-qualified cache key for a vehicle.
func Key(providerName, vehicleID string) string {
	return providerName + "_" + vehicleID
}

// Cache stores vehicles keyed by provider-qualified id.
type Cache interface {
	Get(ctx context.Context, key string) (model.Vehicle, bool, error)

	// GetAll silently omits absent or expired keys; it never errors on a miss.
	GetAll(ctx context.Context, keys []string) ([]model.Vehicle, error)

	// Put upserts the vehicle wholesale and emits a created or updated event.
	Put(ctx context.Context, key string, v model.Vehicle, expiry time.Duration) error

	// Remove deletes the entry and emits a removed event if it existed.
	Remove(ctx context.Context, key string) error
}

type redisVehicleCache struct {
	cli *redisstore.Client
}

func NewRedisCache(cli *redisstore.Client) Cache {
	return &redisVehicleCache{cli: cli}
}

func (c *redisVehicleCache) Get(ctx context.Context, key string) (model.Vehicle, bool, error) {
	raw, found, err := c.cli.Get(ctx, keyPrefix+key)
	if err != nil {
		return model.Vehicle{}, false, fmt.Errorf("vehiclecache get %q: %w", key, err)
	}
	if !found {
		return model.Vehicle{}, false, nil
	}
	var v model.Vehicle
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.Vehicle{}, false, fmt.Errorf("vehiclecache decode %q: %w", key, err)
	}
	return v, true, nil
}

func (c *redisVehicleCache) GetAll(ctx context.Context, keys []string) ([]model.Vehicle, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = keyPrefix + k
	}

	raw, err := c.cli.MGet(ctx, redisKeys)
	if err != nil {
		return nil, fmt.Errorf("vehiclecache getall %d keys: %w", len(keys), err)
	}

	out := make([]model.Vehicle, 0, len(raw))
	for _, rk := range redisKeys {
		body, ok := raw[rk]
		if !ok {
			continue // absent or expired
		}
		var v model.Vehicle
		if err := json.Unmarshal(body, &v); err != nil {
			continue // corrupt entry degrades completeness, not availability
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *redisVehicleCache) Put(ctx context.Context, key string, v model.Vehicle, expiry time.Duration) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("vehiclecache encode %q: %w", key, err)
	}

	existed, err := c.cli.Exists(ctx, keyPrefix+key)
	if err != nil {
		return fmt.Errorf("vehiclecache put %q: %w", key, err)
	}
	if err := c.cli.Set(ctx, keyPrefix+key, body, expiry); err != nil {
		return fmt.Errorf("vehiclecache put %q: %w", key, err)
	}

	kind := EventCreated
	if existed {
		kind = EventUpdated
	}
	return c.publish(ctx, Event{Kind: kind, Key: key, Vehicle: &v})
}

func (c *redisVehicleCache) Remove(ctx context.Context, key string) error {
	raw, found, err := c.cli.GetDel(ctx, keyPrefix+key)
	if err != nil {
		return fmt.Errorf("vehiclecache remove %q: %w", key, err)
	}
	if !found {
		return nil
	}

	ev := Event{Kind: EventRemoved, Key: key}
	var v model.Vehicle
	if err := json.Unmarshal(raw, &v); err == nil {
		ev.Vehicle = &v
	}
	return c.publish(ctx, ev)
}

func (c *redisVehicleCache) publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("vehiclecache encode event: %w", err)
	}
	if err := c.cli.Publish(ctx, EventsChannel, body); err != nil {
		return fmt.Errorf("vehiclecache publish %s %q: %w", ev.Kind, ev.Key, err)
	}
	return nil
}

// ExpiredKeyToCacheKey maps an expired-key notification payload to a vehicle
// cache key, or "" when the key belongs to someone else.
func ExpiredKeyToCacheKey(redisKey string) string {
	if !strings.HasPrefix(redisKey, keyPrefix) {
		return ""
	}
	return strings.TrimPrefix(redisKey, keyPrefix)
}
