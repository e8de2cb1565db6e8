// Package spatialindex is the geospatial index over vehicle positions,
// backed by a Redis geo set.
package spatialindex

import (
	"context"
	"fmt"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/redisstore"
)

const indexKey = "spatialindex:vehicles"

// Index supports upsert, delete and radius search over
// (longitude, latitude, member) triples.
type Index interface {
	// Add upserts a member's position. Re-adding an existing member moves it,
	// never duplicates it. The returned count distinguishes insert (1) from
	// move (0); callers use it only for logging.
	Add(ctx context.Context, lon, lat float64, member string) (int64, error)

	// Remove reports whether the member was present.
	Remove(ctx context.Context, member string) (bool, error)

	// Radius returns members within radiusMeters of the point, ordered by
	// ascending distance. limit <= 0 means unbounded.
	Radius(ctx context.Context, lon, lat, radiusMeters float64, limit int) ([]string, error)
}

type redisIndex struct {
	cli *redisstore.Client
}

func NewRedisIndex(cli *redisstore.Client) Index {
	return &redisIndex{cli: cli}
}

func (i *redisIndex) Add(ctx context.Context, lon, lat float64, member string) (int64, error) {
	n, err := i.cli.GeoAdd(ctx, indexKey, lon, lat, member)
	if err != nil {
		return 0, fmt.Errorf("spatialindex add %q: %w", member, err)
	}
	return n, nil
}

func (i *redisIndex) Remove(ctx context.Context, member string) (bool, error) {
	removed, err := i.cli.GeoRemove(ctx, indexKey, member)
	if err != nil {
		return false, fmt.Errorf("spatialindex remove %q: %w", member, err)
	}
	return removed, nil
}

func (i *redisIndex) Radius(ctx context.Context, lon, lat, radiusMeters float64, limit int) ([]string, error) {
	members, err := i.cli.GeoRadius(ctx, indexKey, lon, lat, radiusMeters, true, limit)
	if err != nil {
		return nil, fmt.Errorf("spatialindex radius (%f, %f, %fm): %w", lon, lat, radiusMeters, err)
	}
	return members, nil
}
