// Package service implements the nearby-vehicle query engine.
package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/spatialid"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/spatialindex"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/vehiclecache"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/observability"
)

const decodeCacheSize = 16384

// QueryParams locates a nearby query: a point, a search radius in meters and
// a cap on the number of matching vehicles returned.
type QueryParams struct {
	Lon   float64
	Lat   float64
	Range float64
	Count int
}

// VehicleFilters constrain a nearby query. A nil slice means no constraint on
// that attribute.
type VehicleFilters struct {
	Operators       []string
	Codespaces      []string
	FormFactors     []model.FormFactor
	PropulsionTypes []model.PropulsionType
	IncludeReserved bool
	IncludeDisabled bool
}

func (f VehicleFilters) match(id spatialid.ID) bool {
	if f.Operators != nil && !slices.Contains(f.Operators, id.Operator) {
		return false
	}
	if f.Codespaces != nil && !slices.Contains(f.Codespaces, id.Codespace) {
		return false
	}
	if f.FormFactors != nil && !slices.Contains(f.FormFactors, id.FormFactor) {
		return false
	}
	if f.PropulsionTypes != nil && !slices.Contains(f.PropulsionTypes, id.PropulsionType) {
		return false
	}
	if !f.IncludeReserved && id.Reserved {
		return false
	}
	if !f.IncludeDisabled && id.Disabled {
		return false
	}
	return true
}

// NearbyService answers "vehicles near this point, matching these filters"
// from the spatial index and the vehicle cache.
type NearbyService struct {
	index    spatialindex.Index
	vehicles vehiclecache.Cache
	decoded  *lru.Cache[string, spatialid.ID]
	log      zerolog.Logger
}

func NewNearbyService(index spatialindex.Index, vehicles vehiclecache.Cache, log zerolog.Logger) (*NearbyService, error) {
	decoded, err := lru.New[string, spatialid.ID](decodeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("nearby decode cache: %w", err)
	}
	return &NearbyService{
		index:    index,
		vehicles: vehicles,
		decoded:  decoded,
		log:      log,
	}, nil
}

// GetVehiclesNearby returns at most params.Count vehicles matching the
// filters, selected in ascending distance from the query point. The count cap
// applies after filtering, so the closest Count matching vehicles are chosen,
// not the closest Count overall. The returned slice carries no distance
// ordering beyond that selection: the batch fetch does not preserve it, and
// callers needing strict order must re-derive it.
func (s *NearbyService) GetVehiclesNearby(ctx context.Context, params QueryParams, filters VehicleFilters) ([]model.Vehicle, error) {
	start := time.Now()

	members, err := s.index.Radius(ctx, params.Lon, params.Lat, params.Range, 0)
	if err != nil {
		return nil, fmt.Errorf("nearby radius query: %w", err)
	}

	keys := make([]string, 0, min(len(members), max(params.Count, 0)))
	for _, member := range members {
		id, ok := s.decode(member)
		if !ok {
			continue
		}
		if !filters.match(id) {
			continue
		}
		keys = append(keys, id.CacheKey())
		if params.Count > 0 && len(keys) >= params.Count {
			break
		}
	}

	vehicles, err := s.vehicles.GetAll(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("nearby vehicle fetch: %w", err)
	}

	observability.ObserveNearbyQuery(time.Since(start).Seconds(), len(vehicles))
	return vehicles, nil
}

// decode memoizes spatial id decoding: hot areas see the same members on
// every query. A corrupt member degrades result completeness, never query
// availability.
func (s *NearbyService) decode(member string) (spatialid.ID, bool) {
	if id, ok := s.decoded.Get(member); ok {
		return id, true
	}
	id, err := spatialid.Decode(member)
	if err != nil {
		s.log.Warn().Err(err).Str("member", member).Msg("skipping undecodable spatial index member")
		return spatialid.ID{}, false
	}
	s.decoded.Add(member, id)
	return id, true
}
