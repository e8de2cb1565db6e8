// Package fetcher retrieves GBFS documents and lands them in the caches.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/feedcache"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/ttl"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/vehiclecache"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/observability"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/feedevents"
)

const maxFeedBytes = 32 << 20

type envelope struct {
	LastUpdated int64 `json:"last_updated"`
	TTL         int64 `json:"ttl"`
}

type vehicleType struct {
	FormFactor     model.FormFactor
	PropulsionType model.PropulsionType
}

// GBFSFetcher fetches feed documents over HTTP, stores raw payloads in the
// feed cache and upserts parsed vehicles into the vehicle cache. One fetch
// per (provider, feed type) runs at a time; fetches for different providers
// are fully independent.
type GBFSFetcher struct {
	client     *http.Client
	feeds      feedcache.Cache
	vehicles   vehiclecache.Cache
	minimumTTL time.Duration
	events     feedevents.Publisher
	log        zerolog.Logger
	now        func() time.Time

	mu    sync.RWMutex
	types map[string]map[string]vehicleType // provider -> vehicle_type_id
}

type Option func(*GBFSFetcher)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *GBFSFetcher) { f.now = now }
}

// WithEventPublisher announces every successful feed refresh downstream.
func WithEventPublisher(p feedevents.Publisher) Option {
	return func(f *GBFSFetcher) { f.events = p }
}

func New(client *http.Client, feeds feedcache.Cache, vehicles vehiclecache.Cache, minimumTTL time.Duration, log zerolog.Logger, opts ...Option) *GBFSFetcher {
	f := &GBFSFetcher{
		client:     client,
		feeds:      feeds,
		vehicles:   vehicles,
		minimumTTL: minimumTTL,
		events:     feedevents.NewNoop(),
		log:        log,
		now:        time.Now,
		types:      make(map[string]map[string]vehicleType),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FetchDiscovery retrieves the provider's auto-discovery document and caches
// the raw payload.
func (f *GBFSFetcher) FetchDiscovery(ctx context.Context, provider model.FeedProvider) (model.DiscoveryFeed, error) {
	body, err := f.get(ctx, provider.URL)
	observability.IncFeedFetch(provider.Name, string(model.FeedDiscovery), err)
	if err != nil {
		return model.DiscoveryFeed{}, fmt.Errorf("fetch discovery for %s: %w", provider.Name, err)
	}

	var discovery model.DiscoveryFeed
	if err := json.Unmarshal(body, &discovery); err != nil {
		return model.DiscoveryFeed{}, fmt.Errorf("parse discovery for %s: %w", provider.Name, err)
	}

	if err := f.feeds.Update(ctx, model.FeedDiscovery, provider, body, discovery.LastUpdated, discovery.TTL); err != nil {
		f.log.Warn().Err(err).Str("provider", provider.Name).Msg("failed to cache discovery feed")
	}
	return discovery, nil
}

// FetchFeed retrieves one feed declared by the discovery document. The raw
// payload always lands in the feed cache; free_bike_status additionally
// upserts the vehicle cache, and vehicle_types refreshes the attribute
// lookup used to enrich vehicles.
func (f *GBFSFetcher) FetchFeed(ctx context.Context, provider model.FeedProvider, discovery model.DiscoveryFeed, feedType model.FeedType) error {
	url := feedURL(discovery, provider.Language, feedType)
	if url == "" {
		return fmt.Errorf("provider %s declares no %s feed", provider.Name, feedType)
	}

	body, err := f.get(ctx, url)
	observability.IncFeedFetch(provider.Name, string(feedType), err)
	if err != nil {
		return fmt.Errorf("fetch %s for %s: %w", feedType, provider.Name, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("parse %s envelope for %s: %w", feedType, provider.Name, err)
	}

	if err := f.feeds.Update(ctx, feedType, provider, body, env.LastUpdated, env.TTL); err != nil {
		return fmt.Errorf("cache %s for %s: %w", feedType, provider.Name, err)
	}

	switch feedType {
	case model.FeedVehicleTypes:
		err = f.updateVehicleTypes(provider, body)
	case model.FeedFreeBikeStatus:
		err = f.updateVehicles(ctx, provider, body, env)
	}
	if err != nil {
		return err
	}

	f.events.Publish(feedevents.Event{Provider: provider.Name, FeedType: feedType, TS: f.now()})
	return nil
}

func (f *GBFSFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

func feedURL(discovery model.DiscoveryFeed, lang string, feedType model.FeedType) string {
	for _, ref := range discovery.FeedsForLanguage(lang) {
		if ref.Name == feedType {
			return ref.URL
		}
	}
	return ""
}

func (f *GBFSFetcher) updateVehicleTypes(provider model.FeedProvider, body []byte) error {
	var doc struct {
		Data struct {
			VehicleTypes []struct {
				VehicleTypeID  string `json:"vehicle_type_id"`
				FormFactor     string `json:"form_factor"`
				PropulsionType string `json:"propulsion_type"`
			} `json:"vehicle_types"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse vehicle_types for %s: %w", provider.Name, err)
	}

	types := make(map[string]vehicleType, len(doc.Data.VehicleTypes))
	for _, vt := range doc.Data.VehicleTypes {
		types[vt.VehicleTypeID] = vehicleType{
			FormFactor:     model.FormFactor(strings.ToUpper(vt.FormFactor)),
			PropulsionType: model.PropulsionType(strings.ToUpper(vt.PropulsionType)),
		}
	}

	f.mu.Lock()
	f.types[provider.Name] = types
	f.mu.Unlock()
	return nil
}

func (f *GBFSFetcher) lookupType(providerName, typeID string) vehicleType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if vt, ok := f.types[providerName][typeID]; ok {
		return vt
	}
	return vehicleType{FormFactor: model.FormFactorBicycle, PropulsionType: model.PropulsionHuman}
}

func (f *GBFSFetcher) updateVehicles(ctx context.Context, provider model.FeedProvider, body []byte, env envelope) error {
	var doc struct {
		Data struct {
			Bikes []struct {
				BikeID             string  `json:"bike_id"`
				Lon                float64 `json:"lon"`
				Lat                float64 `json:"lat"`
				IsReserved         bool    `json:"is_reserved"`
				IsDisabled         bool    `json:"is_disabled"`
				VehicleTypeID      string  `json:"vehicle_type_id"`
				CurrentRangeMeters float64 `json:"current_range_meters"`
				PricingPlanID      string  `json:"pricing_plan_id"`
			} `json:"bikes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse free_bike_status for %s: %w", provider.Name, err)
	}

	expiry := ttl.Effective(f.now(), env.LastUpdated, env.TTL, int64(f.minimumTTL.Seconds()))

	var failed int
	for _, b := range doc.Data.Bikes {
		vt := f.lookupType(provider.Name, b.VehicleTypeID)
		v := model.Vehicle{
			ID:                 b.BikeID,
			Operator:           provider.Name,
			Lon:                b.Lon,
			Lat:                b.Lat,
			FormFactor:         vt.FormFactor,
			PropulsionType:     vt.PropulsionType,
			IsReserved:         b.IsReserved,
			IsDisabled:         b.IsDisabled,
			CurrentRangeMeters: b.CurrentRangeMeters,
			PricingPlanID:      b.PricingPlanID,
		}
		key := vehiclecache.Key(provider.Name, b.BikeID)
		if err := f.vehicles.Put(ctx, key, v, expiry); err != nil {
			failed++
			f.log.Warn().Err(err).Str("key", key).Msg("failed to upsert vehicle")
		}
	}
	if failed > 0 {
		return fmt.Errorf("upsert vehicles for %s: %d of %d failed", provider.Name, failed, len(doc.Data.Bikes))
	}

	f.log.Debug().
		Str("provider", provider.Name).
		Int("vehicles", len(doc.Data.Bikes)).
		Dur("expiry", expiry).
		Msg("updated vehicle cache")
	return nil
}
