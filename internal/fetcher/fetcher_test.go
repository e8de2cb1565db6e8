package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/feedcache"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/vehiclecache"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
)

type fixture struct {
	mr       *miniredis.Miniredis
	feeds    feedcache.Cache
	vehicles vehiclecache.Cache
	fetcher  *GBFSFetcher
	server   *httptest.Server
	provider model.FeedProvider
}

const fixtureEpoch = int64(1_700_000_000)

func newFixture(t *testing.T, mux *http.ServeMux) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	clock := func() time.Time { return time.Unix(fixtureEpoch+10, 0) }
	feeds := feedcache.NewRedisCache(cli, 60*time.Second, feedcache.WithClock(clock))
	vehicles := vehiclecache.NewRedisCache(cli)

	f := &fixture{
		mr:       mr,
		feeds:    feeds,
		vehicles: vehicles,
		server:   server,
		provider: model.FeedProvider{
			Name:      "oslobysykkel",
			Codespace: "YOS",
			SystemID:  "oslobysykkel",
			Language:  "nb",
			URL:       server.URL + "/gbfs.json",
		},
	}
	f.fetcher = New(server.Client(), feeds, vehicles, 60*time.Second, zerolog.Nop(), WithClock(clock))
	return f
}

func serveJSON(t *testing.T, mux *http.ServeMux, path string, doc any) {
	t.Helper()
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
}

func discoveryDoc(base string) map[string]any {
	return map[string]any{
		"last_updated": fixtureEpoch,
		"ttl":          300,
		"data": map[string]any{
			"nb": map[string]any{
				"feeds": []map[string]string{
					{"name": "system_information", "url": base + "/system_information.json"},
					{"name": "vehicle_types", "url": base + "/vehicle_types.json"},
					{"name": "free_bike_status", "url": base + "/free_bike_status.json"},
				},
			},
		},
	}
}

func TestFetchDiscoveryCachesAndReturnsFeeds(t *testing.T) {
	mux := http.NewServeMux()
	f := newFixture(t, mux)
	serveJSON(t, mux, "/gbfs.json", discoveryDoc(f.server.URL))

	discovery, err := f.fetcher.FetchDiscovery(context.Background(), f.provider)
	if err != nil {
		t.Fatalf("FetchDiscovery: %v", err)
	}

	feeds := discovery.FeedsForLanguage("nb")
	if len(feeds) != 3 {
		t.Fatalf("got %d feeds, want 3", len(feeds))
	}

	raw, found, err := f.feeds.Find(context.Background(), model.FeedDiscovery, f.provider)
	if err != nil || !found {
		t.Fatalf("discovery not cached: found=%v err=%v", found, err)
	}
	var cached model.DiscoveryFeed
	if err := json.Unmarshal(raw, &cached); err != nil {
		t.Fatalf("cached payload not valid JSON: %v", err)
	}
	if cached.TTL != 300 {
		t.Fatalf("cached ttl = %d, want 300", cached.TTL)
	}

	// 10s elapsed of a declared 300s ttl.
	if got := f.mr.TTL(feedcache.Key(model.FeedDiscovery, f.provider.Name)); got != 290*time.Second {
		t.Fatalf("cache ttl = %v, want 290s", got)
	}
}

func TestFetchFeedStoresRawPayload(t *testing.T) {
	mux := http.NewServeMux()
	f := newFixture(t, mux)
	serveJSON(t, mux, "/system_information.json", map[string]any{
		"last_updated": fixtureEpoch,
		"ttl":          60,
		"data":         map[string]any{"system_id": "oslobysykkel", "name": "Oslo Bysykkel"},
	})

	var discovery model.DiscoveryFeed
	raw, _ := json.Marshal(discoveryDoc(f.server.URL))
	_ = json.Unmarshal(raw, &discovery)

	if err := f.fetcher.FetchFeed(context.Background(), f.provider, discovery, model.FeedSystemInformation); err != nil {
		t.Fatalf("FetchFeed: %v", err)
	}

	_, found, err := f.feeds.Find(context.Background(), model.FeedSystemInformation, f.provider)
	if err != nil || !found {
		t.Fatalf("system_information not cached: found=%v err=%v", found, err)
	}
}

func TestFetchFeedUnknownFeedTypeFails(t *testing.T) {
	mux := http.NewServeMux()
	f := newFixture(t, mux)

	var discovery model.DiscoveryFeed
	raw, _ := json.Marshal(discoveryDoc(f.server.URL))
	_ = json.Unmarshal(raw, &discovery)

	err := f.fetcher.FetchFeed(context.Background(), f.provider, discovery, model.FeedGeofencingZones)
	if err == nil {
		t.Fatal("expected error for a feed the provider does not declare")
	}
}

func TestFetchFeedUpstreamErrorFails(t *testing.T) {
	mux := http.NewServeMux()
	f := newFixture(t, mux)
	mux.HandleFunc("/free_bike_status.json", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	var discovery model.DiscoveryFeed
	raw, _ := json.Marshal(discoveryDoc(f.server.URL))
	_ = json.Unmarshal(raw, &discovery)

	err := f.fetcher.FetchFeed(context.Background(), f.provider, discovery, model.FeedFreeBikeStatus)
	if err == nil {
		t.Fatal("expected error on upstream 502")
	}
}

func TestFreeBikeStatusPopulatesVehicleCache(t *testing.T) {
	mux := http.NewServeMux()
	f := newFixture(t, mux)
	serveJSON(t, mux, "/vehicle_types.json", map[string]any{
		"last_updated": fixtureEpoch,
		"ttl":          86400,
		"data": map[string]any{
			"vehicle_types": []map[string]any{
				{"vehicle_type_id": "ebike", "form_factor": "bicycle", "propulsion_type": "electric_assist"},
			},
		},
	})
	serveJSON(t, mux, "/free_bike_status.json", map[string]any{
		"last_updated": fixtureEpoch,
		"ttl":          30,
		"data": map[string]any{
			"bikes": []map[string]any{
				{
					"bike_id": "b1", "lon": 10.75, "lat": 59.91,
					"is_reserved": false, "is_disabled": false,
					"vehicle_type_id": "ebike", "current_range_meters": 12000.0,
					"pricing_plan_id": "plan1",
				},
				{
					"bike_id": "b2", "lon": 10.76, "lat": 59.92,
					"is_reserved": true, "is_disabled": false,
				},
			},
		},
	})

	var discovery model.DiscoveryFeed
	raw, _ := json.Marshal(discoveryDoc(f.server.URL))
	_ = json.Unmarshal(raw, &discovery)

	ctx := context.Background()
	if err := f.fetcher.FetchFeed(ctx, f.provider, discovery, model.FeedVehicleTypes); err != nil {
		t.Fatalf("FetchFeed vehicle_types: %v", err)
	}
	if err := f.fetcher.FetchFeed(ctx, f.provider, discovery, model.FeedFreeBikeStatus); err != nil {
		t.Fatalf("FetchFeed free_bike_status: %v", err)
	}

	v, found, err := f.vehicles.Get(ctx, vehiclecache.Key(f.provider.Name, "b1"))
	if err != nil || !found {
		t.Fatalf("b1 not in vehicle cache: found=%v err=%v", found, err)
	}
	if v.FormFactor != model.FormFactorBicycle || v.PropulsionType != model.PropulsionElectricAssist {
		t.Fatalf("b1 attributes %s/%s, want BICYCLE/ELECTRIC_ASSIST", v.FormFactor, v.PropulsionType)
	}
	if v.Operator != f.provider.Name || v.CurrentRangeMeters != 12000 || v.PricingPlanID != "plan1" {
		t.Fatalf("b1 fields not carried over: %+v", v)
	}

	// An unknown vehicle type falls back to bicycle/human.
	v2, found, err := f.vehicles.Get(ctx, vehiclecache.Key(f.provider.Name, "b2"))
	if err != nil || !found {
		t.Fatalf("b2 not in vehicle cache: found=%v err=%v", found, err)
	}
	if v2.FormFactor != model.FormFactorBicycle || v2.PropulsionType != model.PropulsionHuman {
		t.Fatalf("b2 defaults %s/%s, want BICYCLE/HUMAN", v2.FormFactor, v2.PropulsionType)
	}
	if !v2.IsReserved {
		t.Fatal("b2 should be reserved")
	}

	// Vehicle entries expire with the feed: 30s declared, 10s elapsed, 60s floor.
	if got := f.mr.TTL("vehicle:" + vehiclecache.Key(f.provider.Name, "b1")); got != 60*time.Second {
		t.Fatalf("vehicle ttl = %v, want floor 60s", got)
	}
}

func TestFreeBikeStatusWithoutVehicleTypesUsesDefaults(t *testing.T) {
	mux := http.NewServeMux()
	f := newFixture(t, mux)
	serveJSON(t, mux, "/free_bike_status.json", map[string]any{
		"last_updated": fixtureEpoch,
		"ttl":          300,
		"data": map[string]any{
			"bikes": []map[string]any{
				{"bike_id": "b1", "lon": 10.75, "lat": 59.91},
			},
		},
	})

	var discovery model.DiscoveryFeed
	raw, _ := json.Marshal(discoveryDoc(f.server.URL))
	_ = json.Unmarshal(raw, &discovery)

	if err := f.fetcher.FetchFeed(context.Background(), f.provider, discovery, model.FeedFreeBikeStatus); err != nil {
		t.Fatalf("FetchFeed: %v", err)
	}

	v, found, err := f.vehicles.Get(context.Background(), vehiclecache.Key(f.provider.Name, "b1"))
	if err != nil || !found {
		t.Fatalf("b1 not in vehicle cache: found=%v err=%v", found, err)
	}
	if v.FormFactor != model.FormFactorBicycle || v.PropulsionType != model.PropulsionHuman {
		t.Fatalf("defaults %s/%s, want BICYCLE/HUMAN", v.FormFactor, v.PropulsionType)
	}
}

func TestFetchDiscoveryRejectsMalformedJSON(t *testing.T) {
	mux := http.NewServeMux()
	f := newFixture(t, mux)
	mux.HandleFunc("/gbfs.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "{not json")
	})

	if _, err := f.fetcher.FetchDiscovery(context.Background(), f.provider); err == nil {
		t.Fatal("expected error on malformed discovery document")
	}
}
