package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
)

type fakeFetcher struct {
	mu          sync.Mutex
	discovery   model.DiscoveryFeed
	discoveries []string
	feeds       []string
}

func (f *fakeFetcher) FetchDiscovery(_ context.Context, p model.FeedProvider) (model.DiscoveryFeed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoveries = append(f.discoveries, p.Name)
	return f.discovery, nil
}

func (f *fakeFetcher) FetchFeed(_ context.Context, p model.FeedProvider, _ model.DiscoveryFeed, ft model.FeedType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds = append(f.feeds, p.Name+"/"+string(ft))
	return nil
}

func (f *fakeFetcher) snapshot() (discoveries, feeds []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.discoveries...), append([]string(nil), f.feeds...)
}

type fakeListener struct {
	starts atomic.Int64
	stops  atomic.Int64
}

func (l *fakeListener) StartListening(context.Context) error { l.starts.Add(1); return nil }
func (l *fakeListener) StopListening()                       { l.stops.Add(1) }

type staticProviders []model.FeedProvider

func (p staticProviders) All() []model.FeedProvider { return p }

var testProvider = model.FeedProvider{
	Name: "oslobysykkel", Codespace: "YOS", SystemID: "oslobysykkel",
	Language: "nb", URL: "https://example.com/gbfs.json",
}

func discoveryWith(feeds ...model.FeedType) model.DiscoveryFeed {
	refs := make([]model.DiscoveryFeedRef, len(feeds))
	for i, f := range feeds {
		refs[i] = model.DiscoveryFeedRef{Name: f, URL: "https://example.com/" + string(f) + ".json"}
	}
	return model.DiscoveryFeed{
		LastUpdated: time.Now().Unix(),
		TTL:         60,
		Data:        map[string]model.DiscoveryFeedList{"nb": {Feeds: refs}},
	}
}

func TestStartSchedulesDiscoveryAndFansOut(t *testing.T) {
	fetcher := &fakeFetcher{discovery: discoveryWith(model.FeedDiscovery, model.FeedFreeBikeStatus, model.FeedSystemInformation)}
	lst := &fakeListener{}
	s := New(NewRunner(zerolog.Nop()), fetcher, staticProviders{testProvider}, time.Hour, zerolog.Nop(), lst)

	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for {
		discoveries, feeds := fetcher.snapshot()
		if len(discoveries) >= 1 && len(feeds) >= 2 {
			for _, f := range feeds {
				if f == "oslobysykkel/gbfs" {
					t.Fatal("discovery feed itself must not be scheduled as a feed update")
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("fetches did not happen: discoveries=%v feeds=%v", discoveries, feeds)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if lst.starts.Load() != 1 {
		t.Fatalf("listener started %d times, want 1", lst.starts.Load())
	}
	if !s.Running() {
		t.Fatal("scheduler not in running state after Start")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{discovery: discoveryWith()}
	lst := &fakeListener{}
	s := New(NewRunner(zerolog.Nop()), fetcher, staticProviders{}, time.Hour, zerolog.Nop(), lst)

	ctx := context.Background()
	s.Start(ctx)
	s.Stop(ctx)
	s.Stop(ctx)

	if lst.stops.Load() != 1 {
		t.Fatalf("listener stopped %d times, want 1", lst.stops.Load())
	}
	if s.Running() {
		t.Fatal("scheduler still running after Stop")
	}
}

func TestStartAfterStopRegistersDiscoveryExactlyOnce(t *testing.T) {
	fetcher := &fakeFetcher{discovery: discoveryWith()}
	runner := NewRunner(zerolog.Nop())
	s := New(runner, fetcher, staticProviders{}, time.Hour, zerolog.Nop())

	ctx := context.Background()
	s.Start(ctx)
	s.Stop(ctx)
	s.Start(ctx)
	defer s.Stop(ctx)

	found := 0
	for _, id := range runner.Active() {
		if id == discoveryFeedsJobID {
			found++
		}
	}
	if found != 1 {
		t.Fatalf("%d active discovery jobs, want exactly 1", found)
	}
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	fetcher := &fakeFetcher{discovery: discoveryWith()}
	lst := &fakeListener{}
	s := New(NewRunner(zerolog.Nop()), fetcher, staticProviders{}, time.Hour, zerolog.Nop(), lst)

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	defer s.Stop(ctx)

	if lst.starts.Load() != 1 {
		t.Fatalf("listener started %d times, want 1", lst.starts.Load())
	}
}
