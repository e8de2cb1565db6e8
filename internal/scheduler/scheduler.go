// Package scheduler drives the recurring and one-shot feed update jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
)

const discoveryFeedsJobID = "fetchDiscoveryFeeds"

// Fetcher performs the actual feed retrieval. Fetches for different providers
// run fully in parallel; the scheduler fires jobs and never waits on them.
type Fetcher interface {
	// FetchDiscovery retrieves and caches a provider's discovery document.
	FetchDiscovery(ctx context.Context, provider model.FeedProvider) (model.DiscoveryFeed, error)

	// FetchFeed retrieves and caches one feed declared by the discovery
	// document, updating the vehicle cache for vehicle feeds.
	FetchFeed(ctx context.Context, provider model.FeedProvider, discovery model.DiscoveryFeed, feedType model.FeedType) error
}

// CacheListener is the subscription lifecycle the scheduler owns: started
// before the first job is scheduled, stopped after the last is cleared.
type CacheListener interface {
	StartListening(ctx context.Context) error
	StopListening()
}

// Providers enumerates the configured feed providers.
type Providers interface {
	All() []model.FeedProvider
}

// FeedUpdateScheduler is a stopped/running state machine around the job
// runner. Exactly one instance in the cluster runs it at a time; the leader
// gate calls Start and Stop on leadership transitions.
type FeedUpdateScheduler struct {
	runner    *Runner
	fetcher   Fetcher
	providers Providers
	listeners []CacheListener
	interval  time.Duration
	log       zerolog.Logger

	state *fsm.FSM
}

func New(runner *Runner, fetcher Fetcher, providers Providers, interval time.Duration, log zerolog.Logger, listeners ...CacheListener) *FeedUpdateScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &FeedUpdateScheduler{
		runner:    runner,
		fetcher:   fetcher,
		providers: providers,
		listeners: listeners,
		interval:  interval,
		log:       log,
		state: fsm.NewFSM(
			"stopped",
			fsm.Events{
				{Name: "start", Src: []string{"stopped"}, Dst: "running"},
				{Name: "stop", Src: []string{"running"}, Dst: "stopped"},
			},
			fsm.Callbacks{},
		),
	}
}

// Start activates the listener subscriptions and schedules the recurring
// discovery refresh. A Start while already running is a no-op.
func (s *FeedUpdateScheduler) Start(ctx context.Context) {
	if err := s.state.Event(ctx, "start"); err != nil {
		s.log.Debug().Err(err).Msg("scheduler already running")
		return
	}

	for _, l := range s.listeners {
		if err := l.StartListening(ctx); err != nil {
			s.log.Warn().Err(err).Msg("failed to start cache listener")
		}
	}
	s.ScheduleFetchDiscoveryFeeds(ctx)
	s.log.Info().Dur("interval", s.interval).Msg("feed update scheduler started")
}

// Stop clears all scheduled jobs, then deactivates listener subscriptions.
// Idempotent, and never raises past the caller: it is also invoked on
// ungraceful leadership loss.
func (s *FeedUpdateScheduler) Stop(ctx context.Context) {
	if err := s.state.Event(ctx, "stop"); err != nil {
		s.log.Debug().Err(err).Msg("scheduler already stopped")
		return
	}

	s.runner.Clear()
	for _, l := range s.listeners {
		l.StopListening()
	}
	s.log.Info().Msg("cleared feed update scheduler")
}

// Running reports the state machine state.
func (s *FeedUpdateScheduler) Running() bool {
	return s.state.Current() == "running"
}

// ScheduleFetchDiscoveryFeeds registers the recurring discovery refresh. It
// fires immediately, repeats at the configured interval forever, and fires
// once immediately after a missed interval.
func (s *FeedUpdateScheduler) ScheduleFetchDiscoveryFeeds(ctx context.Context) {
	s.runner.Schedule(ctx, discoveryFeedsJobID, Trigger{Every: s.interval}, func(ctx context.Context) {
		for _, p := range s.providers.All() {
			s.ScheduleFetchDiscoveryFeed(ctx, p)
		}
	})
	s.log.Debug().Msg("scheduled fetch discovery feeds")
}

// ScheduleFetchDiscoveryFeed registers a one-shot discovery fetch for one
// provider, firing immediately.
func (s *FeedUpdateScheduler) ScheduleFetchDiscoveryFeed(ctx context.Context, provider model.FeedProvider) {
	id := fmt.Sprintf("fetchDiscoveryFeed_%s", provider.Name)
	s.runner.Schedule(ctx, id, Trigger{}, func(ctx context.Context) {
		discovery, err := s.fetcher.FetchDiscovery(ctx, provider)
		if err != nil {
			s.log.Warn().Err(err).Str("provider", provider.Name).Msg("discovery feed fetch failed")
			return
		}
		for _, ref := range discovery.FeedsForLanguage(provider.Language) {
			if ref.Name == model.FeedDiscovery {
				continue
			}
			s.ScheduleFeedUpdate(ctx, provider, discovery, ref.Name)
		}
	})
	s.log.Debug().Str("provider", provider.Name).Msg("scheduled fetch discovery feed")
}

// ScheduleFeedUpdate registers a one-shot update of a single feed type for a
// provider, firing immediately. Job identity is derived from the
// (provider, feed type) pair so re-scheduling the same logical unit replaces
// pending work instead of duplicating it.
func (s *FeedUpdateScheduler) ScheduleFeedUpdate(ctx context.Context, provider model.FeedProvider, discovery model.DiscoveryFeed, feedType model.FeedType) {
	id := fmt.Sprintf("feedUpdate_%s_%s", provider.Name, feedType)
	s.runner.Schedule(ctx, id, Trigger{}, func(ctx context.Context) {
		if err := s.fetcher.FetchFeed(ctx, provider, discovery, feedType); err != nil {
			s.log.Warn().Err(err).
				Str("provider", provider.Name).
				Str("feed", string(feedType)).
				Msg("feed update failed")
		}
	})
	s.log.Debug().Str("provider", provider.Name).Str("feed", string(feedType)).Msg("scheduled feed update")
}
