// Package listener keeps the spatial index consistent with the vehicle cache
// by reacting to its lifecycle events.
package listener

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/spatialid"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/spatialindex"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/vehiclecache"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/observability"
)

// ProviderDirectory resolves a provider by case-insensitive name. A miss is
// recoverable: the event is dropped, not the listener.
type ProviderDirectory interface {
	Get(name string) (model.FeedProvider, error)
}

// membersKey holds the cache-key to index-member mapping, kept in Redis next
// to the GEO set so it survives leadership handover: expiry notifications
// carry no value, and the member they map to may have been written by a
// previous leader instance.
const membersKey = "spatialindex:members"

// Listener subscribes to vehicle cache events and translates them into
// spatial index upserts and removals.
//
// Events are sharded by key hash across workers: events for the same key are
// processed in arrival order, events for different keys concurrently. No
// failure propagates past a handler; a bad event is logged and dropped.
type Listener struct {
	cli       *redisstore.Client
	index     spatialindex.Index
	providers ProviderDirectory
	shards    int
	log       zerolog.Logger

	mu      sync.Mutex
	sub     *vehiclecache.Subscription
	wg      sync.WaitGroup
	running bool
}

func New(cli *redisstore.Client, index spatialindex.Index, providers ProviderDirectory, shards int, log zerolog.Logger) *Listener {
	if shards < 1 {
		shards = 1
	}
	return &Listener{
		cli:       cli,
		index:     index,
		providers: providers,
		shards:    shards,
		log:       log,
	}
}

// StartListening opens the event subscription and starts the shard workers.
// Idempotent: a second call while running is a no-op.
func (l *Listener) StartListening(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}

	sub, err := vehiclecache.SubscribeEvents(ctx, l.cli, l.log)
	if err != nil {
		return err
	}
	l.sub = sub
	l.running = true

	shardCh := make([]chan vehiclecache.Event, l.shards)
	for i := range shardCh {
		shardCh[i] = make(chan vehiclecache.Event, 64)
	}

	for i := range shardCh {
		l.wg.Add(1)
		go func(ch <-chan vehiclecache.Event) {
			defer l.wg.Done()
			for ev := range ch {
				l.handle(ctx, ev)
			}
		}(shardCh[i])
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			for _, ch := range shardCh {
				close(ch)
			}
		}()
		for ev := range sub.Events() {
			shard := xxhash.Sum64String(ev.Key) % uint64(l.shards)
			select {
			case shardCh[shard] <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	l.log.Info().Int("shards", l.shards).Msg("vehicle cache listener started")
	return nil
}

// StopListening closes the subscription and waits for in-flight events.
// Idempotent and safe to call without a prior StartListening.
func (l *Listener) StopListening() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	sub := l.sub
	l.sub = nil
	l.running = false
	l.mu.Unlock()

	sub.Close()
	l.wg.Wait()
	l.log.Info().Msg("vehicle cache listener stopped")
}

func (l *Listener) handle(ctx context.Context, ev vehiclecache.Event) {
	switch ev.Kind {
	case vehiclecache.EventCreated, vehiclecache.EventUpdated:
		l.updateIndex(ctx, ev)
	case vehiclecache.EventRemoved, vehiclecache.EventExpired:
		l.removeFromIndex(ctx, ev)
	default:
		observability.IncListenerEvent(string(ev.Kind), "dropped")
		l.log.Warn().Str("kind", string(ev.Kind)).Str("key", ev.Key).Msg("dropping event of unknown kind")
	}
}

func (l *Listener) updateIndex(ctx context.Context, ev vehiclecache.Event) {
	kind := string(ev.Kind)
	if ev.Vehicle == nil {
		observability.IncListenerEvent(kind, "dropped")
		l.log.Warn().Str("key", ev.Key).Msg("dropping mutation event without vehicle")
		return
	}

	member, ok := l.encode(ev.Key, *ev.Vehicle, kind)
	if !ok {
		return
	}

	// An attribute change alters the member id; the stale member has to go or
	// the index would hold two entries for one vehicle.
	if old := l.swapMember(ctx, ev.Key, member); old != "" && old != member {
		if _, err := l.index.Remove(ctx, old); err != nil {
			l.log.Warn().Err(err).Str("member", old).Msg("failed to remove stale spatial index member")
		}
	}

	added, err := l.index.Add(ctx, ev.Vehicle.Lon, ev.Vehicle.Lat, member)
	if err != nil {
		observability.IncListenerEvent(kind, "index_error")
		l.log.Warn().Err(err).Str("key", ev.Key).Msg("failed to add vehicle to spatial index")
		l.dropMember(ctx, ev.Key)
		return
	}
	observability.IncListenerEvent(kind, "ok")
	if added > 0 {
		l.log.Debug().Str("key", ev.Key).Msg("added vehicle to spatial index")
	} else {
		l.log.Debug().Str("key", ev.Key).Msg("updated vehicle in spatial index")
	}
}

func (l *Listener) removeFromIndex(ctx context.Context, ev vehiclecache.Event) {
	kind := string(ev.Kind)

	member := l.takeMember(ctx, ev.Key)
	if member == "" {
		// Expiry events carry no value, so an unknown key cannot be mapped to
		// a member. Removal events still can, from the event payload.
		if ev.Vehicle == nil {
			observability.IncListenerEvent(kind, "dropped")
			l.log.Debug().Str("key", ev.Key).Msg("no spatial index member tracked for key")
			return
		}
		var ok bool
		member, ok = l.encode(ev.Key, *ev.Vehicle, kind)
		if !ok {
			return
		}
	}

	if _, err := l.index.Remove(ctx, member); err != nil {
		observability.IncListenerEvent(kind, "index_error")
		l.log.Warn().Err(err).Str("key", ev.Key).Msg("failed to remove vehicle from spatial index")
		return
	}
	observability.IncListenerEvent(kind, "ok")
	l.log.Debug().Str("key", ev.Key).Msg("removed vehicle from spatial index")
}

func (l *Listener) encode(key string, v model.Vehicle, kind string) (string, bool) {
	name, err := spatialid.Operator(key)
	if err != nil {
		observability.IncListenerEvent(kind, "decode_error")
		l.log.Warn().Err(err).Str("key", key).Msg("dropping event with malformed cache key")
		return "", false
	}
	provider, err := l.providers.Get(name)
	if err != nil {
		observability.IncListenerEvent(kind, "provider_error")
		l.log.Warn().Err(err).Str("key", key).Msg("dropping event for unresolvable provider")
		return "", false
	}
	member, err := spatialid.Encode(spatialid.FromVehicle(v, provider))
	if err != nil {
		observability.IncListenerEvent(kind, "encode_error")
		l.log.Warn().Err(err).Str("key", key).Msg("dropping event with unencodable vehicle")
		return "", false
	}
	return member, true
}

// swapMember records the member now in the index for key and returns the one
// previously recorded. Same-key events are serialized by the shard dispatch,
// so read-then-write on the hash field is race-free.
func (l *Listener) swapMember(ctx context.Context, key, member string) (old string) {
	old, _, err := l.cli.HGet(ctx, membersKey, key)
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("failed to read tracked spatial index member")
	}
	if err := l.cli.HSet(ctx, membersKey, key, member); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("failed to track spatial index member")
	}
	return old
}

func (l *Listener) takeMember(ctx context.Context, key string) string {
	m, found, err := l.cli.HGet(ctx, membersKey, key)
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("failed to read tracked spatial index member")
		return ""
	}
	if !found {
		return ""
	}
	l.dropMember(ctx, key)
	return m
}

func (l *Listener) dropMember(ctx context.Context, key string) {
	if err := l.cli.HDel(ctx, membersKey, key); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("failed to untrack spatial index member")
	}
}
