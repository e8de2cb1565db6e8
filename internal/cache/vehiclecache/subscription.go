package vehiclecache

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/redisstore"
)

const expiredPattern = "__keyevent@*__:expired"

// Subscription is one listener's view of the vehicle cache event stream:
// mutation events from the cluster-wide channel merged with TTL expiries from
// keyspace notifications. Per-key ordering follows Redis channel order.
type Subscription struct {
	events chan Event

	closeOnce sync.Once
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// SubscribeEvents opens the event stream. The caller must drain Events until
// it is closed, and Close the subscription when done.
func SubscribeEvents(ctx context.Context, cli *redisstore.Client, log zerolog.Logger) (*Subscription, error) {
	if err := cli.EnableKeyspaceExpiry(ctx); err != nil {
		// Expiry events degrade gracefully: entries removed by TTL are then
		// only reconciled by later updates for the same vehicle.
		log.Warn().Err(err).Msg("could not enable keyspace expiry notifications")
	}

	ctx, cancel := context.WithCancel(ctx)

	evPS := cli.Subscribe(ctx, EventsChannel)
	expPS := cli.PSubscribe(ctx, expiredPattern)

	s := &Subscription{
		events: make(chan Event, 256),
		cancel: cancel,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer func() { _ = evPS.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-evPS.Channel():
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn().Err(err).Str("payload", msg.Payload).Msg("dropping malformed vehicle cache event")
					continue
				}
				s.deliver(ctx, ev)
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		defer func() { _ = expPS.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-expPS.Channel():
				if !ok {
					return
				}
				key := ExpiredKeyToCacheKey(msg.Payload)
				if key == "" {
					continue
				}
				s.deliver(ctx, Event{Kind: EventExpired, Key: key})
			}
		}
	}()

	go func() {
		s.wg.Wait()
		close(s.events)
	}()

	return s, nil
}

func (s *Subscription) deliver(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// Events is closed after Close returns and the forwarders have drained.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Close() {
	s.closeOnce.Do(s.cancel)
}
