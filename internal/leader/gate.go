// Package leader translates cluster leadership transitions into scheduler
// lifecycle calls.
package leader

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/observability"
)

// SchedulerLifecycle is what the gate drives: the feed update scheduler's
// start/stop discipline guarantees no duplicate job registrations even under
// leadership flapping.
type SchedulerLifecycle interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
}

// Gate applies leadership transitions to the scheduler in strict arrival
// order through a single control goroutine. It adds no locking of its own:
// exactly-one-leader is the coordination service's guarantee.
type Gate struct {
	scheduler   SchedulerLifecycle
	log         zerolog.Logger
	transitions chan bool

	closeOnce sync.Once
	done      chan struct{}
}

func NewGate(scheduler SchedulerLifecycle, log zerolog.Logger) *Gate {
	return &Gate{
		scheduler:   scheduler,
		log:         log,
		transitions: make(chan bool, 16),
		done:        make(chan struct{}),
	}
}

// Run consumes transitions until ctx is canceled, then stops the scheduler.
// Call it once, in its own goroutine.
func (g *Gate) Run(ctx context.Context) {
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			g.scheduler.Stop(context.WithoutCancel(ctx))
			return
		case leader := <-g.transitions:
			if leader {
				g.log.Info().Msg("leadership acquired, starting feed updater")
				observability.SetLeader(true)
				g.scheduler.Start(ctx)
			} else {
				g.log.Info().Msg("leadership lost, stopping feed updater")
				observability.SetLeader(false)
				g.scheduler.Stop(ctx)
			}
		}
	}
}

// Done is closed once Run has returned.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

func (g *Gate) OnLeadershipAcquired() {
	g.transitions <- true
}

func (g *Gate) OnLeadershipLost() {
	g.transitions <- false
}
