package leader

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/redisstore"
)

const leaseKey = "leader:feed-updater"

// Hooks receive leadership transitions. Acquire and lose notifications for
// one elector never overlap or reorder.
type Hooks interface {
	OnLeadershipAcquired()
	OnLeadershipLost()
}

// Elector competes for a cluster-wide Redis lease. The holder renews at a
// third of the lease TTL; everyone else retries acquisition. Losing the lease
// (missed renewals, Redis outage) triggers OnLeadershipLost and sends the
// elector back to competing.
type Elector struct {
	cli    *redisstore.Client
	hooks  Hooks
	ttl    time.Duration
	retry  time.Duration
	holder string
	log    zerolog.Logger
}

func NewElector(cli *redisstore.Client, hooks Hooks, ttl, retry time.Duration, log zerolog.Logger) *Elector {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	var b [4]byte
	_, _ = rand.Read(b[:])

	return &Elector{
		cli:    cli,
		hooks:  hooks,
		ttl:    ttl,
		retry:  retry,
		holder: host + "-" + hex.EncodeToString(b[:]),
		log:    log,
	}
}

// Run competes for leadership until ctx is canceled. On shutdown a held
// lease is released so a peer can take over without waiting out the TTL.
func (e *Elector) Run(ctx context.Context) {
	for {
		if !e.waitForLease(ctx) {
			return
		}

		e.log.Info().Str("holder", e.holder).Msg("acquired leadership lease")
		e.hooks.OnLeadershipAcquired()

		lost := e.renewUntilLost(ctx)
		e.hooks.OnLeadershipLost()
		if !lost {
			// Shutdown, not lease loss: hand the lease back.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := e.cli.ReleaseLease(releaseCtx, leaseKey, e.holder); err != nil {
				e.log.Warn().Err(err).Msg("failed to release leadership lease")
			}
			cancel()
			return
		}
		e.log.Warn().Str("holder", e.holder).Msg("lost leadership lease")
	}
}

func (e *Elector) waitForLease(ctx context.Context) bool {
	ticker := time.NewTicker(e.retry)
	defer ticker.Stop()
	for {
		ok, err := e.cli.AcquireLease(ctx, leaseKey, e.holder, e.ttl)
		if err != nil {
			e.log.Warn().Err(err).Msg("leadership lease acquisition failed")
		} else if ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// renewUntilLost returns true when the lease was lost, false on shutdown.
func (e *Elector) renewUntilLost(ctx context.Context) bool {
	ticker := time.NewTicker(e.ttl / 3)
	defer ticker.Stop()
	lastRenewal := time.Now()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			ok, err := e.cli.RenewLease(ctx, leaseKey, e.holder, e.ttl)
			if err != nil {
				// An unreachable Redis cannot extend the lease. Once a full
				// TTL passes without a successful renewal the lease has
				// expired cluster-wide and a peer may already hold it, so
				// this elector must stand down.
				if time.Since(lastRenewal) >= e.ttl {
					e.log.Warn().Err(err).Msg("no successful renewal within the lease ttl, standing down")
					return true
				}
				e.log.Warn().Err(err).Msg("leadership lease renewal failed")
				continue
			}
			if !ok {
				return true
			}
			lastRenewal = time.Now()
		}
	}
}
