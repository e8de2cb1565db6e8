package leader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/redisstore"
)

type recordingHooks struct {
	acquired atomic.Int64
	lost     atomic.Int64
}

func (h *recordingHooks) OnLeadershipAcquired() { h.acquired.Add(1) }
func (h *recordingHooks) OnLeadershipLost()     { h.lost.Add(1) }

func newClient(t *testing.T, mr *miniredis.Miniredis) *redisstore.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSingleElectorAcquiresLeadership(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	hooks := &recordingHooks{}
	e := NewElector(newClient(t, mr), hooks, time.Second, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { e.Run(ctx); close(done) }()

	waitFor(t, func() bool { return hooks.acquired.Load() == 1 }, "elector never acquired leadership")

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("elector did not shut down")
	}

	if hooks.lost.Load() != 1 {
		t.Fatalf("lost hook fired %d times on shutdown, want 1", hooks.lost.Load())
	}
	// The lease is handed back on shutdown.
	if mr.Exists("leader:feed-updater") {
		t.Fatal("lease still held after shutdown")
	}
}

func TestElectorStandsDownWhenRedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	hooks := &recordingHooks{}
	e := NewElector(newClient(t, mr), hooks, 200*time.Millisecond, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)

	waitFor(t, func() bool { return hooks.acquired.Load() == 1 }, "elector never acquired leadership")

	// Cut the connection. Every renewal now errors while the lease expires
	// cluster-wide, so the elector must relinquish leadership rather than
	// coexist with a peer that acquires the expired lease.
	mr.Close()
	waitFor(t, func() bool { return hooks.lost.Load() == 1 },
		"elector kept leadership with no successful renewal past the lease ttl")
}

func TestSecondElectorWaitsForLease(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	first := &recordingHooks{}
	second := &recordingHooks{}
	e1 := NewElector(newClient(t, mr), first, time.Second, 10*time.Millisecond, zerolog.Nop())
	e2 := NewElector(newClient(t, mr), second, time.Second, 10*time.Millisecond, zerolog.Nop())

	ctx1, cancel1 := context.WithCancel(context.Background())
	done1 := make(chan struct{})
	go func() { e1.Run(ctx1); close(done1) }()

	waitFor(t, func() bool { return first.acquired.Load() == 1 }, "first elector never acquired")

	ctx2, cancel2 := context.WithCancel(context.Background())
	t.Cleanup(cancel2)
	go e2.Run(ctx2)

	// The second elector keeps retrying while the lease is held.
	time.Sleep(100 * time.Millisecond)
	if second.acquired.Load() != 0 {
		t.Fatal("second elector acquired while the lease was held")
	}

	// Releasing on shutdown lets the peer take over.
	cancel1()
	<-done1
	waitFor(t, func() bool { return second.acquired.Load() == 1 }, "second elector never took over")
}
