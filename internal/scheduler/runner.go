package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Trigger describes when a job fires. Every == 0 is one-shot-now; Every > 0
// repeats forever at a fixed interval, firing immediately on registration.
// A missed firing (the scheduled time passed while the previous run was
// still executing, or while the process was busy) fires once immediately on
// recovery instead of skipping to the next interval boundary.
type Trigger struct {
	Every time.Duration
}

type job struct {
	stop chan struct{}
	done chan struct{}
}

// Runner executes scheduled jobs. Identity-keyed: scheduling a job under an
// id that already has pending work replaces it rather than duplicating it.
// Stopping a job never interrupts an execution already in flight.
type Runner struct {
	log zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{
		log:  log,
		jobs: make(map[string]*job),
	}
}

// Schedule registers fn under id. ctx is handed to each execution and is not
// canceled by Clear; the job loop itself stops when Clear is called or a new
// job replaces this one.
func (r *Runner) Schedule(ctx context.Context, id string, trigger Trigger, fn func(context.Context)) {
	j := &job{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if old, ok := r.jobs[id]; ok {
		close(old.stop)
	}
	r.jobs[id] = j
	r.mu.Unlock()

	go r.run(ctx, id, j, trigger, fn)
}

func (r *Runner) run(ctx context.Context, id string, j *job, trigger Trigger, fn func(context.Context)) {
	defer close(j.done)
	defer r.forget(id, j)

	next := time.Now()
	for {
		fn(ctx)

		if trigger.Every <= 0 {
			return
		}

		next = next.Add(trigger.Every)
		if now := time.Now(); next.Before(now) {
			// Misfire: fire again right away rather than waiting for the
			// next boundary.
			next = now
			continue
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
		case <-j.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (r *Runner) forget(id string, j *job) {
	r.mu.Lock()
	if cur, ok := r.jobs[id]; ok && cur == j {
		delete(r.jobs, id)
	}
	r.mu.Unlock()
}

// Clear stops every pending job. Executions already in flight run to
// completion; Clear does not wait for them.
func (r *Runner) Clear() {
	r.mu.Lock()
	for id, j := range r.jobs {
		close(j.stop)
		delete(r.jobs, id)
	}
	r.mu.Unlock()
}

// Active returns the ids of currently registered jobs.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		out = append(out, id)
	}
	return out
}
