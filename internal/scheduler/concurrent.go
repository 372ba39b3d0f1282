package scheduler

import (
	"context"
	"time"

	"github.com/pilot-net/loadgen/internal/observation"
	"github.com/pilot-net/loadgen/internal/pool"
)

// Concurrent is C7: a fixed number of busy workers, each looping
// back-to-back requests with an optional think-time pause between them
// (implemented as the pool's post-completion delay — see pool.Config.Delay).
type Concurrent struct {
	d Deps
}

// NewConcurrent builds the fixed-concurrency scheduler.
func NewConcurrent(d Deps) *Concurrent {
	return &Concurrent{d: d}
}

// Run spawns Concurrency workers and keeps exactly that many jobs in
// flight until stop is asserted or the request cap is reached.
func (c *Concurrent) Run(ctx context.Context) (observation.RunResult, error) {
	cfg := c.d.Cfg
	start := time.Now()

	for i := 0; i < cfg.Concurrency; i++ {
		c.d.Pool.AddWorker(ctx)
	}

	// Prime exactly Concurrency jobs, then top in-flight back up to
	// Concurrency after every wake-up — this keeps in-flight pinned at
	// Concurrency the same way a fixed ThreadPoolExecutor of long-running
	// workers would.
	for i := 0; i < cfg.Concurrency; i++ {
		if !c.submitOne() {
			break
		}
	}

	for !c.d.State.Stop.IsSet() && !c.d.State.Counters.CapReached() {
		// Clear before topping up, so a completion that lands while jobs
		// are being submitted still wakes the Wait below.
		c.d.State.Ready.Clear()
		for c.d.State.Counters.InFlight() < int64(cfg.Concurrency) && c.submitOne() {
		}
		c.d.State.Ready.Wait(c.d.State.Stop)
	}

	c.d.State.Stop.Assert()
	end := time.Now()

	return observation.RunResult{
		ExperimentID:   cfg.ExperimentID,
		RunnerID:       cfg.RunnerID,
		TotalStartTime: start,
		TotalEndTime:   end,
	}, nil
}

func (c *Concurrent) submitOne() bool {
	if c.d.State.Stop.IsSet() || c.d.State.Counters.CapReached() {
		return false
	}
	c.d.State.Counters.Submit()
	c.d.Pool.Submit(pool.Job{
		SchedulerOptions: map[string]any{
			"in_flight":   c.d.State.Counters.InFlight(),
			"concurrency": c.d.Cfg.Concurrency,
		},
	})
	return true
}
