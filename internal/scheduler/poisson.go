package scheduler

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pilot-net/loadgen/internal/clock"
	"github.com/pilot-net/loadgen/internal/observation"
	"github.com/pilot-net/loadgen/internal/pool"
)

// Poisson is C8: exponential inter-arrival gaps at a target rate, with a
// slow-start concurrency ramp to avoid a thundering herd at warm-up.
type Poisson struct {
	d Deps

	meanReqTimeUs  int64 // microseconds, atomic — controllers mutate it live
	currentWorkers int64

	// maxWorkersOverride, when non-zero, replaces cfg.EffectiveMaxConcurrency()
	// as the slow-start ramp ceiling. The sustained controller (C9) sets this
	// to its fixed worker cap.
	maxWorkersOverride int64
}

// NewPoisson builds the base Poisson scheduler.
func NewPoisson(d Deps) *Poisson {
	p := &Poisson{d: d}
	p.meanReqTimeUs = int64(1e6 / d.Cfg.MaxThroughput)
	return p
}

// meanReqTime returns the current pacing mean as a duration.
func (p *Poisson) meanReqTime() time.Duration {
	return time.Duration(atomic.LoadInt64(&p.meanReqTimeUs)) * time.Microsecond
}

// setMeanReqTime installs a new pacing mean (used by the sustained and
// linear-increase controllers).
func (p *Poisson) setMeanReqTime(d time.Duration) {
	atomic.StoreInt64(&p.meanReqTimeUs, int64(d/time.Microsecond))
}

func (p *Poisson) maxConcurrency() int64 {
	if p.maxWorkersOverride > 0 {
		return p.maxWorkersOverride
	}
	return int64(p.d.Cfg.EffectiveMaxConcurrency())
}

func (p *Poisson) workers() int64 {
	return atomic.LoadInt64(&p.currentWorkers)
}

// Run implements the base Poisson arrival process and slow-start ramp.
// Extended variants (Sustained, LinearIncrease) call runWithControllers
// themselves, passing their own controller goroutine.
func (p *Poisson) Run(ctx context.Context) (observation.RunResult, error) {
	return p.runWithControllers(ctx)
}

func (p *Poisson) runWithControllers(ctx context.Context, controllers ...func(context.Context, *sync.WaitGroup)) (observation.RunResult, error) {
	cfg := p.d.Cfg
	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(1)
	go p.slowStart(ctx, &wg)
	for _, c := range controllers {
		wg.Add(1)
		go c(ctx, &wg)
	}

	rng := clock.New(cfg.Seed, cfg.RunnerID, clock.SaltPoisson)

	for !p.d.State.Stop.IsSet() && !p.d.State.Counters.CapReached() {
		if p.d.State.Counters.InFlight() >= p.workers() {
			p.d.State.Ready.Clear()
			p.d.State.Ready.Wait(p.d.State.Stop)
			if p.d.State.Stop.IsSet() {
				break
			}
		}

		delay := nextPoissonDelay(rng, p.meanReqTime())
		if p.d.State.Stop.Wait(delay) {
			break
		}

		p.submit()
	}

	p.d.State.Stop.Assert()
	wg.Wait()
	end := time.Now()

	return observation.RunResult{
		ExperimentID:   cfg.ExperimentID,
		RunnerID:       cfg.RunnerID,
		TotalStartTime: start,
		TotalEndTime:   end,
	}, nil
}

func (p *Poisson) submit() {
	if p.d.State.Stop.IsSet() || p.d.State.Counters.CapReached() {
		return
	}
	p.d.State.Counters.Submit()
	p.d.Pool.Submit(pool.Job{
		SchedulerOptions: map[string]any{
			"in_flight":       p.d.State.Counters.InFlight(),
			"mean_req_time":   p.meanReqTime().Microseconds(),
			"workqueue_depth": p.d.Pool.QueueDepth(),
			"total_workers":   p.d.Pool.WorkerCount(),
			"idle_workers":    p.d.Pool.IdleWorkers(),
		},
	})
}

// slowStart ramps currentWorkers from 1 to K, one per second, spawning a
// matching pool execution slot each tick so the concurrency budget and the
// actual number of running workers stay in lockstep.
func (p *Poisson) slowStart(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	target := p.maxConcurrency()
	atomic.StoreInt64(&p.currentWorkers, 1)
	p.d.Pool.AddWorker(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for atomic.LoadInt64(&p.currentWorkers) < target {
		select {
		case <-ticker.C:
			atomic.AddInt64(&p.currentWorkers, 1)
			p.d.Pool.AddWorker(ctx)
			p.d.State.Ready.Signal()
		case <-ctx.Done():
			return
		case <-p.d.State.Stop.Done():
			return
		}
	}
}

// nextPoissonDelay samples a single inter-arrival gap from an exponential
// distribution with the given mean, approximating a Poisson arrival
// process at second-scale resolution (spec.md §4.5).
func nextPoissonDelay(rng interface{ Float64() float64 }, mean time.Duration) time.Duration {
	u := rng.Float64()
	if u <= 0 {
		u = 1e-9
	}
	return time.Duration(-math.Log(u) * float64(mean))
}
