package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pilot-net/loadgen/internal/observation"
)

const (
	sustainedMaxWorkers = 128

	// Exact multipliers from the original controller: slow down backs the
	// pacing mean off by ~2%, speed up advances it by 2%.
	sustainedSlowDown = 1.0204
	sustainedSpeedUp  = 0.98

	sustainedTick = time.Second
	sustainedHalf = 500 * time.Millisecond
)

// SustainedPoisson is C9: a closed-loop rate controller that keeps the
// worker pool saturated without runaway growth, nudging the pacing mean up
// or down by a fixed percentage once per second. Worker growth itself is the
// inherited slow-start ramp to the 128-worker ceiling; control only ever
// touches the pacing mean.
type SustainedPoisson struct {
	*Poisson
}

// NewSustainedPoisson builds the sustained-rate Poisson scheduler.
func NewSustainedPoisson(d Deps) *SustainedPoisson {
	base := NewPoisson(d)
	base.maxWorkersOverride = sustainedMaxWorkers
	return &SustainedPoisson{Poisson: base}
}

// control implements the three-rule closed loop:
//
//  1. if max_concurrency is set and in_flight has already reached it, slow
//     down immediately — the run is overloaded relative to the configured
//     concurrency ceiling.
//  2. after a 0.5s settle, if idle workers did not shrink, speed up — there
//     was slack to spare.
//  3. if in-flight requests or the work queue grew over that same settle
//     window, slow down — rule 2's speed-up judged wrong in hindsight.
//
// Rule 2's comparison is new_idle_workers >= idle_workers, not the strictly
// sharper new_idle_workers > idle_workers one might expect: a freshly added
// worker that is immediately given work (new_idle_workers == idle_workers)
// still counts as "not absorbing slack", so the controller speeds up even
// in that borderline tie case. Rule 3 can then immediately correct it.
func (s *SustainedPoisson) control(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(sustainedTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-s.d.State.Stop.Done():
			return
		}

		idleWorkers := s.d.Pool.IdleWorkers()
		inFlight := s.d.State.Counters.InFlight()
		queueDepth := s.d.Pool.QueueDepth()

		maxConcurrency := s.d.Cfg.MaxConcurrency
		if maxConcurrency > 0 && inFlight >= int64(maxConcurrency) {
			s.bumpMean(sustainedSlowDown)
		}

		if s.d.State.Stop.Wait(sustainedHalf) {
			return
		}

		newIdleWorkers := s.d.Pool.IdleWorkers()
		if newIdleWorkers >= idleWorkers {
			s.bumpMean(sustainedSpeedUp)
		}

		newInFlight := s.d.State.Counters.InFlight()
		newQueueDepth := s.d.Pool.QueueDepth()
		if newInFlight > inFlight || newQueueDepth > queueDepth {
			s.bumpMean(sustainedSlowDown)
		}
	}
}

func (s *SustainedPoisson) bumpMean(factor float64) {
	mean := s.meanReqTime()
	s.setMeanReqTime(time.Duration(float64(mean) * factor))
}

// Run overrides the embedded Poisson.Run to attach the sustained controller
// alongside the shared arrival-process loop and slow-start ramp.
func (s *SustainedPoisson) Run(ctx context.Context) (observation.RunResult, error) {
	return s.runWithControllers(ctx, s.control)
}
