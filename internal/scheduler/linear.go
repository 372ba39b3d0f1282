package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pilot-net/loadgen/internal/observation"
)

const linearTick = time.Second

// LinearIncreasePoisson is C10: an open-loop ramp from MinThroughput to
// MaxThroughput between t_start and t_end, expressed as a share of the
// termination budget (spec.md §4.7).
type LinearIncreasePoisson struct {
	*Poisson

	budget float64
	tStart float64
	tEnd   float64
}

// NewLinearIncreasePoisson builds the linear-ramp Poisson scheduler. Any
// parse error in t_start/t_end sets both to 0, which degrades to holding at
// MaxThroughput from the first controller tick with non-zero progress on
// (the run opens at MinThroughput until then), since RunConfig.Validate has
// already required both to be set.
func NewLinearIncreasePoisson(d Deps) *LinearIncreasePoisson {
	budget := terminationBudget(d.Cfg.Termination)

	tStart, errStart := parseTimeThreshold(d.Cfg.TStart, budget)
	tEnd, errEnd := parseTimeThreshold(d.Cfg.TEnd, budget)
	if errStart != nil || errEnd != nil {
		tStart, tEnd = 0, 0
	}

	base := NewPoisson(d)
	// The base Poisson constructor paces at MaxThroughput; the linear ramp
	// starts at MinThroughput instead and only reaches MaxThroughput at
	// t_end, once the first controller tick takes over.
	base.setMeanReqTime(time.Duration(1e6/d.Cfg.MinThroughput) * time.Microsecond)

	return &LinearIncreasePoisson{
		Poisson: base,
		budget:  budget,
		tStart:  tStart,
		tEnd:    tEnd,
	}
}

// Run overrides the embedded Poisson.Run to attach the linear-ramp
// controller alongside the shared arrival-process loop and slow-start ramp.
func (l *LinearIncreasePoisson) Run(ctx context.Context) (observation.RunResult, error) {
	start := time.Now()
	return l.runWithControllers(ctx, func(cctx context.Context, wg *sync.WaitGroup) {
		l.control(cctx, wg, start)
	})
}

// control implements the 1Hz open-loop ramp: the progress variable x is
// elapsed seconds under a time budget, or submitted-request count under a
// count budget, holding at the endpoints outside [t_start, t_end].
func (l *LinearIncreasePoisson) control(ctx context.Context, wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()

	ticker := time.NewTicker(linearTick)
	defer ticker.Stop()

	lambda0 := l.d.Cfg.MinThroughput
	lambda1 := l.d.Cfg.MaxThroughput

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-l.d.State.Stop.Done():
			return
		}

		x := l.progress(start)
		lambda := lambda0
		switch {
		case x <= l.tStart:
			lambda = lambda0
		case x >= l.tEnd || l.tEnd <= l.tStart:
			lambda = lambda1
		default:
			frac := (x - l.tStart) / (l.tEnd - l.tStart)
			lambda = lambda0 + (lambda1-lambda0)*frac
		}
		if lambda <= 0 {
			lambda = lambda0
		}
		l.setMeanReqTime(time.Duration(1e6/lambda) * time.Microsecond)
	}
}

func (l *LinearIncreasePoisson) progress(start time.Time) float64 {
	if l.d.Cfg.Termination.ByTimeOnly() {
		return time.Since(start).Seconds()
	}
	return float64(l.d.State.Counters.Submitted())
}
