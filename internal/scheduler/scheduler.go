// Package scheduler implements the scheduler contract (C6) and its four
// concrete arrival-process variants (C7-C10). The fifth strategy,
// "variable", has no scheduler of its own and runs the base Poisson
// scheduler — see DESIGN.md's Open Questions.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pilot-net/loadgen/internal/config"
	"github.com/pilot-net/loadgen/internal/observation"
	"github.com/pilot-net/loadgen/internal/pool"
	"github.com/pilot-net/loadgen/internal/runstate"
)

// Scheduler emits requests over time against the shared worker pool,
// observing the Running -> Draining -> Done state machine of spec.md §4.3.
type Scheduler interface {
	Run(ctx context.Context) (observation.RunResult, error)
}

// Deps bundles what every scheduler variant needs: the pool to submit jobs
// to, the coordination state to pace against, and the resolved run config.
type Deps struct {
	Pool  *pool.Pool
	State *runstate.State
	Cfg   *config.RunConfig
}

// New builds the concrete scheduler named by cfg.Strategy.
func New(d Deps) (Scheduler, error) {
	switch d.Cfg.Strategy {
	case config.StrategyWorkers:
		return NewConcurrent(d), nil
	case config.StrategyPoisson, config.StrategyPoissonVariable:
		// --with-poisson-variable selects the same base Poisson scheduler:
		// the original VariablePoissonQueueRunner's vary_throughput
		// controller was never implemented upstream (a literal `pass`
		// stub) — see DESIGN.md Open Question 4.
		return NewPoisson(d), nil
	case config.StrategyPoissonSustained:
		return NewSustainedPoisson(d), nil
	case config.StrategyPoissonLinearIncr:
		return NewLinearIncreasePoisson(d), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", d.Cfg.Strategy)
	}
}

// RunTimeoutDaemon asserts stop after budget elapses (C11). It is always
// started, even under by-count termination with no time budget, per
// spec.md §9's Open Question resolution (DESIGN.md Open Question 2) — with
// budget == 0 it simply never fires.
func RunTimeoutDaemon(ctx context.Context, budget time.Duration, stop *runstate.Stop) {
	if budget <= 0 {
		return
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case <-timer.C:
		stop.Assert()
	case <-ctx.Done():
	case <-stop.Done():
	}
}

// parseTimeThreshold parses an absolute value or a "NN%" percentage of
// budget (spec.md §4.7's t_start/t_end parsing).
func parseTimeThreshold(raw string, budget float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasSuffix(raw, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid percentage %q: %w", raw, err)
		}
		return budget * pct / 100.0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold %q: %w", raw, err)
	}
	return v, nil
}

// terminationBudget returns the unit (seconds or count) that t_start/t_end
// percentages are relative to, per spec.md §4.7.
func terminationBudget(term config.Termination) float64 {
	if term.ByTime > 0 {
		return term.ByTime.Seconds()
	}
	return float64(term.ByCount)
}
