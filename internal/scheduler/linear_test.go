package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/pilot-net/loadgen/internal/config"
	"github.com/pilot-net/loadgen/internal/httpexec"
	"github.com/pilot-net/loadgen/internal/observation"
	"github.com/pilot-net/loadgen/internal/pool"
	"github.com/pilot-net/loadgen/internal/runstate"
)

func TestNewLinearIncreasePoissonParsesPercentageThresholds(t *testing.T) {
	l := NewLinearIncreasePoisson(Deps{Cfg: &config.RunConfig{
		MaxThroughput: 100,
		MinThroughput: 10,
		TStart:        "10%",
		TEnd:          "90%",
		Termination:   config.Termination{ByTime: 100 * time.Second},
	}})
	if l.budget != 100 {
		t.Fatalf("budget = %v, want 100", l.budget)
	}
	if l.tStart != 10 {
		t.Fatalf("tStart = %v, want 10", l.tStart)
	}
	if l.tEnd != 90 {
		t.Fatalf("tEnd = %v, want 90", l.tEnd)
	}
}

func TestNewLinearIncreasePoissonDegradesOnParseError(t *testing.T) {
	l := NewLinearIncreasePoisson(Deps{Cfg: &config.RunConfig{
		MaxThroughput: 100,
		MinThroughput: 10,
		TStart:        "not-a-number",
		TEnd:          "90%",
		Termination:   config.Termination{ByTime: 100 * time.Second},
	}})
	if l.tStart != 0 || l.tEnd != 0 {
		t.Fatalf("expected tStart=tEnd=0 on parse error, got tStart=%v tEnd=%v", l.tStart, l.tEnd)
	}
}

func TestLinearIncreasePoissonProgressUsesElapsedSecondsUnderTimeBudget(t *testing.T) {
	l := NewLinearIncreasePoisson(Deps{
		State: runstate.New(0),
		Cfg: &config.RunConfig{
			MaxThroughput: 100,
			MinThroughput: 10,
			TStart:        "0",
			TEnd:          "10",
			Termination:   config.Termination{ByTime: 10 * time.Second},
		},
	})
	start := time.Now().Add(-2 * time.Second)
	x := l.progress(start)
	if x < 1.9 || x > 2.5 {
		t.Fatalf("progress() = %v, want roughly 2", x)
	}
}

func TestLinearIncreasePoissonProgressUsesSubmittedCountUnderCountBudget(t *testing.T) {
	state := runstate.New(100)
	state.Counters.Submit()
	state.Counters.Submit()
	state.Counters.Submit()

	l := NewLinearIncreasePoisson(Deps{
		State: state,
		Cfg: &config.RunConfig{
			MaxThroughput: 100,
			MinThroughput: 10,
			TStart:        "0",
			TEnd:          "50",
			Termination:   config.Termination{ByCount: 100},
		},
	})
	if got := l.progress(time.Now()); got != 3 {
		t.Fatalf("progress() = %v, want 3", got)
	}
}

func TestLinearIncreasePoissonRunStopsAtRequestCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	state := runstate.New(5)
	p := pool.New(pool.Config{
		Target:   httpexec.Target{Method: "GET", URL: u},
		Client:   httpexec.NewClient(5 * time.Second),
		State:    state,
		RunnerID: "test-runner",
		Seed:     1,
		Handler:  func(observation.Observation) {},
	})
	defer p.Shutdown(true)

	cfg := &config.RunConfig{
		RunnerID:      "test-runner",
		ExperimentID:  "exp-1",
		MaxThroughput: 200,
		MinThroughput: 50,
		TStart:        "0%",
		TEnd:          "100%",
		Termination:   config.Termination{ByCount: 5},
		Seed:          1,
	}

	sched := NewLinearIncreasePoisson(Deps{Pool: p, State: state, Cfg: cfg})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := sched.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := state.Counters.Submitted(); got != 5 {
		t.Fatalf("Submitted() = %d, want 5", got)
	}
}
