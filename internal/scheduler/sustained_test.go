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

func TestNewSustainedPoissonOverridesWorkerCeiling(t *testing.T) {
	s := NewSustainedPoisson(Deps{Cfg: &config.RunConfig{MaxThroughput: 50, MaxConcurrency: 4}})
	if got := s.maxConcurrency(); got != sustainedMaxWorkers {
		t.Fatalf("maxConcurrency() = %d, want %d", got, sustainedMaxWorkers)
	}
}

func TestSustainedPoissonRunStopsAtRequestCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	state := runstate.New(6)
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
		Termination:   config.Termination{ByCount: 6},
		Seed:          1,
	}

	sched := NewSustainedPoisson(Deps{Pool: p, State: state, Cfg: cfg})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := sched.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := state.Counters.Submitted(); got != 6 {
		t.Fatalf("Submitted() = %d, want 6", got)
	}
}
