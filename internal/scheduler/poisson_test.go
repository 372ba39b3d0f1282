package scheduler

import (
	"context"
	"math/rand"
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

func TestNextPoissonDelayNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		d := nextPoissonDelay(rng, 10*time.Millisecond)
		if d < 0 {
			t.Fatalf("nextPoissonDelay returned negative duration %v", d)
		}
	}
}

func TestNextPoissonDelayHandlesZeroSample(t *testing.T) {
	d := nextPoissonDelay(constFloat{0}, 10*time.Millisecond)
	if d <= 0 {
		t.Fatalf("expected a positive duration even when the sample is exactly 0, got %v", d)
	}
}

type constFloat struct{ v float64 }

func (c constFloat) Float64() float64 { return c.v }

func TestPoissonSetAndReadMeanReqTime(t *testing.T) {
	p := NewPoisson(Deps{Cfg: &config.RunConfig{MaxThroughput: 100}})
	if got, want := p.meanReqTime(), 10*time.Millisecond; got != want {
		t.Fatalf("initial meanReqTime = %v, want %v", got, want)
	}
	p.setMeanReqTime(25 * time.Millisecond)
	if got, want := p.meanReqTime(), 25*time.Millisecond; got != want {
		t.Fatalf("meanReqTime after set = %v, want %v", got, want)
	}
}

func TestPoissonMaxConcurrencyOverride(t *testing.T) {
	p := NewPoisson(Deps{Cfg: &config.RunConfig{MaxThroughput: 100, MaxConcurrency: 16}})
	if got := p.maxConcurrency(); got != 16 {
		t.Fatalf("maxConcurrency() = %d, want 16", got)
	}
	p.maxWorkersOverride = 128
	if got := p.maxConcurrency(); got != 128 {
		t.Fatalf("maxConcurrency() with override = %d, want 128", got)
	}
}

func newPoissonTestDeps(t *testing.T, requestCap int64, maxThroughput float64) Deps {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server url: %v", err)
	}

	state := runstate.New(requestCap)
	p := pool.New(pool.Config{
		Target:   httpexec.Target{Method: "GET", URL: u},
		Client:   httpexec.NewClient(5 * time.Second),
		State:    state,
		RunnerID: "test-runner",
		Seed:     1,
		Handler:  func(observation.Observation) {},
	})
	t.Cleanup(func() { p.Shutdown(true) })

	cfg := &config.RunConfig{
		RunnerID:      "test-runner",
		ExperimentID:  "exp-1",
		MaxThroughput: maxThroughput,
		MaxConcurrency: 4,
		Termination:   config.Termination{ByCount: requestCap},
		Seed:          1,
	}

	return Deps{Pool: p, State: state, Cfg: cfg}
}

func TestPoissonRunStopsAtRequestCap(t *testing.T) {
	deps := newPoissonTestDeps(t, 8, 200)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sched := NewPoisson(deps)
	result, err := sched.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := deps.State.Counters.Submitted(); got != 8 {
		t.Fatalf("Submitted() = %d, want 8", got)
	}
	if result.ExperimentID != "exp-1" {
		t.Fatalf("ExperimentID = %q, want exp-1", result.ExperimentID)
	}
}
