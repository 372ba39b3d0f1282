package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pilot-net/loadgen/internal/config"
	"github.com/pilot-net/loadgen/internal/httpexec"
	"github.com/pilot-net/loadgen/internal/observation"
	"github.com/pilot-net/loadgen/internal/pool"
	"github.com/pilot-net/loadgen/internal/runstate"
)

func newTestDeps(t *testing.T, requestCap int64, concurrency int) (Deps, *int64) {
	t.Helper()

	var served int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&served, 1)
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
		RunnerID:     "test-runner",
		ExperimentID: "exp-1",
		Concurrency:  concurrency,
		Termination:  config.Termination{ByCount: requestCap},
	}

	return Deps{Pool: p, State: state, Cfg: cfg}, &served
}

func TestConcurrentRunStopsAtRequestCap(t *testing.T) {
	deps, served := newTestDeps(t, 20, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sched := NewConcurrent(deps)
	result, err := sched.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := deps.State.Counters.Submitted(); got != 20 {
		t.Fatalf("Submitted() = %d, want 20", got)
	}
	if result.RunnerID != "test-runner" {
		t.Fatalf("RunResult.RunnerID = %q, want test-runner", result.RunnerID)
	}
	if !result.TotalEndTime.After(result.TotalStartTime) && result.TotalEndTime != result.TotalStartTime {
		t.Fatalf("expected TotalEndTime >= TotalStartTime")
	}

	deadline := time.After(time.Second)
	for {
		if atomic.LoadInt64(served) == 20 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected all 20 requests to be served, got %d", atomic.LoadInt64(served))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestConcurrentRunStopsOnExternalStop(t *testing.T) {
	deps, _ := newTestDeps(t, 0, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := NewConcurrent(deps)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	deps.State.Stop.Assert()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Stop.Assert")
	}
}
