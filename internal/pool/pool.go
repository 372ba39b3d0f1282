// Package pool implements the bounded worker pool (C4): a set of execution
// slots, each of which performs one HTTP request per job and produces one
// Observation, published to both the Sink and the in-memory result buffer.
package pool

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/pilot-net/loadgen/internal/clock"
	"github.com/pilot-net/loadgen/internal/httpexec"
	"github.com/pilot-net/loadgen/internal/observation"
	"github.com/pilot-net/loadgen/internal/runstate"
)

// Job is one unit of work handed to the pool: a request to execute, tagged
// with the scheduler's state snapshot at submission time.
type Job struct {
	SchedulerOptions map[string]any
}

// ResultHandler publishes a completed Observation onward (Sink + in-memory
// buffer). Implementations must be safe for concurrent use by every worker
// goroutine.
type ResultHandler func(observation.Observation)

// Pool is a resizable set of worker goroutines draining a shared jobs
// channel. Workers can be added at runtime (the Poisson slow-start ramp
// does this); the pool never shrinks a running goroutine — schedulers that
// want fewer active requests achieve it by slowing submission, not by
// killing workers mid-flight.
type Pool struct {
	target  httpexec.Target
	client  *httpexec.Client
	state   *runstate.State
	handler ResultHandler
	seed    int64
	runner  string

	jobs chan Job

	workerCount int64
	busyCount   int64

	checkpointMu sync.Mutex
	checkpointS  int64
	checkpoint   int64
	completed    int64
	heartbeat    func()

	// limiter paces each worker's post-completion think-time (C7's optional
	// inter-request delay), one reservation per request, rather than a raw
	// sleep — this lets a future "global request rate cap" reuse the same
	// limiter type without a second pacing mechanism.
	limiter *rate.Limiter

	wg sync.WaitGroup
}

// Config configures a new Pool.
type Config struct {
	Target     httpexec.Target
	Client     *httpexec.Client
	State      *runstate.State
	Handler    ResultHandler
	Seed       int64
	RunnerID   string
	QueueDepth int // jobs channel buffer size

	// Delay is an optional think-time pause a worker observes after
	// completing a job and before pulling its next one — the Concurrent
	// scheduler's (C7) inter-request pause. Zero for every other
	// scheduler variant.
	Delay time.Duration

	// Heartbeat is invoked once per checkpoint-interval completion (a
	// progress dot per SPEC_FULL.md's status channel). May be nil.
	Heartbeat func()
}

// New builds a Pool with no running workers; call AddWorker to bring
// execution slots online.
func New(cfg Config) *Pool {
	qd := cfg.QueueDepth
	if qd <= 0 {
		qd = 65536
	}
	var limiter *rate.Limiter
	if cfg.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}
	return &Pool{
		target:      cfg.Target,
		client:      cfg.Client,
		state:       cfg.State,
		handler:     cfg.Handler,
		seed:        cfg.Seed,
		runner:      cfg.RunnerID,
		jobs:        make(chan Job, qd),
		checkpointS: 10,
		checkpoint:  200,
		heartbeat:   cfg.Heartbeat,
		limiter:     limiter,
	}
}

// AddWorker starts one more execution slot. Safe to call concurrently and
// at any point during a run (this is how slow-start grows concurrency).
func (p *Pool) AddWorker(ctx context.Context) {
	n := atomic.AddInt64(&p.workerCount, 1)
	p.wg.Add(1)
	go p.runWorker(ctx, clock.Seed(p.seed, p.runner, n))
}

func (p *Pool) runWorker(ctx context.Context, seed int64) {
	defer p.wg.Done()
	rng := rand.New(rand.NewSource(seed))

	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			atomic.AddInt64(&p.busyCount, 1)
			obs := p.client.Do(ctx, p.target, rng, job.SchedulerOptions)
			atomic.AddInt64(&p.busyCount, -1)

			p.handler(obs)

			p.state.Counters.Observe()
			p.checkpointTick()

			if p.state.Counters.CapReached() {
				p.state.Stop.Assert()
			}
			p.state.Ready.Signal()

			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// checkpointTick implements the sparsening heartbeat: a dot every
// checkpointS completions, widening checkpointS (and the next widening
// threshold) by 10x once the absolute completion count reaches checkpoint —
// not once checkpoint dots have been printed.
func (p *Pool) checkpointTick() {
	if p.heartbeat == nil {
		return
	}
	p.checkpointMu.Lock()
	defer p.checkpointMu.Unlock()

	p.completed++
	if p.completed%p.checkpointS != 0 {
		return
	}
	p.heartbeat()

	if p.completed >= p.checkpoint {
		p.checkpointS *= 10
		p.checkpoint *= 10
	}
}

// Submit enqueues one job. It may block only if the queue buffer is full —
// the scheduler is responsible for the admission check (in-flight vs.
// concurrency budget) before ever calling Submit.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// Shutdown stops accepting new work. If cancelPending is true, queued-but-
// not-started jobs are dropped; running jobs always finish.
func (p *Pool) Shutdown(cancelPending bool) {
	close(p.jobs)
	if cancelPending {
		for range p.jobs {
		}
	}
	p.wg.Wait()
}

// WorkerCount returns the number of execution slots started so far.
func (p *Pool) WorkerCount() int64 {
	return atomic.LoadInt64(&p.workerCount)
}

// IdleWorkers returns the number of started workers not currently executing
// a request.
func (p *Pool) IdleWorkers() int64 {
	return p.WorkerCount() - atomic.LoadInt64(&p.busyCount)
}

// QueueDepth returns the number of jobs buffered but not yet picked up by a
// worker.
func (p *Pool) QueueDepth() int {
	return len(p.jobs)
}
