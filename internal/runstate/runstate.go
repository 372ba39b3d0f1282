// Package runstate holds the coordination state shared by a run's
// scheduler, worker pool, and controller goroutines: the stop broadcast,
// the ready latch, and the submitted/observed counters.
package runstate

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stop is a one-shot broadcast signal. Assert is idempotent; Wait blocks up
// to a duration or returns immediately once asserted.
type Stop struct {
	once sync.Once
	ch   chan struct{}
}

// NewStop returns an unasserted Stop.
func NewStop() *Stop {
	return &Stop{ch: make(chan struct{})}
}

// Assert sets the stop signal. Calling it more than once has no effect
// beyond the first call.
func (s *Stop) Assert() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether Assert has been called, without blocking.
func (s *Stop) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the stop signal is asserted or d elapses, whichever
// comes first. It returns true if the signal fired during the wait.
func (s *Stop) Wait(d time.Duration) bool {
	if d <= 0 {
		return s.IsSet()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ch:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns the underlying channel for use in a select statement.
func (s *Stop) Done() <-chan struct{} {
	return s.ch
}

// Ready is a manual-reset latch: the scheduler clears it before going to
// sleep waiting for backpressure to release, and a worker sets it whenever
// it completes a request, waking the scheduler.
type Ready struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewReady returns a Ready latch, initially set.
func NewReady() *Ready {
	r := &Ready{ch: make(chan struct{})}
	close(r.ch)
	return r
}

// Clear resets the latch so the next Wait blocks.
func (r *Ready) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.ch:
		r.ch = make(chan struct{})
	default:
	}
}

// Signal sets the latch, waking any waiters.
func (r *Ready) Signal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.ch:
	default:
		close(r.ch)
	}
}

// Wait blocks until the latch is set or ctx-like stop fires.
func (r *Ready) Wait(stop *Stop) {
	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()
	select {
	case <-ch:
	case <-stop.Done():
	}
}

// Counters tracks submitted/observed job counts and the request cap.
// RequestCap of 0 means unbounded (time-based termination).
type Counters struct {
	submitted  int64
	observed   int64
	RequestCap int64
}

// Submit records one job handed to the pool and returns the new submitted
// total.
func (c *Counters) Submit() int64 {
	return atomic.AddInt64(&c.submitted, 1)
}

// Observe records one completed observation and returns the new observed
// total.
func (c *Counters) Observe() int64 {
	return atomic.AddInt64(&c.observed, 1)
}

// Submitted returns the current submitted count.
func (c *Counters) Submitted() int64 {
	return atomic.LoadInt64(&c.submitted)
}

// Observed returns the current observed count.
func (c *Counters) Observed() int64 {
	return atomic.LoadInt64(&c.observed)
}

// InFlight returns submitted - observed, always >= 0 by construction.
func (c *Counters) InFlight() int64 {
	return c.Submitted() - c.Observed()
}

// CapReached reports whether the request cap has been hit. Always false
// when RequestCap is 0 (unbounded / time-based termination).
func (c *Counters) CapReached() bool {
	if c.RequestCap <= 0 {
		return false
	}
	return c.Submitted() >= c.RequestCap
}

// State bundles the coordination primitives a run's scheduler, pool, and
// controller goroutines all share.
type State struct {
	Stop     *Stop
	Ready    *Ready
	Counters *Counters
}

// New returns a fresh State with requestCap jobs as the submission ceiling
// (0 = unbounded).
func New(requestCap int64) *State {
	return &State{
		Stop:     NewStop(),
		Ready:    NewReady(),
		Counters: &Counters{RequestCap: requestCap},
	}
}
