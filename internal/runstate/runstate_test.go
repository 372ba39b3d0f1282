package runstate

import (
	"testing"
	"time"
)

func TestStopAssertIdempotent(t *testing.T) {
	s := NewStop()
	if s.IsSet() {
		t.Fatalf("new Stop should not be set")
	}
	s.Assert()
	s.Assert() // must not panic on double-close
	if !s.IsSet() {
		t.Fatalf("expected Stop to be set after Assert")
	}
}

func TestStopWaitReturnsOnAssert(t *testing.T) {
	s := NewStop()
	done := make(chan bool, 1)
	go func() {
		done <- s.Wait(time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	s.Assert()
	select {
	case fired := <-done:
		if !fired {
			t.Fatalf("expected Wait to report true when Assert fires first")
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Assert")
	}
}

func TestStopWaitTimesOut(t *testing.T) {
	s := NewStop()
	if fired := s.Wait(20 * time.Millisecond); fired {
		t.Fatalf("expected Wait to time out without Assert")
	}
}

func TestReadyClearThenSignal(t *testing.T) {
	r := NewReady()
	stop := NewStop()

	r.Clear()
	done := make(chan struct{})
	go func() {
		r.Wait(stop)
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Wait returned before Signal")
	case <-time.After(20 * time.Millisecond):
	}

	r.Signal()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Signal")
	}
}

func TestReadyWaitUnblocksOnStop(t *testing.T) {
	r := NewReady()
	stop := NewStop()
	r.Clear()

	done := make(chan struct{})
	go func() {
		r.Wait(stop)
		close(done)
	}()

	stop.Assert()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Stop.Assert")
	}
}

func TestCountersInFlightAndCap(t *testing.T) {
	c := &Counters{RequestCap: 2}
	if c.CapReached() {
		t.Fatalf("cap should not be reached yet")
	}
	c.Submit()
	if c.InFlight() != 1 {
		t.Fatalf("expected in-flight 1, got %d", c.InFlight())
	}
	c.Submit()
	if !c.CapReached() {
		t.Fatalf("expected cap reached at RequestCap submissions")
	}
	c.Observe()
	if c.InFlight() != 1 {
		t.Fatalf("expected in-flight 1 after one observe, got %d", c.InFlight())
	}
}

func TestCountersUnboundedWhenCapZero(t *testing.T) {
	c := &Counters{}
	for i := 0; i < 100; i++ {
		c.Submit()
	}
	if c.CapReached() {
		t.Fatalf("RequestCap 0 should never report cap reached")
	}
}
