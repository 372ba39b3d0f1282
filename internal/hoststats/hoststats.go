// Package hoststats samples the load generator's own process resource
// usage while a run is in flight (A5, --host-stats).
package hoststats

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const sampleInterval = 5 * time.Second

// Sample is one point-in-time reading of the process's own resource usage.
type Sample struct {
	Time          time.Time
	CPUPercent    float64
	MemoryMB      float64
	MemoryPercent float64
}

// Sampler periodically records Samples for the lifetime of a run, keeping
// the full series in memory for the final report.
type Sampler struct {
	mu      sync.Mutex
	samples []Sample
}

// New builds a Sampler; call Run in its own goroutine and Samples after it
// returns.
func New() *Sampler {
	return &Sampler{}
}

// Run samples every 5 seconds until ctx is done. A gopsutil error for one
// reading is not fatal — a missed reading is not worth aborting the run
// over — and leaves that field zero in the tick's sample, which is still
// recorded.
func (s *Sampler) Run(ctx context.Context) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.record(proc)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sampler) record(proc *process.Process) {
	sample := Sample{Time: time.Now()}

	if cpu, err := proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		sample.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	if memPct, err := proc.MemoryPercent(); err == nil {
		sample.MemoryPercent = float64(memPct)
	}

	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
}

// Samples returns the recorded series in chronological order.
func (s *Sampler) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Mean returns the average CPU% and memory (MB) over the recorded series,
// or zero values if nothing was sampled.
func (s *Sampler) Mean() (cpuPercent, memoryMB float64) {
	samples := s.Samples()
	if len(samples) == 0 {
		return 0, 0
	}
	var cpuSum, memSum float64
	for _, sm := range samples {
		cpuSum += sm.CPUPercent
		memSum += sm.MemoryMB
	}
	n := float64(len(samples))
	return cpuSum / n, memSum / n
}
