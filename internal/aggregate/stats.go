// Package aggregate implements the summary/percentile statistics and ASCII
// histograms printed at the end of a run (C12).
package aggregate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pilot-net/loadgen/internal/observation"
)

// percentileLevels are the report's fixed set of percentage points,
// printed in this exact order.
var percentileLevels = []struct {
	label   string
	percent float64
}{
	{" 50%", 0.5},
	{" 66%", 2.0 / 3.0},
	{" 75%", 0.75},
	{" 80%", 0.8},
	{" 85%", 0.85},
	{" 90%", 0.9},
	{" 95%", 0.95},
	{"100%", 1.0},
}

// Summary is the fully-computed report for one run's observations.
type Summary struct {
	Completed     int
	Failed        int
	NonSuccess    int
	TotalBytes    int64
	MeanServiceMs float64
	MeanTotalMs   float64
	ReqPerSec     float64
	TransferKBps  float64
	ServerNames   string
	Percentiles   map[string]int64 // label -> milliseconds

	serviceTimes []time.Duration // successful requests, sorted ascending
	submitOrder  []time.Duration // successful requests, ordered by request start time
}

// Summarize reduces a run's observations into a Summary, following the
// original report's exact field derivation: failed requests (status -1)
// and non-2xx responses are both counted, and only failed requests are
// excluded from the latency series and byte total — a non-2xx response
// still completed with a response and is included.
func Summarize(obs []observation.Observation, totalElapsed time.Duration) Summary {
	var s Summary
	names := map[string]int{}
	var totalServiceTime time.Duration
	type startedAt struct {
		start time.Time
		d     time.Duration
	}
	var started []startedAt

	for _, o := range obs {
		if o.Failed() {
			s.Failed++
		}
		if o.NonSuccess() {
			s.NonSuccess++
		}
		if !o.Failed() {
			d := o.ServiceTime()
			s.serviceTimes = append(s.serviceTimes, d)
			started = append(started, startedAt{o.StartTime, d})
			totalServiceTime += d
			s.TotalBytes += o.ContentLength
		}
		names[o.ServerName]++
	}

	s.Completed = len(obs)
	s.ServerNames = formatServerNames(names)

	sort.Slice(s.serviceTimes, func(i, j int) bool { return s.serviceTimes[i] < s.serviceTimes[j] })
	sort.SliceStable(started, func(i, j int) bool { return started[i].start.Before(started[j].start) })
	for _, st := range started {
		s.submitOrder = append(s.submitOrder, st.d)
	}

	if s.Completed > 0 && totalElapsed > 0 {
		s.ReqPerSec = float64(s.Completed) / totalElapsed.Seconds()
		s.MeanTotalMs = totalElapsed.Seconds() * 1000 / float64(s.Completed)
		s.TransferKBps = float64(s.TotalBytes) / (1000 * totalElapsed.Seconds())
	}
	if len(s.serviceTimes) > 0 {
		s.MeanServiceMs = totalServiceTime.Seconds() * 1000 / float64(len(s.serviceTimes))
	}

	s.Percentiles = make(map[string]int64, len(percentileLevels))
	for _, lvl := range percentileLevels {
		p := Percentile(s.serviceTimes, lvl.percent)
		s.Percentiles[lvl.label] = int64(p.Milliseconds())
	}

	return s
}

// Percentile computes the p-th percentile (p in [0,1]) of a sorted
// duration series via linear interpolation at rank k = (n-1)*p, the exact
// formula used by the original report's percentile helper.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	k := float64(len(sorted)-1) * p
	f := int(k)
	c := f
	if frac := k - float64(f); frac > 0 {
		c = f + 1
	}
	if c >= len(sorted) {
		c = len(sorted) - 1
	}
	if f == c {
		return sorted[f]
	}
	d0 := float64(sorted[f]) * (float64(c) - k)
	d1 := float64(sorted[c]) * (k - float64(f))
	return time.Duration(d0 + d1)
}

// formatServerNames renders the top-5-by-count server name summary with a
// "+k other" suffix beyond the fifth distinct name.
func formatServerNames(counts map[string]int) string {
	type pair struct {
		name  string
		count int
	}
	pairs := make([]pair, 0, len(counts))
	for name, count := range counts {
		pairs = append(pairs, pair{name, count})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].name < pairs[j].name
	})

	limit := len(pairs)
	if limit > 5 {
		limit = 5
	}
	parts := make([]string, 0, limit)
	for _, p := range pairs[:limit] {
		parts = append(parts, fmt.Sprintf("%s (%d)", p.name, p.count))
	}
	out := strings.Join(parts, ", ")
	if len(pairs) > 5 {
		out += fmt.Sprintf(", +%d other", len(pairs)-5)
	}
	return out
}

// Report renders the full human-readable summary, matching the original
// report's field order and formatting.
func (s Summary) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Server name(s):      %s\n\n", s.ServerNames)
	fmt.Fprintf(&b, "Completed requests:  %d\n", s.Completed)
	fmt.Fprintf(&b, "Failed requests:     %d\n", s.Failed)
	fmt.Fprintf(&b, "Non-2xx responses:   %d\n", s.NonSuccess)
	fmt.Fprintf(&b, "Total transferred:   %d\n", s.TotalBytes)
	fmt.Fprintf(&b, "Requests per second: %.2f [#/sec] (mean)\n", s.ReqPerSec)
	fmt.Fprintf(&b, "Time per request:    %.2f [ms] (mean)\n", s.MeanServiceMs)
	fmt.Fprintf(&b, "Time per request:    %.2f [ms] (mean, across all concurrent requests)\n", s.MeanTotalMs)
	fmt.Fprintf(&b, "Transfer rate:       %.2f [Kbytes/sec] received\n\n", s.TransferKBps)
	fmt.Fprintf(&b, "Percentage of the requests served within a certain time (ms)\n")
	for _, lvl := range percentileLevels {
		fmt.Fprintf(&b, "%s  %d\n", lvl.label, s.Percentiles[lvl.label])
	}
	return b.String()
}

// ServiceTimes returns the sorted-ascending successful-request service
// times, for the "ordered" histogram.
func (s Summary) ServiceTimes() []time.Duration { return s.serviceTimes }

// SubmitOrderTimes returns the successful-request service times ordered by
// request start time (the order jobs were taken from the submission queue),
// for the "as submitted" histogram.
func (s Summary) SubmitOrderTimes() []time.Duration { return s.submitOrder }
