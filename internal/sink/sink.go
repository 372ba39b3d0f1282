// Package sink implements the Sink (C2): an isolated, batching, retrying
// consumer of observations that streams bulk-index documents to an
// external document store.
package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/pilot-net/loadgen/internal/clock"
	"github.com/pilot-net/loadgen/internal/observation"
	"github.com/pilot-net/loadgen/pkg/types"
)

const (
	// maxBatchRecords is spec.md §4.9's flush threshold, counted in
	// *records*: each observation contributes two (an index directive plus
	// its document), so the buffer flushes every maxBatch observations.
	maxBatchRecords = 32
	maxBatch        = maxBatchRecords / 2
	flushEvery      = 10 * time.Second
	maxRetries      = 3
	indexName       = "experiments"
)

// Config configures a Sink.
type Config struct {
	Endpoint     string // base URL, e.g. https://search.example.com
	User         string
	Password     string
	ExperimentID string
	Logger       *slog.Logger
	HTTPClient   *http.Client

	// WAL, if set, receives every batch before the HTTP flush is
	// attempted and is drained only once that flush succeeds — see
	// DESIGN.md's "Optional write-ahead buffering" entry.
	WAL *WALBuffer

	// OnFatal is invoked (instead of os.Exit) when a flush exhausts its
	// retries; overridable for tests. Defaults to a logger.Error + os.Exit(1).
	OnFatal func(error)
}

type message struct {
	obs    *observation.Observation
	flush  chan struct{}
	isStop bool
}

// Sink runs in its own goroutine; callers only ever touch Add/Flush/Stop,
// none of which share a mutex with the worker pool's hot path.
type Sink struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	inbox chan message
	done  chan struct{}

	buffer []*observation.Observation

	shipped int64
	failed  int64
}

// New constructs a Sink. Call Run in its own goroutine to start it.
func New(cfg Config) *Sink {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.OnFatal == nil {
		cfg.OnFatal = func(err error) {
			cfg.Logger.Error("sink: unrecoverable flush failure, terminating", "error", err)
			os.Exit(1)
		}
	}
	return &Sink{
		cfg:    cfg,
		logger: cfg.Logger,
		client: cfg.HTTPClient,
		inbox:  make(chan message, 4096),
		done:   make(chan struct{}),
		buffer: make([]*observation.Observation, 0, maxBatch),
	}
}

// Add appends one Observation to the batch. Never blocks the hot path
// beyond the inbox channel's buffer.
func (s *Sink) Add(o observation.Observation) {
	cp := o
	s.inbox <- message{obs: &cp}
}

// Flush requests an out-of-band flush and blocks until it completes.
func (s *Sink) Flush() {
	done := make(chan struct{})
	s.inbox <- message{flush: done}
	<-done
}

// Stop flushes any remaining batch and exits the Sink goroutine. Blocks
// until the goroutine has returned.
func (s *Sink) Stop() {
	s.inbox <- message{isStop: true}
	<-s.done
}

// Run is the Sink's main loop; launch it with `go sink.Run(ctx)`.
func (s *Sink) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.inbox:
			if msg.isStop {
				s.flush(ctx)
				return
			}
			if msg.flush != nil {
				s.flush(ctx)
				close(msg.flush)
				continue
			}
			s.buffer = append(s.buffer, msg.obs)
			if len(s.buffer) >= maxBatch {
				s.flush(ctx)
			}
		case <-ticker.C:
			s.flush(ctx)
		case <-ctx.Done():
			s.flush(ctx)
			return
		}
	}
}

// flush is a no-op when the buffer is empty, otherwise attempts a bulk
// write with up to maxRetries attempts and uniform[0,1)s backoff between
// them. Exhausting all retries is fatal.
func (s *Sink) flush(ctx context.Context) {
	if len(s.buffer) == 0 {
		return
	}
	batch := s.buffer
	s.buffer = make([]*observation.Observation, 0, maxBatch)

	if s.cfg.WAL != nil {
		if err := s.cfg.WAL.Push(ctx, batch); err != nil {
			s.logger.Warn("sink: write-ahead buffer push failed, proceeding without it", "error", err)
		}
	}

	body, err := encodeBulk(batch, s.cfg.ExperimentID)
	if err != nil {
		s.cfg.OnFatal(fmt.Errorf("encoding bulk batch: %w", err))
		return
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(rand.Float64() * float64(time.Second))
			time.Sleep(backoff)
		}
		if err := s.push(ctx, body); err != nil {
			lastErr = err
			s.logger.Warn("sink: flush attempt failed", "attempt", attempt+1, "error", err)
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil {
		s.failed += int64(len(batch))
		s.cfg.OnFatal(fmt.Errorf("sink flush exhausted %d retries: %w", maxRetries, lastErr))
		return
	}

	s.shipped += int64(len(batch))
	if s.cfg.WAL != nil {
		s.cfg.WAL.Ack(ctx, len(batch))
	}
}

func (s *Sink) push(ctx context.Context, body []byte) error {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(body); err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint+"/_bulk", &buf)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Content-Encoding", "gzip")
	if s.cfg.User != "" {
		req.SetBasicAuth(s.cfg.User, s.cfg.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}

// Stats reports Sink throughput for the final report.
type Stats struct {
	Shipped int64
	Failed  int64
}

// Stats returns a snapshot of shipped/failed document counts.
func (s *Sink) Stats() Stats {
	return Stats{Shipped: s.shipped, Failed: s.failed}
}

// encodeBulk renders the interleaved index-directive/document pairs as
// newline-delimited JSON.
func encodeBulk(batch []*observation.Observation, experimentID string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for _, o := range batch {
		directive := types.IndexDirective{
			Index: types.IndexMeta{ID: clock.NewDocumentID(), Index: indexName},
		}
		if err := enc.Encode(directive); err != nil {
			return nil, err
		}

		doc := toDocument(o, experimentID)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func toDocument(o *observation.Observation, experimentID string) types.SinkDocument {
	return types.SinkDocument{
		Timestamp: o.StartTime.UTC(),
		Experiment: types.ExperimentMeta{
			ID:     experimentID,
			Type:   "request",
			Worker: o.SchedulerOptions,
		},
		Server: types.ServerMeta{
			Name:    o.ServerName,
			Proxied: o.EdgeProxy,
		},
		Response: types.ResponseMeta{
			StatusCode:    o.StatusCode,
			DurationUs:    o.ServiceTime().Microseconds(),
			ContentLength: o.ContentLength,
			Headers:       o.ResponseHeaders,
		},
		Request: types.RequestMeta{
			URL:     o.RequestURL,
			Port:    o.RequestPort,
			Scheme:  o.RequestScheme,
			Headers: o.RequestHeaders,
		},
	}
}
