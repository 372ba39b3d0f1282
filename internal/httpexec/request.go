// Package httpexec executes one HTTP request attempt and turns it into an
// Observation. It is the thing a worker pool slot calls once per job.
package httpexec

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pilot-net/loadgen/internal/observation"
)

// Target carries everything a single request attempt needs to build and
// send itself; it is the read-only slice of RunConfig a worker touches.
type Target struct {
	Method       string
	URL          *url.URL
	OverrideHost string
	Bodies       [][]byte
	BodyType     string
	GzipEnabled  bool
}

// Client wraps the shared keep-alive HTTP client every worker reuses. The
// body-selection RNG is not held here: Do takes it from the caller, and
// since a *rand.Rand is not safe for concurrent use, each worker goroutine
// passes its own, mirroring the per-runner seeded stream described in
// SPEC_FULL.md §3.
type Client struct {
	HTTP *http.Client
}

// NewClient builds a shared, connection-pooled HTTP client.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		HTTP: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        2048,
				MaxIdleConnsPerHost: 2048,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Do issues one request attempt and returns a filled Observation. It never
// returns an error: transport failures are folded into the Observation
// itself (StatusCode -1) per SPEC_FULL.md §4.2/§7.
func (c *Client) Do(ctx context.Context, t Target, rng *rand.Rand, schedulerOptions map[string]any) observation.Observation {
	obs := observation.Observation{
		RequestURL:       t.URL.String(),
		RequestPort:      t.URL.Port(),
		RequestScheme:    t.URL.Scheme,
		SchedulerOptions: schedulerOptions,
	}

	body, bodyLen := pickBody(t, rng)

	req, err := http.NewRequestWithContext(ctx, t.Method, t.URL.String(), body)
	if err != nil {
		obs.StartTime = time.Now()
		obs.EndTime = obs.StartTime
		obs.StatusCode = -1
		obs.ServerName = "none/fail"
		obs.Err = err
		return obs
	}

	host := t.OverrideHost
	if host == "" {
		host = t.URL.Host
	}
	req.Host = host

	if t.BodyType != "" {
		req.Header.Set("Content-Type", t.BodyType)
	}
	if t.GzipEnabled {
		req.Header.Set("Accept-Encoding", "gzip")
		if bodyLen > 0 {
			req.Header.Set("Content-Encoding", "gzip")
		}
	}
	req.Header.Set("Host", host)
	obs.RequestHeaders = cloneHeader(req.Header)

	obs.StartTime = time.Now()
	resp, err := c.HTTP.Do(req)
	obs.EndTime = time.Now()

	if err != nil {
		obs.StatusCode = -1
		obs.ServerName = "none/fail"
		obs.Err = err
		return obs
	}
	defer resp.Body.Close()

	n, _ := io.Copy(io.Discard, resp.Body)

	obs.StatusCode = resp.StatusCode
	obs.ContentLength = n
	obs.ContentEncoding = resp.Header.Get("Content-Encoding")
	obs.ResponseHeaders = cloneHeader(resp.Header)

	obs.ServerName = resp.Header.Get("x-k-node-name")
	if obs.ServerName == "" {
		obs.ServerName = "unknown"
	}
	obs.EdgeProxy = strings.EqualFold(resp.Header.Get("x-knative-edge-proxy"), "true")

	return obs
}

// pickBody chooses one body uniformly at random from the configured
// bodies (none if the list is empty), gzip-compressing it first when
// requested, and returns the reader plus the encoded length (0 = no body).
func pickBody(t Target, rng *rand.Rand) (io.Reader, int) {
	if len(t.Bodies) == 0 {
		return nil, 0
	}
	raw := t.Bodies[rng.Intn(len(t.Bodies))]
	if !t.GzipEnabled {
		return bytes.NewReader(raw), len(raw)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write(raw)
	gw.Close()
	return bytes.NewReader(buf.Bytes()), buf.Len()
}

func cloneHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
