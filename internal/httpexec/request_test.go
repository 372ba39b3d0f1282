package httpexec

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestDoSuccessPopulatesObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-k-node-name", "node-7")
		w.Header().Set("x-knative-edge-proxy", "true")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	client := NewClient(5 * time.Second)
	obs := client.Do(context.Background(), Target{Method: "GET", URL: u}, rand.New(rand.NewSource(1)), nil)

	if obs.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", obs.StatusCode)
	}
	if obs.ServerName != "node-7" {
		t.Fatalf("ServerName = %q, want node-7", obs.ServerName)
	}
	if !obs.EdgeProxy {
		t.Fatalf("expected EdgeProxy true")
	}
	if obs.ContentLength != 5 {
		t.Fatalf("ContentLength = %d, want 5", obs.ContentLength)
	}
}

func TestDoDefaultsServerNameWhenHeaderMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	client := NewClient(5 * time.Second)
	obs := client.Do(context.Background(), Target{Method: "GET", URL: u}, rand.New(rand.NewSource(1)), nil)

	if obs.ServerName != "unknown" {
		t.Fatalf("ServerName = %q, want unknown", obs.ServerName)
	}
	if obs.EdgeProxy {
		t.Fatalf("expected EdgeProxy false by default")
	}
}

func TestDoTransportFailure(t *testing.T) {
	u, _ := url.Parse("http://127.0.0.1:1") // nothing listens here
	client := NewClient(500 * time.Millisecond)
	obs := client.Do(context.Background(), Target{Method: "GET", URL: u}, rand.New(rand.NewSource(1)), nil)

	if obs.StatusCode != -1 {
		t.Fatalf("StatusCode = %d, want -1 on transport failure", obs.StatusCode)
	}
	if obs.ServerName != "none/fail" {
		t.Fatalf("ServerName = %q, want none/fail", obs.ServerName)
	}
	if obs.Err == nil {
		t.Fatalf("expected Err to be set on transport failure")
	}
}

func TestDoOverridesHostHeader(t *testing.T) {
	var gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	client := NewClient(5 * time.Second)
	client.Do(context.Background(), Target{Method: "GET", URL: u, OverrideHost: "custom.example.com"}, rand.New(rand.NewSource(1)), nil)

	if gotHost != "custom.example.com" {
		t.Fatalf("Host = %q, want custom.example.com", gotHost)
	}
}

func TestPickBodyEmpty(t *testing.T) {
	body, n := pickBody(Target{}, rand.New(rand.NewSource(1)))
	if body != nil || n != 0 {
		t.Fatalf("expected nil body and 0 length for empty Bodies")
	}
}

func TestPickBodyGzips(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		_, n := pickBody(Target{Bodies: [][]byte{[]byte("payload")}}, rand.New(rand.NewSource(1)))
		if n != len("payload") {
			t.Fatalf("n = %d, want %d", n, len("payload"))
		}
	})
	t.Run("gzip", func(t *testing.T) {
		_, n := pickBody(Target{Bodies: [][]byte{[]byte("payload")}, GzipEnabled: true}, rand.New(rand.NewSource(1)))
		if n == 0 {
			t.Fatalf("expected non-zero gzip-encoded length")
		}
	})
}
