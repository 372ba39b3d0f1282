// Package types holds the wire-level shapes shared between the load
// generator and the external document-store Sink.
//
// # Design Principles
//
// 1. These types describe bytes on the wire, not in-process state — the
//    kernel's own Observation (internal/observation) is the source of
//    truth; this package only knows how to flatten one into the Sink's
//    bulk-index document schema.
// 2. Every field that the Sink schema marks optional carries `omitempty`
//    so that a transport failure (which leaves most fields zero) does not
//    synthesize misleading zero values downstream.
package types

import "time"

// IndexDirective is the first line of a bulk-index pair: it tells the Sink
// which index to place the following document in and under what id.
type IndexDirective struct {
	Index IndexMeta `json:"index"`
}

// IndexMeta carries the per-document identifier and target index name.
type IndexMeta struct {
	ID    string `json:"_id"`
	Index string `json:"_index"`
}

// SinkDocument is the flat JSON document shipped for one Observation.
type SinkDocument struct {
	Timestamp  time.Time      `json:"@timestamp"`
	Experiment ExperimentMeta `json:"experiment"`
	Server     ServerMeta     `json:"server"`
	Response   ResponseMeta   `json:"response"`
	Request    RequestMeta    `json:"request"`
}

// ExperimentMeta identifies the run and the scheduler state snapshot at
// submission time.
type ExperimentMeta struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Worker map[string]any `json:"worker,omitempty"`
}

// ServerMeta carries the responding server's self-reported identity.
type ServerMeta struct {
	Name    string `json:"name"`
	Proxied bool   `json:"proxied"`
}

// ResponseMeta captures the outcome of one request attempt.
type ResponseMeta struct {
	StatusCode    int                 `json:"status_code"`
	DurationUs    int64               `json:"duration"`
	ContentLength int64               `json:"content_length"`
	Headers       map[string][]string `json:"headers,omitempty"`
}

// RequestMeta describes the request as sent.
type RequestMeta struct {
	URL     string              `json:"url"`
	Port    string              `json:"port,omitempty"`
	Scheme  string              `json:"scheme"`
	Headers map[string][]string `json:"headers,omitempty"`
}
