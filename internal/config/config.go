// Package config builds and validates a RunConfig from flags, an optional
// YAML seed file, and environment overrides.
//
// # Configuration Sources
//
// Configuration is assembled from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (LOADGEN_*)
// 3. Config file (YAML, --config)
// 4. Defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy selects which concrete scheduler a run uses.
type Strategy string

const (
	StrategyWorkers           Strategy = "workers"
	StrategyPoisson           Strategy = "poisson"
	StrategyPoissonVariable   Strategy = "poisson-variable"
	StrategyPoissonSustained  Strategy = "poisson-sustained"
	StrategyPoissonLinearIncr Strategy = "poisson-linear-increase"
)

// Termination holds the mutually-exclusive by-count/by-time budget.
type Termination struct {
	ByCount int64
	ByTime  time.Duration
}

// ByTimeOnly reports whether termination is purely time-based.
func (t Termination) ByTimeOnly() bool {
	return t.ByCount <= 0 && t.ByTime > 0
}

// RunConfig is the immutable, fully-resolved configuration for one run —
// the Go shape of spec.md §3's RunConfig.
type RunConfig struct {
	RunnerID     string
	ExperimentID string

	TargetURL    *url.URL
	Method       string
	OverrideHost string

	Bodies      [][]byte
	BodyType    string
	GzipEnabled bool

	Termination Termination

	Strategy Strategy

	// Workers group
	Concurrency int
	Delay       time.Duration

	// Poisson group
	Seed           int64
	MaxThroughput  float64
	MaxConcurrency int // -1 => unbounded (2^20)

	// Linear-increase group
	MinThroughput float64
	TStart        string
	TEnd          string

	// Reporting
	Graph          bool
	GraphWidth     int
	GraphHeight    int
	OutputResponse bool
	HostStats      bool

	// Sink
	ElasticHost     string
	ElasticUser     string
	ElasticPassword string
	ElasticBufferURL string // optional redis:// WAL in front of the sink

	LogJSON bool
}

// fileSeed is the subset of RunConfig that may be seeded from a YAML file;
// flags always take precedence over it.
type fileSeed struct {
	Method         string        `yaml:"method"`
	Host           string        `yaml:"host"`
	BodyType       string        `yaml:"body_type"`
	Gzip           bool          `yaml:"gzip"`
	Concurrency    int           `yaml:"concurrency"`
	Delay          time.Duration `yaml:"delay"`
	Seed           int64         `yaml:"seed"`
	MaxThroughput  float64       `yaml:"max_throughput"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	MinThroughput  float64       `yaml:"min_throughput"`
	GraphWidth     int           `yaml:"graph_width"`
	GraphHeight    int           `yaml:"graph_height"`
	ElasticHost    string        `yaml:"elastic_host"`
	ElasticUser    string        `yaml:"elastic_user"`
	ElasticBuffer  string        `yaml:"elastic_buffer_url"`
}

// Default returns a RunConfig with spec.md §6's documented flag defaults.
func Default() *RunConfig {
	return &RunConfig{
		Method:         "GET",
		Strategy:       StrategyWorkers,
		Concurrency:    1,
		Seed:           42,
		MaxThroughput:  1,
		MaxConcurrency: -1,
		MinThroughput:  0,
		TStart:         "0%",
		TEnd:           "100%",
		GraphWidth:     120,
		GraphHeight:    20,
	}
}

// LoadFileSeed reads a YAML file and applies it on top of cfg, returning
// the (still-flag-overridable) merged config.
func LoadFileSeed(cfg *RunConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var seed fileSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if seed.Method != "" {
		cfg.Method = seed.Method
	}
	if seed.Host != "" {
		cfg.OverrideHost = seed.Host
	}
	if seed.BodyType != "" {
		cfg.BodyType = seed.BodyType
	}
	cfg.GzipEnabled = cfg.GzipEnabled || seed.Gzip
	if seed.Concurrency > 0 {
		cfg.Concurrency = seed.Concurrency
	}
	if seed.Delay > 0 {
		cfg.Delay = seed.Delay
	}
	if seed.Seed != 0 {
		cfg.Seed = seed.Seed
	}
	if seed.MaxThroughput > 0 {
		cfg.MaxThroughput = seed.MaxThroughput
	}
	if seed.MaxConcurrency != 0 {
		cfg.MaxConcurrency = seed.MaxConcurrency
	}
	if seed.MinThroughput > 0 {
		cfg.MinThroughput = seed.MinThroughput
	}
	if seed.GraphWidth > 0 {
		cfg.GraphWidth = seed.GraphWidth
	}
	if seed.GraphHeight > 0 {
		cfg.GraphHeight = seed.GraphHeight
	}
	if seed.ElasticHost != "" {
		cfg.ElasticHost = seed.ElasticHost
	}
	if seed.ElasticUser != "" {
		cfg.ElasticUser = seed.ElasticUser
	}
	if seed.ElasticBuffer != "" {
		cfg.ElasticBufferURL = seed.ElasticBuffer
	}
	return nil
}

// ApplyEnvOverrides applies LOADGEN_* environment variable overrides.
func ApplyEnvOverrides(cfg *RunConfig) {
	if v := os.Getenv("LOADGEN_ELASTIC_HOST"); v != "" {
		cfg.ElasticHost = v
	}
	if v := os.Getenv("LOADGEN_ELASTIC_USER"); v != "" {
		cfg.ElasticUser = v
	}
	if v := os.Getenv("LOADGEN_ELASTIC_PASSWORD"); v != "" {
		cfg.ElasticPassword = v
	}
}

// Validate fails fast on the mutually-exclusive CLI surface described in
// spec.md §6, and on the invalid-configuration cases §7 requires to be
// caught before the run starts.
func (c *RunConfig) Validate() error {
	if c.TargetURL == nil {
		return fmt.Errorf("target url is required")
	}
	if c.Termination.ByCount <= 0 && c.Termination.ByTime <= 0 {
		return fmt.Errorf("exactly one of -n or -t is required")
	}
	if c.Termination.ByCount > 0 && c.Termination.ByTime > 0 {
		return fmt.Errorf("-n and -t are mutually exclusive")
	}
	if c.Method != "GET" && c.Method != "POST" {
		return fmt.Errorf("method must be GET or POST, got %q", c.Method)
	}
	switch c.Strategy {
	case StrategyWorkers, StrategyPoisson, StrategyPoissonVariable,
		StrategyPoissonSustained, StrategyPoissonLinearIncr:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.Strategy == StrategyWorkers && c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Strategy != StrategyWorkers && c.MaxThroughput <= 0 {
		return fmt.Errorf("max-throughput must be positive")
	}
	if c.Strategy == StrategyPoissonLinearIncr {
		if c.MinThroughput <= 0 {
			return fmt.Errorf("min-throughput must be positive for linear-increase")
		}
		if strings.TrimSpace(c.TStart) == "" || strings.TrimSpace(c.TEnd) == "" {
			return fmt.Errorf("t-start and t-end are required for linear-increase")
		}
	}
	if c.ElasticHost == "" {
		return fmt.Errorf("elastic-host is required")
	}
	return nil
}

// EffectiveMaxConcurrency returns spec.md §4.5's "else 2^20" default.
func (c *RunConfig) EffectiveMaxConcurrency() int {
	if c.MaxConcurrency <= 0 {
		return 1 << 20
	}
	return c.MaxConcurrency
}
