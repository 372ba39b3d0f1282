// Command loadgen drives an HTTP load test against a target URL, pacing
// requests with one of several arrival-process strategies and streaming
// per-request observations to a document-store sink.
//
// # Usage
//
//	loadgen --with-poisson -n 10000 --max-throughput 200 --elastic-host https://search.example.com https://api.example.com/health
//
// # Configuration
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (LOADGEN_*)
//   - Config file (--config)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pilot-net/loadgen/internal/aggregate"
	"github.com/pilot-net/loadgen/internal/clock"
	"github.com/pilot-net/loadgen/internal/config"
	"github.com/pilot-net/loadgen/internal/hoststats"
	"github.com/pilot-net/loadgen/internal/httpexec"
	"github.com/pilot-net/loadgen/internal/observation"
	"github.com/pilot-net/loadgen/internal/pool"
	"github.com/pilot-net/loadgen/internal/runstate"
	"github.com/pilot-net/loadgen/internal/scheduler"
	"github.com/pilot-net/loadgen/internal/secrets"
	"github.com/pilot-net/loadgen/internal/sink"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()

	var (
		configFile     = flag.String("config", "", "path to YAML config file")
		byCount        = flag.Int64("n", 0, "number of requests to issue")
		byTime         = flag.Duration("t", 0, "duration to run for")
		method         = flag.String("method", cfg.Method, "HTTP method (GET or POST)")
		body           = flag.String("body", "", "request body, or comma-separated list of bodies; @path reads a body from a file")
		bodyType       = flag.String("body-type", "", "Content-Type for the request body")
		host           = flag.String("host", "", "override Host header")
		gzipEnabled    = flag.Bool("gzip", false, "gzip-compress the request body")
		runnerID       = flag.String("runner-id", "", "runner identifier (default: random uuid)")
		experimentID   = flag.String("experiment-id", "", "experiment identifier (default: random uuid)")
		withWorkers    = flag.Bool("with-workers", false, "fixed-concurrency scheduler")
		withPoisson    = flag.Bool("with-poisson", false, "poisson arrival process")
		withPoissonVar = flag.Bool("with-poisson-variable", false, "poisson arrival process with variable throughput")
		withSustained  = flag.Bool("with-poisson-sustained", false, "closed-loop sustained-rate poisson scheduler")
		withLinear     = flag.Bool("with-poisson-linear-increase", false, "open-loop linear throughput ramp")
		concurrency    = flag.Int("c", cfg.Concurrency, "fixed worker concurrency (workers strategy)")
		delay          = flag.Duration("d", 0, "think-time pause between requests (workers strategy)")
		seed           = flag.Int64("seed", cfg.Seed, "RNG seed")
		maxThroughput  = flag.Float64("max-throughput", cfg.MaxThroughput, "target requests/sec (poisson strategies)")
		maxConcurrency = flag.Int("max-concurrency", cfg.MaxConcurrency, "concurrency ceiling, -1 for unbounded")
		minThroughput  = flag.Float64("min-throughput", 0, "starting requests/sec (linear-increase)")
		tStart         = flag.String("t-start", cfg.TStart, "ramp start, absolute or NN% of budget")
		tEnd           = flag.String("t-end", cfg.TEnd, "ramp end, absolute or NN% of budget")
		graph          = flag.Bool("graph", false, "print ASCII response-time histograms")
		graphWidth     = flag.Int("graph-width", cfg.GraphWidth, "histogram width in columns")
		graphHeight    = flag.Int("graph-height", cfg.GraphHeight, "histogram height in rows")
		outputResponse = flag.Bool("output-response", false, "print the last response's status and headers")
		hostStatsFlag  = flag.Bool("host-stats", false, "sample and report this process's own CPU/memory usage")
		elasticHost    = flag.String("elastic-host", "", "document store base URL (required)")
		elasticUser    = flag.String("elastic-user", "", "document store basic-auth user")
		elasticPass    = flag.String("elastic-password", "", "document store basic-auth password, or op:// reference")
		elasticBuffer  = flag.String("elastic-buffer-url", "", "optional redis:// write-ahead buffer in front of the sink")
		logJSON        = flag.Bool("log-json", false, "emit structured JSON logs instead of text")
		version        = flag.Bool("version", false, "print version and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <url>\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Println("loadgen 0.1.0")
		return 0
	}

	logger := newLogger(*logJSON)

	if *configFile != "" {
		if err := config.LoadFileSeed(cfg, *configFile); err != nil {
			logger.Error("failed to load config file", "error", err)
			return 1
		}
	}
	config.ApplyEnvOverrides(cfg)

	// Flags left unset must not undo what the config file already seeded.
	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	keep := func(name string, apply func()) {
		if !explicit[name] {
			apply()
		}
	}
	keep("method", func() { *method = cfg.Method })
	keep("c", func() { *concurrency = cfg.Concurrency })
	keep("d", func() { *delay = cfg.Delay })
	keep("seed", func() { *seed = cfg.Seed })
	keep("max-throughput", func() { *maxThroughput = cfg.MaxThroughput })
	keep("max-concurrency", func() { *maxConcurrency = cfg.MaxConcurrency })
	keep("graph-width", func() { *graphWidth = cfg.GraphWidth })
	keep("graph-height", func() { *graphHeight = cfg.GraphHeight })

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "exactly one positional argument (the target url) is required")
		flag.Usage()
		return 1
	}
	target, err := url.Parse(flag.Arg(0))
	if err != nil {
		logger.Error("invalid target url", "error", err)
		return 1
	}
	cfg.TargetURL = target

	if err := applyFlagOverrides(cfg, flagOverrides{
		byCount: *byCount, byTime: *byTime, method: *method, body: *body,
		bodyType: *bodyType, host: *host, gzipEnabled: *gzipEnabled,
		runnerID: *runnerID, experimentID: *experimentID,
		withWorkers: *withWorkers, withPoisson: *withPoisson, withPoissonVar: *withPoissonVar,
		withSustained: *withSustained, withLinear: *withLinear,
		concurrency: *concurrency, delay: *delay, seed: *seed,
		maxThroughput: *maxThroughput, maxConcurrency: *maxConcurrency,
		minThroughput: *minThroughput, tStart: *tStart, tEnd: *tEnd,
		graph: *graph, graphWidth: *graphWidth, graphHeight: *graphHeight,
		outputResponse: *outputResponse, hostStats: *hostStatsFlag,
		elasticHost: *elasticHost, elasticUser: *elasticUser, elasticPass: *elasticPass,
		elasticBuffer: *elasticBuffer,
	}); err != nil {
		logger.Error("invalid flags", "error", err)
		return 1
	}

	if cfg.RunnerID == "" {
		cfg.RunnerID = clock.NewRunnerID()
	}
	if cfg.ExperimentID == "" {
		cfg.ExperimentID = clock.NewExperimentID()
	}

	resolver := secrets.NewResolver()
	if resolved, err := resolver.Resolve(cfg.ElasticUser); err != nil {
		logger.Error("resolving elastic-user", "error", err)
		return 1
	} else {
		cfg.ElasticUser = resolved
	}
	if resolved, err := resolver.Resolve(cfg.ElasticPassword); err != nil {
		logger.Error("resolving elastic-password", "error", err)
		return 1
	} else {
		cfg.ElasticPassword = resolved
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting load run",
		"runner_id", cfg.RunnerID,
		"experiment_id", cfg.ExperimentID,
		"strategy", cfg.Strategy,
		"target", cfg.TargetURL.String())

	result, obsBuf, err := executeRun(ctx, cfg, logger)
	if err != nil {
		logger.Error("run failed", "error", err)
		return 1
	}

	elapsed := result.TotalEndTime.Sub(result.TotalStartTime)
	summary := aggregate.Summarize(obsBuf, elapsed)
	fmt.Println()
	fmt.Printf("Time taken:          %.2f seconds\n", elapsed.Seconds())
	fmt.Print(summary.Report())

	if cfg.Graph {
		fmt.Println()
		fmt.Println(aggregate.Histogram("Response time graph:", summary.SubmitOrderTimes(), cfg.GraphWidth, cfg.GraphHeight))
		fmt.Println(aggregate.Histogram("Response time graph (ordered):", summary.ServiceTimes(), cfg.GraphWidth, cfg.GraphHeight))
	}

	if cfg.OutputResponse && len(obsBuf) > 0 {
		last := obsBuf[len(obsBuf)-1]
		fmt.Println()
		fmt.Println("Last response:")
		fmt.Printf("status = %d\n", last.StatusCode)
		fmt.Printf("headers = %v\n", last.ResponseHeaders)
	}

	logger.Info("load run complete",
		"completed", summary.Completed,
		"failed", summary.Failed,
		"req_per_sec", summary.ReqPerSec)

	return 0
}

// executeRun wires together the pool, sink, scheduler, and optional host
// stats sampler for one run and returns once the scheduler has drained.
func executeRun(ctx context.Context, cfg *config.RunConfig, logger *slog.Logger) (observation.RunResult, []observation.Observation, error) {
	state := runstate.New(cfg.Termination.ByCount)

	httpTarget := httpexec.Target{
		Method:       cfg.Method,
		URL:          cfg.TargetURL,
		OverrideHost: cfg.OverrideHost,
		Bodies:       cfg.Bodies,
		BodyType:     cfg.BodyType,
		GzipEnabled:  cfg.GzipEnabled,
	}
	client := httpexec.NewClient(30 * time.Second)

	var wal *sink.WALBuffer
	if cfg.ElasticBufferURL != "" {
		var err error
		wal, err = sink.NewWALBuffer(cfg.ElasticBufferURL, logger)
		if err != nil {
			return observation.RunResult{}, nil, fmt.Errorf("connecting write-ahead buffer: %w", err)
		}
		defer wal.Close()
	}

	sk := sink.New(sink.Config{
		Endpoint:     cfg.ElasticHost,
		User:         cfg.ElasticUser,
		Password:     cfg.ElasticPassword,
		ExperimentID: cfg.ExperimentID,
		Logger:       logger,
		WAL:          wal,
	})
	go sk.Run(ctx)
	defer sk.Stop()

	var (
		obsMu sync.Mutex
		obsBuf []observation.Observation
	)
	handler := func(o observation.Observation) {
		sk.Add(o)
		obsMu.Lock()
		obsBuf = append(obsBuf, o)
		obsMu.Unlock()
	}

	// Only the workers strategy pauses between requests.
	var workerDelay time.Duration
	if cfg.Strategy == config.StrategyWorkers {
		workerDelay = cfg.Delay
	}

	p := pool.New(pool.Config{
		Target:   httpTarget,
		Client:   client,
		State:    state,
		Handler:  handler,
		Seed:     cfg.Seed,
		RunnerID: cfg.RunnerID,
		Delay:    workerDelay,
		Heartbeat: func() {
			fmt.Fprint(os.Stdout, ".")
		},
	})

	var sampler *hoststats.Sampler
	if cfg.HostStats {
		sampler = hoststats.New()
		go sampler.Run(ctx)
	}

	budget := cfg.Termination.ByTime
	go scheduler.RunTimeoutDaemon(ctx, budget, state.Stop)

	sch, err := scheduler.New(scheduler.Deps{Pool: p, State: state, Cfg: cfg})
	if err != nil {
		p.Shutdown(true)
		return observation.RunResult{}, nil, fmt.Errorf("building scheduler: %w", err)
	}

	result, err := sch.Run(ctx)
	if err != nil {
		p.Shutdown(true)
		return observation.RunResult{}, nil, fmt.Errorf("running scheduler: %w", err)
	}

	// sch.Run returns as soon as Stop is asserted, but requests already
	// in flight may still be executing and appending to obsBuf via
	// handler — drain the pool before reading it back.
	p.Shutdown(false)

	if sampler != nil {
		cpu, mem := sampler.Mean()
		fmt.Printf("\nHost CPU/memory:     %.2f%% / %.2f MB (mean)\n", cpu, mem)
	}

	sk.Flush()
	return result, obsBuf, nil
}

// flagOverrides holds every flag value that may override cfg; kept as one
// struct so run()'s flag block and applyFlagOverrides don't have to agree
// on a long positional parameter list.
type flagOverrides struct {
	byCount int64
	byTime  time.Duration

	method, body, bodyType, host string
	gzipEnabled                  bool

	runnerID, experimentID string

	withWorkers, withPoisson, withPoissonVar, withSustained, withLinear bool

	concurrency int
	delay       time.Duration

	seed           int64
	maxThroughput  float64
	maxConcurrency int

	minThroughput float64
	tStart, tEnd  string

	graph                     bool
	graphWidth, graphHeight   int
	outputResponse, hostStats bool

	elasticHost, elasticUser, elasticPass, elasticBuffer string
}

// applyFlagOverrides merges the parsed flag values onto cfg, flags always
// winning over whatever the config file or defaults already set. Exactly
// one of the five strategy flags must be given — the Go equivalent of the
// original's required argparse mutually-exclusive group.
func applyFlagOverrides(cfg *config.RunConfig, f flagOverrides) error {
	if f.byCount > 0 {
		cfg.Termination.ByCount = f.byCount
	}
	if f.byTime > 0 {
		cfg.Termination.ByTime = f.byTime
	}
	cfg.Method = f.method
	if f.body != "" {
		for _, b := range strings.Split(f.body, ",") {
			if strings.HasPrefix(b, "@") {
				data, err := os.ReadFile(strings.TrimPrefix(b, "@"))
				if err != nil {
					return fmt.Errorf("reading body file: %w", err)
				}
				cfg.Bodies = append(cfg.Bodies, data)
				continue
			}
			cfg.Bodies = append(cfg.Bodies, []byte(b))
		}
	}
	if f.bodyType != "" {
		cfg.BodyType = f.bodyType
	}
	if f.host != "" {
		cfg.OverrideHost = f.host
	}
	cfg.GzipEnabled = cfg.GzipEnabled || f.gzipEnabled
	if f.runnerID != "" {
		cfg.RunnerID = f.runnerID
	}
	if f.experimentID != "" {
		cfg.ExperimentID = f.experimentID
	}

	strategyFlags := []struct {
		set      bool
		strategy config.Strategy
	}{
		{f.withWorkers, config.StrategyWorkers},
		{f.withPoisson, config.StrategyPoisson},
		{f.withPoissonVar, config.StrategyPoissonVariable},
		{f.withSustained, config.StrategyPoissonSustained},
		{f.withLinear, config.StrategyPoissonLinearIncr},
	}
	chosen := 0
	for _, sf := range strategyFlags {
		if sf.set {
			chosen++
			cfg.Strategy = sf.strategy
		}
	}
	if chosen != 1 {
		return fmt.Errorf("exactly one of --with-workers, --with-poisson, --with-poisson-variable, --with-poisson-sustained, or --with-poisson-linear-increase is required, got %d", chosen)
	}

	cfg.Concurrency = f.concurrency
	cfg.Delay = f.delay
	cfg.Seed = f.seed
	cfg.MaxThroughput = f.maxThroughput
	cfg.MaxConcurrency = f.maxConcurrency
	if f.minThroughput > 0 {
		cfg.MinThroughput = f.minThroughput
	}
	cfg.TStart = f.tStart
	cfg.TEnd = f.tEnd
	cfg.Graph = f.graph
	cfg.GraphWidth = f.graphWidth
	cfg.GraphHeight = f.graphHeight
	cfg.OutputResponse = f.outputResponse
	cfg.HostStats = f.hostStats
	if f.elasticHost != "" {
		cfg.ElasticHost = f.elasticHost
	}
	if f.elasticUser != "" {
		cfg.ElasticUser = f.elasticUser
	}
	if f.elasticPass != "" {
		cfg.ElasticPassword = f.elasticPass
	}
	if f.elasticBuffer != "" {
		cfg.ElasticBufferURL = f.elasticBuffer
	}
	return nil
}

func newLogger(jsonOutput bool) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
