package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/inference-sim/coalescence-sim/sim"
	"github.com/inference-sim/coalescence-sim/sim/checkpoint"
	"github.com/inference-sim/coalescence-sim/sim/reporter"
	"github.com/inference-sim/coalescence-sim/sim/scenario"
	simtrace "github.com/inference-sim/coalescence-sim/sim/trace"
)

var (
	// CLI flags shared by run and resume
	logLevel     string  // Log verbosity level
	checkpointDB string  // Path of the sqlite checkpoint database
	pauseBefore  float64 // Pause the run before this simulation time
	metricsAddr  string  // Listen address for the Prometheus /metrics endpoint
	enableTrace  bool    // Export OpenTelemetry spans to stdout
	eventsOut    string  // Path of the JSON-lines event file
	traceLevel   string  // Which events to record (none, speciation, events)
	progress     bool    // Log remaining lineages periodically

	// CLI flags for run
	scenarioPath      string // Path to the YAML scenario
	seed              uint64 // Master seed, overrides the scenario
	strategy          string // Active lineage sampler, overrides the scenario
	partitions        int    // Number of partitions, overrides the scenario
	decompositionKind string // Habitat decomposition, overrides the scenario
	samplePercentage  float64

	// CLI flags for resume
	runID        string // Resume the latest checkpoint of this run
	checkpointID string // Resume this checkpoint
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "coalescence-sim",
	Short: "Spatially explicit coalescence simulator",
}

// runCmd simulates a scenario from its origin population
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a coalescence simulation",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		cfg, err := loadScenario(cmd)
		if err != nil {
			logrus.Fatalf("Invalid scenario: %v", err)
		}
		logrus.Infof("Starting %s simulation with seed=%d, partitions=%d", cfg.Strategy, cfg.Seed, cfg.Partitioning.Partitions)

		ctx := context.Background()
		shutdown := setupTracing()
		defer shutdown()
		opts, collector := runOptions(cmd)

		startTime := time.Now()
		out, err := scenario.Run(ctx, cfg, opts)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		if err := finish(ctx, out, collector, startTime); err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// resumeCmd continues a paused run from the checkpoint database
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused simulation from a checkpoint",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if runID == "" && checkpointID == "" {
			logrus.Fatalf("Either --run-id or --id is required")
		}

		ctx := context.Background()
		shutdown := setupTracing()
		defer shutdown()

		cp, err := findCheckpoint(ctx, checkpointDB, runID, checkpointID)
		if err != nil {
			logrus.Fatalf("Loading checkpoint: %v", err)
		}
		opts, collector := runOptions(cmd)
		opts.RunID = cp.RunID

		startTime := time.Now()
		out, err := scenario.Resume(ctx, cp, opts)
		if err != nil {
			logrus.Fatalf("Resume failed: %v", err)
		}
		if err := finish(ctx, out, collector, startTime); err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// checkpointsCmd lists stored checkpoints
var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List stored checkpoints",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if err := listCheckpoints(context.Background(), checkpointDB); err != nil {
			logrus.Fatalf("Listing checkpoints: %v", err)
		}
	},
}

func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// loadScenario reads the scenario file (or starts from defaults) and applies
// the flags that were set explicitly.
func loadScenario(cmd *cobra.Command) (*scenario.Config, error) {
	var cfg *scenario.Config
	if scenarioPath != "" {
		loaded, err := scenario.Load(scenarioPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &scenario.Config{}
		cfg.ApplyDefaults()
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *scenario.Config) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("strategy") {
		cfg.Strategy = scenario.Strategy(strategy)
	}
	if flags.Changed("partitions") {
		cfg.Partitioning.Partitions = partitions
	}
	if flags.Changed("decomposition") {
		cfg.Partitioning.Decomposition = decompositionKind
	}
	if flags.Changed("sample-percentage") {
		p := samplePercentage
		cfg.SamplePercentage = &p
	}
	if flags.Changed("pause-before") {
		t := pauseBefore
		cfg.PauseBefore = &t
	}
}

// runOptions builds the scenario options shared by run and resume. A
// Prometheus collector is created and served when --metrics-addr is set.
func runOptions(cmd *cobra.Command) (scenario.Options, *reporter.Collector) {
	if !simtrace.IsValidTraceLevel(traceLevel) {
		logrus.Fatalf("Invalid trace level: %s", traceLevel)
	}
	opts := scenario.Options{
		TraceLevel: simtrace.TraceLevel(traceLevel),
		Progress:   progress,
	}
	if eventsOut != "" && opts.TraceLevel == "" {
		opts.TraceLevel = simtrace.TraceLevelEvents
	}
	if cmd.Name() == "resume" && cmd.Flags().Changed("pause-before") {
		t := pauseBefore
		opts.PauseBefore = &t
	}
	if metricsAddr == "" {
		return opts, nil
	}

	collector, err := reporter.NewCollector(prometheus.NewRegistry())
	if err != nil {
		logrus.Fatalf("Registering metrics: %v", err)
	}
	opts.Collector = collector
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	go func() {
		logrus.Infof("Serving metrics on %s/metrics", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Warnf("Metrics server stopped: %v", err)
		}
	}()
	return opts, collector
}

// setupTracing installs a stdout span exporter when --trace is set and a
// no-op provider otherwise. The returned function flushes pending spans.
func setupTracing() func() {
	if !enableTrace {
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		return func() {}
	}
	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stdout),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		logrus.Fatalf("Creating trace exporter: %v", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logrus.Warnf("Tracing shutdown failed: %v", err)
		}
	}
}

// finish prints the run metrics, writes the event file and stores the
// checkpoint of a paused run.
func finish(ctx context.Context, out *scenario.Outcome, collector *reporter.Collector, startTime time.Time) error {
	out.Metrics.Print(startTime)

	if eventsOut != "" {
		events := out.Events()
		if err := writeEvents(eventsOut, events); err != nil {
			return err
		}
		logrus.Infof("Wrote %d events to %s", len(events), eventsOut)
	}

	if !out.Paused() {
		return nil
	}
	id, err := saveCheckpoint(ctx, checkpointDB, out.Checkpoint)
	if err != nil {
		return err
	}
	collector.IncCheckpoints()
	fmt.Printf("Paused run %s with %d lineages left; checkpoint %s\n", out.RunID, out.Checkpoint.Remaining(), id)
	return nil
}

func writeEvents(path string, events []sim.Event) (retErr error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating event file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()
	if err := simtrace.WriteJSONLines(f, events); err != nil {
		return fmt.Errorf("writing events: %w", err)
	}
	return nil
}

func saveCheckpoint(ctx context.Context, path string, cp *checkpoint.Checkpoint) (string, error) {
	store, err := checkpoint.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()
	return store.Save(ctx, cp)
}

// findCheckpoint loads a checkpoint by ID, or the latest one of a run.
func findCheckpoint(ctx context.Context, path, run, id string) (*checkpoint.Checkpoint, error) {
	store, err := checkpoint.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	if id != "" {
		return store.Load(ctx, id)
	}
	return store.Latest(ctx, run)
}

func listCheckpoints(ctx context.Context, path string) error {
	store, err := checkpoint.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	summaries, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		fmt.Printf("%s  run=%s  pause_before=%g  remaining=%d  created=%s\n",
			s.ID, s.RunID, s.PauseBefore, s.Remaining, s.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd, checkpointsCmd} {
		c.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().StringVar(&checkpointDB, "checkpoint-db", "checkpoints.db", "Path of the sqlite checkpoint database")
	}
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().Float64Var(&pauseBefore, "pause-before", 0, "Pause before this simulation time and store a checkpoint")
		c.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
		c.Flags().BoolVar(&enableTrace, "trace", false, "Export OpenTelemetry spans to stdout")
		c.Flags().StringVar(&eventsOut, "events-out", "", "Write events as JSON lines to this file")
		c.Flags().StringVar(&traceLevel, "trace-level", "", "Events to record: none, speciation, events")
		c.Flags().BoolVar(&progress, "progress", false, "Log the number of remaining lineages periodically")
	}

	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to a YAML scenario (defaults apply when empty)")
	runCmd.Flags().Uint64Var(&seed, "seed", 42, "Master seed for all random streams")
	runCmd.Flags().StringVar(&strategy, "strategy", string(scenario.StrategyGillespie), "Active lineage sampler: classical, gillespie, independent")
	runCmd.Flags().IntVar(&partitions, "partitions", 1, "Number of partitions")
	runCmd.Flags().StringVar(&decompositionKind, "decomposition", "modulo", "Habitat decomposition: monolithic, modulo, radial, equal-area")
	runCmd.Flags().Float64Var(&samplePercentage, "sample-percentage", 1, "Fraction of individuals sampled as origin lineages")

	resumeCmd.Flags().StringVar(&runID, "run-id", "", "Resume the latest checkpoint of this run")
	resumeCmd.Flags().StringVar(&checkpointID, "id", "", "Resume this checkpoint")

	rootCmd.AddCommand(runCmd, resumeCmd, checkpointsCmd)
}
