package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/updohilo/updohilo/pkg/config"
	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/pipeline"
	"github.com/updohilo/updohilo/pkg/stores"
	"github.com/updohilo/updohilo/pkg/telemetry"
)

// runFlags are the run overrides of the pipeline definition.
type runFlags struct {
	anchor        string
	target        string
	box           string
	candidate     string
	dryRun        bool
	delay         time.Duration
	maxRetries    int
	chunkSize     int
	base          string
	endpoint      string
	db            string
	metricsAddr   string
	trace         string
	traceEndpoint string
	policies      []string
	threshold     float64
	watch         bool
	interval      time.Duration
}

func newRunCommand() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the docking pipeline",
		Long: `Run the default pipeline once:

  nodeDown   fetch anchor, target and box
  nodeLow    generate a candidate from [anchor, target]
  nodeUp     publish the candidate to <dir>/<timestamp>/candidate.smi
  nodeHigh   dock [candidate, target, box] beside the candidate
  nodeDown2  fetch the docking and pose artifacts
  nodeLow2   compute the retry verdict; retry from nodeLow while it is true

Flags override the pipeline definition given with --config.
With --watch the pipeline runs every --interval until interrupted and the
verdict policies reload when their files change.`,
		Example: `  # Dry run with the default seeds
  updohilo run --dry-run --delay 100ms

  # Run against a bucket served over sftp
  updohilo run -c pipeline.cue --base sftp://storage/bucket

  # Rego verdict with run history
  updohilo run --verdict-policy ./policies --db runs.db

  # Expose Prometheus metrics and export traces
  updohilo run --metrics-addr :9090 --trace stdout`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg, f); err != nil {
				return err
			}
			if err := config.NewLoader().Validate(ctx, cfg); err != nil {
				return err
			}

			telCfg, err := telemetryConfig(f)
			if err != nil {
				return err
			}
			tel, err := telemetry.NewTelemetry(telCfg)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
					zl := tel.Logger.Zerolog()
					zl.Warn().Err(err).Msg("Telemetry shutdown failed")
				}
			}()
			ctx = tel.WithContext(ctx)
			if err := tel.StartMetricsServer(); err != nil {
				return err
			}

			op := telemetry.StartCommand(ctx, "run",
				attribute.String("pipeline.name", cfg.Name),
				attribute.Bool("pipeline.dry_run", cfg.Run.DryRun),
				attribute.Bool("pipeline.watch", f.watch),
			)
			err = execute(op.Ctx, cmd.OutOrStdout(), cfg, f, tel)
			op.End(err)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.anchor, "anchor", "", "anchor location")
	flags.StringVar(&f.target, "target", "", "target location")
	flags.StringVar(&f.box, "box", "", "box location")
	flags.StringVar(&f.candidate, "candidate", "", "fixed candidate publish location (default: timestamped)")
	flags.BoolVar(&f.dryRun, "dry-run", false, "simulate transport I/O")
	flags.DurationVar(&f.delay, "delay", engine.DefaultDryRunDelay, "simulated latency per transport call in dry-run mode")
	flags.IntVar(&f.maxRetries, "max-retries", engine.DefaultMaxRetries, "retry limit; negative disables the retry edge")
	flags.IntVar(&f.chunkSize, "chunk-size", engine.DefaultChunkSize, "records per coordinate chunk")
	flags.StringVar(&f.base, "base", "", "base joined to bare locations, e.g. https://host/bucket")
	flags.StringVar(&f.endpoint, "endpoint", "", "docking endpoint URL (default: local stand-in)")
	flags.StringVar(&f.db, "db", "", "run history database")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&f.trace, "trace", "", "trace exporter: stdout or otlp")
	flags.StringVar(&f.traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP collector endpoint")
	flags.StringSliceVar(&f.policies, "verdict-policy", nil, "Rego policy files or directories for the retry verdict")
	flags.Float64Var(&f.threshold, "threshold", 0, "affinity threshold passed to the verdict policies")
	flags.BoolVar(&f.watch, "watch", false, "run repeatedly and reload verdict policies on change")
	flags.DurationVar(&f.interval, "interval", 30*time.Second, "pause between runs with --watch")

	return cmd
}

// applyRunFlags overrides cfg with the flags set on cmd.
func applyRunFlags(cmd *cobra.Command, cfg *config.PipelineConfig, f runFlags) error {
	changed := cmd.Flags().Changed

	if changed("anchor") {
		cfg.Seeds.Anchor = f.anchor
	}
	if changed("target") {
		cfg.Seeds.Target = f.target
	}
	if changed("box") {
		cfg.Seeds.Box = f.box
	}
	if changed("candidate") {
		cfg.Seeds.Candidate = f.candidate
	}
	if changed("dry-run") {
		cfg.Run.DryRun = f.dryRun
	}
	if changed("delay") {
		cfg.Run.Delay = config.Duration(f.delay)
	}
	if changed("max-retries") {
		cfg.Run.MaxRetries = f.maxRetries
	}
	if changed("chunk-size") {
		cfg.Run.ChunkSize = f.chunkSize
	}
	if changed("base") {
		cfg.Transport.Base = f.base
	}
	if changed("endpoint") {
		cfg.Remote.Endpoint = f.endpoint
	}
	if changed("db") {
		cfg.History.Path = f.db
	}
	if changed("verdict-policy") {
		cfg.Policy.Enabled = true
		cfg.Policy.Paths = f.policies
	}
	if changed("threshold") {
		cfg.Policy.Enabled = true
		threshold := f.threshold
		cfg.Policy.Threshold = &threshold
	}
	if f.watch && cfg.Policy.Enabled && len(cfg.Policy.Paths) > 0 {
		cfg.Policy.Watch = true
	}
	if f.watch && f.interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", f.interval)
	}
	return nil
}

// telemetryConfig builds the telemetry settings from the environment and
// the flags, in that order.
func telemetryConfig(f runFlags) (*telemetry.Config, error) {
	cfg := telemetry.DefaultConfig()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if f.trace != "" {
		cfg.Tracing.Enabled = f.trace != telemetry.ExporterNone
		cfg.Tracing.Exporter = f.trace
		cfg.Tracing.Endpoint = f.traceEndpoint
		cfg.Tracing.Insecure = true
		cfg.Tracing.SamplingRate = 1.0
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = f.metricsAddr
	}
	return cfg, nil
}

// execute assembles the pipeline and runs it once, or repeatedly with --watch.
func execute(ctx context.Context, w io.Writer, cfg *config.PipelineConfig, f runFlags, tel *telemetry.Telemetry) error {
	p, err := pipeline.Assemble(ctx, cfg, tel.Logger.Zerolog(), tel.Metrics)
	if err != nil {
		return err
	}
	defer p.Close(context.WithoutCancel(ctx))

	if f.watch {
		return runLoop(ctx, w, p, f.interval, tel.Logger.Zerolog())
	}
	return runOnce(ctx, w, p)
}

func runOnce(ctx context.Context, w io.Writer, p *pipeline.Pipeline) error {
	result, err := p.Run(ctx)
	if result != nil {
		if rerr := render(w, summarize(result)); rerr != nil {
			return errors.Join(err, rerr)
		}
	}
	return err
}

// runLoop runs p every interval until ctx is cancelled. Run failures are
// logged and do not stop the loop.
func runLoop(ctx context.Context, w io.Writer, p *pipeline.Pipeline, interval time.Duration, logger zerolog.Logger) error {
	for round := 1; ; round++ {
		if err := runOnce(ctx, w, p); err != nil {
			logger.Warn().Err(err).Int("round", round).Msg("Run failed")
		}

		select {
		case <-ctx.Done():
			logger.Info().Int("rounds", round).Msg("Watch stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

// runSummary is the printed outcome of a run. Slot values are omitted.
type runSummary struct {
	RunID      string              `json:"run_id" yaml:"run_id"`
	Status     engine.RunStatus    `json:"status" yaml:"status"`
	Iterations int                 `json:"iterations" yaml:"iterations"`
	Duration   string              `json:"duration" yaml:"duration"`
	Failure    *engine.Failure     `json:"failure,omitempty" yaml:"failure,omitempty"`
	Slots      []stores.SlotRecord `json:"slots" yaml:"slots"`
}

func summarize(result *engine.RunResult) runSummary {
	s := runSummary{
		RunID:      result.RunID,
		Status:     result.Status,
		Iterations: result.Iterations,
		Duration:   result.CompletedAt.Sub(result.StartedAt).Round(time.Millisecond).String(),
		Failure:    result.Failure,
	}

	keys := make([]string, 0, len(result.Store))
	for key := range result.Store {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		item := result.Store[key]
		s.Slots = append(s.Slots, stores.SlotRecord{Key: key, Location: item.Location, Populated: item.Populated})
	}
	return s
}
