package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/updohilo/updohilo/pkg/config"
	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/morphisms"
	"github.com/updohilo/updohilo/pkg/policy"
	"github.com/updohilo/updohilo/pkg/remote"
	"github.com/updohilo/updohilo/pkg/stores"
	"github.com/updohilo/updohilo/pkg/telemetry"
	"github.com/updohilo/updohilo/pkg/transports"
	"github.com/updohilo/updohilo/pkg/transports/fs"
	"github.com/updohilo/updohilo/pkg/transports/httpx"
	"github.com/updohilo/updohilo/pkg/transports/sftp"
)

// Pipeline is a pipeline definition wired to its collaborators.
type Pipeline struct {
	Config    *config.PipelineConfig
	Seeds     Seeds
	RunConfig engine.RunConfig

	// Registry holds the built-in morphisms, the plugins and, when enabled,
	// the policy verdict.
	Registry *morphisms.Registry

	// Transport serves every location of a run.
	Transport engine.Transport

	// Policy is the Rego verdict engine, nil unless enabled.
	Policy *policy.Engine

	// History is the run history database, nil unless configured.
	History *stores.SQLiteStore

	opts    []Option
	closers []func(context.Context) error
	logger  zerolog.Logger
}

// Assemble wires cfg into a runnable pipeline. metrics may be nil. The
// caller must Close the pipeline.
func Assemble(ctx context.Context, cfg *config.PipelineConfig, logger zerolog.Logger, metrics *telemetry.Metrics) (p *Pipeline, err error) {
	runCfg := cfg.Run.RunConfig().WithDefaults()
	if err := runCfg.Validate(); err != nil {
		return nil, err
	}

	p = &Pipeline{
		Config:    cfg,
		Seeds:     SeedsFromConfig(cfg.Seeds),
		RunConfig: runCfg,
		Registry:  morphisms.NewDefaultRegistry(runCfg.ChunkSize),
		logger:    logger.With().Str("component", "pipeline").Str("pipeline", cfg.Name).Logger(),
	}
	defer func() {
		if err != nil {
			_ = p.Close(context.WithoutCancel(ctx))
			p = nil
		}
	}()

	mux, err := p.buildTransport(cfg.Transport, runCfg)
	if err != nil {
		return nil, err
	}
	p.Transport = mux
	if metrics != nil {
		p.Transport = transports.Instrument(mux, metrics)
	}

	if err := p.registerPlugins(ctx, cfg.Plugins); err != nil {
		return nil, err
	}
	if cfg.Policy.Enabled {
		if err := p.enablePolicy(ctx, cfg.Policy, cfg.Morphisms.Evaluate); err != nil {
			return nil, err
		}
	}

	var docking engine.RemoteCompute
	if cfg.Remote.Endpoint != "" {
		docking = remote.NewClient(cfg.Remote.Endpoint,
			remote.WithToken(cfg.Remote.Token),
			remote.WithLogger(logger),
		)
	} else {
		docking = DefaultRemote(p.Transport, logger)
	}

	p.opts = []Option{
		WithRegistry(p.Registry),
		WithMorphisms(cfg.Morphisms),
		WithTransport(p.Transport),
		WithRemote(docking),
		WithLogger(logger),
	}
	if cfg.Seeds.Candidate != "" {
		p.opts = append(p.opts, WithCandidate(cfg.Seeds.Candidate))
	}

	if cfg.History.Path != "" {
		history, err := stores.Open(ctx, cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		p.History = history
		p.closers = append(p.closers, func(context.Context) error { return history.Close() })
		p.opts = append(p.opts, WithObserver(stores.NewRecorder(history, logger)))
	}
	if metrics != nil {
		p.opts = append(p.opts, WithObserver(metrics))
	}
	p.opts = append(p.opts, WithObserver(telemetry.NewRunLogger(logger)))

	p.logger.Debug().
		Bool("dry_run", runCfg.DryRun).
		Str("remote", cfg.Remote.Endpoint).
		Int("plugins", len(cfg.Plugins)).
		Bool("policy", cfg.Policy.Enabled).
		Bool("history", p.History != nil).
		Msg("Pipeline assembled")
	return p, nil
}

// Run executes one run with the assembled collaborators. Extra options
// override the assembled ones.
func (p *Pipeline) Run(ctx context.Context, opts ...Option) (*engine.RunResult, error) {
	all := make([]Option, 0, len(p.opts)+len(opts))
	all = append(all, p.opts...)
	all = append(all, opts...)
	return Run(ctx, p.Seeds, p.RunConfig, all...)
}

// Graph returns the assembled topology for candidate.
func (p *Pipeline) Graph(candidate string) (*engine.Graph, error) {
	o := newOptions(p.RunConfig, p.opts)
	return o.build(candidate)
}

// Close releases the transports, plugins, policy watcher and history in
// reverse order of creation.
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i](ctx))
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *Pipeline) buildTransport(cfg config.TransportConfig, runCfg engine.RunConfig) (*transports.Mux, error) {
	if runCfg.DryRun {
		return DefaultTransport(cfg.Base, runCfg, p.logger), nil
	}

	mux := transports.NewMux(cfg.Base)
	mux.Handle(transports.SchemeFile, fs.New(cfg.Root))
	mux.Handle(transports.SchemeMem, transports.NewMemory())

	httpOpts := make([]httpx.Option, 0, len(cfg.HTTPHeaders)+1)
	for k, v := range cfg.HTTPHeaders {
		httpOpts = append(httpOpts, httpx.WithHeader(k, v))
	}
	if cfg.MaxBodySize > 0 {
		httpOpts = append(httpOpts, httpx.WithMaxBodySize(cfg.MaxBodySize))
	}
	web := httpx.New(httpOpts...)
	mux.Handle(transports.SchemeHTTP, web)
	mux.Handle(transports.SchemeHTTPS, web)

	if cfg.SFTP != nil {
		remoteFS, err := sftp.New(cfg.SFTP)
		if err != nil {
			return nil, fmt.Errorf("failed to create sftp transport: %w", err)
		}
		mux.Handle(transports.SchemeSFTP, remoteFS)
		p.closers = append(p.closers, func(context.Context) error { return remoteFS.Close() })
	}
	return mux, nil
}

func (p *Pipeline) registerPlugins(ctx context.Context, plugins []config.PluginConfig) error {
	for _, plugin := range plugins {
		src, err := os.ReadFile(plugin.Path)
		if err != nil {
			return fmt.Errorf("failed to read plugin %s: %w", plugin.Name, err)
		}

		var fn engine.InterMorphism
		switch plugin.Kind {
		case config.PluginStarlark:
			m, err := morphisms.NewStarlarkMorphism(plugin.Name, string(src), plugin.Timeout.Duration())
			if err != nil {
				return fmt.Errorf("failed to load plugin %s: %w", plugin.Name, err)
			}
			fn = m.InterMorphism()
		case config.PluginWASM:
			m, err := morphisms.NewWASMMorphism(ctx, src, morphisms.WASMConfig{Timeout: plugin.Timeout.Duration()})
			if err != nil {
				return fmt.Errorf("failed to load plugin %s: %w", plugin.Name, err)
			}
			p.closers = append(p.closers, m.Close)
			fn = m.InterMorphism()
		default:
			return fmt.Errorf("unsupported plugin kind %q", plugin.Kind)
		}

		if err := p.Registry.RegisterInter(plugin.Name, fn); err != nil {
			return err
		}
		p.logger.Info().Str("plugin", plugin.Name).Str("kind", plugin.Kind).Msg("Plugin registered")
	}
	return nil
}

// enablePolicy replaces the evaluate morphism with the Rego verdict.
func (p *Pipeline) enablePolicy(ctx context.Context, cfg config.PolicyConfig, evaluate string) error {
	eng, err := policy.NewEngine(p.logger)
	if err != nil {
		return err
	}
	if cfg.Threshold != nil {
		eng.SetThreshold(*cfg.Threshold)
	}
	if len(cfg.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, cfg.Paths); err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
	}
	if err := p.Registry.ReplaceInter(evaluate, eng.InterMorphism()); err != nil {
		return err
	}
	p.Policy = eng

	if cfg.Watch {
		loader := policy.NewLoader(p.logger)
		if err := loader.WatchEngine(ctx, eng, cfg.Paths); err != nil {
			return fmt.Errorf("failed to watch policies: %w", err)
		}
		p.closers = append(p.closers, func(context.Context) error { return loader.StopWatching() })
	}
	return nil
}
