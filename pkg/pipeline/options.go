package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/updohilo/updohilo/pkg/config"
	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/morphisms"
)

// Option configures Build and Run.
type Option func(*options)

type options struct {
	registry     *morphisms.Registry
	names        config.MorphismsConfig
	transport    engine.Transport
	remote       engine.RemoteCompute
	observers    []engine.Observer
	candidate    string
	candidateDir string
	clock        func() time.Time
	logger       zerolog.Logger
}

// WithRegistry sets the morphism registry. The default holds the built-ins
// with the run's chunk size.
func WithRegistry(r *morphisms.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithMorphisms selects registered morphisms by name for each stage.
func WithMorphisms(names config.MorphismsConfig) Option {
	return func(o *options) { o.names = names }
}

// WithTransport sets the transport of every fetch and publish unit and of
// the default remote.
func WithTransport(t engine.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithRemote sets the docking endpoint of nodeHigh.
func WithRemote(r engine.RemoteCompute) Option {
	return func(o *options) { o.remote = r }
}

// WithObserver adds a run lifecycle observer.
func WithObserver(obs engine.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithCandidate fixes the candidate publish location.
func WithCandidate(location string) Option {
	return func(o *options) { o.candidate = location }
}

// WithCandidateDir sets the directory timestamped candidates are published under.
func WithCandidateDir(dir string) Option {
	return func(o *options) { o.candidateDir = dir }
}

// WithClock sets the time source of candidate timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the logger used when ctx carries none.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func newOptions(cfg engine.RunConfig, opts []Option) *options {
	o := &options{
		names:        config.DefaultPipelineConfig().Morphisms,
		candidateDir: config.DefaultCandidateDir,
		clock:        time.Now,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.registry == nil {
		o.registry = morphisms.NewDefaultRegistry(cfg.ChunkSize)
	}
	if o.transport == nil {
		o.transport = DefaultTransport("", cfg, o.logger)
	}
	if o.remote == nil {
		o.remote = DefaultRemote(o.transport, o.logger)
	}
	return o
}
