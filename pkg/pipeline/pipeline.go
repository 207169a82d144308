// Package pipeline builds and runs the default docking pipeline:
//
//	nodeDown  fetch anchor, target and box
//	nodeLow   combine [anchor, target] into a candidate
//	nodeUp    publish the candidate to a timestamped location
//	nodeHigh  remote docking of [candidate, target, box] beside the candidate
//	nodeDown2 fetch the docking and pose artifacts back
//	nodeLow2  combine [docking, pose] into the retry verdict
//
// After nodeLow2 the run goes back to nodeLow while the verdict is true and
// the retry limit allows it, and ends otherwise.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/updohilo/updohilo/pkg/config"
	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/morphisms"
	"github.com/updohilo/updohilo/pkg/remote"
	"github.com/updohilo/updohilo/pkg/transports"
	"github.com/updohilo/updohilo/pkg/transports/fs"
	"github.com/updohilo/updohilo/pkg/transports/httpx"
)

// Node identifiers of the default topology.
const (
	NodeDown  = "nodeDown"
	NodeLow   = "nodeLow"
	NodeUp    = "nodeUp"
	NodeHigh  = "nodeHigh"
	NodeDown2 = "nodeDown2"
	NodeLow2  = "nodeLow2"
)

// CandidateTimeFormat is the timestamp layout of candidate directories.
const CandidateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CandidateFile is the file name of a published candidate.
const CandidateFile = "candidate.smi"

// Seeds are the initial slot locations of a run.
type Seeds struct {
	Anchor string `json:"anchor" yaml:"anchor"`
	Target string `json:"target" yaml:"target"`
	Box    string `json:"box" yaml:"box"`
}

// DefaultSeeds returns the 1iep seed locations.
func DefaultSeeds() Seeds {
	return Seeds{
		Anchor: config.DefaultAnchor,
		Target: config.DefaultTarget,
		Box:    config.DefaultBox,
	}
}

// SeedsFromConfig returns the seeds of a pipeline definition.
func SeedsFromConfig(cfg config.SeedsConfig) Seeds {
	return Seeds{Anchor: cfg.Anchor, Target: cfg.Target, Box: cfg.Box}
}

// Validate checks that every seed has a location.
func (s Seeds) Validate() error {
	for _, seed := range []struct{ key, loc string }{
		{engine.KeyAnchor, s.Anchor},
		{engine.KeyTarget, s.Target},
		{engine.KeyBox, s.Box},
	} {
		if seed.loc == "" {
			return engine.NewInvalidError("seed location is required").WithKey(seed.key)
		}
	}
	return nil
}

// CandidateLocation returns dir/<timestamp>/candidate.smi for t.
func CandidateLocation(dir string, t time.Time) string {
	return engine.JoinLocation(dir, t.UTC().Format(CandidateTimeFormat), CandidateFile)
}

// NewStore creates the resource store of one run. The candidate slot is
// declared at its publish location so the remote stage can write beside it.
func NewStore(seeds Seeds, candidate string) *engine.ResourceStore {
	store := engine.NewResourceStore(map[string]string{
		engine.KeyAnchor: seeds.Anchor,
		engine.KeyTarget: seeds.Target,
		engine.KeyBox:    seeds.Box,
	})
	store.Declare(engine.KeyCandidate, candidate)
	return store
}

// Build assembles the default topology. candidate is the publish location
// of the generated candidate.
func Build(candidate string, opts ...Option) (*engine.Graph, error) {
	o := newOptions(engine.DefaultRunConfig(), opts)
	return o.build(candidate)
}

// Run executes one run of the default pipeline. The result is non-nil
// whenever the run started; the error is the classified failure, if any.
func Run(ctx context.Context, seeds Seeds, cfg engine.RunConfig, opts ...Option) (*engine.RunResult, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := seeds.Validate(); err != nil {
		return nil, err
	}

	o := newOptions(cfg, opts)
	candidate := o.candidate
	if candidate == "" {
		candidate = CandidateLocation(o.candidateDir, o.clock())
	}

	graph, err := o.build(candidate)
	if err != nil {
		return nil, err
	}

	runnerOpts := make([]engine.RunnerOption, 0, len(o.observers))
	for _, obs := range o.observers {
		runnerOpts = append(runnerOpts, engine.WithObserver(obs))
	}
	runner, err := engine.NewRunner(graph, runnerOpts...)
	if err != nil {
		return nil, err
	}

	if zerolog.Ctx(ctx).GetLevel() == zerolog.Disabled {
		ctx = o.logger.WithContext(ctx)
	}
	zerolog.Ctx(ctx).Debug().
		Str("candidate", candidate).
		Str("anchor", seeds.Anchor).
		Str("target", seeds.Target).
		Str("box", seeds.Box).
		Msg("Starting pipeline")

	return runner.Run(ctx, NewStore(seeds, candidate), cfg)
}

// build wires the six stages and their edges.
func (o *options) build(candidate string) (*engine.Graph, error) {
	if candidate == "" {
		return nil, engine.NewInvalidError("candidate location is required").WithKey(engine.KeyCandidate)
	}

	anchor, err := o.registry.Intra(o.names.Anchor)
	if err != nil {
		return nil, err
	}
	target, err := o.registry.Intra(o.names.Target)
	if err != nil {
		return nil, err
	}
	box, err := o.registry.Intra(o.names.Box)
	if err != nil {
		return nil, err
	}
	generate, err := o.registry.Inter(o.names.Generate)
	if err != nil {
		return nil, err
	}
	evaluate, err := o.registry.Inter(o.names.Evaluate)
	if err != nil {
		return nil, err
	}
	fetchBack, err := o.registry.Intra(morphisms.NameIdentity)
	if err != nil {
		return nil, err
	}

	down, err := engine.NewFetchNode(NodeDown, engine.FetchConfig{Units: []engine.FetchUnit{
		{Key: engine.KeyAnchor, Transport: o.transport, Transform: anchor},
		{Key: engine.KeyTarget, Transport: o.transport, Transform: target},
		{Key: engine.KeyBox, Transport: o.transport, Transform: box},
	}})
	if err != nil {
		return nil, err
	}

	low, err := engine.NewComputeNode(NodeLow, engine.ComputeConfig{
		InputKeys:  []string{engine.KeyAnchor, engine.KeyTarget},
		OutputKeys: []string{engine.KeyCandidate},
		Combine:    generate,
	})
	if err != nil {
		return nil, err
	}

	up, err := engine.NewPublishNode(NodeUp, engine.PublishConfig{Units: []engine.PublishUnit{
		{Key: engine.KeyCandidate, Destination: candidate, Transport: o.transport},
	}})
	if err != nil {
		return nil, err
	}

	high, err := engine.NewRemoteComputeNode(NodeHigh, engine.RemoteComputeConfig{
		InputKeys: []string{engine.KeyCandidate, engine.KeyTarget, engine.KeyBox},
		Output: engine.OutputDirectory{
			BesideKey: engine.KeyCandidate,
			Keys:      []string{engine.KeyDocking, engine.KeyPose},
		},
		Remote: o.remote,
	})
	if err != nil {
		return nil, err
	}

	down2, err := engine.NewFetchNode(NodeDown2, engine.FetchConfig{Units: []engine.FetchUnit{
		{Key: engine.KeyDocking, Transport: o.transport, Transform: fetchBack},
		{Key: engine.KeyPose, Transport: o.transport, Transform: fetchBack},
	}})
	if err != nil {
		return nil, err
	}

	low2, err := engine.NewComputeNode(NodeLow2, engine.ComputeConfig{
		InputKeys:  []string{engine.KeyDocking, engine.KeyPose},
		OutputKeys: []string{engine.KeyRetryVerdict},
		Combine:    evaluate,
	})
	if err != nil {
		return nil, err
	}

	g := engine.NewGraph()
	for _, n := range []engine.Node{down, low, up, high, down2, low2} {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}

	edges := [][2]string{
		{engine.Start, NodeDown},
		{NodeDown, NodeLow},
		{NodeLow, NodeUp},
		{NodeUp, NodeHigh},
		{NodeHigh, NodeDown2},
		{NodeDown2, NodeLow2},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("failed to add edge %s -> %s: %w", e[0], e[1], err)
		}
	}

	route := engine.VerdictRoute(engine.KeyRetryVerdict, NodeLow, engine.Terminal)
	if err := g.AddConditionalEdge(NodeLow2, route, NodeLow, engine.Terminal); err != nil {
		return nil, err
	}

	if err := g.Compile(); err != nil {
		return nil, err
	}
	return g, nil
}

// DefaultTransport returns a mux serving file, http(s) and mem locations
// under base. In dry mode every scheme is served by a DryRun transport.
func DefaultTransport(base string, cfg engine.RunConfig, logger zerolog.Logger) *transports.Mux {
	mux := transports.NewMux(base)
	if cfg.DryRun {
		dry := transports.NewDryRun(cfg.Delay, logger)
		for _, scheme := range []string{transports.SchemeFile, transports.SchemeHTTP, transports.SchemeHTTPS, transports.SchemeSFTP, transports.SchemeMem} {
			mux.Handle(scheme, dry)
		}
		return mux
	}

	mux.Handle(transports.SchemeFile, fs.New(""))
	web := httpx.New()
	mux.Handle(transports.SchemeHTTP, web)
	mux.Handle(transports.SchemeHTTPS, web)
	mux.Handle(transports.SchemeMem, transports.NewMemory())
	return mux
}

// DefaultRemote returns the in-process docking stand-in.
func DefaultRemote(transport engine.Transport, logger zerolog.Logger) engine.RemoteCompute {
	return remote.NewLocal(transport, logger)
}
