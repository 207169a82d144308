package config

import (
	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/morphisms"
)

// Default seed locations of the 1iep docking campaign.
const (
	DefaultAnchor = "ligandokreado/1iep/2025-01-01T00:00:00.000Z/candidate.smi"
	DefaultTarget = "ligandokreado/1iep/target.pdb"
	DefaultBox    = "ligandokreado/1iep/box.pdb"

	// DefaultCandidateDir is where timestamped candidates are published.
	DefaultCandidateDir = "ligandokreado/1iep"
)

// DefaultPipelineConfig returns the default pipeline definition: the 1iep
// seeds, default run settings, the local docking stub and the built-in
// morphisms.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Name: "updohilo",
		Seeds: SeedsConfig{
			Anchor: DefaultAnchor,
			Target: DefaultTarget,
			Box:    DefaultBox,
		},
		Run: RunSettings{
			Delay:            Duration(engine.DefaultDryRunDelay),
			MaxRetries:       engine.DefaultMaxRetries,
			ChunkSize:        engine.DefaultChunkSize,
			TransportTimeout: Duration(engine.DefaultTransportTimeout),
			RemoteTimeout:    Duration(engine.DefaultRemoteTimeout),
			MaxParallel:      engine.DefaultMaxParallel,
		},
		Morphisms: MorphismsConfig{
			Anchor:   morphisms.NameIdentity,
			Target:   morphisms.NameChunkPDB,
			Box:      morphisms.NameChunkPDB,
			Generate: morphisms.NameGenerateCandidate,
			Evaluate: morphisms.NameEvaluateDocking,
		},
	}
}
