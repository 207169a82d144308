// Package config loads pipeline definitions.
//
// A definition names the seed locations, run settings, transports, remote
// endpoint, morphisms, plugins, retry policy and history database of one
// pipeline. It is written in CUE, YAML or JSON:
//
//	name: "1iep"
//	seeds: {
//		anchor: "ligandokreado/1iep/2025-01-01T00:00:00.000Z/candidate.smi"
//		target: "ligandokreado/1iep/target.pdb"
//		box:    "ligandokreado/1iep/box.pdb"
//	}
//	run: {
//		max_retries: 3
//		chunk_size:  1000
//		delay:       "1s"
//	}
//
// CUE and JSON definitions are unified with the built-in #Pipeline schema
// and exported to JSON before decoding, so CUE constraints and defaults are
// honoured. YAML definitions are decoded strictly. Fields left out keep the
// values of DefaultPipelineConfig. Every definition is then checked with
// struct tags, the schema and cross-field rules, and problems are reported
// as ValidationErrors with file positions where known.
//
// Usage:
//
//	loader := config.NewLoader()
//	cfg, err := loader.LoadFile(ctx, "pipeline.cue")
//	if err != nil {
//		return err
//	}
//	runCfg := cfg.Run.RunConfig()
package config
