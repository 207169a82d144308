// Package policy decides the retry verdict of a pipeline run with Open
// Policy Agent (Rego) policies.
//
// Each policy module defines a boolean rule "retry" and, optionally, a set
// "reasons". Policies receive an input document built from the docking
// result and the docked pose:
//
//	{
//	    "docking":   {"affinity": -7.2, "models": 9},
//	    "pose":      {"records": 48},
//	    "threshold": -6.0
//	}
//
// The engine asks for a retry when any enabled policy does. Engine.InterMorphism
// adapts the engine into the inter-morphism of the verdict compute node, so a
// pipeline can swap the fixed verdict for a policy-driven one.
//
// # Built-in Policies
//
//  1. weak-affinity - retry when the best affinity is above the threshold
//  2. empty-pose - retry when the pose has no coordinate records
//
// # Custom Policies
//
// Policies are loaded from .rego files, or from .json files carrying a
// Policy document. A .rego policy is named after the last element of its
// package, so the module below is named "models":
//
//	package updohilo.verdict.models
//
//	import rego.v1
//
//	default retry := false
//
//	retry if input.docking.models < 3
//
// # Hot Reload
//
// The loader can watch policy paths and reload an engine on change:
//
//	loader := policy.NewLoader(logger)
//	err = loader.WatchEngine(ctx, eng, paths)
package policy
