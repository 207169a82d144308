// Package engine provides the graph runner, stage types and resource store of
// the updohilo pipeline.
//
// # Overview
//
// A run moves named resources through a graph of stages. Every stage reads
// and writes slots of a ResourceStore, and the graph decides which stage runs
// next. The default pipeline wires six stages:
//
//  1. nodeDown  - fetch the anchor, target and box and transform them
//  2. nodeLow   - generate a candidate from the anchor and target
//  3. nodeUp    - publish the candidate to its destination
//  4. nodeHigh  - dock the candidate remotely against the target and box
//  5. nodeDown2 - fetch the docking result and pose back
//  6. nodeLow2  - compute the retry verdict
//
// nodeLow2 routes back to nodeLow while the verdict is true and to Terminal
// otherwise. The number of times a retry edge may be taken is bounded by
// RunConfig.MaxRetries.
//
// # Core Types
//
//   - ResourceStore: Named slots with a location and, once populated, a value
//   - Node: A stage; FetchNode, ComputeNode, PublishNode or RemoteComputeNode
//   - Graph: Nodes, static edges and conditional edges between them
//   - Runner: Walks a compiled graph and reports to Observers
//   - RunResult: Final status, store snapshot, executions and log of a run
//
// # Morphisms
//
// Content is transformed by two kinds of pure functions:
//
//   - IntraMorphism: raw content of one resource to a slot value
//   - InterMorphism: positional slot values to a mapping of output slots
//
// Both must be free of I/O so a stage can be re-executed on retry.
//
// # Transports
//
// Fetch and publish stages move bytes through the Transport interface. Every
// call is bounded by RunConfig.TransportTimeout and failures are reported as
// KindTransport errors carrying the location.
//
// # Error Classification
//
// Failures are EngineErrors with a Kind:
//
//   - KindTransport: A fetch or store failed
//   - KindMissingResource: A declared slot was read before it had a value
//   - KindKeyNotFound: An undeclared slot was read
//   - KindRetryLimit: The retry edge was taken more than MaxRetries times
//   - KindRemoteCompute: The remote compute service failed
//   - KindCancelled: The run context was cancelled
//
// KindOf returns the innermost kind of a wrapped chain:
//
//	if engine.IsRetryLimit(err) {
//	    // the candidate never passed the verdict
//	}
//
// # Example Usage
//
//	g := engine.NewGraph()
//	_ = g.AddNode(fetch)
//	_ = g.AddNode(compute)
//	_ = g.AddEdge(engine.Start, fetch.ID())
//	_ = g.AddEdge(fetch.ID(), compute.ID())
//	_ = g.AddEdge(compute.ID(), engine.Terminal)
//
//	runner, err := engine.NewRunner(g, engine.WithObserver(recorder))
//	result, err := runner.Run(ctx, store, engine.DefaultRunConfig())
//
// # Thread Safety
//
// A ResourceStore is owned by one run. Stages fan their units out
// concurrently but merge results into the store from the calling goroutine.
// Graphs may be shared once compiled.
package engine
