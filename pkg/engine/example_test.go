package engine_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/transports"
)

// Example_pipeline fetches a greeting, transforms it, publishes the result
// and loops back while a verdict asks for another round.
func Example_pipeline() {
	ctx := context.Background()

	mem := transports.NewMemory()
	mem.Put("mem://in/greeting.txt", []byte("hello"))

	text := func(content []byte) (any, error) { return string(content), nil }

	rounds := 0
	shout := func(_ context.Context, inputs []any) (map[string]any, error) {
		rounds++
		return map[string]any{"shout": strings.ToUpper(inputs[0].(string)) + strings.Repeat("!", rounds)}, nil
	}
	check := func(_ context.Context, inputs []any) (map[string]any, error) {
		return map[string]any{"again": len(inputs[0].(string)) < 7}, nil
	}

	fetch, _ := engine.NewFetchNode("fetch", engine.FetchConfig{Units: []engine.FetchUnit{
		{Key: "greeting", Transport: mem, Transform: text},
	}})
	compute, _ := engine.NewComputeNode("shout", engine.ComputeConfig{
		InputKeys:  []string{"greeting"},
		OutputKeys: []string{"shout"},
		Combine:    shout,
	})
	publish, _ := engine.NewPublishNode("publish", engine.PublishConfig{Units: []engine.PublishUnit{
		{Key: "shout", Destination: "mem://out/shout.txt", Transport: mem},
	}})
	verdict, _ := engine.NewComputeNode("check", engine.ComputeConfig{
		InputKeys:  []string{"shout"},
		OutputKeys: []string{"again"},
		Combine:    check,
	})

	g := engine.NewGraph()
	for _, n := range []engine.Node{fetch, compute, publish, verdict} {
		_ = g.AddNode(n)
	}
	_ = g.AddEdge(engine.Start, "fetch")
	_ = g.AddEdge("fetch", "shout")
	_ = g.AddEdge("shout", "publish")
	_ = g.AddEdge("publish", "check")
	_ = g.AddConditionalEdge("check", engine.VerdictRoute("again", "shout", engine.Terminal), "shout", engine.Terminal)

	runner, err := engine.NewRunner(g)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	store := engine.NewResourceStore(map[string]string{"greeting": "mem://in/greeting.txt"})
	result, err := runner.Run(ctx, store, engine.DefaultRunConfig())
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	published, _ := mem.Fetch(ctx, "mem://out/shout.txt")
	fmt.Println(result.Status)
	fmt.Println(string(published))
	fmt.Println(g.RetryEdges())
	// Output:
	// succeeded
	// HELLO!!
	// [check->shout]
}

// ExampleKindOf shows how callers branch on the failure kind of a run.
func ExampleKindOf() {
	err := engine.NewNodeError("nodeDown", engine.NewTransportError("fetch", "mem://missing.pdb", transports.ErrNotFound))

	fmt.Println(engine.KindOf(err))
	fmt.Println(engine.IsTransport(err), engine.IsRetryLimit(err))
	// Output:
	// transport
	// true false
}
