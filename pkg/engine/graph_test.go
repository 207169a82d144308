package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// countingNode records how many times it ran and optionally writes a slot.
type countingNode struct {
	id    string
	kind  NodeKind
	mu    sync.Mutex
	runs  int
	write func(state *RunState)
	err   error
}

func (n *countingNode) ID() string     { return n.id }
func (n *countingNode) Kind() NodeKind { return n.kind }

func (n *countingNode) Execute(ctx context.Context, state *RunState) (*RunState, error) {
	n.mu.Lock()
	n.runs++
	n.mu.Unlock()
	if n.err != nil {
		return state, n.err
	}
	if n.write != nil {
		n.write(state)
	}
	return state, nil
}

func (n *countingNode) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runs
}

// buildRetryGraph wires fetch -> compute -> evaluate -> {compute | end}.
func buildRetryGraph(t *testing.T, verdict bool) (*Graph, *countingNode, *countingNode) {
	t.Helper()

	fetch := &countingNode{id: "fetch", kind: NodeKindFetch}
	compute := &countingNode{id: "compute", kind: NodeKindCompute}
	evaluate := &countingNode{id: "evaluate", kind: NodeKindCompute, write: func(state *RunState) {
		state.Store.Write(KeyRetryVerdict, verdict)
	}}

	g := NewGraph()
	for _, n := range []Node{fetch, compute, evaluate} {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode failed: %v", err)
		}
	}
	mustNoErr(t, g.AddEdge(Start, "fetch"))
	mustNoErr(t, g.AddEdge("fetch", "compute"))
	mustNoErr(t, g.AddEdge("compute", "evaluate"))
	mustNoErr(t, g.AddConditionalEdge("evaluate", VerdictRoute(KeyRetryVerdict, "compute", Terminal), "compute", Terminal))

	return g, compute, evaluate
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestGraph_Compile_FindsRetryEdge(t *testing.T) {
	g, _, _ := buildRetryGraph(t, false)

	if err := g.Compile(); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	edges := g.RetryEdges()
	if len(edges) != 1 || edges[0] != "evaluate->compute" {
		t.Errorf("Expected retry edge evaluate->compute, got %v", edges)
	}
}

func TestGraph_Compile_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		build func(g *Graph)
	}{
		{"no start", func(g *Graph) {
			_ = g.AddNode(&countingNode{id: "a"})
			_ = g.AddEdge("a", Terminal)
		}},
		{"dangling edge", func(g *Graph) {
			_ = g.AddNode(&countingNode{id: "a"})
			_ = g.AddEdge(Start, "a")
			_ = g.AddEdge("a", "b")
		}},
		{"no outgoing edge", func(g *Graph) {
			_ = g.AddNode(&countingNode{id: "a"})
			_ = g.AddNode(&countingNode{id: "b"})
			_ = g.AddEdge(Start, "a")
			_ = g.AddEdge("a", "b")
		}},
		{"unreachable node", func(g *Graph) {
			_ = g.AddNode(&countingNode{id: "a"})
			_ = g.AddNode(&countingNode{id: "b"})
			_ = g.AddEdge(Start, "a")
			_ = g.AddEdge("a", Terminal)
			_ = g.AddEdge("b", Terminal)
		}},
		{"unconditional cycle", func(g *Graph) {
			_ = g.AddNode(&countingNode{id: "a"})
			_ = g.AddNode(&countingNode{id: "b"})
			_ = g.AddNode(&countingNode{id: "c"})
			_ = g.AddEdge(Start, "a")
			_ = g.AddEdge("a", "b")
			_ = g.AddConditionalEdge("b", VerdictRoute("x", "c", Terminal), "c", Terminal)
			_ = g.AddEdge("c", "a")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			tt.build(g)
			if err := g.Compile(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected invalid graph error, got %v", err)
			}
		})
	}
}

func TestGraph_AddEdge_SecondOutgoingRejected(t *testing.T) {
	g := NewGraph()
	_ = g.AddNode(&countingNode{id: "a"})
	mustNoErr(t, g.AddEdge("a", Terminal))

	if err := g.AddConditionalEdge("a", VerdictRoute("x", "a", Terminal), "a", Terminal); err == nil {
		t.Error("Expected error for a second outgoing transition")
	}
	if err := g.AddNode(&countingNode{id: "a"}); err == nil {
		t.Error("Expected error for duplicate node id")
	}
	if err := g.AddNode(&countingNode{id: Terminal}); err == nil {
		t.Error("Expected error for reserved node id")
	}
}

func TestRunner_RetryBoundExceeded(t *testing.T) {
	for _, maxRetries := range []int{1, 3, 5} {
		g, compute, evaluate := buildRetryGraph(t, true)
		runner, err := NewRunner(g)
		if err != nil {
			t.Fatalf("NewRunner failed: %v", err)
		}

		result, err := runner.Run(context.Background(), NewResourceStore(nil), RunConfig{MaxRetries: maxRetries})
		if !IsRetryLimit(err) {
			t.Fatalf("maxRetries=%d: expected RetryLimitExceeded, got %v", maxRetries, err)
		}
		if result.Status != RunStatusExhausted {
			t.Errorf("Expected status %s, got %s", RunStatusExhausted, result.Status)
		}
		if result.Iterations != maxRetries {
			t.Errorf("Expected %d iterations, got %d", maxRetries, result.Iterations)
		}
		if compute.count() != maxRetries+1 {
			t.Errorf("Expected compute to run %d times, got %d", maxRetries+1, compute.count())
		}
		if evaluate.count() != maxRetries+1 {
			t.Errorf("Expected evaluate to run %d times, got %d", maxRetries+1, evaluate.count())
		}
		if result.Failure == nil || result.Failure.Kind != KindRetryLimit {
			t.Fatalf("Expected retry_limit failure, got %+v", result.Failure)
		}
		// The run stops in the route after evaluate, not at the retry target.
		if result.Failure.Node != "evaluate" {
			t.Errorf("Expected failure at evaluate, got %s", result.Failure.Node)
		}
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Details["retry_target"] != "compute" {
			t.Errorf("Expected retry_target compute in details, got %v", err)
		}
	}
}

func TestRunner_InvalidConfigReturnsResult(t *testing.T) {
	g, compute, _ := buildRetryGraph(t, false)
	runner, err := NewRunner(g)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	store := NewResourceStore(map[string]string{"anchor": "mem://a.smi"})
	result, err := runner.Run(context.Background(), store, RunConfig{Delay: -1})
	if !IsInvalid(err) {
		t.Fatalf("Expected invalid config error, got %v", err)
	}
	if result == nil {
		t.Fatal("Expected a result for a rejected run")
	}
	if result.RunID == "" || result.Status != RunStatusFailed {
		t.Errorf("Expected a failed run with an ID, got %+v", result)
	}
	if result.Failure == nil || result.Failure.Kind != KindInvalid || result.Failure.Node != "" {
		t.Errorf("Expected an invalid failure outside any node, got %+v", result.Failure)
	}
	if _, ok := result.Store["anchor"]; !ok {
		t.Errorf("Expected the seeded store in the result, got %v", result.Store)
	}
	if compute.count() != 0 || len(result.Executions) != 0 {
		t.Errorf("Expected no node to run, got %d executions", len(result.Executions))
	}
}

func TestRunner_NoRetryVisitsComputeOnce(t *testing.T) {
	g, compute, _ := buildRetryGraph(t, false)
	runner, err := NewRunner(g)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	result, err := runner.Run(context.Background(), NewResourceStore(nil), RunConfig{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Succeeded() {
		t.Errorf("Expected success, got %s", result.Status)
	}
	if compute.count() != 1 {
		t.Errorf("Expected compute to run once, got %d", compute.count())
	}
	if len(result.Executions) != 3 {
		t.Errorf("Expected 3 executions, got %d", len(result.Executions))
	}
	if result.Iterations != 0 {
		t.Errorf("Expected 0 iterations, got %d", result.Iterations)
	}
}

func TestRunner_NodeFailureSurfacesNode(t *testing.T) {
	g, compute, _ := buildRetryGraph(t, false)
	compute.err = NewMissingResourceError("anchor")

	runner, _ := NewRunner(g)
	result, err := runner.Run(context.Background(), NewResourceStore(nil), RunConfig{})

	if !IsMissingResource(err) {
		t.Fatalf("Expected MissingResource, got %v", err)
	}
	if result.Failure == nil {
		t.Fatal("Expected a failure")
	}
	if result.Failure.Node != "compute" {
		t.Errorf("Expected failed node compute, got %s", result.Failure.Node)
	}
	if result.Failure.Kind != KindMissingResource {
		t.Errorf("Expected kind missing_resource, got %s", result.Failure.Kind)
	}
}

func TestRunner_CancelBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	fetch := &countingNode{id: "fetch", kind: NodeKindFetch, write: func(*RunState) { cancel() }}
	compute := &countingNode{id: "compute", kind: NodeKindCompute}

	g := NewGraph()
	_ = g.AddNode(fetch)
	_ = g.AddNode(compute)
	_ = g.AddEdge(Start, "fetch")
	_ = g.AddEdge("fetch", "compute")
	_ = g.AddEdge("compute", Terminal)

	runner, err := NewRunner(g)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	result, err := runner.Run(ctx, NewResourceStore(nil), RunConfig{})
	if !IsCancelled(err) {
		t.Fatalf("Expected cancellation, got %v", err)
	}
	if fetch.count() != 1 {
		t.Errorf("Expected in-flight stage to complete, ran %d times", fetch.count())
	}
	if compute.count() != 0 {
		t.Errorf("Expected compute not to run after cancellation, ran %d times", compute.count())
	}
	if result.Status != RunStatusCancelled {
		t.Errorf("Expected status cancelled, got %s", result.Status)
	}
}

func TestRunner_VerdictMustBeBoolean(t *testing.T) {
	g := NewGraph()
	eval := &countingNode{id: "evaluate", kind: NodeKindCompute, write: func(state *RunState) {
		state.Store.Write(KeyRetryVerdict, "yes")
	}}
	_ = g.AddNode(eval)
	_ = g.AddEdge(Start, "evaluate")
	_ = g.AddConditionalEdge("evaluate", VerdictRoute(KeyRetryVerdict, "evaluate", Terminal), "evaluate", Terminal)

	runner, err := NewRunner(g)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if _, err := runner.Run(context.Background(), NewResourceStore(nil), RunConfig{}); !errors.Is(err, ErrNode) {
		t.Errorf("Expected node error for non-boolean verdict, got %v", err)
	}
}

type recordingObserver struct {
	started  int
	nodes    []string
	finished *RunResult
}

func (o *recordingObserver) RunStarted(ctx context.Context, state *RunState) { o.started++ }
func (o *recordingObserver) NodeFinished(ctx context.Context, runID string, exec NodeExecution) {
	o.nodes = append(o.nodes, exec.Node)
}
func (o *recordingObserver) RunFinished(ctx context.Context, result *RunResult) { o.finished = result }

func TestRunner_NotifiesObservers(t *testing.T) {
	g, _, _ := buildRetryGraph(t, false)
	obs := &recordingObserver{}

	runner, err := NewRunner(g, WithObserver(obs))
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	result, err := runner.Run(context.Background(), NewResourceStore(nil), RunConfig{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if obs.started != 1 {
		t.Errorf("Expected 1 start notification, got %d", obs.started)
	}
	if strings.Join(obs.nodes, ",") != "fetch,compute,evaluate" {
		t.Errorf("Unexpected node notifications: %v", obs.nodes)
	}
	if obs.finished != result {
		t.Error("Expected the final result to be observed")
	}
}

func TestGraph_ToDOT(t *testing.T) {
	g, _, _ := buildRetryGraph(t, false)
	mustNoErr(t, g.Compile())

	dot := g.ToDOT()
	for _, want := range []string{
		"digraph Pipeline {",
		`"__start__" -> "fetch";`,
		`"evaluate" -> "compute" [style=dashed, color=red, label="retry"];`,
		`"evaluate" -> "__end__" [style=solid, color=blue];`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT to contain %q\n%s", want, dot)
		}
	}
}

func TestGraph_Transitions(t *testing.T) {
	g, _, _ := buildRetryGraph(t, false)
	mustNoErr(t, g.Compile())

	var retries, conditional int
	for _, tr := range g.Transitions() {
		if tr.Retry {
			retries++
			if tr.From != "evaluate" || tr.To != "compute" {
				t.Errorf("Unexpected retry transition %+v", tr)
			}
		}
		if tr.Conditional {
			conditional++
		}
	}
	if retries != 1 {
		t.Errorf("Expected 1 retry transition, got %d", retries)
	}
	if conditional != 2 {
		t.Errorf("Expected 2 conditional transitions, got %d", conditional)
	}
	if first := g.Transitions()[0]; first.From != Start || first.To != "fetch" {
		t.Errorf("Expected the start edge first, got %+v", first)
	}
}
