package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Reserved state identifiers.
const (
	Start    = "__start__"
	Terminal = "__end__"
)

// Route chooses the next state after a node, based on the run state.
type Route func(state *RunState) (string, error)

type branch struct {
	route   Route
	targets []string
}

type edge struct {
	from string
	to   string
}

// Graph is a state machine over node identifiers with a single start and
// terminal state. Every node has exactly one outgoing transition, either a
// static edge or a conditional branch. Cycles must close through a
// conditional branch; those back-edges are retry edges bounded by
// RunConfig.MaxRetries.
type Graph struct {
	nodes    map[string]Node
	order    []string
	edges    map[string]string
	branches map[string]*branch

	entry      string
	compiled   bool
	retryEdges map[edge]bool
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]Node),
		edges:    make(map[string]string),
		branches: make(map[string]*branch),
	}
}

// AddNode adds a node. Identifiers must be unique and not reserved.
func (g *Graph) AddNode(n Node) error {
	if n == nil {
		return NewInvalidError("node is nil")
	}
	id := n.ID()
	if id == Start || id == Terminal {
		return NewInvalidError(fmt.Sprintf("node id %q is reserved", id))
	}
	if _, exists := g.nodes[id]; exists {
		return NewInvalidError("duplicate node").WithNode(id)
	}
	g.nodes[id] = n
	g.order = append(g.order, id)
	g.compiled = false
	return nil
}

// AddEdge adds a static transition. from may be Start; to may be Terminal.
func (g *Graph) AddEdge(from, to string) error {
	if from == Terminal {
		return NewInvalidError("terminal state has no outgoing edges")
	}
	if from == Start {
		if g.entry != "" {
			return NewInvalidError("start edge already set")
		}
		g.entry = to
		g.compiled = false
		return nil
	}
	if err := g.checkUnassigned(from); err != nil {
		return err
	}
	g.edges[from] = to
	g.compiled = false
	return nil
}

// AddConditionalEdge adds a routed transition from a node. The route must
// return one of targets.
func (g *Graph) AddConditionalEdge(from string, route Route, targets ...string) error {
	if route == nil {
		return NewInvalidError("conditional edge requires a route").WithNode(from)
	}
	if len(targets) == 0 {
		return NewInvalidError("conditional edge requires targets").WithNode(from)
	}
	if from == Start || from == Terminal {
		return NewInvalidError(fmt.Sprintf("conditional edge cannot leave %q", from))
	}
	if err := g.checkUnassigned(from); err != nil {
		return err
	}
	g.branches[from] = &branch{route: route, targets: append([]string(nil), targets...)}
	g.compiled = false
	return nil
}

func (g *Graph) checkUnassigned(from string) error {
	if _, ok := g.edges[from]; ok {
		return NewInvalidError("node already has an outgoing edge").WithNode(from)
	}
	if _, ok := g.branches[from]; ok {
		return NewInvalidError("node already has a conditional edge").WithNode(from)
	}
	return nil
}

// successors returns the possible next states of a node.
func (g *Graph) successors(id string) []string {
	if to, ok := g.edges[id]; ok {
		return []string{to}
	}
	if b, ok := g.branches[id]; ok {
		return b.targets
	}
	return nil
}

// Compile validates the graph and classifies its back-edges.
func (g *Graph) Compile() error {
	if g.entry == "" {
		return NewInvalidError("graph has no start edge")
	}
	if g.entry != Terminal {
		if _, ok := g.nodes[g.entry]; !ok {
			return NewInvalidError(fmt.Sprintf("start edge targets unknown node %q", g.entry))
		}
	}

	for _, id := range g.order {
		succ := g.successors(id)
		if len(succ) == 0 {
			return NewInvalidError("node has no outgoing edge").WithNode(id)
		}
		for _, to := range succ {
			if to == Terminal {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return NewInvalidError(fmt.Sprintf("edge targets unknown node %q", to)).WithNode(id)
			}
		}
	}
	for from := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return NewInvalidError("edge leaves unknown node").WithNode(from)
		}
	}
	for from := range g.branches {
		if _, ok := g.nodes[from]; !ok {
			return NewInvalidError("conditional edge leaves unknown node").WithNode(from)
		}
	}

	back, reachable := g.detectBackEdges()
	for _, id := range g.order {
		if !reachable[id] {
			return NewInvalidError("node is unreachable from start").WithNode(id)
		}
	}
	if !reachable[Terminal] {
		return NewInvalidError("terminal state is unreachable from start")
	}
	for e := range back {
		if _, conditional := g.branches[e.from]; !conditional {
			return NewInvalidError(fmt.Sprintf("unconditional cycle %s -> %s", e.from, e.to)).WithNode(e.from)
		}
	}

	g.retryEdges = back
	g.compiled = true
	return nil
}

// detectBackEdges walks the graph depth-first from the entry and returns the
// edges that close a cycle along with the set of reachable states.
func (g *Graph) detectBackEdges() (map[edge]bool, map[string]bool) {
	back := make(map[edge]bool)
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		visited[id] = true
		if id == Terminal {
			return
		}
		onStack[id] = true
		for _, to := range g.successors(id) {
			if onStack[to] {
				back[edge{from: id, to: to}] = true
				continue
			}
			if !visited[to] {
				visit(to)
			}
		}
		onStack[id] = false
	}
	visit(g.entry)

	return back, visited
}

// RetryEdges returns the back-edges found by Compile as "from->to" strings, sorted.
func (g *Graph) RetryEdges() []string {
	out := make([]string, 0, len(g.retryEdges))
	for e := range g.retryEdges {
		out = append(out, e.from+"->"+e.to)
	}
	sort.Strings(out)
	return out
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// next resolves the transition out of a node.
func (g *Graph) next(id string, state *RunState) (string, error) {
	if to, ok := g.edges[id]; ok {
		return to, nil
	}
	b := g.branches[id]
	to, err := b.route(state)
	if err != nil {
		return "", err
	}
	for _, target := range b.targets {
		if target == to {
			return to, nil
		}
	}
	return "", NewInvalidError(fmt.Sprintf("route returned undeclared target %q", to)).WithNode(id)
}

// walk executes the active path sequentially from the entry to Terminal.
// Cancellation is honored only between stages: each stage runs on a context
// that is detached from ctx's cancellation but keeps its values.
func (g *Graph) walk(
	ctx context.Context,
	state *RunState,
	onNode func(ctx context.Context, exec NodeExecution),
) (*RunState, error) {
	if !g.compiled {
		if err := g.Compile(); err != nil {
			return state, err
		}
	}

	current := g.entry
	for current != Terminal {
		if err := ctx.Err(); err != nil {
			return state, NewCancelledError(current, err)
		}

		node := g.nodes[current]
		exec := NodeExecution{
			Node:      current,
			Kind:      node.Kind(),
			Iteration: state.Iteration,
			StartedAt: time.Now(),
		}

		next, err := node.Execute(context.WithoutCancel(ctx), state)
		exec.Duration = time.Since(exec.StartedAt)
		if err != nil {
			exec.Error = err.Error()
		}
		if onNode != nil {
			onNode(ctx, exec)
		}
		if err != nil {
			if !errors.Is(err, ErrNode) {
				err = NewNodeError(current, err)
			}
			state.Logf(LogLevelError, current, "%v", err)
			return state, err
		}
		if next != nil {
			state = next
		}

		to, err := g.next(current, state)
		if err != nil {
			if !errors.Is(err, ErrNode) {
				err = NewNodeError(current, err)
			}
			state.Logf(LogLevelError, current, "%v", err)
			return state, err
		}

		if g.retryEdges[edge{from: current, to: to}] {
			limit := state.Config.RetryLimit()
			if state.Iteration >= limit {
				err := NewRetryLimitError(current, limit).WithDetail("retry_target", to)
				state.Logf(LogLevelError, current, "%v", err)
				return state, err
			}
			state.Iteration++
			state.Logf(LogLevelWarn, current, "retrying from %s (iteration %d of %d)", to, state.Iteration, limit)
		}

		current = to
	}

	return state, nil
}

// VerdictRoute routes on a boolean slot: ifTrue when the slot is true,
// ifFalse otherwise. A missing or non-boolean slot is an error.
func VerdictRoute(key, ifTrue, ifFalse string) Route {
	return func(state *RunState) (string, error) {
		v, err := state.Store.Value(key)
		if err != nil {
			return "", err
		}
		verdict, ok := v.(bool)
		if !ok {
			return "", NewInvalidError(fmt.Sprintf("verdict must be a boolean, got %T", v)).WithKey(key)
		}
		if verdict {
			return ifTrue, nil
		}
		return ifFalse, nil
	}
}

// Transition is one edge of a compiled graph.
type Transition struct {
	From        string `json:"from" yaml:"from"`
	To          string `json:"to" yaml:"to"`
	Conditional bool   `json:"conditional,omitempty" yaml:"conditional,omitempty"`
	Retry       bool   `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Transitions returns every edge in node insertion order, starting with the
// start edge.
func (g *Graph) Transitions() []Transition {
	var out []Transition
	if g.entry != "" {
		out = append(out, Transition{From: Start, To: g.entry})
	}
	for _, id := range g.order {
		if to, ok := g.edges[id]; ok {
			out = append(out, Transition{From: id, To: to, Retry: g.retryEdges[edge{from: id, to: to}]})
		}
		if b, ok := g.branches[id]; ok {
			for _, to := range b.targets {
				out = append(out, Transition{From: id, To: to, Conditional: true, Retry: g.retryEdges[edge{from: id, to: to}]})
			}
		}
	}
	return out
}

// ToDOT renders the graph in Graphviz DOT format. Retry edges are dashed.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Pipeline {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	sb.WriteString(fmt.Sprintf("  %q [shape=circle, label=\"start\"];\n", Start))
	sb.WriteString(fmt.Sprintf("  %q [shape=doublecircle, label=\"end\"];\n", Terminal))
	for _, id := range g.order {
		node := g.nodes[id]
		sb.WriteString(fmt.Sprintf("    %q [label=\"%s\\n%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
			id, id, node.Kind(), getKindColor(node.Kind())))
	}
	sb.WriteString("\n")

	if g.entry != "" {
		sb.WriteString(fmt.Sprintf("  %q -> %q;\n", Start, g.entry))
	}
	for _, id := range g.order {
		if to, ok := g.edges[id]; ok {
			sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", id, to, g.edgeStyle(id, to)))
		}
		if b, ok := g.branches[id]; ok {
			for _, to := range b.targets {
				sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", id, to, g.edgeStyle(id, to)))
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func (g *Graph) edgeStyle(from, to string) string {
	if g.retryEdges[edge{from: from, to: to}] {
		return "style=dashed, color=red, label=\"retry\""
	}
	if _, ok := g.branches[from]; ok {
		return "style=solid, color=blue"
	}
	return "style=solid, color=black"
}

func getKindColor(kind NodeKind) string {
	switch kind {
	case NodeKindFetch:
		return "lightblue"
	case NodeKindCompute:
		return "lightyellow"
	case NodeKindPublish:
		return "lightgreen"
	case NodeKindRemoteCompute:
		return "lightpink"
	default:
		return "white"
	}
}
