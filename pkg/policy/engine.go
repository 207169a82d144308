package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/morphisms"
)

// Engine evaluates Rego verdict policies. Each policy module must define a
// boolean rule "retry" and may define a set "reasons".
type Engine struct {
	mu        sync.RWMutex
	policies  map[string]*compiledPolicy
	logger    zerolog.Logger
	threshold float64
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	retry    rego.PreparedEvalQuery
	reasons  rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine loaded with the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:  make(map[string]*compiledPolicy),
		logger:    logger.With().Str("component", "policy-engine").Logger(),
		threshold: DefaultThreshold,
	}

	if err := e.Load(context.Background(), GetBuiltinPolicies()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// SetThreshold sets the affinity threshold passed to every policy.
func (e *Engine) SetThreshold(threshold float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threshold = threshold
}

// Load compiles policies and replaces the active set. Nothing is replaced
// if any policy fails to compile.
func (e *Engine) Load(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		cp, err := compilePolicy(ctx, &p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	e.policies = compiled
	e.mu.Unlock()

	e.logger.Info().Int("count", len(compiled)).Msg("Policies loaded")
	return nil
}

// LoadPolicies loads policies from files or directories and replaces the active set.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if len(policies) == 0 {
		return fmt.Errorf("no policies found in %v", paths)
	}
	return e.Load(ctx, policies)
}

// Verdict evaluates every enabled policy. The decision asks for a retry if
// any policy does.
func (e *Engine) Verdict(ctx context.Context, input VerdictInput) (*Decision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := &Decision{EvaluatedAt: time.Now()}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		decision.Policies = append(decision.Policies, name)

		retry, reasons, err := evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", name, err)
		}
		if retry {
			decision.Retry = true
			if len(reasons) == 0 {
				reasons = []string{name}
			}
			decision.Reasons = append(decision.Reasons, reasons...)
		}
	}

	e.logger.Debug().
		Bool("retry", decision.Retry).
		Strs("reasons", decision.Reasons).
		Msg("Verdict evaluated")
	return decision, nil
}

// InterMorphism returns an inter-morphism over [docking, pose] that writes
// the retry verdict.
func (e *Engine) InterMorphism() engine.InterMorphism {
	return func(ctx context.Context, inputs []any) (map[string]any, error) {
		if err := morphisms.RequireInputs(inputs, engine.KeyDocking, engine.KeyPose); err != nil {
			return nil, err
		}
		docking, err := morphisms.AsText(inputs[0])
		if err != nil {
			return nil, fmt.Errorf("docking: %w", err)
		}
		pose, err := morphisms.AsText(inputs[1])
		if err != nil {
			return nil, fmt.Errorf("pose: %w", err)
		}

		e.mu.RLock()
		threshold := e.threshold
		e.mu.RUnlock()

		decision, err := e.Verdict(ctx, VerdictInput{
			Docking:   ParseDocking(docking),
			Pose:      ParsePose(pose),
			Threshold: threshold,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{engine.KeyRetryVerdict: decision.Retry}, nil
	}
}

// ListPolicies returns the active policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		out = append(out, *e.policies[name].policy)
	}
	return out
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	cp.policy.UpdatedAt = time.Now()
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func compilePolicy(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	pkg := extractPackageName(p.Rego)

	retry, err := rego.New(
		rego.Module(p.Name+".rego", p.Rego),
		rego.Query(fmt.Sprintf("data.%s.retry", pkg)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	reasons, err := rego.New(
		rego.Module(p.Name+".rego", p.Rego),
		rego.Query(fmt.Sprintf("data.%s.reasons", pkg)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	return &compiledPolicy{
		policy:   p,
		retry:    retry,
		reasons:  reasons,
		compiled: time.Now(),
	}, nil
}

// evaluatePolicy runs the retry and reasons queries of one policy.
func evaluatePolicy(ctx context.Context, cp *compiledPolicy, input VerdictInput) (bool, []string, error) {
	doc := map[string]interface{}{
		"docking": map[string]interface{}{
			"affinity": nil,
			"models":   input.Docking.Models,
		},
		"pose":      map[string]interface{}{"records": input.Pose.Records},
		"threshold": input.Threshold,
	}
	if input.Docking.Affinity != nil {
		doc["docking"].(map[string]interface{})["affinity"] = *input.Docking.Affinity
	}

	results, err := cp.retry.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return false, nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	retry := false
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		v, ok := results[0].Expressions[0].Value.(bool)
		if !ok {
			return false, nil, fmt.Errorf("retry must be a boolean, got %T", results[0].Expressions[0].Value)
		}
		retry = v
	}
	if !retry {
		return false, nil, nil
	}

	results, err = cp.reasons.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return false, nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var reasons []string
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		if set, ok := result.Expressions[0].Value.([]interface{}); ok {
			for _, r := range set {
				reasons = append(reasons, fmt.Sprintf("%v", r))
			}
		}
	}
	return true, reasons, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(rego string) string {
	lines := strings.Split(rego, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "updohilo.verdict"
}
