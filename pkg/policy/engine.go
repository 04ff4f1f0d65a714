package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/stead/pkg/engine"
)

// Engine evaluates Rego admission policies against project definitions.
type Engine struct {
	mu       sync.RWMutex
	policies []*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates an engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}

	for _, p := range BuiltinPolicies() {
		if err := e.add(context.Background(), p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	e.logger.Debug().Int("count", len(e.policies)).Msg("Built-in policies loaded")
	return e, nil
}

// LoadPolicies compiles the .rego files found under paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(paths)
	if err != nil {
		return err
	}

	for _, p := range policies {
		if err := e.add(ctx, p); err != nil {
			return engine.NewConfigError(fmt.Sprintf("failed to compile policy %s", p.Name), err).WithPath(p.Source)
		}
	}

	if len(policies) > 0 {
		e.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	}
	return nil
}

// add compiles p and prepares a query for its deny set.
func (e *Engine) add(ctx context.Context, p Policy) error {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query := module.Package.Path.String() + ".deny"
	prepared, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, cp := range e.policies {
		if cp.policy.Name == p.Name {
			e.policies[i] = &compiledPolicy{policy: &p, query: prepared}
			return nil
		}
	}
	e.policies = append(e.policies, &compiledPolicy{policy: &p, query: prepared})
	return nil
}

// ListPolicies returns the loaded policies in load order.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// Evaluate checks every project against every policy. Violations are ordered
// by project name, then policy load order.
func (e *Engine) Evaluate(ctx context.Context, projects map[string]*engine.Project) (*Result, error) {
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(projects))
	for name := range projects {
		names = append(names, name)
	}
	sort.Strings(names)

	result := &Result{EvaluatedPolicies: make([]string, 0, len(e.policies))}
	for _, cp := range e.policies {
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)
	}

	for _, name := range names {
		project := projects[name]
		input := &Input{Project: project}

		for _, cp := range e.policies {
			violations, err := e.evaluatePolicy(ctx, cp, input)
			if err != nil {
				return nil, fmt.Errorf("policy %s failed on project %s: %w", cp.policy.Name, name, err)
			}
			result.Violations = append(result.Violations, violations...)
		}
	}

	result.Duration = time.Since(start)

	e.logger.Debug().
		Int("projects", len(projects)).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, input.Project))
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// createViolation converts a deny set member, a string or an object with
// message and severity, into a Violation.
func createViolation(p *Policy, result interface{}, project *engine.Project) Violation {
	v := Violation{
		Policy:   p.Name,
		Project:  project.Name,
		Path:     project.DefinitionFile,
		Severity: p.Severity,
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}

	return v
}
