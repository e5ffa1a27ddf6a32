package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/generation"
)

// Engine evaluates Rego deny rules against generations.
type Engine struct {
	mu       sync.RWMutex
	policies []*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   Policy
	pkg      string
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(ctx context.Context, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.Add(ctx, GetBuiltinPolicies()...); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Add compiles policies and appends them to the engine. A policy with the
// same name as a loaded one replaces it.
func (e *Engine) Add(ctx context.Context, policies ...Policy) error {
	compiled := make([]*compiledPolicy, 0, len(policies))
	for _, p := range policies {
		cp, err := compile(ctx, p)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", p.Name).
				Msg("Failed to compile policy")
			return err
		}
		compiled = append(compiled, cp)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cp := range compiled {
		replaced := false
		for i, existing := range e.policies {
			if existing.policy.Name == cp.policy.Name {
				e.policies[i] = cp
				replaced = true
				break
			}
		}
		if !replaced {
			e.policies = append(e.policies, cp)
		}
		e.logger.Debug().Str("policy", cp.policy.Name).Str("package", cp.pkg).Msg("Policy compiled")
	}
	return nil
}

// LoadDir loads every policy file in dir.
func (e *Engine) LoadDir(ctx context.Context, dir string) error {
	policies, err := NewLoader(e.logger).LoadDir(ctx, dir)
	if err != nil {
		return err
	}
	if err := e.Add(ctx, policies...); err != nil {
		return err
	}

	e.logger.Debug().
		Int("count", len(policies)).
		Str("dir", dir).
		Msg("User policies loaded")
	return nil
}

func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	pkg, err := packageOf(p.Name, p.Rego)
	if err != nil {
		return nil, err
	}

	r := rego.New(
		rego.Module(p.Name+".rego", p.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, errors.Newf(errors.KindConfigMalformed, "failed to compile policy %s", p.Name).
			WithResource(p.Name).
			WithCause(err)
	}

	if p.Severity == "" {
		p.Severity = SeverityError
	}
	return &compiledPolicy{policy: p, pkg: pkg, query: query, compiled: time.Now()}, nil
}

// Evaluate runs every enabled policy against input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, Violations: []Violation{}}

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		result.Evaluated = append(result.Evaluated, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	sort.SliceStable(result.Violations, func(i, j int) bool {
		a, b := result.Violations[i], result.Violations[j]
		if a.Policy != b.Policy {
			return a.Policy < b.Policy
		}
		if a.Manager != b.Manager {
			return a.Manager < b.Manager
		}
		return a.Message < b.Message
	})

	for _, v := range result.Violations {
		if v.Severity == SeverityError {
			result.Allowed = false
			break
		}
	}
	result.EvaluatedAt = time.Now()

	e.logger.Debug().
		Str("operation", input.Operation).
		Int("violations", len(result.Violations)).
		Dur("duration", time.Since(startTime)).
		Msg("Policy evaluation completed")

	return result, nil
}

// Check evaluates g and returns a policy_denied error when any error-level
// violation is found. The result is returned in both cases.
func (e *Engine) Check(ctx context.Context, g generation.Generation, operation, hostname string) (*Result, error) {
	result, err := e.Evaluate(ctx, NewInput(g, operation, hostname))
	if err != nil {
		return nil, err
	}
	if result.Allowed {
		return result, nil
	}

	denied := result.Errors()
	messages := make([]string, 0, len(denied))
	for _, v := range denied {
		messages = append(messages, v.Message)
	}
	return result, errors.Newf(errors.KindPolicyDenied, "generation rejected by policy: %s", strings.Join(messages, "; ")).
		WithOp(operation).
		WithDetail("violations", denied)
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
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
			violations = append(violations, createViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// createViolation creates a Violation from one deny entry. Entries are either
// plain strings or objects with message, severity, manager and item keys.
func createViolation(policy Policy, entry interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := entry.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && (Severity(sev) == SeverityWarning || Severity(sev) == SeverityError) {
			violation.Severity = Severity(sev)
		}
		if m, ok := v["manager"].(string); ok {
			violation.Manager = m
		}
		if item, ok := v["item"].(string); ok {
			violation.Item = item
		}
	default:
		violation.Message = fmt.Sprintf("%v", entry)
	}

	return violation
}

// Policies returns the loaded policies in evaluation order.
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, cp.policy)
	}
	return policies
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cp := range e.policies {
		if cp.policy.Name == name {
			cp.policy.Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("policy not found: %s", name)
}
