package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/webpilot/webpilot/pkg/engine"
)

// Engine compiles admission policies and evaluates them against workflows
// before execution.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	builtinPolicies []Policy
}

// compiledPolicy pairs a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           inmem.New(),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// EvaluateWorkflow evaluates every enabled policy against a parsed workflow.
// Violations of severity error or critical block the run; info and warning
// findings are reported without affecting Allowed.
func (e *Engine) EvaluateWorkflow(ctx context.Context, wf *engine.Workflow, pctx *PolicyContext) (*PolicyResult, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow is nil")
	}
	pctx = normalizeContext(pctx, "run")

	result, err := e.evaluate(ctx, &PolicyInput{Workflow: wf, Context: pctx})
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("workflow", wf.Name).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Workflow policy evaluation completed")

	return result, nil
}

// EvaluateStep evaluates every enabled policy against a single step, the
// admission path for one-off action execution.
func (e *Engine) EvaluateStep(ctx context.Context, step *engine.Step, pctx *PolicyContext) (*PolicyResult, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	pctx = normalizeContext(pctx, "exec")

	result, err := e.evaluate(ctx, &PolicyInput{Step: step, Context: pctx})
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("action", step.Action).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Step policy evaluation completed")

	return result, nil
}

// normalizeContext fills the operation and timestamp on a copy of the given
// context, or builds a fresh one when nil.
func normalizeContext(pctx *PolicyContext, operation string) *PolicyContext {
	normalized := PolicyContext{}
	if pctx != nil {
		normalized = *pctx
	}
	if normalized.Operation == "" {
		normalized.Operation = operation
	}
	if normalized.Timestamp.IsZero() {
		normalized.Timestamp = time.Now()
	}
	return &normalized
}

// evaluate runs every enabled policy against the input and splits findings
// into blocking violations and non-blocking warnings.
func (e *Engine) evaluate(ctx context.Context, input *PolicyInput) (*PolicyResult, error) {
	started := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	// Policies run in name order so results are stable across evaluations.
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []PolicyViolation
	var warnings []PolicyViolation
	evaluated := make([]string, 0, len(names))

	for _, name := range names {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		evaluated = append(evaluated, name)

		found, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Msg("Policy evaluation failed")
			warnings = append(warnings, PolicyViolation{
				Policy:     name,
				Message:    fmt.Sprintf("policy evaluation failed: %v", err),
				Severity:   SeverityWarning,
				DetectedAt: time.Now(),
			})
			continue
		}

		for _, v := range found {
			switch v.Severity {
			case SeverityError, SeverityCritical:
				violations = append(violations, v)
			default:
				warnings = append(warnings, v)
			}
		}
	}

	return &PolicyResult{
		Allowed:           len(violations) == 0,
		Violations:        violations,
		Warnings:          warnings,
		EvaluatedAt:       time.Now(),
		EvaluatedPolicies: evaluated,
		Duration:          time.Since(started),
		Context:           input.Context,
	}, nil
}

// evaluatePolicy runs one compiled policy's deny query against the input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PolicyInput) ([]PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.createViolation(cp.policy, d))
		}
	}

	return violations, nil
}

// createViolation builds a PolicyViolation from one deny result, which is
// either a plain message string or a map carrying message, severity, and
// location keys.
func (e *Engine) createViolation(policy *Policy, result interface{}) PolicyViolation {
	violation := PolicyViolation{
		Policy:     policy.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			if parsed, valid := ParseSeverity(sev); valid {
				violation.Severity = parsed
			}
		}
		if loc, ok := v["location"].(string); ok {
			violation.Location = loc
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// LoadPolicies loads and compiles policies from file or directory paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	return e.ApplyPolicies(ctx, policies)
}

// ApplyPolicies compiles and stores the given policies, replacing same-named
// entries. Suitable as the reload callback for Loader.Watch.
func (e *Engine) ApplyPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// compileAndStorePolicy parses the policy and prepares its deny query for
// reuse. Callers must hold the write lock.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	if _, err := ast.ParseModule(policy.Name, policy.Rego); err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(denyQuery(policy.Rego)),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled")

	return nil
}

// denyQuery builds the query for the deny set of the policy's package.
func denyQuery(source string) string {
	return fmt.Sprintf("data.%s.deny", extractPackageName(source))
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "webpilot.policies"
}

// loadBuiltinPolicies compiles the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		if err := e.compileAndStorePolicy(ctx, &e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies, sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Name < policies[j].Name
	})

	return policies
}

// ReloadPolicies drops every loaded policy and restores the built-in set.
// File-loaded policies must be re-applied by the caller afterwards.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)

	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("Policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")

	return nil
}
