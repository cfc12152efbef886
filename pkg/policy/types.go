package policy

import (
	"strings"
	"time"

	"github.com/webpilot/webpilot/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block a run.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block a run.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that block a run and must be
	// addressed immediately.
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a severity string to its Severity value.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityInfo:
		return SeverityInfo, true
	case SeverityWarning:
		return SeverityWarning, true
	case SeverityError:
		return SeverityError, true
	case SeverityCritical:
		return SeverityCritical, true
	default:
		return "", false
	}
}

// Policy represents an admission rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations of this policy.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Location identifies the workflow position that violated the policy,
	// for example "phases[0].steps[2]" or "suite_setup[1]".
	Location string `json:"location,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Details contains additional violation details.
	Details map[string]interface{} `json:"details,omitempty"`

	// Remediation provides suggested fixes.
	Remediation string `json:"remediation,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// PolicyResult represents the result of evaluating every enabled policy
// against one input. Violations carry severities error and critical and
// block the run; Warnings carry info and warning findings and do not.
type PolicyResult struct {
	// Allowed indicates if the workflow may execute.
	Allowed bool `json:"allowed"`

	// Violations lists blocking policy violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists non-blocking findings, including policies that failed
	// to evaluate.
	Warnings []PolicyViolation `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation completed.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated,
	// sorted by name.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`

	// Context contains the evaluation context information.
	Context *PolicyContext `json:"context,omitempty"`
}

// PolicyInput is the input document handed to Rego evaluation. Exactly one
// of Workflow and Step is set per evaluation.
type PolicyInput struct {
	// Workflow is the parsed workflow being admitted.
	Workflow *engine.Workflow `json:"workflow,omitempty"`

	// Step is a single step being admitted outside a workflow.
	Step *engine.Step `json:"step,omitempty"`

	// Context provides additional evaluation context.
	Context *PolicyContext `json:"context"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// User is the user running the workflow.
	User string `json:"user,omitempty"`

	// Environment is the runner environment (e.g. "production", "staging").
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being performed ("run", "validate", "exec").
	Operation string `json:"operation,omitempty"`

	// Driver is the driver spec the workflow would execute against.
	Driver string `json:"driver,omitempty"`

	// DryRun indicates the workflow is being checked without execution.
	DryRun bool `json:"dry_run"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PolicyBundle represents a collection of related policies.
type PolicyBundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}
