package policy

import (
	"time"

	"github.com/google/uuid"
)

// PolicyReport aggregates one or more evaluation results, typically one per
// workflow file checked by a validate pass.
type PolicyReport struct {
	// ID is the unique identifier for this report.
	ID string `json:"id"`

	// GeneratedAt is when the report was generated.
	GeneratedAt time.Time `json:"generated_at"`

	// Results are the individual evaluation results.
	Results []*PolicyResult `json:"results"`

	// Summary provides aggregate statistics.
	Summary *PolicySummary `json:"summary"`
}

// PolicySummary provides aggregate statistics across evaluation results.
type PolicySummary struct {
	// TotalPolicies is the number of distinct policies evaluated.
	TotalPolicies int `json:"total_policies"`

	// TotalViolations is the total number of blocking violations.
	TotalViolations int `json:"total_violations"`

	// TotalWarnings is the total number of non-blocking findings.
	TotalWarnings int `json:"total_warnings"`

	// ViolationsBySeverity breaks down all findings by severity.
	ViolationsBySeverity map[Severity]int `json:"violations_by_severity"`

	// AllowedRuns is the number of results that passed admission.
	AllowedRuns int `json:"allowed_runs"`

	// BlockedRuns is the number of results that failed admission.
	BlockedRuns int `json:"blocked_runs"`

	// EvaluationDuration is the summed evaluation time.
	EvaluationDuration time.Duration `json:"evaluation_duration"`
}

// NewReport builds a report over the given evaluation results.
func NewReport(results ...*PolicyResult) *PolicyReport {
	summary := &PolicySummary{
		ViolationsBySeverity: make(map[Severity]int),
	}
	seen := make(map[string]struct{})

	kept := make([]*PolicyResult, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		kept = append(kept, r)

		summary.TotalViolations += len(r.Violations)
		summary.TotalWarnings += len(r.Warnings)
		for _, v := range r.Violations {
			summary.ViolationsBySeverity[v.Severity]++
		}
		for _, v := range r.Warnings {
			summary.ViolationsBySeverity[v.Severity]++
		}
		if r.Allowed {
			summary.AllowedRuns++
		} else {
			summary.BlockedRuns++
		}
		summary.EvaluationDuration += r.Duration
		for _, name := range r.EvaluatedPolicies {
			seen[name] = struct{}{}
		}
	}
	summary.TotalPolicies = len(seen)

	return &PolicyReport{
		ID:          uuid.NewString(),
		GeneratedAt: time.Now(),
		Results:     kept,
		Summary:     summary,
	}
}
