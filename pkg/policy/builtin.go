package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in admission policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		navigationTargetsPolicy(),
		credentialLiteralsPolicy(),
		screenshotPathsPolicy(),
		scriptRestrictionsPolicy(),
		workflowShapePolicy(),
	}
}

// stepEnumRules enumerates every step of the input together with its
// location: phase steps, the setup and recovery lists, and the single-step
// form. Policies compile in isolation and cannot import helpers from one
// another, so each step-scanning module embeds these rules.
const stepEnumRules = `
workflow_steps contains entry if {
	some pi, phase in input.workflow.phases
	some si, step in phase.steps
	entry := {"step": step, "location": sprintf("phases[%d].steps[%d]", [pi, si])}
}

workflow_steps contains entry if {
	some si, step in input.workflow.suite_setup
	entry := {"step": step, "location": sprintf("suite_setup[%d]", [si])}
}

workflow_steps contains entry if {
	some si, step in input.workflow.error_recovery
	entry := {"step": step, "location": sprintf("error_recovery[%d]", [si])}
}

workflow_steps contains entry if {
	input.step
	entry := {"step": input.step, "location": "step"}
}
`

// navigationTargetsPolicy restricts where navigation steps may point.
func navigationTargetsPolicy() Policy {
	return Policy{
		Name:        "navigation-targets",
		Description: "Restricts navigation steps to http and https URLs and denies known metadata hosts",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"navigation", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package webpilot.policies.navigation

import rego.v1

nav_actions := ["open", "navigate", "login"]

blocked_hosts := ["169.254.169.254", "metadata.google.internal"]
` + stepEnumRules + `
# URLs with an explicit scheme must use http or https. Placeholder URLs are
# resolved at run time and cannot be judged here.
deny contains violation if {
	some entry in workflow_steps
	entry.step.action in nav_actions
	url := entry.step.params.url
	is_string(url)
	not contains(url, "${")
	regex.match("^[a-z][a-z0-9+.-]*:", lower(url))
	not regex.match("^https?://", lower(url))
	violation := {
		"message": sprintf("%s navigates to '%s'; only http and https URLs are allowed", [entry.location, url]),
		"severity": "error",
		"location": entry.location,
	}
}

deny contains violation if {
	some entry in workflow_steps
	entry.step.action in nav_actions
	url := entry.step.params.url
	is_string(url)
	some host in blocked_hosts
	contains(lower(url), host)
	violation := {
		"message": sprintf("%s navigates to blocked host '%s'", [entry.location, host]),
		"severity": "critical",
		"location": entry.location,
	}
}`,
	}
}

// credentialLiteralsPolicy catches plaintext credentials in fill and login
// steps.
func credentialLiteralsPolicy() Policy {
	return Policy{
		Name:        "credential-literals",
		Description: "Denies literal credential values in fill and login steps; credentials must come from placeholders",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"credentials", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package webpilot.policies.credentials

import rego.v1

fill_actions := ["fill", "input"]

secret_markers := ["password", "secret", "token", "api_key", "apikey", "passphrase"]
` + stepEnumRules + `
deny contains violation if {
	some entry in workflow_steps
	entry.step.action in fill_actions
	selector := entry.step.params.selector
	is_string(selector)
	some marker in secret_markers
	contains(lower(selector), marker)
	some key in ["text", "value"]
	text := entry.step.params[key]
	is_string(text)
	text != ""
	not contains(text, "${")
	violation := {
		"message": sprintf("%s fills '%s' with a literal value; use a placeholder for credentials", [entry.location, selector]),
		"severity": "error",
		"location": entry.location,
	}
}

deny contains violation if {
	some entry in workflow_steps
	entry.step.action == "login"
	password := entry.step.params.password
	is_string(password)
	password != ""
	not contains(password, "${")
	violation := {
		"message": sprintf("%s passes a literal password to login; use a placeholder", [entry.location]),
		"severity": "error",
		"location": entry.location,
	}
}`,
	}
}

// screenshotPathsPolicy keeps screenshot output inside the artifact
// directory.
func screenshotPathsPolicy() Policy {
	return Policy{
		Name:        "screenshot-paths",
		Description: "Denies screenshot paths that escape the artifact directory",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"artifacts", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package webpilot.policies.artifacts

import rego.v1
` + stepEnumRules + `
deny contains violation if {
	some entry in workflow_steps
	entry.step.action == "screenshot"
	path := entry.step.params.path
	is_string(path)
	contains(path, "..")
	violation := {
		"message": sprintf("%s writes a screenshot to '%s'; parent directory segments are not allowed", [entry.location, path]),
		"severity": "error",
		"location": entry.location,
	}
}

deny contains violation if {
	some entry in workflow_steps
	entry.step.action == "screenshot"
	path := entry.step.params.path
	is_string(path)
	startswith(path, "/")
	violation := {
		"message": sprintf("%s writes a screenshot to absolute path '%s'; paths must stay inside the artifact directory", [entry.location, path]),
		"severity": "error",
		"location": entry.location,
	}
}`,
	}
}

// scriptRestrictionsPolicy controls where inline scripts may run.
func scriptRestrictionsPolicy() Policy {
	return Policy{
		Name:        "script-restrictions",
		Description: "Denies eval_script in production and flags script use elsewhere for review",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"scripting", "production", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package webpilot.policies.scripts

import rego.v1
` + stepEnumRules + `
deny contains violation if {
	some entry in workflow_steps
	entry.step.action == "eval_script"
	input.context.environment == "production"
	not input.context.dry_run
	violation := {
		"message": sprintf("%s runs an inline script; eval_script is not allowed in production", [entry.location]),
		"severity": "critical",
		"location": entry.location,
	}
}

deny contains violation if {
	some entry in workflow_steps
	entry.step.action == "eval_script"
	input.context.environment != "production"
	violation := {
		"message": sprintf("%s runs an inline script; review before promoting the workflow", [entry.location]),
		"severity": "info",
		"location": entry.location,
	}
}`,
	}
}

// workflowShapePolicy flags structurally suspect workflows.
func workflowShapePolicy() Policy {
	return Policy{
		Name:        "workflow-shape",
		Description: "Flags workflows with no phases, phases with no steps, and step counts above the review threshold",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"hygiene"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package webpilot.policies.shape

import rego.v1

max_total_steps := 200

phase_total := count([p | some p in input.workflow.phases])

step_total := count([s | some phase in input.workflow.phases; some s in phase.steps])

deny contains violation if {
	input.workflow
	phase_total == 0
	violation := {
		"message": sprintf("Workflow '%s' declares no phases and will succeed vacuously", [input.workflow.name]),
		"severity": "info",
		"location": "phases",
	}
}

deny contains violation if {
	some pi, phase in input.workflow.phases
	count([s | some s in phase.steps]) == 0
	violation := {
		"message": sprintf("Phase '%s' has no steps", [phase.name]),
		"severity": "warning",
		"location": sprintf("phases[%d]", [pi]),
	}
}

deny contains violation if {
	input.workflow
	step_total > max_total_steps
	violation := {
		"message": sprintf("Workflow '%s' has %d steps, above the review threshold of %d", [input.workflow.name, step_total, max_total_steps]),
		"severity": "warning",
		"location": "phases",
	}
}`,
	}
}
