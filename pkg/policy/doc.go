// Package policy provides Open Policy Agent (OPA) admission checks for
// webpilot workflows.
//
// Workflows are evaluated against Rego policies after parsing and before
// execution. The package ships built-in policies for common safety
// requirements and supports loading custom policies from files and
// directories, with hot reload.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles policies and evaluates them against workflows
//  2. Loader - Loads policies from files, directories, and bundles
//  3. Types - Data structures for policies, violations, and results
//  4. Built-in Policies - Pre-defined policies for common requirements
//
// # Usage
//
// Creating a policy engine and admitting a workflow:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := eng.EvaluateWorkflow(ctx, workflow, &policy.PolicyContext{
//	    Environment: "production",
//	    Operation:   "run",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("%s at %s: %s\n", violation.Policy, violation.Location, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/webpilot/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = eng.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. navigation-targets - Navigation must use http/https and avoid metadata hosts
//  2. credential-literals - No plaintext credentials in fill or login steps
//  3. screenshot-paths - Screenshots must stay inside the artifact directory
//  4. script-restrictions - eval_script is denied in production
//  5. workflow-shape - Flags empty phases and oversized workflows
//
// # Input Document
//
// Policies receive the parsed workflow under input.workflow, shaped exactly
// like the workflow JSON: name, phases (each with name and steps), optional
// suite_setup and error_recovery step lists, and selectors. Single-step
// admission (the exec path) places the step under input.step instead.
// Runner information is available under input.context: environment,
// operation, driver, user, and dry_run.
//
// # Custom Policies
//
// Custom policies are Rego modules with a deny set. Violations are either
// plain strings or maps with message, severity, and location keys:
//
//	# Deny workflows that sleep for more than a minute.
//	# severity: error
//	# tags: hygiene
//
//	package custom.policies.sleeps
//
//	import rego.v1
//
//	deny contains violation if {
//	    some pi, phase in input.workflow.phases
//	    some si, step in phase.steps
//	    step.action == "sleep"
//	    step.params.duration_ms > 60000
//	    violation := {
//	        "message": "sleep longer than a minute hides a missing wait_for",
//	        "severity": "error",
//	        "location": sprintf("phases[%d].steps[%d]", [pi, si]),
//	    }
//	}
//
// The comment block before the package declaration is parsed by the loader:
// "severity:" and "tags:" lines are directives, and the remaining lines
// become the policy description.
//
// # Admission Points
//
// Policies are evaluated at three points:
//
//  1. run - Before a workflow executes
//  2. validate - When checking workflow files without executing them
//  3. exec - Before a single one-off action
//
// # Severity Levels
//
// Findings have four severity levels:
//
//   - info: Informational, reported under Warnings
//   - warning: Should be reviewed, reported under Warnings
//   - error: Blocks the run, reported under Violations
//   - critical: Blocks the run and requires immediate attention
//
// A result is Allowed exactly when Violations is empty.
//
// # Hot Reload
//
// The loader watches policy files for changes and reapplies them:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.ApplyPolicies(ctx, policies)
//	})
//
// # Performance
//
// Each policy's deny query is prepared once at compile time and reused for
// every evaluation. The loader caches parsed files until a change event
// invalidates them.
package policy
