// Package config provides CUE-based runner configuration for WebPilot.
//
// # Overview
//
// The config package loads the runner configuration that surrounds workflow
// execution: which driver to talk to, how the engine should pace and judge
// steps, where artifacts and run history go, and which template variables
// workflows may reference. Configuration is written in CUE, validated against
// embedded schemas, merged over defaults, and finished with WEBPILOT_*
// environment overrides.
//
// # Features
//
//   - CUE configuration parsing from files, directories, and inline content
//   - Schema validation with built-in schemas for every config section
//   - Defaults-first merging: absent fields keep their default values
//   - Environment variable overrides for the operational basics
//   - Typed conversion into engine options and telemetry configuration
//   - Error reporting with file locations and line numbers
//
// # Components
//
// CUEParser: parses CUE sources, checks them against the root schema, and
// produces a validated RunnerConfig. Load is the one-call entry point used
// by the CLI.
//
// SchemaRegistry: manages the built-in CUE schemas (config, runner, driver,
// engine, telemetry, policy, artifacts) and supports custom schema
// registration.
//
// # Usage Example
//
//	parser := config.NewCUEParser()
//
//	cfg, err := parser.Load(ctx, []string{"webpilot.cue"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	opts := cfg.ToEngineOptions()
//	telemetryCfg := cfg.ToTelemetryConfig("1.4.0")
//	values, err := cfg.ToTemplateValues()
//
// # Configuration Structure
//
// A typical runner configuration:
//
//	runner: {
//	    name:        "portal-runner"
//	    environment: "staging"
//	}
//
//	driver: {
//	    kind:     "tcp"
//	    endpoint: "127.0.0.1:7878"
//	}
//
//	engine: {
//	    max_wait_for_timeout_ms: 10000
//	    phase_success_mode:      "recover"
//	    screenshot_on_error:     true
//	}
//
//	telemetry: {
//	    log_level:  "info"
//	    log_format: "json"
//	    metrics: {enabled: true, listen_address: ":9090"}
//	}
//
//	artifacts: {sink: "local", dir: "./artifacts"}
//	store: {path: "./webpilot.db"}
//	credentials: {file: "./credentials.json"}
//
//	variables: {
//	    base_url: "https://portal.example.com"
//	    username: "pilot"
//	}
//
// Workflow templates read the variables block through config.* placeholders,
// so "${config.base_url}" resolves to "https://portal.example.com".
//
// # Environment Overrides
//
// Load applies these after parsing, so they win over file values:
//
//   - WEBPILOT_LOG_LEVEL, WEBPILOT_LOG_FORMAT
//   - WEBPILOT_DRIVER ("sim", "tcp://host:port", "stdio:<command>")
//   - WEBPILOT_ARTIFACT_DIR, WEBPILOT_STORE_PATH, WEBPILOT_CREDENTIALS_FILE
//
// # Error Handling
//
// Parse and schema errors carry location information:
//
//	ValidationError{
//	    File:     "webpilot.cue",
//	    Line:     12,
//	    Column:   5,
//	    Path:     "driver.endpoint",
//	    Message:  "field not allowed",
//	    Severity: "error",
//	}
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package config
