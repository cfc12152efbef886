package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Names of the built-in schemas.
const (
	SchemaConfig    = "config"
	SchemaRunner    = "runner"
	SchemaDriver    = "driver"
	SchemaEngine    = "engine"
	SchemaTelemetry = "telemetry"
	SchemaPolicy    = "policy"
	SchemaArtifacts = "artifacts"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// Context returns the registry's CUE context. Values unified with registry
// schemas must be built from this context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// registerBuiltInSchemas registers the built-in schema definitions. They
// compile from a single source so definitions can reference each other.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	val := sr.ctx.CompileString(builtinSchemaSource)

	builtins := map[string]string{
		SchemaConfig:    "#Config",
		SchemaRunner:    "#Runner",
		SchemaDriver:    "#Driver",
		SchemaEngine:    "#Engine",
		SchemaTelemetry: "#Telemetry",
		SchemaPolicy:    "#Policy",
		SchemaArtifacts: "#Artifacts",
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	for name, path := range builtins {
		schema := val.LookupPath(cue.ParsePath(path))
		if schema.Exists() {
			sr.schemas[name] = schema
		}
	}
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema. The data
// must be fully concrete; use this on resolved configuration values.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions. Optional fields stay optional here; the
// defaults in DefaultRunnerConfig fill them before Go-side validation.

const builtinSchemaSource = `
// Runner configuration schema for webpilot.
#Config: {
	runner?:      #Runner
	driver?:      #Driver
	engine?:      #Engine
	telemetry?:   #Telemetry
	policy?:      #Policy
	artifacts?:   #Artifacts
	store?:       #Store
	credentials?: #Credentials

	// Variables are exposed to workflow templates under config.*.
	variables?: {[string]: _}
}

#Runner: {
	// Name identifies the runner in telemetry and stored run records.
	name: string & =~"^[a-zA-Z0-9_-]+$"

	// Environment is the deployment environment.
	environment?: "development" | "staging" | "production"
}

#Driver: {
	// Kind selects the driver transport. The sim driver runs in-process.
	kind: "sim" | "tcp" | "stdio"

	// Endpoint is the dial target for tcp (host:port) or the command
	// line for stdio drivers.
	endpoint?: string

	// ConnectTimeoutMS bounds the dial and protocol handshake.
	connect_timeout_ms?: int & >=0

	// CallTimeoutMS bounds a single command round-trip.
	call_timeout_ms?: int & >=0

	// Remote drivers need somewhere to dial.
	if kind == "tcp" {
		endpoint: string & !=""
	}
	if kind == "stdio" {
		endpoint: string & !=""
	}
}

#Engine: {
	// Locate budget for wait/click/fill steps without an explicit timeout.
	max_wait_for_timeout_ms?: int & >=0

	// Per-step execution deadline.
	max_step_duration_ms?: int & >=0

	// Poll quanta for selector candidate rounds.
	wait_poll_interval_ms?:  int & >=0
	click_poll_interval_ms?: int & >=0

	// Phase outcome semantics.
	phase_success_mode?: "strict" | "recover"

	fail_fast?:             bool
	stop_on_phase_failure?: bool
	screenshot_on_error?:   bool
}

#Telemetry: {
	log_level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal"
	log_format?: "console" | "json"

	metrics?: {
		enabled?:        bool
		listen_address?: string
	}

	tracing?: {
		enabled?:  bool
		exporter?: "otlp" | "stdout" | "none"
		endpoint?: string
	}
}

#Policy: {
	enabled?:      bool
	paths?: [...string]
	mode?:         "advisory" | "enforcing"
	on_violation?: "warn" | "fail"
}

#Artifacts: {
	// Sink selects the artifact destination.
	sink?: "local" | "sftp"

	// Dir is the local artifact directory, also the staging area for
	// remote sinks.
	dir?: string

	sftp?: #SFTP

	// The remote sink needs connection settings.
	if sink == "sftp" {
		sftp: #SFTP
	}
}

#SFTP: {
	host: string & !=""
	user: string & !=""
	port?: int & >0 & <65536
	key_file?:         string
	password?:         string
	known_hosts_file?: string
	base_dir?:         string
}

#Store: {
	// Path is the SQLite database file. Empty disables run history.
	path?: string
}

#Credentials: {
	// File is the credentials file watched for hot reload.
	file?: string
}
`

// ValidateConfig validates a full runner configuration against the root
// config schema.
func (sr *SchemaRegistry) ValidateConfig(ctx context.Context, cfg RunnerConfig) error {
	return sr.ValidateAgainstSchema(ctx, SchemaConfig, cfg)
}

// ValidateRunner validates runner settings against the runner schema.
func (sr *SchemaRegistry) ValidateRunner(ctx context.Context, runner RunnerSettings) error {
	return sr.ValidateAgainstSchema(ctx, SchemaRunner, runner)
}

// ValidateDriver validates a driver configuration against the driver schema.
func (sr *SchemaRegistry) ValidateDriver(ctx context.Context, driver DriverConfig) error {
	return sr.ValidateAgainstSchema(ctx, SchemaDriver, driver)
}

// ValidateEngine validates an engine configuration against the engine schema.
func (sr *SchemaRegistry) ValidateEngine(ctx context.Context, engine EngineConfig) error {
	return sr.ValidateAgainstSchema(ctx, SchemaEngine, engine)
}

// ValidateTelemetry validates a telemetry configuration against the
// telemetry schema.
func (sr *SchemaRegistry) ValidateTelemetry(ctx context.Context, tel TelemetryConfig) error {
	return sr.ValidateAgainstSchema(ctx, SchemaTelemetry, tel)
}

// ValidatePolicy validates a policy configuration against the policy schema.
func (sr *SchemaRegistry) ValidatePolicy(ctx context.Context, policy PolicyConfig) error {
	return sr.ValidateAgainstSchema(ctx, SchemaPolicy, policy)
}

// ValidateArtifacts validates an artifact configuration against the
// artifacts schema.
func (sr *SchemaRegistry) ValidateArtifacts(ctx context.Context, artifacts ArtifactConfig) error {
	return sr.ValidateAgainstSchema(ctx, SchemaArtifacts, artifacts)
}
