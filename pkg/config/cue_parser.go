package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// Environment variables recognized by Load. They override values from CUE
// sources and defaults.
const (
	EnvLogLevel        = "WEBPILOT_LOG_LEVEL"
	EnvLogFormat       = "WEBPILOT_LOG_FORMAT"
	EnvDriver          = "WEBPILOT_DRIVER"
	EnvArtifactDir     = "WEBPILOT_ARTIFACT_DIR"
	EnvStorePath       = "WEBPILOT_STORE_PATH"
	EnvCredentialsFile = "WEBPILOT_CREDENTIALS_FILE"
)

// CUEParser parses and validates CUE runner configuration.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser. Parser and schema registry share
// one CUE context; values from different contexts cannot be unified.
func NewCUEParser() *CUEParser {
	registry := NewSchemaRegistry()
	return &CUEParser{
		ctx:            registry.Context(),
		schemaRegistry: registry,
		validator:      validator.New(),
	}
}

// Load parses the given CUE sources, applies environment overrides, and
// returns the validated runner configuration. With no sources it starts
// from the defaults.
func (cp *CUEParser) Load(ctx context.Context, sources []string) (*RunnerConfig, error) {
	cfg := DefaultRunnerConfig()

	if len(sources) > 0 {
		parsed, err := cp.Parse(ctx, sources)
		if err != nil {
			return nil, err
		}
		if len(parsed.Errors) > 0 {
			return nil, fmt.Errorf("configuration errors: %v", parsed.Errors)
		}
		*cfg = parsed.Config
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cp.Validate(ctx, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates a resolved runner configuration.
func (cp *CUEParser) Validate(ctx context.Context, cfg *RunnerConfig) error {
	if err := cp.validator.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Cross-field requirements the struct tags cannot express.
	if (cfg.Driver.Kind == "tcp" || cfg.Driver.Kind == "stdio") && cfg.Driver.Endpoint == "" {
		return fmt.Errorf("driver endpoint is required for %s drivers", cfg.Driver.Kind)
	}
	if cfg.Artifacts.Sink == "sftp" {
		if cfg.Artifacts.SFTP == nil {
			return fmt.Errorf("sftp settings are required for the sftp artifact sink")
		}
		if cfg.Artifacts.SFTP.KeyFile == "" && cfg.Artifacts.SFTP.Password == "" {
			return fmt.Errorf("sftp artifact sink requires a key file or a password")
		}
	}

	return nil
}

// Parse parses CUE configuration from the given sources. Sources may be
// files or directories; multiple sources are unified.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedConfig, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			val, files, errs := cp.loadDirectory(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs := cp.loadFile(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, source)
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedConfig{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		parseErrors = append(parseErrors, cp.convertCUEErrors(err)...)
		return &ParsedConfig{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if errs := cp.checkDocument(cueValue); len(errs) > 0 {
		return &ParsedConfig{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      errs,
		}, nil
	}

	return cp.extractConfig(cueValue, sourceFiles)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedConfig, error) {
	val := cp.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return &ParsedConfig{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	if errs := cp.checkDocument(val); len(errs) > 0 {
		return &ParsedConfig{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      errs,
		}, nil
	}

	return cp.extractConfig(val, []string{"inline"})
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// checkDocument validates the unified document against the root config
// schema. Absent sections are tolerated here; requiredness is enforced by
// Validate after defaults are applied.
func (cp *CUEParser) checkDocument(val cue.Value) []ValidationError {
	schema, ok := cp.schemaRegistry.GetSchema(SchemaConfig)
	if !ok {
		return nil
	}

	unified := schema.Unify(val)
	if err := unified.Validate(); err != nil {
		return cp.convertCUEErrors(err)
	}

	return nil
}

// extractConfig decodes the document sections over the defaults, so fields
// a source leaves out keep their default values.
func (cp *CUEParser) extractConfig(val cue.Value, sourceFiles []string) (*ParsedConfig, error) {
	parsed := &ParsedConfig{
		Config:      *DefaultRunnerConfig(),
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	sections := []struct {
		path string
		into interface{}
	}{
		{"runner", &parsed.Config.Runner},
		{"driver", &parsed.Config.Driver},
		{"engine", &parsed.Config.Engine},
		{"telemetry", &parsed.Config.Telemetry},
		{"policy", &parsed.Config.Policy},
		{"artifacts", &parsed.Config.Artifacts},
		{"store", &parsed.Config.Store},
		{"credentials", &parsed.Config.Credentials},
		{"variables", &parsed.Config.Variables},
	}

	for _, section := range sections {
		sv := val.LookupPath(cue.ParsePath(section.path))
		if !sv.Exists() {
			continue
		}
		if err := sv.Decode(section.into); err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{
				Path:     section.path,
				Message:  fmt.Sprintf("failed to decode %s: %v", section.path, err),
				Severity: "error",
			})
		}
	}

	return parsed, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// ValidateWithSchema validates a value against a named schema.
func (cp *CUEParser) ValidateWithSchema(ctx context.Context, data interface{}, schemaName string) error {
	return cp.schemaRegistry.ValidateAgainstSchema(ctx, schemaName, data)
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ExtractValue extracts a specific path from a CUE configuration.
func (cp *CUEParser) ExtractValue(val cue.Value, path string) (interface{}, error) {
	v := val.LookupPath(cue.ParsePath(path))
	if !v.Exists() {
		return nil, fmt.Errorf("path %s not found", path)
	}

	var result interface{}
	if err := v.Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode value at %s: %w", path, err)
	}

	return result, nil
}

// ExportJSON exports a CUE value to JSON.
func (cp *CUEParser) ExportJSON(val cue.Value) ([]byte, error) {
	var data interface{}
	if err := val.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	return json.MarshalIndent(data, "", "  ")
}

// applyEnvOverrides applies WEBPILOT_* environment variables onto cfg.
func applyEnvOverrides(cfg *RunnerConfig) error {
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		cfg.Telemetry.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvLogFormat); ok {
		cfg.Telemetry.LogFormat = v
	}
	if v, ok := os.LookupEnv(EnvDriver); ok {
		if err := ApplyDriverSpec(&cfg.Driver, v); err != nil {
			return fmt.Errorf("%s: %w", EnvDriver, err)
		}
	}
	if v, ok := os.LookupEnv(EnvArtifactDir); ok {
		cfg.Artifacts.Dir = v
	}
	if v, ok := os.LookupEnv(EnvStorePath); ok {
		cfg.Store.Path = v
	}
	if v, ok := os.LookupEnv(EnvCredentialsFile); ok {
		cfg.Credentials.File = v
	}
	return nil
}

// ApplyDriverSpec applies a driver spec string onto cfg. Recognized forms
// are "sim", "tcp://host:port", and "stdio:<command>".
func ApplyDriverSpec(cfg *DriverConfig, spec string) error {
	switch {
	case spec == "sim":
		cfg.Kind = "sim"
		cfg.Endpoint = ""
	case strings.HasPrefix(spec, "tcp://"):
		endpoint := strings.TrimPrefix(spec, "tcp://")
		if endpoint == "" {
			return fmt.Errorf("driver spec %q has no endpoint", spec)
		}
		cfg.Kind = "tcp"
		cfg.Endpoint = endpoint
	case strings.HasPrefix(spec, "stdio:"):
		command := strings.TrimPrefix(spec, "stdio:")
		if command == "" {
			return fmt.Errorf("driver spec %q has no command", spec)
		}
		cfg.Kind = "stdio"
		cfg.Endpoint = command
	default:
		return fmt.Errorf("unrecognized driver spec %q", spec)
	}
	return nil
}
