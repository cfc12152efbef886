package config

import (
	"time"

	"github.com/webpilot/webpilot/pkg/engine"
	"github.com/webpilot/webpilot/pkg/telemetry"
)

// RunnerConfig is the fully resolved runner configuration assembled from CUE
// sources, environment overrides, and defaults.
type RunnerConfig struct {
	// Runner identifies this runner instance.
	Runner RunnerSettings `json:"runner" validate:"required"`

	// Driver selects and configures the UI automation backend.
	Driver DriverConfig `json:"driver"`

	// Engine tunes workflow execution behavior.
	Engine EngineConfig `json:"engine"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetryConfig `json:"telemetry"`

	// Policy configures workflow admission checks.
	Policy PolicyConfig `json:"policy"`

	// Artifacts configures where screenshots and result files are written.
	Artifacts ArtifactConfig `json:"artifacts"`

	// Store configures the run history database.
	Store StoreConfig `json:"store"`

	// Credentials configures the session credential source.
	Credentials CredentialConfig `json:"credentials"`

	// Variables are exposed to workflow templates under config.*.
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// RunnerSettings identifies the runner.
type RunnerSettings struct {
	// Name is the runner name, used in telemetry and stored run records.
	Name string `json:"name" validate:"required"`

	// Environment is the deployment environment.
	Environment string `json:"environment,omitempty" validate:"omitempty,oneof=development staging production"`
}

// DriverConfig selects the backend the engine executes against.
type DriverConfig struct {
	// Kind is the driver transport: "sim" runs the in-process simulator,
	// "tcp" dials a driver daemon, "stdio" spawns a driver subprocess.
	Kind string `json:"kind" validate:"required,oneof=sim tcp stdio"`

	// Endpoint is the dial target for tcp drivers (host:port) or the
	// command line for stdio drivers.
	Endpoint string `json:"endpoint,omitempty"`

	// ConnectTimeoutMS bounds the dial and protocol handshake.
	ConnectTimeoutMS int64 `json:"connect_timeout_ms,omitempty" validate:"min=0"`

	// CallTimeoutMS bounds a single driver command round-trip. Zero means
	// the step deadline alone governs.
	CallTimeoutMS int64 `json:"call_timeout_ms,omitempty" validate:"min=0"`
}

// EngineConfig carries the engine option knobs. All durations are
// milliseconds, matching the workflow DSL.
type EngineConfig struct {
	// MaxWaitForTimeoutMS is the locate budget for steps without an
	// explicit timeout.
	MaxWaitForTimeoutMS int64 `json:"max_wait_for_timeout_ms,omitempty" validate:"min=0"`

	// MaxStepDurationMS is the per-step execution deadline.
	MaxStepDurationMS int64 `json:"max_step_duration_ms,omitempty" validate:"min=0"`

	// WaitPollIntervalMS is the poll quantum for wait-kind locates.
	WaitPollIntervalMS int64 `json:"wait_poll_interval_ms,omitempty" validate:"min=0"`

	// ClickPollIntervalMS is the poll quantum for click- and fill-kind locates.
	ClickPollIntervalMS int64 `json:"click_poll_interval_ms,omitempty" validate:"min=0"`

	// PhaseSuccessMode selects strict or recover phase outcome semantics.
	PhaseSuccessMode string `json:"phase_success_mode,omitempty" validate:"omitempty,oneof=strict recover"`

	// FailFast breaks a phase on the first required-step failure.
	FailFast bool `json:"fail_fast,omitempty"`

	// StopOnPhaseFailure stops the workflow after a failed phase.
	StopOnPhaseFailure bool `json:"stop_on_phase_failure,omitempty"`

	// ScreenshotOnError captures a failure screenshot before a step is
	// recorded as failed.
	ScreenshotOnError bool `json:"screenshot_on_error,omitempty"`
}

// TelemetryConfig carries the observability knobs surfaced in runner
// configuration. Everything not listed here keeps its telemetry default.
type TelemetryConfig struct {
	// LogLevel sets the minimum log level.
	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// LogFormat selects console or json output.
	LogFormat string `json:"log_format,omitempty" validate:"omitempty,oneof=console json"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsSettings `json:"metrics,omitempty"`

	// Tracing configures the OTel exporter.
	Tracing TracingSettings `json:"tracing,omitempty"`
}

// MetricsSettings configures the Prometheus metrics endpoint.
type MetricsSettings struct {
	// Enabled turns the metrics HTTP endpoint on.
	Enabled bool `json:"enabled,omitempty"`

	// ListenAddress is the metrics listen address (e.g., ":9090").
	ListenAddress string `json:"listen_address,omitempty"`
}

// TracingSettings configures distributed tracing export.
type TracingSettings struct {
	// Enabled turns span export on.
	Enabled bool `json:"enabled,omitempty"`

	// Exporter selects the span exporter.
	Exporter string `json:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `json:"endpoint,omitempty"`
}

// PolicyConfig configures workflow admission.
type PolicyConfig struct {
	// Enabled turns policy evaluation on before each run.
	Enabled bool `json:"enabled,omitempty"`

	// Paths lists directories or files with additional rego policies.
	Paths []string `json:"paths,omitempty"`

	// Mode is the enforcement mode (advisory, enforcing).
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=advisory enforcing"`

	// OnViolation selects the action on a denied workflow (warn, fail).
	OnViolation string `json:"on_violation,omitempty" validate:"omitempty,oneof=warn fail"`
}

// ArtifactConfig configures the artifact sink.
type ArtifactConfig struct {
	// Sink selects the artifact destination (local, sftp).
	Sink string `json:"sink,omitempty" validate:"omitempty,oneof=local sftp"`

	// Dir is the local artifact directory. It doubles as the staging
	// directory for remote sinks.
	Dir string `json:"dir,omitempty"`

	// SFTP configures the remote sink when Sink is "sftp".
	SFTP *SFTPSettings `json:"sftp,omitempty"`
}

// SFTPSettings configures the SFTP artifact sink.
type SFTPSettings struct {
	// Host is the SFTP server hostname or address.
	Host string `json:"host" validate:"required"`

	// Port is the SSH port. Zero selects 22.
	Port int `json:"port,omitempty" validate:"min=0,max=65535"`

	// User is the SSH user.
	User string `json:"user" validate:"required"`

	// KeyFile is the path to the private key.
	KeyFile string `json:"key_file,omitempty"`

	// Password authenticates when no key file is given.
	Password string `json:"password,omitempty"`

	// KnownHostsFile verifies the server host key. Empty disables
	// verification.
	KnownHostsFile string `json:"known_hosts_file,omitempty"`

	// BaseDir is the remote directory artifacts are uploaded under.
	BaseDir string `json:"base_dir,omitempty"`
}

// StoreConfig configures run history persistence.
type StoreConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path string `json:"path,omitempty"`
}

// CredentialConfig configures the credential source watched by the auth guard.
type CredentialConfig struct {
	// File is the credentials file path. Empty disables the watcher.
	File string `json:"file,omitempty"`
}

// ParsedConfig is the raw parse result before environment overrides are
// applied.
type ParsedConfig struct {
	// Config is the decoded configuration, merged over the defaults.
	Config RunnerConfig `json:"config"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any parse or validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError is a parse or validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "driver.endpoint").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// DefaultRunnerConfig returns the configuration used when a source defines
// nothing. Parsed sources decode over these values, so absent fields keep
// their defaults.
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		Runner: RunnerSettings{
			Name:        "webpilot",
			Environment: "development",
		},
		Driver: DriverConfig{
			Kind:             "sim",
			ConnectTimeoutMS: 5000,
			CallTimeoutMS:    0,
		},
		Engine: EngineConfig{
			MaxWaitForTimeoutMS: 10000,
			MaxStepDurationMS:   30000,
			WaitPollIntervalMS:  2000,
			ClickPollIntervalMS: 2000,
			PhaseSuccessMode:    string(engine.PhaseSuccessRecover),
			ScreenshotOnError:   true,
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "console",
			Metrics: MetricsSettings{
				ListenAddress: ":9090",
			},
			Tracing: TracingSettings{
				Exporter: "stdout",
			},
		},
		Policy: PolicyConfig{
			Mode:        "enforcing",
			OnViolation: "fail",
		},
		Artifacts: ArtifactConfig{
			Sink: "local",
			Dir:  "artifacts",
		},
		Store: StoreConfig{
			Path: "webpilot.db",
		},
		Credentials: CredentialConfig{},
		Variables:   make(map[string]interface{}),
	}
}

// ToEngineOptions converts the engine section into engine.Options.
func (rc *RunnerConfig) ToEngineOptions() engine.Options {
	opts := engine.Options{
		MaxWaitForTimeout:  time.Duration(rc.Engine.MaxWaitForTimeoutMS) * time.Millisecond,
		MaxStepDuration:    time.Duration(rc.Engine.MaxStepDurationMS) * time.Millisecond,
		WaitPollInterval:   time.Duration(rc.Engine.WaitPollIntervalMS) * time.Millisecond,
		ClickPollInterval:  time.Duration(rc.Engine.ClickPollIntervalMS) * time.Millisecond,
		PhaseSuccessMode:   engine.PhaseSuccessMode(rc.Engine.PhaseSuccessMode),
		FailFast:           rc.Engine.FailFast,
		StopOnPhaseFailure: rc.Engine.StopOnPhaseFailure,
		ScreenshotOnError:  rc.Engine.ScreenshotOnError,
		ArtifactDir:        rc.Artifacts.Dir,
	}
	return opts
}

// ToTelemetryConfig converts the telemetry section into a full telemetry
// configuration, starting from the telemetry defaults.
func (rc *RunnerConfig) ToTelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = rc.Runner.Name
	cfg.ServiceVersion = version
	if rc.Runner.Environment != "" {
		cfg.Environment = rc.Runner.Environment
	}
	if rc.Telemetry.LogLevel != "" {
		cfg.Logging.Level = rc.Telemetry.LogLevel
	}
	if rc.Telemetry.LogFormat != "" {
		cfg.Logging.Format = rc.Telemetry.LogFormat
	}
	cfg.Metrics.Enabled = rc.Telemetry.Metrics.Enabled
	if rc.Telemetry.Metrics.ListenAddress != "" {
		cfg.Metrics.ListenAddress = rc.Telemetry.Metrics.ListenAddress
	}
	cfg.Tracing.Enabled = rc.Telemetry.Tracing.Enabled
	if rc.Telemetry.Tracing.Exporter != "" {
		cfg.Tracing.Exporter = rc.Telemetry.Tracing.Exporter
	}
	if rc.Telemetry.Tracing.Endpoint != "" {
		cfg.Tracing.Endpoint = rc.Telemetry.Tracing.Endpoint
	}
	return cfg
}

// ToTemplateValues converts the variables section into engine template values
// for config.* placeholders.
func (rc *RunnerConfig) ToTemplateValues() (map[string]engine.Value, error) {
	values := make(map[string]engine.Value, len(rc.Variables))
	for name, raw := range rc.Variables {
		val, err := engine.ValueFromGo(raw)
		if err != nil {
			return nil, engine.NewConfigurationError(
				"variable "+name+" is not representable", err,
			).WithCode(engine.ErrCodeValidation)
		}
		values[name] = val
	}
	return values, nil
}
