package commands

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/webpilot/webpilot/pkg/artifacts"
	"github.com/webpilot/webpilot/pkg/config"
	"github.com/webpilot/webpilot/pkg/driver/remote"
	"github.com/webpilot/webpilot/pkg/driver/sim"
	"github.com/webpilot/webpilot/pkg/engine"
	"github.com/webpilot/webpilot/pkg/policy"
	"github.com/webpilot/webpilot/pkg/script"
	"github.com/webpilot/webpilot/pkg/stores"
	"github.com/webpilot/webpilot/pkg/telemetry"
)

// app bundles the collaborators a command needs: configuration, telemetry,
// backend session, engine, admission, and persistence. Commands assemble
// only the parts they use and must call Close when done.
type app struct {
	cfg     *config.RunnerConfig
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher

	backend      engine.Backend
	closeBackend func() error
	eng          *engine.Engine
	credWatcher  *engine.CredentialWatcher

	admission *policy.Engine
	store     *stores.SQLiteStore
}

// loadRunnerConfig resolves the runner configuration from the --config
// sources, environment overrides, and the --driver / --verbose flags.
func loadRunnerConfig(ctx context.Context) (*config.RunnerConfig, error) {
	parser := config.NewCUEParser()
	cfg, err := parser.Load(ctx, configSources)
	if err != nil {
		return nil, err
	}

	if driverSpec != "" {
		if err := config.ApplyDriverSpec(&cfg.Driver, driverSpec); err != nil {
			return nil, err
		}
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	return cfg, nil
}

// newApp loads configuration and logging only, for commands that never
// execute anything (validate, history, init).
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadRunnerConfig(ctx)
	if err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(cfg.ToTelemetryConfig("").Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	return &app{cfg: cfg, logger: logger}, nil
}

// newTelemetryApp loads configuration and brings up logging, metrics,
// tracing, and the event publisher. Backend, engine, admission, and store
// stay unset; the per-command helpers below add them.
func newTelemetryApp(ctx context.Context, version string) (*app, error) {
	cfg, err := loadRunnerConfig(ctx)
	if err != nil {
		return nil, err
	}

	tcfg := cfg.ToTelemetryConfig(version)
	logger, err := telemetry.NewLogger(tcfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to configure metrics: %w", err)
	}
	if tcfg.Metrics.Enabled {
		if err := metrics.StartMetricsServer(); err != nil {
			logger.WithError(err).Warn("Metrics endpoint not started")
		}
	}

	tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion, tcfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to configure tracing: %w", err)
	}

	events, err := telemetry.NewEventPublisher(tcfg.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to configure events: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		events:  events,
	}, nil
}

// withBackend establishes the driver session selected by the configuration.
func (a *app) withBackend(ctx context.Context) error {
	backend, closeFn, err := buildBackend(ctx, a)
	if err != nil {
		return err
	}
	a.backend = backend
	a.closeBackend = closeFn
	return nil
}

// withEngine constructs the execution engine over the established backend.
func (a *app) withEngine() error {
	if a.backend == nil {
		return fmt.Errorf("backend must be established before the engine")
	}

	opts := a.cfg.ToEngineOptions()
	values, err := a.cfg.ToTemplateValues()
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Config{
		Backend:         a.backend,
		Options:         opts,
		ScriptEvaluator: script.New(opts.MaxStepDuration, a.logger.Zerolog()),
		TemplateValues:  values,
		Logger:          a.logger.Zerolog(),
		Metrics:         a.metrics,
		Events:          a.events,
		Tracer:          a.tracer,
	})
	if err != nil {
		return err
	}
	a.eng = eng

	if file := a.cfg.Credentials.File; file != "" {
		watcher, err := engine.NewCredentialWatcher(file, eng.Guard(), a.logger.Zerolog())
		if err != nil {
			a.logger.WithError(err).Warn("Credential watcher not started")
		} else {
			a.credWatcher = watcher
		}
	}
	return nil
}

// withAdmission loads the policy engine when admission is enabled.
func (a *app) withAdmission(ctx context.Context) error {
	if !a.cfg.Policy.Enabled || a.admission != nil {
		return nil
	}

	admission, err := policy.NewEngine(a.logger.Zerolog())
	if err != nil {
		return err
	}
	if len(a.cfg.Policy.Paths) > 0 {
		if err := admission.LoadPolicies(ctx, a.cfg.Policy.Paths); err != nil {
			return err
		}
	}
	a.admission = admission
	return nil
}

// withStore opens the run-history store when one is configured.
func (a *app) withStore(ctx context.Context) error {
	if a.cfg.Store.Path == "" {
		return nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: a.cfg.Store.Path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return err
	}
	a.store = store
	return nil
}

// artifactSink builds the configured sink for publishing run artifacts.
func (a *app) artifactSink() (artifacts.Sink, error) {
	switch a.cfg.Artifacts.Sink {
	case "", "local":
		return artifacts.NewLocalSink(a.cfg.Artifacts.Dir, a.logger.Zerolog())
	case "sftp":
		settings := a.cfg.Artifacts.SFTP
		if settings == nil {
			return nil, fmt.Errorf("sftp artifact sink is not configured")
		}
		sftpCfg := artifacts.DefaultSFTPConfig(settings.Host, settings.User)
		if settings.Port > 0 {
			sftpCfg.Port = settings.Port
		}
		sftpCfg.KeyFile = settings.KeyFile
		sftpCfg.Password = settings.Password
		sftpCfg.KnownHostsFile = settings.KnownHostsFile
		if settings.BaseDir != "" {
			sftpCfg.BaseDir = settings.BaseDir
		}
		return artifacts.NewSFTPSink(sftpCfg, a.logger.Zerolog())
	default:
		return nil, fmt.Errorf("unrecognized artifact sink %q", a.cfg.Artifacts.Sink)
	}
}

// policyContext describes this invocation to policy evaluation.
func (a *app) policyContext(operation string, dryRun bool) *policy.PolicyContext {
	driver := a.cfg.Driver.Kind
	if a.cfg.Driver.Endpoint != "" {
		driver = driver + "://" + a.cfg.Driver.Endpoint
	}
	return &policy.PolicyContext{
		Environment: a.cfg.Runner.Environment,
		Timestamp:   time.Now().UTC(),
		Operation:   operation,
		Driver:      driver,
		DryRun:      dryRun,
	}
}

// Close releases everything the app holds, in reverse construction order.
func (a *app) Close(ctx context.Context) {
	if a.credWatcher != nil {
		_ = a.credWatcher.Close()
	}
	if a.closeBackend != nil {
		if err := a.closeBackend(); err != nil {
			a.logger.WithError(err).Debug("Backend close failed")
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.events != nil {
		_ = a.events.Shutdown(ctx)
	}
	if a.tracer != nil {
		_ = a.tracer.Shutdown(ctx)
	}
}

// buildBackend establishes the driver session for the configured kind.
func buildBackend(ctx context.Context, a *app) (engine.Backend, func() error, error) {
	logger := a.logger.Zerolog()
	driver := a.cfg.Driver

	switch driver.Kind {
	case "sim":
		backend := sim.NewDemo(logger, sim.Options{})
		return backend, nil, nil

	case "tcp":
		client, err := remote.Dial(ctx, driver.Endpoint, remote.Config{
			StartupTimeout: time.Duration(driver.ConnectTimeoutMS) * time.Millisecond,
			Logger:         logger,
			Metrics:        a.metrics,
			Tracer:         a.tracer,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil

	case "stdio":
		conn, err := spawnDriver(driver.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		client, err := remote.NewClient(conn, remote.Config{
			StartupTimeout: time.Duration(driver.ConnectTimeoutMS) * time.Millisecond,
			Logger:         logger,
			Metrics:        a.metrics,
			Tracer:         a.tracer,
		})
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		if err := client.Start(ctx); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return client, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unrecognized driver kind %q", driver.Kind)
	}
}

// spawnDriver starts a driver subprocess and exposes its stdio as a
// protocol connection. Closing the connection closes stdin and reaps the
// process; drivers exit when their command stream ends.
func spawnDriver(commandLine string) (io.ReadWriteCloser, error) {
	parts := strings.Fields(commandLine)
	if len(parts) == 0 {
		return nil, fmt.Errorf("stdio driver command is empty")
	}

	cmd := exec.Command(parts[0], parts[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start driver %q: %w", parts[0], err)
	}

	return &processConn{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

type processConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *processConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *processConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *processConn) Close() error {
	_ = p.stdin.Close()
	err := p.cmd.Wait()
	_ = p.stdout.Close()
	return err
}
