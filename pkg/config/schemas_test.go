package config

import (
	"context"
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#CustomType: {
	field1: string
	field2: int
}
`

	err := sr.RegisterSchema("custom", customSchema)
	if err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("custom")
	if !ok {
		t.Fatal("expected to find custom schema")
	}

	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}
}

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	builtins := []string{
		SchemaConfig,
		SchemaRunner,
		SchemaDriver,
		SchemaEngine,
		SchemaTelemetry,
		SchemaPolicy,
		SchemaArtifacts,
	}

	for _, name := range builtins {
		t.Run(name, func(t *testing.T) {
			schema, ok := sr.GetSchema(name)
			if !ok {
				t.Fatalf("built-in schema %s not found", name)
			}

			if schema.Err() != nil {
				t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
			}
		})
	}
}

func TestSchemaRegistry_ValidateRunner(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		runner  RunnerSettings
		wantErr bool
	}{
		{
			name:    "valid runner",
			runner:  RunnerSettings{Name: "portal-runner", Environment: "staging"},
			wantErr: false,
		},
		{
			name:    "name only",
			runner:  RunnerSettings{Name: "webpilot"},
			wantErr: false,
		},
		{
			name:    "invalid name characters",
			runner:  RunnerSettings{Name: "invalid name!"},
			wantErr: true,
		},
		{
			name:    "invalid environment",
			runner:  RunnerSettings{Name: "runner", Environment: "qa"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateRunner(ctx, tt.runner)

			if tt.wantErr {
				if err == nil {
					t.Error("expected validation error, got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected validation error: %v", err)
				}
			}
		})
	}
}

func TestSchemaRegistry_ValidateDriver(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		driver  DriverConfig
		wantErr bool
	}{
		{
			name:    "valid sim driver",
			driver:  DriverConfig{Kind: "sim", ConnectTimeoutMS: 5000},
			wantErr: false,
		},
		{
			name:    "valid tcp driver",
			driver:  DriverConfig{Kind: "tcp", Endpoint: "127.0.0.1:7878"},
			wantErr: false,
		},
		{
			name:    "tcp driver without endpoint",
			driver:  DriverConfig{Kind: "tcp"},
			wantErr: true,
		},
		{
			name:    "invalid kind",
			driver:  DriverConfig{Kind: "telepathy"},
			wantErr: true,
		},
		{
			name:    "negative connect timeout",
			driver:  DriverConfig{Kind: "sim", ConnectTimeoutMS: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateDriver(ctx, tt.driver)

			if tt.wantErr {
				if err == nil {
					t.Error("expected validation error, got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected validation error: %v", err)
				}
			}
		})
	}
}

func TestSchemaRegistry_ValidateEngine(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		engine  EngineConfig
		wantErr bool
	}{
		{
			name:    "default engine settings",
			engine:  DefaultRunnerConfig().Engine,
			wantErr: false,
		},
		{
			name:    "negative poll interval",
			engine:  EngineConfig{WaitPollIntervalMS: -100},
			wantErr: true,
		},
		{
			name:    "invalid phase success mode",
			engine:  EngineConfig{PhaseSuccessMode: "hopeful"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateEngine(ctx, tt.engine)

			if tt.wantErr {
				if err == nil {
					t.Error("expected validation error, got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected validation error: %v", err)
				}
			}
		})
	}
}

func TestSchemaRegistry_ValidateArtifacts(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name      string
		artifacts ArtifactConfig
		wantErr   bool
	}{
		{
			name:      "local sink",
			artifacts: ArtifactConfig{Sink: "local", Dir: "./artifacts"},
			wantErr:   false,
		},
		{
			name: "sftp sink with settings",
			artifacts: ArtifactConfig{
				Sink: "sftp",
				Dir:  "./staging",
				SFTP: &SFTPSettings{
					Host: "files.example.com",
					User: "pilot",
					Port: 2022,
				},
			},
			wantErr: false,
		},
		{
			name:      "sftp sink without settings",
			artifacts: ArtifactConfig{Sink: "sftp"},
			wantErr:   true,
		},
		{
			name:      "unknown sink",
			artifacts: ArtifactConfig{Sink: "carrier-pigeon"},
			wantErr:   true,
		},
		{
			name: "sftp port out of range",
			artifacts: ArtifactConfig{
				Sink: "sftp",
				SFTP: &SFTPSettings{Host: "files.example.com", User: "pilot", Port: 70000},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateArtifacts(ctx, tt.artifacts)

			if tt.wantErr {
				if err == nil {
					t.Error("expected validation error, got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected validation error: %v", err)
				}
			}
		})
	}
}

func TestSchemaRegistry_ValidatePolicy(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	valid := PolicyConfig{
		Enabled:     true,
		Paths:       []string{"./policies"},
		Mode:        "enforcing",
		OnViolation: "fail",
	}
	if err := sr.ValidatePolicy(ctx, valid); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}

	invalid := PolicyConfig{Mode: "suggestive"}
	if err := sr.ValidatePolicy(ctx, invalid); err == nil {
		t.Error("expected validation error for invalid mode")
	}
}

func TestSchemaRegistry_ValidateConfig(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	cfg := DefaultRunnerConfig()
	if err := sr.ValidateConfig(ctx, *cfg); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}

	cfg.Driver.Kind = "telepathy"
	if err := sr.ValidateConfig(ctx, *cfg); err == nil {
		t.Error("expected validation error for invalid driver kind")
	}
}

func TestSchemaRegistry_ListSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	schemas := sr.ListSchemas()

	if len(schemas) < 7 {
		t.Errorf("expected at least 7 schemas, got %d", len(schemas))
	}

	expectedSchemas := map[string]bool{
		SchemaConfig:    false,
		SchemaRunner:    false,
		SchemaDriver:    false,
		SchemaEngine:    false,
		SchemaTelemetry: false,
		SchemaPolicy:    false,
		SchemaArtifacts: false,
	}

	for _, schema := range schemas {
		if _, exists := expectedSchemas[schema]; exists {
			expectedSchemas[schema] = true
		}
	}

	for name, found := range expectedSchemas {
		if !found {
			t.Errorf("expected built-in schema %s not found", name)
		}
	}
}

func TestSchemaRegistry_InvalidSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	invalidSchema := `
this is not valid CUE syntax
`

	err := sr.RegisterSchema("invalid", invalidSchema)
	if err == nil {
		t.Error("expected error when registering invalid schema")
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	err := sr.ValidateAgainstSchema(context.Background(), "nonexistent", map[string]string{})
	if err == nil {
		t.Error("expected error for unknown schema")
	}
}
