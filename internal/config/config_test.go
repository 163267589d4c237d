package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
source:
  type: oracle
  host: ora.example.com
  port: 1521
  user: migrator
  password: ${ORA_PASSWORD}
  database: ORCL
  schema: HOSPITAL
target:
  host: pg.example.com
  port: 5432
  user: migrator
  password: secret
  database: hospital
migration:
  chunk_size: 5000
  table_chunk_sizes:
    AUDIT_LOG: 500
  workers: 2
  max_retries: 5
  retry_backoff: 2s
  chunk_timeout: 1m
  validate_checksums: true
  exclude_tables: [TEMP_SCRATCH]
state:
  path: /var/lib/oradrift/state.db
logging:
  level: debug
  format: json
`

func TestLoad(t *testing.T) {
	os.Setenv("ORA_PASSWORD", "s3cret")
	defer os.Unsetenv("ORA_PASSWORD")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.Password != "s3cret" {
		t.Errorf("env expansion failed: %q", cfg.Source.Password)
	}
	if cfg.Source.Type != "oracle" || cfg.Source.Schema != "HOSPITAL" {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Target.Type != "postgres" {
		t.Errorf("target type default = %q, want postgres", cfg.Target.Type)
	}
	if cfg.Migration.ChunkSize != 5000 || cfg.Migration.Workers != 2 {
		t.Errorf("migration = %+v", cfg.Migration)
	}
	if cfg.Migration.RetryBackoff.Std() != 2*time.Second || cfg.Migration.ChunkTimeout.Std() != time.Minute {
		t.Errorf("durations = %v / %v", cfg.Migration.RetryBackoff.Std(), cfg.Migration.ChunkTimeout.Std())
	}
	if !cfg.Migration.ValidateChecksums {
		t.Error("validate_checksums should be true")
	}
	if cfg.State.Path != "/var/lib/oradrift/state.db" {
		t.Errorf("state path = %q", cfg.State.Path)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
source:
  type: oracle
  host: h
  schema: S
target:
  host: h
  database: d
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Migration.ChunkSize != DefaultChunkSize {
		t.Errorf("chunk size = %d, want %d", cfg.Migration.ChunkSize, DefaultChunkSize)
	}
	if cfg.Migration.Workers != DefaultWorkers {
		t.Errorf("workers = %d, want %d", cfg.Migration.Workers, DefaultWorkers)
	}
	if cfg.Migration.MaxRetries != DefaultMaxRetries {
		t.Errorf("max retries = %d, want %d", cfg.Migration.MaxRetries, DefaultMaxRetries)
	}
	if cfg.Migration.RetryBackoff != DefaultRetryBackoff {
		t.Errorf("retry backoff = %v", cfg.Migration.RetryBackoff)
	}
	if cfg.State.Path != DefaultStatePath {
		t.Errorf("state path = %q", cfg.State.Path)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Target.SSLMode != "prefer" {
		t.Errorf("sslmode default = %q", cfg.Target.SSLMode)
	}
}

func TestDurationBareSeconds(t *testing.T) {
	cfg, err := Parse([]byte(`
source:
  type: oracle
  host: h
  schema: S
target:
  host: h
  database: d
migration:
  retry_backoff: 10
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Migration.RetryBackoff.Std() != 10*time.Second {
		t.Errorf("bare integer duration = %v, want 10s", cfg.Migration.RetryBackoff.Std())
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing source type", "source:\n  host: h\ntarget:\n  host: h\n  database: d\n", "source.type"},
		{"missing target db", "source:\n  type: oracle\n  host: h\n  schema: S\ntarget:\n  host: h\n", "target.database"},
		{"negative chunk size", "source:\n  type: oracle\n  host: h\n  schema: S\ntarget:\n  host: h\n  database: d\nmigration:\n  chunk_size: -1\n", "chunk_size"},
		{"include and exclude", "source:\n  type: oracle\n  host: h\n  schema: S\ntarget:\n  host: h\n  database: d\nmigration:\n  tables: [T1]\n  exclude_tables: [t1]\n", "both included and excluded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestChunkSizeFor(t *testing.T) {
	cfg := &Config{Migration: MigrationConfig{
		ChunkSize:       10000,
		TableChunkSizes: map[string]int{"BIG_LOBS": 100},
	}}
	if got := cfg.ChunkSizeFor("big_lobs"); got != 100 {
		t.Errorf("ChunkSizeFor(big_lobs) = %d, want 100", got)
	}
	if got := cfg.ChunkSizeFor("VISITS"); got != 10000 {
		t.Errorf("ChunkSizeFor(VISITS) = %d, want 10000", got)
	}
}

func TestTableIncluded(t *testing.T) {
	cfg := &Config{Migration: MigrationConfig{
		Tables:        []string{"VISITS", "PATIENTS"},
		ExcludeTables: []string{"SCRATCH"},
	}}
	if !cfg.TableIncluded("visits") {
		t.Error("visits should be included")
	}
	if cfg.TableIncluded("OTHER") {
		t.Error("OTHER not in include list")
	}
	if cfg.TableIncluded("scratch") {
		t.Error("scratch is excluded")
	}

	open := &Config{}
	if !open.TableIncluded("ANYTHING") {
		t.Error("empty filters include everything")
	}
}
