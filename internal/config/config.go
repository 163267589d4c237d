// Package config loads and validates the YAML migration configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oradrift/oradrift/internal/dbconfig"
)

const (
	DefaultChunkSize    = 10000
	DefaultWorkers      = 4
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = Duration(time.Second)
	DefaultChunkTimeout = Duration(5 * time.Minute)
	DefaultStatePath    = "oradrift-state.db"
)

// Duration wraps time.Duration so YAML values like "30s" or "5m" decode.
// Bare integers are taken as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value at line %d", value.Line)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Config is the full configuration for one migration job.
type Config struct {
	Source    dbconfig.SourceConfig `yaml:"source"`
	Target    dbconfig.TargetConfig `yaml:"target"`
	Migration MigrationConfig       `yaml:"migration"`
	State     StateConfig           `yaml:"state"`
	Logging   LoggingConfig         `yaml:"logging"`
}

// MigrationConfig controls what is migrated and how.
type MigrationConfig struct {
	// Tables restricts the job to the named tables; empty means the whole
	// schema. ExcludeTables is applied after Tables.
	Tables        []string `yaml:"tables"`
	ExcludeTables []string `yaml:"exclude_tables"`

	ChunkSize       int            `yaml:"chunk_size"`
	TableChunkSizes map[string]int `yaml:"table_chunk_sizes"`

	Workers      int      `yaml:"workers"`
	MaxRetries   int      `yaml:"max_retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
	ChunkTimeout Duration `yaml:"chunk_timeout"`

	ValidateChecksums bool `yaml:"validate_checksums"`
	SchemaOnly        bool `yaml:"schema_only"`
}

// StateConfig locates the durable checkpoint and audit store.
type StateConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file, expands ${ENV_VAR} references, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes. Exposed separately for tests and for
// callers that assemble config in memory.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with the package defaults. Parse
// calls it automatically; callers assembling a Config in memory call it
// themselves.
func (c *Config) ApplyDefaults() {
	if c.Migration.ChunkSize == 0 {
		c.Migration.ChunkSize = DefaultChunkSize
	}
	if c.Migration.Workers == 0 {
		c.Migration.Workers = DefaultWorkers
	}
	if c.Migration.MaxRetries == 0 {
		c.Migration.MaxRetries = DefaultMaxRetries
	}
	if c.Migration.RetryBackoff == 0 {
		c.Migration.RetryBackoff = DefaultRetryBackoff
	}
	if c.Migration.ChunkTimeout == 0 {
		c.Migration.ChunkTimeout = DefaultChunkTimeout
	}
	if c.State.Path == "" {
		c.State.Path = DefaultStatePath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Target.Type == "" {
		c.Target.Type = "postgres"
	}
	if c.Target.SSLMode == "" {
		c.Target.SSLMode = "prefer"
	}
}

// Validate checks the configuration for contradictions and missing
// required fields.
func (c *Config) Validate() error {
	if c.Source.Type == "" {
		return fmt.Errorf("source.type is required")
	}
	if c.Source.Host == "" {
		return fmt.Errorf("source.host is required")
	}
	if c.Source.Database == "" && c.Source.Schema == "" {
		return fmt.Errorf("source.database or source.schema is required")
	}
	if c.Target.Host == "" {
		return fmt.Errorf("target.host is required")
	}
	if c.Target.Database == "" {
		return fmt.Errorf("target.database is required")
	}
	if c.Migration.ChunkSize < 1 {
		return fmt.Errorf("migration.chunk_size must be positive, got %d", c.Migration.ChunkSize)
	}
	for table, size := range c.Migration.TableChunkSizes {
		if size < 1 {
			return fmt.Errorf("migration.table_chunk_sizes[%s] must be positive, got %d", table, size)
		}
	}
	if c.Migration.Workers < 1 {
		return fmt.Errorf("migration.workers must be positive, got %d", c.Migration.Workers)
	}
	if c.Migration.MaxRetries < 0 {
		return fmt.Errorf("migration.max_retries must not be negative, got %d", c.Migration.MaxRetries)
	}
	for _, t := range c.Migration.Tables {
		for _, x := range c.Migration.ExcludeTables {
			if strings.EqualFold(t, x) {
				return fmt.Errorf("table %s is both included and excluded", t)
			}
		}
	}
	return nil
}

// ChunkSizeFor returns the chunk size for a table, honoring per-table
// overrides.
func (c *Config) ChunkSizeFor(table string) int {
	for name, size := range c.Migration.TableChunkSizes {
		if strings.EqualFold(name, table) {
			return size
		}
	}
	return c.Migration.ChunkSize
}

// TableIncluded reports whether a table participates in the job after the
// include and exclude filters.
func (c *Config) TableIncluded(table string) bool {
	for _, x := range c.Migration.ExcludeTables {
		if strings.EqualFold(x, table) {
			return false
		}
	}
	if len(c.Migration.Tables) == 0 {
		return true
	}
	for _, t := range c.Migration.Tables {
		if strings.EqualFold(t, table) {
			return true
		}
	}
	return false
}
