// Package dbconfig holds connection descriptors shared between the config
// layer and the database drivers. It exists so drivers do not import the
// full config package.
package dbconfig

// SourceConfig describes a source database connection.
type SourceConfig struct {
	Type     string            `yaml:"type"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Database string            `yaml:"database"`
	Schema   string            `yaml:"schema"`
	Options  map[string]string `yaml:"options,omitempty"`
}

// TargetConfig describes a target database connection.
type TargetConfig struct {
	Type     string            `yaml:"type"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Database string            `yaml:"database"`
	Schema   string            `yaml:"schema"`
	SSLMode  string            `yaml:"sslmode"`
	Options  map[string]string `yaml:"options,omitempty"`
}
