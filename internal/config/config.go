package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/extloader/pkg/extension"
)

// Config represents the extension host configuration
type Config struct {
	// Extensions
	Extensions ExtensionsConfig `json:"extensions" mapstructure:"extensions"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Settings is handed to every extension as its runtime config
	Settings map[string]any `json:"settings" mapstructure:"settings"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ExtensionsConfig configures discovery, loading and initialization
type ExtensionsConfig struct {
	Paths         []string      `json:"paths" mapstructure:"paths"`
	ManifestFile  string        `json:"manifest_file" mapstructure:"manifest_file"`
	MetadataFile  string        `json:"metadata_file" mapstructure:"metadata_file"`
	MountPrefix   string        `json:"mount_prefix" mapstructure:"mount_prefix"`
	InitTimeout   time.Duration `json:"init_timeout" mapstructure:"init_timeout"` // 0 waits indefinitely
	NativeModules bool          `json:"native_modules" mapstructure:"native_modules"`
	RPCModules    bool          `json:"rpc_modules" mapstructure:"rpc_modules"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	// AuditFile receives a JSON line per extension lifecycle event; empty disables it
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Extensions: ExtensionsConfig{
			Paths:         []string{"node_modules"},
			ManifestFile:  extension.DefaultManifestFile,
			MetadataFile:  extension.DefaultMetadataFile,
			MountPrefix:   extension.DefaultMountPrefix,
			NativeModules: true,
			RPCModules:    true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			ServiceName: "extloader",
		},
		Settings: map[string]any{},
	}
}

// InitializerConfig maps the extension settings onto the initializer
func (c *Config) InitializerConfig(modules extension.ModuleLoader, observer extension.Observer) extension.InitializerConfig {
	return extension.InitializerConfig{
		ManifestFile: c.Extensions.ManifestFile,
		MetadataFile: c.Extensions.MetadataFile,
		MountPrefix:  c.Extensions.MountPrefix,
		InitTimeout:  c.Extensions.InitTimeout,
		Modules:      modules,
		Observer:     observer,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// String renders the configuration as indented JSON
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("<invalid config: %v>", err)
	}
	return string(data)
}
