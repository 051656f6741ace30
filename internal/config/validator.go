package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateFileName validates a manifest or metadata file name
func (v *Validator) ValidateFileName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s file name cannot be empty", kind)
	}
	if filepath.Base(name) != name {
		return fmt.Errorf("%s file name %q must not contain a path", kind, name)
	}
	return nil
}

// ValidateMountPrefix validates the static mount prefix
func (v *Validator) ValidateMountPrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("mount prefix cannot be empty")
	}
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("mount prefix %q must start with /", prefix)
	}
	if strings.ContainsAny(prefix, " ?#") {
		return fmt.Errorf("mount prefix %q contains invalid characters", prefix)
	}
	return nil
}

// ValidateLogLevel validates a log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
}

// ValidateConfig validates the entire configuration
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateFileName("manifest", cfg.Extensions.ManifestFile); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateFileName("metadata", cfg.Extensions.MetadataFile); err != nil {
		errs = append(errs, err)
	}
	if cfg.Extensions.ManifestFile != "" && cfg.Extensions.ManifestFile == cfg.Extensions.MetadataFile {
		errs = append(errs, fmt.Errorf("manifest and metadata files must differ"))
	}
	if err := v.ValidateMountPrefix(cfg.Extensions.MountPrefix); err != nil {
		errs = append(errs, err)
	}
	if cfg.Extensions.InitTimeout < 0 {
		errs = append(errs, fmt.Errorf("init timeout cannot be negative"))
	}
	for i, p := range cfg.Extensions.Paths {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("extension path %d is empty", i))
		}
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
