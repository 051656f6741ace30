package extension

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ManifestLoader reads and validates extension manifests and package metadata
type ManifestLoader struct {
	logger         zerolog.Logger
	manifestFile   string
	metadataFile   string
	manifestSchema gojsonschema.JSONLoader
	metadataSchema gojsonschema.JSONLoader
}

// NewManifestLoader creates a new manifest loader. Empty file names select
// the defaults.
func NewManifestLoader(logger zerolog.Logger, manifestFile, metadataFile string) *ManifestLoader {
	if manifestFile == "" {
		manifestFile = DefaultManifestFile
	}
	if metadataFile == "" {
		metadataFile = DefaultMetadataFile
	}
	return &ManifestLoader{
		logger:         logger.With().Str("component", "manifest-loader").Logger(),
		manifestFile:   manifestFile,
		metadataFile:   metadataFile,
		manifestSchema: gojsonschema.NewStringLoader(ManifestSchema),
		metadataSchema: gojsonschema.NewStringLoader(MetadataSchema),
	}
}

// LoadManifest loads the manifest from an extension directory
func (m *ManifestLoader) LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, m.manifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrManifest, m.manifestFile, err)
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	if err := validateSchema(m.manifestSchema, data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifest, m.manifestFile, err)
	}

	if err := validateEntry(manifest.Worker); err != nil {
		return nil, fmt.Errorf("%w: worker: %v", ErrManifest, err)
	}
	if err := validateEntry(manifest.Webapp); err != nil {
		return nil, fmt.Errorf("%w: webapp: %v", ErrManifest, err)
	}

	m.logger.Debug().
		Str("dir", dir).
		Str("worker", manifest.Worker).
		Str("webapp", manifest.Webapp).
		Int("weight", manifest.WeightOrDefault()).
		Msg("Loaded manifest")

	return manifest, nil
}

// LoadMetadata loads the package metadata from an extension directory
func (m *ManifestLoader) LoadMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, m.metadataFile))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrManifest, m.metadataFile, err)
	}

	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrManifest, m.metadataFile, err)
	}

	if err := validateSchema(m.metadataSchema, data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifest, m.metadataFile, err)
	}

	if metadata.Version != "" {
		if _, err := semver.NewVersion(metadata.Version); err != nil {
			m.logger.Warn().
				Str("dir", dir).
				Str("version", metadata.Version).
				Msg("Package version is not valid semver")
		}
	}

	return &metadata, nil
}

// ParseManifest parses a manifest from JSON bytes without schema validation
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: failed to parse manifest JSON: %v", ErrManifest, err)
	}
	return &manifest, nil
}

func validateSchema(schema gojsonschema.JSONLoader, data []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}

	return nil
}

// validateEntry keeps entry modules inside the package directory
func validateEntry(entry string) error {
	if entry == "" {
		return nil
	}
	if filepath.IsAbs(entry) {
		return fmt.Errorf("entry %q must be relative", entry)
	}
	clean := filepath.Clean(entry)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("entry %q escapes the package directory", entry)
	}
	return nil
}
