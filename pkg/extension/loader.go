package extension

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Loader loads one extension package into an Extension
type Loader struct {
	logger         zerolog.Logger
	manifestLoader *ManifestLoader
	modules        ModuleLoader
}

// NewLoader creates a new extension loader
func NewLoader(logger zerolog.Logger, manifestLoader *ManifestLoader, modules ModuleLoader) *Loader {
	return &Loader{
		logger:         logger.With().Str("component", "extension-loader").Logger(),
		manifestLoader: manifestLoader,
		modules:        modules,
	}
}

// LoadExtension parses the manifest at path, loads the declared entry
// modules and the package metadata. On error no Extension is returned and
// any module already loaded is closed.
func (l *Loader) LoadExtension(ctx context.Context, path string) (ext *Extension, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifest, path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrManifest, path)
	}

	manifest, err := l.manifestLoader.LoadManifest(path)
	if err != nil {
		return nil, err
	}

	loaded := &Extension{
		Path:     filepath.Clean(path),
		Manifest: *manifest,
		Weight:   manifest.WeightOrDefault(),
	}
	defer func() {
		if err != nil {
			if cerr := loaded.Close(); cerr != nil {
				l.logger.Warn().Err(cerr).Str("path", path).Msg("Failed to release modules")
			}
		}
	}()

	if manifest.Worker != "" {
		loaded.Worker, err = l.loadModule(ctx, path, manifest.Worker)
		if err != nil {
			return nil, err
		}
	}

	if manifest.Webapp != "" {
		loaded.Webapp, err = l.loadModule(ctx, path, manifest.Webapp)
		if err != nil {
			return nil, err
		}
	}

	metadata, err := l.manifestLoader.LoadMetadata(path)
	if err != nil {
		return nil, err
	}
	loaded.Metadata = *metadata

	l.logger.Debug().
		Str("name", loaded.Name()).
		Str("path", loaded.Path).
		Bool("worker", loaded.Worker != nil).
		Bool("webapp", loaded.Webapp != nil).
		Int("weight", loaded.Weight).
		Msg("Extension loaded")

	return loaded, nil
}

func (l *Loader) loadModule(ctx context.Context, dir, entry string) (Module, error) {
	if l.modules == nil {
		return nil, fmt.Errorf("%w: no module loader configured", ErrModuleLoad)
	}

	modulePath, err := filepath.Abs(filepath.Join(dir, entry))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModuleLoad, entry, err)
	}

	module, err := l.modules.Load(ctx, modulePath)
	if err != nil {
		if errors.Is(err, ErrModuleLoad) {
			return nil, fmt.Errorf("failed to load entry %s: %w", entry, err)
		}
		return nil, fmt.Errorf("%w: entry %s: %w", ErrModuleLoad, entry, err)
	}
	if module == nil {
		return nil, fmt.Errorf("%w: loader returned no module for %s", ErrModuleLoad, entry)
	}
	return module, nil
}
