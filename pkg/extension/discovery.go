package extension

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Discovery scans base directories for extension packages
type Discovery struct {
	logger       zerolog.Logger
	manifestFile string
}

// NewDiscovery creates a new discovery instance. An empty manifestFile
// selects DefaultManifestFile.
func NewDiscovery(logger zerolog.Logger, manifestFile string) *Discovery {
	if manifestFile == "" {
		manifestFile = DefaultManifestFile
	}
	return &Discovery{
		logger:       logger.With().Str("component", "extension-discovery").Logger(),
		manifestFile: manifestFile,
	}
}

// FindExtensions returns every immediate subdirectory of basePaths that
// contains the manifest file. Results keep the order of basePaths and,
// within one base path, directory listing order. An unreadable base path
// contributes nothing.
func (d *Discovery) FindExtensions(ctx context.Context, basePaths ...string) ([]string, error) {
	perBase := make([][]string, len(basePaths))

	g, gctx := errgroup.WithContext(ctx)
	for i, base := range basePaths {
		if base == "" {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found, err := d.scanDirectory(base)
			if err != nil {
				d.logger.Warn().Err(err).Str("dir", base).Msg("Failed to scan extension directory")
				return nil
			}
			perBase[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	discovered := []string{}
	for _, found := range perBase {
		for _, path := range found {
			if seen[path] {
				continue
			}
			seen[path] = true
			discovered = append(discovered, path)
		}
	}

	d.logger.Debug().Int("count", len(discovered)).Msg("Extension discovery completed")
	return discovered, nil
}

// scanDirectory scans a single base directory
func (d *Discovery) scanDirectory(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Debug().Str("dir", dir).Msg("Directory does not exist, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrDiscovery, dir, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDiscovery, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrDiscovery, dir, err)
	}

	var discovered []string
	for _, entry := range entries {
		extDir := filepath.Join(dir, entry.Name())
		if !entry.IsDir() {
			// linked packages (npm link, pnpm) are symlinks to directories
			if entry.Type()&fs.ModeSymlink == 0 {
				continue
			}
			if st, err := os.Stat(extDir); err != nil || !st.IsDir() {
				continue
			}
		}

		manifestPath := filepath.Join(extDir, d.manifestFile)

		st, err := os.Stat(manifestPath)
		if err != nil {
			if !os.IsNotExist(err) {
				d.logger.Warn().Err(err).Str("dir", extDir).Msg("Failed to check for manifest")
			}
			continue
		}
		if st.IsDir() {
			continue
		}

		discovered = append(discovered, extDir)
		d.logger.Debug().Str("path", extDir).Msg("Discovered extension")
	}

	return discovered, nil
}
