package extension

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/extloader/internal/tracing"
)

// AppHandle is the host's HTTP surface for the webapp role. The
// initializer only calls Use; the verb methods are the host's own
// registration surface.
type AppHandle interface {
	Use(mountPath string, root http.FileSystem)
	Get(path string, handler http.HandlerFunc)
	Post(path string, handler http.HandlerFunc)
	Put(path string, handler http.HandlerFunc)
	Delete(path string, handler http.HandlerFunc)
}

// InitializerConfig configures an Initializer
type InitializerConfig struct {
	ManifestFile string
	MetadataFile string
	MountPrefix  string
	// InitTimeout bounds each entry point; zero waits indefinitely
	InitTimeout time.Duration
	Modules     ModuleLoader
	Observer    Observer
}

// Initializer runs discovery, loading and role initialization
type Initializer struct {
	logger      zerolog.Logger
	discovery   *Discovery
	loader      *Loader
	records     *Records
	observer    Observer
	mountPrefix string
	initTimeout time.Duration
}

// NewInitializer creates a new initializer
func NewInitializer(logger zerolog.Logger, cfg InitializerConfig) *Initializer {
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	prefix := strings.TrimRight(cfg.MountPrefix, "/")
	if cfg.MountPrefix == "" {
		prefix = DefaultMountPrefix
	}

	return &Initializer{
		logger:      logger.With().Str("component", "extension-initializer").Logger(),
		discovery:   NewDiscovery(logger, cfg.ManifestFile),
		loader:      NewLoader(logger, NewManifestLoader(logger, cfg.ManifestFile, cfg.MetadataFile), cfg.Modules),
		records:     NewRecords(),
		observer:    observer,
		mountPrefix: prefix,
		initTimeout: cfg.InitTimeout,
	}
}

// Discovery returns the discovery component
func (i *Initializer) Discovery() *Discovery {
	return i.discovery
}

// Loader returns the loader component
func (i *Initializer) Loader() *Loader {
	return i.loader
}

// Records returns the lifecycle records of the most recent pass per role
func (i *Initializer) Records() *Records {
	return i.records
}

// InitExtensions discovers the extensions under basePaths, loads them and
// invokes the role entry point of each eligible one in weight order. For
// RoleWebapp each extension's static directory is mounted on app right
// before its entry point runs. Per-extension failures are recorded in the
// result; only an invalid role, context or app handle is returned as an
// error.
func (i *Initializer) InitExtensions(ctx context.Context, basePaths []string, role Role, rc *RuntimeContext, app AppHandle) (*InitResult, error) {
	if err := validateCall(role, rc, app); err != nil {
		return nil, err
	}

	runID := tracing.NewRunID()
	ctx = tracing.WithRunID(ctx, runID)
	logger := tracing.LoggerFromContext(ctx, i.logger).With().Str("role", role.String()).Logger()
	result := newInitResult(runID, role)
	i.records.reset(role)

	paths, err := i.discovery.FindExtensions(ctx, basePaths...)
	if err != nil {
		return nil, fmt.Errorf("extension discovery interrupted: %w", err)
	}
	i.observer.ExtensionsDiscovered(len(paths))

	if len(paths) == 0 {
		logger.Info().Strs("paths", basePaths).Msg("No extensions discovered")
		return result, nil
	}

	eligible := i.loadEligible(ctx, logger, paths, role, rc, result)

	// Stable sort keeps discovery order between equal weights
	sort.SliceStable(eligible, func(a, b int) bool {
		return eligible[a].Weight < eligible[b].Weight
	})

	mounted := make(map[string]string)
	for idx, ext := range eligible {
		if err := ctx.Err(); err != nil {
			closeAll(logger, eligible[idx:])
			return result, fmt.Errorf("extension initialization interrupted: %w", err)
		}

		name := ext.Name()
		if role == RoleWebapp {
			mountPath, err := i.mount(ext, app, mounted)
			if err != nil {
				i.failExtension(logger, result, role, rc, ext.Path, name, "", err)
				closeQuietly(logger, ext)
				continue
			}
			i.records.update(role, ext.Path, func(rec *Record) {
				rec.State = StateMounted
				rec.MountPath = mountPath
			})
			logger.Debug().Str("extension", name).Str("mount", mountPath).Msg("Mounted extension assets")
		}

		traceID, err := i.invoke(ctx, role, rc, ext)
		if err != nil {
			i.failExtension(logger, result, role, rc, ext.Path, name, traceID, err)
			closeQuietly(logger, ext)
			continue
		}

		i.records.transition(role, ext.Path, StateInitialized, nil)
		result.Initialized = append(result.Initialized, ext)
		rc.Emit(EventInitialized, EventPayload{
			Timestamp: time.Now(),
			RunID:     runID,
			Role:      role,
			Name:      name,
			Path:      ext.Path,
			TraceID:   traceID,
		})
	}

	logger.Info().
		Int("initialized", len(result.Initialized)).
		Int("failed", len(result.Failed)).
		Int("excluded", len(result.Excluded)).
		Msg("Extension initialization complete")

	return result, nil
}

// loadEligible loads every path and keeps the extensions exposing role
func (i *Initializer) loadEligible(ctx context.Context, logger zerolog.Logger, paths []string, role Role, rc *RuntimeContext, result *InitResult) []*Extension {
	var eligible []*Extension
	for _, p := range paths {
		i.records.transition(role, p, StateDiscovered, nil)

		ext, err := i.loader.LoadExtension(ctx, p)
		i.observer.ExtensionLoaded(p, err)
		if err != nil {
			i.failExtension(logger, result, role, rc, p, filepath.Base(p), "", err)
			continue
		}

		i.records.update(role, p, func(rec *Record) {
			rec.State = StateLoaded
			rec.Name = ext.Name()
			rec.Weight = ext.Weight
		})
		rc.Emit(EventLoaded, EventPayload{
			Timestamp: time.Now(),
			RunID:     result.RunID,
			Role:      role,
			Name:      ext.Name(),
			Path:      p,
		})

		if ext.Module(role) == nil {
			logger.Debug().Str("extension", ext.Name()).Msg("Extension has no entry point for role, excluding")
			i.records.transition(role, p, StateExcluded, nil)
			i.observer.ExtensionExcluded(role.String())
			result.Excluded = append(result.Excluded, p)
			closeQuietly(logger, ext)
			continue
		}

		eligible = append(eligible, ext)
	}
	return eligible
}

// mount registers the extension's static directory on app. A name that is
// already mounted falls back to the directory name; if that is taken too
// the extension is rejected.
func (i *Initializer) mount(ext *Extension, app AppHandle, mounted map[string]string) (string, error) {
	name := ext.Name()
	if owner, taken := mounted[name]; taken {
		fallback := ext.DirName()
		if _, alsoTaken := mounted[fallback]; alsoTaken {
			return "", fmt.Errorf("%w: mount name %q already used by %s", ErrConfiguration, name, owner)
		}
		i.logger.Warn().
			Str("name", name).
			Str("owner", owner).
			Str("fallback", fallback).
			Msg("Duplicate extension name, mounting under directory name")
		name = fallback
	}

	mountPath := i.mountPrefix + "/" + name
	app.Use(mountPath, http.Dir(ext.StaticDir()))
	mounted[name] = ext.Path
	return mountPath, nil
}

// invoke runs one entry point to completion and returns the trace ID of its span
func (i *Initializer) invoke(ctx context.Context, role Role, rc *RuntimeContext, ext *Extension) (traceID string, err error) {
	name := ext.Name()
	ctx, span := tracing.StartSpan(ctx, "extension.init",
		attribute.String("extension.name", name),
		attribute.String("extension.role", role.String()),
		attribute.Int("extension.weight", ext.Weight),
	)
	start := time.Now()
	traceID = tracing.TraceID(ctx)

	ctx = tracing.WithExtension(ctx, name)
	extLogger := tracing.LoggerFromContext(ctx, i.logger).With().Str("role", role.String()).Logger()
	rc.enter(name, extLogger)
	defer func() {
		rc.leave()
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrInitialization, name, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		i.observer.ExtensionInitialized(role.String(), name, time.Since(start), err)
	}()

	if i.initTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.initTimeout)
		defer cancel()
	}

	extLogger.Debug().Msg("Invoking entry point")
	if _, err := ext.Module(role).Init(ctx, rc); err != nil {
		return traceID, fmt.Errorf("%w: %s: %w", ErrInitialization, name, err)
	}
	return traceID, nil
}

func (i *Initializer) failExtension(logger zerolog.Logger, result *InitResult, role Role, rc *RuntimeContext, p, name, traceID string, err error) {
	logger.Error().Err(err).Str("extension", name).Str("path", p).Msg("Extension failed")
	i.records.transition(role, p, StateFailed, err)
	result.fail(p, err)
	rc.Emit(EventFailed, EventPayload{
		Timestamp: time.Now(),
		RunID:     result.RunID,
		Role:      role,
		Name:      name,
		Path:      p,
		Err:       err,
		TraceID:   traceID,
	})
}

func validateCall(role Role, rc *RuntimeContext, app AppHandle) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %s", ErrConfiguration, role)
	}
	if rc == nil {
		return fmt.Errorf("%w: runtime context is required", ErrConfiguration)
	}
	if role == RoleWebapp && app == nil {
		return fmt.Errorf("%w: webapp role requires an app handle", ErrConfiguration)
	}
	return nil
}

func closeQuietly(logger zerolog.Logger, ext *Extension) {
	if err := ext.Close(); err != nil {
		logger.Warn().Err(err).Str("extension", ext.Name()).Msg("Failed to close extension")
	}
}

func closeAll(logger zerolog.Logger, exts []*Extension) {
	for _, ext := range exts {
		closeQuietly(logger, ext)
	}
}

// Close releases the modules of every initialized extension
func (r *InitResult) Close() error {
	var firstErr error
	for _, ext := range r.Initialized {
		if err := ext.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
