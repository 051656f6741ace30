package extension

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// EntryPoint is the role entry point an extension module exports. It
// returns once initialization is complete; the result is passed through
// to the host unchanged.
type EntryPoint func(ctx context.Context, rc *RuntimeContext) (any, error)

// CallbackEntryPoint is the completion-callback form of an entry point.
// done must be called exactly once.
type CallbackEntryPoint func(rc *RuntimeContext, done func(err error, result any))

// Module is a loaded entry module
type Module interface {
	// Init invokes the module's entry point
	Init(ctx context.Context, rc *RuntimeContext) (any, error)

	// Close releases whatever backs the module
	Close() error
}

// ModuleLoader loads the entry module at an absolute path
type ModuleLoader interface {
	Load(ctx context.Context, path string) (Module, error)
}

// ModuleLoaderFunc adapts a function to ModuleLoader
type ModuleLoaderFunc func(ctx context.Context, path string) (Module, error)

func (f ModuleLoaderFunc) Load(ctx context.Context, path string) (Module, error) {
	return f(ctx, path)
}

// Init lets an EntryPoint act as a Module
func (e EntryPoint) Init(ctx context.Context, rc *RuntimeContext) (any, error) {
	return e(ctx, rc)
}

func (e EntryPoint) Close() error { return nil }

// FromCallback wraps a callback entry point. The returned EntryPoint
// resolves on the first done call; later calls are dropped. A cancelled
// ctx stops the wait.
func FromCallback(fn CallbackEntryPoint) EntryPoint {
	return func(ctx context.Context, rc *RuntimeContext) (any, error) {
		type completion struct {
			result any
			err    error
		}

		resolved := make(chan completion, 1)
		var once sync.Once
		done := func(err error, result any) {
			called := false
			once.Do(func() {
				called = true
				resolved <- completion{result: result, err: err}
			})
			if !called && rc != nil {
				rc.logger().Warn().Msg("Extension completion callback invoked more than once")
			}
		}

		go func() {
			defer func() {
				if r := recover(); r != nil {
					done(fmt.Errorf("entry point panicked: %v", r), nil)
				}
			}()
			fn(rc, done)
		}()

		select {
		case c := <-resolved:
			return c.result, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Registry holds entry points linked into the host binary. Keys are either
// absolute entry paths or "<package-dir>/<entry>" (for example
// "foobar-strider/webapp.js").
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty module registry
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]Module),
	}
}

// Register registers a module under key
func (r *Registry) Register(key string, module Module) error {
	key = filepath.ToSlash(filepath.Clean(key))
	if key == "." || key == "" {
		return fmt.Errorf("module key cannot be empty")
	}
	if module == nil {
		return fmt.Errorf("module %s cannot be nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[key]; exists {
		return fmt.Errorf("module %s already registered", key)
	}
	r.modules[key] = module
	return nil
}

// RegisterFunc registers an entry point under key
func (r *Registry) RegisterFunc(key string, fn EntryPoint) error {
	return r.Register(key, fn)
}

// Lookup finds the module for an absolute entry path
func (r *Registry) Lookup(path string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clean := filepath.Clean(path)
	if m, ok := r.modules[filepath.ToSlash(clean)]; ok {
		return m, true
	}

	// "<package-dir>/<entry...>": try every suffix that keeps at least two segments
	parts := strings.Split(filepath.ToSlash(clean), "/")
	for i := 1; i < len(parts)-1; i++ {
		if m, ok := r.modules[strings.Join(parts[i:], "/")]; ok {
			return m, true
		}
	}
	return nil, false
}

// Load implements ModuleLoader
func (r *Registry) Load(_ context.Context, path string) (Module, error) {
	m, ok := r.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: no module registered for %s", ErrModuleLoad, path)
	}
	return m, nil
}

// Keys returns all registered keys
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.modules))
	for k := range r.modules {
		keys = append(keys, k)
	}
	return keys
}

// DispatchLoader picks a loader per entry: registered modules first,
// shared objects through Native, everything else through RPC.
type DispatchLoader struct {
	logger   zerolog.Logger
	Registry *Registry
	Native   ModuleLoader
	RPC      ModuleLoader
}

// NewDispatchLoader creates the default module loader chain. Any of the
// loaders may be nil to disable that kind of module.
func NewDispatchLoader(logger zerolog.Logger, registry *Registry, native, rpc ModuleLoader) *DispatchLoader {
	return &DispatchLoader{
		logger:   logger.With().Str("component", "module-loader").Logger(),
		Registry: registry,
		Native:   native,
		RPC:      rpc,
	}
}

// Load implements ModuleLoader
func (d *DispatchLoader) Load(ctx context.Context, path string) (Module, error) {
	if d.Registry != nil {
		if m, ok := d.Registry.Lookup(path); ok {
			d.logger.Debug().Str("path", path).Msg("Using registered module")
			return m, nil
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: entry module not found: %s", ErrModuleLoad, path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: entry module is a directory: %s", ErrModuleLoad, path)
	}

	if strings.EqualFold(filepath.Ext(path), ".so") {
		if d.Native == nil {
			return nil, fmt.Errorf("%w: native modules are disabled: %s", ErrModuleLoad, path)
		}
		return d.Native.Load(ctx, path)
	}

	if d.RPC == nil {
		return nil, fmt.Errorf("%w: no loader for %s", ErrModuleLoad, path)
	}
	return d.RPC.Load(ctx, path)
}
