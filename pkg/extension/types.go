package extension

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// DefaultManifestFile is the descriptor every extension package carries
	DefaultManifestFile = "strider.json"
	// DefaultMetadataFile is the package metadata file read for the extension name
	DefaultMetadataFile = "package.json"
	// DefaultStaticDir is the asset directory mounted for webapp extensions
	DefaultStaticDir = "static"
	// DefaultMountPrefix is prepended to the extension name for static mounts
	DefaultMountPrefix = "/ext"
)

// Role selects which entry point of an extension is initialized
type Role int

const (
	RoleWorker Role = iota + 1
	RoleWebapp
)

// ParseRole converts "worker" or "webapp" into a Role
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "worker":
		return RoleWorker, nil
	case "webapp":
		return RoleWebapp, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrConfiguration, s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleWorker:
		return "worker"
	case RoleWebapp:
		return "webapp"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleWorker || r == RoleWebapp
}

// Manifest represents the strider.json file structure
type Manifest struct {
	Worker string `json:"worker,omitempty"`
	Webapp string `json:"webapp,omitempty"`
	Weight *int   `json:"weight,omitempty"`
	Static string `json:"static,omitempty"`
}

// WeightOrDefault returns the declared weight, or 0 when absent
func (m Manifest) WeightOrDefault() int {
	if m.Weight == nil {
		return 0
	}
	return *m.Weight
}

// Declares reports whether the manifest names an entry module for role
func (m Manifest) Declares(role Role) bool {
	switch role {
	case RoleWorker:
		return m.Worker != ""
	case RoleWebapp:
		return m.Webapp != ""
	}
	return false
}

// Metadata represents the package.json fields the host consumes
type Metadata struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// Extension is one loaded extension package
type Extension struct {
	Path     string
	Manifest Manifest
	Metadata Metadata
	Weight   int

	// Worker and Webapp are nil when the manifest does not declare them
	Worker Module
	Webapp Module
}

// Name returns the metadata name, falling back to the directory name
func (e *Extension) Name() string {
	if name := strings.TrimSpace(e.Metadata.Name); name != "" {
		return name
	}
	return e.DirName()
}

// DirName returns the base name of the discovered package directory
func (e *Extension) DirName() string {
	return filepath.Base(filepath.Clean(e.Path))
}

// Module returns the entry module for role, or nil
func (e *Extension) Module(role Role) Module {
	switch role {
	case RoleWorker:
		return e.Worker
	case RoleWebapp:
		return e.Webapp
	}
	return nil
}

// StaticDir returns the directory served under the extension's mount path
func (e *Extension) StaticDir() string {
	dir := e.Manifest.Static
	if dir == "" {
		dir = DefaultStaticDir
	}
	return filepath.Join(e.Path, dir)
}

// Close releases both entry modules
func (e *Extension) Close() error {
	var firstErr error
	for _, m := range []Module{e.Worker, e.Webapp} {
		if m == nil {
			continue
		}
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// State represents where an extension is in one initialization pass
type State string

const (
	StateDiscovered  State = "discovered"
	StateLoaded      State = "loaded"
	StateMounted     State = "mounted"
	StateInitialized State = "initialized"
	StateFailed      State = "failed"
	StateExcluded    State = "excluded"
)

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == StateInitialized || s == StateFailed || s == StateExcluded
}

// InitResult contains the results of one InitExtensions call
type InitResult struct {
	RunID       string
	Role        Role
	Initialized []*Extension     // Successfully initialized, in invocation order
	Failed      []string         // Package paths that failed to load, mount or initialize
	Excluded    []string         // Package paths without an entry point for the role
	Errors      map[string]error // Errors by package path
}

func newInitResult(runID string, role Role) *InitResult {
	return &InitResult{
		RunID:       runID,
		Role:        role,
		Initialized: []*Extension{},
		Failed:      []string{},
		Excluded:    []string{},
		Errors:      make(map[string]error),
	}
}

func (r *InitResult) fail(path string, err error) {
	r.Failed = append(r.Failed, path)
	r.Errors[path] = err
}
