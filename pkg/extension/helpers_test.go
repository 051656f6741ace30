package extension

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// writeFile writes content to dir/name, creating dir
func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// writePackage creates base/dir with a manifest and a package.json named name
func writePackage(t *testing.T, base, dir, manifest, name string) string {
	t.Helper()
	pkg := filepath.Join(base, dir)
	writeFile(t, pkg, DefaultManifestFile, manifest)
	writeFile(t, pkg, DefaultMetadataFile, `{"name":"`+name+`","version":"0.4.0"}`)
	return pkg
}

func newTestInitializer(modules ModuleLoader) *Initializer {
	return NewInitializer(zerolog.Nop(), InitializerConfig{Modules: modules})
}

// middlewareEntry registers one transport middleware flag
func middlewareEntry(flag any) EntryPoint {
	return func(ctx context.Context, rc *RuntimeContext) (any, error) {
		rc.RegisterTransportMiddleware(flag)
		return nil, nil
	}
}

// callLog records entry point invocations and static mounts in order
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) entry(name string) EntryPoint {
	return func(ctx context.Context, rc *RuntimeContext) (any, error) {
		l.add("init " + name)
		return nil, nil
	}
}

// mockApp is a testify mock of AppHandle
type mockApp struct {
	mock.Mock
	log *callLog
}

func (m *mockApp) Use(mountPath string, root http.FileSystem) {
	m.Called(mountPath, root)
	if m.log != nil {
		m.log.add("use " + mountPath)
	}
}

func (m *mockApp) Get(path string, handler http.HandlerFunc)    { m.Called(path, handler) }
func (m *mockApp) Post(path string, handler http.HandlerFunc)   { m.Called(path, handler) }
func (m *mockApp) Put(path string, handler http.HandlerFunc)    { m.Called(path, handler) }
func (m *mockApp) Delete(path string, handler http.HandlerFunc) { m.Called(path, handler) }

func newMockApp(log *callLog) *mockApp {
	app := &mockApp{log: log}
	app.On("Use", mock.Anything, mock.Anything).Return()
	return app
}

// mountPaths returns the mount paths passed to Use, in call order
func (m *mockApp) mountPaths() []string {
	var paths []string
	for _, call := range m.Calls {
		if call.Method == "Use" {
			paths = append(paths, call.Arguments.String(0))
		}
	}
	return paths
}

// closeCounter is a Module that counts Close calls
type closeCounter struct {
	mu     sync.Mutex
	closed int
	init   EntryPoint
}

func (c *closeCounter) Init(ctx context.Context, rc *RuntimeContext) (any, error) {
	if c.init == nil {
		return nil, nil
	}
	return c.init(ctx, rc)
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *closeCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
