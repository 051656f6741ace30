package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/extloader/pkg/extension"
)

// writePackage creates base/name with a manifest and package.json
func writePackage(t *testing.T, base, name, manifest string) string {
	t.Helper()
	dir := filepath.Join(base, name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "static"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "strider.json"), []byte(manifest), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"`+name+`","version":"1.0.0"}`), 0644))
	return dir
}

// writeConfig writes a quiet config file and returns its path
func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extloader.json")
	cfg := `{
		"logging": {"level": "error", "console": true, "pretty": false},
		"metrics": {"enabled": true},
		"extensions": {"native_modules": false, "rpc_modules": false},
		"settings": {"appName": "strider"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func register(t *testing.T, key string, fn extension.EntryPoint) {
	t.Helper()
	if _, ok := BuiltinModules.Lookup("/" + key); ok {
		return
	}
	require.NoError(t, BuiltinModules.RegisterFunc(key, fn))
}

func TestDiscoverCommand(t *testing.T) {
	base := t.TempDir()
	writePackage(t, base, "disc-one", `{"worker":"worker.js"}`)
	writePackage(t, base, "disc-two", `{"webapp":"webapp.js"}`)
	require.NoError(t, os.MkdirAll(filepath.Join(base, "not-an-extension"), 0755))

	out, err := execute(t, "discover", "--config", writeConfig(t), base, filepath.Join(base, "missing"))
	require.NoError(t, err)

	assert.Equal(t,
		filepath.Join(base, "disc-one")+"\n"+filepath.Join(base, "disc-two")+"\n",
		out)
}

func TestInspectCommand(t *testing.T) {
	base := t.TempDir()
	dir := writePackage(t, base, "inspect-me", `{"worker":"worker.js","webapp":"webapp.js","weight":5}`)

	t.Run("table", func(t *testing.T) {
		out, err := execute(t, "inspect", "--config", writeConfig(t), "--json=false", dir)
		require.NoError(t, err)

		assert.Contains(t, out, "inspect-me")
		assert.Contains(t, out, "1.0.0")
		assert.Contains(t, out, filepath.Join(dir, "worker.js"))
		assert.Contains(t, out, filepath.Join(dir, "static"))
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "inspect", "--config", writeConfig(t), "--json", dir)
		require.NoError(t, err)

		var info inspection
		require.NoError(t, json.Unmarshal([]byte(out), &info))
		assert.Equal(t, "inspect-me", info.Name)
		assert.Equal(t, 5, info.Weight)
		assert.Equal(t, filepath.Join(dir, "webapp.js"), info.Webapp)
	})

	t.Run("invalid manifest", func(t *testing.T) {
		bad := writePackage(t, base, "inspect-bad", `{"weight":"heavy"}`)
		_, err := execute(t, "inspect", "--config", writeConfig(t), "--json=false", bad)
		assert.ErrorIs(t, err, extension.ErrManifest)
	})

	t.Run("requires one argument", func(t *testing.T) {
		_, err := execute(t, "inspect", "--config", writeConfig(t))
		assert.Error(t, err)
	})
}

func TestInitCommand(t *testing.T) {
	register(t, "cli-worker/worker.js", func(ctx context.Context, rc *extension.RuntimeContext) (any, error) {
		rc.RegisterTransportMiddleware("gzip")
		return nil, nil
	})
	register(t, "cli-webapp/webapp.js", func(ctx context.Context, rc *extension.RuntimeContext) (any, error) {
		settings, _ := rc.Config.(map[string]any)
		name, _ := settings["appname"].(string)
		return nil, rc.Route().Get("/cli-webapp", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(name))
		})
	})
	register(t, "cli-broken/worker.js", func(ctx context.Context, rc *extension.RuntimeContext) (any, error) {
		return nil, errors.New("boom")
	})

	base := t.TempDir()
	writePackage(t, base, "cli-worker", `{"worker":"worker.js"}`)
	writePackage(t, base, "cli-webapp", `{"webapp":"webapp.js"}`)

	t.Run("worker role", func(t *testing.T) {
		out, err := execute(t, "init", "--config", writeConfig(t), "--role", "worker", base)
		require.NoError(t, err)

		assert.Contains(t, out, "(worker)")
		assert.Contains(t, out, "Initialized (1)")
		assert.Contains(t, out, "cli-worker (weight 0)")
		assert.Contains(t, out, "Excluded (1)")
		assert.Contains(t, out, "Transport middleware (1)")
		assert.Contains(t, out, "gzip")
	})

	t.Run("webapp role", func(t *testing.T) {
		out, err := execute(t, "init", "--config", writeConfig(t), "--role", "webapp", base)
		require.NoError(t, err)

		assert.Contains(t, out, "Initialized (1)")
		assert.Contains(t, out, "Mounts (1)")
		assert.Contains(t, out, "/ext/cli-webapp")
		assert.Contains(t, out, "GET    /cli-webapp (cli-webapp)")
	})

	t.Run("failure is reported", func(t *testing.T) {
		failing := t.TempDir()
		writePackage(t, failing, "cli-broken", `{"worker":"worker.js"}`)

		out, err := execute(t, "init", "--config", writeConfig(t), "--role", "worker", failing)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 extension(s) failed")
		assert.Contains(t, out, "Failed (1)")
		assert.Contains(t, out, "boom")
	})

	t.Run("audit trail", func(t *testing.T) {
		dir := t.TempDir()
		auditFile := filepath.Join(dir, "audit", "extensions.log")
		cfgPath := filepath.Join(dir, "extloader.json")
		cfg := `{
			"logging": {"level": "error", "console": true, "pretty": false, "audit_file": "` + filepath.ToSlash(auditFile) + `"},
			"extensions": {"native_modules": false, "rpc_modules": false}
		}`
		require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

		_, err := execute(t, "init", "--config", cfgPath, "--role", "worker", base)
		require.NoError(t, err)

		data, err := os.ReadFile(auditFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"action":"loaded"`)
		assert.Contains(t, string(data), `"action":"initialized","run_id"`)
		assert.Contains(t, string(data), `"extension":"cli-worker"`)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := execute(t, "init", "--config", writeConfig(t), "--role", "scheduler", base)
		assert.ErrorIs(t, err, extension.ErrConfiguration)
	})

	t.Run("bad log level", func(t *testing.T) {
		_, err := execute(t, "init", "--config", writeConfig(t), "--role", "worker", "--log-level", "loud", base)
		assert.Error(t, err)
		logLevel = ""
	})
}
