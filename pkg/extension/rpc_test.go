package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dispenseRemote serves entry over an in-memory net/rpc connection
func dispenseRemote(t *testing.T, entry EntryPoint) RemoteExtension {
	t.Helper()
	client, _ := plugin.TestPluginRPCConn(t, map[string]plugin.Plugin{
		"extension": &ExtensionRPCPlugin{Impl: NewLocalRemote(entry)},
	}, nil)
	t.Cleanup(func() { _ = client.Close() })

	raw, err := client.Dispense("extension")
	require.NoError(t, err)
	remote, ok := raw.(RemoteExtension)
	require.True(t, ok)
	return remote
}

func TestRemoteModuleOverRPC(t *testing.T) {
	remote := dispenseRemote(t, func(ctx context.Context, rc *RuntimeContext) (any, error) {
		cfg, ok := rc.Config.(map[string]any)
		if !ok || cfg["db"] != "mongodb://localhost/strider" {
			return nil, fmt.Errorf("unexpected config %v", rc.Config)
		}
		rc.RegisterTransportMiddleware(map[string]any{"auth": true})
		rc.RegisterTransportMiddleware("compress")
		err := rc.Route().Get("/hello", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Extension", "greeter")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("hello " + r.Header.Get("X-Name")))
		})
		return map[string]any{"ready": true}, err
	})

	module := NewRemoteModule(remote, nil, zerolog.Nop())
	rc := NewRuntimeContext(map[string]any{"db": "mongodb://localhost/strider"})

	result, err := module.Init(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ready": true}, result)

	t.Run("transport middleware is replayed", func(t *testing.T) {
		assert.Equal(t, []any{map[string]any{"auth": true}, "compress"}, rc.TransportMiddlewares())
	})

	t.Run("routes proxy to the extension", func(t *testing.T) {
		routes := rc.ExtensionRoutes()
		require.Len(t, routes, 1)
		assert.Equal(t, "/hello", routes[0].Path)
		assert.Equal(t, MethodGet, routes[0].Method)

		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("X-Name", "strider")
		rec := httptest.NewRecorder()
		routes[0].Handler(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "hello strider", rec.Body.String())
		assert.Equal(t, "greeter", rec.Header().Get("X-Extension"))
	})
}

func TestRemoteModuleInitError(t *testing.T) {
	remote := dispenseRemote(t, func(context.Context, *RuntimeContext) (any, error) {
		return nil, errors.New("missing credentials")
	})

	rc := NewRuntimeContext(nil)
	_, err := NewRemoteModule(remote, nil, zerolog.Nop()).Init(context.Background(), rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing credentials")
	assert.Empty(t, rc.TransportMiddlewares())
}

func TestRemoteModuleInvalidRoute(t *testing.T) {
	fake := &fakeRemote{init: &InitResponse{
		Routes: []RouteDescriptor{{ID: "bad", Path: "/x", Method: "patch"}},
	}}

	_, err := NewRemoteModule(fake, nil, zerolog.Nop()).Init(context.Background(), NewRuntimeContext(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid route bad")
}

// fakeRemote is a RemoteExtension with canned replies
type fakeRemote struct {
	init    *InitResponse
	serve   *RouteResponse
	err     error
	blockCh chan struct{}
}

func (f *fakeRemote) Init([]byte) (*InitResponse, error) {
	if f.blockCh != nil {
		<-f.blockCh
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.init, nil
}

func (f *fakeRemote) Serve(*RouteRequest) (*RouteResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.serve, nil
}

func TestRemoteModuleCancelledInit(t *testing.T) {
	fake := &fakeRemote{init: &InitResponse{}, blockCh: make(chan struct{})}
	defer close(fake.blockCh)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRemoteModule(fake, nil, zerolog.Nop()).Init(ctx, NewRuntimeContext(nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemoteModuleProxyFailure(t *testing.T) {
	fake := &fakeRemote{err: errors.New("process exited")}
	module := NewRemoteModule(fake, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	module.proxy("get:/foo#0")(rec, httptest.NewRequest(http.MethodGet, "/foo", strings.NewReader("body")))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRemoteModuleProxyDefaultStatus(t *testing.T) {
	fake := &fakeRemote{serve: &RouteResponse{Body: []byte("ok")}}
	module := NewRemoteModule(fake, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	module.proxy("get:/foo#0")(rec, httptest.NewRequest(http.MethodGet, "/foo", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRemoteModuleCloseOnce(t *testing.T) {
	kills := 0
	module := NewRemoteModule(&fakeRemote{}, func() { kills++ }, zerolog.Nop())

	require.NoError(t, module.Close())
	require.NoError(t, module.Close())
	assert.Equal(t, 1, kills)
}

func TestLocalRemoteServeUnknownRoute(t *testing.T) {
	local := NewLocalRemote(middlewareEntry(nil))
	_, err := local.Init(nil)
	require.NoError(t, err)

	_, err = local.Serve(&RouteRequest{RouteID: "get:/missing#0", Method: http.MethodGet, URL: "/missing"})
	assert.Error(t, err)
}

func TestLocalRemoteRouteIDs(t *testing.T) {
	local := NewLocalRemote(func(ctx context.Context, rc *RuntimeContext) (any, error) {
		if err := rc.Route().Get("/a", okHandler); err != nil {
			return nil, err
		}
		return nil, rc.Route().Post("/a", okHandler)
	})

	resp, err := local.Init([]byte(`{"x":1}`))
	require.NoError(t, err)
	require.Len(t, resp.Routes, 2)
	assert.Equal(t, "get:/a#0", resp.Routes[0].ID)
	assert.Equal(t, "post:/a#1", resp.Routes[1].ID)
	assert.Nil(t, resp.Result)

	out, err := local.Serve(&RouteRequest{RouteID: "post:/a#1", Method: http.MethodPost, URL: "/a"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)
}

func TestLocalRemoteInvalidConfig(t *testing.T) {
	_, err := NewLocalRemote(middlewareEntry(nil)).Init([]byte("{"))
	assert.Error(t, err)
}

func TestRPCLoaderMissingExecutable(t *testing.T) {
	loader := NewRPCLoader(zerolog.Nop())
	_, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "missing-extension"))
	assert.ErrorIs(t, err, ErrModuleLoad)
}

func TestHclogLevel(t *testing.T) {
	tests := []struct {
		level zerolog.Level
		want  hclog.Level
	}{
		{zerolog.TraceLevel, hclog.Trace},
		{zerolog.DebugLevel, hclog.Debug},
		{zerolog.InfoLevel, hclog.Info},
		{zerolog.WarnLevel, hclog.Warn},
		{zerolog.ErrorLevel, hclog.Error},
		{zerolog.FatalLevel, hclog.Error},
		{zerolog.Disabled, hclog.Off},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, hclogLevel(tt.level))
		})
	}
}
