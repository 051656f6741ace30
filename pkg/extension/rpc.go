package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/rpc"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"
)

// maxProxyBody caps request bodies forwarded to out-of-process routes
const maxProxyBody = 10 << 20

// Handshake is used to verify that the extension process and host are compatible
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "EXTLOADER_EXTENSION",
	MagicCookieValue: "extloader-extension-v1",
}

// PluginMap is the map of plugins we can dispense
var PluginMap = map[string]plugin.Plugin{
	"extension": &ExtensionRPCPlugin{},
}

// RemoteExtension is implemented by extension processes served over RPC
type RemoteExtension interface {
	// Init runs the entry point with the JSON-encoded host config
	Init(config []byte) (*InitResponse, error)

	// Serve handles a request for a route returned by Init
	Serve(req *RouteRequest) (*RouteResponse, error)
}

// RouteDescriptor is a route declared by an out-of-process extension
type RouteDescriptor struct {
	ID     string
	Path   string
	Method Method
}

// InitResponse is the outcome of a remote Init
type InitResponse struct {
	Result              []byte   // JSON
	TransportMiddleware [][]byte // JSON, one per registration
	Routes              []RouteDescriptor
	Error               string
}

// RouteRequest is an HTTP request forwarded to an extension process
type RouteRequest struct {
	RouteID string
	Method  string
	URL     string
	Header  map[string][]string
	Body    []byte
}

// RouteResponse is the extension process's reply
type RouteResponse struct {
	Status int
	Header map[string][]string
	Body   []byte
	Error  string
}

// ExtensionRPCPlugin is the implementation of plugin.Plugin for RPC
type ExtensionRPCPlugin struct {
	Impl RemoteExtension
}

func (p *ExtensionRPCPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &ExtensionRPCServer{Impl: p.Impl}, nil
}

func (p *ExtensionRPCPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &ExtensionRPCClient{client: c}, nil
}

// InitArgs are the arguments for the Init RPC call
type InitArgs struct {
	Config []byte
}

// ExtensionRPCServer is the RPC server that ExtensionRPCClient talks to
type ExtensionRPCServer struct {
	Impl RemoteExtension
}

func (s *ExtensionRPCServer) Init(args *InitArgs, resp *InitResponse) error {
	out, err := s.Impl.Init(args.Config)
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	*resp = *out
	return nil
}

func (s *ExtensionRPCServer) Serve(args *RouteRequest, resp *RouteResponse) error {
	out, err := s.Impl.Serve(args)
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	*resp = *out
	return nil
}

// ExtensionRPCClient is the RPC client that talks to ExtensionRPCServer
type ExtensionRPCClient struct {
	client *rpc.Client
}

func (c *ExtensionRPCClient) Init(config []byte) (*InitResponse, error) {
	var resp InitResponse
	if err := c.client.Call("Plugin.Init", &InitArgs{Config: config}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return &resp, nil
}

func (c *ExtensionRPCClient) Serve(req *RouteRequest) (*RouteResponse, error) {
	var resp RouteResponse
	if err := c.client.Call("Plugin.Serve", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return &resp, nil
}

// RPCLoader starts extension executables as go-plugin subprocesses
type RPCLoader struct {
	logger zerolog.Logger
}

// NewRPCLoader creates a new subprocess loader
func NewRPCLoader(logger zerolog.Logger) *RPCLoader {
	return &RPCLoader{
		logger: logger.With().Str("component", "rpc-loader").Logger(),
	}
}

// Load implements ModuleLoader
func (l *RPCLoader) Load(_ context.Context, path string) (Module, error) {
	extLogger := l.logger.With().Str("path", path).Logger()
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.Command(path),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		Stderr:           extLogger.With().Str("stream", "stderr").Logger(),
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:   "extension",
			Output: extLogger,
			Level:  hclogLevel(extLogger.GetLevel()),
		}),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", ErrModuleLoad, path, err)
	}

	raw, err := rpcClient.Dispense("extension")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("%w: failed to dispense %s: %v", ErrModuleLoad, path, err)
	}

	remote, ok := raw.(RemoteExtension)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("%w: unexpected extension type %T", ErrModuleLoad, raw)
	}

	l.logger.Debug().Str("path", path).Msg("Started extension process")
	return NewRemoteModule(remote, client.Kill, l.logger), nil
}

// hclogLevel maps the host log level onto go-plugin's logger
func hclogLevel(level zerolog.Level) hclog.Level {
	switch {
	case level <= zerolog.TraceLevel:
		return hclog.Trace
	case level == zerolog.DebugLevel:
		return hclog.Debug
	case level == zerolog.InfoLevel:
		return hclog.Info
	case level == zerolog.WarnLevel:
		return hclog.Warn
	case level >= zerolog.Disabled:
		return hclog.Off
	default:
		return hclog.Error
	}
}

// RemoteModule adapts a RemoteExtension to Module. Routes it declares are
// registered with handlers that proxy to the extension.
type RemoteModule struct {
	remote RemoteExtension
	kill   func()
	logger zerolog.Logger
	once   sync.Once
}

// NewRemoteModule wraps remote; kill may be nil
func NewRemoteModule(remote RemoteExtension, kill func(), logger zerolog.Logger) *RemoteModule {
	return &RemoteModule{
		remote: remote,
		kill:   kill,
		logger: logger,
	}
}

// Init implements Module
func (m *RemoteModule) Init(ctx context.Context, rc *RuntimeContext) (any, error) {
	config, err := json.Marshal(rc.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	type reply struct {
		resp *InitResponse
		err  error
	}
	replies := make(chan reply, 1)
	go func() {
		resp, err := m.remote.Init(config)
		replies <- reply{resp, err}
	}()

	var resp *InitResponse
	select {
	case r := <-replies:
		if r.err != nil {
			return nil, r.err
		}
		resp = r.resp
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for _, raw := range resp.TransportMiddleware {
		var flag any
		if err := json.Unmarshal(raw, &flag); err != nil {
			return nil, fmt.Errorf("invalid transport middleware flag: %w", err)
		}
		rc.RegisterTransportMiddleware(flag)
	}

	for _, route := range resp.Routes {
		if err := rc.AddRoute(Route{
			Path:    route.Path,
			Method:  route.Method,
			Handler: m.proxy(route.ID),
		}); err != nil {
			return nil, fmt.Errorf("invalid route %s: %w", route.ID, err)
		}
	}

	var result any
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("invalid init result: %w", err)
		}
	}
	return result, nil
}

// Close implements Module
func (m *RemoteModule) Close() error {
	m.once.Do(func() {
		if m.kill != nil {
			m.kill()
		}
	})
	return nil
}

func (m *RemoteModule) proxy(routeID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBody))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		resp, err := m.remote.Serve(&RouteRequest{
			RouteID: routeID,
			Method:  r.Method,
			URL:     r.URL.String(),
			Header:  r.Header.Clone(),
			Body:    body,
		})
		if err != nil {
			m.logger.Error().Err(err).Str("route", routeID).Msg("Extension route failed")
			http.Error(w, "extension route failed", http.StatusBadGateway)
			return
		}

		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write(resp.Body)
	}
}

// ServeEntryPoint serves an entry point as an extension process. It
// blocks and is meant to be called from the extension binary's main.
func ServeEntryPoint(entry EntryPoint) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			"extension": &ExtensionRPCPlugin{Impl: NewLocalRemote(entry)},
		},
	})
}

// LocalRemote runs an entry point inside the extension process and keeps
// the handlers of the routes it registers
type LocalRemote struct {
	entry    EntryPoint
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
}

// NewLocalRemote creates a RemoteExtension backed by entry
func NewLocalRemote(entry EntryPoint) *LocalRemote {
	return &LocalRemote{
		entry:    entry,
		handlers: make(map[string]http.HandlerFunc),
	}
}

// Init implements RemoteExtension
func (l *LocalRemote) Init(config []byte) (*InitResponse, error) {
	var cfg any
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	rc := NewRuntimeContext(cfg)
	result, err := l.entry(context.Background(), rc)
	if err != nil {
		return nil, err
	}

	resp := &InitResponse{}
	if result != nil {
		if resp.Result, err = json.Marshal(result); err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
	}
	for _, flag := range rc.TransportMiddlewares() {
		raw, err := json.Marshal(flag)
		if err != nil {
			return nil, fmt.Errorf("failed to encode transport middleware flag: %w", err)
		}
		resp.TransportMiddleware = append(resp.TransportMiddleware, raw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, route := range rc.ExtensionRoutes() {
		id := fmt.Sprintf("%s:%s#%d", route.Method, route.Path, i)
		l.handlers[id] = route.Handler
		resp.Routes = append(resp.Routes, RouteDescriptor{ID: id, Path: route.Path, Method: route.Method})
	}

	return resp, nil
}

// Serve implements RemoteExtension
func (l *LocalRemote) Serve(req *RouteRequest) (*RouteResponse, error) {
	l.mu.RLock()
	handler, ok := l.handlers[req.RouteID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown route %s", req.RouteID)
	}

	r, err := http.NewRequest(req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.Header != nil {
		r.Header = http.Header(req.Header)
	}

	w := &bufferedResponse{header: make(http.Header)}
	handler(w, r)

	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	return &RouteResponse{Status: status, Header: w.header, Body: w.body.Bytes()}, nil
}

type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}
