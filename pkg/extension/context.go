package extension

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Method is the HTTP method of an extension route
type Method string

const (
	MethodGet    Method = "get"
	MethodPost   Method = "post"
	MethodPut    Method = "put"
	MethodDelete Method = "delete"
)

// ValidMethods is a set of all valid route methods
var ValidMethods = map[Method]bool{
	MethodGet:    true,
	MethodPost:   true,
	MethodPut:    true,
	MethodDelete: true,
}

// HTTP returns the upper-case method name used by net/http
func (m Method) HTTP() string {
	return strings.ToUpper(string(m))
}

// Route is an HTTP route an extension contributes for the host to mount
type Route struct {
	Path      string
	Method    Method
	Handler   http.HandlerFunc
	Extension string // Name of the contributing extension, set by the host
}

// Validate checks the route descriptor
func (r Route) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("route path cannot be empty")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("route path %q must start with /", r.Path)
	}
	if !ValidMethods[r.Method] {
		return fmt.Errorf("unsupported route method %q", r.Method)
	}
	if r.Handler == nil {
		return fmt.Errorf("route %s %s has no handler", r.Method, r.Path)
	}
	return nil
}

// RuntimeContext is the host-owned state shared by every extension
// initialized in one pass. Extensions may append routes and register
// transport middleware; they never replace the context.
type RuntimeContext struct {
	// Config is host-defined and read-only for extensions
	Config any

	// Emitter is the host event bus
	Emitter *Emitter

	// TransportMiddleware, when set, is called for every registration
	TransportMiddleware func(flag any)

	mu          sync.Mutex
	routes      []Route
	middlewares []any
	current     string
	log         atomic.Pointer[zerolog.Logger]
}

// NewRuntimeContext creates a context with a fresh emitter
func NewRuntimeContext(config any) *RuntimeContext {
	return &RuntimeContext{
		Config:  config,
		Emitter: NewEmitter(),
	}
}

// AddRoute appends a route descriptor
func (c *RuntimeContext) AddRoute(route Route) error {
	route.Method = Method(strings.ToLower(string(route.Method)))
	if err := route.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if route.Extension == "" {
		route.Extension = c.current
	}
	c.routes = append(c.routes, route)

	c.logger().Debug().
		Str("method", string(route.Method)).
		Str("path", route.Path).
		Str("extension", route.Extension).
		Msg("Registered extension route")
	return nil
}

// Route returns a builder that appends routes to this context
func (c *RuntimeContext) Route() *RouteBuilder {
	return &RouteBuilder{ctx: c}
}

// ExtensionRoutes returns the accumulated routes in registration order
func (c *RuntimeContext) ExtensionRoutes() []Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Route(nil), c.routes...)
}

// RegisterTransportMiddleware records a transport middleware flag
func (c *RuntimeContext) RegisterTransportMiddleware(flag any) {
	c.mu.Lock()
	c.middlewares = append(c.middlewares, flag)
	hook := c.TransportMiddleware
	c.mu.Unlock()

	if hook != nil {
		hook(flag)
	}
}

// TransportMiddlewares returns every registered flag in order
func (c *RuntimeContext) TransportMiddlewares() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.middlewares...)
}

// Emit publishes an event on the context's emitter, if any
func (c *RuntimeContext) Emit(event string, payload any) {
	if c.Emitter != nil {
		c.Emitter.Emit(event, payload)
	}
}

// enter marks the extension whose entry point is running
func (c *RuntimeContext) enter(name string, logger zerolog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = name
	c.log.Store(&logger)
}

func (c *RuntimeContext) leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = ""
	c.log.Store(nil)
}

func (c *RuntimeContext) logger() *zerolog.Logger {
	if l := c.log.Load(); l != nil {
		return l
	}
	nop := zerolog.Nop()
	return &nop
}

// RouteBuilder registers routes with express-style helpers
type RouteBuilder struct {
	ctx *RuntimeContext
}

func (b *RouteBuilder) Get(path string, handler http.HandlerFunc) error {
	return b.ctx.AddRoute(Route{Path: path, Method: MethodGet, Handler: handler})
}

func (b *RouteBuilder) Post(path string, handler http.HandlerFunc) error {
	return b.ctx.AddRoute(Route{Path: path, Method: MethodPost, Handler: handler})
}

func (b *RouteBuilder) Put(path string, handler http.HandlerFunc) error {
	return b.ctx.AddRoute(Route{Path: path, Method: MethodPut, Handler: handler})
}

func (b *RouteBuilder) Delete(path string, handler http.HandlerFunc) error {
	return b.ctx.AddRoute(Route{Path: path, Method: MethodDelete, Handler: handler})
}
