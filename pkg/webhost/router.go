// Package webhost provides a gorilla/mux backed host surface for webapp
// extensions.
package webhost

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/harun/extloader/pkg/extension"
)

// Router implements extension.AppHandle on top of a mux.Router. Routes
// live on a subrouter matched before the static mounts, so a route under
// an extension's mount path takes precedence over its files.
type Router struct {
	router *mux.Router
	routes *mux.Router
	logger zerolog.Logger

	mu     sync.Mutex
	mounts []string
}

var _ extension.AppHandle = (*Router)(nil)

// NewRouter wraps router; a nil router creates a fresh one
func NewRouter(router *mux.Router, logger zerolog.Logger) *Router {
	if router == nil {
		router = mux.NewRouter()
	}
	return &Router{
		router: router,
		routes: router.NewRoute().Subrouter(),
		logger: logger.With().Str("component", "webhost").Logger(),
	}
}

// Mux returns the underlying router
func (r *Router) Mux() *mux.Router {
	return r.router
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

// Use serves root under mountPath
func (r *Router) Use(mountPath string, root http.FileSystem) {
	prefix := "/" + strings.Trim(mountPath, "/")

	r.mu.Lock()
	r.mounts = append(r.mounts, prefix)
	r.mu.Unlock()

	files := http.StripPrefix(prefix, http.FileServer(root))
	r.router.PathPrefix(prefix + "/").Handler(files)
	r.router.Handle(prefix, http.RedirectHandler(prefix+"/", http.StatusMovedPermanently))

	r.logger.Debug().Str("mount", prefix).Msg("Mounted static directory")
}

// Mounts returns mounted prefixes in mount order
func (r *Router) Mounts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.mounts...)
}

func (r *Router) Get(path string, handler http.HandlerFunc) {
	r.routes.HandleFunc(path, handler).Methods(http.MethodGet)
}

func (r *Router) Post(path string, handler http.HandlerFunc) {
	r.routes.HandleFunc(path, handler).Methods(http.MethodPost)
}

func (r *Router) Put(path string, handler http.HandlerFunc) {
	r.routes.HandleFunc(path, handler).Methods(http.MethodPut)
}

func (r *Router) Delete(path string, handler http.HandlerFunc) {
	r.routes.HandleFunc(path, handler).Methods(http.MethodDelete)
}

// MountRoutes registers extension routes. When several routes share a
// method and path the last one registered wins.
func (r *Router) MountRoutes(routes []extension.Route) int {
	type key struct {
		method extension.Method
		path   string
	}

	winners := make(map[key]int, len(routes))
	for i, route := range routes {
		if err := route.Validate(); err != nil {
			r.logger.Warn().Err(err).Str("extension", route.Extension).Msg("Skipping invalid extension route")
			continue
		}
		k := key{route.Method, route.Path}
		if prev, ok := winners[k]; ok {
			r.logger.Warn().
				Str("method", string(route.Method)).
				Str("path", route.Path).
				Str("shadowed", routes[prev].Extension).
				Str("by", route.Extension).
				Msg("Extension route shadowed")
		}
		winners[k] = i
	}

	mounted := 0
	for i, route := range routes {
		if w, ok := winners[key{route.Method, route.Path}]; !ok || w != i {
			continue
		}

		if mount, ok := r.mountFor(route.Path); ok {
			r.logger.Info().
				Str("method", string(route.Method)).
				Str("path", route.Path).
				Str("mount", mount).
				Str("by", route.Extension).
				Msg("Extension route shadows static mount")
		}

		switch route.Method {
		case extension.MethodGet:
			r.Get(route.Path, route.Handler)
		case extension.MethodPost:
			r.Post(route.Path, route.Handler)
		case extension.MethodPut:
			r.Put(route.Path, route.Handler)
		case extension.MethodDelete:
			r.Delete(route.Path, route.Handler)
		}
		mounted++
	}

	r.logger.Info().Int("routes", mounted).Msg("Mounted extension routes")
	return mounted
}

// mountFor returns the static mount that path falls under
func (r *Router) mountFor(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mount := range r.mounts {
		if path == mount || strings.HasPrefix(path, mount+"/") {
			return mount, true
		}
	}
	return "", false
}
