package webhost

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/extloader/pkg/extension"
)

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRouterUseServesStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log('strider')"), 0644))

	r := NewRouter(nil, zerolog.Nop())
	r.Use("/ext/foobar-strider", http.Dir(dir))

	rec := do(t, r, http.MethodGet, "/ext/foobar-strider/app.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log('strider')", rec.Body.String())

	t.Run("missing file", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/ext/foobar-strider/nope.js").Code)
	})

	t.Run("bare prefix redirects", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/ext/foobar-strider")
		assert.Equal(t, http.StatusMovedPermanently, rec.Code)
		assert.Equal(t, "/ext/foobar-strider/", rec.Header().Get("Location"))
	})

	t.Run("missing static directory", func(t *testing.T) {
		r.Use("/ext/empty", http.Dir(filepath.Join(dir, "static")))
		assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/ext/empty/app.js").Code)
	})
}

func TestRouterMounts(t *testing.T) {
	r := NewRouter(nil, zerolog.Nop())
	r.Use("/ext/b", http.Dir(t.TempDir()))
	r.Use("ext/a/", http.Dir(t.TempDir()))

	assert.Equal(t, []string{"/ext/b", "/ext/a"}, r.Mounts())
}

func TestRouterMethods(t *testing.T) {
	r := NewRouter(nil, zerolog.Nop())
	r.Get("/item", respond("get"))
	r.Post("/item", respond("post"))
	r.Put("/item", respond("put"))
	r.Delete("/item", respond("delete"))

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := do(t, r, method, "/item")
		assert.Equal(t, http.StatusOK, rec.Code, method)
	}
	assert.Equal(t, "put", do(t, r, http.MethodPut, "/item").Body.String())
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, r, http.MethodPatch, "/item").Code)
}

func TestRouterMountRoutes(t *testing.T) {
	r := NewRouter(nil, zerolog.Nop())

	n := r.MountRoutes([]extension.Route{
		{Path: "/foo", Method: extension.MethodGet, Handler: respond("first"), Extension: "a"},
		{Path: "/foo", Method: extension.MethodPost, Handler: respond("post"), Extension: "a"},
		{Path: "/foo", Method: extension.MethodGet, Handler: respond("second"), Extension: "b"},
		{Path: "/foo", Method: extension.MethodGet, Extension: "c"},
		{Path: "bar", Method: extension.MethodGet, Handler: respond("bar"), Extension: "c"},
	})

	assert.Equal(t, 2, n)
	assert.Equal(t, "second", do(t, r, http.MethodGet, "/foo").Body.String())
	assert.Equal(t, "post", do(t, r, http.MethodPost, "/foo").Body.String())
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/bar").Code)
}

func TestRouterWrapsExistingMux(t *testing.T) {
	r := NewRouter(nil, zerolog.Nop())
	wrapped := NewRouter(r.Mux(), zerolog.Nop())
	wrapped.Get("/shared", respond("shared"))

	assert.Equal(t, "shared", do(t, r, http.MethodGet, "/shared").Body.String())
}

func TestRouterRoutesUnderMountTakePrecedence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("asset"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api"), []byte("shadowed file"), 0644))

	var buf bytes.Buffer
	r := NewRouter(nil, zerolog.New(&buf))
	r.Use("/ext/foo", http.Dir(dir))

	n := r.MountRoutes([]extension.Route{
		{Path: "/ext/foo/api", Method: extension.MethodGet, Handler: respond("api"), Extension: "foo"},
		{Path: "/ext/foo", Method: extension.MethodGet, Handler: respond("index"), Extension: "foo"},
	})
	require.Equal(t, 2, n)

	assert.Equal(t, "api", do(t, r, http.MethodGet, "/ext/foo/api").Body.String())
	assert.Equal(t, "index", do(t, r, http.MethodGet, "/ext/foo").Body.String())

	t.Run("static files still served", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/ext/foo/app.js")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "asset", rec.Body.String())
	})

	t.Run("shadowing is logged", func(t *testing.T) {
		assert.Contains(t, buf.String(), "Extension route shadows static mount")
		assert.Contains(t, buf.String(), `"mount":"/ext/foo"`)
	})
}
