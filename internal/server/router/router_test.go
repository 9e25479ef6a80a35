package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternRouterParams(t *testing.T) {
	pr := NewPatternRouter()
	var got string
	pr.HandleFunc("/api/param/{name}", func(w http.ResponseWriter, r *http.Request) {
		got = PathParam(r, "name")
	})
	pr.HandleFunc("/api/frame/{file:[a-z]+\\.jpg}", func(w http.ResponseWriter, r *http.Request) {
		got = PathParam(r, "file")
	})

	rec := httptest.NewRecorder()
	pr.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/param/brightness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "brightness", got)

	rec = httptest.NewRecorder()
	pr.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/frame/snapshot.jpg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "snapshot.jpg", got)

	rec = httptest.NewRecorder()
	pr.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/frame/snapshotXjpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	pr.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/param/a/b", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPathParamMissing(t *testing.T) {
	assert.Equal(t, "", PathParam(httptest.NewRequest(http.MethodGet, "/", nil), "name"))
}

func TestAPIRouterWithoutServer(t *testing.T) {
	mux := http.NewServeMux()
	r := &APIRouter{}
	r.RegisterRoutes(mux, nil)
	assert.Equal(t, "/api", r.GetPathPrefix())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamingRouterWithoutServer(t *testing.T) {
	mux := http.NewServeMux()
	(&StreamingRouter{}).RegisterRoutes(mux, nil)

	for _, path := range []string{"/live", "/api/stream/live"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}
