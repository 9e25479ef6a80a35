package router

import (
	"net/http"

	"github.com/babelcloud/camcast/internal/server/handlers"
)

// APIRouter handles all /api/* routes except the live stream
type APIRouter struct {
	handlers *handlers.APIHandlers
	frames   *handlers.FrameHandlers
	params   *handlers.ParamHandlers
}

// RegisterRoutes registers all API routes
func (r *APIRouter) RegisterRoutes(mux *http.ServeMux, server interface{}) {
	var serverService handlers.ServerService
	if srv, ok := server.(handlers.ServerService); ok {
		serverService = srv
	}

	r.handlers = handlers.NewAPIHandlers(serverService)
	r.frames = handlers.NewFrameHandlers(serverService)
	r.params = handlers.NewParamHandlers(serverService)

	api := NewRouteGroup(r.GetPathPrefix(), mux)

	// Health and status endpoints
	api.HandleFunc("/health", r.handlers.HandleHealth)
	api.HandleFunc("/status", r.handlers.HandleStatus)

	// Server management endpoints
	api.HandleFunc("/server/shutdown", r.handlers.HandleServerShutdown)
	api.HandleFunc("/server/info", r.handlers.HandleServerInfo)

	if serverService == nil {
		return
	}

	// Single frame and camera parameter endpoints
	api.HandleFunc("/frame", r.frames.HandleFrame)
	api.HandleFunc("/param", r.params.HandleParams)

	sub := NewPatternRouter()
	sub.HandleFunc("/api/frame/{file}", func(w http.ResponseWriter, req *http.Request) {
		r.frames.HandleCachedFrame(w, req, PathParam(req, "file"))
	})
	sub.HandleFunc("/api/param/{name}", func(w http.ResponseWriter, req *http.Request) {
		r.params.HandleParam(w, req, PathParam(req, "name"))
	})
	api.Handle("/frame/", sub)
	api.Handle("/param/", sub)
}

// GetPathPrefix returns the path prefix for this router
func (r *APIRouter) GetPathPrefix() string {
	return "/api"
}
