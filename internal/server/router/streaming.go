package router

import (
	"net/http"

	"github.com/babelcloud/camcast/internal/server/handlers"
)

// StreamingRouter handles the live websocket stream
type StreamingRouter struct {
	handlers *handlers.StreamHandlers
}

// RegisterRoutes registers the live stream at /live and /api/stream/live
func (r *StreamingRouter) RegisterRoutes(mux *http.ServeMux, server interface{}) {
	var serverService handlers.ServerService
	if srv, ok := server.(handlers.ServerService); ok {
		serverService = srv
	}
	r.handlers = handlers.NewStreamHandlers(serverService)

	mux.HandleFunc("/live", r.handlers.HandleLive)
	mux.HandleFunc(r.GetPathPrefix()+"/live", r.handlers.HandleLive)
}

// GetPathPrefix returns the path prefix for this router
func (r *StreamingRouter) GetPathPrefix() string {
	return "/api/stream"
}
