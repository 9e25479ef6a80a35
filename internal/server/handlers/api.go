package handlers

import (
	"net/http"
	"time"
)

// APIHandlers contains handlers for health, status and server management
type APIHandlers struct {
	serverService ServerService
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(serverSvc ServerService) *APIHandlers {
	return &APIHandlers{
		serverService: serverSvc,
	}
}

// Health and status endpoints
func (h *APIHandlers) HandleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"camcast-server"}`))
}

func (h *APIHandlers) HandleStatus(w http.ResponseWriter, req *http.Request) {
	if h.serverService == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"running","service":"camcast-server"}`))
		return
	}

	uptime := h.serverService.GetUptime()
	sessions := h.serverService.Sessions()
	opts := h.serverService.StreamOptions()

	status := map[string]interface{}{
		"running": h.serverService.IsRunning(),
		"port":    h.serverService.GetPort(),
		"uptime":  uptime.String(),
		"viewers": map[string]interface{}{
			"count": sessions.Len(),
			"ids":   sessions.IDs(),
		},
		"capture": h.serverService.Capture().Stats(),
		"frames":  h.serverService.FrameStore().Stats(),
		"stream": map[string]interface{}{
			"max_fps":      opts.MaxFPS,
			"wait_timeout": opts.WaitTimeout.String(),
		},
		"version":  h.serverService.GetVersion(),
		"build_id": h.serverService.GetBuildID(),
	}

	RespondJSON(w, http.StatusOK, status)
}

// Server management endpoints
func (h *APIHandlers) HandleServerShutdown(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.serverService == nil {
		RespondError(w, http.StatusNotImplemented, "server shutdown not available")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Server shutting down",
	})

	// Shutdown after response
	go func() {
		time.Sleep(100 * time.Millisecond)
		h.serverService.Stop()
	}()
}

func (h *APIHandlers) HandleServerInfo(w http.ResponseWriter, req *http.Request) {
	if h.serverService == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"name":"camcast-server","version":"dev"}`))
		return
	}

	info := map[string]interface{}{
		"version":  h.serverService.GetVersion(),
		"build_id": h.serverService.GetBuildID(),
		"port":     h.serverService.GetPort(),
		"uptime":   h.serverService.GetUptime().String(),
		"services": []string{
			"live",
			"frame",
			"param",
		},
	}

	setCORSHeaders(w)
	RespondJSON(w, http.StatusOK, info)
}
