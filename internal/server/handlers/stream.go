package handlers

import (
	"net/http"

	"github.com/babelcloud/camcast/internal/session"
	"github.com/babelcloud/camcast/internal/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// StreamHandlers serves the live websocket stream
type StreamHandlers struct {
	serverService ServerService
}

// NewStreamHandlers creates a new stream handlers instance
func NewStreamHandlers(serverSvc ServerService) *StreamHandlers {
	return &StreamHandlers{
		serverService: serverSvc,
	}
}

// HandleLive upgrades the request to a websocket and runs a viewer session
// on it until the peer leaves or the server stops.
//
// Query parameters:
//   - pacing: "timer" (default) or "pull"
//   - format: "binary" (default) or "base64"
func (h *StreamHandlers) HandleLive(w http.ResponseWriter, req *http.Request) {
	logger := util.GetLogger()

	if h.serverService == nil {
		RespondError(w, http.StatusServiceUnavailable, "stream not available")
		return
	}

	query := req.URL.Query()
	pacing, err := session.ParsePacing(query.Get("pacing"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	format, err := session.ParseFormat(query.Get("format"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ws, err := session.Upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Error("Failed to upgrade to WebSocket", "remote", req.RemoteAddr, "error", err)
		return
	}

	opts := h.serverService.StreamOptions()
	opts.Pacing = pacing

	id := uuid.NewString()
	viewer := session.NewViewer(id, session.NewWSConn(ws, format), h.serverService.FrameStore(), h.serverService.Sessions(), opts)

	logger.Info("Starting live stream", "id", id, "remote", req.RemoteAddr, "pacing", pacing.String(), "format", format.String())
	if err := viewer.Run(h.serverService.Context()); err != nil {
		if errors.Is(err, session.ErrTransport) {
			logger.Debug("Live stream ended by transport", "id", id, "error", err)
			return
		}
		logger.Error("Live stream failed", "id", id, "error", err)
	}
}
