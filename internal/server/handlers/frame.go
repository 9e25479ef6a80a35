package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"

	"github.com/babelcloud/camcast/internal/camera"
	"github.com/babelcloud/camcast/internal/util"
	"github.com/pkg/errors"
)

// SnapshotFile is the name of the cached frame written by mode=path.
const SnapshotFile = "snapshot.jpg"

// FrameResponse is returned by the base64 and path modes.
type FrameResponse struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// FrameHandlers serves single frames
type FrameHandlers struct {
	serverService ServerService
}

// NewFrameHandlers creates a new frame handlers instance
func NewFrameHandlers(serverSvc ServerService) *FrameHandlers {
	return &FrameHandlers{
		serverService: serverSvc,
	}
}

// HandleFrame handles GET /api/frame?mode=raw|base64|path.
func (h *FrameHandlers) HandleFrame(w http.ResponseWriter, req *http.Request) {
	setCORSHeaders(w)
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mode := req.URL.Query().Get("mode")
	switch mode {
	case "":
		RespondError(w, http.StatusBadRequest, "missing mode parameter")
		return
	case "raw", "base64", "path":
	default:
		RespondError(w, http.StatusForbidden, "unsupported mode "+mode)
		return
	}

	f, err := h.serverService.Capture().Snapshot(req.Context())
	if err != nil {
		h.respondSnapshotError(w, req.Context(), err)
		return
	}

	switch mode {
	case "raw":
		w.Header().Set("Content-Type", h.serverService.Capture().ContentType())
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		w.Write(f.Payload)

	case "base64":
		RespondJSON(w, http.StatusOK, FrameResponse{
			URL: base64.StdEncoding.EncodeToString(f.Payload),
		})

	case "path":
		dir := h.serverService.CacheDir()
		if err := os.MkdirAll(dir, 0755); err != nil {
			RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		path, err := writeSnapshot(dir, f.Payload)
		if err != nil {
			RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		RespondJSON(w, http.StatusOK, FrameResponse{
			Path: path,
			URL:  "/api/frame/" + SnapshotFile,
		})
	}
}

// writeSnapshot writes payload to a unique temp file in dir and renames it
// onto SnapshotFile. Concurrent writers never share a temp file; the last
// rename wins.
func writeSnapshot(dir string, payload []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, "snapshot-*.jpg")
	if err != nil {
		return "", errors.Wrap(err, "failed to write snapshot")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "failed to write snapshot")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "failed to write snapshot")
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return "", errors.Wrap(err, "failed to write snapshot")
	}

	path := filepath.Join(dir, SnapshotFile)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrap(err, "failed to store snapshot")
	}
	return path, nil
}

// HandleCachedFrame serves the file written by the last mode=path request.
func (h *FrameHandlers) HandleCachedFrame(w http.ResponseWriter, req *http.Request, name string) {
	setCORSHeaders(w)
	if name != SnapshotFile {
		http.NotFound(w, req)
		return
	}
	path := filepath.Join(h.serverService.CacheDir(), SnapshotFile)
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, req, path)
}

func (h *FrameHandlers) respondSnapshotError(w http.ResponseWriter, ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		// Client went away; nothing useful to send.
		return
	case errors.Is(err, camera.ErrCamera):
		util.GetLogger().Warn("Snapshot camera read failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		util.GetLogger().Error("Snapshot failed", "error", err)
		RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
