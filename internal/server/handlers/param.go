package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/babelcloud/camcast/internal/camera"
	"github.com/babelcloud/camcast/internal/util"
	"github.com/pkg/errors"
)

// ParamHandlers exposes runtime camera parameters
type ParamHandlers struct {
	serverService ServerService
}

// NewParamHandlers creates a new param handlers instance
func NewParamHandlers(serverSvc ServerService) *ParamHandlers {
	return &ParamHandlers{
		serverService: serverSvc,
	}
}

func (h *ParamHandlers) controller(w http.ResponseWriter) (camera.ParamController, bool) {
	pc, ok := h.serverService.Capture().Camera().(camera.ParamController)
	if !ok {
		RespondError(w, http.StatusNotImplemented, "camera does not expose parameters")
		return nil, false
	}
	return pc, true
}

// HandleParams handles /api/param.
//
//	GET    returns all parameters
//	PUT    applies a JSON object of parameter values
//	DELETE restores the driver defaults
func (h *ParamHandlers) HandleParams(w http.ResponseWriter, req *http.Request) {
	setCORSHeaders(w)
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	pc, ok := h.controller(w)
	if !ok {
		return
	}

	switch req.Method {
	case http.MethodGet:
		RespondJSON(w, http.StatusOK, pc.Params())

	case http.MethodPut:
		var params map[string]interface{}
		if err := json.NewDecoder(req.Body).Decode(&params); err != nil {
			RespondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		if len(params) == 0 {
			RespondError(w, http.StatusBadRequest, "no parameters given")
			return
		}
		if err := pc.SetParams(params); err != nil {
			h.respondSetError(w, err)
			return
		}
		util.GetLogger().Info("Camera parameters updated", "params", params)
		RespondJSON(w, http.StatusOK, pc.Params())

	case http.MethodDelete:
		if err := pc.ResetParams(); err != nil {
			h.respondSetError(w, err)
			return
		}
		util.GetLogger().Info("Camera parameters reset")
		RespondJSON(w, http.StatusOK, pc.Params())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleParam handles GET and PUT /api/param/{name}.
func (h *ParamHandlers) HandleParam(w http.ResponseWriter, req *http.Request, name string) {
	setCORSHeaders(w)
	pc, ok := h.controller(w)
	if !ok {
		return
	}

	switch req.Method {
	case http.MethodGet:
		value, found := pc.Params()[name]
		if !found {
			RespondError(w, http.StatusNotFound, "unknown parameter "+name)
			return
		}
		RespondJSON(w, http.StatusOK, map[string]interface{}{name: value})

	case http.MethodPut:
		var body struct {
			Value interface{} `json:"value"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Value == nil {
			RespondError(w, http.StatusBadRequest, `expected {"value": ...}`)
			return
		}
		if err := pc.SetParams(map[string]interface{}{name: body.Value}); err != nil {
			h.respondSetError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, map[string]interface{}{name: pc.Params()[name]})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ParamHandlers) respondSetError(w http.ResponseWriter, err error) {
	if errors.Is(err, camera.ErrUnknownParam) {
		RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if errors.Is(err, camera.ErrCamera) {
		RespondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	RespondError(w, http.StatusBadRequest, err.Error())
}
