package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"appcore/api/apperr"
	"appcore/api/model"
)

func (h *Handler) CreateFunction(w http.ResponseWriter, r *http.Request) {
	var req model.CreateFunctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.apps.CreateFunction(r.Context(), chi.URLParam(r, "workspaceID"), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, app)
}

func (h *Handler) ListFunctionVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.apps.ListFunctionVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if versions == nil {
		versions = []*model.FunctionVersion{}
	}
	writeJSON(w, versions)
}

func (h *Handler) DeployFunctionVersion(w http.ResponseWriter, r *http.Request) {
	var req model.DeployFunctionVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := h.apps.DeployFunctionVersion(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, v)
}

func (h *Handler) SetActiveFunctionVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.apps.SetActiveFunctionVersion(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, v)
}

func (h *Handler) InvokeFunction(w http.ResponseWriter, r *http.Request) {
	var req model.InvokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.apps.InvokeFunction(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (h *Handler) ListFunctionInvocations(w http.ResponseWriter, r *http.Request) {
	invs, total, err := h.apps.ListFunctionInvocations(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	if invs == nil {
		invs = []*model.FunctionInvocation{}
	}
	writeJSON(w, map[string]interface{}{
		"invocations": invs,
		"total":       total,
	})
}

func (h *Handler) ListFunctionEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := h.apps.ListFunctionEvents(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	if evs == nil {
		evs = []*model.FunctionEvent{}
	}
	writeJSON(w, evs)
}

func (h *Handler) ProcessFunctionEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	ev, err := h.apps.GetFunctionEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.inWorkspace(r, ev.ApplicationID); err != nil {
		if apperr.IsNotFound(err) {
			err = apperr.NotFound("", "function event %s not found", eventID)
		}
		writeError(w, err)
		return
	}
	if err := h.apps.ProcessFunctionEvent(r.Context(), eventID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "processed"})
}
