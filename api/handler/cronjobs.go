package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"appcore/api/apperr"
	"appcore/api/model"
)

type scheduleRequest struct {
	Schedule string `json:"schedule"`
}

type executionStatusRequest struct {
	Status model.CronExecStatus `json:"status"`
	Logs   string               `json:"logs,omitempty"`
}

func (h *Handler) TriggerCronJob(w http.ResponseWriter, r *http.Request) {
	exec, err := h.apps.TriggerCronJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, exec)
}

func (h *Handler) UpdateCronJobSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.apps.UpdateCronJobSchedule(r.Context(), chi.URLParam(r, "id"), req.Schedule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "updated", "schedule": req.Schedule})
}

func (h *Handler) ListCronJobExecutions(w http.ResponseWriter, r *http.Request) {
	execs, total, err := h.apps.ListCronJobExecutions(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	if execs == nil {
		execs = []*model.CronJobExecution{}
	}
	writeJSON(w, map[string]interface{}{
		"executions": execs,
		"total":      total,
	})
}

func (h *Handler) GetCronJobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.apps.GetCronJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, st)
}

func (h *Handler) UpdateCronJobExecutionStatus(w http.ResponseWriter, r *http.Request) {
	var req executionStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	execID := chi.URLParam(r, "execID")
	exec, err := h.apps.GetCronJobExecution(r.Context(), execID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.inWorkspace(r, exec.ApplicationID); err != nil {
		if apperr.IsNotFound(err) {
			err = apperr.NotFound("", "execution %s not found", execID)
		}
		writeError(w, err)
		return
	}
	exec, err = h.apps.UpdateCronJobExecutionStatus(r.Context(), execID, req.Status, req.Logs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, exec)
}
