package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"appcore/api/apperr"
	"appcore/api/model"
)

type createWithBackupRequest struct {
	Application  model.CreateApplicationRequest   `json:"application"`
	BackupPolicy *model.CreateBackupPolicyRequest `json:"backupPolicy"`
}

type ScaleRequest struct {
	Replicas int `json:"replicas"`
}

type nodeAffinityRequest struct {
	NodeSelector map[string]string `json:"nodeSelector"`
}

type migrateRequest struct {
	NodeID string `json:"nodeId"`
}

func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.apps.List(r.Context(), chi.URLParam(r, "workspaceID"), r.URL.Query().Get("projectId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if apps == nil {
		apps = []*model.Application{}
	}
	writeJSON(w, apps)
}

func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var req model.CreateApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.apps.Create(r.Context(), chi.URLParam(r, "workspaceID"), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, app)
}

func (h *Handler) CreateApplicationWithBackup(w http.ResponseWriter, r *http.Request) {
	var req createWithBackupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.apps.CreateApplicationWithBackupPolicy(r.Context(), chi.URLParam(r, "workspaceID"), &req.Application, req.BackupPolicy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, app)
}

func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.apps.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, app)
}

func (h *Handler) UpdateApplication(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.apps.Update(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, app)
}

func (h *Handler) DeleteApplication(w http.ResponseWriter, r *http.Request) {
	if err := h.apps.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) StartApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.apps.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, app)
}

func (h *Handler) StopApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.apps.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, app)
}

func (h *Handler) RestartApplication(w http.ResponseWriter, r *http.Request) {
	if err := h.apps.Restart(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "restarted"})
}

func (h *Handler) ScaleApplication(w http.ResponseWriter, r *http.Request) {
	var req ScaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.apps.Scale(r.Context(), chi.URLParam(r, "id"), req.Replicas)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, app)
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := h.apps.ListEvents(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	if evs == nil {
		evs = []*model.ApplicationEvent{}
	}
	writeJSON(w, evs)
}

func (h *Handler) ListPods(w http.ResponseWriter, r *http.Request) {
	pods, err := h.apps.ListPods(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if pods == nil {
		pods = []model.Pod{}
	}
	writeJSON(w, pods)
}

func (h *Handler) RestartPod(w http.ResponseWriter, r *http.Request) {
	if err := h.apps.RestartPod(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pod")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "restarted"})
}

func logQuery(r *http.Request) (*model.LogQuery, error) {
	q := r.URL.Query()
	lq := &model.LogQuery{
		ApplicationID: chi.URLParam(r, "id"),
		PodName:       chi.URLParam(r, "pod"),
		Container:     q.Get("container"),
		Limit:         queryInt(r, "limit", 0),
		Follow:        q.Get("follow") == "true",
		Previous:      q.Get("previous") == "true",
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, apperr.Validation("logs", "since must be an RFC3339 timestamp")
		}
		lq.Since = &t
	}
	return lq, nil
}

// PodLogs returns buffered log entries, or streams raw output when
// follow=true until the client disconnects.
func (h *Handler) PodLogs(w http.ResponseWriter, r *http.Request) {
	q, err := logQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !q.Follow {
		entries, err := h.apps.GetPodLogs(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []model.LogEntry{}
		}
		writeJSON(w, entries)
		return
	}

	stream, err := h.apps.StreamPodLogs(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.apps.GetMetrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, m)
}

func (h *Handler) GetEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := h.apps.GetEndpoints(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if eps == nil {
		eps = []model.Endpoint{}
	}
	writeJSON(w, eps)
}

func (h *Handler) UpdateNetworkConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.NetworkConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.apps.UpdateNetworkConfig(r.Context(), chi.URLParam(r, "id"), &cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, app)
}

func (h *Handler) UpdateNodeAffinity(w http.ResponseWriter, r *http.Request) {
	var req nodeAffinityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.apps.UpdateNodeAffinity(r.Context(), chi.URLParam(r, "id"), req.NodeSelector)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, app)
}

func (h *Handler) MigrateToNode(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.apps.MigrateToNode(r.Context(), chi.URLParam(r, "id"), req.NodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, app)
}
