package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HealthCheck probes one backing service. A nil Check reports "unknown".
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // up, down, unknown
	Details string `json:"details,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make([]ServiceHealth, 0, len(h.checks))
	allUp := true
	for _, c := range h.checks {
		s := ServiceHealth{Name: c.Name, Status: "up"}
		if c.Check == nil {
			s.Status = "unknown"
			s.Details = "not configured"
		} else if err := c.Check(ctx); err != nil {
			s.Status = "down"
			s.Details = err.Error()
			allUp = false
		}
		services = append(services, s)
	}

	status := "healthy"
	if !allUp {
		status = "degraded"
	}

	writeJSON(w, map[string]interface{}{
		"status":   status,
		"services": services,
	})
}

func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": h.version})
}

func (h *Handler) ListSchedulerJobs(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		http.Error(w, "scheduler not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, h.scheduler.Statuses())
}

func (h *Handler) TriggerSchedulerJob(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		http.Error(w, "scheduler not initialized", http.StatusServiceUnavailable)
		return
	}
	name := chi.URLParam(r, "name")
	if !h.scheduler.Trigger(name) {
		http.Error(w, "job "+name+" is unknown or already running", http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"status": "triggered"})
}
