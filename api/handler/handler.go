package handler

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"

	"appcore/api/application"
	"appcore/api/apperr"
	"appcore/api/auth"
	"appcore/api/cron"
	"appcore/api/logger"
)

var log = logger.NewLogger("appcore.handler")

var validIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

type Options struct {
	Apps      *application.Service
	Scheduler *cron.Scheduler
	Auth      *auth.Validator
	Checks    []HealthCheck
	Version   string
}

type Handler struct {
	apps      *application.Service
	scheduler *cron.Scheduler
	auth      *auth.Validator
	checks    []HealthCheck
	version   string
}

func New(opts Options) *Handler {
	return &Handler{
		apps:      opts.Apps,
		scheduler: opts.Scheduler,
		auth:      opts.Auth,
		checks:    opts.Checks,
		version:   opts.Version,
	}
}

// Routes mounts the API onto r, normally the "/api" sub-router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/version", h.Version)

	r.Group(func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth.Middleware)
		}
		r.Get("/scheduler/jobs", h.ListSchedulerJobs)
		r.Post("/scheduler/jobs/{name}/trigger", h.TriggerSchedulerJob)

		r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
			r.Use(ValidateIDs)
			r.Use(workspaceScope)

			r.Get("/applications", h.ListApplications)
			r.Post("/applications", h.CreateApplication)
			r.Post("/applications/backup", h.CreateApplicationWithBackup)
			r.Post("/functions", h.CreateFunction)
			r.Put("/cronjob-executions/{execID}/status", h.UpdateCronJobExecutionStatus)
			r.Post("/function-events/{eventID}/process", h.ProcessFunctionEvent)

			r.Route("/applications/{id}", func(r chi.Router) {
				r.Use(ValidateIDs)
				r.Use(h.applicationScope)
				r.Get("/", h.GetApplication)
				r.Put("/", h.UpdateApplication)
				r.Delete("/", h.DeleteApplication)
				r.Post("/start", h.StartApplication)
				r.Post("/stop", h.StopApplication)
				r.Post("/restart", h.RestartApplication)
				r.Post("/scale", h.ScaleApplication)
				r.Get("/events", h.ListEvents)
				r.Get("/pods", h.ListPods)
				r.Post("/pods/{pod}/restart", h.RestartPod)
				r.Get("/pods/{pod}/logs", h.PodLogs)
				r.Get("/metrics", h.GetMetrics)
				r.Get("/endpoints", h.GetEndpoints)
				r.Put("/network", h.UpdateNetworkConfig)
				r.Put("/node-affinity", h.UpdateNodeAffinity)
				r.Post("/migrate", h.MigrateToNode)

				r.Post("/cronjob/trigger", h.TriggerCronJob)
				r.Put("/cronjob/schedule", h.UpdateCronJobSchedule)
				r.Get("/cronjob/executions", h.ListCronJobExecutions)
				r.Get("/cronjob/status", h.GetCronJobStatus)

				r.Get("/versions", h.ListFunctionVersions)
				r.Post("/versions", h.DeployFunctionVersion)
				r.Put("/versions/{versionID}/active", h.SetActiveFunctionVersion)
				r.Post("/invoke", h.InvokeFunction)
				r.Get("/invocations", h.ListFunctionInvocations)
				r.Get("/function-events", h.ListFunctionEvents)
			})
		})
	})
}

// ValidateIDs rejects malformed path identifiers matched so far.
func ValidateIDs(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx := chi.RouteContext(r.Context())
		if rctx != nil {
			for i, key := range rctx.URLParams.Keys {
				if key == "*" {
					continue
				}
				if v := rctx.URLParams.Values[i]; v != "" && !validIDRe.MatchString(v) {
					http.Error(w, "invalid "+key, http.StatusBadRequest)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func workspaceScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.WorkspaceAllowed(r.Context(), chi.URLParam(r, "workspaceID")) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// applicationScope hides applications that belong to another workspace.
func (h *Handler) applicationScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.inWorkspace(r, chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// inWorkspace returns NotFound unless appID belongs to the workspace in the
// request path.
func (h *Handler) inWorkspace(r *http.Request, appID string) error {
	app, err := h.apps.Get(r.Context(), appID)
	if err != nil {
		return err
	}
	if app.WorkspaceID != chi.URLParam(r, "workspaceID") {
		return apperr.NotFound("", "application %s not found", appID)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("encode response: %v", err)
	}
}

type errorResponse struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPrecondition, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
	}
	writeJSONStatus(w, status, errorResponse{Error: err.Error(), Kind: apperr.KindOf(err)})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("decode", "invalid request body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
