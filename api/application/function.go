package application

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"appcore/api/apperr"
	"appcore/api/model"
)

const (
	defaultFunctionTimeout = 300 // seconds
	defaultFunctionMemory  = 256 // MiB
)

func validateFunctionSource(op string, typ model.FunctionSourceType, code, url string) (model.FunctionSourceType, error) {
	if typ == "" {
		typ = model.FunctionSourceInline
	}
	switch typ {
	case model.FunctionSourceInline:
		if code == "" {
			return typ, apperr.Validation(op, "source code is required for inline functions")
		}
	case model.FunctionSourceS3, model.FunctionSourceGit, model.FunctionSourceImage:
		if url == "" {
			return typ, apperr.Validation(op, "source URL is required for %s functions", typ)
		}
	default:
		return typ, apperr.Validation(op, "invalid source type %q", typ)
	}
	return typ, nil
}

// CreateFunction stores a function application with version 1 active.
// Image-sourced versions are rolled out right away; others are rolled out
// once their build succeeds.
func (s *Service) CreateFunction(ctx context.Context, workspaceID string, req *model.CreateFunctionRequest) (*model.Application, error) {
	const op = "create function"
	if err := model.Validate(op, req); err != nil {
		return nil, err
	}
	srcType, err := validateFunctionSource(op, req.SourceType, req.SourceCode, req.SourceURL)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUniqueName(ctx, op, workspaceID, req.ProjectID, req.Name); err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaultFunctionTimeout
	}
	memory := req.Memory
	if memory == 0 {
		memory = defaultFunctionMemory
	}
	trigger := req.TriggerType
	if trigger == "" {
		trigger = model.TriggerHTTP
	}

	now := s.now()
	app := &model.Application{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Type:        model.TypeFunction,
		Status:      model.StatusPending,
		Config: model.Config{
			Replicas: 1,
			Resources: model.Resources{
				CPURequest:    "100m",
				CPULimit:      "1000m",
				MemoryRequest: fmt.Sprintf("%dMi", memory),
				MemoryLimit:   fmt.Sprintf("%dMi", memory*2),
			},
		},
		Function: &model.FunctionSpec{
			Runtime:       req.Runtime,
			Handler:       req.Handler,
			Timeout:       timeout,
			Memory:        memory,
			TriggerType:   trigger,
			TriggerConfig: req.TriggerConfig,
			EnvVars:       req.EnvVars,
			Secrets:       req.Secrets,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if srcType == model.FunctionSourceImage {
		app.Source = model.Source{Type: model.SourceImage, Image: req.SourceURL}
	}
	app = app.Clone()
	if err := s.store.CreateApplication(ctx, app); err != nil {
		return nil, createErr(op, app, err)
	}

	v := &model.FunctionVersion{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		VersionNumber: 1,
		SourceCode:    req.SourceCode,
		SourceType:    srcType,
		SourceURL:     req.SourceURL,
		BuildStatus:   model.BuildPending,
		IsActive:      true,
		CreatedAt:     now,
	}
	if srcType == model.FunctionSourceImage {
		v.BuildStatus = model.BuildSuccess
		v.ImageURI = req.SourceURL
	}
	if err := s.store.CreateFunctionVersion(ctx, v); err != nil {
		if derr := s.store.DeleteApplication(ctx, app.ID); derr != nil {
			log.WithFields(map[string]any{"application_id": app.ID}).Errorf("%v", apperr.Compensation(op, derr))
		}
		return nil, apperr.Dependency(op, "failed to create function version", err)
	}
	if v.BuildStatus == model.BuildPending {
		s.dispatchBuild(app, v)
	} else {
		id, versionID := app.ID, v.ID
		s.dispatch.Submit(fmt.Sprintf("roll out %s v1", app.Name), func(ctx context.Context) {
			s.rollOutActiveVersion(ctx, id, versionID)
		})
	}
	return app, nil
}

// rollOutActiveVersion deploys versionID when it is still the function's
// active version, so a new function serves without a separate activation.
func (s *Service) rollOutActiveVersion(ctx context.Context, appID, versionID string) {
	rlog := log.WithFields(map[string]any{"application_id": appID, "version_id": versionID})
	active, err := s.store.GetActiveFunctionVersion(ctx, appID)
	if err != nil {
		if !apperr.IsNotFound(err) {
			rlog.Warnf("failed to look up active version: %v", err)
		}
		return
	}
	if active.ID != versionID {
		return
	}
	if _, err := s.SetActiveFunctionVersion(ctx, appID, versionID); err != nil {
		rlog.Errorf("failed to roll out active version: %v", err)
	}
}

func (s *Service) getFunction(ctx context.Context, op, id string) (*model.Application, error) {
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if app.Type != model.TypeFunction || app.Function == nil {
		return nil, apperr.Precondition(op, "application %s is not a function", app.Name)
	}
	return app, nil
}

// DeployFunctionVersion adds the next version and builds it. The new
// version is not activated; SetActiveFunctionVersion does that.
func (s *Service) DeployFunctionVersion(ctx context.Context, appID string, req *model.DeployFunctionVersionRequest) (*model.FunctionVersion, error) {
	const op = "deploy function version"
	if err := model.Validate(op, req); err != nil {
		return nil, err
	}
	srcType, err := validateFunctionSource(op, req.SourceType, req.SourceCode, req.SourceURL)
	if err != nil {
		return nil, err
	}
	app, err := s.getFunction(ctx, op, appID)
	if err != nil {
		return nil, err
	}

	var v *model.FunctionVersion
	for attempt := 0; ; attempt++ {
		versions, err := s.store.ListFunctionVersions(ctx, appID)
		if err != nil {
			return nil, apperr.Dependency(op, "failed to list function versions", err)
		}
		next := 1
		for _, existing := range versions {
			if existing.VersionNumber >= next {
				next = existing.VersionNumber + 1
			}
		}
		v = &model.FunctionVersion{
			ID:            uuid.NewString(),
			ApplicationID: appID,
			VersionNumber: next,
			SourceCode:    req.SourceCode,
			SourceType:    srcType,
			SourceURL:     req.SourceURL,
			BuildStatus:   model.BuildPending,
			CreatedAt:     s.now(),
		}
		err = s.store.CreateFunctionVersion(ctx, v)
		if err == nil {
			break
		}
		// Another deploy took this number; recompute.
		if !apperr.Is(err, apperr.KindConflict) || attempt >= maxWriteRetries {
			return nil, storeErr(op, "failed to create function version", err)
		}
	}

	s.dispatchBuild(app, v)
	return v, nil
}

func (s *Service) dispatchBuild(app *model.Application, v *model.FunctionVersion) {
	app, v = app.Clone(), cloneVersion(v)
	s.dispatch.Submit(fmt.Sprintf("build %s v%d", app.Name, v.VersionNumber), func(ctx context.Context) {
		s.buildVersion(ctx, app, v)
	})
}

func cloneVersion(v *model.FunctionVersion) *model.FunctionVersion {
	c := *v
	return &c
}

// buildVersion drives a version through Building to Success or Failed.
func (s *Service) buildVersion(ctx context.Context, app *model.Application, v *model.FunctionVersion) {
	blog := log.WithFields(map[string]any{"application_id": app.ID, "version": v.VersionNumber})
	v.BuildStatus = model.BuildBuilding
	if err := s.store.UpdateFunctionVersion(ctx, v); err != nil {
		blog.Warnf("failed to mark version building: %v", err)
	}

	var (
		image, logs string
		err         error
	)
	switch {
	case v.SourceType == model.FunctionSourceImage:
		image = v.SourceURL
	case s.builder == nil:
		err = fmt.Errorf("no function builder configured")
	default:
		image, logs, err = s.builder.Build(ctx, app, v)
	}

	v.BuildLogs = logs
	if err != nil {
		v.BuildStatus = model.BuildFailed
		if v.BuildLogs == "" {
			v.BuildLogs = err.Error()
		}
		blog.Warnf("function build failed: %v", err)
		s.events.record(ctx, app, model.EventFunctionBuildFailed, fmt.Sprintf("Build of version %d failed", v.VersionNumber), err.Error())
	} else {
		v.BuildStatus = model.BuildSuccess
		v.ImageURI = image
		s.events.record(ctx, app, model.EventFunctionBuilt, fmt.Sprintf("Built version %d", v.VersionNumber), image)
	}
	if err := s.store.UpdateFunctionVersion(ctx, v); err != nil {
		blog.Errorf("failed to store build result: %v", err)
		return
	}
	if v.BuildStatus == model.BuildSuccess {
		s.rollOutActiveVersion(ctx, app.ID, v.ID)
	}
}

func (s *Service) ListFunctionVersions(ctx context.Context, appID string) ([]*model.FunctionVersion, error) {
	const op = "list function versions"
	if _, err := s.getFunction(ctx, op, appID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListFunctionVersions(ctx, appID)
	if err != nil {
		return nil, apperr.Dependency(op, "failed to list function versions", err)
	}
	return versions, nil
}

// SetActiveFunctionVersion switches traffic to a built version and rolls the
// serverless service to its image.
func (s *Service) SetActiveFunctionVersion(ctx context.Context, appID, versionID string) (*model.FunctionVersion, error) {
	const op = "activate function version"
	app, err := s.getFunction(ctx, op, appID)
	if err != nil {
		return nil, err
	}
	v, err := s.store.GetFunctionVersion(ctx, versionID)
	if err != nil || v.ApplicationID != appID {
		if err == nil || apperr.IsNotFound(err) {
			return nil, apperr.NotFound(op, "version %s not found for function %s", versionID, app.Name)
		}
		return nil, apperr.Dependency(op, "failed to get function version", err)
	}
	if v.BuildStatus != model.BuildSuccess {
		return nil, apperr.Precondition(op, "version %d is not built (status %s)", v.VersionNumber, v.BuildStatus)
	}
	// Running functions pass through Updating; anything else redeploys.
	path := []model.ApplicationStatus{model.StatusDeploying, model.StatusRunning}
	if app.Status == model.StatusRunning {
		path = []model.ApplicationStatus{model.StatusUpdating, model.StatusRunning}
	}
	if !app.Status.CanTransition(path[0]) {
		return nil, apperr.Precondition(op, "cannot activate a version while function is %s", app.Status)
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetActiveFunctionVersion(ctx, appID, versionID); err != nil {
		return nil, storeErr(op, "failed to activate version", err)
	}
	v.IsActive = true

	if err := s.transition(ctx, op, app, path[0]); err != nil {
		return nil, err
	}

	spec := serverlessSpec(app, v)
	_, err = s.kube.GetServerlessStatus(ctx, ns, app.Name)
	switch {
	case err == nil:
		err = s.kube.UpdateServerlessService(ctx, ns, spec)
	case apperr.IsNotFound(err):
		err = s.kube.CreateServerlessService(ctx, ns, spec)
	}
	if err != nil {
		if terr := s.transition(ctx, op, app, model.StatusError); terr != nil {
			log.WithFields(map[string]any{"application_id": app.ID}).Errorf("failed to mark function as error: %v", terr)
		}
		return nil, apperr.Dependency(op, "failed to deploy serverless service", err)
	}

	now := s.now()
	v.DeployedAt = &now
	if err := s.store.UpdateFunctionVersion(ctx, v); err != nil {
		log.WithFields(map[string]any{"application_id": app.ID}).Warnf("failed to record deployment time: %v", err)
	}
	if url, err := s.kube.GetServerlessURL(ctx, ns, app.Name); err == nil {
		app.Endpoints = []model.Endpoint{{Type: "cluster-ip", URL: url}}
	}
	if err := s.transition(ctx, op, app, path[1]); err != nil {
		return nil, err
	}
	s.events.record(ctx, app, model.EventFunctionActivated, fmt.Sprintf("Activated version %d", v.VersionNumber), v.ImageURI)
	return v, nil
}

// InvokeFunction calls the active version over HTTP and records the call.
func (s *Service) InvokeFunction(ctx context.Context, appID string, req *model.InvokeRequest) (*model.InvokeResponse, error) {
	app, err := s.getFunction(ctx, "invoke", appID)
	if err != nil {
		return nil, err
	}
	return s.invoke(ctx, app, req, "http")
}

func (s *Service) invoke(ctx context.Context, app *model.Application, req *model.InvokeRequest, trigger string) (*model.InvokeResponse, error) {
	const op = "invoke"
	v, err := s.store.GetActiveFunctionVersion(ctx, app.ID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.ErrNoActiveVersion
		}
		return nil, apperr.Dependency(op, "failed to get active version", err)
	}
	if s.invoker == nil {
		return nil, apperr.Precondition(op, "function invoker is not configured")
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return nil, err
	}
	url, err := s.kube.GetServerlessURL(ctx, ns, app.Name)
	if err != nil {
		return nil, apperr.Dependency(op, "failed to resolve function URL", err)
	}

	inv := &model.FunctionInvocation{
		ID:             uuid.NewString(),
		ApplicationID:  app.ID,
		VersionID:      v.ID,
		TriggerSource:  trigger,
		RequestMethod:  req.Method,
		RequestPath:    req.Path,
		RequestHeaders: req.Headers,
		RequestBody:    req.Body,
		StartedAt:      s.now(),
	}
	if err := s.store.CreateFunctionInvocation(ctx, inv); err != nil {
		return nil, apperr.Dependency(op, "failed to record invocation", err)
	}

	start := time.Now()
	resp, callErr := s.invoker.Invoke(ctx, url, req)
	done := s.now()
	inv.CompletedAt = &done
	inv.DurationMs = time.Since(start).Milliseconds()
	if callErr != nil {
		inv.ErrorMessage = callErr.Error()
	} else {
		inv.ResponseStatus = resp.StatusCode
		inv.ResponseBody = resp.Body
	}
	if err := s.store.UpdateFunctionInvocation(ctx, inv); err != nil {
		log.WithFields(map[string]any{"application_id": app.ID}).Warnf("failed to update invocation %s: %v", inv.ID, err)
	}
	if callErr != nil {
		return nil, apperr.Dependency(op, "function invocation failed", callErr)
	}
	resp.InvocationID = inv.ID
	resp.DurationMs = inv.DurationMs
	return resp, nil
}

func (s *Service) ListFunctionInvocations(ctx context.Context, appID string, limit, offset int) ([]*model.FunctionInvocation, int, error) {
	const op = "list invocations"
	if _, err := s.getFunction(ctx, op, appID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	invs, total, err := s.store.ListFunctionInvocations(ctx, appID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Dependency(op, "failed to list invocations", err)
	}
	return invs, total, nil
}

// ListFunctionEvents returns events still waiting to be processed.
func (s *Service) ListFunctionEvents(ctx context.Context, appID string, limit int) ([]*model.FunctionEvent, error) {
	const op = "list function events"
	if _, err := s.getFunction(ctx, op, appID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	evs, err := s.store.ListFunctionEvents(ctx, appID, limit)
	if err != nil {
		return nil, apperr.Dependency(op, "failed to list function events", err)
	}
	return evs, nil
}

func (s *Service) GetFunctionEvent(ctx context.Context, eventID string) (*model.FunctionEvent, error) {
	ev, err := s.store.GetFunctionEvent(ctx, eventID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("get function event", "function event %s not found", eventID)
		}
		return nil, apperr.Dependency("get function event", "failed to get function event", err)
	}
	return ev, nil
}

// ProcessFunctionEvent delivers one event to its function. A failed
// delivery is recorded on the event and is not returned as an error; the
// event becomes failed once MaxRetries attempts have failed.
func (s *Service) ProcessFunctionEvent(ctx context.Context, eventID string) error {
	const op = "process function event"
	ev, err := s.store.GetFunctionEvent(ctx, eventID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return apperr.NotFound(op, "function event %s not found", eventID)
		}
		return apperr.Dependency(op, "failed to get function event", err)
	}
	if ev.ProcessingStatus == model.EventSuccess || ev.ProcessingStatus == model.EventFailed {
		return nil
	}

	ev.ProcessingStatus = model.EventProcessing
	if err := s.store.UpdateFunctionEvent(ctx, ev); err != nil {
		return storeErr(op, "failed to update function event", err)
	}

	resp, invokeErr := s.deliverEvent(ctx, ev)
	now := s.now()
	if invokeErr == nil {
		ev.ProcessingStatus = model.EventSuccess
		ev.InvocationID = resp.InvocationID
		ev.ErrorMessage = ""
		ev.ProcessedAt = &now
	} else {
		ev.RetryCount++
		ev.ErrorMessage = invokeErr.Error()
		ev.ProcessingStatus = model.EventRetry
		if ev.MaxRetries > 0 && ev.RetryCount >= ev.MaxRetries {
			ev.ProcessingStatus = model.EventFailed
			ev.ProcessedAt = &now
		}
		log.WithFields(map[string]any{"application_id": ev.ApplicationID, "event_id": ev.ID}).
			Warnf("function event delivery failed (attempt %d): %v", ev.RetryCount, invokeErr)
	}
	if err := s.store.UpdateFunctionEvent(ctx, ev); err != nil {
		return storeErr(op, "failed to update function event", err)
	}
	return nil
}

func (s *Service) deliverEvent(ctx context.Context, ev *model.FunctionEvent) (*model.InvokeResponse, error) {
	app, err := s.getFunction(ctx, "process function event", ev.ApplicationID)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(ev.EventData)
	if err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	req := &model.InvokeRequest{
		Method: http.MethodPost,
		Path:   "/event",
		Headers: map[string][]string{
			"Content-Type":   {"application/json"},
			"X-Event-Type":   {ev.EventType},
			"X-Event-Source": {ev.EventSource},
			"X-Event-ID":     {ev.ID},
		},
		Body: body,
	}
	resp, err := s.invoke(ctx, app, req, "event")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp, fmt.Errorf("function returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// ProcessPendingFunctionEvents delivers up to limit pending or retrying
// events and returns how many were attempted.
func (s *Service) ProcessPendingFunctionEvents(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	pending, err := s.store.ListPendingFunctionEvents(ctx, limit)
	if err != nil {
		return 0, apperr.Dependency("process function events", "failed to list pending events", err)
	}
	n := 0
	for _, ev := range pending {
		if err := s.ProcessFunctionEvent(ctx, ev.ID); err != nil {
			log.WithFields(map[string]any{"event_id": ev.ID}).Warnf("failed to process function event: %v", err)
			continue
		}
		n++
	}
	return n, nil
}
