package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"appcore/api/apperr"
	"appcore/api/model"
)

const fnURL = "http://hello.ws-ws-1-proj.svc.cluster.local"

func functionRequest(name string) *model.CreateFunctionRequest {
	return &model.CreateFunctionRequest{
		ProjectID:  "proj",
		Name:       name,
		Runtime:    model.RuntimeGo,
		Handler:    "main.Handle",
		SourceCode: "package main",
	}
}

func imageFunctionRequest(name string) *model.CreateFunctionRequest {
	req := functionRequest(name)
	req.SourceCode = ""
	req.SourceType = model.FunctionSourceImage
	req.SourceURL = "registry.local/hello:1"
	return req
}

func (f *fixture) activeVersion(t *testing.T, appID string) *model.FunctionVersion {
	t.Helper()
	v, err := f.store.GetActiveFunctionVersion(context.Background(), appID)
	require.NoError(t, err)
	return v
}

func (f *fixture) versionByNumber(t *testing.T, appID string, n int) *model.FunctionVersion {
	t.Helper()
	versions, err := f.store.ListFunctionVersions(context.Background(), appID)
	require.NoError(t, err)
	for _, v := range versions {
		if v.VersionNumber == n {
			return v
		}
	}
	t.Fatalf("version %d not found", n)
	return nil
}

// expectRollout mocks the serverless calls made when a new function's first
// version goes live.
func (f *fixture) expectRollout(name, image string) {
	f.kube.On("GetServerlessStatus", anyArg, testNamespace, name).Return(nil, apperr.ErrNotFound).Once()
	f.kube.On("CreateServerlessService", anyArg, testNamespace, mock.MatchedBy(func(s model.ServerlessSpec) bool {
		return s.Name == name && s.Image == image
	})).Return(nil).Once()
	f.kube.On("GetServerlessURL", anyArg, testNamespace, name).Return(fnURL, nil)
}

// createImageFunction creates an image-sourced function and lets its first
// version roll out.
func (f *fixture) createImageFunction(t *testing.T, name string) *model.Application {
	t.Helper()
	req := imageFunctionRequest(name)
	f.expectRollout(name, req.SourceURL)
	app, err := f.svc.CreateFunction(context.Background(), testWorkspace, req)
	require.NoError(t, err)
	return app
}

func TestCreateFunctionDefaults(t *testing.T) {
	f := newFixture(t)
	f.builder.On("Build", anyArg, anyArg, mock.MatchedBy(func(v *model.FunctionVersion) bool {
		return v.VersionNumber == 1 && v.SourceType == model.FunctionSourceInline
	})).Return("registry.local/functions/hello:v1", "ok", nil).Once()
	f.expectRollout("hello", "registry.local/functions/hello:v1")

	app, err := f.svc.CreateFunction(context.Background(), testWorkspace, functionRequest("hello"))
	require.NoError(t, err)

	require.NotNil(t, app.Function)
	assert.Equal(t, model.TypeFunction, app.Type)
	assert.Equal(t, 300, app.Function.Timeout)
	assert.Equal(t, 256, app.Function.Memory)
	assert.Equal(t, model.TriggerHTTP, app.Function.TriggerType)
	assert.Equal(t, "256Mi", app.Config.Resources.MemoryRequest)
	assert.Equal(t, "512Mi", app.Config.Resources.MemoryLimit)
	assert.Equal(t, "100m", app.Config.Resources.CPURequest)

	v := f.activeVersion(t, app.ID)
	assert.Equal(t, 1, v.VersionNumber)
	assert.Equal(t, model.BuildSuccess, v.BuildStatus)
	assert.Equal(t, "registry.local/functions/hello:v1", v.ImageURI)
	require.NotNil(t, v.DeployedAt)
	assert.Equal(t, []string{model.EventFunctionBuilt, model.EventFunctionActivated}, f.eventTypes(t, app.ID))
	assert.Equal(t, model.StatusRunning, f.reload(t, app.ID).Status)
	f.builder.AssertExpectations(t)
}

func TestCreateFunctionFromImageRollsOut(t *testing.T) {
	f := newFixture(t)
	app := f.createImageFunction(t, "hello")
	assert.Equal(t, model.StatusPending, app.Status)

	v := f.activeVersion(t, app.ID)
	assert.Equal(t, model.BuildSuccess, v.BuildStatus)
	assert.Equal(t, "registry.local/hello:1", v.ImageURI)
	require.NotNil(t, v.DeployedAt)
	f.builder.AssertNotCalled(t, "Build", anyArg, anyArg, anyArg)

	stored := f.reload(t, app.ID)
	assert.Equal(t, model.StatusRunning, stored.Status)
	require.Len(t, stored.Endpoints, 1)
	assert.Equal(t, fnURL, stored.Endpoints[0].URL)

	req := &model.InvokeRequest{Method: "GET", Path: "/"}
	f.invoker.On("Invoke", anyArg, fnURL, req).Return(&model.InvokeResponse{StatusCode: 200}, nil).Once()
	_, err := f.svc.InvokeFunction(context.Background(), app.ID, req)
	require.NoError(t, err)
}

func TestCreateFunctionRolloutFailureMarksError(t *testing.T) {
	f := newFixture(t)
	f.kube.On("GetServerlessStatus", anyArg, testNamespace, "hello").Return(nil, apperr.ErrNotFound)
	f.kube.On("CreateServerlessService", anyArg, testNamespace, anyArg).Return(errors.New("quota exceeded")).Once()

	app := f.createImageFunction(t, "hello")
	assert.Equal(t, model.StatusError, f.reload(t, app.ID).Status)

	f.kube.On("CreateServerlessService", anyArg, testNamespace, anyArg).Return(nil).Once()
	f.kube.On("GetServerlessURL", anyArg, testNamespace, "hello").Return(fnURL, nil)
	_, err := f.svc.SetActiveFunctionVersion(context.Background(), app.ID, f.activeVersion(t, app.ID).ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, f.reload(t, app.ID).Status)
}

func TestCreateFunctionValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.CreateFunctionRequest)
	}{
		{"bad runtime", func(r *model.CreateFunctionRequest) { r.Runtime = "cobol" }},
		{"no handler", func(r *model.CreateFunctionRequest) { r.Handler = "" }},
		{"inline without code", func(r *model.CreateFunctionRequest) { r.SourceCode = "" }},
		{"git without url", func(r *model.CreateFunctionRequest) { r.SourceType = model.FunctionSourceGit }},
		{"bad trigger", func(r *model.CreateFunctionRequest) { r.TriggerType = "queue" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := functionRequest("hello")
			tt.mutate(req)
			_, err := f.svc.CreateFunction(context.Background(), testWorkspace, req)
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}
}

func TestBuildFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.builder.On("Build", anyArg, anyArg, anyArg).Return("", "step 3: compile error", errors.New("exit status 1")).Once()

	app, err := f.svc.CreateFunction(context.Background(), testWorkspace, functionRequest("hello"))
	require.NoError(t, err)

	v := f.activeVersion(t, app.ID)
	assert.Equal(t, model.BuildFailed, v.BuildStatus)
	assert.Equal(t, "step 3: compile error", v.BuildLogs)
	assert.Equal(t, []string{model.EventFunctionBuildFailed}, f.eventTypes(t, app.ID))
	assert.Equal(t, model.StatusPending, f.reload(t, app.ID).Status)
	f.kube.AssertNotCalled(t, "CreateServerlessService", anyArg, anyArg, anyArg)
}

func TestDeployFunctionVersionIncrements(t *testing.T) {
	f := newFixture(t)
	app := f.createImageFunction(t, "hello")

	f.builder.On("Build", anyArg, anyArg, anyArg).Return("", "", errors.New("boom")).Once()
	f.builder.On("Build", anyArg, anyArg, anyArg).Return("registry.local/functions/hello:v3", "", nil).Once()

	v2, err := f.svc.DeployFunctionVersion(context.Background(), app.ID, &model.DeployFunctionVersionRequest{SourceCode: "v2"})
	require.NoError(t, err)
	v3, err := f.svc.DeployFunctionVersion(context.Background(), app.ID, &model.DeployFunctionVersionRequest{SourceCode: "v3"})
	require.NoError(t, err)

	assert.Equal(t, 2, v2.VersionNumber)
	assert.Equal(t, 3, v3.VersionNumber)
	assert.False(t, v3.IsActive)
	assert.Equal(t, model.BuildFailed, f.versionByNumber(t, app.ID, 2).BuildStatus)
	assert.Equal(t, model.BuildSuccess, f.versionByNumber(t, app.ID, 3).BuildStatus)
	assert.Equal(t, 1, f.activeVersion(t, app.ID).VersionNumber)

	versions, err := f.svc.ListFunctionVersions(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 3)
}

func TestDeployFunctionVersionRequiresFunction(t *testing.T) {
	f := newFixture(t)
	app := f.seed(t, "web", model.TypeStateless, model.StatusRunning)
	_, err := f.svc.DeployFunctionVersion(context.Background(), app.ID, &model.DeployFunctionVersionRequest{SourceCode: "x"})
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
}

func TestSetActiveFunctionVersion(t *testing.T) {
	f := newFixture(t)
	app := f.createImageFunction(t, "hello")

	stored := f.reload(t, app.ID)
	assert.Equal(t, model.StatusRunning, stored.Status)
	assert.Equal(t, fnURL, stored.Endpoints[0].URL)

	f.builder.On("Build", anyArg, anyArg, anyArg).Return("registry.local/functions/hello:v2", "", nil).Once()
	v2, err := f.svc.DeployFunctionVersion(context.Background(), app.ID, &model.DeployFunctionVersionRequest{SourceCode: "v2"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.activeVersion(t, app.ID).VersionNumber, "a new build does not switch traffic")

	f.kube.On("GetServerlessStatus", anyArg, testNamespace, "hello").Return(&model.ServerlessStatus{}, nil).Once()
	f.kube.On("UpdateServerlessService", anyArg, testNamespace, mock.MatchedBy(func(s model.ServerlessSpec) bool {
		return s.Image == "registry.local/functions/hello:v2" && s.Labels["function-version"] == "v2" && s.TimeoutSeconds == 300
	})).Return(nil).Once()

	got, err := f.svc.SetActiveFunctionVersion(context.Background(), app.ID, v2.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.DeployedAt)

	versions, err := f.store.ListFunctionVersions(context.Background(), app.ID)
	require.NoError(t, err)
	active := 0
	for _, v := range versions {
		if v.IsActive {
			active++
			assert.Equal(t, 2, v.VersionNumber)
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, model.StatusRunning, f.reload(t, app.ID).Status)
}

func TestSetActiveFunctionVersionRejects(t *testing.T) {
	f := newFixture(t)
	app := f.createImageFunction(t, "hello")
	other := f.createImageFunction(t, "other")

	f.builder.On("Build", anyArg, anyArg, anyArg).Return("", "", errors.New("boom")).Once()
	broken, err := f.svc.DeployFunctionVersion(context.Background(), app.ID, &model.DeployFunctionVersionRequest{SourceCode: "x"})
	require.NoError(t, err)

	_, err = f.svc.SetActiveFunctionVersion(context.Background(), app.ID, broken.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition), "unbuilt version: %v", err)

	_, err = f.svc.SetActiveFunctionVersion(context.Background(), app.ID, f.activeVersion(t, other.ID).ID)
	assert.True(t, apperr.IsNotFound(err), "foreign version: %v", err)

	assert.Equal(t, 1, f.activeVersion(t, app.ID).VersionNumber)
}

func TestSetActiveFunctionVersionSubstrateFailure(t *testing.T) {
	f := newFixture(t)
	app := f.createImageFunction(t, "hello")
	f.builder.On("Build", anyArg, anyArg, anyArg).Return("registry.local/functions/hello:v2", "", nil).Once()
	v2, err := f.svc.DeployFunctionVersion(context.Background(), app.ID, &model.DeployFunctionVersionRequest{SourceCode: "v2"})
	require.NoError(t, err)

	f.kube.On("GetServerlessStatus", anyArg, testNamespace, "hello").Return(&model.ServerlessStatus{}, nil)
	f.kube.On("UpdateServerlessService", anyArg, testNamespace, anyArg).Return(errors.New("webhook denied"))

	_, err = f.svc.SetActiveFunctionVersion(context.Background(), app.ID, v2.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDependency))
	assert.Equal(t, model.StatusError, f.reload(t, app.ID).Status)
}

func TestInvokeWithoutActiveVersion(t *testing.T) {
	f := newFixture(t)
	app := f.seed(t, "hello", model.TypeFunction, model.StatusRunning)
	_, err := mutate(context.Background(), f.store, app.ID, func(a *model.Application) error {
		a.Function = &model.FunctionSpec{Runtime: model.RuntimeGo, Handler: "main.Handle"}
		return nil
	})
	require.NoError(t, err)

	_, err = f.svc.InvokeFunction(context.Background(), app.ID, &model.InvokeRequest{Method: "GET", Path: "/"})
	assert.ErrorIs(t, err, apperr.ErrNoActiveVersion)
}

func TestInvokeFunctionRecordsInvocation(t *testing.T) {
	f := newFixture(t)
	app := f.createImageFunction(t, "hello")
	f.kube.On("GetServerlessURL", anyArg, testNamespace, "hello").Return(fnURL, nil)

	req := &model.InvokeRequest{Method: "POST", Path: "/greet", Body: []byte(`{"name":"x"}`)}
	f.invoker.On("Invoke", anyArg, fnURL, req).Return(&model.InvokeResponse{StatusCode: 200, Body: []byte("hi")}, nil).Once()

	resp, err := f.svc.InvokeFunction(context.Background(), app.ID, req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.NotEmpty(t, resp.InvocationID)

	invs, total, err := f.svc.ListFunctionInvocations(context.Background(), app.ID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	inv := invs[0]
	assert.Equal(t, resp.InvocationID, inv.ID)
	assert.Equal(t, "http", inv.TriggerSource)
	assert.Equal(t, 200, inv.ResponseStatus)
	assert.Equal(t, []byte("hi"), inv.ResponseBody)
	assert.Equal(t, f.activeVersion(t, app.ID).ID, inv.VersionID)
	assert.NotNil(t, inv.CompletedAt)
}

func TestInvokeFunctionFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	app := f.createImageFunction(t, "hello")
	f.kube.On("GetServerlessURL", anyArg, testNamespace, "hello").Return(fnURL, nil)
	f.invoker.On("Invoke", anyArg, fnURL, anyArg).Return(nil, errors.New("connection refused"))

	_, err := f.svc.InvokeFunction(context.Background(), app.ID, &model.InvokeRequest{Method: "GET", Path: "/"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDependency))

	invs, _, err := f.store.ListFunctionInvocations(context.Background(), app.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Contains(t, invs[0].ErrorMessage, "connection refused")
	assert.NotNil(t, invs[0].CompletedAt)
}

func (f *fixture) seedFunctionEvent(t *testing.T, appID, id string, maxRetries int) {
	t.Helper()
	require.NoError(t, f.store.CreateFunctionEvent(context.Background(), &model.FunctionEvent{
		ID:               id,
		ApplicationID:    appID,
		EventType:        "order.created",
		EventSource:      "shop",
		EventData:        map[string]any{"order": "o-1"},
		ProcessingStatus: model.EventPending,
		MaxRetries:       maxRetries,
		CreatedAt:        time.Now(),
	}))
}

func (f *fixture) functionEvent(t *testing.T, id string) *model.FunctionEvent {
	t.Helper()
	ev, err := f.store.GetFunctionEvent(context.Background(), id)
	require.NoError(t, err)
	return ev
}

var eventDelivery = mock.MatchedBy(func(r *model.InvokeRequest) bool {
	return r.Method == "POST" &&
		r.Path == "/event" &&
		r.Headers["X-Event-Type"][0] == "order.created" &&
		r.Headers["X-Event-Source"][0] == "shop" &&
		string(r.Body) == `{"order":"o-1"}`
})

func TestProcessFunctionEventSuccess(t *testing.T) {
	f := newFixture(t)
	app := f.createImageFunction(t, "hello")
	f.seedFunctionEvent(t, app.ID, "fe-1", 3)
	f.kube.On("GetServerlessURL", anyArg, testNamespace, "hello").Return(fnURL, nil)
	f.invoker.On("Invoke", anyArg, fnURL, eventDelivery).Return(&model.InvokeResponse{StatusCode: 202}, nil).Once()

	require.NoError(t, f.svc.ProcessFunctionEvent(context.Background(), "fe-1"))

	ev := f.functionEvent(t, "fe-1")
	assert.Equal(t, model.EventSuccess, ev.ProcessingStatus)
	assert.NotEmpty(t, ev.InvocationID)
	assert.NotNil(t, ev.ProcessedAt)

	invs, _, err := f.store.ListFunctionInvocations(context.Background(), app.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "event", invs[0].TriggerSource)
}

func TestProcessFunctionEventRetriesThenFails(t *testing.T) {
	f := newFixture(t)
	app := f.createImageFunction(t, "hello")
	f.seedFunctionEvent(t, app.ID, "fe-1", 2)
	f.kube.On("GetServerlessURL", anyArg, testNamespace, "hello").Return(fnURL, nil)
	f.invoker.On("Invoke", anyArg, fnURL, anyArg).Return(&model.InvokeResponse{StatusCode: 500}, nil).Twice()

	require.NoError(t, f.svc.ProcessFunctionEvent(context.Background(), "fe-1"))
	ev := f.functionEvent(t, "fe-1")
	assert.Equal(t, model.EventRetry, ev.ProcessingStatus)
	assert.Equal(t, 1, ev.RetryCount)
	assert.Contains(t, ev.ErrorMessage, "status 500")

	require.NoError(t, f.svc.ProcessFunctionEvent(context.Background(), "fe-1"))
	ev = f.functionEvent(t, "fe-1")
	assert.Equal(t, model.EventFailed, ev.ProcessingStatus)
	assert.Equal(t, 2, ev.RetryCount)

	require.NoError(t, f.svc.ProcessFunctionEvent(context.Background(), "fe-1"))
	f.invoker.AssertNumberOfCalls(t, "Invoke", 2)
}

func TestProcessFunctionEventWithoutActiveVersion(t *testing.T) {
	f := newFixture(t)
	app := f.seed(t, "hello", model.TypeFunction, model.StatusRunning)
	_, err := mutate(context.Background(), f.store, app.ID, func(a *model.Application) error {
		a.Function = &model.FunctionSpec{Runtime: model.RuntimeGo, Handler: "main.Handle"}
		return nil
	})
	require.NoError(t, err)
	f.seedFunctionEvent(t, app.ID, "fe-1", 0)

	require.NoError(t, f.svc.ProcessFunctionEvent(context.Background(), "fe-1"))
	ev := f.functionEvent(t, "fe-1")
	assert.Equal(t, model.EventRetry, ev.ProcessingStatus, "zero max retries never gives up")
	assert.Equal(t, 1, ev.RetryCount)
	assert.Contains(t, ev.ErrorMessage, "no active version")
}

func TestProcessPendingFunctionEvents(t *testing.T) {
	f := newFixture(t)
	app := f.createImageFunction(t, "hello")
	f.seedFunctionEvent(t, app.ID, "fe-1", 3)
	f.seedFunctionEvent(t, app.ID, "fe-2", 3)
	f.kube.On("GetServerlessURL", anyArg, testNamespace, "hello").Return(fnURL, nil)
	f.invoker.On("Invoke", anyArg, fnURL, anyArg).Return(&model.InvokeResponse{StatusCode: 200}, nil)

	pending, err := f.svc.ListFunctionEvents(context.Background(), app.ID, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	n, err := f.svc.ProcessPendingFunctionEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err = f.svc.ListFunctionEvents(context.Background(), app.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessFunctionEventNotFound(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ProcessFunctionEvent(context.Background(), "fe-missing")
	assert.True(t, apperr.IsNotFound(err))
}
