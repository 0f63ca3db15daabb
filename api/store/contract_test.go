package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appcore/api/apperr"
	"appcore/api/model"
)

// backend is the method set shared by DB and Memory.
type backend interface {
	CreateApplication(context.Context, *model.Application) error
	GetApplication(context.Context, string) (*model.Application, error)
	GetApplicationByName(context.Context, string, string, string) (*model.Application, error)
	ListApplications(context.Context, string, string) ([]*model.Application, error)
	ListApplicationsByType(context.Context, model.ApplicationType) ([]*model.Application, error)
	UpdateApplication(context.Context, *model.Application) error
	UpdateCronSchedule(context.Context, string, string) error
	DeleteApplication(context.Context, string) error
	CreateEvent(context.Context, *model.ApplicationEvent) error
	ListEvents(context.Context, string, int) ([]*model.ApplicationEvent, error)

	CreateCronJobExecution(context.Context, *model.CronJobExecution) error
	GetCronJobExecution(context.Context, string) (*model.CronJobExecution, error)
	GetCronJobExecutionByJobName(context.Context, string, string) (*model.CronJobExecution, error)
	CompleteCronJobExecution(context.Context, *model.CronJobExecution) error
	ListCronJobExecutions(context.Context, string, int, int) ([]*model.CronJobExecution, int, error)
	ListRunningCronJobExecutions(context.Context) ([]*model.CronJobExecution, error)

	CreateFunctionVersion(context.Context, *model.FunctionVersion) error
	GetActiveFunctionVersion(context.Context, string) (*model.FunctionVersion, error)
	ListFunctionVersions(context.Context, string) ([]*model.FunctionVersion, error)
	SetActiveFunctionVersion(context.Context, string, string) error

	CreateFunctionEvent(context.Context, *model.FunctionEvent) error
	UpdateFunctionEvent(context.Context, *model.FunctionEvent) error
	ListPendingFunctionEvents(context.Context, int) ([]*model.FunctionEvent, error)

	CreateBackupExecution(context.Context, *model.BackupExecution) error
	GetBackupExecutionByCronJobID(context.Context, string) (*model.BackupExecution, error)
}

var (
	_ backend = (*DB)(nil)
	_ backend = (*Memory)(nil)
)

func newApp(name string) *model.Application {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Application{
		ID:          uuid.NewString(),
		WorkspaceID: "ws-1",
		ProjectID:   "proj-1",
		Name:        name,
		Type:        model.TypeStateless,
		Status:      model.StatusPending,
		Source:      model.Source{Type: model.SourceImage, Image: "nginx:1.27"},
		Config: model.Config{
			Replicas: 2,
			Port:     8080,
			EnvVars:  map[string]string{"A": "1"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func runBackendTests(t *testing.T, s backend) {
	ctx := context.Background()

	t.Run("application crud and versioning", func(t *testing.T) {
		app := newApp("web-" + uuid.NewString()[:8])
		require.NoError(t, s.CreateApplication(ctx, app))
		assert.EqualValues(t, 1, app.Version)

		dup := newApp(app.Name)
		err := s.CreateApplication(ctx, dup)
		assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

		got, err := s.GetApplication(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, app.Name, got.Name)
		assert.Equal(t, "1", got.Config.EnvVars["A"])

		byName, err := s.GetApplicationByName(ctx, "ws-1", "proj-1", app.Name)
		require.NoError(t, err)
		assert.Equal(t, app.ID, byName.ID)

		got.Status = model.StatusDeploying
		require.NoError(t, s.UpdateApplication(ctx, got))
		assert.EqualValues(t, 2, got.Version)

		stale := *got
		stale.Version = 1
		err = s.UpdateApplication(ctx, &stale)
		assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

		reread, err := s.GetApplication(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusDeploying, reread.Status)

		byType, err := s.ListApplicationsByType(ctx, app.Type)
		require.NoError(t, err)
		assert.Contains(t, appIDs(byType), app.ID)
		none, err := s.ListApplicationsByType(ctx, model.TypeFunction)
		require.NoError(t, err)
		assert.NotContains(t, appIDs(none), app.ID)

		require.NoError(t, s.DeleteApplication(ctx, app.ID))
		_, err = s.GetApplication(ctx, app.ID)
		assert.True(t, apperr.IsNotFound(err))
		assert.True(t, apperr.IsNotFound(s.DeleteApplication(ctx, app.ID)))
	})

	t.Run("backup binding round trip", func(t *testing.T) {
		app := newApp("job-" + uuid.NewString()[:8])
		app.Type = model.TypeCronJob
		app.CronSchedule = "0 2 * * *"
		app.CronCommand = []string{"/bin/backup"}
		app.SetBackupBinding(model.BackupBinding{Enabled: true})
		require.NoError(t, s.CreateApplication(ctx, app))

		app.SetBackupBinding(model.BackupBinding{Enabled: true, PolicyID: "pol-1"})
		require.NoError(t, s.UpdateApplication(ctx, app))

		got, err := s.GetApplication(ctx, app.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Backup)
		assert.Equal(t, "pol-1", got.Backup.PolicyID)
		assert.Equal(t, "true", got.Metadata[model.MetaBackupEnabled])
		assert.Equal(t, "pol-1", got.Metadata[model.MetaBackupPolicyID])
		assert.Equal(t, []string{"/bin/backup"}, got.CronCommand)

		require.NoError(t, s.UpdateCronSchedule(ctx, app.ID, "0 3 * * *"))
		got, err = s.GetApplication(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, "0 3 * * *", got.CronSchedule)
		assert.True(t, apperr.IsNotFound(s.UpdateCronSchedule(ctx, "missing", "* * * * *")))
	})

	t.Run("events newest first", func(t *testing.T) {
		appID := uuid.NewString()
		base := time.Now().UTC().Truncate(time.Millisecond)
		for i := 0; i < 3; i++ {
			require.NoError(t, s.CreateEvent(ctx, &model.ApplicationEvent{
				ID:            uuid.NewString(),
				ApplicationID: appID,
				Type:          fmt.Sprintf("e%d", i),
				Timestamp:     base.Add(time.Duration(i) * time.Second),
			}))
		}
		events, err := s.ListEvents(ctx, appID, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "e2", events[0].Type)
		assert.Equal(t, "e1", events[1].Type)
	})

	t.Run("cron executions", func(t *testing.T) {
		appID := uuid.NewString()
		exec := &model.CronJobExecution{
			ID:            "cje-" + uuid.NewString(),
			ApplicationID: appID,
			JobName:       "job-manual-20260101000000",
			StartedAt:     time.Now().UTC().Truncate(time.Millisecond),
			Status:        model.CronRunning,
		}
		require.NoError(t, s.CreateCronJobExecution(ctx, exec))

		running, err := s.ListRunningCronJobExecutions(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids(running), exec.ID)

		code := 0
		done := time.Now().UTC().Truncate(time.Millisecond)
		exec.Status = model.CronSucceeded
		exec.ExitCode = &code
		exec.CompletedAt = &done
		require.NoError(t, s.CompleteCronJobExecution(ctx, exec))

		got, err := s.GetCronJobExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CronSucceeded, got.Status)
		require.NotNil(t, got.ExitCode)
		assert.Equal(t, 0, *got.ExitCode)

		exec.Status = model.CronFailed
		err = s.CompleteCronJobExecution(ctx, exec)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
		got, err = s.GetCronJobExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CronSucceeded, got.Status)

		byJob, err := s.GetCronJobExecutionByJobName(ctx, appID, exec.JobName)
		require.NoError(t, err)
		assert.Equal(t, exec.ID, byJob.ID)
		_, err = s.GetCronJobExecutionByJobName(ctx, appID, "job-other")
		assert.True(t, apperr.IsNotFound(err))

		dup := &model.CronJobExecution{ID: "cje-" + uuid.NewString(), ApplicationID: appID, JobName: exec.JobName, StartedAt: exec.StartedAt, Status: model.CronRunning}
		assert.True(t, apperr.Is(s.CreateCronJobExecution(ctx, dup), apperr.KindConflict))

		list, total, err := s.ListCronJobExecutions(ctx, appID, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Len(t, list, 1)

		running, err = s.ListRunningCronJobExecutions(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids(running), exec.ID)
	})

	t.Run("single active function version", func(t *testing.T) {
		appID := uuid.NewString()
		v1 := &model.FunctionVersion{ID: uuid.NewString(), ApplicationID: appID, VersionNumber: 1, SourceType: model.FunctionSourceInline, BuildStatus: model.BuildSuccess, IsActive: true, CreatedAt: time.Now()}
		v2 := &model.FunctionVersion{ID: uuid.NewString(), ApplicationID: appID, VersionNumber: 2, SourceType: model.FunctionSourceInline, BuildStatus: model.BuildSuccess, CreatedAt: time.Now()}
		require.NoError(t, s.CreateFunctionVersion(ctx, v1))
		require.NoError(t, s.CreateFunctionVersion(ctx, v2))

		dup := &model.FunctionVersion{ID: uuid.NewString(), ApplicationID: appID, VersionNumber: 2, SourceType: model.FunctionSourceInline, BuildStatus: model.BuildPending, CreatedAt: time.Now()}
		assert.True(t, apperr.Is(s.CreateFunctionVersion(ctx, dup), apperr.KindConflict))

		require.NoError(t, s.SetActiveFunctionVersion(ctx, appID, v2.ID))
		active, err := s.GetActiveFunctionVersion(ctx, appID)
		require.NoError(t, err)
		assert.Equal(t, v2.ID, active.ID)

		versions, err := s.ListFunctionVersions(ctx, appID)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, 2, versions[0].VersionNumber)
		activeCount := 0
		for _, v := range versions {
			if v.IsActive {
				activeCount++
			}
		}
		assert.Equal(t, 1, activeCount)

		assert.True(t, apperr.IsNotFound(s.SetActiveFunctionVersion(ctx, "other-app", v1.ID)))
	})

	t.Run("pending function events", func(t *testing.T) {
		appID := uuid.NewString()
		ev := &model.FunctionEvent{ID: uuid.NewString(), ApplicationID: appID, EventType: "order.created", ProcessingStatus: model.EventPending, MaxRetries: 3, CreatedAt: time.Now()}
		require.NoError(t, s.CreateFunctionEvent(ctx, ev))

		pending, err := s.ListPendingFunctionEvents(ctx, 1000)
		require.NoError(t, err)
		assert.Contains(t, eventIDs(pending), ev.ID)

		ev.ProcessingStatus = model.EventSuccess
		require.NoError(t, s.UpdateFunctionEvent(ctx, ev))
		pending, err = s.ListPendingFunctionEvents(ctx, 1000)
		require.NoError(t, err)
		assert.NotContains(t, eventIDs(pending), ev.ID)
	})

	t.Run("backup execution lookup by cronjob execution", func(t *testing.T) {
		cronExecID := "cje-" + uuid.NewString()
		be := &model.BackupExecution{ID: uuid.NewString(), ApplicationID: "app", CronJobExecutionID: cronExecID, Status: model.BackupRunning, StartedAt: time.Now()}
		require.NoError(t, s.CreateBackupExecution(ctx, be))

		got, err := s.GetBackupExecutionByCronJobID(ctx, cronExecID)
		require.NoError(t, err)
		assert.Equal(t, be.ID, got.ID)

		_, err = s.GetBackupExecutionByCronJobID(ctx, "cje-none")
		assert.True(t, apperr.IsNotFound(err))
	})
}

func ids(execs []*model.CronJobExecution) []string {
	var out []string
	for _, e := range execs {
		out = append(out, e.ID)
	}
	return out
}

func eventIDs(events []*model.FunctionEvent) []string {
	var out []string
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

func appIDs(apps []*model.Application) []string {
	var out []string
	for _, a := range apps {
		out = append(out, a.ID)
	}
	return out
}
