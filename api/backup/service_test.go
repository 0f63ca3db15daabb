package backup

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appcore/api/apperr"
	"appcore/api/model"
	"appcore/api/store"
)

type bucketRecorder struct {
	created []string
	err     error
}

func (b *bucketRecorder) EnsureBucket(_ context.Context, name string) error {
	if b.err != nil {
		return b.err
	}
	b.created = append(b.created, name)
	return nil
}

func setup(t *testing.T, buckets Buckets) (*Service, *store.Memory, *model.Application) {
	t.Helper()
	mem := store.NewMemory()
	app := &model.Application{ID: "a1", WorkspaceID: "ws-1", ProjectID: "p", Name: "nightly", Type: model.TypeCronJob, Status: model.StatusRunning}
	require.NoError(t, mem.CreateApplication(context.Background(), app))
	return NewService(mem, buckets), mem, app
}

func TestCreateBackupPolicyProvisionsBucket(t *testing.T) {
	buckets := &bucketRecorder{}
	svc, _, app := setup(t, buckets)

	p, err := svc.CreateBackupPolicy(context.Background(), app.ID, &model.CreateBackupPolicyRequest{Enabled: true, Schedule: "0 4 * * *"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.ID, "bp-"))
	assert.Equal(t, "appcore-backups-ws-1", p.StorageID)
	assert.Equal(t, 30, p.RetentionDays)
	assert.Equal(t, model.BackupFull, p.BackupType)
	assert.Equal(t, []string{"appcore-backups-ws-1"}, buckets.created)

	got, err := svc.GetBackupPolicy(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Schedule, got.Schedule)
}

func TestCreateBackupPolicyErrors(t *testing.T) {
	svc, _, app := setup(t, &bucketRecorder{err: errors.New("forbidden")})

	_, err := svc.CreateBackupPolicy(context.Background(), app.ID, &model.CreateBackupPolicyRequest{Schedule: "0 4 * * *"})
	assert.True(t, apperr.Is(err, apperr.KindDependency))

	_, err = svc.CreateBackupPolicy(context.Background(), "missing", &model.CreateBackupPolicyRequest{Schedule: "0 4 * * *"})
	assert.True(t, apperr.IsNotFound(err))

	_, err = svc.CreateBackupPolicy(context.Background(), app.ID, &model.CreateBackupPolicyRequest{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreateBackupPolicyWithoutStorage(t *testing.T) {
	svc, _, app := setup(t, nil)
	p, err := svc.CreateBackupPolicy(context.Background(), app.ID, &model.CreateBackupPolicyRequest{Schedule: "0 4 * * *", StorageID: "external"})
	require.NoError(t, err)
	assert.Equal(t, "external", p.StorageID)
}

func TestTriggerManualBackupLinksCronExecution(t *testing.T) {
	svc, mem, app := setup(t, &bucketRecorder{})
	p, err := svc.CreateBackupPolicy(context.Background(), app.ID, &model.CreateBackupPolicyRequest{Schedule: "0 4 * * *", BackupType: model.BackupIncremental})
	require.NoError(t, err)
	stored, err := mem.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	stored.SetBackupBinding(model.BackupBinding{Enabled: true, PolicyID: p.ID})
	require.NoError(t, mem.UpdateApplication(context.Background(), stored))

	exec, err := svc.TriggerManualBackup(context.Background(), &model.TriggerBackupRequest{
		ApplicationID: app.ID,
		Metadata:      map[string]string{"cronjob_execution_id": "cje-1", "triggered_by": "cronjob"},
	})
	require.NoError(t, err)
	assert.Equal(t, p.ID, exec.PolicyID)
	assert.Equal(t, model.BackupRunning, exec.Status)
	assert.Equal(t, "incremental", exec.Metadata["backup_type"])
	assert.Equal(t, "appcore-backups-ws-1/nightly/"+exec.ID, exec.BackupPath)

	linked, err := svc.GetBackupExecutionByCronJobID(context.Background(), "cje-1")
	require.NoError(t, err)
	assert.Equal(t, exec.ID, linked.ID)

	require.NoError(t, svc.UpdateBackupExecutionStatus(context.Background(), exec.ID, model.BackupFailed, "cronjob execution failed"))
	done, err := mem.GetBackupExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BackupFailed, done.Status)
	assert.Equal(t, "cronjob execution failed", done.ErrorMessage)
	assert.NotNil(t, done.CompletedAt)
}

func TestBackupExecutionNotFound(t *testing.T) {
	svc, _, _ := setup(t, nil)
	_, err := svc.GetBackupExecutionByCronJobID(context.Background(), "cje-none")
	assert.True(t, apperr.IsNotFound(err))

	err = svc.UpdateBackupExecutionStatus(context.Background(), "be-none", model.BackupSucceeded, "")
	assert.True(t, apperr.IsNotFound(err))
}
