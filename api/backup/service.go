package backup

import (
	"context"
	"path"
	"time"

	"github.com/google/uuid"

	"appcore/api/apperr"
	"appcore/api/logger"
	"appcore/api/model"
	"appcore/api/storage"
)

var log = logger.NewLogger("appcore.backup")

const (
	bucketPrefix         = "appcore-backups"
	defaultRetentionDays = 30
)

type Store interface {
	GetApplication(ctx context.Context, id string) (*model.Application, error)
	CreateBackupPolicy(ctx context.Context, p *model.BackupPolicy) error
	GetBackupPolicy(ctx context.Context, id string) (*model.BackupPolicy, error)
	CreateBackupExecution(ctx context.Context, e *model.BackupExecution) error
	GetBackupExecution(ctx context.Context, id string) (*model.BackupExecution, error)
	GetBackupExecutionByCronJobID(ctx context.Context, cronExecID string) (*model.BackupExecution, error)
	UpdateBackupExecution(ctx context.Context, e *model.BackupExecution) error
}

// Buckets provisions object storage for backup artifacts.
type Buckets interface {
	EnsureBucket(ctx context.Context, name string) error
}

// Service owns backup policies and executions. Each workspace gets its own
// bucket when object storage is configured.
type Service struct {
	store   Store
	buckets Buckets
	now     func() time.Time
}

func NewService(st Store, buckets Buckets) *Service {
	return &Service{store: st, buckets: buckets, now: time.Now}
}

func BucketName(workspaceID string) string {
	return storage.BucketName(bucketPrefix, workspaceID)
}

func (s *Service) application(ctx context.Context, op, id string) (*model.Application, error) {
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound(op, "application %s not found", id)
		}
		return nil, apperr.Dependency(op, "failed to get application", err)
	}
	return app, nil
}

func (s *Service) CreateBackupPolicy(ctx context.Context, appID string, req *model.CreateBackupPolicyRequest) (*model.BackupPolicy, error) {
	const op = "create backup policy"
	if err := model.Validate(op, req); err != nil {
		return nil, err
	}
	app, err := s.application(ctx, op, appID)
	if err != nil {
		return nil, err
	}

	storageID := req.StorageID
	if storageID == "" && s.buckets != nil {
		storageID = BucketName(app.WorkspaceID)
		if err := s.buckets.EnsureBucket(ctx, storageID); err != nil {
			return nil, apperr.Dependency(op, "failed to provision backup bucket", err)
		}
	}

	now := s.now()
	p := &model.BackupPolicy{
		ID:                 "bp-" + uuid.NewString(),
		ApplicationID:      appID,
		StorageID:          storageID,
		Enabled:            req.Enabled,
		Schedule:           req.Schedule,
		RetentionDays:      req.RetentionDays,
		BackupType:         req.BackupType,
		IncludeVolumes:     req.IncludeVolumes,
		IncludeDatabase:    req.IncludeDatabase,
		IncludeConfig:      req.IncludeConfig,
		CompressionEnabled: req.CompressionEnabled,
		EncryptionEnabled:  req.EncryptionEnabled,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if p.RetentionDays == 0 {
		p.RetentionDays = defaultRetentionDays
	}
	if p.BackupType == "" {
		p.BackupType = model.BackupFull
	}
	if err := s.store.CreateBackupPolicy(ctx, p); err != nil {
		return nil, apperr.Dependency(op, "failed to store backup policy", err)
	}
	log.WithFields(map[string]any{"application_id": appID}).Infof("created backup policy %s", p.ID)
	return p, nil
}

func (s *Service) GetBackupPolicy(ctx context.Context, id string) (*model.BackupPolicy, error) {
	p, err := s.store.GetBackupPolicy(ctx, id)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("get backup policy", "backup policy %s not found", id)
		}
		return nil, apperr.Dependency("get backup policy", "failed to get backup policy", err)
	}
	return p, nil
}

// TriggerManualBackup records a running backup execution. A
// cronjob_execution_id metadata entry links it to the cronjob run so the
// run's outcome can be carried over.
func (s *Service) TriggerManualBackup(ctx context.Context, req *model.TriggerBackupRequest) (*model.BackupExecution, error) {
	const op = "trigger backup"
	app, err := s.application(ctx, op, req.ApplicationID)
	if err != nil {
		return nil, err
	}

	var policy *model.BackupPolicy
	if app.Backup != nil && app.Backup.PolicyID != "" {
		policy, err = s.store.GetBackupPolicy(ctx, app.Backup.PolicyID)
		if err != nil && !apperr.IsNotFound(err) {
			return nil, apperr.Dependency(op, "failed to get backup policy", err)
		}
	}

	id := "be-" + uuid.NewString()
	bucket := BucketName(app.WorkspaceID)
	exec := &model.BackupExecution{
		ID:                 id,
		ApplicationID:      app.ID,
		CronJobExecutionID: req.Metadata["cronjob_execution_id"],
		Status:             model.BackupRunning,
		Metadata:           make(map[string]string, len(req.Metadata)+1),
		StartedAt:          s.now(),
	}
	for k, v := range req.Metadata {
		exec.Metadata[k] = v
	}
	backupType := req.BackupType
	if policy != nil {
		exec.PolicyID = policy.ID
		if policy.StorageID != "" {
			bucket = policy.StorageID
		}
		if backupType == "" {
			backupType = policy.BackupType
		}
	}
	if backupType == "" {
		backupType = model.BackupFull
	}
	exec.Metadata["backup_type"] = string(backupType)
	exec.BackupPath = bucket + "/" + path.Join(app.Name, id)

	if err := s.store.CreateBackupExecution(ctx, exec); err != nil {
		return nil, apperr.Dependency(op, "failed to store backup execution", err)
	}
	return exec, nil
}

func (s *Service) GetBackupExecutionByCronJobID(ctx context.Context, cronExecID string) (*model.BackupExecution, error) {
	e, err := s.store.GetBackupExecutionByCronJobID(ctx, cronExecID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("get backup execution", "no backup execution for cronjob execution %s", cronExecID)
		}
		return nil, apperr.Dependency("get backup execution", "failed to get backup execution", err)
	}
	return e, nil
}

func (s *Service) UpdateBackupExecutionStatus(ctx context.Context, id string, status model.BackupStatus, errMsg string) error {
	const op = "update backup execution"
	e, err := s.store.GetBackupExecution(ctx, id)
	if err != nil {
		if apperr.IsNotFound(err) {
			return apperr.NotFound(op, "backup execution %s not found", id)
		}
		return apperr.Dependency(op, "failed to get backup execution", err)
	}
	e.Status = status
	e.ErrorMessage = errMsg
	if status != model.BackupRunning {
		now := s.now()
		e.CompletedAt = &now
	}
	if err := s.store.UpdateBackupExecution(ctx, e); err != nil {
		return apperr.Dependency(op, "failed to update backup execution", err)
	}
	return nil
}
