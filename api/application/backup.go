package application

import (
	"context"
	"strconv"
	"strings"

	"appcore/api/apperr"
	"appcore/api/model"
)

// ValidateBackupSchedule checks that a backup runs after the cronjob it
// protects. Only concrete hour fields are compared; wildcards, ranges and
// steps always pass, as do differences in minute, day or month.
func ValidateBackupSchedule(cronSchedule, backupSchedule string) error {
	const op = "validate backup schedule"
	if _, err := parseSchedule(op, cronSchedule); err != nil {
		return err
	}
	if _, err := parseSchedule(op, backupSchedule); err != nil {
		return err
	}
	if cronSchedule == backupSchedule {
		return apperr.Validation(op, "backup schedule must have different time than cronjob")
	}

	cronHour, cronOK := concreteHour(cronSchedule)
	backupHour, backupOK := concreteHour(backupSchedule)
	if cronOK && backupOK && backupHour <= cronHour {
		return apperr.Validation(op, "backup schedule must run after cronjob schedule")
	}
	return nil
}

func concreteHour(schedule string) (int, bool) {
	fields := strings.Fields(schedule)
	if len(fields) != 5 {
		return 0, false
	}
	h, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return h, true
}

// CreateApplicationWithBackupPolicy creates a cronjob and its backup policy
// together. If the policy cannot be created the application is removed
// again and the policy error is returned.
func (s *Service) CreateApplicationWithBackupPolicy(ctx context.Context, workspaceID string, req *model.CreateApplicationRequest, policy *model.CreateBackupPolicyRequest) (*model.Application, error) {
	const op = "create with backup"
	if req.Type != model.TypeCronJob {
		return nil, apperr.Validation(op, "backup policies can only be attached to cronjob applications")
	}
	if policy == nil {
		return nil, apperr.Validation(op, "backup policy is required")
	}
	if err := model.Validate(op, policy); err != nil {
		return nil, err
	}
	if err := ValidateBackupSchedule(req.CronSchedule, policy.Schedule); err != nil {
		return nil, err
	}
	if s.backups == nil {
		return nil, apperr.Precondition(op, "backup service is not configured")
	}

	tagged := *req
	tagged.Metadata = make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		tagged.Metadata[k] = v
	}
	tagged.Metadata[model.MetaBackupEnabled] = "true"

	app, err := s.Create(ctx, workspaceID, &tagged)
	if err != nil {
		return nil, err
	}

	bp, err := s.backups.CreateBackupPolicy(ctx, app.ID, policy)
	if err != nil {
		s.compensateCreate(ctx, app)
		return nil, apperr.Dependency(op, "failed to create backup policy", err)
	}

	updated, err := mutate(ctx, s.store, app.ID, func(a *model.Application) error {
		a.SetBackupBinding(model.BackupBinding{Enabled: true, PolicyID: bp.ID})
		return nil
	})
	if err != nil {
		log.WithFields(map[string]any{"application_id": app.ID}).Warnf("failed to store backup policy %s on application: %v", bp.ID, err)
		app.SetBackupBinding(model.BackupBinding{Enabled: true, PolicyID: bp.ID})
		return app, nil
	}
	return updated, nil
}

// compensateCreate undoes a Create. Failures are logged; the caller still
// reports the error that triggered the rollback.
func (s *Service) compensateCreate(ctx context.Context, app *model.Application) {
	s.teardown(ctx, app)
	if err := s.store.DeleteApplication(ctx, app.ID); err != nil && !apperr.IsNotFound(err) {
		cerr := apperr.Compensation("create with backup", err)
		log.WithFields(map[string]any{"application_id": app.ID}).Errorf("%v", cerr)
	}
}
