package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"appcore/api/apperr"
	"appcore/api/model"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func parseSchedule(op, schedule string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(schedule)
	if err != nil {
		return nil, apperr.Validation(op, "invalid cron schedule %q: %v", schedule, err)
	}
	return sched, nil
}

// CreateCronJob persists a scheduled application and creates its substrate
// cron resource. Runs never overlap and failed pods restart in place.
func (s *Service) CreateCronJob(ctx context.Context, workspaceID string, req *model.CreateApplicationRequest) (*model.Application, error) {
	const op = "create cronjob"
	if req.CronSchedule == "" {
		return nil, apperr.Validation(op, "cron schedule is required")
	}
	if len(req.CronCommand) == 0 && req.TemplateAppID == "" {
		return nil, apperr.Validation(op, "either a command or a template application is required")
	}
	if _, err := parseSchedule(op, req.CronSchedule); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueName(ctx, op, workspaceID, req.ProjectID, req.Name); err != nil {
		return nil, err
	}

	app := newApplication(workspaceID, req)
	app.Type = model.TypeCronJob
	if req.TemplateAppID != "" {
		if err := s.applyTemplate(ctx, op, app); err != nil {
			return nil, err
		}
	}
	if app.Source.Image == "" {
		return nil, apperr.Validation(op, "image is required")
	}
	if app.Source.Type == "" {
		app.Source.Type = model.SourceImage
	}

	if err := s.store.CreateApplication(ctx, app); err != nil {
		return nil, createErr(op, app, err)
	}
	if err := s.transition(ctx, op, app, model.StatusDeploying); err != nil {
		return nil, err
	}

	ns, err := s.namespace(ctx, op, app)
	if err == nil {
		err = s.kube.CreateCronJob(ctx, ns, cronJobSpec(app, s.annotationPrefix))
	}
	if err != nil {
		if terr := s.transition(ctx, op, app, model.StatusError); terr != nil {
			log.WithFields(map[string]any{"application_id": app.ID}).Errorf("failed to mark cronjob as error: %v", terr)
		}
		s.events.record(ctx, app, model.EventDeploymentFailed, "Failed to create cronjob", err.Error())
		return nil, apperr.Dependency(op, "failed to create kubernetes cronjob", err)
	}

	if err := s.transition(ctx, op, app, model.StatusRunning); err != nil {
		return nil, err
	}
	s.events.record(ctx, app, model.EventDeploymentSucceeded, "CronJob created", "")
	return app, nil
}

// applyTemplate fills the image, command and environment from another
// application in the same workspace. Explicit request values win.
func (s *Service) applyTemplate(ctx context.Context, op string, app *model.Application) error {
	tmpl, err := s.getApplication(ctx, op, app.TemplateAppID)
	if err != nil {
		return err
	}
	if tmpl.WorkspaceID != app.WorkspaceID {
		return apperr.NotFound(op, "template application %s not found", app.TemplateAppID)
	}
	if app.Source.Image == "" {
		app.Source = tmpl.Source
	}
	if len(app.CronCommand) == 0 {
		app.CronCommand = append([]string(nil), tmpl.CronCommand...)
		if len(app.CronArgs) == 0 {
			app.CronArgs = append([]string(nil), tmpl.CronArgs...)
		}
	}
	for k, v := range tmpl.Config.EnvVars {
		if app.Config.EnvVars == nil {
			app.Config.EnvVars = make(map[string]string)
		}
		if _, ok := app.Config.EnvVars[k]; !ok {
			app.Config.EnvVars[k] = v
		}
	}
	if app.Config.Resources == (model.Resources{}) {
		app.Config.Resources = tmpl.Config.Resources
	}
	return nil
}

func (s *Service) getCronJob(ctx context.Context, op, id string) (*model.Application, error) {
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if app.Type != model.TypeCronJob {
		return nil, apperr.Precondition(op, "application %s is not a cronjob", app.Name)
	}
	return app, nil
}

// UpdateCronJobSchedule stores the schedule first, then updates the
// substrate. A substrate failure is returned without reverting the stored
// schedule; repeating the call with the same value converges.
func (s *Service) UpdateCronJobSchedule(ctx context.Context, id, schedule string) error {
	const op = "update schedule"
	if _, err := parseSchedule(op, schedule); err != nil {
		return err
	}
	app, err := s.getCronJob(ctx, op, id)
	if err != nil {
		return err
	}
	if err := s.store.UpdateCronSchedule(ctx, id, schedule); err != nil {
		return storeErr(op, "failed to update schedule", err)
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return err
	}
	if err := s.kube.UpdateCronJobSchedule(ctx, ns, app.Name, schedule); err != nil {
		return apperr.Dependency(op, "failed to update kubernetes cronjob schedule", err)
	}
	return nil
}

const maxJobNameLength = 63

// manualJobName builds a job name that fits the substrate's 63 character
// limit. suffix separates triggers that land in the same second.
func manualJobName(name string, t time.Time, suffix string) string {
	tail := "-manual-" + t.Format("20060102150405") + "-" + suffix
	if keep := maxJobNameLength - len(tail); len(name) > keep {
		name = strings.TrimRight(name[:keep], "-.")
	}
	return name + tail
}

// TriggerCronJob starts a run immediately. Once the substrate accepted the
// run, bookkeeping failures are only logged. When the application has
// backups enabled a manual backup is requested for the run.
func (s *Service) TriggerCronJob(ctx context.Context, id string) (*model.CronJobExecution, error) {
	const op = "trigger cronjob"
	app, err := s.getCronJob(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if app.Status != model.StatusRunning {
		return nil, apperr.Precondition(op, "cronjob must be running to trigger, current status %s", app.Status)
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return nil, err
	}

	now := s.now()
	exec := &model.CronJobExecution{
		ID:            "cje-" + uuid.NewString(),
		ApplicationID: app.ID,
		JobName:       manualJobName(app.Name, now, uuid.NewString()[:5]),
		StartedAt:     now,
		Status:        model.CronRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.kube.TriggerCronJob(ctx, ns, app.Name, exec.JobName); err != nil {
		return nil, apperr.Dependency(op, "failed to trigger cronjob", err)
	}

	elog := log.WithFields(map[string]any{"application_id": app.ID, "execution_id": exec.ID})
	if err := s.store.CreateCronJobExecution(ctx, exec); err != nil {
		elog.Warnf("failed to record cronjob execution, job %s still runs: %v", exec.JobName, err)
	}
	s.events.record(ctx, app, model.EventCronJobTriggered, fmt.Sprintf("Triggered job %s", exec.JobName), "")

	if app.BackupEnabled() && s.backups != nil {
		_, err := s.backups.TriggerManualBackup(ctx, &model.TriggerBackupRequest{
			ApplicationID: app.ID,
			BackupType:    model.BackupFull,
			Metadata: map[string]string{
				"triggered_by":         "cronjob",
				"cronjob_name":         app.Name,
				"cronjob_execution_id": exec.ID,
			},
		})
		if err != nil {
			elog.Warnf("failed to trigger backup for cronjob run: %v", err)
		}
	}
	return exec, nil
}

// UpdateCronJobExecutionStatus records a run's outcome and carries it over
// to a linked backup execution. An execution completes once; later calls
// are rejected without touching the record or its backup. Backup
// propagation failures are logged.
func (s *Service) UpdateCronJobExecutionStatus(ctx context.Context, execID string, status model.CronExecStatus, logs string) (*model.CronJobExecution, error) {
	const op = "update execution"
	if !status.IsTerminal() {
		return nil, apperr.Validation(op, "invalid execution status %q, must be %s or %s", status, model.CronSucceeded, model.CronFailed)
	}
	exec, err := s.store.GetCronJobExecution(ctx, execID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound(op, "execution %s not found", execID)
		}
		return nil, apperr.Dependency(op, "failed to get execution", err)
	}
	if exec.Status.IsTerminal() {
		return nil, apperr.Precondition(op, "execution %s already %s", execID, exec.Status)
	}

	now := s.now()
	exec.Status = status
	exec.UpdatedAt = now
	exec.CompletedAt = &now
	if logs != "" {
		exec.Logs = logs
	}
	code := 0
	if status == model.CronFailed {
		code = 1
	}
	exec.ExitCode = &code
	if err := s.store.CompleteCronJobExecution(ctx, exec); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return nil, apperr.Precondition(op, "execution %s already completed", execID)
		}
		return nil, storeErr(op, "failed to update execution", err)
	}

	if app, err := s.store.GetApplication(ctx, exec.ApplicationID); err == nil {
		s.events.record(ctx, app, model.EventCronJobCompleted, fmt.Sprintf("Job %s %s", exec.JobName, status), "")
	}
	s.propagateBackupStatus(ctx, exec)
	return exec, nil
}

// GetCronJobExecution returns one execution record.
func (s *Service) GetCronJobExecution(ctx context.Context, execID string) (*model.CronJobExecution, error) {
	exec, err := s.store.GetCronJobExecution(ctx, execID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("get execution", "execution %s not found", execID)
		}
		return nil, apperr.Dependency("get execution", "failed to get execution", err)
	}
	return exec, nil
}

func (s *Service) propagateBackupStatus(ctx context.Context, exec *model.CronJobExecution) {
	if s.backups == nil {
		return
	}
	var target model.BackupStatus
	switch exec.Status {
	case model.CronSucceeded:
		target = model.BackupSucceeded
	case model.CronFailed:
		target = model.BackupFailed
	default:
		return
	}
	elog := log.WithFields(map[string]any{"execution_id": exec.ID})
	be, err := s.backups.GetBackupExecutionByCronJobID(ctx, exec.ID)
	if err != nil {
		if !apperr.IsNotFound(err) {
			elog.Warnf("failed to look up backup execution: %v", err)
		}
		return
	}
	msg := ""
	if target == model.BackupFailed {
		msg = "cronjob execution failed"
	}
	if err := s.backups.UpdateBackupExecutionStatus(ctx, be.ID, target, msg); err != nil {
		elog.Warnf("failed to update backup execution %s: %v", be.ID, err)
	}
}

func (s *Service) ListCronJobExecutions(ctx context.Context, id string, limit, offset int) ([]*model.CronJobExecution, int, error) {
	const op = "list executions"
	if _, err := s.getCronJob(ctx, op, id); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	execs, total, err := s.store.ListCronJobExecutions(ctx, id, limit, offset)
	if err != nil {
		return nil, 0, apperr.Dependency(op, "failed to list executions", err)
	}
	return execs, total, nil
}

func (s *Service) GetCronJobStatus(ctx context.Context, id string) (*model.CronJobStatus, error) {
	const op = "cronjob status"
	app, err := s.getCronJob(ctx, op, id)
	if err != nil {
		return nil, err
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return nil, err
	}
	st, err := s.kube.GetCronJobStatus(ctx, ns, app.Name)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound(op, "cronjob %s not found on substrate", app.Name)
		}
		return nil, apperr.Dependency(op, "failed to get cronjob status", err)
	}
	if sched, err := scheduleParser.Parse(st.Schedule); err == nil {
		next := sched.Next(s.now())
		st.NextScheduleTime = &next
	}
	return st, nil
}

// SyncCronJobExecutions records scheduled runs the substrate started on its
// own, then completes running executions whose job has finished. It returns
// how many executions were completed.
func (s *Service) SyncCronJobExecutions(ctx context.Context) (int, error) {
	namespaces := map[string]string{}
	s.recordScheduledRuns(ctx, namespaces)

	running, err := s.store.ListRunningCronJobExecutions(ctx)
	if err != nil {
		return 0, apperr.Dependency("sync executions", "failed to list running executions", err)
	}
	synced := 0
	for _, exec := range running {
		elog := log.WithFields(map[string]any{"execution_id": exec.ID, "application_id": exec.ApplicationID})
		ns, ok := namespaces[exec.ApplicationID]
		if !ok {
			app, err := s.store.GetApplication(ctx, exec.ApplicationID)
			if err != nil {
				elog.Debugf("skipping execution: %v", err)
				continue
			}
			ns, err = s.projects.Namespace(ctx, app.WorkspaceID, app.ProjectID)
			if err != nil {
				elog.Warnf("failed to resolve namespace: %v", err)
				continue
			}
			namespaces[exec.ApplicationID] = ns
		}

		state, err := s.kube.GetJobState(ctx, ns, exec.JobName)
		if err != nil {
			if !apperr.IsNotFound(err) {
				elog.Warnf("failed to get job %s: %v", exec.JobName, err)
			}
			continue
		}
		var status model.CronExecStatus
		switch {
		case state.Succeeded:
			status = model.CronSucceeded
		case state.Failed:
			status = model.CronFailed
		default:
			continue
		}
		if _, err := s.UpdateCronJobExecutionStatus(ctx, exec.ID, status, ""); err != nil {
			elog.Warnf("failed to complete execution: %v", err)
			continue
		}
		synced++
	}
	return synced, nil
}

// recordScheduledRuns creates a Running execution for every job a running
// cronjob started from its schedule that has no record yet. Manual runs are
// recorded by TriggerCronJob. namespaces is filled per application.
func (s *Service) recordScheduledRuns(ctx context.Context, namespaces map[string]string) {
	apps, err := s.store.ListApplicationsByType(ctx, model.TypeCronJob)
	if err != nil {
		log.Warnf("failed to list cronjobs: %v", err)
		return
	}
	for _, app := range apps {
		if app.Status != model.StatusRunning && app.Status != model.StatusUpdating {
			continue
		}
		alog := log.WithFields(map[string]any{"application_id": app.ID})
		ns, err := s.projects.Namespace(ctx, app.WorkspaceID, app.ProjectID)
		if err != nil {
			alog.Warnf("failed to resolve namespace: %v", err)
			continue
		}
		namespaces[app.ID] = ns

		runs, err := s.kube.ListCronJobRuns(ctx, ns, app.Name)
		if err != nil {
			alog.Warnf("failed to list jobs of cronjob %s: %v", app.Name, err)
			continue
		}
		for _, run := range runs {
			if run.Manual {
				continue
			}
			_, err := s.store.GetCronJobExecutionByJobName(ctx, app.ID, run.Name)
			if err == nil {
				continue
			}
			if !apperr.IsNotFound(err) {
				alog.Warnf("failed to look up execution for job %s: %v", run.Name, err)
				continue
			}
			now := s.now()
			started := run.Started
			if started.IsZero() {
				started = now
			}
			exec := &model.CronJobExecution{
				ID:            "cje-" + uuid.NewString(),
				ApplicationID: app.ID,
				JobName:       run.Name,
				StartedAt:     started,
				Status:        model.CronRunning,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.store.CreateCronJobExecution(ctx, exec); err != nil {
				if !apperr.Is(err, apperr.KindConflict) {
					alog.Warnf("failed to record scheduled job %s: %v", run.Name, err)
				}
				continue
			}
			s.events.record(ctx, app, model.EventCronJobStarted, fmt.Sprintf("Scheduled job %s started", run.Name), "")
		}
	}
}
