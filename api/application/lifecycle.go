package application

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"appcore/api/apperr"
	"appcore/api/model"
)

// Create persists a new application and dispatches its first deployment.
// It returns once the intent is stored; convergence is reported through
// status and events.
func (s *Service) Create(ctx context.Context, workspaceID string, req *model.CreateApplicationRequest) (*model.Application, error) {
	const op = "create"
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	if req.Type == model.TypeCronJob {
		return s.CreateCronJob(ctx, workspaceID, req)
	}
	if err := s.ensureUniqueName(ctx, op, workspaceID, req.ProjectID, req.Name); err != nil {
		return nil, err
	}

	app := newApplication(workspaceID, req)
	if err := s.store.CreateApplication(ctx, app); err != nil {
		return nil, createErr(op, app, err)
	}
	s.events.record(ctx, app, model.EventDeploymentStarted, "Deployment started", "")

	if err := s.transition(ctx, op, app, model.StatusDeploying); err != nil {
		return nil, err
	}
	s.dispatchDeploy(app.ID)
	return app, nil
}

func validateCreate(req *model.CreateApplicationRequest) error {
	const op = "create"
	if err := model.Validate(op, req); err != nil {
		return err
	}
	switch req.Type {
	case model.TypeCronJob, model.TypeFunction:
		return nil
	}
	switch req.Source.Type {
	case model.SourceImage:
		if req.Source.Image == "" {
			return apperr.Validation(op, "image is required for image source")
		}
	case model.SourceGit:
		if req.Source.GitURL == "" {
			return apperr.Validation(op, "git URL is required for git source")
		}
	default:
		return apperr.Validation(op, "source type is required")
	}
	if req.Type == model.TypeStateful && req.Config.Replicas > 1 {
		return apperr.Validation(op, "stateful applications cannot have more than 1 replica")
	}
	return nil
}

func (s *Service) ensureUniqueName(ctx context.Context, op, workspaceID, projectID, name string) error {
	_, err := s.store.GetApplicationByName(ctx, workspaceID, projectID, name)
	switch {
	case err == nil:
		return duplicateName(op, name, projectID)
	case apperr.IsNotFound(err):
		return nil
	default:
		return apperr.Dependency(op, "failed to check application name", err)
	}
}

func duplicateName(op, name, projectID string) error {
	return apperr.Validation(op, "application %s already exists in project %s", name, projectID)
}

// createErr maps a lost insert race on the unique name to the same error
// ensureUniqueName returns.
func createErr(op string, app *model.Application, err error) error {
	if apperr.Is(err, apperr.KindConflict) {
		return duplicateName(op, app.Name, app.ProjectID)
	}
	return storeErr(op, "failed to create application", err)
}

func newApplication(workspaceID string, req *model.CreateApplicationRequest) *model.Application {
	now := time.Now()
	app := &model.Application{
		ID:            uuid.NewString(),
		WorkspaceID:   workspaceID,
		ProjectID:     req.ProjectID,
		Name:          req.Name,
		Type:          req.Type,
		Status:        model.StatusPending,
		Source:        req.Source,
		Config:        req.Config,
		Metadata:      req.Metadata,
		CronSchedule:  req.CronSchedule,
		CronCommand:   req.CronCommand,
		CronArgs:      req.CronArgs,
		TemplateAppID: req.TemplateAppID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	app = app.Clone()
	if req.NodePoolID != "" {
		if app.Config.NodeSelector == nil {
			app.Config.NodeSelector = make(map[string]string)
		}
		app.Config.NodeSelector["node-pool"] = req.NodePoolID
	}
	app.Backup = model.BackupBindingFromMetadata(app.Metadata)
	return app
}

func (s *Service) dispatchDeploy(appID string) {
	s.dispatch.Submit("deploy "+appID, func(ctx context.Context) {
		s.reconciler.Deploy(ctx, appID)
	})
}

// Update applies field-level deltas and dispatches the substrate update.
func (s *Service) Update(ctx context.Context, id string, req *model.UpdateApplicationRequest) (*model.Application, error) {
	const op = "update"
	if err := model.Validate(op, req); err != nil {
		return nil, err
	}
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != app.Version {
		return nil, apperr.Conflict(op, "application %s is at version %d, expected %d", id, app.Version, req.ExpectedVersion)
	}
	if !app.Status.CanTransition(model.StatusUpdating) {
		return nil, apperr.Precondition(op, "cannot update application in %s status", app.Status)
	}
	if req.Replicas != nil && app.Type == model.TypeStateful && *req.Replicas > 1 {
		return nil, apperr.Validation(op, "stateful applications cannot have more than 1 replica")
	}

	delta := applyDelta(app, req)
	app.Status = model.StatusUpdating
	if err := s.store.UpdateApplication(ctx, app); err != nil {
		return nil, storeErr(op, "failed to update application", err)
	}
	s.events.record(ctx, app, model.EventUpdateStarted, "Update started", "")

	s.dispatch.Submit("update "+app.ID, func(ctx context.Context) {
		s.reconciler.Update(ctx, app.ID, delta)
	})
	return app, nil
}

func applyDelta(app *model.Application, req *model.UpdateApplicationRequest) UpdateDelta {
	if req.Replicas != nil {
		app.Config.Replicas = *req.Replicas
	}
	delta := UpdateDelta{}
	if req.Image != "" {
		app.Source.Image = req.Image
		delta.Image = req.Image
	}
	if len(req.EnvVars) > 0 {
		if app.Config.EnvVars == nil {
			app.Config.EnvVars = make(map[string]string, len(req.EnvVars))
		}
		for k, v := range req.EnvVars {
			app.Config.EnvVars[k] = v
		}
		delta.EnvVars = true
	}
	if req.Resources != nil {
		app.Config.Resources = *req.Resources
		delta.Resources = true
	}
	if req.NetworkConfig != nil {
		nc := *req.NetworkConfig
		app.Config.NetworkConfig = &nc
		delta.Network = true
	}
	return delta
}

// Delete removes substrate resources best-effort, then the record.
func (s *Service) Delete(ctx context.Context, id string) error {
	const op = "delete"
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return err
	}
	if !app.Status.CanTransition(model.StatusDeleting) {
		return apperr.Precondition(op, "cannot delete application in %s status", app.Status)
	}
	s.events.record(ctx, app, model.EventDeletionStarted, "Deletion started", "")
	if err := s.transition(ctx, op, app, model.StatusDeleting); err != nil {
		return err
	}

	s.teardown(ctx, app)

	if err := s.store.DeleteApplication(ctx, id); err != nil && !apperr.IsNotFound(err) {
		return apperr.Dependency(op, "failed to delete application", err)
	}
	return nil
}

// teardown deletes everything the reconciler may have created. Every step
// runs regardless of earlier failures.
func (s *Service) teardown(ctx context.Context, app *model.Application) {
	logf := log.WithFields(map[string]any{"application_id": app.ID}).Warnf
	ns, err := s.projects.Namespace(ctx, app.WorkspaceID, app.ProjectID)
	if err != nil {
		logf("skipping substrate cleanup, namespace lookup failed: %v", err)
		return
	}

	var steps []func() error
	switch app.Type {
	case model.TypeStateless:
		steps = append(steps, func() error { return s.kube.DeleteDeployment(ctx, ns, app.Name) })
	case model.TypeStateful:
		steps = append(steps,
			func() error { return s.kube.DeleteStatefulSet(ctx, ns, app.Name) },
			func() error { return s.kube.DeletePVC(ctx, ns, dataClaimName(app)) },
		)
	case model.TypeCronJob:
		steps = append(steps, func() error { return s.kube.DeleteCronJob(ctx, ns, app.Name) })
	case model.TypeFunction:
		steps = append(steps, func() error { return s.kube.DeleteServerlessService(ctx, ns, app.Name) })
	}
	if app.Type != model.TypeCronJob && app.Type != model.TypeFunction {
		steps = append(steps,
			func() error { return s.kube.DeleteService(ctx, ns, app.Name) },
			func() error { return s.kube.DeleteIngress(ctx, ns, app.Name) },
		)
	}
	for _, step := range steps {
		if err := step(); err != nil {
			logf("substrate cleanup failed: %v", err)
		}
	}
}

// Start re-deploys a stopped application at its persisted replica count.
func (s *Service) Start(ctx context.Context, id string) (*model.Application, error) {
	const op = "start"
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if app.Status != model.StatusStopped {
		return nil, apperr.Precondition(op, "application must be stopped to start, current status %s", app.Status)
	}
	if err := s.transition(ctx, op, app, model.StatusDeploying); err != nil {
		return nil, err
	}
	s.events.record(ctx, app, model.EventDeploymentStarted, "Starting application", "")
	s.dispatch.Submit("resume "+app.ID, func(ctx context.Context) {
		s.reconciler.Resume(ctx, app.ID)
	})
	return app, nil
}

// Stop scales the workload to zero. config.replicas is kept so Start can
// restore it.
func (s *Service) Stop(ctx context.Context, id string) (*model.Application, error) {
	const op = "stop"
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if app.Type != model.TypeStateless && app.Type != model.TypeStateful {
		return nil, apperr.Precondition(op, "stop is not supported for %s applications", app.Type)
	}
	if !app.Status.CanTransition(model.StatusStopping) {
		return nil, apperr.Precondition(op, "cannot stop application in %s status", app.Status)
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, op, app, model.StatusStopping); err != nil {
		return nil, err
	}

	if err := scaleWorkload(ctx, s.kube, ns, app, 0); err != nil {
		s.events.record(ctx, app, model.EventStopFailed, "Failed to stop application", err.Error())
		if terr := s.transition(ctx, op, app, model.StatusError); terr != nil {
			log.WithFields(map[string]any{"application_id": app.ID}).Errorf("failed to mark application as error: %v", terr)
		}
		return nil, apperr.Dependency(op, "failed to stop application", err)
	}
	if err := s.transition(ctx, op, app, model.StatusStopped); err != nil {
		return nil, err
	}
	s.events.record(ctx, app, model.EventStopCompleted, "Application stopped", "")
	return app, nil
}

func scaleWorkload(ctx context.Context, kube SubstrateGateway, ns string, app *model.Application, replicas int) error {
	if app.Type == model.TypeStateful {
		return kube.ScaleStatefulSet(ctx, ns, app.Name, replicas)
	}
	return kube.ScaleDeployment(ctx, ns, app.Name, replicas)
}

// Restart deletes each pod in turn so its controller recreates it. The
// first failure stops the remaining restarts.
func (s *Service) Restart(ctx context.Context, id string) error {
	const op = "restart"
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return err
	}
	if app.Status != model.StatusRunning {
		return apperr.Precondition(op, "application must be running to restart, current status %s", app.Status)
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return err
	}
	pods, err := s.kube.ListPods(ctx, ns, workloadLabels(app))
	if err != nil {
		return apperr.Dependency(op, "failed to list pods", err)
	}
	for _, p := range pods {
		if err := s.kube.RestartPod(ctx, ns, p.Name); err != nil {
			return apperr.Dependency(op, fmt.Sprintf("failed to restart pod %s", p.Name), err)
		}
	}
	s.events.record(ctx, app, model.EventRestartCompleted, fmt.Sprintf("Restarted %d pods", len(pods)), "")
	return nil
}

// Scale validates the replica count before touching the store, then
// delegates to Update.
func (s *Service) Scale(ctx context.Context, id string, replicas int) (*model.Application, error) {
	const op = "scale"
	if replicas < 0 {
		return nil, apperr.Validation(op, "replicas must be non-negative")
	}
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if app.Type == model.TypeStateful && replicas > 1 {
		return nil, apperr.Validation(op, "stateful applications cannot have more than 1 replica")
	}
	return s.Update(ctx, id, &model.UpdateApplicationRequest{Replicas: &replicas})
}

func (s *Service) UpdateNetworkConfig(ctx context.Context, id string, cfg *model.NetworkConfig) (*model.Application, error) {
	if cfg == nil {
		return nil, apperr.Validation("update network", "network config is required")
	}
	return s.Update(ctx, id, &model.UpdateApplicationRequest{NetworkConfig: cfg})
}

// UpdateNodeAffinity stores a new node selector. It takes effect on the
// next deployment.
func (s *Service) UpdateNodeAffinity(ctx context.Context, id string, selector map[string]string) (*model.Application, error) {
	const op = "update node affinity"
	if _, err := s.getApplication(ctx, op, id); err != nil {
		return nil, err
	}
	app, err := mutate(ctx, s.store, id, func(app *model.Application) error {
		app.Config.NodeSelector = selector
		return nil
	})
	if err != nil {
		return nil, storeErr(op, "failed to update application", err)
	}
	return app, nil
}

// MigrateToNode pins the workload to a single node and rolls it.
func (s *Service) MigrateToNode(ctx context.Context, id, nodeID string) (*model.Application, error) {
	const op = "migrate"
	if nodeID == "" {
		return nil, apperr.Validation(op, "node id is required")
	}
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if app.Type != model.TypeStateless && app.Type != model.TypeStateful {
		return nil, apperr.Precondition(op, "migration is not supported for %s applications", app.Type)
	}
	if !app.Status.CanTransition(model.StatusUpdating) {
		return nil, apperr.Precondition(op, "cannot migrate application in %s status", app.Status)
	}
	app.Config.NodeSelector = map[string]string{"node-id": nodeID}
	app.Status = model.StatusUpdating
	if err := s.store.UpdateApplication(ctx, app); err != nil {
		return nil, storeErr(op, "failed to update application", err)
	}
	s.events.record(ctx, app, model.EventUpdateStarted, fmt.Sprintf("Migrating to node %s", nodeID), "")
	delta := UpdateDelta{NodeSelector: true}
	s.dispatch.Submit("migrate "+app.ID, func(ctx context.Context) {
		s.reconciler.Update(ctx, app.ID, delta)
	})
	return app, nil
}

func (s *Service) GetEndpoints(ctx context.Context, id string) ([]model.Endpoint, error) {
	const op = "endpoints"
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return nil, err
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return nil, err
	}
	eps, err := s.kube.GetServiceEndpoints(ctx, ns, app.Name)
	if err != nil {
		if apperr.IsNotFound(err) {
			return app.Endpoints, nil
		}
		return nil, apperr.Dependency(op, "failed to get endpoints", err)
	}
	return eps, nil
}

func (s *Service) ListPods(ctx context.Context, id string) ([]model.Pod, error) {
	const op = "list pods"
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return nil, err
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return nil, err
	}
	pods, err := s.kube.ListPods(ctx, ns, workloadLabels(app))
	if err != nil {
		return nil, apperr.Dependency(op, "failed to list pods", err)
	}
	return pods, nil
}

func (s *Service) RestartPod(ctx context.Context, id, podName string) error {
	const op = "restart pod"
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return err
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return err
	}
	return apperr.Dependency(op, fmt.Sprintf("failed to restart pod %s", podName), s.kube.RestartPod(ctx, ns, podName))
}

func logOptions(q *model.LogQuery) model.LogOptions {
	return model.LogOptions{
		Container: q.Container,
		Since:     q.Since,
		TailLines: q.Limit,
		Follow:    q.Follow,
		Previous:  q.Previous,
	}
}

func (s *Service) GetPodLogs(ctx context.Context, q *model.LogQuery) ([]model.LogEntry, error) {
	const op = "pod logs"
	if q.PodName == "" {
		return nil, apperr.Validation(op, "pod name is required")
	}
	app, err := s.getApplication(ctx, op, q.ApplicationID)
	if err != nil {
		return nil, err
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return nil, err
	}
	entries, err := s.kube.GetPodLogs(ctx, ns, q.PodName, logOptions(q))
	if err != nil {
		return nil, apperr.Dependency(op, "failed to get pod logs", err)
	}
	return entries, nil
}

// StreamPodLogs follows a pod's log. The caller closes the reader.
func (s *Service) StreamPodLogs(ctx context.Context, q *model.LogQuery) (io.ReadCloser, error) {
	const op = "stream logs"
	if q.PodName == "" {
		return nil, apperr.Validation(op, "pod name is required")
	}
	app, err := s.getApplication(ctx, op, q.ApplicationID)
	if err != nil {
		return nil, err
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return nil, err
	}
	opts := logOptions(q)
	opts.Follow = true
	rc, err := s.kube.StreamPodLogs(ctx, ns, q.PodName, opts)
	if err != nil {
		return nil, apperr.Dependency(op, "failed to stream pod logs", err)
	}
	return rc, nil
}

// GetMetrics reports per-pod usage plus totals and averages across pods.
func (s *Service) GetMetrics(ctx context.Context, id string) (*model.ApplicationMetrics, error) {
	const op = "metrics"
	app, err := s.getApplication(ctx, op, id)
	if err != nil {
		return nil, err
	}
	ns, err := s.namespace(ctx, op, app)
	if err != nil {
		return nil, err
	}
	pods, err := s.kube.ListPods(ctx, ns, workloadLabels(app))
	if err != nil {
		return nil, apperr.Dependency(op, "failed to list pods", err)
	}
	names := make([]string, 0, len(pods))
	for _, p := range pods {
		names = append(names, p.Name)
	}
	pm, err := s.kube.GetPodMetrics(ctx, ns, names)
	if err != nil {
		return nil, apperr.Dependency(op, "failed to get pod metrics", err)
	}

	out := &model.ApplicationMetrics{ApplicationID: app.ID, Timestamp: s.now(), PodMetrics: pm}
	if out.PodMetrics == nil {
		out.PodMetrics = []model.PodMetrics{}
	}
	for _, m := range pm {
		out.AggregateUsage.TotalCPU += m.CPUUsage
		out.AggregateUsage.TotalMemory += m.MemoryUsage
	}
	if n := float64(len(pm)); n > 0 {
		out.AggregateUsage.AverageCPU = out.AggregateUsage.TotalCPU / n
		out.AggregateUsage.AverageMemory = out.AggregateUsage.TotalMemory / n
	}
	return out, nil
}
