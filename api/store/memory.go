package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"appcore/api/apperr"
	"appcore/api/model"
)

// Memory is an in-process store with the same semantics as DB. It backs the
// "memory" store mode and the service tests.
type Memory struct {
	mu          sync.RWMutex
	apps        map[string]*model.Application
	events      map[string][]*model.ApplicationEvent
	cronExecs   map[string]*model.CronJobExecution
	versions    map[string]*model.FunctionVersion
	invocations map[string]*model.FunctionInvocation
	fnEvents    map[string]*model.FunctionEvent
	policies    map[string]*model.BackupPolicy
	backupExecs map[string]*model.BackupExecution
}

func NewMemory() *Memory {
	return &Memory{
		apps:        make(map[string]*model.Application),
		events:      make(map[string][]*model.ApplicationEvent),
		cronExecs:   make(map[string]*model.CronJobExecution),
		versions:    make(map[string]*model.FunctionVersion),
		invocations: make(map[string]*model.FunctionInvocation),
		fnEvents:    make(map[string]*model.FunctionEvent),
		policies:    make(map[string]*model.BackupPolicy),
		backupExecs: make(map[string]*model.BackupExecution),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

// --- Applications ---

func (m *Memory) CreateApplication(_ context.Context, app *model.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.apps {
		if a.WorkspaceID == app.WorkspaceID && a.ProjectID == app.ProjectID && a.Name == app.Name {
			return apperr.Conflict("create", "application %q already exists in project %s", app.Name, app.ProjectID)
		}
	}
	app.SyncBackupMetadata()
	if app.Version == 0 {
		app.Version = 1
	}
	m.apps[app.ID] = app.Clone()
	return nil
}

func (m *Memory) GetApplication(_ context.Context, id string) (*model.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.apps[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) GetApplicationByName(_ context.Context, workspaceID, projectID, name string) (*model.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.apps {
		if a.WorkspaceID == workspaceID && a.ProjectID == projectID && a.Name == name {
			return a.Clone(), nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (m *Memory) ListApplications(_ context.Context, workspaceID, projectID string) ([]*model.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Application
	for _, a := range m.apps {
		if a.WorkspaceID != workspaceID || (projectID != "" && a.ProjectID != projectID) {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListApplicationsByType(_ context.Context, typ model.ApplicationType) ([]*model.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Application
	for _, a := range m.apps {
		if a.Type == typ {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateApplication(_ context.Context, app *model.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.apps[app.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	if cur.Version != app.Version {
		return apperr.Conflict("update", "application %s was modified concurrently (version %d, stored %d)", app.ID, app.Version, cur.Version)
	}
	app.SyncBackupMetadata()
	app.UpdatedAt = time.Now()
	app.Version++
	m.apps[app.ID] = app.Clone()
	return nil
}

func (m *Memory) UpdateCronSchedule(_ context.Context, id, schedule string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		return apperr.ErrNotFound
	}
	a.CronSchedule = schedule
	a.UpdatedAt = time.Now()
	a.Version++
	return nil
}

func (m *Memory) DeleteApplication(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.apps, id)
	return nil
}

func (m *Memory) CreateEvent(_ context.Context, ev *model.ApplicationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *ev
	m.events[ev.ApplicationID] = append(m.events[ev.ApplicationID], &e)
	return nil
}

func (m *Memory) ListEvents(_ context.Context, appID string, limit int) ([]*model.ApplicationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	src := m.events[appID]
	out := make([]*model.ApplicationEvent, 0, len(src))
	for i := len(src) - 1; i >= 0 && len(out) < limit; i-- {
		e := *src[i]
		out = append(out, &e)
	}
	return out, nil
}

// --- CronJob executions ---

func (m *Memory) CreateCronJobExecution(_ context.Context, exec *model.CronJobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.cronExecs {
		if e.ApplicationID == exec.ApplicationID && e.JobName == exec.JobName {
			return apperr.Conflict("create execution", "job %s is already recorded", exec.JobName)
		}
	}
	now := time.Now()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	exec.UpdatedAt = now
	e := *exec
	m.cronExecs[exec.ID] = &e
	return nil
}

func (m *Memory) GetCronJobExecution(_ context.Context, id string) (*model.CronJobExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.cronExecs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (m *Memory) GetCronJobExecutionByJobName(_ context.Context, appID, jobName string) (*model.CronJobExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.cronExecs {
		if e.ApplicationID == appID && e.JobName == jobName {
			c := *e
			return &c, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (m *Memory) CompleteCronJobExecution(_ context.Context, exec *model.CronJobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.cronExecs[exec.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	if cur.Status != model.CronRunning {
		return apperr.Conflict("complete execution", "execution %s is already %s", exec.ID, cur.Status)
	}
	exec.UpdatedAt = time.Now()
	e := *exec
	m.cronExecs[exec.ID] = &e
	return nil
}

func (m *Memory) ListCronJobExecutions(_ context.Context, appID string, limit, offset int) ([]*model.CronJobExecution, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var all []*model.CronJobExecution
	for _, e := range m.cronExecs {
		if e.ApplicationID == appID {
			c := *e
			all = append(all, &c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	return page(all, limit, offset), len(all), nil
}

func (m *Memory) ListRunningCronJobExecutions(context.Context) ([]*model.CronJobExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.CronJobExecution
	for _, e := range m.cronExecs {
		if e.Status == model.CronRunning {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// --- Function versions ---

func (m *Memory) CreateFunctionVersion(_ context.Context, v *model.FunctionVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.versions {
		if cur.ApplicationID == v.ApplicationID && cur.VersionNumber == v.VersionNumber {
			return apperr.Conflict("create version", "version %d already exists for application %s", v.VersionNumber, v.ApplicationID)
		}
	}
	c := *v
	m.versions[v.ID] = &c
	return nil
}

func (m *Memory) GetFunctionVersion(_ context.Context, id string) (*model.FunctionVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *v
	return &c, nil
}

func (m *Memory) GetActiveFunctionVersion(_ context.Context, appID string) (*model.FunctionVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions {
		if v.ApplicationID == appID && v.IsActive {
			c := *v
			return &c, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (m *Memory) ListFunctionVersions(_ context.Context, appID string) ([]*model.FunctionVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.FunctionVersion
	for _, v := range m.versions {
		if v.ApplicationID == appID {
			c := *v
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	return out, nil
}

func (m *Memory) UpdateFunctionVersion(_ context.Context, v *model.FunctionVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.versions[v.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	cur.BuildStatus = v.BuildStatus
	cur.BuildLogs = v.BuildLogs
	cur.ImageURI = v.ImageURI
	cur.DeployedAt = v.DeployedAt
	return nil
}

func (m *Memory) SetActiveFunctionVersion(_ context.Context, appID, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.versions[versionID]
	if !ok || target.ApplicationID != appID {
		return apperr.ErrNotFound
	}
	for _, v := range m.versions {
		if v.ApplicationID == appID {
			v.IsActive = false
		}
	}
	target.IsActive = true
	if target.DeployedAt == nil {
		now := time.Now()
		target.DeployedAt = &now
	}
	return nil
}

// --- Function invocations ---

func (m *Memory) CreateFunctionInvocation(_ context.Context, inv *model.FunctionInvocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *inv
	m.invocations[inv.ID] = &c
	return nil
}

func (m *Memory) GetFunctionInvocation(_ context.Context, id string) (*model.FunctionInvocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invocations[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *inv
	return &c, nil
}

func (m *Memory) UpdateFunctionInvocation(_ context.Context, inv *model.FunctionInvocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invocations[inv.ID]; !ok {
		return apperr.ErrNotFound
	}
	c := *inv
	m.invocations[inv.ID] = &c
	return nil
}

func (m *Memory) ListFunctionInvocations(_ context.Context, appID string, limit, offset int) ([]*model.FunctionInvocation, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var all []*model.FunctionInvocation
	for _, inv := range m.invocations {
		if inv.ApplicationID == appID {
			c := *inv
			all = append(all, &c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	return page(all, limit, offset), len(all), nil
}

// --- Function events ---

func (m *Memory) CreateFunctionEvent(_ context.Context, ev *model.FunctionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *ev
	m.fnEvents[ev.ID] = &c
	return nil
}

func (m *Memory) GetFunctionEvent(_ context.Context, id string) (*model.FunctionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.fnEvents[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *ev
	return &c, nil
}

func (m *Memory) UpdateFunctionEvent(_ context.Context, ev *model.FunctionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.fnEvents[ev.ID]; !ok {
		return apperr.ErrNotFound
	}
	c := *ev
	m.fnEvents[ev.ID] = &c
	return nil
}

func (m *Memory) ListFunctionEvents(_ context.Context, appID string, limit int) ([]*model.FunctionEvent, error) {
	return m.pendingEvents(appID, limit), nil
}

func (m *Memory) ListPendingFunctionEvents(_ context.Context, limit int) ([]*model.FunctionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return m.pendingEvents("", limit), nil
}

func (m *Memory) pendingEvents(appID string, limit int) []*model.FunctionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*model.FunctionEvent
	for _, ev := range m.fnEvents {
		if appID != "" && ev.ApplicationID != appID {
			continue
		}
		if ev.ProcessingStatus != model.EventPending && ev.ProcessingStatus != model.EventRetry {
			continue
		}
		c := *ev
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0)
}

// --- Backup ---

func (m *Memory) CreateBackupPolicy(_ context.Context, p *model.BackupPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.policies[p.ID] = &c
	return nil
}

func (m *Memory) GetBackupPolicy(_ context.Context, id string) (*model.BackupPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *Memory) CreateBackupExecution(_ context.Context, e *model.BackupExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	m.backupExecs[e.ID] = &c
	return nil
}

func (m *Memory) GetBackupExecution(_ context.Context, id string) (*model.BackupExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.backupExecs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (m *Memory) GetBackupExecutionByCronJobID(_ context.Context, cronExecID string) (*model.BackupExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *model.BackupExecution
	for _, e := range m.backupExecs {
		if e.CronJobExecutionID != cronExecID {
			continue
		}
		if found == nil || e.StartedAt.After(found.StartedAt) {
			found = e
		}
	}
	if found == nil {
		return nil, apperr.ErrNotFound
	}
	c := *found
	return &c, nil
}

func (m *Memory) UpdateBackupExecution(_ context.Context, e *model.BackupExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.backupExecs[e.ID]; !ok {
		return apperr.ErrNotFound
	}
	c := *e
	m.backupExecs[e.ID] = &c
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
