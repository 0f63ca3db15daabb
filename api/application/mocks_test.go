package application

import (
	"context"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"

	"appcore/api/model"
)

type mockKube struct{ mock.Mock }

func (m *mockKube) CreateDeployment(ctx context.Context, ns string, spec model.DeploymentSpec) error {
	return m.Called(ctx, ns, spec).Error(0)
}
func (m *mockKube) UpdateDeployment(ctx context.Context, ns, name string, upd model.WorkloadUpdate) error {
	return m.Called(ctx, ns, name, upd).Error(0)
}
func (m *mockKube) ScaleDeployment(ctx context.Context, ns, name string, replicas int) error {
	return m.Called(ctx, ns, name, replicas).Error(0)
}
func (m *mockKube) DeleteDeployment(ctx context.Context, ns, name string) error {
	return m.Called(ctx, ns, name).Error(0)
}
func (m *mockKube) CreateStatefulSet(ctx context.Context, ns string, spec model.StatefulSetSpec) error {
	return m.Called(ctx, ns, spec).Error(0)
}
func (m *mockKube) UpdateStatefulSet(ctx context.Context, ns, name string, upd model.WorkloadUpdate) error {
	return m.Called(ctx, ns, name, upd).Error(0)
}
func (m *mockKube) ScaleStatefulSet(ctx context.Context, ns, name string, replicas int) error {
	return m.Called(ctx, ns, name, replicas).Error(0)
}
func (m *mockKube) DeleteStatefulSet(ctx context.Context, ns, name string) error {
	return m.Called(ctx, ns, name).Error(0)
}
func (m *mockKube) CreatePVC(ctx context.Context, ns string, spec model.PVCSpec) error {
	return m.Called(ctx, ns, spec).Error(0)
}
func (m *mockKube) DeletePVC(ctx context.Context, ns, name string) error {
	return m.Called(ctx, ns, name).Error(0)
}
func (m *mockKube) CreateService(ctx context.Context, ns string, spec model.ServiceSpec) error {
	return m.Called(ctx, ns, spec).Error(0)
}
func (m *mockKube) DeleteService(ctx context.Context, ns, name string) error {
	return m.Called(ctx, ns, name).Error(0)
}
func (m *mockKube) GetServiceEndpoints(ctx context.Context, ns, name string) ([]model.Endpoint, error) {
	args := m.Called(ctx, ns, name)
	eps, _ := args.Get(0).([]model.Endpoint)
	return eps, args.Error(1)
}
func (m *mockKube) CreateIngress(ctx context.Context, ns string, spec model.IngressSpec) error {
	return m.Called(ctx, ns, spec).Error(0)
}
func (m *mockKube) UpdateIngress(ctx context.Context, ns string, spec model.IngressSpec) error {
	return m.Called(ctx, ns, spec).Error(0)
}
func (m *mockKube) DeleteIngress(ctx context.Context, ns, name string) error {
	return m.Called(ctx, ns, name).Error(0)
}
func (m *mockKube) ListPods(ctx context.Context, ns string, selector map[string]string) ([]model.Pod, error) {
	args := m.Called(ctx, ns, selector)
	pods, _ := args.Get(0).([]model.Pod)
	return pods, args.Error(1)
}
func (m *mockKube) RestartPod(ctx context.Context, ns, pod string) error {
	return m.Called(ctx, ns, pod).Error(0)
}
func (m *mockKube) GetPodLogs(ctx context.Context, ns, pod string, opts model.LogOptions) ([]model.LogEntry, error) {
	args := m.Called(ctx, ns, pod, opts)
	entries, _ := args.Get(0).([]model.LogEntry)
	return entries, args.Error(1)
}
func (m *mockKube) StreamPodLogs(ctx context.Context, ns, pod string, opts model.LogOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, ns, pod, opts)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}
func (m *mockKube) GetPodMetrics(ctx context.Context, ns string, pods []string) ([]model.PodMetrics, error) {
	args := m.Called(ctx, ns, pods)
	pm, _ := args.Get(0).([]model.PodMetrics)
	return pm, args.Error(1)
}
func (m *mockKube) CreateCronJob(ctx context.Context, ns string, spec model.CronJobSpec) error {
	return m.Called(ctx, ns, spec).Error(0)
}
func (m *mockKube) UpdateCronJob(ctx context.Context, ns, name string, spec model.CronJobSpec) error {
	return m.Called(ctx, ns, name, spec).Error(0)
}
func (m *mockKube) UpdateCronJobSchedule(ctx context.Context, ns, name, schedule string) error {
	return m.Called(ctx, ns, name, schedule).Error(0)
}
func (m *mockKube) DeleteCronJob(ctx context.Context, ns, name string) error {
	return m.Called(ctx, ns, name).Error(0)
}
func (m *mockKube) GetCronJobStatus(ctx context.Context, ns, name string) (*model.CronJobStatus, error) {
	args := m.Called(ctx, ns, name)
	st, _ := args.Get(0).(*model.CronJobStatus)
	return st, args.Error(1)
}
func (m *mockKube) TriggerCronJob(ctx context.Context, ns, name, jobName string) error {
	return m.Called(ctx, ns, name, jobName).Error(0)
}
func (m *mockKube) GetJobState(ctx context.Context, ns, jobName string) (*model.JobState, error) {
	args := m.Called(ctx, ns, jobName)
	st, _ := args.Get(0).(*model.JobState)
	return st, args.Error(1)
}
func (m *mockKube) ListCronJobRuns(ctx context.Context, ns, name string) ([]model.JobState, error) {
	args := m.Called(ctx, ns, name)
	runs, _ := args.Get(0).([]model.JobState)
	return runs, args.Error(1)
}
func (m *mockKube) CreateServerlessService(ctx context.Context, ns string, spec model.ServerlessSpec) error {
	return m.Called(ctx, ns, spec).Error(0)
}
func (m *mockKube) UpdateServerlessService(ctx context.Context, ns string, spec model.ServerlessSpec) error {
	return m.Called(ctx, ns, spec).Error(0)
}
func (m *mockKube) DeleteServerlessService(ctx context.Context, ns, name string) error {
	return m.Called(ctx, ns, name).Error(0)
}
func (m *mockKube) GetServerlessStatus(ctx context.Context, ns, name string) (*model.ServerlessStatus, error) {
	args := m.Called(ctx, ns, name)
	st, _ := args.Get(0).(*model.ServerlessStatus)
	return st, args.Error(1)
}
func (m *mockKube) GetServerlessURL(ctx context.Context, ns, name string) (string, error) {
	args := m.Called(ctx, ns, name)
	return args.String(0), args.Error(1)
}

type mockBackups struct{ mock.Mock }

func (m *mockBackups) CreateBackupPolicy(ctx context.Context, appID string, req *model.CreateBackupPolicyRequest) (*model.BackupPolicy, error) {
	args := m.Called(ctx, appID, req)
	p, _ := args.Get(0).(*model.BackupPolicy)
	return p, args.Error(1)
}
func (m *mockBackups) TriggerManualBackup(ctx context.Context, req *model.TriggerBackupRequest) (*model.BackupExecution, error) {
	args := m.Called(ctx, req)
	e, _ := args.Get(0).(*model.BackupExecution)
	return e, args.Error(1)
}
func (m *mockBackups) GetBackupExecutionByCronJobID(ctx context.Context, id string) (*model.BackupExecution, error) {
	args := m.Called(ctx, id)
	e, _ := args.Get(0).(*model.BackupExecution)
	return e, args.Error(1)
}
func (m *mockBackups) UpdateBackupExecutionStatus(ctx context.Context, id string, status model.BackupStatus, msg string) error {
	return m.Called(ctx, id, status, msg).Error(0)
}

type mockBuilder struct{ mock.Mock }

func (m *mockBuilder) Build(ctx context.Context, app *model.Application, v *model.FunctionVersion) (string, string, error) {
	args := m.Called(ctx, app, v)
	return args.String(0), args.String(1), args.Error(2)
}

type mockInvoker struct{ mock.Mock }

func (m *mockInvoker) Invoke(ctx context.Context, url string, req *model.InvokeRequest) (*model.InvokeResponse, error) {
	args := m.Called(ctx, url, req)
	r, _ := args.Get(0).(*model.InvokeResponse)
	return r, args.Error(1)
}

type staticProjects struct{ ns string }

func (p staticProjects) Namespace(context.Context, string, string) (string, error) {
	return p.ns, nil
}

type publishRecorder struct {
	mu     sync.Mutex
	events []*model.ApplicationEvent
}

func (r *publishRecorder) Publish(_ context.Context, _ string, ev *model.ApplicationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *publishRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
