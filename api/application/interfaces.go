package application

import (
	"context"
	"io"

	"appcore/api/model"
	"appcore/api/worker"
)

// Store persists applications and their execution history. Implemented by
// store.DB and store.Memory.
type Store interface {
	CreateApplication(ctx context.Context, app *model.Application) error
	GetApplication(ctx context.Context, id string) (*model.Application, error)
	GetApplicationByName(ctx context.Context, workspaceID, projectID, name string) (*model.Application, error)
	ListApplications(ctx context.Context, workspaceID, projectID string) ([]*model.Application, error)
	ListApplicationsByType(ctx context.Context, typ model.ApplicationType) ([]*model.Application, error)
	UpdateApplication(ctx context.Context, app *model.Application) error
	UpdateCronSchedule(ctx context.Context, id, schedule string) error
	DeleteApplication(ctx context.Context, id string) error

	CreateEvent(ctx context.Context, ev *model.ApplicationEvent) error
	ListEvents(ctx context.Context, appID string, limit int) ([]*model.ApplicationEvent, error)

	CreateCronJobExecution(ctx context.Context, exec *model.CronJobExecution) error
	GetCronJobExecution(ctx context.Context, id string) (*model.CronJobExecution, error)
	GetCronJobExecutionByJobName(ctx context.Context, appID, jobName string) (*model.CronJobExecution, error)
	CompleteCronJobExecution(ctx context.Context, exec *model.CronJobExecution) error
	ListCronJobExecutions(ctx context.Context, appID string, limit, offset int) ([]*model.CronJobExecution, int, error)
	ListRunningCronJobExecutions(ctx context.Context) ([]*model.CronJobExecution, error)

	CreateFunctionVersion(ctx context.Context, v *model.FunctionVersion) error
	GetFunctionVersion(ctx context.Context, id string) (*model.FunctionVersion, error)
	GetActiveFunctionVersion(ctx context.Context, appID string) (*model.FunctionVersion, error)
	ListFunctionVersions(ctx context.Context, appID string) ([]*model.FunctionVersion, error)
	UpdateFunctionVersion(ctx context.Context, v *model.FunctionVersion) error
	SetActiveFunctionVersion(ctx context.Context, appID, versionID string) error

	CreateFunctionInvocation(ctx context.Context, inv *model.FunctionInvocation) error
	UpdateFunctionInvocation(ctx context.Context, inv *model.FunctionInvocation) error
	ListFunctionInvocations(ctx context.Context, appID string, limit, offset int) ([]*model.FunctionInvocation, int, error)

	GetFunctionEvent(ctx context.Context, id string) (*model.FunctionEvent, error)
	UpdateFunctionEvent(ctx context.Context, ev *model.FunctionEvent) error
	ListFunctionEvents(ctx context.Context, appID string, limit int) ([]*model.FunctionEvent, error)
	ListPendingFunctionEvents(ctx context.Context, limit int) ([]*model.FunctionEvent, error)
}

// SubstrateGateway drives the container orchestrator. Implemented by k8s.Client.
type SubstrateGateway interface {
	CreateDeployment(ctx context.Context, namespace string, spec model.DeploymentSpec) error
	UpdateDeployment(ctx context.Context, namespace, name string, upd model.WorkloadUpdate) error
	ScaleDeployment(ctx context.Context, namespace, name string, replicas int) error
	DeleteDeployment(ctx context.Context, namespace, name string) error

	CreateStatefulSet(ctx context.Context, namespace string, spec model.StatefulSetSpec) error
	UpdateStatefulSet(ctx context.Context, namespace, name string, upd model.WorkloadUpdate) error
	ScaleStatefulSet(ctx context.Context, namespace, name string, replicas int) error
	DeleteStatefulSet(ctx context.Context, namespace, name string) error

	CreatePVC(ctx context.Context, namespace string, spec model.PVCSpec) error
	DeletePVC(ctx context.Context, namespace, name string) error

	CreateService(ctx context.Context, namespace string, spec model.ServiceSpec) error
	DeleteService(ctx context.Context, namespace, name string) error
	GetServiceEndpoints(ctx context.Context, namespace, name string) ([]model.Endpoint, error)

	CreateIngress(ctx context.Context, namespace string, spec model.IngressSpec) error
	UpdateIngress(ctx context.Context, namespace string, spec model.IngressSpec) error
	DeleteIngress(ctx context.Context, namespace, name string) error

	ListPods(ctx context.Context, namespace string, selector map[string]string) ([]model.Pod, error)
	RestartPod(ctx context.Context, namespace, podName string) error
	GetPodLogs(ctx context.Context, namespace, podName string, opts model.LogOptions) ([]model.LogEntry, error)
	StreamPodLogs(ctx context.Context, namespace, podName string, opts model.LogOptions) (io.ReadCloser, error)
	GetPodMetrics(ctx context.Context, namespace string, podNames []string) ([]model.PodMetrics, error)

	CreateCronJob(ctx context.Context, namespace string, spec model.CronJobSpec) error
	UpdateCronJob(ctx context.Context, namespace, name string, spec model.CronJobSpec) error
	UpdateCronJobSchedule(ctx context.Context, namespace, name, schedule string) error
	DeleteCronJob(ctx context.Context, namespace, name string) error
	GetCronJobStatus(ctx context.Context, namespace, name string) (*model.CronJobStatus, error)
	TriggerCronJob(ctx context.Context, namespace, name, jobName string) error
	GetJobState(ctx context.Context, namespace, jobName string) (*model.JobState, error)
	ListCronJobRuns(ctx context.Context, namespace, name string) ([]model.JobState, error)

	CreateServerlessService(ctx context.Context, namespace string, spec model.ServerlessSpec) error
	UpdateServerlessService(ctx context.Context, namespace string, spec model.ServerlessSpec) error
	DeleteServerlessService(ctx context.Context, namespace, name string) error
	GetServerlessStatus(ctx context.Context, namespace, name string) (*model.ServerlessStatus, error)
	GetServerlessURL(ctx context.Context, namespace, name string) (string, error)
}

// BackupService owns backup policies and executions. Implemented by
// backup.Service.
type BackupService interface {
	CreateBackupPolicy(ctx context.Context, appID string, req *model.CreateBackupPolicyRequest) (*model.BackupPolicy, error)
	TriggerManualBackup(ctx context.Context, req *model.TriggerBackupRequest) (*model.BackupExecution, error)
	GetBackupExecutionByCronJobID(ctx context.Context, cronExecID string) (*model.BackupExecution, error)
	UpdateBackupExecutionStatus(ctx context.Context, id string, status model.BackupStatus, errMsg string) error
}

// ProjectResolver maps a workspace/project pair to a substrate namespace.
type ProjectResolver interface {
	Namespace(ctx context.Context, workspaceID, projectID string) (string, error)
}

// Dispatcher runs detached work. worker.Pool and worker.Inline satisfy it.
type Dispatcher interface {
	Submit(name string, fn worker.Task)
}

// Builder turns a function version's source into a container image.
type Builder interface {
	Build(ctx context.Context, app *model.Application, v *model.FunctionVersion) (imageURI, logs string, err error)
}

// Invoker calls a deployed function over HTTP.
type Invoker interface {
	Invoke(ctx context.Context, baseURL string, req *model.InvokeRequest) (*model.InvokeResponse, error)
}
