package k8s

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"appcore/api/apperr"
	"appcore/api/model"
)

const ns = "ws-acme-web"

func newTestClient(objects ...runtime.Object) (*Client, *fake.Clientset) {
	cs := fake.NewSimpleClientset(objects...)
	return NewForClientset(cs, "appcore.io"), cs
}

func TestImagePullPolicy(t *testing.T) {
	tests := []struct {
		image string
		want  corev1.PullPolicy
	}{
		{"myapp", corev1.PullAlways},
		{"myapp:latest", corev1.PullAlways},
		{"myapp:v1.2.3", corev1.PullIfNotPresent},
		{"ghcr.io/user/myapp:v1", corev1.PullIfNotPresent},
		{"localhost:5000/app", corev1.PullAlways},
		{"registry.example.com:5000/app:tag", corev1.PullIfNotPresent},
		{"nginx@sha256:abcd", corev1.PullIfNotPresent},
	}
	for _, tt := range tests {
		t.Run(tt.image, func(t *testing.T) {
			assert.Equal(t, tt.want, imagePullPolicy(tt.image))
		})
	}
}

func TestEnsureNamespaceIdempotent(t *testing.T) {
	c, cs := newTestClient()
	ctx := context.Background()
	require.NoError(t, c.EnsureNamespace(ctx, ns))
	require.NoError(t, c.EnsureNamespace(ctx, ns))

	got, err := cs.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "appcore", got.Labels["managed-by"])
}

func TestDeploymentLifecycle(t *testing.T) {
	c, cs := newTestClient()
	ctx := context.Background()

	err := c.CreateDeployment(ctx, ns, model.DeploymentSpec{
		Name:         "web",
		Replicas:     3,
		Image:        "nginx:1.27",
		Port:         8080,
		EnvVars:      map[string]string{"B": "2", "A": "1"},
		Resources:    model.Resources{CPURequest: "100m", MemoryLimit: "256Mi"},
		NodeSelector: map[string]string{"node-pool": "pool-1"},
		Labels:       map[string]string{"app": "web"},
	})
	require.NoError(t, err)

	dep, err := cs.AppsV1().Deployments(ns).Get(ctx, "web", metav1.GetOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, *dep.Spec.Replicas)
	ctr := dep.Spec.Template.Spec.Containers[0]
	assert.Equal(t, "nginx:1.27", ctr.Image)
	assert.EqualValues(t, 8080, ctr.Ports[0].ContainerPort)
	require.Len(t, ctr.Env, 2)
	assert.Equal(t, "A", ctr.Env[0].Name)
	assert.Equal(t, "100m", ctr.Resources.Requests.Cpu().String())
	assert.Equal(t, "pool-1", dep.Spec.Template.Spec.NodeSelector["node-pool"])
	assert.Equal(t, "web", dep.Spec.Selector.MatchLabels["app"])

	require.NoError(t, c.UpdateDeployment(ctx, ns, "web", model.WorkloadUpdate{Replicas: 5, Image: "nginx:1.28"}))
	dep, _ = cs.AppsV1().Deployments(ns).Get(ctx, "web", metav1.GetOptions{})
	assert.EqualValues(t, 5, *dep.Spec.Replicas)
	assert.Equal(t, "nginx:1.28", dep.Spec.Template.Spec.Containers[0].Image)

	require.NoError(t, c.ScaleDeployment(ctx, ns, "web", 0))
	dep, _ = cs.AppsV1().Deployments(ns).Get(ctx, "web", metav1.GetOptions{})
	assert.EqualValues(t, 0, *dep.Spec.Replicas)

	require.NoError(t, c.DeleteDeployment(ctx, ns, "web"))
	require.NoError(t, c.DeleteDeployment(ctx, ns, "web"), "delete is idempotent")

	err = c.ScaleDeployment(ctx, ns, "web", 1)
	assert.True(t, apperr.IsNotFound(err), "got %v", err)
}

func TestInvalidResourceQuantity(t *testing.T) {
	c, _ := newTestClient()
	err := c.CreateDeployment(context.Background(), ns, model.DeploymentSpec{
		Name:      "web",
		Image:     "nginx",
		Resources: model.Resources{CPULimit: "lots"},
	})
	assert.ErrorContains(t, err, "invalid cpu quantity")
}

func TestStatefulSetMountsClaim(t *testing.T) {
	c, cs := newTestClient()
	ctx := context.Background()

	require.NoError(t, c.CreatePVC(ctx, ns, model.PVCSpec{Name: "db-data", Size: "10Gi", AccessMode: "ReadWriteOnce"}))
	require.NoError(t, c.CreateStatefulSet(ctx, ns, model.StatefulSetSpec{
		Name:            "db",
		Replicas:        1,
		Image:           "postgres:16",
		Port:            5432,
		VolumeClaimSpec: &model.PVCSpec{Name: "db-data", Size: "10Gi"},
		MountPath:       "/var/lib/postgresql/data",
	}))

	sts, err := cs.AppsV1().StatefulSets(ns).Get(ctx, "db", metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, sts.Spec.Template.Spec.Volumes, 1)
	assert.Equal(t, "db-data", sts.Spec.Template.Spec.Volumes[0].PersistentVolumeClaim.ClaimName)
	assert.Equal(t, "/var/lib/postgresql/data", sts.Spec.Template.Spec.Containers[0].VolumeMounts[0].MountPath)

	pvc, err := cs.CoreV1().PersistentVolumeClaims(ns).Get(ctx, "db-data", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "10Gi", pvc.Spec.Resources.Requests.Storage().String())

	require.NoError(t, c.ScaleStatefulSet(ctx, ns, "db", 0))
	require.NoError(t, c.DeleteStatefulSet(ctx, ns, "db"))
	require.NoError(t, c.DeletePVC(ctx, ns, "db-data"))
	require.NoError(t, c.DeletePVC(ctx, ns, "db-data"))
}

func TestServiceEndpointsIncludeIngress(t *testing.T) {
	c, _ := newTestClient()
	ctx := context.Background()

	require.NoError(t, c.CreateService(ctx, ns, model.ServiceSpec{
		Name: "web", Port: 8080, Selector: map[string]string{"app": "web"},
	}))
	require.NoError(t, c.CreateIngress(ctx, ns, model.IngressSpec{
		Name: "web", Host: "web.example.com", Path: "/api", ServiceName: "web", ServicePort: 8080, TLSEnabled: true,
	}))

	eps, err := c.GetServiceEndpoints(ctx, ns, "web")
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, model.Endpoint{Type: "cluster-ip", URL: "web.ws-acme-web.svc.cluster.local:8080", Port: 8080}, eps[0])
	assert.Equal(t, "https://web.example.com/api", eps[1].URL)
}

func TestUpdateIngressCreatesWhenMissing(t *testing.T) {
	c, cs := newTestClient()
	ctx := context.Background()

	spec := model.IngressSpec{Name: "web", Host: "a.example.com", ServiceName: "web", ServicePort: 80}
	require.NoError(t, c.UpdateIngress(ctx, ns, spec))

	spec.Host = "b.example.com"
	spec.Annotations = map[string]string{"nginx.ingress.kubernetes.io/rewrite-target": "/"}
	require.NoError(t, c.UpdateIngress(ctx, ns, spec))

	ing, err := cs.NetworkingV1().Ingresses(ns).Get(ctx, "web", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "b.example.com", ing.Spec.Rules[0].Host)
	assert.Equal(t, "/", ing.Spec.Rules[0].HTTP.Paths[0].Path)
	assert.Equal(t, networkingv1.PathTypePrefix, *ing.Spec.Rules[0].HTTP.Paths[0].PathType)
	assert.Equal(t, "/", ing.Annotations["nginx.ingress.kubernetes.io/rewrite-target"])
}

func TestListAndRestartPods(t *testing.T) {
	start := metav1.NewTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "web-1", Namespace: ns, Labels: map[string]string{"app": "web"}},
		Spec:       corev1.PodSpec{NodeName: "node-a"},
		Status: corev1.PodStatus{
			Phase:     corev1.PodRunning,
			PodIP:     "10.0.0.4",
			StartTime: &start,
			ContainerStatuses: []corev1.ContainerStatus{
				{Ready: true, RestartCount: 2},
			},
		},
	}
	other := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "db-0", Namespace: ns, Labels: map[string]string{"app": "db"}}}
	c, cs := newTestClient(pod, other)
	ctx := context.Background()

	pods, err := c.ListPods(ctx, ns, map[string]string{"app": "web"})
	require.NoError(t, err)
	require.Len(t, pods, 1)
	assert.Equal(t, "web-1", pods[0].Name)
	assert.Equal(t, "Running", pods[0].Status)
	assert.Equal(t, 2, pods[0].Restarts)
	assert.True(t, pods[0].Ready)
	assert.Equal(t, "node-a", pods[0].NodeName)

	require.NoError(t, c.RestartPod(ctx, ns, "web-1"))
	_, err = cs.CoreV1().Pods(ns).Get(ctx, "web-1", metav1.GetOptions{})
	assert.Error(t, err)

	err = c.RestartPod(ctx, ns, "web-1")
	assert.True(t, apperr.IsNotFound(err))
}

func TestParseLogLines(t *testing.T) {
	raw := []byte("2026-01-01T10:00:00.5Z hello world\n\nnot-a-timestamp line\n")
	entries := parseLogLines(raw, "web-1", "web")
	require.Len(t, entries, 2)
	assert.Equal(t, "hello world", entries[0].Message)
	assert.Equal(t, 2026, entries[0].Timestamp.Year())
	assert.Equal(t, "not-a-timestamp line", entries[1].Message)
	assert.True(t, entries[1].Timestamp.IsZero())
}

func TestDecodePodMetrics(t *testing.T) {
	raw := []byte(`{"containers":[{"usage":{"cpu":"250m","memory":"64Mi"}},{"usage":{"cpu":"250m","memory":"64Mi"}}]}`)
	m, err := decodePodMetrics("web-1", raw)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m.CPUUsage, 0.0001)
	assert.InDelta(t, 128, m.MemoryUsage, 0.0001)
}

func TestPodMetricsWithoutMetricsAPI(t *testing.T) {
	c, _ := newTestClient()
	m, err := c.GetPodMetrics(context.Background(), ns, []string{"web-1"})
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestCronJobTriggerAndJobState(t *testing.T) {
	c, cs := newTestClient()
	ctx := context.Background()

	require.NoError(t, c.CreateCronJob(ctx, ns, model.CronJobSpec{
		Name:        "report",
		Schedule:    "0 2 * * *",
		Image:       "busybox:1.36",
		Command:     []string{"/bin/sh", "-c"},
		Args:        []string{"echo hi"},
		Labels:      map[string]string{"type": "cronjob"},
		Annotations: map[string]string{"appcore.io/app-id": "app-1"},
	}))

	cj, err := cs.BatchV1().CronJobs(ns).Get(ctx, "report", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, batchv1.ForbidConcurrent, cj.Spec.ConcurrencyPolicy)
	assert.Equal(t, corev1.RestartPolicyOnFailure, cj.Spec.JobTemplate.Spec.Template.Spec.RestartPolicy)
	assert.Equal(t, "app-1", cj.Annotations["appcore.io/app-id"])

	require.NoError(t, c.UpdateCronJobSchedule(ctx, ns, "report", "0 3 * * *"))
	status, err := c.GetCronJobStatus(ctx, ns, "report")
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * *", status.Schedule)

	jobName := "report-manual-20260101020000"
	require.NoError(t, c.TriggerCronJob(ctx, ns, "report", jobName))
	job, err := cs.BatchV1().Jobs(ns).Get(ctx, jobName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "manual", job.Labels["triggered-by"])
	assert.Equal(t, []string{"/bin/sh", "-c"}, job.Spec.Template.Spec.Containers[0].Command)
	assert.Contains(t, job.Annotations, "appcore.io/triggered-at")

	state, err := c.GetJobState(ctx, ns, jobName)
	require.NoError(t, err)
	assert.False(t, state.Succeeded || state.Failed)

	done := metav1.NewTime(time.Date(2026, 1, 1, 2, 1, 0, 0, time.UTC))
	job.Status.Conditions = []batchv1.JobCondition{{Type: batchv1.JobComplete, Status: corev1.ConditionTrue, LastTransitionTime: done}}
	job.Status.CompletionTime = &done
	_, err = cs.BatchV1().Jobs(ns).UpdateStatus(ctx, job, metav1.UpdateOptions{})
	require.NoError(t, err)

	state, err = c.GetJobState(ctx, ns, jobName)
	require.NoError(t, err)
	assert.True(t, state.Succeeded)
	require.NotNil(t, state.Finished)
	assert.True(t, state.Finished.Equal(done.Time))

	_, err = c.GetJobState(ctx, ns, "missing")
	assert.True(t, apperr.IsNotFound(err))

	err = c.TriggerCronJob(ctx, ns, "missing", "missing-manual-1")
	assert.True(t, apperr.IsNotFound(err))

	require.NoError(t, c.DeleteCronJob(ctx, ns, "report"))
	require.NoError(t, c.DeleteCronJob(ctx, ns, "report"))
}

func TestListCronJobRuns(t *testing.T) {
	ctx := context.Background()
	started := func(h int) *metav1.Time {
		ts := metav1.NewTime(time.Date(2026, 1, 1, h, 0, 0, 0, time.UTC))
		return &ts
	}
	owned := func(name, owner string) *batchv1.Job {
		return &batchv1.Job{
			ObjectMeta: metav1.ObjectMeta{
				Name:            name,
				Namespace:       ns,
				Labels:          map[string]string{"managed-by": "appcore", "app": "report"},
				OwnerReferences: []metav1.OwnerReference{{APIVersion: "batch/v1", Kind: "CronJob", Name: owner}},
			},
		}
	}
	late := owned("report-29000120", "report")
	late.Status.StartTime = started(4)
	late.Status.Active = 1
	early := owned("report-29000060", "report")
	early.Status.StartTime = started(2)
	early.Status.Conditions = []batchv1.JobCondition{{Type: batchv1.JobFailed, Status: corev1.ConditionTrue, LastTransitionTime: *started(3)}}
	stray := owned("report-adhoc", "someone-else")

	c, _ := newTestClient(late, early, stray)
	runs, err := c.ListCronJobRuns(ctx, ns, "report")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "report-29000060", runs[0].Name)
	assert.True(t, runs[0].Failed)
	assert.False(t, runs[0].Manual)
	assert.Equal(t, "report-29000120", runs[1].Name)
	assert.True(t, runs[1].Active)

	runs, err = c.ListCronJobRuns(ctx, ns, "missing")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestServerlessService(t *testing.T) {
	c, cs := newTestClient()
	ctx := context.Background()

	spec := model.ServerlessSpec{
		Name:           "resize",
		Image:          "registry.local/functions/resize:v1",
		EnvVars:        map[string]string{"HANDLER": "main.handle"},
		Secrets:        map[string]string{"TOKEN": "s3cr3t"},
		TimeoutSeconds: 300,
	}
	require.NoError(t, c.CreateServerlessService(ctx, ns, spec))

	url, err := c.GetServerlessURL(ctx, ns, "resize")
	require.NoError(t, err)
	assert.Equal(t, "http://resize.ws-acme-web.svc.cluster.local", url)

	dep, err := cs.AppsV1().Deployments(ns).Get(ctx, "resize", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "true", dep.Annotations["appcore.io/scale-to-zero"])
	assert.Equal(t, "resize-secrets", dep.Spec.Template.Spec.Containers[0].EnvFrom[0].SecretRef.Name)

	spec.Image = "registry.local/functions/resize:v2"
	require.NoError(t, c.UpdateServerlessService(ctx, ns, spec))
	status, err := c.GetServerlessStatus(ctx, ns, "resize")
	require.NoError(t, err)
	assert.Equal(t, spec.Image, status.Image)

	require.NoError(t, c.DeleteServerlessService(ctx, ns, "resize"))
	_, err = c.GetServerlessURL(ctx, ns, "resize")
	assert.True(t, apperr.IsNotFound(err))
}
