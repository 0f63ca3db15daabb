package k8s

import (
	"context"
	"fmt"
	"sort"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"appcore/api/model"
)

func (c *Client) cronJobObject(namespace string, spec model.CronJobSpec) (*batchv1.CronJob, error) {
	labels := objectLabels(spec.Name, spec.Labels)
	tmpl, err := c.podTemplate(spec.Name, spec.Image, 0, spec.EnvVars, spec.Resources, spec.NodeSelector, labels)
	if err != nil {
		return nil, err
	}
	tmpl.Spec.Containers[0].Command = spec.Command
	tmpl.Spec.Containers[0].Args = spec.Args
	tmpl.Spec.RestartPolicy = corev1.RestartPolicyOnFailure
	if spec.RestartPolicy != "" {
		tmpl.Spec.RestartPolicy = corev1.RestartPolicy(spec.RestartPolicy)
	}
	policy := batchv1.ForbidConcurrent
	if spec.ConcurrencyPolicy != "" {
		policy = batchv1.ConcurrencyPolicy(spec.ConcurrencyPolicy)
	}

	return &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:        spec.Name,
			Namespace:   namespace,
			Labels:      labels,
			Annotations: spec.Annotations,
		},
		Spec: batchv1.CronJobSpec{
			Schedule:                   spec.Schedule,
			ConcurrencyPolicy:          policy,
			SuccessfulJobsHistoryLimit: ptr(int32(3)),
			FailedJobsHistoryLimit:     ptr(int32(3)),
			JobTemplate: batchv1.JobTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       batchv1.JobSpec{Template: tmpl},
			},
		},
	}, nil
}

func (c *Client) CreateCronJob(ctx context.Context, namespace string, spec model.CronJobSpec) error {
	cj, err := c.cronJobObject(namespace, spec)
	if err != nil {
		return fmt.Errorf("create cronjob %s: %w", spec.Name, err)
	}
	_, err = c.cs.BatchV1().CronJobs(namespace).Create(ctx, cj, metav1.CreateOptions{})
	return wrap(err, "create cronjob %s", spec.Name)
}

// UpdateCronJob replaces the schedule and job template in place.
func (c *Client) UpdateCronJob(ctx context.Context, namespace, name string, spec model.CronJobSpec) error {
	existing, err := c.cs.BatchV1().CronJobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return wrap(err, "get cronjob %s", name)
	}
	spec.Name = name
	desired, err := c.cronJobObject(namespace, spec)
	if err != nil {
		return fmt.Errorf("update cronjob %s: %w", name, err)
	}
	existing.Labels = desired.Labels
	existing.Annotations = desired.Annotations
	existing.Spec.Schedule = desired.Spec.Schedule
	existing.Spec.ConcurrencyPolicy = desired.Spec.ConcurrencyPolicy
	existing.Spec.JobTemplate = desired.Spec.JobTemplate
	_, err = c.cs.BatchV1().CronJobs(namespace).Update(ctx, existing, metav1.UpdateOptions{})
	return wrap(err, "update cronjob %s", name)
}

// UpdateCronJobSchedule changes only the schedule.
func (c *Client) UpdateCronJobSchedule(ctx context.Context, namespace, name, schedule string) error {
	existing, err := c.cs.BatchV1().CronJobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return wrap(err, "get cronjob %s", name)
	}
	existing.Spec.Schedule = schedule
	_, err = c.cs.BatchV1().CronJobs(namespace).Update(ctx, existing, metav1.UpdateOptions{})
	return wrap(err, "update cronjob %s", name)
}

func (c *Client) DeleteCronJob(ctx context.Context, namespace, name string) error {
	err := c.cs.BatchV1().CronJobs(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: ptr(metav1.DeletePropagationBackground),
	})
	return wrap(ignoreNotFound(err), "delete cronjob %s", name)
}

func (c *Client) GetCronJobStatus(ctx context.Context, namespace, name string) (*model.CronJobStatus, error) {
	cj, err := c.cs.BatchV1().CronJobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, wrap(err, "get cronjob %s", name)
	}
	status := &model.CronJobStatus{
		Schedule:  cj.Spec.Schedule,
		Suspended: cj.Spec.Suspend != nil && *cj.Spec.Suspend,
	}
	if t := cj.Status.LastScheduleTime; t != nil {
		status.LastScheduleTime = &t.Time
	}
	if t := cj.Status.LastSuccessfulTime; t != nil {
		status.LastSuccessfulTime = &t.Time
	}
	for _, ref := range cj.Status.Active {
		status.ActiveJobs = append(status.ActiveJobs, ref.Name)
	}
	return status, nil
}

// TriggerCronJob starts one run of the cronjob's template as a Job named
// jobName, so execution records can find it later.
func (c *Client) TriggerCronJob(ctx context.Context, namespace, name, jobName string) error {
	cj, err := c.cs.BatchV1().CronJobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return wrap(err, "get cronjob %s", name)
	}
	labels := map[string]string{
		"managed-by":   managedBy,
		"app":          name,
		"cronjob-name": name,
		"triggered-by": "manual",
	}
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: namespace,
			Labels:    labels,
			Annotations: map[string]string{
				c.annotationKey("triggered-at"): time.Now().UTC().Format(time.RFC3339),
			},
			OwnerReferences: []metav1.OwnerReference{{
				APIVersion: "batch/v1",
				Kind:       "CronJob",
				Name:       cj.Name,
				UID:        cj.UID,
			}},
		},
		Spec: *cj.Spec.JobTemplate.Spec.DeepCopy(),
	}
	_, err = c.cs.BatchV1().Jobs(namespace).Create(ctx, job, metav1.CreateOptions{})
	return wrap(err, "trigger cronjob %s", name)
}

// GetJobState reports the outcome of a single job run.
func (c *Client) GetJobState(ctx context.Context, namespace, jobName string) (*model.JobState, error) {
	job, err := c.cs.BatchV1().Jobs(namespace).Get(ctx, jobName, metav1.GetOptions{})
	if err != nil {
		return nil, wrap(err, "get job %s", jobName)
	}
	return jobState(job), nil
}

// ListCronJobRuns returns the jobs the cronjob still keeps in its history,
// scheduled and manual, oldest first.
func (c *Client) ListCronJobRuns(ctx context.Context, namespace, name string) ([]model.JobState, error) {
	list, err := c.cs.BatchV1().Jobs(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: metav1.FormatLabelSelector(&metav1.LabelSelector{
			MatchLabels: map[string]string{"managed-by": managedBy, "app": name},
		}),
	})
	if err != nil {
		return nil, wrap(err, "list jobs of cronjob %s", name)
	}
	var runs []model.JobState
	for i := range list.Items {
		job := &list.Items[i]
		if !ownedByCronJob(job, name) {
			continue
		}
		runs = append(runs, *jobState(job))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Started.Before(runs[j].Started) })
	return runs, nil
}

func ownedByCronJob(job *batchv1.Job, name string) bool {
	for _, ref := range job.OwnerReferences {
		if ref.Kind == "CronJob" && ref.Name == name {
			return true
		}
	}
	return false
}

func jobState(job *batchv1.Job) *model.JobState {
	state := &model.JobState{
		Name:    job.Name,
		Active:  job.Status.Active > 0,
		Manual:  job.Labels["triggered-by"] == "manual",
		Started: job.CreationTimestamp.Time,
	}
	if job.Status.StartTime != nil {
		state.Started = job.Status.StartTime.Time
	}
	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			state.Succeeded = true
			t := cond.LastTransitionTime.Time
			state.Finished = &t
		case batchv1.JobFailed:
			state.Failed = true
			t := cond.LastTransitionTime.Time
			state.Finished = &t
		}
	}
	if state.Succeeded && job.Status.CompletionTime != nil {
		t := job.Status.CompletionTime.Time
		state.Finished = &t
	}
	return state
}
