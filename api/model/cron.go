package model

import "time"

type CronExecStatus string

const (
	CronRunning   CronExecStatus = "running"
	CronSucceeded CronExecStatus = "succeeded"
	CronFailed    CronExecStatus = "failed"
)

func (s CronExecStatus) IsValid() bool {
	return s == CronRunning || s == CronSucceeded || s == CronFailed
}

func (s CronExecStatus) IsTerminal() bool {
	return s == CronSucceeded || s == CronFailed
}

type CronJobExecution struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"applicationId"`
	JobName       string         `json:"jobName"`
	StartedAt     time.Time      `json:"startedAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	Status        CronExecStatus `json:"status"`
	ExitCode      *int           `json:"exitCode,omitempty"`
	Logs          string         `json:"logs,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// CronJobStatus is the substrate-side view of a scheduled job.
type CronJobStatus struct {
	Schedule           string     `json:"schedule"`
	Suspended          bool       `json:"suspended"`
	LastScheduleTime   *time.Time `json:"lastScheduleTime,omitempty"`
	LastSuccessfulTime *time.Time `json:"lastSuccessfulTime,omitempty"`
	ActiveJobs         []string   `json:"activeJobs,omitempty"`
	NextScheduleTime   *time.Time `json:"nextScheduleTime,omitempty"`
}

// JobState is the observed outcome of one substrate job run.
type JobState struct {
	Name      string
	Active    bool
	Succeeded bool
	Failed    bool
	Manual    bool
	Started   time.Time
	Finished  *time.Time
}
