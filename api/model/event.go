package model

import "time"

const (
	EventDeploymentStarted   = "deployment.started"
	EventDeploymentSucceeded = "deployment.succeeded"
	EventDeploymentFailed    = "deployment.failed"
	EventIngressFailed       = "ingress.failed"
	EventUpdateStarted       = "update.started"
	EventUpdateSucceeded     = "update.succeeded"
	EventUpdateFailed        = "update.failed"
	EventDeletionStarted     = "deletion.started"
	EventRestartCompleted    = "restart.completed"
	EventStopCompleted       = "stop.completed"
	EventStopFailed          = "stop.failed"
	EventCronJobTriggered    = "cronjob.triggered"
	EventCronJobStarted      = "cronjob.started"
	EventCronJobCompleted    = "cronjob.completed"
	EventFunctionActivated   = "function.activated"
	EventFunctionBuilt       = "function.build.succeeded"
	EventFunctionBuildFailed = "function.build.failed"
)

// ApplicationEvent is an append-only audit record.
type ApplicationEvent struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	Type          string    `json:"type"`
	Message       string    `json:"message"`
	Details       string    `json:"details,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
