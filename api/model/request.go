package model

import "time"

type CreateApplicationRequest struct {
	ProjectID  string            `json:"projectId" validate:"required"`
	Name       string            `json:"name" validate:"required,dns1123"`
	Type       ApplicationType   `json:"type" validate:"required,oneof=stateless stateful cronjob function"`
	Source     Source            `json:"source"`
	Config     Config            `json:"config"`
	NodePoolID string            `json:"nodePoolId,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	CronSchedule  string   `json:"cronSchedule,omitempty"`
	CronCommand   []string `json:"cronCommand,omitempty"`
	CronArgs      []string `json:"cronArgs,omitempty"`
	TemplateAppID string   `json:"templateAppId,omitempty"`
}

// UpdateApplicationRequest carries field-level deltas. Nil/empty fields are
// left unchanged. ExpectedVersion, when non-zero, must match the stored
// version or the update is rejected.
type UpdateApplicationRequest struct {
	Replicas        *int              `json:"replicas,omitempty" validate:"omitempty,gte=0"`
	Image           string            `json:"image,omitempty"`
	EnvVars         map[string]string `json:"envVars,omitempty"`
	Resources       *Resources        `json:"resources,omitempty"`
	NetworkConfig   *NetworkConfig    `json:"networkConfig,omitempty"`
	ExpectedVersion int64             `json:"expectedVersion,omitempty"`
}

type CreateFunctionRequest struct {
	ProjectID     string             `json:"projectId" validate:"required"`
	Name          string             `json:"name" validate:"required,dns1123"`
	Runtime       FunctionRuntime    `json:"runtime" validate:"required,oneof=go python nodejs java dotnet ruby"`
	Handler       string             `json:"handler" validate:"required"`
	SourceCode    string             `json:"sourceCode,omitempty"`
	SourceType    FunctionSourceType `json:"sourceType" validate:"omitempty,oneof=inline s3 git image"`
	SourceURL     string             `json:"sourceUrl,omitempty"`
	Timeout       int                `json:"timeout,omitempty" validate:"gte=0"`
	Memory        int                `json:"memory,omitempty" validate:"gte=0"`
	TriggerType   TriggerType        `json:"triggerType,omitempty" validate:"omitempty,oneof=http event schedule"`
	TriggerConfig map[string]string  `json:"triggerConfig,omitempty"`
	EnvVars       map[string]string  `json:"envVars,omitempty"`
	Secrets       map[string]string  `json:"secrets,omitempty"`
}

type DeployFunctionVersionRequest struct {
	SourceCode string             `json:"sourceCode"`
	SourceType FunctionSourceType `json:"sourceType,omitempty" validate:"omitempty,oneof=inline s3 git image"`
	SourceURL  string             `json:"sourceUrl,omitempty"`
}

type LogQuery struct {
	ApplicationID string     `json:"applicationId"`
	PodName       string     `json:"podName"`
	Container     string     `json:"container,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
	Limit         int        `json:"limit,omitempty"`
	Follow        bool       `json:"follow,omitempty"`
	Previous      bool       `json:"previous,omitempty"`
}
