package model

import "time"

type FunctionRuntime string

const (
	RuntimeGo     FunctionRuntime = "go"
	RuntimePython FunctionRuntime = "python"
	RuntimeNodeJS FunctionRuntime = "nodejs"
	RuntimeJava   FunctionRuntime = "java"
	RuntimeDotNet FunctionRuntime = "dotnet"
	RuntimeRuby   FunctionRuntime = "ruby"
)

func (r FunctionRuntime) IsValid() bool {
	switch r {
	case RuntimeGo, RuntimePython, RuntimeNodeJS, RuntimeJava, RuntimeDotNet, RuntimeRuby:
		return true
	}
	return false
}

type TriggerType string

const (
	TriggerHTTP     TriggerType = "http"
	TriggerEvent    TriggerType = "event"
	TriggerSchedule TriggerType = "schedule"
)

type FunctionSourceType string

const (
	FunctionSourceInline FunctionSourceType = "inline"
	FunctionSourceS3     FunctionSourceType = "s3"
	FunctionSourceGit    FunctionSourceType = "git"
	FunctionSourceImage  FunctionSourceType = "image"
)

type BuildStatus string

const (
	BuildPending  BuildStatus = "pending"
	BuildBuilding BuildStatus = "building"
	BuildSuccess  BuildStatus = "success"
	BuildFailed   BuildStatus = "failed"
)

type FunctionVersion struct {
	ID            string             `json:"id"`
	ApplicationID string             `json:"applicationId"`
	VersionNumber int                `json:"versionNumber"`
	SourceCode    string             `json:"sourceCode,omitempty"`
	SourceType    FunctionSourceType `json:"sourceType"`
	SourceURL     string             `json:"sourceUrl,omitempty"`
	BuildStatus   BuildStatus        `json:"buildStatus"`
	BuildLogs     string             `json:"buildLogs,omitempty"`
	ImageURI      string             `json:"imageUri,omitempty"`
	IsActive      bool               `json:"isActive"`
	CreatedAt     time.Time          `json:"createdAt"`
	DeployedAt    *time.Time         `json:"deployedAt,omitempty"`
}

type FunctionInvocation struct {
	ID             string              `json:"id"`
	ApplicationID  string              `json:"applicationId"`
	VersionID      string              `json:"versionId"`
	TriggerSource  string              `json:"triggerSource"`
	RequestMethod  string              `json:"requestMethod,omitempty"`
	RequestPath    string              `json:"requestPath,omitempty"`
	RequestHeaders map[string][]string `json:"requestHeaders,omitempty"`
	RequestBody    []byte              `json:"requestBody,omitempty"`
	ResponseStatus int                 `json:"responseStatus"`
	ResponseBody   []byte              `json:"responseBody,omitempty"`
	ErrorMessage   string              `json:"errorMessage,omitempty"`
	DurationMs     int64               `json:"durationMs"`
	StartedAt      time.Time           `json:"startedAt"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
}

type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventSuccess    EventStatus = "success"
	EventRetry      EventStatus = "retry"
	EventFailed     EventStatus = "failed"
)

type FunctionEvent struct {
	ID               string         `json:"id"`
	ApplicationID    string         `json:"applicationId"`
	EventType        string         `json:"eventType"`
	EventSource      string         `json:"eventSource"`
	EventData        map[string]any `json:"eventData,omitempty"`
	ProcessingStatus EventStatus    `json:"processingStatus"`
	RetryCount       int            `json:"retryCount"`
	MaxRetries       int            `json:"maxRetries"`
	InvocationID     string         `json:"invocationId,omitempty"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	ProcessedAt      *time.Time     `json:"processedAt,omitempty"`
}

type InvokeRequest struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

type InvokeResponse struct {
	InvocationID string              `json:"invocationId"`
	StatusCode   int                 `json:"statusCode"`
	Headers      map[string][]string `json:"headers,omitempty"`
	Body         []byte              `json:"body,omitempty"`
	DurationMs   int64               `json:"durationMs"`
}
