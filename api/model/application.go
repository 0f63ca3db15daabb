package model

import (
	"strconv"
	"time"
)

type ApplicationType string

const (
	TypeStateless ApplicationType = "stateless"
	TypeStateful  ApplicationType = "stateful"
	TypeCronJob   ApplicationType = "cronjob"
	TypeFunction  ApplicationType = "function"
)

func (t ApplicationType) IsValid() bool {
	switch t {
	case TypeStateless, TypeStateful, TypeCronJob, TypeFunction:
		return true
	}
	return false
}

type ApplicationStatus string

const (
	StatusPending   ApplicationStatus = "pending"
	StatusDeploying ApplicationStatus = "deploying"
	StatusRunning   ApplicationStatus = "running"
	StatusUpdating  ApplicationStatus = "updating"
	StatusStopping  ApplicationStatus = "stopping"
	StatusStopped   ApplicationStatus = "stopped"
	StatusError     ApplicationStatus = "error"
	StatusDeleting  ApplicationStatus = "deleting"
)

var transitions = map[ApplicationStatus][]ApplicationStatus{
	StatusPending:   {StatusDeploying, StatusError},
	StatusDeploying: {StatusRunning, StatusError},
	StatusRunning:   {StatusUpdating, StatusStopping, StatusError, StatusDeleting},
	StatusUpdating:  {StatusRunning, StatusError},
	StatusStopping:  {StatusStopped, StatusError},
	StatusStopped:   {StatusDeploying, StatusDeleting},
	StatusError:     {StatusDeploying, StatusDeleting},
	StatusDeleting:  {},
}

// CanTransition reports whether the status machine has an edge from s to target.
func (s ApplicationStatus) CanTransition(target ApplicationStatus) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

type SourceType string

const (
	SourceImage SourceType = "image"
	SourceGit   SourceType = "git"
)

func (t SourceType) IsValid() bool {
	return t == SourceImage || t == SourceGit
}

type Source struct {
	Type      SourceType `json:"type" yaml:"type" validate:"omitempty,oneof=image git"`
	Image     string     `json:"image,omitempty" yaml:"image,omitempty"`
	GitURL    string     `json:"gitUrl,omitempty" yaml:"gitUrl,omitempty"`
	GitRef    string     `json:"gitRef,omitempty" yaml:"gitRef,omitempty"`
	Buildpack string     `json:"buildpack,omitempty" yaml:"buildpack,omitempty"`
}

type Resources struct {
	CPURequest    string `json:"cpuRequest,omitempty" yaml:"cpuRequest,omitempty"`
	CPULimit      string `json:"cpuLimit,omitempty" yaml:"cpuLimit,omitempty"`
	MemoryRequest string `json:"memoryRequest,omitempty" yaml:"memoryRequest,omitempty"`
	MemoryLimit   string `json:"memoryLimit,omitempty" yaml:"memoryLimit,omitempty"`
}

type Storage struct {
	Size         string `json:"size" yaml:"size" validate:"required"`
	StorageClass string `json:"storageClass,omitempty" yaml:"storageClass,omitempty"`
	MountPath    string `json:"mountPath,omitempty" yaml:"mountPath,omitempty"`
}

type NetworkConfig struct {
	CreateIngress bool              `json:"createIngress" yaml:"createIngress"`
	IngressPath   string            `json:"ingressPath,omitempty" yaml:"ingressPath,omitempty"`
	CustomDomain  string            `json:"customDomain,omitempty" yaml:"customDomain,omitempty"`
	TLSEnabled    bool              `json:"tlsEnabled" yaml:"tlsEnabled"`
	Annotations   map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}

type Config struct {
	Replicas      int               `json:"replicas" yaml:"replicas" validate:"gte=0"`
	Port          int               `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	EnvVars       map[string]string `json:"envVars,omitempty" yaml:"env,omitempty"`
	Resources     Resources         `json:"resources" yaml:"resources,omitempty"`
	NodeSelector  map[string]string `json:"nodeSelector,omitempty" yaml:"nodeSelector,omitempty"`
	Storage       *Storage          `json:"storage,omitempty" yaml:"storage,omitempty"`
	NetworkConfig *NetworkConfig    `json:"networkConfig,omitempty" yaml:"ingress,omitempty"`
}

type Endpoint struct {
	Type string `json:"type"` // cluster-ip, node-port, load-balancer, ingress
	URL  string `json:"url"`
	Port int    `json:"port,omitempty"`
}

// BackupBinding links a CronJob application to a backup policy.
type BackupBinding struct {
	Enabled  bool   `json:"enabled"`
	PolicyID string `json:"policyId,omitempty"`
}

const (
	MetaBackupEnabled  = "backup_enabled"
	MetaBackupPolicyID = "backup_policy_id"
)

type FunctionSpec struct {
	Runtime       FunctionRuntime   `json:"runtime"`
	Handler       string            `json:"handler"`
	Timeout       int               `json:"timeout"` // seconds
	Memory        int               `json:"memory"`  // MB
	TriggerType   TriggerType       `json:"triggerType,omitempty"`
	TriggerConfig map[string]string `json:"triggerConfig,omitempty"`
	EnvVars       map[string]string `json:"envVars,omitempty"`
	Secrets       map[string]string `json:"secrets,omitempty"`
}

type Application struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspaceId"`
	ProjectID   string            `json:"projectId"`
	Name        string            `json:"name"`
	Type        ApplicationType   `json:"type"`
	Status      ApplicationStatus `json:"status"`
	Source      Source            `json:"source"`
	Config      Config            `json:"config"`
	Endpoints   []Endpoint        `json:"endpoints,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Backup      *BackupBinding    `json:"backup,omitempty"`

	// CronJob only.
	CronSchedule  string   `json:"cronSchedule,omitempty"`
	CronCommand   []string `json:"cronCommand,omitempty"`
	CronArgs      []string `json:"cronArgs,omitempty"`
	TemplateAppID string   `json:"templateAppId,omitempty"`

	// Function only.
	Function *FunctionSpec `json:"function,omitempty"`

	// Version increases by one on every persisted update.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BackupEnabled reads the typed binding, falling back to legacy metadata.
func (a *Application) BackupEnabled() bool {
	if a.Backup != nil {
		return a.Backup.Enabled
	}
	return a.Metadata[MetaBackupEnabled] == "true"
}

// SetBackupBinding updates the typed binding and mirrors it into metadata
// for clients that still read the string keys.
func (a *Application) SetBackupBinding(b BackupBinding) {
	a.Backup = &b
	a.SyncBackupMetadata()
}

func (a *Application) SyncBackupMetadata() {
	if a.Backup == nil {
		return
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]string)
	}
	a.Metadata[MetaBackupEnabled] = strconv.FormatBool(a.Backup.Enabled)
	if a.Backup.PolicyID != "" {
		a.Metadata[MetaBackupPolicyID] = a.Backup.PolicyID
	}
}

// BackupBindingFromMetadata rebuilds a binding from legacy metadata keys.
// Returns nil when the metadata carries no backup information.
func BackupBindingFromMetadata(meta map[string]string) *BackupBinding {
	enabled, ok := meta[MetaBackupEnabled]
	policy := meta[MetaBackupPolicyID]
	if !ok && policy == "" {
		return nil
	}
	return &BackupBinding{Enabled: enabled == "true", PolicyID: policy}
}

func (a *Application) Clone() *Application {
	c := *a
	c.Config.EnvVars = cloneMap(a.Config.EnvVars)
	c.Config.NodeSelector = cloneMap(a.Config.NodeSelector)
	if a.Config.Storage != nil {
		s := *a.Config.Storage
		c.Config.Storage = &s
	}
	if a.Config.NetworkConfig != nil {
		n := *a.Config.NetworkConfig
		n.Annotations = cloneMap(a.Config.NetworkConfig.Annotations)
		c.Config.NetworkConfig = &n
	}
	c.Metadata = cloneMap(a.Metadata)
	if a.Backup != nil {
		b := *a.Backup
		c.Backup = &b
	}
	if a.Function != nil {
		f := *a.Function
		f.TriggerConfig = cloneMap(a.Function.TriggerConfig)
		f.EnvVars = cloneMap(a.Function.EnvVars)
		f.Secrets = cloneMap(a.Function.Secrets)
		c.Function = &f
	}
	c.Endpoints = append([]Endpoint(nil), a.Endpoints...)
	c.CronCommand = append([]string(nil), a.CronCommand...)
	c.CronArgs = append([]string(nil), a.CronArgs...)
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
