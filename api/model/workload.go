package model

import "time"

// Substrate-facing specs. The k8s gateway translates these into
// Deployments, StatefulSets, Services, Ingresses, PVCs and CronJobs.

type DeploymentSpec struct {
	Name         string
	Replicas     int
	Image        string
	Port         int
	EnvVars      map[string]string
	Resources    Resources
	NodeSelector map[string]string
	Labels       map[string]string
	Volumes      []VolumeMount
}

type VolumeMount struct {
	Name      string
	MountPath string
	PVCName   string
}

type StatefulSetSpec struct {
	Name            string
	Replicas        int
	Image           string
	Port            int
	EnvVars         map[string]string
	Resources       Resources
	NodeSelector    map[string]string
	Labels          map[string]string
	VolumeClaimSpec *PVCSpec
	MountPath       string
}

// WorkloadUpdate patches a running Deployment or StatefulSet. Empty or nil
// fields other than Replicas leave the current value unchanged.
type WorkloadUpdate struct {
	Replicas     int
	Image        string
	EnvVars      map[string]string
	Resources    *Resources
	NodeSelector map[string]string
}

type ServiceSpec struct {
	Name       string
	Port       int
	TargetPort int
	Selector   map[string]string
	Type       string // ClusterIP, NodePort, LoadBalancer
}

type IngressSpec struct {
	Name        string
	Host        string
	Path        string
	ServiceName string
	ServicePort int
	TLSEnabled  bool
	Annotations map[string]string
}

type PVCSpec struct {
	Name         string
	Size         string
	StorageClass string
	AccessMode   string
}

type CronJobSpec struct {
	Name              string
	Schedule          string
	Image             string
	Command           []string
	Args              []string
	EnvVars           map[string]string
	Resources         Resources
	NodeSelector      map[string]string
	Labels            map[string]string
	Annotations       map[string]string
	RestartPolicy     string
	ConcurrencyPolicy string
}

type ServerlessSpec struct {
	Name           string
	Image          string
	EnvVars        map[string]string
	Secrets        map[string]string
	Resources      Resources
	Labels         map[string]string
	TimeoutSeconds int
	Port           int
}

type ServerlessStatus struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Ready bool   `json:"ready"`
	Image string `json:"image"`
}

type Pod struct {
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	NodeName  string            `json:"nodeName,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Restarts  int               `json:"restarts"`
	Ready     bool              `json:"ready"`
	Labels    map[string]string `json:"labels,omitempty"`
	StartedAt *time.Time        `json:"startedAt,omitempty"`
}

type LogOptions struct {
	Container string
	Since     *time.Time
	TailLines int
	Follow    bool
	Previous  bool
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	PodName   string    `json:"podName"`
	Container string    `json:"container,omitempty"`
	Message   string    `json:"message"`
}

// PodMetrics reports usage in cores and MiB.
type PodMetrics struct {
	PodName     string  `json:"podName"`
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
}

type AggregateUsage struct {
	TotalCPU      float64 `json:"totalCpu"`
	TotalMemory   float64 `json:"totalMemory"`
	AverageCPU    float64 `json:"averageCpu"`
	AverageMemory float64 `json:"averageMemory"`
}

type ApplicationMetrics struct {
	ApplicationID  string         `json:"applicationId"`
	Timestamp      time.Time      `json:"timestamp"`
	PodMetrics     []PodMetrics   `json:"podMetrics"`
	AggregateUsage AggregateUsage `json:"aggregateUsage"`
}
