package model

import "time"

type BackupType string

const (
	BackupFull        BackupType = "full"
	BackupIncremental BackupType = "incremental"
)

type BackupStatus string

const (
	BackupRunning   BackupStatus = "running"
	BackupSucceeded BackupStatus = "succeeded"
	BackupFailed    BackupStatus = "failed"
	BackupCancelled BackupStatus = "cancelled"
)

type BackupPolicy struct {
	ID                 string     `json:"id"`
	ApplicationID      string     `json:"applicationId"`
	StorageID          string     `json:"storageId,omitempty"`
	Enabled            bool       `json:"enabled"`
	Schedule           string     `json:"schedule"`
	RetentionDays      int        `json:"retentionDays"`
	BackupType         BackupType `json:"backupType"`
	IncludeVolumes     bool       `json:"includeVolumes"`
	IncludeDatabase    bool       `json:"includeDatabase"`
	IncludeConfig      bool       `json:"includeConfig"`
	CompressionEnabled bool       `json:"compressionEnabled"`
	EncryptionEnabled  bool       `json:"encryptionEnabled"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type BackupExecution struct {
	ID                 string            `json:"id"`
	PolicyID           string            `json:"policyId,omitempty"`
	ApplicationID      string            `json:"applicationId"`
	CronJobExecutionID string            `json:"cronJobExecutionId,omitempty"`
	Status             BackupStatus      `json:"status"`
	BackupPath         string            `json:"backupPath,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	StartedAt          time.Time         `json:"startedAt"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
	ErrorMessage       string            `json:"errorMessage,omitempty"`
}

type CreateBackupPolicyRequest struct {
	StorageID          string     `json:"storageId,omitempty" yaml:"storageId,omitempty"`
	Enabled            bool       `json:"enabled" yaml:"enabled"`
	Schedule           string     `json:"schedule" yaml:"schedule" validate:"required"`
	RetentionDays      int        `json:"retentionDays" yaml:"retentionDays" validate:"gte=0"`
	BackupType         BackupType `json:"backupType,omitempty" yaml:"backupType,omitempty" validate:"omitempty,oneof=full incremental"`
	IncludeVolumes     bool       `json:"includeVolumes" yaml:"includeVolumes"`
	IncludeDatabase    bool       `json:"includeDatabase" yaml:"includeDatabase"`
	IncludeConfig      bool       `json:"includeConfig" yaml:"includeConfig"`
	CompressionEnabled bool       `json:"compressionEnabled" yaml:"compressionEnabled"`
	EncryptionEnabled  bool       `json:"encryptionEnabled" yaml:"encryptionEnabled"`
}

type TriggerBackupRequest struct {
	ApplicationID string            `json:"applicationId"`
	BackupType    BackupType        `json:"backupType,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
