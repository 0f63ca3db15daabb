package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"appcore/api/apperr"
	"appcore/api/model"
)

const policyColumns = `id, application_id, storage_id, enabled, schedule, retention_days, backup_type,
	include_volumes, include_database, include_config, compression_enabled, encryption_enabled,
	created_at, updated_at`

func (db *DB) CreateBackupPolicy(ctx context.Context, p *model.BackupPolicy) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO backup_policies (`+policyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.ApplicationID, p.StorageID, p.Enabled, p.Schedule, p.RetentionDays, p.BackupType,
		p.IncludeVolumes, p.IncludeDatabase, p.IncludeConfig, p.CompressionEnabled, p.EncryptionEnabled,
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (db *DB) GetBackupPolicy(ctx context.Context, id string) (*model.BackupPolicy, error) {
	var p model.BackupPolicy
	err := db.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM backup_policies WHERE id = $1`, id).Scan(
		&p.ID, &p.ApplicationID, &p.StorageID, &p.Enabled, &p.Schedule, &p.RetentionDays, &p.BackupType,
		&p.IncludeVolumes, &p.IncludeDatabase, &p.IncludeConfig, &p.CompressionEnabled, &p.EncryptionEnabled,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

const backupExecColumns = `id, policy_id, application_id, cronjob_execution_id, status, backup_path,
	metadata, error_message, started_at, completed_at`

func (db *DB) CreateBackupExecution(ctx context.Context, e *model.BackupExecution) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO backup_executions (`+backupExecColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.PolicyID, e.ApplicationID, e.CronJobExecutionID, e.Status, e.BackupPath,
		marshal(e.Metadata), e.ErrorMessage, e.StartedAt, e.CompletedAt,
	)
	return err
}

func (db *DB) GetBackupExecution(ctx context.Context, id string) (*model.BackupExecution, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+backupExecColumns+` FROM backup_executions WHERE id = $1`, id)
	e, err := scanBackupExecution(row)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (db *DB) GetBackupExecutionByCronJobID(ctx context.Context, cronExecID string) (*model.BackupExecution, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+backupExecColumns+` FROM backup_executions
		 WHERE cronjob_execution_id = $1 ORDER BY started_at DESC LIMIT 1`, cronExecID)
	e, err := scanBackupExecution(row)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (db *DB) UpdateBackupExecution(ctx context.Context, e *model.BackupExecution) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE backup_executions
		 SET status = $2, backup_path = $3, error_message = $4, completed_at = $5
		 WHERE id = $1`,
		e.ID, e.Status, e.BackupPath, e.ErrorMessage, e.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func scanBackupExecution(row pgx.Row) (*model.BackupExecution, error) {
	var e model.BackupExecution
	var meta []byte
	err := row.Scan(&e.ID, &e.PolicyID, &e.ApplicationID, &e.CronJobExecutionID, &e.Status, &e.BackupPath,
		&meta, &e.ErrorMessage, &e.StartedAt, &e.CompletedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(meta, &e.Metadata)
	return &e, nil
}
