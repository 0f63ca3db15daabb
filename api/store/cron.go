package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"appcore/api/apperr"
	"appcore/api/model"
)

const cronExecColumns = `id, application_id, job_name, status, exit_code, logs, started_at, completed_at, created_at, updated_at`

func (db *DB) CreateCronJobExecution(ctx context.Context, exec *model.CronJobExecution) error {
	now := time.Now()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	exec.UpdatedAt = now
	_, err := db.pool.Exec(ctx,
		`INSERT INTO cronjob_executions (`+cronExecColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		exec.ID, exec.ApplicationID, exec.JobName, exec.Status, exec.ExitCode, exec.Logs,
		exec.StartedAt, exec.CompletedAt, exec.CreatedAt, exec.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("create execution", "job %s is already recorded", exec.JobName)
	}
	return err
}

func (db *DB) GetCronJobExecution(ctx context.Context, id string) (*model.CronJobExecution, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+cronExecColumns+` FROM cronjob_executions WHERE id = $1`, id)
	e, err := scanCronExecution(row)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// GetCronJobExecutionByJobName finds the execution recorded for one
// substrate job of an application.
func (db *DB) GetCronJobExecutionByJobName(ctx context.Context, appID, jobName string) (*model.CronJobExecution, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+cronExecColumns+` FROM cronjob_executions WHERE application_id = $1 AND job_name = $2`,
		appID, jobName,
	)
	e, err := scanCronExecution(row)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// CompleteCronJobExecution writes the outcome of an execution that is still
// running. A finished execution is left untouched and yields a Conflict.
func (db *DB) CompleteCronJobExecution(ctx context.Context, exec *model.CronJobExecution) error {
	exec.UpdatedAt = time.Now()
	tag, err := db.pool.Exec(ctx,
		`UPDATE cronjob_executions
		 SET status = $2, exit_code = $3, logs = $4, completed_at = $5, updated_at = $6
		 WHERE id = $1 AND status = $7`,
		exec.ID, exec.Status, exec.ExitCode, exec.Logs, exec.CompletedAt, exec.UpdatedAt, model.CronRunning,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		cur, err := db.GetCronJobExecution(ctx, exec.ID)
		if err != nil {
			return err
		}
		return apperr.Conflict("complete execution", "execution %s is already %s", exec.ID, cur.Status)
	}
	return nil
}

func (db *DB) ListCronJobExecutions(ctx context.Context, appID string, limit, offset int) ([]*model.CronJobExecution, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM cronjob_executions WHERE application_id = $1`, appID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+cronExecColumns+` FROM cronjob_executions
		 WHERE application_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		appID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var execs []*model.CronJobExecution
	for rows.Next() {
		e, err := scanCronExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		execs = append(execs, e)
	}
	return execs, total, rows.Err()
}

// ListRunningCronJobExecutions returns every execution still awaiting a
// terminal status, oldest first.
func (db *DB) ListRunningCronJobExecutions(ctx context.Context) ([]*model.CronJobExecution, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+cronExecColumns+` FROM cronjob_executions
		 WHERE status = $1 ORDER BY started_at ASC`,
		model.CronRunning,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*model.CronJobExecution
	for rows.Next() {
		e, err := scanCronExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func scanCronExecution(row pgx.Row) (*model.CronJobExecution, error) {
	var e model.CronJobExecution
	err := row.Scan(&e.ID, &e.ApplicationID, &e.JobName, &e.Status, &e.ExitCode, &e.Logs,
		&e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
