package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"appcore/api/apperr"
	"appcore/api/model"
)

const appColumns = `id, workspace_id, project_id, name, type, status, source, config, endpoints,
	metadata, backup, cron_schedule, cron_command, cron_args, template_app_id, function,
	version, created_at, updated_at`

func (db *DB) CreateApplication(ctx context.Context, app *model.Application) error {
	app.SyncBackupMetadata()
	if app.Version == 0 {
		app.Version = 1
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO applications (`+appColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		app.ID, app.WorkspaceID, app.ProjectID, app.Name, app.Type, app.Status,
		marshal(app.Source), marshal(app.Config), marshal(app.Endpoints), marshal(app.Metadata),
		marshal(app.Backup), app.CronSchedule, marshal(app.CronCommand), marshal(app.CronArgs),
		app.TemplateAppID, marshal(app.Function), app.Version, app.CreatedAt, app.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("create", "application %q already exists in project %s", app.Name, app.ProjectID)
	}
	return err
}

func (db *DB) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+appColumns+` FROM applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if err != nil {
		return nil, notFound(err)
	}
	return app, nil
}

func (db *DB) GetApplicationByName(ctx context.Context, workspaceID, projectID, name string) (*model.Application, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+appColumns+` FROM applications
		 WHERE workspace_id = $1 AND project_id = $2 AND name = $3`,
		workspaceID, projectID, name,
	)
	app, err := scanApplication(row)
	if err != nil {
		return nil, notFound(err)
	}
	return app, nil
}

// ListApplications returns the workspace's applications, optionally narrowed
// to one project.
func (db *DB) ListApplications(ctx context.Context, workspaceID, projectID string) ([]*model.Application, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+appColumns+` FROM applications
		 WHERE workspace_id = $1 AND ($2 = '' OR project_id = $2)
		 ORDER BY name`,
		workspaceID, projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*model.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// ListApplicationsByType returns applications of one type across all
// workspaces. The cron drivers use it to sweep scheduled jobs.
func (db *DB) ListApplicationsByType(ctx context.Context, typ model.ApplicationType) ([]*model.Application, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+appColumns+` FROM applications WHERE type = $1 ORDER BY created_at`,
		typ,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*model.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// UpdateApplication writes app if the stored version still equals app.Version,
// then bumps app.Version. A stale version yields apperr.Conflict.
func (db *DB) UpdateApplication(ctx context.Context, app *model.Application) error {
	app.SyncBackupMetadata()
	app.UpdatedAt = time.Now()
	tag, err := db.pool.Exec(ctx,
		`UPDATE applications SET
		   status = $3, source = $4, config = $5, endpoints = $6, metadata = $7, backup = $8,
		   cron_schedule = $9, cron_command = $10, cron_args = $11, template_app_id = $12,
		   function = $13, updated_at = $14, version = version + 1
		 WHERE id = $1 AND version = $2`,
		app.ID, app.Version, app.Status, marshal(app.Source), marshal(app.Config),
		marshal(app.Endpoints), marshal(app.Metadata), marshal(app.Backup), app.CronSchedule,
		marshal(app.CronCommand), marshal(app.CronArgs), app.TemplateAppID, marshal(app.Function),
		app.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var current int64
		err := db.pool.QueryRow(ctx, `SELECT version FROM applications WHERE id = $1`, app.ID).Scan(&current)
		if err != nil {
			return notFound(err)
		}
		return apperr.Conflict("update", "application %s was modified concurrently (version %d, stored %d)", app.ID, app.Version, current)
	}
	app.Version++
	return nil
}

func (db *DB) UpdateCronSchedule(ctx context.Context, id, schedule string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE applications SET cron_schedule = $2, updated_at = now(), version = version + 1 WHERE id = $1`,
		id, schedule,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (db *DB) DeleteApplication(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func scanApplication(row pgx.Row) (*model.Application, error) {
	var app model.Application
	var source, cfg, endpoints, metadata, backup, command, args, function []byte
	err := row.Scan(&app.ID, &app.WorkspaceID, &app.ProjectID, &app.Name, &app.Type, &app.Status,
		&source, &cfg, &endpoints, &metadata, &backup, &app.CronSchedule, &command, &args,
		&app.TemplateAppID, &function, &app.Version, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{source, &app.Source},
		{cfg, &app.Config},
		{endpoints, &app.Endpoints},
		{metadata, &app.Metadata},
		{backup, &app.Backup},
		{command, &app.CronCommand},
		{args, &app.CronArgs},
		{function, &app.Function},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode application %s: %w", app.ID, err)
		}
	}
	if app.Backup == nil {
		app.Backup = model.BackupBindingFromMetadata(app.Metadata)
	}
	return &app, nil
}

// --- Events ---

func (db *DB) CreateEvent(ctx context.Context, ev *model.ApplicationEvent) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO application_events (id, application_id, type, message, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.ApplicationID, ev.Type, ev.Message, ev.Details, ev.Timestamp,
	)
	return err
}

func (db *DB) ListEvents(ctx context.Context, appID string, limit int) ([]*model.ApplicationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, application_id, type, message, details, created_at
		 FROM application_events WHERE application_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		appID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.ApplicationEvent
	for rows.Next() {
		var ev model.ApplicationEvent
		if err := rows.Scan(&ev.ID, &ev.ApplicationID, &ev.Type, &ev.Message, &ev.Details, &ev.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
