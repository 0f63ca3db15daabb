package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"appcore/api/apperr"
	"appcore/api/model"
)

// --- Versions ---

const versionColumns = `id, application_id, version_number, source_code, source_type, source_url,
	build_status, build_logs, image_uri, is_active, created_at, deployed_at`

func (db *DB) CreateFunctionVersion(ctx context.Context, v *model.FunctionVersion) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO function_versions (`+versionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		v.ID, v.ApplicationID, v.VersionNumber, v.SourceCode, v.SourceType, v.SourceURL,
		v.BuildStatus, v.BuildLogs, v.ImageURI, v.IsActive, v.CreatedAt, v.DeployedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("create version", "version %d already exists for application %s", v.VersionNumber, v.ApplicationID)
	}
	return err
}

func (db *DB) GetFunctionVersion(ctx context.Context, id string) (*model.FunctionVersion, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+versionColumns+` FROM function_versions WHERE id = $1`, id)
	v, err := scanVersion(row)
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

func (db *DB) GetActiveFunctionVersion(ctx context.Context, appID string) (*model.FunctionVersion, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM function_versions WHERE application_id = $1 AND is_active`, appID)
	v, err := scanVersion(row)
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

// ListFunctionVersions returns versions newest first.
func (db *DB) ListFunctionVersions(ctx context.Context, appID string) ([]*model.FunctionVersion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM function_versions
		 WHERE application_id = $1 ORDER BY version_number DESC`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*model.FunctionVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (db *DB) UpdateFunctionVersion(ctx context.Context, v *model.FunctionVersion) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE function_versions
		 SET build_status = $2, build_logs = $3, image_uri = $4, deployed_at = $5
		 WHERE id = $1`,
		v.ID, v.BuildStatus, v.BuildLogs, v.ImageURI, v.DeployedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// SetActiveFunctionVersion clears the previous active flag and sets it on
// versionID in one transaction.
func (db *DB) SetActiveFunctionVersion(ctx context.Context, appID, versionID string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE function_versions SET is_active = FALSE WHERE application_id = $1 AND is_active`, appID,
	); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE function_versions SET is_active = TRUE, deployed_at = COALESCE(deployed_at, now())
		 WHERE id = $1 AND application_id = $2`,
		versionID, appID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return tx.Commit(ctx)
}

func scanVersion(row pgx.Row) (*model.FunctionVersion, error) {
	var v model.FunctionVersion
	err := row.Scan(&v.ID, &v.ApplicationID, &v.VersionNumber, &v.SourceCode, &v.SourceType, &v.SourceURL,
		&v.BuildStatus, &v.BuildLogs, &v.ImageURI, &v.IsActive, &v.CreatedAt, &v.DeployedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// --- Invocations ---

const invocationColumns = `id, application_id, version_id, trigger_source, request_method, request_path,
	request_headers, request_body, response_status, response_body, error_message, duration_ms,
	started_at, completed_at`

func (db *DB) CreateFunctionInvocation(ctx context.Context, inv *model.FunctionInvocation) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO function_invocations (`+invocationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		inv.ID, inv.ApplicationID, inv.VersionID, inv.TriggerSource, inv.RequestMethod, inv.RequestPath,
		marshal(inv.RequestHeaders), inv.RequestBody, inv.ResponseStatus, inv.ResponseBody,
		inv.ErrorMessage, inv.DurationMs, inv.StartedAt, inv.CompletedAt,
	)
	return err
}

func (db *DB) GetFunctionInvocation(ctx context.Context, id string) (*model.FunctionInvocation, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+invocationColumns+` FROM function_invocations WHERE id = $1`, id)
	inv, err := scanInvocation(row)
	if err != nil {
		return nil, notFound(err)
	}
	return inv, nil
}

func (db *DB) UpdateFunctionInvocation(ctx context.Context, inv *model.FunctionInvocation) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE function_invocations
		 SET response_status = $2, response_body = $3, error_message = $4, duration_ms = $5, completed_at = $6
		 WHERE id = $1`,
		inv.ID, inv.ResponseStatus, inv.ResponseBody, inv.ErrorMessage, inv.DurationMs, inv.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (db *DB) ListFunctionInvocations(ctx context.Context, appID string, limit, offset int) ([]*model.FunctionInvocation, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM function_invocations WHERE application_id = $1`, appID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+invocationColumns+` FROM function_invocations
		 WHERE application_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		appID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invs []*model.FunctionInvocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, 0, err
		}
		invs = append(invs, inv)
	}
	return invs, total, rows.Err()
}

func scanInvocation(row pgx.Row) (*model.FunctionInvocation, error) {
	var inv model.FunctionInvocation
	var headers []byte
	err := row.Scan(&inv.ID, &inv.ApplicationID, &inv.VersionID, &inv.TriggerSource, &inv.RequestMethod,
		&inv.RequestPath, &headers, &inv.RequestBody, &inv.ResponseStatus, &inv.ResponseBody,
		&inv.ErrorMessage, &inv.DurationMs, &inv.StartedAt, &inv.CompletedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(headers, &inv.RequestHeaders)
	return &inv, nil
}

// --- Events ---

const functionEventColumns = `id, application_id, event_type, event_source, event_data, processing_status,
	retry_count, max_retries, invocation_id, error_message, created_at, processed_at`

func (db *DB) CreateFunctionEvent(ctx context.Context, ev *model.FunctionEvent) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO function_events (`+functionEventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID, ev.ApplicationID, ev.EventType, ev.EventSource, marshal(ev.EventData), ev.ProcessingStatus,
		ev.RetryCount, ev.MaxRetries, ev.InvocationID, ev.ErrorMessage, ev.CreatedAt, ev.ProcessedAt,
	)
	return err
}

func (db *DB) GetFunctionEvent(ctx context.Context, id string) (*model.FunctionEvent, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+functionEventColumns+` FROM function_events WHERE id = $1`, id)
	ev, err := scanFunctionEvent(row)
	if err != nil {
		return nil, notFound(err)
	}
	return ev, nil
}

func (db *DB) UpdateFunctionEvent(ctx context.Context, ev *model.FunctionEvent) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE function_events
		 SET processing_status = $2, retry_count = $3, invocation_id = $4, error_message = $5, processed_at = $6
		 WHERE id = $1`,
		ev.ID, ev.ProcessingStatus, ev.RetryCount, ev.InvocationID, ev.ErrorMessage, ev.ProcessedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// ListFunctionEvents returns an application's events that still need
// processing (pending or retry), oldest first.
func (db *DB) ListFunctionEvents(ctx context.Context, appID string, limit int) ([]*model.FunctionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.queryFunctionEvents(ctx,
		`SELECT `+functionEventColumns+` FROM function_events
		 WHERE application_id = $1 AND processing_status IN ('pending', 'retry')
		 ORDER BY created_at ASC LIMIT $2`,
		appID, limit,
	)
}

// ListPendingFunctionEvents is the cross-application variant used by the
// retry driver.
func (db *DB) ListPendingFunctionEvents(ctx context.Context, limit int) ([]*model.FunctionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.queryFunctionEvents(ctx,
		`SELECT `+functionEventColumns+` FROM function_events
		 WHERE processing_status IN ('pending', 'retry')
		 ORDER BY created_at ASC LIMIT $1`,
		limit,
	)
}

func (db *DB) queryFunctionEvents(ctx context.Context, sql string, args ...interface{}) ([]*model.FunctionEvent, error) {
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.FunctionEvent
	for rows.Next() {
		ev, err := scanFunctionEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanFunctionEvent(row pgx.Row) (*model.FunctionEvent, error) {
	var ev model.FunctionEvent
	var data []byte
	err := row.Scan(&ev.ID, &ev.ApplicationID, &ev.EventType, &ev.EventSource, &data, &ev.ProcessingStatus,
		&ev.RetryCount, &ev.MaxRetries, &ev.InvocationID, &ev.ErrorMessage, &ev.CreatedAt, &ev.ProcessedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(data, &ev.EventData)
	return &ev, nil
}
