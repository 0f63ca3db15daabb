package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"appcore/api/apperr"
)

type DB struct {
	pool *pgxpool.Pool
}

func Connect(databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *DB) QueryRow(ctx context.Context, sql string, args ...interface{}) interface{ Scan(...interface{}) error } {
	return db.pool.QueryRow(ctx, sql, args...)
}

func Migrate(db *DB) error {
	ctx := context.Background()
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS applications (
			id              TEXT PRIMARY KEY,
			workspace_id    TEXT NOT NULL,
			project_id      TEXT NOT NULL,
			name            TEXT NOT NULL,
			type            TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			source          JSONB NOT NULL DEFAULT '{}',
			config          JSONB NOT NULL DEFAULT '{}',
			endpoints       JSONB NOT NULL DEFAULT '[]',
			metadata        JSONB NOT NULL DEFAULT '{}',
			backup          JSONB,
			cron_schedule   TEXT NOT NULL DEFAULT '',
			cron_command    JSONB NOT NULL DEFAULT '[]',
			cron_args       JSONB NOT NULL DEFAULT '[]',
			template_app_id TEXT NOT NULL DEFAULT '',
			function        JSONB,
			version         BIGINT NOT NULL DEFAULT 1,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (workspace_id, project_id, name)
		);
		CREATE INDEX IF NOT EXISTS idx_applications_workspace ON applications(workspace_id, project_id);

		CREATE TABLE IF NOT EXISTS application_events (
			id             TEXT PRIMARY KEY,
			application_id TEXT NOT NULL,
			type           TEXT NOT NULL,
			message        TEXT NOT NULL DEFAULT '',
			details        TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_application_events_app
			ON application_events(application_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS cronjob_executions (
			id             TEXT PRIMARY KEY,
			application_id TEXT NOT NULL,
			job_name       TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'running',
			exit_code      INT,
			logs           TEXT NOT NULL DEFAULT '',
			started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at   TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_cronjob_exec_app ON cronjob_executions(application_id, started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_cronjob_exec_status ON cronjob_executions(status);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_cronjob_exec_job
			ON cronjob_executions(application_id, job_name);

		CREATE TABLE IF NOT EXISTS function_versions (
			id             TEXT PRIMARY KEY,
			application_id TEXT NOT NULL,
			version_number INT NOT NULL,
			source_code    TEXT NOT NULL DEFAULT '',
			source_type    TEXT NOT NULL DEFAULT 'inline',
			source_url     TEXT NOT NULL DEFAULT '',
			build_status   TEXT NOT NULL DEFAULT 'pending',
			build_logs     TEXT NOT NULL DEFAULT '',
			image_uri      TEXT NOT NULL DEFAULT '',
			is_active      BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			deployed_at    TIMESTAMPTZ,
			UNIQUE (application_id, version_number)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_function_versions_active
			ON function_versions(application_id) WHERE is_active;

		CREATE TABLE IF NOT EXISTS function_invocations (
			id              TEXT PRIMARY KEY,
			application_id  TEXT NOT NULL,
			version_id      TEXT NOT NULL,
			trigger_source  TEXT NOT NULL DEFAULT 'http',
			request_method  TEXT NOT NULL DEFAULT '',
			request_path    TEXT NOT NULL DEFAULT '',
			request_headers JSONB NOT NULL DEFAULT '{}',
			request_body    BYTEA,
			response_status INT NOT NULL DEFAULT 0,
			response_body   BYTEA,
			error_message   TEXT NOT NULL DEFAULT '',
			duration_ms     BIGINT NOT NULL DEFAULT 0,
			started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at    TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_function_invocations_app
			ON function_invocations(application_id, started_at DESC);

		CREATE TABLE IF NOT EXISTS function_events (
			id                TEXT PRIMARY KEY,
			application_id    TEXT NOT NULL,
			event_type        TEXT NOT NULL,
			event_source      TEXT NOT NULL DEFAULT '',
			event_data        JSONB NOT NULL DEFAULT '{}',
			processing_status TEXT NOT NULL DEFAULT 'pending',
			retry_count       INT NOT NULL DEFAULT 0,
			max_retries       INT NOT NULL DEFAULT 3,
			invocation_id     TEXT NOT NULL DEFAULT '',
			error_message     TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			processed_at      TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_function_events_status
			ON function_events(processing_status, created_at);

		CREATE TABLE IF NOT EXISTS backup_policies (
			id                  TEXT PRIMARY KEY,
			application_id      TEXT NOT NULL,
			storage_id          TEXT NOT NULL DEFAULT '',
			enabled             BOOLEAN NOT NULL DEFAULT TRUE,
			schedule            TEXT NOT NULL,
			retention_days      INT NOT NULL DEFAULT 0,
			backup_type         TEXT NOT NULL DEFAULT 'full',
			include_volumes     BOOLEAN NOT NULL DEFAULT FALSE,
			include_database    BOOLEAN NOT NULL DEFAULT FALSE,
			include_config      BOOLEAN NOT NULL DEFAULT FALSE,
			compression_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			encryption_enabled  BOOLEAN NOT NULL DEFAULT FALSE,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_backup_policies_app ON backup_policies(application_id);

		CREATE TABLE IF NOT EXISTS backup_executions (
			id                    TEXT PRIMARY KEY,
			policy_id             TEXT NOT NULL DEFAULT '',
			application_id        TEXT NOT NULL,
			cronjob_execution_id  TEXT NOT NULL DEFAULT '',
			status                TEXT NOT NULL DEFAULT 'running',
			backup_path           TEXT NOT NULL DEFAULT '',
			metadata              JSONB NOT NULL DEFAULT '{}',
			error_message         TEXT NOT NULL DEFAULT '',
			started_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at          TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_backup_exec_cronjob ON backup_executions(cronjob_execution_id);
	`)
	return err
}

// notFound maps pgx.ErrNoRows to apperr.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func marshal(v any) []byte {
	if v == nil {
		return nil
	}
	b, _ := json.Marshal(v)
	return b
}
