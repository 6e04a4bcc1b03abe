package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/infrastructure/resilience"
)

const schemaLockKey int64 = 2026031501

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates every table the pipeline uses. DDL runs under an
// advisory lock so api, worker and casectl can start concurrently.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS cases (
	case_id TEXT PRIMARY KEY,
	dataset TEXT NOT NULL,
	narrative TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	classification TEXT NOT NULL,
	confidence DOUBLE PRECISION,
	categories JSONB NOT NULL DEFAULT '[]'::jsonb,
	loss_bucket TEXT NOT NULL DEFAULT '',
	loss_amount DOUBLE PRECISION,
	channel TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	observed_at TIMESTAMPTZ,
	ingestion_run_id TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_cases_dataset ON cases(dataset);
CREATE INDEX IF NOT EXISTS idx_cases_classification ON cases(classification);
CREATE INDEX IF NOT EXISTS idx_cases_loss_bucket ON cases(loss_bucket);
CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at DESC);

CREATE TABLE IF NOT EXISTS case_entities (
	case_id TEXT NOT NULL REFERENCES cases(case_id) ON DELETE CASCADE,
	entity_type TEXT NOT NULL,
	entity_value TEXT NOT NULL,
	display_value TEXT NOT NULL,
	confidence DOUBLE PRECISION,
	PRIMARY KEY (case_id, entity_type, entity_value)
);

CREATE INDEX IF NOT EXISTS idx_case_entities_lookup ON case_entities(entity_type, entity_value text_pattern_ops);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	run_id TEXT PRIMARY KEY,
	dataset TEXT NOT NULL,
	status TEXT NOT NULL,
	enabled_backends JSONB NOT NULL DEFAULT '[]'::jsonb,
	case_count INTEGER NOT NULL DEFAULT 0,
	structured_writes INTEGER NOT NULL DEFAULT 0,
	document_writes INTEGER NOT NULL DEFAULT 0,
	search_writes INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_dataset ON ingestion_runs(dataset, started_at DESC);

CREATE TABLE IF NOT EXISTS ingestion_run_events (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES ingestion_runs(run_id) ON DELETE CASCADE,
	case_id TEXT NOT NULL DEFAULT '',
	backend TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingestion_run_events_run ON ingestion_run_events(run_id, id);

CREATE TABLE IF NOT EXISTS ingestion_retry_queue (
	retry_id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL,
	backend TEXT NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	next_attempt_at TIMESTAMPTZ NOT NULL,
	claim_token TEXT,
	claimed_until TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (case_id, backend)
);

CREATE INDEX IF NOT EXISTS idx_ingestion_retry_queue_due ON ingestion_retry_queue(next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_ingestion_retry_queue_run ON ingestion_retry_queue(run_id);

CREATE TABLE IF NOT EXISTS ingestion_retry_failures (
	retry_id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL,
	backend TEXT NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL,
	attempt_count INTEGER NOT NULL,
	reason TEXT NOT NULL,
	failed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS saved_searches (
	search_id TEXT PRIMARY KEY,
	owner TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	name_key TEXT NOT NULL,
	params JSONB NOT NULL DEFAULT '{}'::jsonb,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	favorite BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_saved_searches_scope_name ON saved_searches(owner, name_key);
CREATE INDEX IF NOT EXISTS idx_saved_searches_tags ON saved_searches USING GIN (tags);
`

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ClassifyError decides how a failed Postgres call is retried. Constraint and
// data errors (SQLSTATE classes 22 and 23) are rejections; connection and
// serialization failures are transient.
func ClassifyError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23", "42":
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		case "08", "40", "53", "57":
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.Classify(err)
}

func notFound(op, id string) error {
	return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("id=%s", id))
}
