package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

// RunRepository is the Run Tracker: counters are incremented in place so
// concurrent case workers never lose updates.
type RunRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db, now: time.Now}
}

const runColumns = `run_id, dataset, status, enabled_backends, case_count, structured_writes, document_writes,
	search_writes, retry_count, last_error, started_at, completed_at`

func (r *RunRepository) StartRun(ctx context.Context, run *domain.IngestionRun) error {
	backends, err := json.Marshal(run.EnabledBackends)
	if err != nil {
		return fmt.Errorf("marshal enabled backends: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO ingestion_runs (run_id, dataset, status, enabled_backends, started_at)
VALUES ($1,$2,$3,$4,$5)
`, run.RunID, run.Dataset, string(run.Status), backends, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert ingestion run: %w", err)
	}
	return nil
}

func (r *RunRepository) RecordCase(ctx context.Context, runID string) error {
	return r.increment(ctx, runID, "case_count", 1)
}

func (r *RunRepository) RecordWrite(ctx context.Context, runID string, backend domain.Backend) error {
	column, ok := writeColumns[backend]
	if !ok {
		return domain.WrapError(domain.ErrInvalidInput, "record write", fmt.Errorf("unknown backend %q", backend))
	}
	return r.increment(ctx, runID, column, 1)
}

func (r *RunRepository) IncrementRetry(ctx context.Context, runID string, n int) error {
	return r.increment(ctx, runID, "retry_count", n)
}

var writeColumns = map[domain.Backend]string{
	domain.BackendStructured: "structured_writes",
	domain.BackendDocument:   "document_writes",
	domain.BackendSearch:     "search_writes",
}

// column is always one of a fixed set of identifiers, never user input.
func (r *RunRepository) increment(ctx context.Context, runID, column string, n int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET `+column+` = `+column+` + $2 WHERE run_id = $1`,
		runID, n,
	)
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return requireRow(result, "increment "+column, runID)
}

func (r *RunRepository) RecordError(ctx context.Context, runID, message string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE ingestion_runs SET last_error = $2 WHERE run_id = $1`, runID, message)
	if err != nil {
		return fmt.Errorf("record run error: %w", err)
	}
	return requireRow(result, "record run error", runID)
}

func (r *RunRepository) AppendEvent(ctx context.Context, event domain.RunEvent) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO ingestion_run_events (run_id, case_id, backend, kind, detail, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, event.RunID, event.CaseID, string(event.Backend), string(event.Kind), event.Detail, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("append run event: %w", err)
	}
	return nil
}

// CompleteRun sets the terminal status once; a run already completed keeps
// its first status.
func (r *RunRepository) CompleteRun(ctx context.Context, runID string, status domain.RunStatus) (*domain.IngestionRun, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE ingestion_runs
SET status = $2, completed_at = COALESCE(completed_at, $3)
WHERE run_id = $1 AND (completed_at IS NULL OR status = $2)
RETURNING `+runColumns,
		runID, string(status), r.now().UTC(),
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrConflict, "complete run", fmt.Errorf("run %s missing or already completed", runID))
		}
		return nil, fmt.Errorf("complete run: %w", err)
	}
	return run, nil
}

func (r *RunRepository) GetRun(ctx context.Context, runID string) (*domain.IngestionRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM ingestion_runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("get run", runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (r *RunRepository) LatestRun(ctx context.Context, dataset string) (*domain.IngestionRun, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+runColumns+`
FROM ingestion_runs
WHERE dataset = $1
ORDER BY started_at DESC, run_id DESC
LIMIT 1
`, dataset)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "latest run", fmt.Errorf("dataset=%s", dataset))
		}
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

func (r *RunRepository) ListEvents(ctx context.Context, runID string, limit int) ([]domain.RunEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, case_id, backend, kind, detail, created_at
FROM ingestion_run_events
WHERE run_id = $1
ORDER BY id
LIMIT $2
`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RunEvent, 0)
	for rows.Next() {
		var e domain.RunEvent
		var backend, kind string
		if err := rows.Scan(&e.RunID, &e.CaseID, &backend, &kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Backend = domain.Backend(backend)
		e.Kind = domain.RunEventKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run events: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.IngestionRun, error) {
	var run domain.IngestionRun
	var status string
	var backendsRaw []byte
	var completedAt sql.NullTime
	err := row.Scan(
		&run.RunID,
		&run.Dataset,
		&status,
		&backendsRaw,
		&run.CaseCount,
		&run.StructuredWrites,
		&run.DocumentWrites,
		&run.SearchWrites,
		&run.RetryCount,
		&run.LastError,
		&run.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	if len(backendsRaw) > 0 {
		if err := json.Unmarshal(backendsRaw, &run.EnabledBackends); err != nil {
			return nil, fmt.Errorf("unmarshal enabled backends: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}

func requireRow(result sql.Result, op, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return notFound(op, id)
	}
	return nil
}
