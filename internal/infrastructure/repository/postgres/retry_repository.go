package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

// RetryRepository is the durable retry queue. Workers claim entries with
// FOR UPDATE SKIP LOCKED and a claim token; every later transition is
// conditional on that token so two workers never both finish an entry.
type RetryRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRetryRepository(db *sql.DB) *RetryRepository {
	return &RetryRepository{db: db, now: time.Now}
}

const retryColumns = `retry_id, case_id, backend, run_id, payload, attempt_count, last_error, next_attempt_at, created_at`

// Enqueue keeps one live entry per (case_id, backend). Re-enqueueing refreshes
// the payload and eligibility and keeps the attempt count. It also drops any
// claim, so a worker still replaying the older payload cannot complete or
// dead-letter the refreshed one.
func (r *RetryRepository) Enqueue(ctx context.Context, entry *domain.RetryEntry) error {
	if entry.RetryID == "" {
		entry.RetryID = uuid.NewString()
	}
	now := r.now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.NextAttemptAt.IsZero() {
		entry.NextAttemptAt = now
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO ingestion_retry_queue (
	retry_id, case_id, backend, run_id, payload, attempt_count, last_error, next_attempt_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (case_id, backend) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	payload = EXCLUDED.payload,
	last_error = EXCLUDED.last_error,
	next_attempt_at = EXCLUDED.next_attempt_at,
	claim_token = NULL,
	claimed_until = NULL,
	updated_at = EXCLUDED.updated_at
RETURNING retry_id, attempt_count
`,
		entry.RetryID, entry.CaseID, string(entry.Backend), entry.RunID, entry.Payload, entry.AttemptCount,
		entry.LastError, entry.NextAttemptAt.UTC(), entry.CreatedAt.UTC(), now,
	)
	if err := row.Scan(&entry.RetryID, &entry.AttemptCount); err != nil {
		return fmt.Errorf("enqueue retry entry: %w", err)
	}
	return nil
}

func (r *RetryRepository) Claim(ctx context.Context, limit int, lease time.Duration) ([]domain.RetryEntry, error) {
	now := r.now().UTC()
	token := uuid.NewString()
	rows, err := r.db.QueryContext(ctx, `
WITH due AS (
	SELECT retry_id
	FROM ingestion_retry_queue
	WHERE next_attempt_at <= $1 AND (claimed_until IS NULL OR claimed_until < $1)
	ORDER BY next_attempt_at, retry_id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
UPDATE ingestion_retry_queue q
SET claim_token = $3, claimed_until = $4, updated_at = $1
FROM due
WHERE q.retry_id = due.retry_id
RETURNING q.retry_id, q.case_id, q.backend, q.run_id, q.payload, q.attempt_count, q.last_error, q.next_attempt_at, q.created_at
`, now, limit, token, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claim retry entries: %w", err)
	}
	entries, err := scanRetryEntries(rows)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].ClaimToken = token
	}
	return entries, nil
}

// Peek lists due entries without claiming them.
func (r *RetryRepository) Peek(ctx context.Context, limit int) ([]domain.RetryEntry, error) {
	now := r.now().UTC()
	rows, err := r.db.QueryContext(ctx, `
SELECT `+retryColumns+`
FROM ingestion_retry_queue
WHERE next_attempt_at <= $1 AND (claimed_until IS NULL OR claimed_until < $1)
ORDER BY next_attempt_at, retry_id
LIMIT $2
`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("peek retry entries: %w", err)
	}
	return scanRetryEntries(rows)
}

func (r *RetryRepository) Complete(ctx context.Context, entry domain.RetryEntry) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM ingestion_retry_queue WHERE retry_id = $1 AND claim_token = $2`,
		entry.RetryID, entry.ClaimToken,
	)
	if err != nil {
		return fmt.Errorf("complete retry entry: %w", err)
	}
	return requireClaim(result, "complete retry entry", entry.RetryID)
}

func (r *RetryRepository) Reschedule(ctx context.Context, entry domain.RetryEntry, nextAttemptAt time.Time, lastErr string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE ingestion_retry_queue
SET attempt_count = attempt_count + 1, last_error = $3, next_attempt_at = $4,
	claim_token = NULL, claimed_until = NULL, updated_at = $5
WHERE retry_id = $1 AND claim_token = $2
`, entry.RetryID, entry.ClaimToken, lastErr, nextAttemptAt.UTC(), r.now().UTC())
	if err != nil {
		return fmt.Errorf("reschedule retry entry: %w", err)
	}
	return requireClaim(result, "reschedule retry entry", entry.RetryID)
}

// DeadLetter moves a claimed entry into ingestion_retry_failures atomically.
func (r *RetryRepository) DeadLetter(ctx context.Context, entry domain.RetryEntry, reason string) error {
	result, err := r.db.ExecContext(ctx, `
WITH moved AS (
	DELETE FROM ingestion_retry_queue
	WHERE retry_id = $1 AND claim_token = $2
	RETURNING retry_id, case_id, backend, run_id, payload, attempt_count
)
INSERT INTO ingestion_retry_failures (retry_id, case_id, backend, run_id, payload, attempt_count, reason, failed_at)
SELECT retry_id, case_id, backend, run_id, payload, attempt_count + 1, $3, $4 FROM moved
ON CONFLICT (retry_id) DO UPDATE SET
	attempt_count = EXCLUDED.attempt_count,
	reason = EXCLUDED.reason,
	failed_at = EXCLUDED.failed_at
`, entry.RetryID, entry.ClaimToken, reason, r.now().UTC())
	if err != nil {
		return fmt.Errorf("dead-letter retry entry: %w", err)
	}
	return requireClaim(result, "dead-letter retry entry", entry.RetryID)
}

func (r *RetryRepository) RecordFailure(ctx context.Context, entry domain.RetryEntry, reason string) error {
	if entry.RetryID == "" {
		entry.RetryID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO ingestion_retry_failures (retry_id, case_id, backend, run_id, payload, attempt_count, reason, failed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (retry_id) DO NOTHING
`, entry.RetryID, entry.CaseID, string(entry.Backend), entry.RunID, entry.Payload, max(1, entry.AttemptCount), reason, r.now().UTC())
	if err != nil {
		return fmt.Errorf("record write failure: %w", err)
	}
	return nil
}

func (r *RetryRepository) CountOutstanding(ctx context.Context, runID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ingestion_retry_queue WHERE run_id = $1`, runID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outstanding retries: %w", err)
	}
	return n, nil
}

func (r *RetryRepository) ListDeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT retry_id, case_id, backend, run_id, attempt_count, reason, failed_at
FROM ingestion_retry_failures
ORDER BY failed_at DESC, retry_id
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DeadLetter, 0)
	for rows.Next() {
		var d domain.DeadLetter
		var backend string
		if err := rows.Scan(&d.RetryID, &d.CaseID, &backend, &d.RunID, &d.AttemptCount, &d.Reason, &d.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		d.Backend = domain.Backend(backend)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

func scanRetryEntries(rows *sql.Rows) ([]domain.RetryEntry, error) {
	defer rows.Close()
	out := make([]domain.RetryEntry, 0)
	for rows.Next() {
		var e domain.RetryEntry
		var backend string
		if err := rows.Scan(
			&e.RetryID,
			&e.CaseID,
			&backend,
			&e.RunID,
			&e.Payload,
			&e.AttemptCount,
			&e.LastError,
			&e.NextAttemptAt,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan retry entry: %w", err)
		}
		e.Backend = domain.Backend(backend)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retry entries: %w", err)
	}
	return out, nil
}

func requireClaim(result sql.Result, op, retryID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return domain.WrapError(domain.ErrConflict, op, fmt.Errorf("claim on %s lost", retryID))
	}
	return nil
}
