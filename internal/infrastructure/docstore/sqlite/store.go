// Package sqlite is the document backend: one denormalized JSON view per case,
// keyed by case_id, stored in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/infrastructure/resilience"
)

// MaxDocumentBytes bounds one stored case view.
const MaxDocumentBytes = 1 << 20

const schema = `
CREATE TABLE IF NOT EXISTS case_documents (
	case_id TEXT PRIMARY KEY,
	dataset TEXT NOT NULL,
	classification TEXT NOT NULL,
	document TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_case_documents_dataset ON case_documents(dataset);
`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the store at path and applies the
// production pragmas. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("docstore mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("docstore open: %w", err)
	}
	// pragmas are per connection and :memory: is per connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("docstore %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("docstore schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("docstore ping: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutCase upserts the case view. Re-putting the same case replaces it.
func (s *Store) PutCase(ctx context.Context, c *domain.Case) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return domain.WrapError(domain.ErrPermanentWrite, "encode case document", err)
	}
	if len(doc) > MaxDocumentBytes {
		return domain.WrapError(domain.ErrPermanentWrite, "put case document",
			fmt.Errorf("document for %s is %d bytes, limit %d", c.CaseID, len(doc), MaxDocumentBytes))
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO case_documents (case_id, dataset, classification, document, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(case_id) DO UPDATE SET
	dataset = excluded.dataset,
	classification = excluded.classification,
	document = excluded.document,
	updated_at = excluded.updated_at
`, c.CaseID, c.Dataset, c.Classification, string(doc), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put case document: %w", err)
	}
	return nil
}

func (s *Store) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM case_documents WHERE case_id = ?`, caseID).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get case document", fmt.Errorf("case_id=%s", caseID))
		}
		return nil, fmt.Errorf("get case document: %w", err)
	}
	var c domain.Case
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("decode case document: %w", err)
	}
	return &c, nil
}

func (s *Store) CountCases(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM case_documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count case documents: %w", err)
	}
	return n, nil
}

// ClassifyError treats lock contention and I/O hiccups as transient and
// constraint, size and corruption errors as rejections.
func ClassifyError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_PROTOCOL:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_TOOBIG, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_FULL:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}
	return resilience.Classify(err)
}
