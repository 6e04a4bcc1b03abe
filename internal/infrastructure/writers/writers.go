// Package writers adapts each storage backend to ports.BackendWriter. Every
// write runs through the resilience executor and leaves with a domain error
// kind the orchestrator routes on.
package writers

import (
	"context"
	"fmt"

	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/infrastructure/resilience"
)

type CaseUpserter interface {
	UpsertCase(ctx context.Context, c *domain.Case) error
}

type DocumentPutter interface {
	PutCase(ctx context.Context, c *domain.Case) error
}

// Writer binds one backend to its store call and error classifier.
type Writer struct {
	backend    domain.Backend
	operation  string
	write      func(context.Context, *domain.Case) error
	classifier resilience.ErrorClassifier
	executor   *resilience.Executor
}

func NewStructured(repo CaseUpserter, classifier resilience.ErrorClassifier, executor *resilience.Executor) *Writer {
	return &Writer{
		backend:    domain.BackendStructured,
		operation:  "postgres.upsert_case",
		write:      repo.UpsertCase,
		classifier: classifier,
		executor:   executor,
	}
}

func NewDocument(store DocumentPutter, classifier resilience.ErrorClassifier, executor *resilience.Executor) *Writer {
	return &Writer{
		backend:    domain.BackendDocument,
		operation:  "sqlite.put_case",
		write:      store.PutCase,
		classifier: classifier,
		executor:   executor,
	}
}

func NewSearch(index CaseUpserter, classifier resilience.ErrorClassifier, executor *resilience.Executor) *Writer {
	return &Writer{
		backend:    domain.BackendSearch,
		operation:  "qdrant.upsert_case",
		write:      index.UpsertCase,
		classifier: classifier,
		executor:   executor,
	}
}

func (w *Writer) Backend() domain.Backend {
	return w.backend
}

func (w *Writer) Write(ctx context.Context, c *domain.Case) error {
	if c == nil || c.CaseID == "" {
		return domain.WrapError(domain.ErrPermanentWrite, w.operation, fmt.Errorf("case_id is required"))
	}
	call := func(ctx context.Context) error {
		return w.write(ctx, c)
	}
	var err error
	if w.executor != nil {
		err = w.executor.Execute(ctx, w.operation, call, w.classifier)
	} else {
		err = call(ctx)
	}
	return resilience.WrapBackendError(w.operation, err, w.classifier)
}
