package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

func TestCreateSavedSearchMapsUniqueViolationToConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSavedSearchRepository(db)

	mock.ExpectExec("INSERT INTO saved_searches").
		WithArgs("s1", "ana", "Romance Wallets", "romance wallets", []byte(`{}`), []byte(`[]`), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_saved_searches_scope_name"})

	err := repo.Create(context.Background(), &domain.SavedSearch{
		SearchID: "s1",
		Owner:    "ana",
		Name:     "Romance Wallets",
		Params:   json.RawMessage(`{}`),
	})
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestUpdateSavedSearchReturnsNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSavedSearchRepository(db)

	mock.ExpectExec("UPDATE saved_searches").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &domain.SavedSearch{SearchID: "missing", Name: "x", Params: json.RawMessage(`{}`)})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestListSavedSearchesByTag(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSavedSearchRepository(db)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("jsonb_array_elements_text").
		WithArgs("ana", "weekly", 100).
		WillReturnRows(sqlmock.NewRows([]string{"search_id", "owner", "name", "params", "tags", "favorite", "created_at", "updated_at"}).
			AddRow("s1", "ana", "Romance", []byte(`{"text":"romance"}`), []byte(`["weekly"]`), true, at, at).
			AddRow("s2", "", "Shared", []byte(`{}`), []byte(`["Weekly","triage"]`), false, at, at))

	got, err := repo.List(context.Background(), domain.SavedSearchQuery{Owner: "ana", Tag: "weekly", Limit: 100})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || !got[0].Favorite || !got[1].Shared() || len(got[1].Tags) != 2 {
		t.Fatalf("unexpected searches: %+v", got)
	}
	expectationsMet(t, mock)
}

func TestDeleteByTagReturnsCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSavedSearchRepository(db)

	mock.ExpectExec("DELETE FROM saved_searches").
		WithArgs("ana", "stale").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteByTag(context.Background(), "ana", "stale")
	if err != nil {
		t.Fatalf("DeleteByTag() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	expectationsMet(t, mock)
}

func TestListTagPresets(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSavedSearchRepository(db)

	mock.ExpectQuery("GROUP BY LOWER").
		WithArgs("ana").
		WillReturnRows(sqlmock.NewRows([]string{"tag", "count"}).AddRow("weekly", 4).AddRow("triage", 1))

	got, err := repo.ListTagPresets(context.Background(), "ana")
	if err != nil {
		t.Fatalf("ListTagPresets() error = %v", err)
	}
	if len(got) != 2 || got[0].Tag != "weekly" || got[0].Count != 4 {
		t.Fatalf("unexpected presets: %+v", got)
	}
	expectationsMet(t, mock)
}
