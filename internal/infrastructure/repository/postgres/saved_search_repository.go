package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

// SavedSearchRepository stores saved searches. Names are unique per owner
// scope, case-insensitively; the empty owner is the shared scope.
type SavedSearchRepository struct {
	db *sql.DB
}

func NewSavedSearchRepository(db *sql.DB) *SavedSearchRepository {
	return &SavedSearchRepository{db: db}
}

const savedSearchColumns = `search_id, owner, name, params, tags, favorite, created_at, updated_at`

func (r *SavedSearchRepository) Create(ctx context.Context, s *domain.SavedSearch) error {
	tags, err := json.Marshal(nonNilStrings(s.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO saved_searches (search_id, owner, name, name_key, params, tags, favorite, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, s.SearchID, s.Owner, s.Name, domain.NameKey(s.Name), []byte(s.Params), tags, s.Favorite, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrConflict, "create saved search", fmt.Errorf("name %q already exists", s.Name))
		}
		return fmt.Errorf("insert saved search: %w", err)
	}
	return nil
}

func (r *SavedSearchRepository) Get(ctx context.Context, searchID string) (*domain.SavedSearch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+savedSearchColumns+` FROM saved_searches WHERE search_id = $1`, searchID)
	s, err := scanSavedSearch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("get saved search", searchID)
		}
		return nil, fmt.Errorf("get saved search: %w", err)
	}
	return s, nil
}

// List returns the owner's searches plus shared ones, favorites first.
func (r *SavedSearchRepository) List(ctx context.Context, q domain.SavedSearchQuery) ([]domain.SavedSearch, error) {
	query := `
SELECT ` + savedSearchColumns + `
FROM saved_searches
WHERE (owner = $1 OR owner = '')
`
	args := []any{q.Owner}
	if q.Tag != "" {
		query += "AND EXISTS (SELECT 1 FROM jsonb_array_elements_text(tags) t WHERE LOWER(t) = LOWER($2))\n"
		args = append(args, q.Tag)
	}
	query += fmt.Sprintf("ORDER BY favorite DESC, name_key, search_id\nLIMIT $%d", len(args)+1)
	args = append(args, q.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list saved searches: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SavedSearch, 0)
	for rows.Next() {
		s, err := scanSavedSearch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saved search: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saved searches: %w", err)
	}
	return out, nil
}

func (r *SavedSearchRepository) Update(ctx context.Context, s *domain.SavedSearch) error {
	tags, err := json.Marshal(nonNilStrings(s.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE saved_searches
SET name = $2, name_key = $3, params = $4, tags = $5, favorite = $6, updated_at = $7
WHERE search_id = $1
`, s.SearchID, s.Name, domain.NameKey(s.Name), []byte(s.Params), tags, s.Favorite, s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrConflict, "update saved search", fmt.Errorf("name %q already exists", s.Name))
		}
		return fmt.Errorf("update saved search: %w", err)
	}
	return requireRow(result, "update saved search", s.SearchID)
}

func (r *SavedSearchRepository) Delete(ctx context.Context, searchID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM saved_searches WHERE search_id = $1`, searchID)
	if err != nil {
		return fmt.Errorf("delete saved search: %w", err)
	}
	return requireRow(result, "delete saved search", searchID)
}

func (r *SavedSearchRepository) DeleteByTag(ctx context.Context, owner, tag string) (int, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM saved_searches
WHERE owner = $1 AND EXISTS (SELECT 1 FROM jsonb_array_elements_text(tags) t WHERE LOWER(t) = LOWER($2))
`, owner, tag)
	if err != nil {
		return 0, fmt.Errorf("delete saved searches by tag: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete saved searches by tag rows affected: %w", err)
	}
	return int(n), nil
}

// ListTagPresets counts tag usage across the owner and shared scopes.
func (r *SavedSearchRepository) ListTagPresets(ctx context.Context, owner string) ([]domain.TagPreset, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT LOWER(t) AS tag, COUNT(*)
FROM saved_searches, jsonb_array_elements_text(tags) t
WHERE owner = $1 OR owner = ''
GROUP BY LOWER(t)
ORDER BY COUNT(*) DESC, tag
`, owner)
	if err != nil {
		return nil, fmt.Errorf("list tag presets: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TagPreset, 0)
	for rows.Next() {
		var p domain.TagPreset
		if err := rows.Scan(&p.Tag, &p.Count); err != nil {
			return nil, fmt.Errorf("scan tag preset: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag presets: %w", err)
	}
	return out, nil
}

func scanSavedSearch(row rowScanner) (*domain.SavedSearch, error) {
	var s domain.SavedSearch
	var params, tags []byte
	if err := row.Scan(&s.SearchID, &s.Owner, &s.Name, &params, &tags, &s.Favorite, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Params = json.RawMessage(params)
	if err := json.Unmarshal(tags, &s.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return &s, nil
}
