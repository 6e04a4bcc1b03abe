package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/core/ports"
)

const (
	maxSavedSearchName = 200
	defaultListLimit   = 100
	maxListLimit       = 500
)

type SavedSearchUseCase struct {
	repo ports.SavedSearchRepository
	now  func() time.Time
}

func NewSavedSearchUseCase(repo ports.SavedSearchRepository, now func() time.Time) *SavedSearchUseCase {
	if now == nil {
		now = time.Now
	}
	return &SavedSearchUseCase{repo: repo, now: now}
}

func (uc *SavedSearchUseCase) Create(ctx context.Context, s domain.SavedSearch) (*domain.SavedSearch, error) {
	name, err := validateSavedSearchName(s.Name)
	if err != nil {
		return nil, err
	}
	params, err := validateSavedSearchParams(s.Params)
	if err != nil {
		return nil, err
	}

	now := uc.now().UTC()
	created := &domain.SavedSearch{
		SearchID:  uuid.NewString(),
		Name:      name,
		Owner:     strings.TrimSpace(s.Owner),
		Params:    params,
		Tags:      domain.NormalizeTags(s.Tags),
		Favorite:  s.Favorite,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.repo.Create(ctx, created); err != nil {
		return nil, err
	}
	slog.Info("saved_search_created", "search_id", created.SearchID, "owner", created.Owner, "name", created.Name)
	return created, nil
}

func (uc *SavedSearchUseCase) Get(ctx context.Context, searchID string) (*domain.SavedSearch, error) {
	if strings.TrimSpace(searchID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get saved search", fmt.Errorf("search_id is required"))
	}
	return uc.repo.Get(ctx, searchID)
}

func (uc *SavedSearchUseCase) List(ctx context.Context, q domain.SavedSearchQuery) ([]domain.SavedSearch, error) {
	q.Owner = strings.TrimSpace(q.Owner)
	q.Tag = strings.TrimSpace(q.Tag)
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	q.Limit = min(q.Limit, maxListLimit)
	return uc.repo.List(ctx, q)
}

// Update applies patch. A rename that collides within the owner scope fails
// with ErrConflict and leaves the stored search untouched.
func (uc *SavedSearchUseCase) Update(ctx context.Context, searchID string, patch domain.SavedSearchPatch) (*domain.SavedSearch, error) {
	current, err := uc.Get(ctx, searchID)
	if err != nil {
		return nil, err
	}
	updated := *current
	if patch.Name != nil {
		name, err := validateSavedSearchName(*patch.Name)
		if err != nil {
			return nil, err
		}
		updated.Name = name
	}
	if patch.Params != nil {
		params, err := validateSavedSearchParams(*patch.Params)
		if err != nil {
			return nil, err
		}
		updated.Params = params
	}
	if patch.Tags != nil {
		updated.Tags = domain.NormalizeTags(*patch.Tags)
	}
	if patch.Favorite != nil {
		updated.Favorite = *patch.Favorite
	}
	updated.UpdatedAt = uc.now().UTC()

	if err := uc.repo.Update(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (uc *SavedSearchUseCase) Delete(ctx context.Context, searchID string) error {
	if strings.TrimSpace(searchID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "delete saved search", fmt.Errorf("search_id is required"))
	}
	if err := uc.repo.Delete(ctx, searchID); err != nil {
		return err
	}
	slog.Info("saved_search_deleted", "search_id", searchID)
	return nil
}

// Clone copies a search into owner's scope. An empty name becomes "<name> (copy)".
func (uc *SavedSearchUseCase) Clone(ctx context.Context, searchID, owner, name string) (*domain.SavedSearch, error) {
	source, err := uc.Get(ctx, searchID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = source.Name + " (copy)"
	}
	return uc.Create(ctx, domain.SavedSearch{
		Name:   name,
		Owner:  owner,
		Params: source.Params,
		Tags:   source.Tags,
	})
}

// Import recreates an exported search in owner's scope. The exported id is not
// reused; a name already taken in the scope is a conflict.
func (uc *SavedSearchUseCase) Import(ctx context.Context, owner string, exported domain.SavedSearch) (*domain.SavedSearch, error) {
	params, err := validateSavedSearchParams(exported.Params)
	if err != nil {
		return nil, err
	}
	params, err = dropParam(params, "search_id")
	if err != nil {
		return nil, err
	}
	imported, err := uc.Create(ctx, domain.SavedSearch{
		Name:     exported.Name,
		Owner:    owner,
		Params:   params,
		Tags:     exported.Tags,
		Favorite: exported.Favorite,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("saved_search_imported", "search_id", imported.SearchID, "source_id", exported.SearchID, "owner", imported.Owner)
	return imported, nil
}

// BulkTags edits tags on the searches named by id or, without ids, on every
// search in the owner scope carrying FilterTag.
func (uc *SavedSearchUseCase) BulkTags(ctx context.Context, req domain.BulkTagRequest) ([]domain.SavedSearch, error) {
	switch req.Operation {
	case domain.TagAdd, domain.TagRemove, domain.TagReplace:
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "bulk tags", fmt.Errorf("unsupported operation %q", req.Operation))
	}
	if req.Operation != domain.TagReplace && len(domain.NormalizeTags(req.Tags)) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "bulk tags", fmt.Errorf("tags are required"))
	}

	var targets []domain.SavedSearch
	switch {
	case len(req.SearchIDs) > 0:
		for _, id := range req.SearchIDs {
			s, err := uc.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			targets = append(targets, *s)
		}
	case strings.TrimSpace(req.FilterTag) != "":
		found, err := uc.repo.List(ctx, domain.SavedSearchQuery{Owner: strings.TrimSpace(req.Owner), Tag: strings.TrimSpace(req.FilterTag), Limit: maxListLimit})
		if err != nil {
			return nil, err
		}
		targets = found
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "bulk tags", fmt.Errorf("search_ids or filter_tag is required"))
	}

	now := uc.now().UTC()
	out := make([]domain.SavedSearch, 0, len(targets))
	for _, s := range targets {
		s := s
		s.Tags = domain.ApplyTags(s.Tags, req.Operation, req.Tags)
		s.UpdatedAt = now
		if err := uc.repo.Update(ctx, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	slog.Info("saved_search_tags_updated", "operation", req.Operation, "searches", len(out))
	return out, nil
}

// PruneTag deletes every search in the owner scope that carries tag.
func (uc *SavedSearchUseCase) PruneTag(ctx context.Context, owner, tag string) (int, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return 0, domain.WrapError(domain.ErrInvalidInput, "prune tag", fmt.Errorf("tag is required"))
	}
	n, err := uc.repo.DeleteByTag(ctx, strings.TrimSpace(owner), tag)
	if err != nil {
		return 0, err
	}
	slog.Info("saved_search_tag_pruned", "owner", owner, "tag", tag, "deleted", n)
	return n, nil
}

func (uc *SavedSearchUseCase) TagPresets(ctx context.Context, owner string) ([]domain.TagPreset, error) {
	return uc.repo.ListTagPresets(ctx, strings.TrimSpace(owner))
}

func validateSavedSearchName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "saved search", fmt.Errorf("name is required"))
	}
	if len(name) > maxSavedSearchName {
		return "", domain.WrapError(domain.ErrInvalidInput, "saved search", fmt.Errorf("name exceeds %d characters", maxSavedSearchName))
	}
	return name, nil
}

// validateSavedSearchParams requires a JSON object; empty params become {}.
func validateSavedSearchParams(raw json.RawMessage) (json.RawMessage, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "saved search", fmt.Errorf("params must be a JSON object: %w", err))
	}
	return raw, nil
}

func dropParam(raw json.RawMessage, key string) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "saved search", fmt.Errorf("params must be a JSON object: %w", err))
	}
	if _, ok := obj[key]; !ok {
		return raw, nil
	}
	delete(obj, key)
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode saved search params: %w", err)
	}
	return out, nil
}
