package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type SavedSearch struct {
	SearchID  string          `json:"search_id"`
	Name      string          `json:"name"`
	Owner     string          `json:"owner,omitempty"`
	Params    json.RawMessage `json:"params"`
	Tags      []string        `json:"tags"`
	Favorite  bool            `json:"favorite"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Shared reports whether the search is visible to every owner.
func (s *SavedSearch) Shared() bool {
	return s.Owner == ""
}

// NameKey is the case-insensitive uniqueness key of a name within its scope.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

type SavedSearchPatch struct {
	Name     *string          `json:"name,omitempty"`
	Params   *json.RawMessage `json:"params,omitempty"`
	Tags     *[]string        `json:"tags,omitempty"`
	Favorite *bool            `json:"favorite,omitempty"`
}

type SavedSearchQuery struct {
	Owner string
	Tag   string
	Limit int
}

type TagOperation string

const (
	TagAdd     TagOperation = "add"
	TagRemove  TagOperation = "remove"
	TagReplace TagOperation = "replace"
)

// BulkTagRequest selects searches by ids or, when ids are empty, by FilterTag.
type BulkTagRequest struct {
	Owner     string       `json:"owner,omitempty"`
	SearchIDs []string     `json:"search_ids,omitempty"`
	FilterTag string       `json:"filter_tag,omitempty"`
	Operation TagOperation `json:"operation"`
	Tags      []string     `json:"tags"`
}

// NormalizeTags trims, drops empties and deduplicates case-insensitively,
// keeping the first spelling.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

// ApplyTags returns the result of applying op to current.
func ApplyTags(current []string, op TagOperation, tags []string) []string {
	tags = NormalizeTags(tags)
	switch op {
	case TagReplace:
		return tags
	case TagRemove:
		drop := make(map[string]bool, len(tags))
		for _, tag := range tags {
			drop[strings.ToLower(tag)] = true
		}
		out := make([]string, 0, len(current))
		for _, tag := range current {
			if !drop[strings.ToLower(tag)] {
				out = append(out, tag)
			}
		}
		return NormalizeTags(out)
	default:
		return NormalizeTags(append(append([]string(nil), current...), tags...))
	}
}

type TagPreset struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}
