package httpadapter

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

type savedSearchBody struct {
	Name     string          `json:"name"`
	Owner    string          `json:"owner"`
	Params   json.RawMessage `json:"params"`
	Tags     []string        `json:"tags"`
	Favorite bool            `json:"favorite"`
}

func (rt *Router) listSavedSearches(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	items, err := rt.services.SavedSearches.List(r.Context(), domain.SavedSearchQuery{
		Owner: q.Get("owner"),
		Tag:   q.Get("tag"),
		Limit: limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (rt *Router) createSavedSearch(w http.ResponseWriter, r *http.Request) {
	var body savedSearchBody
	if err := decodeJSON(r, &body, false); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := rt.services.SavedSearches.Create(r.Context(), domain.SavedSearch{
		Name:     body.Name,
		Owner:    body.Owner,
		Params:   body.Params,
		Tags:     body.Tags,
		Favorite: body.Favorite,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type importSavedSearchBody struct {
	Owner  string             `json:"owner"`
	Search domain.SavedSearch `json:"search"`
}

func (rt *Router) importSavedSearch(w http.ResponseWriter, r *http.Request) {
	var body importSavedSearchBody
	if err := decodeJSON(r, &body, false); err != nil {
		writeError(w, r, err)
		return
	}
	imported, err := rt.services.SavedSearches.Import(r.Context(), body.Owner, body.Search)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, imported)
}

func (rt *Router) getSavedSearch(w http.ResponseWriter, r *http.Request) {
	s, err := rt.services.SavedSearches.Get(r.Context(), chi.URLParam(r, "search_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (rt *Router) updateSavedSearch(w http.ResponseWriter, r *http.Request) {
	var patch domain.SavedSearchPatch
	if err := decodeJSON(r, &patch, false); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := rt.services.SavedSearches.Update(r.Context(), chi.URLParam(r, "search_id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (rt *Router) deleteSavedSearch(w http.ResponseWriter, r *http.Request) {
	if err := rt.services.SavedSearches.Delete(r.Context(), chi.URLParam(r, "search_id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) cloneSavedSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner string `json:"owner"`
		Name  string `json:"name"`
	}
	if err := decodeJSON(r, &body, true); err != nil {
		writeError(w, r, err)
		return
	}
	clone, err := rt.services.SavedSearches.Clone(r.Context(), chi.URLParam(r, "search_id"), body.Owner, body.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, clone)
}

func (rt *Router) bulkTags(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkTagRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := rt.services.SavedSearches.BulkTags(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": updated, "updated": len(updated)})
}

func (rt *Router) pruneTag(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner string `json:"owner"`
		Tag   string `json:"tag"`
	}
	if err := decodeJSON(r, &body, false); err != nil {
		writeError(w, r, err)
		return
	}
	deleted, err := rt.services.SavedSearches.PruneTag(r.Context(), body.Owner, body.Tag)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (rt *Router) tagPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := rt.services.SavedSearches.TagPresets(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": presets})
}
