package httpadapter

import (
	"net/http"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	var req domain.SearchRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := rt.services.Search.Search(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) schema(w http.ResponseWriter, r *http.Request) {
	schema, err := rt.services.Schema.Schema(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, http.StatusOK, schema)
}
