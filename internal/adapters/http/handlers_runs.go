package httpadapter

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

const (
	defaultEventLimit = 200
	maxEventLimit     = 1000
)

func (rt *Router) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := rt.services.Runs.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (rt *Router) latestRun(w http.ResponseWriter, r *http.Request) {
	dataset := strings.TrimSpace(r.URL.Query().Get("dataset"))
	if dataset == "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "latest run", fmt.Errorf("dataset is required")))
		return
	}
	run, err := rt.services.Runs.LatestRun(r.Context(), dataset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (rt *Router) runEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultEventLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit == 0 || limit > maxEventLimit {
		limit = maxEventLimit
	}
	runID := chi.URLParam(r, "run_id")
	if _, err := rt.services.Runs.GetRun(r.Context(), runID); err != nil {
		writeError(w, r, err)
		return
	}
	events, err := rt.services.Runs.ListEvents(r.Context(), runID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "events": events})
}

func (rt *Router) getCase(w http.ResponseWriter, r *http.Request) {
	kase, err := rt.services.Cases.GetCase(r.Context(), chi.URLParam(r, "case_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, kase)
}
