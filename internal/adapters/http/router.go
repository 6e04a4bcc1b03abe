package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/caseindex/internal/config"
	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/core/ports"
	"github.com/kirillkom/caseindex/internal/observability/metrics"
)

const maxRequestBodyBytes = 1 << 20

// Services are the inbound ports the API serves. Metrics is optional.
type Services struct {
	Search        ports.HybridSearcher
	Schema        ports.SchemaProvider
	SavedSearches ports.SavedSearchService
	Runs          ports.RunReader
	Cases         ports.CaseReader
	Metrics       *metrics.HTTPServerMetrics
}

type Router struct {
	cfg      config.Config
	services Services
}

func NewRouter(cfg config.Config, services Services) *Router {
	return &Router{cfg: cfg, services: services}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware, accessLogMiddleware)
	if rt.services.Metrics != nil {
		r.Use(rt.services.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", rt.services.Metrics.Handler())
	}
	r.Get("/healthz", rt.healthz)

	validator, err := newRequestValidator()
	if err != nil {
		slog.Error("openapi_validator_disabled", "error", err)
	}

	r.Group(func(api chi.Router) {
		api.Use(rateLimitMiddleware(rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst))
		api.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, 250*time.Millisecond)
		})
		if validator != nil {
			api.Use(validator.middleware)
		}

		api.Post("/v1/search", rt.search)
		api.Get("/v1/search/schema", rt.schema)

		api.Route("/v1/saved-searches", func(s chi.Router) {
			s.Get("/", rt.listSavedSearches)
			s.Post("/", rt.createSavedSearch)
			s.Get("/tag-presets", rt.tagPresets)
			s.Post("/bulk-tags", rt.bulkTags)
			s.Post("/prune", rt.pruneTag)
			s.Post("/import", rt.importSavedSearch)
			s.Get("/{search_id}", rt.getSavedSearch)
			s.Patch("/{search_id}", rt.updateSavedSearch)
			s.Delete("/{search_id}", rt.deleteSavedSearch)
			s.Post("/{search_id}/clone", rt.cloneSavedSearch)
		})

		api.Get("/v1/runs/latest", rt.latestRun)
		api.Get("/v1/runs/{run_id}", rt.getRun)
		api.Get("/v1/runs/{run_id}/events", rt.runEvents)
		api.Get("/v1/cases/{case_id}", rt.getCase)
	})
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestIDFromContext(r.Context()),
	})
}

// decodeJSON decodes the request body into out. An empty body leaves out
// untouched when allowEmpty is set.
func decodeJSON(r *http.Request, out any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := dec.Decode(out); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse query", fmt.Errorf("%s must be a non-negative integer", key))
	}
	return n, nil
}
