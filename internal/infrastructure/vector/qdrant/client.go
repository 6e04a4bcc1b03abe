// Package qdrant is the search backend: one point per case, keyed on a UUID
// derived from case_id, with filterable payload fields.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/core/ports"
	"github.com/kirillkom/caseindex/internal/infrastructure/resilience"
)

const excerptRunes = 240

// pointNamespace seeds the deterministic point ids. Changing it orphans every
// indexed point.
var pointNamespace = uuid.MustParse("6f1c2a4e-93d1-4a57-9a55-4bd1f0c3e8a2")

// nonExactOverfetch widens the candidate pool when entity filters have to be
// applied after the vector search.
const nonExactOverfetch = 4

type Client struct {
	baseURL    string
	collection string
	embedder   ports.Embedder
	executor   *resilience.Executor
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, embedder ports.Embedder, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		embedder:   embedder,
		executor:   executor,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// PointID returns the point id a case is stored under.
func PointID(caseID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(caseID)).String()
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// UpsertCase embeds the case text and writes its point. Writing the same case
// again replaces the point.
func (c *Client) UpsertCase(ctx context.Context, kase *domain.Case) error {
	if kase == nil || kase.CaseID == "" {
		return domain.WrapError(domain.ErrPermanentWrite, "qdrant upsert", fmt.Errorf("case_id is required"))
	}
	vectors, err := c.embedder.Embed(ctx, []string{embeddingText(kase)})
	if err != nil {
		return fmt.Errorf("embed case %s: %w", kase.CaseID, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return fmt.Errorf("embed case %s: empty vector", kase.CaseID)
	}
	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	body := map[string]any{"points": []point{{
		ID:      PointID(kase.CaseID),
		Vector:  vectors[0],
		Payload: casePayload(kase),
	}}}
	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	err = c.do(ctx, http.MethodPut, path, body, nil, "upsert")
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		// collection dropped behind our back; recreate it on the next attempt
		c.forgetCollection()
		return domain.WrapError(domain.ErrTransientBackend, "qdrant upsert", err)
	}
	return err
}

// SearchSemantic implements ports.SemanticSearcher. Scores are raw cosine
// similarities; the caller normalizes them.
func (c *Client) SearchSemantic(
	ctx context.Context,
	text string,
	filters domain.SearchFilters,
	limit int,
) ([]domain.LegHit, error) {
	if limit <= 0 {
		return []domain.LegHit{}, nil
	}
	vector, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	exactOnly := entityFiltersExact(filters.Entities)
	fetch := limit
	if !exactOnly {
		fetch = limit * nonExactOverfetch
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        fetch,
		"with_payload": true,
	}
	if f := buildFilter(filters, exactOnly); f != nil {
		reqBody["filter"] = f
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	call := func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, path, reqBody, &searchResp, "search")
	}
	if c.executor != nil {
		err = c.executor.Execute(ctx, "qdrant.search", call, ClassifyError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			// nothing indexed yet
			return []domain.LegHit{}, nil
		}
		return nil, err
	}

	out := make([]domain.LegHit, 0, min(limit, len(searchResp.Result)))
	for _, r := range searchResp.Result {
		entities := payloadEntities(r.Payload)
		matched := matchEntities(entities, filters.Entities)
		if len(filters.Entities) > 0 && len(matched) == 0 {
			continue
		}
		out = append(out, domain.LegHit{
			CaseID:          payloadString(r.Payload, "case_id"),
			Score:           r.Score,
			Dataset:         payloadString(r.Payload, "dataset"),
			Classification:  payloadString(r.Payload, "classification"),
			LossBucket:      payloadString(r.Payload, "loss_bucket"),
			Excerpt:         payloadString(r.Payload, "excerpt"),
			CreatedAt:       payloadTime(r.Payload, "created_at"),
			MatchedEntities: matched,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	err := c.do(ctx, http.MethodPut, "/collections/"+c.collection, body, nil, "ensure collection")
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
		err = nil
	}
	if err != nil {
		return err
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	slog.Debug("qdrant_collection_ready", "collection", c.collection, "vector_size", vectorSize)
	return nil
}

func (c *Client) forgetCollection() {
	c.ensureMu.Lock()
	c.ensuredCollection = false
	c.ensuredVectorSize = 0
	c.ensureMu.Unlock()
	slog.Warn("qdrant_collection_missing", "collection", c.collection)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func embeddingText(kase *domain.Case) string {
	if strings.TrimSpace(kase.Summary) == "" {
		return kase.Narrative
	}
	return kase.Summary + "\n\n" + kase.Narrative
}
