package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

const excerptRunes = 240

// CaseRepository is the structured backend: one row per case plus its
// entities, queried by the structured search leg and the schema facets.
type CaseRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewCaseRepository(db *sql.DB) *CaseRepository {
	return &CaseRepository{db: db, now: time.Now}
}

// UpsertCase replaces the case row and its entity set in one transaction.
func (r *CaseRepository) UpsertCase(ctx context.Context, c *domain.Case) error {
	categories, err := json.Marshal(nonNilStrings(c.Categories))
	if err != nil {
		return domain.WrapError(domain.ErrPermanentWrite, "marshal categories", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin case tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var confidence any
	if c.Confidence > 0 {
		confidence = c.Confidence
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO cases (
	case_id, dataset, narrative, summary, classification, confidence, categories, loss_bucket, loss_amount,
	channel, source_type, created_at, observed_at, ingestion_run_id, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (case_id) DO UPDATE SET
	dataset = EXCLUDED.dataset,
	narrative = EXCLUDED.narrative,
	summary = EXCLUDED.summary,
	classification = EXCLUDED.classification,
	confidence = EXCLUDED.confidence,
	categories = EXCLUDED.categories,
	loss_bucket = EXCLUDED.loss_bucket,
	loss_amount = EXCLUDED.loss_amount,
	channel = EXCLUDED.channel,
	source_type = EXCLUDED.source_type,
	created_at = EXCLUDED.created_at,
	observed_at = EXCLUDED.observed_at,
	ingestion_run_id = EXCLUDED.ingestion_run_id,
	updated_at = EXCLUDED.updated_at
`,
		c.CaseID, c.Dataset, c.Narrative, c.Summary, c.Classification, confidence, categories, c.LossBucket, c.LossAmount,
		c.Channel, c.SourceType, c.CreatedAt.UTC(), c.ObservedAt, c.RunID, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert case: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM case_entities WHERE case_id = $1`, c.CaseID); err != nil {
		return fmt.Errorf("clear case entities: %w", err)
	}
	for _, e := range c.Entities {
		_, err := tx.ExecContext(ctx, `
INSERT INTO case_entities (case_id, entity_type, entity_value, display_value, confidence)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (case_id, entity_type, entity_value) DO NOTHING
`, c.CaseID, string(e.Type), strings.ToLower(e.Value), e.Value, e.Confidence)
		if err != nil {
			return fmt.Errorf("insert case entity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit case tx: %w", err)
	}
	return nil
}

// SearchStructured returns cases matching every non-entity filter and at least
// one entity filter, newest first. Matched entities are the ones that satisfied
// an entity filter.
func (r *CaseRepository) SearchStructured(ctx context.Context, filters domain.SearchFilters, limit int) ([]domain.LegHit, error) {
	query, args := buildStructuredQuery(filters, limit)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("structured search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.LegHit, 0)
	for rows.Next() {
		var hit domain.LegHit
		var matchedRaw []byte
		if err := rows.Scan(
			&hit.CaseID,
			&hit.Dataset,
			&hit.Classification,
			&hit.LossBucket,
			&hit.Excerpt,
			&hit.CreatedAt,
			&matchedRaw,
		); err != nil {
			return nil, fmt.Errorf("scan structured hit: %w", err)
		}
		if len(matchedRaw) > 0 {
			if err := json.Unmarshal(matchedRaw, &hit.MatchedEntities); err != nil {
				return nil, fmt.Errorf("unmarshal matched entities: %w", err)
			}
		}
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate structured hits: %w", err)
	}
	return out, nil
}

type argList struct {
	values []any
}

func (a *argList) add(v any) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

func (a *argList) in(values []string) string {
	marks := make([]string, 0, len(values))
	for _, v := range values {
		marks = append(marks, a.add(v))
	}
	return strings.Join(marks, ",")
}

func buildStructuredQuery(filters domain.SearchFilters, limit int) (string, []any) {
	args := &argList{}
	var where []string

	if len(filters.Datasets) > 0 {
		where = append(where, "LOWER(c.dataset) IN ("+args.in(filters.Datasets)+")")
	}
	if len(filters.Classifications) > 0 {
		where = append(where, "LOWER(c.classification) IN ("+args.in(filters.Classifications)+")")
	}
	if len(filters.LossBuckets) > 0 {
		where = append(where, "c.loss_bucket IN ("+args.in(filters.LossBuckets)+")")
	}
	if tr := filters.TimeRange; !tr.Empty() {
		if tr.Start != nil {
			where = append(where, "c.created_at >= "+args.add(tr.Start.UTC()))
		}
		if tr.End != nil {
			where = append(where, "c.created_at <= "+args.add(tr.End.UTC()))
		}
	}

	var b strings.Builder
	b.WriteString(`
SELECT c.case_id, c.dataset, c.classification, c.loss_bucket, LEFT(c.narrative, ` + fmt.Sprint(excerptRunes) + `), c.created_at,
`)
	if len(filters.Entities) == 0 {
		b.WriteString(`	'[]'::jsonb
FROM cases c
`)
	} else {
		clauses := make([]string, 0, len(filters.Entities))
		for _, f := range filters.Entities {
			clauses = append(clauses, entityClause(args, f))
		}
		b.WriteString(`	jsonb_agg(jsonb_build_object('type', e.entity_type, 'value', e.display_value) ORDER BY e.entity_type, e.entity_value)
FROM cases c
JOIN case_entities e ON e.case_id = c.case_id AND (` + strings.Join(clauses, " OR ") + `)
`)
	}
	if len(where) > 0 {
		b.WriteString("WHERE " + strings.Join(where, " AND ") + "\n")
	}
	if len(filters.Entities) > 0 {
		b.WriteString("GROUP BY c.case_id\n")
	}
	b.WriteString("ORDER BY c.created_at DESC, c.case_id ASC\n")
	b.WriteString("LIMIT " + args.add(limit))
	return b.String(), args.values
}

func entityClause(args *argList, f domain.EntityFilter) string {
	typ := args.add(string(f.Type))
	switch f.MatchMode {
	case domain.MatchPrefix:
		return "(e.entity_type = " + typ + " AND e.entity_value LIKE " + args.add(escapeLike(f.Value)+"%") + ")"
	case domain.MatchContains:
		return "(e.entity_type = " + typ + " AND e.entity_value LIKE " + args.add("%"+escapeLike(f.Value)+"%") + ")"
	default:
		return "(e.entity_type = " + typ + " AND e.entity_value = " + args.add(f.Value) + ")"
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(v string) string {
	return likeEscaper.Replace(strings.ToLower(v))
}

func (r *CaseRepository) ListDatasets(ctx context.Context) ([]domain.DatasetFacet, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT dataset, COUNT(*)
FROM cases
GROUP BY dataset
ORDER BY dataset
`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DatasetFacet, 0)
	for rows.Next() {
		var f domain.DatasetFacet
		if err := rows.Scan(&f.Name, &f.Cases); err != nil {
			return nil, fmt.Errorf("scan dataset facet: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset facets: %w", err)
	}
	return out, nil
}

// ListEntityExamples returns up to perType most recently seen values per entity type.
func (r *CaseRepository) ListEntityExamples(ctx context.Context, perType int) (map[domain.EntityType][]domain.EntityExample, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT entity_type, display_value, dataset, last_seen_at
FROM (
	SELECT e.entity_type, MIN(e.display_value) AS display_value, MAX(c.dataset) AS dataset, MAX(c.created_at) AS last_seen_at,
		ROW_NUMBER() OVER (PARTITION BY e.entity_type ORDER BY MAX(c.created_at) DESC, e.entity_value) AS rn
	FROM case_entities e
	JOIN cases c ON c.case_id = e.case_id
	GROUP BY e.entity_type, e.entity_value
) ranked
WHERE rn <= $1
ORDER BY entity_type, last_seen_at DESC
`, perType)
	if err != nil {
		return nil, fmt.Errorf("list entity examples: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.EntityType][]domain.EntityExample)
	for rows.Next() {
		var typ string
		var ex domain.EntityExample
		if err := rows.Scan(&typ, &ex.Value, &ex.Dataset, &ex.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan entity example: %w", err)
		}
		out[domain.EntityType(typ)] = append(out[domain.EntityType(typ)], ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity examples: %w", err)
	}
	return out, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
