package usecase

import (
	"testing"
	"time"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

var defaultPolicy = domain.ScorePolicy{SemanticWeight: 0.65, StructuredWeight: 0.35}

func TestFuseHitsCountsOverlapOnce(t *testing.T) {
	semantic := []domain.LegHit{
		{CaseID: "case-1", Score: 0.9},
		{CaseID: "case-2", Score: 0.5},
		{CaseID: "case-1", Score: 0.4},
	}
	structured := []domain.LegHit{
		{CaseID: "case-2", Score: 1.0, Dataset: "intake"},
		{CaseID: "case-3", Score: 0.7},
	}

	fused, overlap := fuseHits(semantic, structured, defaultPolicy)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(fused))
	}
	if overlap != 1 {
		t.Fatalf("expected overlap 1, got %d", overlap)
	}
	for _, r := range fused {
		if r.CaseID == "case-1" && *r.SemanticScore != 0.9 {
			t.Fatalf("duplicate semantic hit must keep the best score, got %v", *r.SemanticScore)
		}
		if r.CaseID == "case-2" && (r.Source != domain.SourceMerged || r.Dataset != "intake") {
			t.Fatalf("expected merged case-2 with structured metadata, got %+v", r)
		}
	}
}

func TestFuseHitsTieBreakByCaseID(t *testing.T) {
	semantic := []domain.LegHit{{CaseID: "case-b", Score: 0.5}}
	structured := []domain.LegHit{{CaseID: "case-a", Score: 0.5}}

	for i := 0; i < 10; i++ {
		fused, _ := fuseHits(semantic, structured, defaultPolicy)
		if fused[0].CaseID != "case-a" || fused[1].CaseID != "case-b" {
			t.Fatalf("expected deterministic tie-break by case_id, got %s,%s", fused[0].CaseID, fused[1].CaseID)
		}
	}
}

func TestFuseHitsCopiesCreatedAt(t *testing.T) {
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	fused, _ := fuseHits([]domain.LegHit{{CaseID: "c", Score: 0.3, CreatedAt: created}}, nil, defaultPolicy)
	if fused[0].CreatedAt == nil || !fused[0].CreatedAt.Equal(created) {
		t.Fatalf("expected created_at carried over, got %v", fused[0].CreatedAt)
	}
	if fused[0].StructuredScore != nil {
		t.Fatalf("semantic-only result must not carry a structured score")
	}
}

func TestNormalizeSemanticScore(t *testing.T) {
	tests := []struct {
		raw  float64
		want float64
	}{
		{raw: -0.2, want: 0},
		{raw: 0, want: 0},
		{raw: 0.42, want: 0.42},
		{raw: 1, want: 1},
		{raw: 3, want: 0.25},
	}
	for _, tt := range tests {
		if got := normalizeSemanticScore(tt.raw); got != tt.want {
			t.Fatalf("normalizeSemanticScore(%v) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestStructuredScoreByMatchMode(t *testing.T) {
	matched := []domain.Entity{
		{Type: domain.EntityCryptoWallet, Value: "bc1qxyz"},
		{Type: domain.EntityEmail, Value: "victim@example.com"},
	}
	tests := []struct {
		name    string
		filters []domain.EntityFilter
		want    float64
	}{
		{name: "no entity filters", want: 1.0},
		{name: "exact", filters: []domain.EntityFilter{{Type: domain.EntityCryptoWallet, Value: "BC1QXYZ", MatchMode: domain.MatchExact}}, want: 1.0},
		{name: "prefix", filters: []domain.EntityFilter{{Type: domain.EntityCryptoWallet, Value: "bc1q", MatchMode: domain.MatchPrefix}}, want: 0.85},
		{name: "contains", filters: []domain.EntityFilter{{Type: domain.EntityEmail, Value: "example", MatchMode: domain.MatchContains}}, want: 0.7},
		{name: "one of two filters", filters: []domain.EntityFilter{
			{Type: domain.EntityCryptoWallet, Value: "bc1qxyz", MatchMode: domain.MatchExact},
			{Type: domain.EntityPhone, Value: "+1555", MatchMode: domain.MatchExact},
		}, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := structuredScore(matched, tt.filters); got != tt.want {
				t.Fatalf("structuredScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPaginate(t *testing.T) {
	results := []domain.SearchResult{{CaseID: "a"}, {CaseID: "b"}, {CaseID: "c"}}
	if got := paginate(results, 5, 2); len(got) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(got))
	}
	if got := paginate(results, 1, 5); len(got) != 2 || got[0].CaseID != "b" {
		t.Fatalf("unexpected tail page: %+v", got)
	}
}
