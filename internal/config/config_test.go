package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadIncludesSearchDefaults(t *testing.T) {
	t.Setenv("SEARCH_SEMANTIC_WEIGHT", "")
	t.Setenv("SEARCH_LEG_TIMEOUT", "")
	t.Setenv("SCHEMA_CACHE_TTL", "")
	t.Setenv("INGEST_BACKENDS", "")

	cfg := Load()
	if cfg.SearchSemanticWeight != 0.65 || cfg.SearchStructuredWeight != 0.35 {
		t.Fatalf("unexpected default weights %v/%v", cfg.SearchSemanticWeight, cfg.SearchStructuredWeight)
	}
	if cfg.SearchLegTimeout != 5*time.Second {
		t.Fatalf("expected default leg timeout 5s, got %s", cfg.SearchLegTimeout)
	}
	if cfg.SchemaCacheTTL != 300*time.Second {
		t.Fatalf("expected default schema ttl 300s, got %s", cfg.SchemaCacheTTL)
	}
	if cfg.IngestBackends != "structured,document,search" {
		t.Fatalf("unexpected default backends %q", cfg.IngestBackends)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("SEARCH_SEMANTIC_WEIGHT", "0.8")
	t.Setenv("SEARCH_LEG_TIMEOUT", "750ms")
	t.Setenv("SCHEMA_CACHE_TTL", "60")
	t.Setenv("RETRY_MAX_ATTEMPTS", "9")
	t.Setenv("RESILIENCE_BREAKER_ENABLED", "false")

	cfg := Load()
	if cfg.SearchSemanticWeight != 0.8 {
		t.Fatalf("expected semantic weight 0.8, got %v", cfg.SearchSemanticWeight)
	}
	if cfg.SearchLegTimeout != 750*time.Millisecond {
		t.Fatalf("expected leg timeout 750ms, got %s", cfg.SearchLegTimeout)
	}
	if cfg.SchemaCacheTTL != time.Minute {
		t.Fatalf("bare seconds should parse, got %s", cfg.SchemaCacheTTL)
	}
	if cfg.RetryMaxAttempts != 9 {
		t.Fatalf("expected retry attempts 9, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.ResilienceBreakerEnabled {
		t.Fatalf("expected breaker disabled")
	}
}

func TestLoadFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SEARCH_MAX_LIMIT", "lots")
	t.Setenv("WRITE_TIMEOUT", "soon")
	t.Setenv("API_RATE_LIMIT_RPS", "fast")

	cfg := Load()
	if cfg.SearchMaxLimit != 200 || cfg.WriteTimeout != 15*time.Second || cfg.APIRateLimitRPS != 50 {
		t.Fatalf("expected fallbacks, got %d %s %v", cfg.SearchMaxLimit, cfg.WriteTimeout, cfg.APIRateLimitRPS)
	}
}

func TestLoadFacets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facets.yaml")
	content := `
loss_buckets: ["<500", "500-5k", ">5k"]
time_presets:
  - label: last_14d
    days: 14
classification_presets: [romance, crypto_investment]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write facets: %v", err)
	}

	got, err := LoadFacets(path)
	if err != nil {
		t.Fatalf("LoadFacets() error = %v", err)
	}
	want := SearchFacets{
		LossBuckets:           []string{"<500", "500-5k", ">5k"},
		TimePresets:           []TimePreset{{Label: "last_14d", Days: 14}},
		ClassificationPresets: []string{"romance", "crypto_investment"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected facets (-want +got):\n%s", diff)
	}
}

func TestLoadFacetsErrors(t *testing.T) {
	if got, err := LoadFacets(""); err != nil || len(got.LossBuckets) != 0 {
		t.Fatalf("empty path should be a no-op, got %+v %v", got, err)
	}
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("time_presets:\n  - label: ''\n    days: 0\n"), 0o644); err != nil {
		t.Fatalf("write facets: %v", err)
	}
	if _, err := LoadFacets(bad); err == nil {
		t.Fatalf("expected invalid preset error")
	}
	if _, err := LoadFacets(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
