package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/caseindex/internal/config"
	"github.com/kirillkom/caseindex/internal/core/domain"
)

func TestLoadFacetsDefaultsWithoutFile(t *testing.T) {
	facets, err := loadFacets("")
	if err != nil {
		t.Fatalf("loadFacets() error = %v", err)
	}
	if len(facets.LossBuckets) != len(domain.DefaultLossBuckets) || len(facets.IndicatorTypes) != len(domain.KnownEntityTypes) {
		t.Fatalf("expected built-in facets, got %+v", facets)
	}
}

func TestLoadFacetsOverridesAndValidates(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "facets.yaml")
	if err := os.WriteFile(good, []byte("indicator_types: [email, phone]\nloss_buckets: ['<500', '>500']\n"), 0o644); err != nil {
		t.Fatalf("write facets: %v", err)
	}
	facets, err := loadFacets(good)
	if err != nil {
		t.Fatalf("loadFacets() error = %v", err)
	}
	if len(facets.IndicatorTypes) != 2 || facets.IndicatorTypes[1] != domain.EntityPhone {
		t.Fatalf("unexpected indicator types %v", facets.IndicatorTypes)
	}
	if len(facets.TimePresets) == 0 {
		t.Fatalf("time presets should keep defaults")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("loss_buckets: ['lots']\n"), 0o644); err != nil {
		t.Fatalf("write facets: %v", err)
	}
	if _, err := loadFacets(bad); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid loss bucket error, got %v", err)
	}
}

func TestResilienceConfigFromEnv(t *testing.T) {
	cfg := config.Config{
		ResilienceRetryAttempts:   4,
		ResilienceInitialBackoff:  50 * time.Millisecond,
		ResilienceBreakerEnabled:  true,
		ResilienceBreakerRequests: 20,
		ResilienceBreakerRatio:    0.25,
	}
	got := resilienceConfig(cfg)
	if got.RetryMaxAttempts != 4 || got.BreakerMinRequests != 20 || got.BreakerFailureRatio != 0.25 || !got.BreakerEnabled {
		t.Fatalf("unexpected resilience config %+v", got)
	}
}
