package usecase

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

var entityTypeAliases = map[string]domain.EntityType{
	"wallet":         domain.EntityCryptoWallet,
	"crypto":         domain.EntityCryptoWallet,
	"crypto_address": domain.EntityCryptoWallet,
	"btc_wallet":     domain.EntityCryptoWallet,
	"email_address":  domain.EntityEmail,
	"phone_number":   domain.EntityPhone,
	"ip":             domain.EntityIPAddress,
	"asn_number":     domain.EntityASN,
	"user_agent":     domain.EntityBrowserAgent,
	"browser":        domain.EntityBrowserAgent,
	"website":        domain.EntityURL,
	"link":           domain.EntityURL,
	"bank":           domain.EntityBankAccount,
	"account_number": domain.EntityBankAccount,
	"merchant_name":  domain.EntityMerchant,
	"organization":   domain.EntityMerchant,
	"crypto_wallet":  domain.EntityCryptoWallet,
	"browser_agent":  domain.EntityBrowserAgent,
	"ip_address":     domain.EntityIPAddress,
	"bank_account":   domain.EntityBankAccount,
}

// networkFieldAliases lists payload fields lifted into network entities, in
// lookup order.
var networkFieldAliases = []struct {
	entityType domain.EntityType
	fields     []string
}{
	{domain.EntityIPAddress, []string{"ip_address", "ip", "ips", "client_ip", "source_ip"}},
	{domain.EntityASN, []string{"asn", "asn_number", "autonomous_system_number"}},
	{domain.EntityBrowserAgent, []string{"browser_agent", "browser", "user_agent", "ua"}},
}

var narrativeFallbackFields = []string{"summary", "details", "description", "body"}

type NormalizeOptions struct {
	Dataset     string
	RunID       string
	LossBuckets []string
	Now         func() time.Time
}

// NormalizeDiagnostics describes where normalized fields came from.
type NormalizeDiagnostics struct {
	TextSource      string
	EntitySource    string
	DroppedEntities int
}

// NormalizeCase converts a raw payload into the canonical case. It performs no I/O.
func NormalizeCase(raw map[string]any, opts NormalizeOptions) (*domain.Case, NormalizeDiagnostics, error) {
	var diag NormalizeDiagnostics
	if raw == nil {
		return nil, diag, domain.WrapError(domain.ErrInvalidInput, "normalize case", fmt.Errorf("empty payload"))
	}
	metadata := asMap(raw["metadata"])

	caseID := firstString(raw, "case_id", "intake_id", "id")
	if caseID == "" {
		return nil, diag, domain.WrapError(domain.ErrInvalidInput, "normalize case", fmt.Errorf("case_id is required"))
	}

	narrative, textSource := extractNarrative(raw)
	diag.TextSource = textSource
	if narrative == "" {
		return nil, diag, domain.WrapError(domain.ErrInvalidInput, "normalize case", fmt.Errorf("case %s has empty narrative", caseID))
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	buckets := opts.LossBuckets
	if len(buckets) == 0 {
		buckets = domain.DefaultLossBuckets
	}

	c := &domain.Case{
		CaseID:         caseID,
		Dataset:        firstNonEmpty(firstString(raw, "dataset"), firstString(metadata, "dataset"), opts.Dataset),
		Narrative:      narrative,
		Summary:        firstString(raw, "summary"),
		Classification: strings.ToLower(firstNonEmpty(firstString(raw, "fraud_type", "classification"), firstString(metadata, "classification"), "unclassified")),
		Categories:     extractCategories(raw, metadata),
		Channel:        firstNonEmpty(firstString(raw, "channel"), firstString(metadata, "channel")),
		SourceType:     firstNonEmpty(firstString(raw, "source_type"), firstString(metadata, "source_type")),
		RunID:          opts.RunID,
	}
	if c.Dataset == "" {
		return nil, diag, domain.WrapError(domain.ErrInvalidInput, "normalize case", fmt.Errorf("case %s has no dataset", caseID))
	}
	if v, ok := firstFloat(raw, "fraud_confidence", "confidence"); ok {
		c.Confidence = v
	}

	createdAt, err := firstTime(raw, "created_at", "reported_at", "timestamp")
	if err != nil {
		return nil, diag, domain.WrapError(domain.ErrInvalidInput, "normalize case", err)
	}
	if createdAt == nil {
		t := now().UTC()
		createdAt = &t
	}
	c.CreatedAt = *createdAt
	observedAt, err := firstTime(raw, "observed_at")
	if err != nil {
		return nil, diag, domain.WrapError(domain.ErrInvalidInput, "normalize case", err)
	}
	c.ObservedAt = observedAt

	if amount, ok := firstFloat(raw, "loss_amount", "loss", "loss_usd"); ok {
		c.LossAmount = &amount
	}
	if label := firstString(raw, "loss_bucket"); label != "" {
		parsed, err := domain.ParseLossBucket(label)
		if err != nil {
			return nil, diag, err
		}
		c.LossBucket = parsed.Label
	} else if c.LossAmount != nil {
		c.LossBucket, _ = domain.BucketForAmount(*c.LossAmount, buckets)
	}

	entities, entitySource := extractEntities(raw["entities"])
	network := extractNetworkEntities(raw, asMap(raw["network"]))
	if len(network) > 0 {
		entities = append(entities, network...)
		entitySource = strings.TrimPrefix(entitySource+"+network", "+")
	}
	c.Entities, diag.DroppedEntities = dedupeEntities(entities)
	diag.EntitySource = entitySource
	return c, diag, nil
}

func extractNarrative(raw map[string]any) (string, string) {
	for _, key := range []string{"text", "narrative"} {
		if v := firstString(raw, key); v != "" {
			return v, key
		}
	}
	parts := make([]string, 0, len(narrativeFallbackFields))
	used := make([]string, 0, len(narrativeFallbackFields))
	for _, key := range narrativeFallbackFields {
		if v := firstString(raw, key); v != "" {
			parts = append(parts, v)
			used = append(used, key)
		}
	}
	return strings.Join(parts, "\n\n"), strings.Join(used, "+")
}

func extractCategories(raw, metadata map[string]any) []string {
	var values []string
	for _, src := range []map[string]any{raw, metadata} {
		for _, key := range []string{"categories", "category", "tags"} {
			values = append(values, stringList(src[key])...)
		}
		if len(values) > 0 {
			break
		}
	}
	return dedupeLower(values)
}

func extractEntities(raw any) ([]domain.Entity, string) {
	out := make([]domain.Entity, 0)
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			m := asMap(item)
			if m == nil {
				continue
			}
			if e, ok := buildEntity(firstString(m, "type", "kind"), firstString(m, "value", "text"), m); ok {
				out = append(out, e)
			}
		}
		return out, "list"
	case map[string]any:
		for typ, values := range v {
			items, ok := values.([]any)
			if !ok {
				items = []any{values}
			}
			for _, item := range items {
				if m := asMap(item); m != nil {
					if e, ok := buildEntity(typ, firstString(m, "value", "text"), m); ok {
						out = append(out, e)
					}
					continue
				}
				if e, ok := buildEntity(typ, scalarString(item), nil); ok {
					out = append(out, e)
				}
			}
		}
		sortEntities(out)
		return out, "map"
	default:
		return out, ""
	}
}

func extractNetworkEntities(sources ...map[string]any) []domain.Entity {
	out := make([]domain.Entity, 0)
	for _, alias := range networkFieldAliases {
		for _, src := range sources {
			if src == nil {
				continue
			}
			for _, field := range alias.fields {
				for _, value := range stringList(src[field]) {
					if e, ok := buildEntity(string(alias.entityType), value, nil); ok {
						out = append(out, e)
					}
				}
			}
		}
	}
	return out
}

func buildEntity(rawType, rawValue string, attrs map[string]any) (domain.Entity, bool) {
	typ := canonicalEntityType(rawType)
	value := strings.TrimSpace(rawValue)
	if typ == "" || value == "" {
		return domain.Entity{}, false
	}
	if typ == domain.EntityEmail {
		value = strings.ToLower(value)
	}
	e := domain.Entity{Type: typ, Value: value}
	if attrs != nil {
		if conf, ok := firstFloat(attrs, "confidence", "score"); ok {
			e.Confidence = &conf
		}
	}
	return e, true
}

func canonicalEntityType(raw string) domain.EntityType {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	if key == "" {
		return ""
	}
	if alias, ok := entityTypeAliases[key]; ok {
		return alias
	}
	return domain.EntityType(key)
}

// dedupeEntities keeps the first occurrence of each (type, lower(value)) pair.
func dedupeEntities(in []domain.Entity) ([]domain.Entity, int) {
	out := make([]domain.Entity, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, e := range in {
		key := e.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out, len(in) - len(out)
}

// sortEntities makes map-shaped entity payloads deterministic.
func sortEntities(entities []domain.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Type != entities[j].Type {
			return entities[i].Type < entities[j].Type
		}
		return entities[i].Value < entities[j].Value
	})
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func firstString(m map[string]any, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, key := range keys {
		if s := strings.TrimSpace(scalarString(m[key])); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(scalarString(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	default:
		s := strings.TrimSpace(scalarString(t))
		if s == "" {
			return nil
		}
		return []string{s}
	}
}

func firstFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case string:
			clean := strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(v), "$"), ",", "")
			if f, err := strconv.ParseFloat(clean, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func firstTime(m map[string]any, keys ...string) (*time.Time, error) {
	for _, key := range keys {
		raw := firstString(m, key)
		if raw == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				t = t.UTC()
				return &t, nil
			}
		}
		return nil, fmt.Errorf("field %s: unparseable time %q", key, raw)
	}
	return nil, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// dedupeLower lowercases, trims and deduplicates, preserving first-seen order.
func dedupeLower(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
