package domain

import (
	"fmt"
	"strings"
	"time"
)

type EntityType string

const (
	EntityCryptoWallet EntityType = "crypto_wallet"
	EntityEmail        EntityType = "email"
	EntityPhone        EntityType = "phone"
	EntityIPAddress    EntityType = "ip_address"
	EntityASN          EntityType = "asn"
	EntityBrowserAgent EntityType = "browser_agent"
	EntityURL          EntityType = "url"
	EntityMerchant     EntityType = "merchant"
	EntityBankAccount  EntityType = "bank_account"
)

// KnownEntityTypes is the ordered indicator type set exposed by the schema facets.
var KnownEntityTypes = []EntityType{
	EntityCryptoWallet,
	EntityEmail,
	EntityPhone,
	EntityIPAddress,
	EntityASN,
	EntityBrowserAgent,
	EntityURL,
	EntityMerchant,
	EntityBankAccount,
}

type Entity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Confidence *float64   `json:"confidence,omitempty"`
}

// Key identifies an entity within its case. Values compare case-insensitively.
func (e Entity) Key() string {
	return string(e.Type) + ":" + strings.ToLower(e.Value)
}

// Case is the canonical, normalized form shared by every backend. CaseID is the
// idempotency key and the join key across backends.
type Case struct {
	CaseID         string     `json:"case_id"`
	Dataset        string     `json:"dataset"`
	Narrative      string     `json:"narrative"`
	Summary        string     `json:"summary,omitempty"`
	Classification string     `json:"classification"`
	Confidence     float64    `json:"confidence,omitempty"`
	Categories     []string   `json:"categories"`
	LossBucket     string     `json:"loss_bucket,omitempty"`
	LossAmount     *float64   `json:"loss_amount,omitempty"`
	Channel        string     `json:"channel,omitempty"`
	SourceType     string     `json:"source_type,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ObservedAt     *time.Time `json:"observed_at,omitempty"`
	Entities       []Entity   `json:"entities"`
	RunID          string     `json:"ingestion_run_id,omitempty"`
}

// Excerpt returns the first n runes of the narrative.
func (c *Case) Excerpt(n int) string {
	runes := []rune(c.Narrative)
	if n <= 0 || len(runes) <= n {
		return c.Narrative
	}
	return string(runes[:n])
}

type Backend string

const (
	BackendStructured Backend = "structured"
	BackendDocument   Backend = "document"
	BackendSearch     Backend = "search"
)

var AllBackends = []Backend{BackendStructured, BackendDocument, BackendSearch}

func ParseBackend(raw string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(raw))); b {
	case BackendStructured, BackendDocument, BackendSearch:
		return b, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse backend", fmt.Errorf("unknown backend %q", raw))
	}
}

// ParseBackends parses a comma separated backend list, deduplicating and keeping
// canonical order. An empty list selects every backend.
func ParseBackends(raw string) ([]Backend, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]Backend(nil), AllBackends...), nil
	}
	seen := make(map[Backend]bool, len(AllBackends))
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		b, err := ParseBackend(part)
		if err != nil {
			return nil, err
		}
		seen[b] = true
	}
	out := make([]Backend, 0, len(seen))
	for _, b := range AllBackends {
		if seen[b] {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, WrapError(ErrInvalidInput, "parse backends", fmt.Errorf("no backend enabled"))
	}
	return out, nil
}

// RawPayload is one undecoded case record from a payload source.
type RawPayload struct {
	Line int
	Data map[string]any
}
