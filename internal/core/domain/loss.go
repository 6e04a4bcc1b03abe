package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultLossBuckets are the loss bucket labels used when no facets file overrides them.
var DefaultLossBuckets = []string{"<1k", "1k-10k", "10k-100k", ">100k"}

// LossRange is a parsed loss bucket label. Min is inclusive, Max exclusive; nil
// means unbounded.
type LossRange struct {
	Label string
	Min   *float64
	Max   *float64
}

func (r LossRange) Contains(amount float64) bool {
	if r.Min != nil && amount < *r.Min {
		return false
	}
	if r.Max != nil && amount >= *r.Max {
		return false
	}
	return true
}

// ParseLossBucket parses labels such as "<1k", ">100k", "1k-10k" or "250-500".
// Suffixes k and m multiply by 1e3 and 1e6.
func ParseLossBucket(label string) (LossRange, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(label), " ", ""))
	if norm == "" {
		return LossRange{}, WrapError(ErrInvalidInput, "parse loss bucket", fmt.Errorf("empty label"))
	}
	out := LossRange{Label: norm}

	switch {
	case strings.HasPrefix(norm, "<"):
		v, err := parseLossAmount(norm[1:])
		if err != nil {
			return LossRange{}, WrapError(ErrInvalidInput, "parse loss bucket", err)
		}
		zero := 0.0
		out.Min, out.Max = &zero, &v
	case strings.HasPrefix(norm, ">"):
		v, err := parseLossAmount(norm[1:])
		if err != nil {
			return LossRange{}, WrapError(ErrInvalidInput, "parse loss bucket", err)
		}
		out.Min = &v
	default:
		lo, hi, ok := strings.Cut(norm, "-")
		if !ok {
			return LossRange{}, WrapError(ErrInvalidInput, "parse loss bucket", fmt.Errorf("unsupported label %q", label))
		}
		minV, err := parseLossAmount(lo)
		if err != nil {
			return LossRange{}, WrapError(ErrInvalidInput, "parse loss bucket", err)
		}
		maxV, err := parseLossAmount(hi)
		if err != nil {
			return LossRange{}, WrapError(ErrInvalidInput, "parse loss bucket", err)
		}
		if maxV <= minV {
			return LossRange{}, WrapError(ErrInvalidInput, "parse loss bucket", fmt.Errorf("empty range %q", label))
		}
		out.Min, out.Max = &minV, &maxV
	}
	return out, nil
}

// BucketForAmount returns the first label whose range contains amount.
func BucketForAmount(amount float64, labels []string) (string, bool) {
	for _, label := range labels {
		r, err := ParseLossBucket(label)
		if err != nil {
			continue
		}
		if r.Contains(amount) {
			return r.Label, true
		}
	}
	return "", false
}

func parseLossAmount(raw string) (float64, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "$")
	mult := 1.0
	switch {
	case strings.HasSuffix(raw, "k"):
		mult, raw = 1_000, strings.TrimSuffix(raw, "k")
	case strings.HasSuffix(raw, "m"):
		mult, raw = 1_000_000, strings.TrimSuffix(raw, "m")
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return v * mult, nil
}
