package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RetryEntry is a failed backend write waiting for replay. Payload carries the
// fully normalized case so replays skip normalization.
type RetryEntry struct {
	RetryID       string    `json:"retry_id"`
	CaseID        string    `json:"case_id"`
	Backend       Backend   `json:"backend"`
	RunID         string    `json:"run_id,omitempty"`
	Payload       []byte    `json:"-"`
	AttemptCount  int       `json:"attempt_count"`
	LastError     string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
	ClaimToken    string    `json:"-"`
}

// DecodeCase returns the normalized case carried by the entry. A payload that
// does not decode is a permanent failure.
func (e *RetryEntry) DecodeCase() (*Case, error) {
	var c Case
	if err := json.Unmarshal(e.Payload, &c); err != nil {
		return nil, WrapError(ErrPermanentWrite, "decode retry payload", err)
	}
	if c.CaseID == "" {
		return nil, WrapError(ErrPermanentWrite, "decode retry payload", fmt.Errorf("payload without case_id"))
	}
	return &c, nil
}

func EncodeCase(c *Case) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode case payload: %w", err)
	}
	return raw, nil
}

// DeadLetter is the permanent-failure record left behind when an entry is dropped.
type DeadLetter struct {
	RetryID      string    `json:"retry_id"`
	CaseID       string    `json:"case_id"`
	Backend      Backend   `json:"backend"`
	RunID        string    `json:"run_id,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	Reason       string    `json:"reason"`
	FailedAt     time.Time `json:"failed_at"`
}

type RetryOutcome string

const (
	RetryReplayed    RetryOutcome = "replayed"
	RetryRescheduled RetryOutcome = "rescheduled"
	RetryDropped     RetryOutcome = "dropped"
	RetrySkipped     RetryOutcome = "skipped"
	RetryWouldReplay RetryOutcome = "would_replay"
)

type RetryEntryResult struct {
	RetryID string       `json:"retry_id"`
	CaseID  string       `json:"case_id"`
	Backend Backend      `json:"backend"`
	Attempt int          `json:"attempt"`
	Outcome RetryOutcome `json:"outcome"`
	Error   string       `json:"error,omitempty"`
}

type RetryReport struct {
	DryRun  bool               `json:"dry_run"`
	Claimed int                `json:"claimed"`
	Results []RetryEntryResult `json:"results"`
}

func (r RetryReport) Count(outcome RetryOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}
