package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// RefineRequest starts a refinement loop
type RefineRequest struct {
	Topic        string `json:"topic"`
	Style        string `json:"style"`
	VoiceProfile string `json:"voice_profile"`
}

// ImproveRequest asks for one manual improvement. ExpectedVersion, when set,
// must match the stored version.
type ImproveRequest struct {
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
	Feedback        string `json:"feedback,omitempty"`
}

// ImproveResult reports a committed manual improvement
type ImproveResult struct {
	PostID           uuid.UUID `json:"post_id"`
	NewVersion       int64     `json:"new_version"`
	NewScore         float64   `json:"new_score"`
	PreviousScore    float64   `json:"previous_score"`
	ImprovementCount int       `json:"improvement_count"`
	Suggestions      []string  `json:"suggestions"`
	Escalated        bool      `json:"escalated"`
}

// HistoryEntry is a snapshot with the merge patch that turns it into the
// next state of the post
type HistoryEntry struct {
	*PostSnapshot
	Patch json.RawMessage `json:"patch,omitempty"`
}

// QuotaReport is the caller's remaining quota and usage today
type QuotaReport struct {
	OwnerID string                `json:"owner_id"`
	Limits  map[string]QuotaLimit `json:"limits"`
	Usage   map[string]int64      `json:"usage_today"`
}

// QuotaLimit is one limiter window
type QuotaLimit struct {
	Limit         int64 `json:"limit"`
	Remaining     int64 `json:"remaining"`
	WindowSeconds int64 `json:"window_seconds"`
	ResetAt       int64 `json:"reset_at"`
}

// Tier selects the backend model used for a rewrite
type Tier string

const (
	TierDefault   Tier = "default"
	TierEscalated Tier = "escalated"
)
