package models

import (
	"time"

	"github.com/google/uuid"
)

// PostStatus is the lifecycle status of a post
type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusFinal     PostStatus = "final"
	StatusPublished PostStatus = "published" // set by the external publisher
)

// Post is a generated artifact under refinement
// Maps to: posts table
type Post struct {
	ID      uuid.UUID `db:"id" json:"id"`
	OwnerID string    `db:"owner_id" json:"owner_id"`

	// Caller inputs
	Topic        string `db:"topic" json:"topic"`
	Style        string `db:"style" json:"style"`
	VoiceProfile string `db:"voice_profile" json:"voice_profile,omitempty"`

	Content       string   `db:"content" json:"content"`
	Score         float64  `db:"score" json:"score"`
	PreviousScore *float64 `db:"previous_score" json:"previous_score,omitempty"`
	Suggestions   []string `db:"suggestions" json:"suggestions"`
	HookID        string   `db:"hook_id" json:"hook_id"`

	// Move forward together, only through the improvement transaction
	ImprovementCount int   `db:"improvement_count" json:"improvement_count"`
	Version          int64 `db:"version" json:"version"`

	Status    PostStatus `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// PostSnapshot is the pre-mutation copy of a post written by each improvement
// Maps to: post_history table
type PostSnapshot struct {
	ID               int64      `db:"id" json:"-"`
	PostID           uuid.UUID  `db:"post_id" json:"post_id"`
	OwnerID          string     `db:"owner_id" json:"-"`
	Version          int64      `db:"version" json:"version"`
	Content          string     `db:"content" json:"content"`
	Score            float64    `db:"score" json:"score"`
	PreviousScore    *float64   `db:"previous_score" json:"previous_score,omitempty"`
	Suggestions      []string   `db:"suggestions" json:"suggestions"`
	HookID           string     `db:"hook_id" json:"hook_id"`
	ImprovementCount int        `db:"improvement_count" json:"improvement_count"`
	Status           PostStatus `db:"status" json:"status"`
	SnapshotAt       time.Time  `db:"snapshot_at" json:"snapshot_at"`
}

// Improvement is the input of the atomic apply-improvement operation.
// A nil ExpectedVersion skips the version check.
type Improvement struct {
	PostID          uuid.UUID
	OwnerID         string
	ExpectedVersion *int64
	Content         string
	Score           float64
	Suggestions     []string
}

// ImprovementResult is returned by a successful apply-improvement
type ImprovementResult struct {
	NewVersion       int64
	ImprovementCount int
}
