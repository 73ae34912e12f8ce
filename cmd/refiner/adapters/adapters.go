// Package adapters wraps the generation and scoring backends. Generation and
// scoring are separate interfaces backed by separate clients so a model never
// grades its own output.
package adapters

import (
	"context"

	"github.com/lyzr/refinery/cmd/refiner/models"
)

// GenerateRequest asks for a first draft
type GenerateRequest struct {
	Topic         string
	Style         string
	VoiceProfile  string
	ExcludedHooks []string
}

// Draft is a generated candidate and the hook it opens with
type Draft struct {
	Content string
	HookID  string
}

// RewriteRequest asks for a revision of existing content
type RewriteRequest struct {
	Topic        string
	Style        string
	VoiceProfile string
	HookID       string
	Content      string
	Suggestions  []string
	Feedback     string // free-text caller feedback, optional
	Tier         models.Tier
}

// TextGenerator produces and revises content
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Draft, error)
	Rewrite(ctx context.Context, req RewriteRequest) (string, error)
}

// Evaluation is a scorer verdict
type Evaluation struct {
	Score       float64  `json:"score"`
	Suggestions []string `json:"suggestions"`
}

// TextScorer rates content on a 0-100 scale and says what to fix
type TextScorer interface {
	Score(ctx context.Context, content string) (*Evaluation, error)
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}
