package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lyzr/refinery/cmd/refiner/models"
	"github.com/lyzr/refinery/common/config"
	"github.com/lyzr/refinery/common/llm"
)

// LLMGenerator generates and rewrites posts through a chat backend
type LLMGenerator struct {
	client    llm.Client
	cfg       config.BackendConfig
	catalogue *Catalogue
}

// NewLLMGenerator creates a generator. Rewrites at the escalated tier use
// cfg.EscalatedModel.
func NewLLMGenerator(client llm.Client, cfg config.BackendConfig, catalogue *Catalogue) *LLMGenerator {
	return &LLMGenerator{client: client, cfg: cfg, catalogue: catalogue}
}

func (g *LLMGenerator) model(tier models.Tier) string {
	if tier == models.TierEscalated && g.cfg.EscalatedModel != "" {
		return g.cfg.EscalatedModel
	}
	return g.cfg.Model
}

// Generate writes a first draft opening with a hook outside ExcludedHooks
func (g *LLMGenerator) Generate(ctx context.Context, req GenerateRequest) (*Draft, error) {
	hook := g.catalogue.Select(req.ExcludedHooks)

	text, err := g.client.Complete(ctx, llm.Request{
		Model:       g.model(models.TierDefault),
		System:      generatorSystem,
		Prompt:      buildGeneratePrompt(req, hook),
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(text)
	if content == "" {
		return nil, fmt.Errorf("generator returned empty content")
	}
	return &Draft{Content: content, HookID: hook.ID}, nil
}

// Rewrite revises content using the scorer's suggestions
func (g *LLMGenerator) Rewrite(ctx context.Context, req RewriteRequest) (string, error) {
	hook, _ := g.catalogue.Get(req.HookID)

	text, err := g.client.Complete(ctx, llm.Request{
		Model:       g.model(req.Tier),
		System:      generatorSystem,
		Prompt:      buildRewritePrompt(req, hook),
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}

	content := strings.TrimSpace(text)
	if content == "" {
		return "", fmt.Errorf("generator returned empty rewrite")
	}
	return content, nil
}

// LLMScorer scores posts through a chat backend distinct from the generator
type LLMScorer struct {
	client llm.Client
	cfg    config.BackendConfig
}

// NewLLMScorer creates a scorer
func NewLLMScorer(client llm.Client, cfg config.BackendConfig) *LLMScorer {
	return &LLMScorer{client: client, cfg: cfg}
}

// Score asks the backend for a verdict and parses its JSON answer
func (s *LLMScorer) Score(ctx context.Context, content string) (*Evaluation, error) {
	text, err := s.client.Complete(ctx, llm.Request{
		Model:       s.cfg.Model,
		System:      scorerSystem,
		Prompt:      buildScorePrompt(content),
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return ParseEvaluation(text)
}

// ParseEvaluation extracts {"score", "suggestions"} from a model answer,
// tolerating surrounding prose or code fences. Scores are clamped to 0-100.
func ParseEvaluation(text string) (*Evaluation, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("scorer returned no JSON object")
	}
	raw := text[start : end+1]
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("scorer returned malformed JSON")
	}

	score := gjson.Get(raw, "score")
	if score.Type != gjson.Number {
		if score.Type == gjson.String && gjson.Parse(score.Str).Type == gjson.Number {
			score = gjson.Parse(score.Str)
		} else {
			return nil, fmt.Errorf("scorer JSON has no numeric score")
		}
	}

	eval := &Evaluation{Score: min(max(score.Float(), 0), 100)}
	for _, s := range gjson.Get(raw, "suggestions").Array() {
		if v := strings.TrimSpace(s.String()); v != "" {
			eval.Suggestions = append(eval.Suggestions, v)
		}
	}
	return eval, nil
}
