package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/lyzr/refinery/common/config"
	"github.com/lyzr/refinery/common/llm"
)

const stubRevisionMark = "(revised)"

// StubGenerator writes canned posts (offline development)
type StubGenerator struct {
	catalogue *Catalogue
}

// NewStubGenerator creates a stub generator
func NewStubGenerator(catalogue *Catalogue) *StubGenerator {
	return &StubGenerator{catalogue: catalogue}
}

func (g *StubGenerator) Generate(_ context.Context, req GenerateRequest) (*Draft, error) {
	hook := g.catalogue.Select(req.ExcludedHooks)
	content := fmt.Sprintf("[%s] A few thoughts on %s.\n\nWhat has your experience been?", hook.Name, req.Topic)
	return &Draft{Content: content, HookID: hook.ID}, nil
}

func (g *StubGenerator) Rewrite(_ context.Context, req RewriteRequest) (string, error) {
	return req.Content + "\n" + stubRevisionMark + " tier=" + string(req.Tier), nil
}

// StubScorer scores 60 plus 10 per revision, so the loop converges
type StubScorer struct{}

func (StubScorer) Score(_ context.Context, content string) (*Evaluation, error) {
	score := 60 + 10*float64(strings.Count(content, stubRevisionMark))
	return &Evaluation{
		Score:       min(score, 100),
		Suggestions: []string{"Sharpen the first line", "Cut the middle paragraph by half"},
	}, nil
}

// NewGenerator builds the generator for cfg.Provider
func NewGenerator(cfg config.BackendConfig, catalogue *Catalogue) (TextGenerator, error) {
	if cfg.Provider == "stub" {
		return NewStubGenerator(catalogue), nil
	}
	client, err := llm.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("generator backend: %w", err)
	}
	return NewLLMGenerator(client, cfg, catalogue), nil
}

// NewScorer builds the scorer for cfg.Provider
func NewScorer(cfg config.BackendConfig) (TextScorer, error) {
	if cfg.Provider == "stub" {
		return StubScorer{}, nil
	}
	client, err := llm.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("scorer backend: %w", err)
	}
	return NewLLMScorer(client, cfg), nil
}
