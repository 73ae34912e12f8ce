// Package policy decides when a refinement loop stops and when rewrites move
// to the escalated backend tier. Both rules are CEL expressions over the
// loop state.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/lyzr/refinery/cmd/refiner/models"
	"github.com/lyzr/refinery/common/config"
)

const (
	// DefaultAcceptExpr stops on a good enough score or a spent budget
	DefaultAcceptExpr = "score >= threshold || improvement_count >= max_iterations"
	// DefaultEscalateExpr escalates once the cheap tier has plateaued
	DefaultEscalateExpr = "improvement_count >= escalate_after && score < threshold"
)

// State is the loop state the expressions see
type State struct {
	Score            float64
	ImprovementCount int
}

// Policy holds the compiled acceptance and escalation programs
type Policy struct {
	threshold     float64
	maxIterations int
	escalateAfter int

	accept   cel.Program
	escalate cel.Program
}

// New compiles the configured expressions, falling back to the defaults for
// empty ones. A bad expression fails here rather than mid-loop.
func New(cfg config.RefinementConfig) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("score", cel.DoubleType),
		cel.Variable("threshold", cel.DoubleType),
		cel.Variable("improvement_count", cel.IntType),
		cel.Variable("max_iterations", cel.IntType),
		cel.Variable("escalate_after", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	acceptExpr := cfg.AcceptExpr
	if acceptExpr == "" {
		acceptExpr = DefaultAcceptExpr
	}
	escalateExpr := cfg.EscalateExpr
	if escalateExpr == "" {
		escalateExpr = DefaultEscalateExpr
	}

	accept, err := compile(env, acceptExpr)
	if err != nil {
		return nil, fmt.Errorf("accept expression: %w", err)
	}
	escalate, err := compile(env, escalateExpr)
	if err != nil {
		return nil, fmt.Errorf("escalate expression: %w", err)
	}

	return &Policy{
		threshold:     cfg.Threshold,
		maxIterations: cfg.MaxIterations,
		escalateAfter: cfg.EscalateAfter,
		accept:        accept,
		escalate:      escalate,
	}, nil
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression %q must return bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return prg, nil
}

// Threshold returns the acceptance threshold
func (p *Policy) Threshold() float64 { return p.threshold }

// MaxIterations returns the improvement budget
func (p *Policy) MaxIterations() int { return p.maxIterations }

// Accept reports whether the loop should stop at s. A spent budget always
// stops the loop, whatever the configured expression says.
func (p *Policy) Accept(s State) (bool, error) {
	if s.ImprovementCount >= p.maxIterations {
		return true, nil
	}
	return p.eval(p.accept, s)
}

// Tier returns the backend tier for the next rewrite at s
func (p *Policy) Tier(s State) (models.Tier, error) {
	escalated, err := p.eval(p.escalate, s)
	if err != nil {
		return models.TierDefault, err
	}
	if escalated {
		return models.TierEscalated, nil
	}
	return models.TierDefault, nil
}

func (p *Policy) eval(prg cel.Program, s State) (bool, error) {
	out, _, err := prg.Eval(map[string]any{
		"score":             s.Score,
		"threshold":         p.threshold,
		"improvement_count": int64(s.ImprovementCount),
		"max_iterations":    int64(p.maxIterations),
		"escalate_after":    int64(p.escalateAfter),
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}
	return result, nil
}
