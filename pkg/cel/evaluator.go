// Package cel evaluates the expressions behind alert rules of type "custom".
// An expression sees the aggregate statistics of one evaluation window and
// must return a bool: `count > 200 && meanSentiment < -0.4`.
package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// WindowStats is the variable environment a custom rule expression sees.
type WindowStats struct {
	Count                 int64
	TotalReach            int64
	MaxReach              int64
	MeanSentiment         float64
	WeightedMeanSentiment float64
	MinSentiment          float64
	NegativeShare         float64
	WindowMillis          int64
}

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("count", cel.IntType),
		cel.Variable("totalReach", cel.IntType),
		cel.Variable("maxReach", cel.IntType),
		cel.Variable("meanSentiment", cel.DoubleType),
		cel.Variable("weightedMeanSentiment", cel.DoubleType),
		cel.Variable("minSentiment", cel.DoubleType),
		cel.Variable("negativeShare", cel.DoubleType),
		cel.Variable("windowMillis", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// ValidateRuleExpression checks that an expression compiles and returns bool.
func (e *Evaluator) ValidateRuleExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// CompileRule compiles an expression into a reusable program. The rule
// registry compiles once at load; evaluation per window is then allocation
// of the vars map only.
func (e *Evaluator) CompileRule(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

// EvaluateRule runs a compiled rule program against one window's statistics.
func (e *Evaluator) EvaluateRule(ctx context.Context, program cel.Program, stats WindowStats) (bool, error) {
	vars := map[string]interface{}{
		"count":                 stats.Count,
		"totalReach":            stats.TotalReach,
		"maxReach":              stats.MaxReach,
		"meanSentiment":         stats.MeanSentiment,
		"weightedMeanSentiment": stats.WeightedMeanSentiment,
		"minSentiment":          stats.MinSentiment,
		"negativeShare":         stats.NegativeShare,
		"windowMillis":          stats.WindowMillis,
	}

	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// Evaluate compiles and runs an expression in one step. Used for ad hoc
// validation paths; hot paths should use CompileRule + EvaluateRule.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, stats WindowStats) (bool, error) {
	program, err := e.CompileRule(expression)
	if err != nil {
		return false, err
	}
	return e.EvaluateRule(ctx, program, stats)
}
