package rubric

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/strand-ai/strand/pkg/model"
)

// ExprEvaluator scores criteria by evaluating their evaluationLogic as an
// expr expression. The environment exposes `output` (the node output
// string) and `context` (the execution context map). Boolean results map
// to 100/0; numeric results are taken as the score directly.
//
// Example logics:
//
//	len(output) > 100 ? 100 : 40
//	output contains "summary"
//	float(context.quality_score ?? 0)
type ExprEvaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewExprEvaluator creates an evaluator with an empty compile cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{programs: make(map[string]*vm.Program)}
}

// Evaluate implements CriterionEvaluator.
func (e *ExprEvaluator) Evaluate(_ context.Context, criterion model.Criterion, input Input) (float64, string, error) {
	logic := strings.TrimSpace(criterion.EvaluationLogic)
	if logic == "" {
		return 0, "", fmt.Errorf("criterion %s has no evaluation logic", criterion.ID)
	}

	program, err := e.compile(logic)
	if err != nil {
		return 0, "", fmt.Errorf("criterion %s: invalid expression: %w", criterion.ID, err)
	}

	env := map[string]any{
		"output":  input.Output,
		"context": input.Context,
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return 0, "", fmt.Errorf("criterion %s: evaluation error: %w", criterion.ID, err)
	}

	switch v := result.(type) {
	case bool:
		if v {
			return 100, "", nil
		}
		return 0, fmt.Sprintf("criterion %q not satisfied", criterion.Name), nil
	case float64:
		return v, "", nil
	case int:
		return float64(v), "", nil
	case int64:
		return float64(v), "", nil
	default:
		return 0, "", fmt.Errorf("criterion %s: expression returned %T, want bool or number", criterion.ID, result)
	}
}

func (e *ExprEvaluator) compile(logic string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[logic]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(logic, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[logic] = program
	e.mu.Unlock()
	return program, nil
}
