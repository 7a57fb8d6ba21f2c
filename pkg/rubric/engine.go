// Package rubric evaluates node outputs against weighted criteria sets,
// producing a 0–100 score and a pass/fail verdict.
package rubric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/strand-ai/strand/pkg/model"
)

var (
	// ErrRubricNotFound is returned when a rubric id is not registered
	// and cannot be lazily loaded.
	ErrRubricNotFound = errors.New("rubric not found")
	// ErrNoCriteria is returned for rubrics with an empty criteria list.
	ErrNoCriteria = errors.New("rubric has no criteria")
)

// Input is what criterion evaluators see: the node output in string form
// plus the execution context.
type Input struct {
	Output  string
	Context map[string]any
}

// CriterionEvaluator scores a single criterion on the 0–100 scale.
type CriterionEvaluator interface {
	Evaluate(ctx context.Context, criterion model.Criterion, input Input) (score float64, feedback string, err error)
}

// Loader resolves a rubric source locator (as found in workflow.rubrics)
// into a rubric definition. Used for lazy registration.
type Loader interface {
	Load(ctx context.Context, locator string) (*model.Rubric, error)
}

// Engine holds registered rubrics and per-evaluation-type evaluators.
// Reads are concurrent; lazy registration takes the write lock.
type Engine struct {
	mu         sync.RWMutex
	rubrics    map[string]*model.Rubric
	evaluators map[model.EvaluationType]CriterionEvaluator
	loader     Loader
}

// NewEngine creates an engine with the expression evaluator bound to the
// Automated and Hybrid types. Manual criteria auto-pass unless a manual
// evaluator is registered; LLM-based criteria need RegisterEvaluator.
func NewEngine(loader Loader) *Engine {
	exprEval := NewExprEvaluator()
	return &Engine{
		rubrics: make(map[string]*model.Rubric),
		evaluators: map[model.EvaluationType]CriterionEvaluator{
			model.EvaluationAutomated: exprEval,
			model.EvaluationHybrid:    exprEval,
		},
		loader: loader,
	}
}

// Register adds or replaces a rubric definition.
func (e *Engine) Register(rubric *model.Rubric) error {
	if rubric.ID == "" {
		return fmt.Errorf("rubric id is required")
	}
	if len(rubric.Criteria) == 0 {
		return fmt.Errorf("%w: %s", ErrNoCriteria, rubric.ID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rubrics[rubric.ID] = rubric
	return nil
}

// RegisterEvaluator binds an evaluator to an evaluation type, replacing
// any existing binding.
func (e *Engine) RegisterEvaluator(evalType model.EvaluationType, evaluator CriterionEvaluator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluators[evalType] = evaluator
}

// Has reports whether a rubric id is registered.
func (e *Engine) Has(rubricID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.rubrics[rubricID]
	return ok
}

// Ensure registers the rubric from its source locator if absent.
func (e *Engine) Ensure(ctx context.Context, rubricID, locator string) error {
	if e.Has(rubricID) {
		return nil
	}
	if e.loader == nil {
		return fmt.Errorf("%w: %s (no loader configured)", ErrRubricNotFound, rubricID)
	}
	rubric, err := e.loader.Load(ctx, locator)
	if err != nil {
		return fmt.Errorf("failed to load rubric %s from %q: %w", rubricID, locator, err)
	}
	if rubric.ID == "" {
		rubric.ID = rubricID
	}
	return e.Register(rubric)
}

// Evaluate scores the rubric against a node result. The overall score is
// the weight-normalized criterion sum clamped to [0,100]; the rubric
// passes when the score reaches the threshold and every required
// criterion passed individually.
func (e *Engine) Evaluate(ctx context.Context, rubricID string, result *model.NodeResult, execContext map[string]any) (*model.RubricEvaluation, error) {
	e.mu.RLock()
	rubric, ok := e.rubrics[rubricID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRubricNotFound, rubricID)
	}

	input := Input{Output: outputString(result), Context: execContext}

	evaluation := &model.RubricEvaluation{RubricID: rubricID}
	var weightSum, weightedTotal float64
	requiredOK := true

	for _, criterion := range rubric.Criteria {
		score, feedback := e.scoreCriterion(ctx, criterion, input)
		score = clamp(score, 0, 100)

		passed := score >= criterion.MinScore
		weighted := score * criterion.Weight
		weightSum += criterion.Weight
		weightedTotal += weighted

		evaluation.CriterionResults = append(evaluation.CriterionResults, model.CriterionResult{
			CriterionID:   criterion.ID,
			Score:         score,
			WeightedScore: weighted,
			Passed:        passed,
			Feedback:      feedback,
		})
		if !passed {
			evaluation.FailedCriteria = append(evaluation.FailedCriteria, criterion.Name)
			if feedback != "" {
				evaluation.Suggestions = append(evaluation.Suggestions, feedback)
			}
			if criterion.Required {
				requiredOK = false
			}
		}
	}

	if weightSum > 0 {
		evaluation.Score = clamp(weightedTotal/weightSum, 0, 100)
	}
	evaluation.Passed = evaluation.Score >= rubric.PassThreshold && requiredOK

	return evaluation, nil
}

// scoreCriterion dispatches to the evaluator for the criterion's type.
// Evaluator errors score 0 with the error as feedback — a broken rubric
// expression should fail the criterion, not abort the execution.
func (e *Engine) scoreCriterion(ctx context.Context, criterion model.Criterion, input Input) (float64, string) {
	e.mu.RLock()
	evaluator, ok := e.evaluators[criterion.EvaluationType]
	e.mu.RUnlock()

	if !ok {
		if criterion.EvaluationType == model.EvaluationManual {
			// No manual evaluator wired: auto-approve, as in non-interactive runs.
			return 100, ""
		}
		slog.Warn("No evaluator for criterion type, scoring zero",
			"criterion", criterion.ID, "type", criterion.EvaluationType)
		return 0, fmt.Sprintf("no evaluator registered for type %s", criterion.EvaluationType)
	}

	score, feedback, err := evaluator.Evaluate(ctx, criterion, input)
	if err != nil {
		slog.Warn("Criterion evaluation failed",
			"criterion", criterion.ID, "error", err)
		return 0, err.Error()
	}
	return score, feedback
}

func outputString(result *model.NodeResult) string {
	if result == nil || result.Output == nil {
		return ""
	}
	if s, ok := result.Output.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", result.Output)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
