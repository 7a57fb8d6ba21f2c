package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/template"
	"github.com/strand-ai/strand/pkg/validate"
)

// maxRubricRetries caps the self-retry loop of minor rubric failures.
const maxRubricRetries = 3

// Auto-backtrack severity thresholds on the 0-100 rubric scale.
const (
	criticalScoreCeiling = 30
	moderateScoreCeiling = 60
	minorScoreCeiling    = 80
)

// runPipeline runs the post-execution processors strictly in order:
// output extraction, history, human review, rubric evaluation, transition
// resolution. The first terminal result short-circuits the rest.
func (d *Driver) runPipeline(ctx context.Context, ec *ExecutionContext, node *model.Node, result *model.NodeResult) *ExecutionResult {
	ec.redirected = false
	processors := []func(context.Context, *ExecutionContext, *model.Node, *model.NodeResult) *ExecutionResult{
		d.extractOutput,
		d.appendHistory,
		d.reviewResult,
		d.evaluateRubric,
		d.resolveTransition,
	}
	for _, process := range processors {
		if term := process(ctx, ec, node, result); term != nil {
			return term
		}
	}
	return nil
}

// extractOutput validates the node output and stores it in the context
// keyed by node id. Standard nodes with outputParams additionally lift
// matching top-level JSON keys into the context.
func (d *Driver) extractOutput(_ context.Context, ec *ExecutionContext, node *model.Node, result *model.NodeResult) *ExecutionResult {
	if result.Output == nil {
		return nil
	}
	text := template.Stringify(result.Output)
	if err := validate.CheckOutput(text); err != nil {
		return failureResult(ec.State, fmt.Errorf("output of node %s rejected: %w", node.ID, err))
	}
	ec.State.Set(node.ID, result.Output)

	if node.Type == model.NodeTypeStandard && len(node.OutputParams) > 0 {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			slog.Warn("Node output is not a JSON object, skipping output params",
				"node_id", node.ID, "error", err)
			return nil
		}
		for _, param := range node.OutputParams {
			if value, ok := parsed[param]; ok {
				ec.State.Set(param, value)
			}
		}
	}
	return nil
}

// appendHistory records the completed node body. History is append-only;
// backtracks never unwind it.
func (d *Driver) appendHistory(_ context.Context, ec *ExecutionContext, node *model.Node, result *model.NodeResult) *ExecutionResult {
	ec.State.History.AppendStep(node.ID, result)
	return nil
}

// reviewResult runs the human review handler when the node asks for it.
func (d *Driver) reviewResult(ctx context.Context, ec *ExecutionContext, node *model.Node, result *model.NodeResult) *ExecutionResult {
	rc := node.Review
	if rc == nil || rc.Mode == model.ReviewModeOff || ec.Review == nil {
		return nil
	}
	if rc.Mode == model.ReviewModeOptional && result.Status == model.StatusSuccess {
		return nil
	}

	decision, err := ec.Review.Review(ctx, ReviewRequest{
		Node:     node,
		Result:   result,
		State:    ec.State,
		Config:   rc,
		Workflow: ec.Workflow,
	})
	if err != nil {
		return failureResult(ec.State, fmt.Errorf("review of node %s: %w", node.ID, err))
	}

	switch decision.Action {
	case ReviewApprove:
		if decision.Patch != nil {
			ec.State.Merge(decision.Patch)
		}
	case ReviewReject:
		return &ExecutionResult{Outcome: OutcomeRejected, Reason: decision.Reason, State: ec.State}
	case ReviewBacktrack:
		ec.State.History.AppendBacktrack(model.BacktrackEvent{
			From:   node.ID,
			To:     decision.Target,
			Reason: decision.Reason,
			Type:   model.BacktrackManual,
		})
		ec.State.CurrentNode = decision.Target
		ec.redirected = true
		if decision.EditedPrompt != "" {
			if target, ok := ec.Workflow.Nodes[decision.Target]; ok && target.Type == model.NodeTypeStandard {
				ec.State.Set(model.KeyEditedPrompt, decision.EditedPrompt)
			}
		}
	case ReviewPause:
		return &ExecutionResult{Outcome: OutcomePaused, State: ec.State}
	default:
		return failureResult(ec.State, fmt.Errorf("review of node %s returned unknown action %q", node.ID, decision.Action))
	}
	return nil
}

// evaluateRubric scores the node output against its rubric, lazily loading
// the rubric from the workflow's rubric sources. Failed evaluations trigger
// an auto-backtrack unless the author routed the score with a Score rule.
func (d *Driver) evaluateRubric(ctx context.Context, ec *ExecutionContext, node *model.Node, result *model.NodeResult) *ExecutionResult {
	if node.RubricID == "" {
		return nil
	}

	if !ec.Rubrics.Has(node.RubricID) {
		source, ok := ec.Workflow.Rubrics[node.RubricID]
		if !ok {
			return failureResult(ec.State, fmt.Errorf("rubric %s is not registered and workflow %s has no source for it", node.RubricID, ec.Workflow.ID))
		}
		if err := ec.Rubrics.Ensure(ctx, node.RubricID, source); err != nil {
			return failureResult(ec.State, err)
		}
	}

	evaluation, err := ec.Rubrics.Evaluate(ctx, node.RubricID, result, ec.State.Context)
	if err != nil {
		return failureResult(ec.State, err)
	}
	ec.State.RubricEvaluation = evaluation

	if evaluation.Passed {
		ec.State.Delete(model.KeyRetryAttempt)
		return nil
	}
	if hasMatchingScoreRule(node, evaluation.Score) {
		// The author routed this score explicitly; respect their routing.
		return nil
	}
	if ec.redirected {
		// A review already redirected the cursor; do not fight it.
		return nil
	}

	d.autoBacktrack(ec, node, evaluation)
	return nil
}

// autoBacktrack picks a recovery target by failure severity: critical
// failures restart from the earliest rubric step, moderate failures revisit
// the most recent differently-rubriced step, minor failures retry the node
// itself up to maxRubricRetries times.
func (d *Driver) autoBacktrack(ec *ExecutionContext, node *model.Node, evaluation *model.RubricEvaluation) {
	score := evaluation.Score
	state := ec.State

	var target, reason string
	updates := map[string]any{}

	switch {
	case score < criticalScoreCeiling:
		target = d.earliestRubricStep(ec, node)
		if target == "" {
			target = ec.Workflow.StartNode
		}
		reason = fmt.Sprintf("Critical rubric failure: %.1f", score)
		updates[model.KeyFailedCriteria] = evaluation.FailedCriteria
		if len(evaluation.Suggestions) > 0 {
			updates[model.KeyRecommendations] = evaluation.Suggestions
		}
	case score < moderateScoreCeiling:
		target = d.latestDifferentRubricStep(ec, node)
		if target == "" {
			return
		}
		reason = fmt.Sprintf("Moderate rubric failure: %.1f", score)
		updates[model.KeyImprovementSuggestions] = evaluation.Suggestions
	case score < minorScoreCeiling:
		attempts := intFromContext(state, model.KeyRetryAttempt)
		if attempts >= maxRubricRetries {
			return
		}
		target = node.ID
		reason = fmt.Sprintf("Minor rubric failure: %.1f", score)
		updates[model.KeyRetryAttempt] = attempts + 1
		updates[model.KeyImprovementSuggestions] = evaluation.Suggestions
	default:
		// Above the minor ceiling the score speaks for itself; let
		// transition rules decide.
		return
	}

	updates[model.KeyBacktrackReason] = reason
	scoreCopy := score
	state.History.AppendBacktrack(model.BacktrackEvent{
		From:        node.ID,
		To:          target,
		Reason:      reason,
		Type:        model.BacktrackAutomatic,
		RubricScore: &scoreCopy,
	})
	state.Merge(updates)
	state.CurrentNode = target
	ec.redirected = true
}

// earliestRubricStep returns the first prior history step whose node also
// carries a rubric, skipping the step just appended for the current node.
func (d *Driver) earliestRubricStep(ec *ExecutionContext, node *model.Node) string {
	steps := ec.State.History.Steps
	for _, step := range steps[:len(steps)-1] {
		if prior, ok := ec.Workflow.Nodes[step.NodeID]; ok && prior.RubricID != "" {
			return step.NodeID
		}
	}
	return ""
}

// latestDifferentRubricStep returns the most recent prior step whose node
// carries a rubric different from the current node's.
func (d *Driver) latestDifferentRubricStep(ec *ExecutionContext, node *model.Node) string {
	steps := ec.State.History.Steps
	for i := len(steps) - 2; i >= 0; i-- {
		if prior, ok := ec.Workflow.Nodes[steps[i].NodeID]; ok &&
			prior.RubricID != "" && prior.RubricID != node.RubricID {
			return steps[i].NodeID
		}
	}
	return ""
}

// resolveTransition picks the next cursor position, first matching strategy
// wins: loop break override, loop exit, plan failure routing, then the
// node's rule list in declaration order.
func (d *Driver) resolveTransition(_ context.Context, ec *ExecutionContext, node *model.Node, result *model.NodeResult) *ExecutionResult {
	state := ec.State
	if ec.redirected || state.CurrentNode != node.ID {
		// A prior processor already redirected the cursor. The flag also
		// covers self-targeted retry backtracks, where the cursor value
		// alone cannot show the redirect.
		return nil
	}

	if state.LoopBreakTarget != "" {
		state.CurrentNode = state.LoopBreakTarget
		state.LoopBreakTarget = ""
		return nil
	}

	if node.Type == model.NodeTypeLoop {
		if v, ok := state.Get(model.KeyLoopExitTarget); ok {
			if target, ok := v.(string); ok && target != "" {
				state.Delete(model.KeyLoopExitTarget)
				state.CurrentNode = target
				return nil
			}
		}
	}

	if result.Status == model.StatusFailure {
		if target, ok := result.Meta(model.KeyPlanFailureTarget).(string); ok && target != "" {
			state.CurrentNode = target
			return nil
		}
	}

	for _, rule := range node.TransitionRules {
		if target := evaluateRule(rule, node, state, result); target != "" {
			state.CurrentNode = target
			return nil
		}
	}
	if result.Status == model.StatusFailure && result.Err != nil {
		// No rule caught the failure; surface the node's own error.
		return failureResult(state, result.Err)
	}
	return failureResult(state, fmt.Errorf("no valid transition from %s", node.ID))
}

// evaluateRule returns the rule's target when it matches, otherwise "".
// Failure rules burn a retry from the state-held counter; a later rule may
// still catch the result once retries are exhausted.
func evaluateRule(rule model.TransitionRule, node *model.Node, state *model.State, result *model.NodeResult) string {
	switch rule.Type {
	case model.TransitionAlways:
		return rule.Target
	case model.TransitionSuccess:
		if result.Status == model.StatusSuccess {
			return rule.Target
		}
	case model.TransitionFailure:
		if result.Status != model.StatusFailure {
			return ""
		}
		if state.IncrementRetry(node.ID) <= rule.MaxRetries {
			return rule.Target
		}
	case model.TransitionScore:
		score, ok := currentScore(state)
		if !ok {
			return ""
		}
		for _, cond := range rule.Conditions {
			if cond.Matches(score) {
				return cond.Target
			}
		}
	}
	return ""
}

// currentScore resolves the score a Score rule compares against: the last
// rubric evaluation first, then the self-reported context keys in order.
func currentScore(state *model.State) (float64, bool) {
	if state.RubricEvaluation != nil {
		return state.RubricEvaluation.Score, true
	}
	for _, key := range []string{"score", "final_score", "quality_score", "evaluation_score"} {
		if v, ok := state.Get(key); ok {
			switch n := v.(type) {
			case float64:
				return n, true
			case int:
				return float64(n), true
			case json.Number:
				if f, err := n.Float64(); err == nil {
					return f, true
				}
			}
		}
	}
	return 0, false
}

func hasMatchingScoreRule(node *model.Node, score float64) bool {
	for _, rule := range node.TransitionRules {
		if rule.Type != model.TransitionScore {
			continue
		}
		for _, cond := range rule.Conditions {
			if cond.Matches(score) {
				return true
			}
		}
	}
	return false
}

func intFromContext(state *model.State, key string) int {
	v, ok := state.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
