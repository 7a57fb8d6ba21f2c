package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ai/strand/pkg/agent"
	"github.com/strand-ai/strand/pkg/model"
)

func reviewWorkflow(rules []model.TransitionRule) *model.Workflow {
	return &model.Workflow{
		ID: "wf", StartNode: "n0",
		Rubrics: map[string]string{"r1": "r1.json"},
		Nodes: map[string]*model.Node{
			"n0":     {ID: "n0", Type: model.NodeTypeStandard, AgentID: "a", Prompt: "draft", TransitionRules: alwaysTo("review")},
			"review": {ID: "review", Type: model.NodeTypeStandard, AgentID: "a", Prompt: "refine", RubricID: "r1", TransitionRules: rules},
			"revise": {ID: "revise", Type: model.NodeTypeStandard, AgentID: "a", Prompt: "again", TransitionRules: successTo("done")},
			"done":   endNode("done"),
		},
	}
}

func TestScoreRuleRoutingBeatsAutoBacktrack(t *testing.T) {
	rules := []model.TransitionRule{{
		Type: model.TransitionScore,
		Conditions: []model.ScoreCondition{
			{Operator: model.ScoreGTE, Value: 80, Target: "done"},
			{Operator: model.ScoreLT, Value: 80, Target: "revise"},
		},
	}}
	wf := reviewWorkflow(rules)
	ec := newTestContext(wf, nil)
	ec.Agents.Register(agent.NewScriptedAgent("a", "text"))
	require.NoError(t, ec.Rubrics.Register(singleCriterionRubric("r1", 80)))
	ec.Rubrics.RegisterEvaluator(model.EvaluationAutomated, &scriptedEvaluator{scores: []float64{55}})

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	require.NotNil(t, ec.State.RubricEvaluation)
	assert.False(t, ec.State.RubricEvaluation.Passed)
	// The author's Score rule routed to revise; no automatic backtrack.
	assert.Empty(t, ec.State.History.Backtracks)

	visited := make([]string, 0, len(ec.State.History.Steps))
	for _, step := range ec.State.History.Steps {
		visited = append(visited, step.NodeID)
	}
	assert.Equal(t, []string{"n0", "review", "revise"}, visited)
}

func TestCriticalRubricFailureBacktracksToStart(t *testing.T) {
	wf := reviewWorkflow(successTo("done"))
	ec := newTestContext(wf, nil)
	ec.Agents.Register(agent.NewScriptedAgent("a", "text"))
	require.NoError(t, ec.Rubrics.Register(singleCriterionRubric("r1", 80)))
	// First evaluation fails critically, the second passes.
	ec.Rubrics.RegisterEvaluator(model.EvaluationAutomated,
		&scriptedEvaluator{scores: []float64{20, 90}, feedback: "rework the draft"})

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, "Critical rubric failure: 20.0", ec.State.Context[model.KeyBacktrackReason])
	assert.Contains(t, ec.State.Context, model.KeyFailedCriteria)

	require.Len(t, ec.State.History.Backtracks, 1)
	bt := ec.State.History.Backtracks[0]
	assert.Equal(t, model.BacktrackAutomatic, bt.Type)
	assert.Equal(t, "review", bt.From)
	// No prior rubric step in history, so the fallback is the start node.
	assert.Equal(t, "n0", bt.To)
	require.NotNil(t, bt.RubricScore)
	assert.Equal(t, 20.0, *bt.RubricScore)
}

func TestModerateRubricFailureRevisitsDifferentRubricStep(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf", StartNode: "stepA",
		Rubrics: map[string]string{"rA": "rA.json", "rB": "rB.json"},
		Nodes: map[string]*model.Node{
			"stepA": {ID: "stepA", Type: model.NodeTypeStandard, AgentID: "a", Prompt: "a", RubricID: "rA", TransitionRules: successTo("stepB")},
			"stepB": {ID: "stepB", Type: model.NodeTypeStandard, AgentID: "a", Prompt: "b", RubricID: "rB", TransitionRules: successTo("done")},
			"done":  endNode("done"),
		},
	}
	ec := newTestContext(wf, nil)
	ec.Agents.Register(agent.NewScriptedAgent("a", "text"))
	require.NoError(t, ec.Rubrics.Register(singleCriterionRubric("rA", 80)))
	require.NoError(t, ec.Rubrics.Register(singleCriterionRubric("rB", 80)))
	// A passes, B fails moderately, then both pass after the backtrack.
	ec.Rubrics.RegisterEvaluator(model.EvaluationAutomated,
		&scriptedEvaluator{scores: []float64{95, 45, 95, 95}, feedback: "expand the answer"})

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	require.Len(t, ec.State.History.Backtracks, 1)
	bt := ec.State.History.Backtracks[0]
	assert.Equal(t, "stepB", bt.From)
	assert.Equal(t, "stepA", bt.To)
	assert.Equal(t, "Moderate rubric failure: 45.0", bt.Reason)
	assert.Equal(t, []string{"expand the answer"}, ec.State.Context[model.KeyImprovementSuggestions])
}

func TestMinorRubricFailureRetriesThenDefers(t *testing.T) {
	wf := reviewWorkflow(successTo("done"))
	ec := newTestContext(wf, nil)
	scripted := agent.NewScriptedAgent("a", "text")
	ec.Agents.Register(scripted)
	require.NoError(t, ec.Rubrics.Register(singleCriterionRubric("r1", 80)))
	// Every evaluation lands in the minor band; retries cap at three.
	ec.Rubrics.RegisterEvaluator(model.EvaluationAutomated,
		&scriptedEvaluator{scores: []float64{70}, feedback: "tighten the wording"})

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Len(t, ec.State.History.Backtracks, 3)
	for _, bt := range ec.State.History.Backtracks {
		assert.Equal(t, "review", bt.From)
		assert.Equal(t, "review", bt.To)
	}
	assert.Equal(t, 3, ec.State.Context[model.KeyRetryAttempt])
	// n0 once, review four times (initial plus three retries).
	assert.Equal(t, 5, scripted.Calls())
}

func TestRubricPassClearsRetryCounter(t *testing.T) {
	wf := reviewWorkflow(successTo("done"))
	ec := newTestContext(wf, nil)
	ec.Agents.Register(agent.NewScriptedAgent("a", "text"))
	require.NoError(t, ec.Rubrics.Register(singleCriterionRubric("r1", 80)))
	ec.Rubrics.RegisterEvaluator(model.EvaluationAutomated,
		&scriptedEvaluator{scores: []float64{70, 90}})

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	assert.NotContains(t, ec.State.Context, model.KeyRetryAttempt)
}

func TestMissingRubricSourceIsTerminal(t *testing.T) {
	wf := reviewWorkflow(successTo("done"))
	wf.Rubrics = nil
	ec := newTestContext(wf, nil)
	ec.Agents.Register(agent.NewScriptedAgent("a", "text"))

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeFailure, result.Outcome)
	assert.Contains(t, result.Err.Error(), "rubric r1")
}

func TestReviewRejectTerminatesExecution(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf", StartNode: "n0",
		Nodes: map[string]*model.Node{
			"n0": {
				ID: "n0", Type: model.NodeTypeStandard, AgentID: "a", Prompt: "p",
				Review:          &model.ReviewConfig{Mode: model.ReviewModeRequired},
				TransitionRules: successTo("n1"),
			},
			"n1": endNode("n1"),
		},
	}
	ec := newTestContext(wf, nil)
	ec.Agents.Register(agent.NewScriptedAgent("a", "ok"))
	ec.Review = reviewFunc(func(_ context.Context, _ ReviewRequest) (ReviewDecision, error) {
		return ReviewDecision{Action: ReviewReject, Reason: "not good enough"}, nil
	})

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeRejected, result.Outcome)
	assert.Equal(t, "not good enough", result.Reason)
}

func TestReviewBacktrackStagesEditedPrompt(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf", StartNode: "draft",
		Nodes: map[string]*model.Node{
			"draft": {
				ID: "draft", Type: model.NodeTypeStandard, AgentID: "a", Prompt: "original",
				TransitionRules: successTo("check"),
			},
			"check": {
				ID: "check", Type: model.NodeTypeStandard, AgentID: "a", Prompt: "check it",
				Review:          &model.ReviewConfig{Mode: model.ReviewModeRequired},
				TransitionRules: successTo("done"),
			},
			"done": endNode("done"),
		},
	}
	ec := newTestContext(wf, nil)
	scripted := agent.NewScriptedAgent("a")
	ec.Agents.Register(scripted)

	reviews := 0
	ec.Review = reviewFunc(func(_ context.Context, req ReviewRequest) (ReviewDecision, error) {
		reviews++
		if reviews == 1 {
			return ReviewDecision{
				Action:       ReviewBacktrack,
				Target:       "draft",
				Reason:       "redo with more detail",
				EditedPrompt: "rewritten prompt",
			}, nil
		}
		return ReviewDecision{Action: ReviewApprove}, nil
	})

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	require.Len(t, ec.State.History.Backtracks, 1)
	assert.Equal(t, model.BacktrackManual, ec.State.History.Backtracks[0].Type)

	// The scripted agent echoes its prompt: second visit to draft used the
	// reviewer's edited prompt.
	prompts := scripted.Prompts()
	require.Len(t, prompts, 4)
	assert.Equal(t, "original", prompts[0])
	assert.Equal(t, "rewritten prompt", prompts[2])
	assert.NotContains(t, ec.State.Context, model.KeyEditedPrompt)
}

func TestOptionalReviewSkipsSuccesses(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf", StartNode: "n0",
		Nodes: map[string]*model.Node{
			"n0": {
				ID: "n0", Type: model.NodeTypeStandard, AgentID: "a", Prompt: "p",
				Review:          &model.ReviewConfig{Mode: model.ReviewModeOptional},
				TransitionRules: successTo("n1"),
			},
			"n1": endNode("n1"),
		},
	}
	ec := newTestContext(wf, nil)
	ec.Agents.Register(agent.NewScriptedAgent("a", "ok"))

	reviewed := false
	ec.Review = reviewFunc(func(_ context.Context, _ ReviewRequest) (ReviewDecision, error) {
		reviewed = true
		return ReviewDecision{Action: ReviewApprove}, nil
	})

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	assert.False(t, reviewed)
}

func TestReviewApprovePatchMergesContext(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf", StartNode: "n0",
		Nodes: map[string]*model.Node{
			"n0": {
				ID: "n0", Type: model.NodeTypeStandard, AgentID: "a", Prompt: "p",
				Review:          &model.ReviewConfig{Mode: model.ReviewModeRequired},
				TransitionRules: successTo("n1"),
			},
			"n1": endNode("n1"),
		},
	}
	ec := newTestContext(wf, nil)
	ec.Agents.Register(agent.NewScriptedAgent("a", "ok"))
	ec.Review = reviewFunc(func(_ context.Context, _ ReviewRequest) (ReviewDecision, error) {
		return ReviewDecision{Action: ReviewApprove, Patch: map[string]any{"reviewer": "alice"}}, nil
	})

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, "alice", ec.State.Context["reviewer"])
}

func TestPauseReviewerConsumesStagedApproval(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf", StartNode: "n0",
		Nodes: map[string]*model.Node{
			"n0": {
				ID: "n0", Type: model.NodeTypeStandard, AgentID: "a", Prompt: "p",
				Review:          &model.ReviewConfig{Mode: model.ReviewModeRequired},
				TransitionRules: successTo("n1"),
			},
			"n1": endNode("n1"),
		},
	}
	ec := newTestContext(wf, nil)
	ec.Agents.Register(agent.NewScriptedAgent("a", "ok"))
	ec.Review = PauseReviewer{}

	result := NewDriver().Run(context.Background(), ec)
	require.Equal(t, OutcomePaused, result.Outcome)

	// Approve the way the resume path does, then re-run from the snapshot.
	ec.State.Set(model.KeyPlanApproved, true)
	result = NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	assert.NotContains(t, ec.State.Context, model.KeyPlanApproved)
}

// reviewFunc adapts a function to the ReviewHandler interface.
type reviewFunc func(ctx context.Context, req ReviewRequest) (ReviewDecision, error)

func (f reviewFunc) Review(ctx context.Context, req ReviewRequest) (ReviewDecision, error) {
	return f(ctx, req)
}
