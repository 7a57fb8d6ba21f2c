package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ai/strand/pkg/agent"
	"github.com/strand-ai/strand/pkg/model"
)

func forkJoinWorkflow(join *model.Node) *model.Workflow {
	return &model.Workflow{
		ID: "wf", StartNode: "f",
		Nodes: map[string]*model.Node{
			"f": {
				ID: "f", Type: model.NodeTypeFork,
				Targets:         []string{"A", "B"},
				TransitionRules: successTo("j"),
			},
			"A":    {ID: "A", Type: model.NodeTypeStandard, AgentID: "agentA", Prompt: "a"},
			"B":    {ID: "B", Type: model.NodeTypeStandard, AgentID: "agentB", Prompt: "b"},
			"j":    join,
			"done": endNode("done"),
		},
	}
}

func collectAllJoin() *model.Node {
	return &model.Node{
		ID: "j", Type: model.NodeTypeJoin,
		AwaitTargets:    []string{"f"},
		MergeStrategy:   model.MergeCollectAll,
		OutputField:     "merged",
		FailOnAnyError:  true,
		TransitionRules: successTo("done"),
	}
}

func TestForkJoinCollectAll(t *testing.T) {
	wf := forkJoinWorkflow(collectAllJoin())
	ec := newTestContext(wf, nil)
	ec.Agents.Register(agent.NewScriptedAgent("agentA", "aa"))
	ec.Agents.Register(agent.NewScriptedAgent("agentB", "bb"))

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	// Outputs are ordered by the fork's declared target list.
	assert.Equal(t, []any{"aa", "bb"}, ec.State.Context["merged"])

	var joinStep *model.ExecutionStep
	for i := range ec.State.History.Steps {
		if ec.State.History.Steps[i].NodeID == "j" {
			joinStep = &ec.State.History.Steps[i]
		}
	}
	require.NotNil(t, joinStep)
	assert.Equal(t, model.StatusSuccess, joinStep.Result.Status)
}

func TestForkJoinCollectAllOrderIsDeclarationOrder(t *testing.T) {
	wf := forkJoinWorkflow(collectAllJoin())
	ec := newTestContext(wf, nil)
	// A finishes long after B; the merge order must not change.
	ec.Agents.Register(newSlowAgent("agentA", "aa", 100*time.Millisecond))
	ec.Agents.Register(agent.NewScriptedAgent("agentB", "bb"))

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, []any{"aa", "bb"}, ec.State.Context["merged"])
}

func TestForkJoinFailOnAnyError(t *testing.T) {
	wf := forkJoinWorkflow(collectAllJoin())
	ec := newTestContext(wf, nil)
	ec.Agents.Register(agent.NewScriptedAgent("agentA", "aa"))
	ec.Agents.Register(agent.NewScriptedAgent("agentB").FailWith(errors.New("branch exploded")))

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeFailure, result.Outcome)
	assert.Contains(t, result.Err.Error(), "branch B failed")
}

func TestForkJoinCollectsErrorsWhenTolerant(t *testing.T) {
	join := collectAllJoin()
	join.FailOnAnyError = false
	wf := forkJoinWorkflow(join)
	ec := newTestContext(wf, nil)
	ec.Agents.Register(agent.NewScriptedAgent("agentA", "aa"))
	ec.Agents.Register(agent.NewScriptedAgent("agentB").FailWith(errors.New("branch exploded")))

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	merged := ec.State.Context["merged"].([]any)
	require.Len(t, merged, 2)
	assert.Equal(t, "aa", merged[0])
	tagged := merged[1].(map[string]any)
	assert.Equal(t, "B", tagged["branch"])
	assert.Contains(t, tagged["error"], "branch exploded")
}

func TestForkJoinFirstSuccess(t *testing.T) {
	join := collectAllJoin()
	join.MergeStrategy = model.MergeFirstSuccess
	join.FailOnAnyError = false
	wf := forkJoinWorkflow(join)
	ec := newTestContext(wf, nil)
	ec.Agents.Register(newSlowAgent("agentA", "aa", 200*time.Millisecond))
	ec.Agents.Register(agent.NewScriptedAgent("agentB", "bb"))

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	// B completed first; its output wins.
	assert.Equal(t, "bb", ec.State.Context["merged"])
}

func TestForkJoinTimeout(t *testing.T) {
	join := collectAllJoin()
	join.TimeoutMs = 50
	wf := forkJoinWorkflow(join)
	ec := newTestContext(wf, nil)
	ec.Agents.Register(newSlowAgent("agentA", "aa", 5*time.Second))
	ec.Agents.Register(agent.NewScriptedAgent("agentB", "bb"))

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeFailure, result.Outcome)
	assert.Contains(t, result.Err.Error(), "timed out")
}

func TestJoinWithoutForkContextFails(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf", StartNode: "j",
		Nodes: map[string]*model.Node{
			"j":    collectAllJoin(),
			"done": endNode("done"),
		},
	}
	ec := newTestContext(wf, nil)

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeFailure, result.Outcome)
	assert.Contains(t, result.Err.Error(), "no fork context")
}

func TestForkBranchesSeeStateSnapshots(t *testing.T) {
	wf := forkJoinWorkflow(collectAllJoin())
	wf.Nodes["A"].Prompt = "work on {item}"
	wf.Nodes["B"].Prompt = "work on {item}"
	ec := newTestContext(wf, map[string]any{"item": "ticket-7"})
	a := agent.NewScriptedAgent("agentA")
	b := agent.NewScriptedAgent("agentB")
	ec.Agents.Register(a)
	ec.Agents.Register(b)

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, []string{"work on ticket-7"}, a.Prompts())
	assert.Equal(t, []string{"work on ticket-7"}, b.Prompts())
}

// slowAgent responds after a delay, honoring cancellation.
type slowAgent struct {
	id       string
	response string
	delay    time.Duration
}

func newSlowAgent(id, response string, delay time.Duration) *slowAgent {
	return &slowAgent{id: id, response: response, delay: delay}
}

func (a *slowAgent) ID() string { return a.id }

func (a *slowAgent) Execute(ctx context.Context, _ string, _ map[string]any) (string, error) {
	select {
	case <-time.After(a.delay):
		return a.response, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
