package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ai/strand/pkg/agent"
	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/storage"
)

func TestSubWorkflowExecution(t *testing.T) {
	child := &model.Workflow{
		ID: "child", StartNode: "c0",
		Nodes: map[string]*model.Node{
			"c0":   {ID: "c0", Type: model.NodeTypeStandard, AgentID: "echo", Prompt: "hello {name}", TransitionRules: successTo("cEnd")},
			"cEnd": endNode("cEnd"),
		},
	}

	parent := &model.Workflow{
		ID: "parent", StartNode: "sub",
		Nodes: map[string]*model.Node{
			"sub": {
				ID: "sub", Type: model.NodeTypeSubWorkflow, WorkflowID: "child",
				InputMapping:    map[string]string{"name": "username"},
				OutputMapping:   map[string]string{"greeting": "c0"},
				TransitionRules: successTo("done"),
			},
			"done": endNode("done"),
		},
	}

	repo := storage.NewMemoryWorkflowRepository()
	_, err := repo.Upsert(context.Background(), "default", child)
	require.NoError(t, err)

	ec := newTestContext(parent, map[string]any{"username": "bob"})
	ec.Workflows = repo
	ec.Agents.Register(agent.NewScriptedAgent("echo"))

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	// The echo agent returned its resolved prompt; the output mapping
	// copied it back into the parent context.
	assert.Equal(t, "hello bob", ec.State.Context["greeting"])
	// The parent context never absorbs unmapped child keys.
	assert.NotContains(t, ec.State.Context, "name")
}

func TestSubWorkflowMissingChildFails(t *testing.T) {
	parent := &model.Workflow{
		ID: "parent", StartNode: "sub",
		Nodes: map[string]*model.Node{
			"sub":  {ID: "sub", Type: model.NodeTypeSubWorkflow, WorkflowID: "ghost", TransitionRules: successTo("done")},
			"done": endNode("done"),
		},
	}
	ec := newTestContext(parent, nil)
	ec.Workflows = storage.NewMemoryWorkflowRepository()

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeFailure, result.Outcome)
	assert.Contains(t, result.Err.Error(), "sub-workflow ghost")
}

func TestSubWorkflowFailurePropagates(t *testing.T) {
	child := &model.Workflow{
		ID: "child", StartNode: "cFail",
		Nodes: map[string]*model.Node{
			"cFail": {ID: "cFail", Type: model.NodeTypeEnd, ExitStatus: model.ExitFailure},
		},
	}
	parent := &model.Workflow{
		ID: "parent", StartNode: "sub",
		Nodes: map[string]*model.Node{
			"sub": {
				ID: "sub", Type: model.NodeTypeSubWorkflow, WorkflowID: "child",
				TransitionRules: []model.TransitionRule{
					{Type: model.TransitionSuccess, Target: "done"},
					{Type: model.TransitionAlways, Target: "failed"},
				},
			},
			"done":   endNode("done"),
			"failed": {ID: "failed", Type: model.NodeTypeEnd, ExitStatus: model.ExitFailure},
		},
	}

	repo := storage.NewMemoryWorkflowRepository()
	_, err := repo.Upsert(context.Background(), "default", child)
	require.NoError(t, err)

	ec := newTestContext(parent, nil)
	ec.Workflows = repo

	result := NewDriver().Run(context.Background(), ec)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, model.ExitFailure, result.ExitStatus)
}
