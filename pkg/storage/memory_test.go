package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ai/strand/pkg/model"
)

func testWorkflow(id string) *model.Workflow {
	return &model.Workflow{
		ID:      id,
		Version: "1.0.0",
		Nodes: map[string]*model.Node{
			"end": {ID: "end", Type: model.NodeTypeEnd, ExitStatus: model.ExitSuccess},
		},
		StartNode: "end",
	}
}

func TestMemoryWorkflowRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorkflowRepository()

	created, err := repo.Upsert(ctx, "t1", testWorkflow("wf1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Upsert(ctx, "t1", testWorkflow("wf1"))
	require.NoError(t, err)
	assert.False(t, created, "second upsert is an update")

	t.Run("get returns an isolated copy", func(t *testing.T) {
		wf, err := repo.Get(ctx, "t1", "wf1")
		require.NoError(t, err)
		wf.Version = "mutated"

		again, err := repo.Get(ctx, "t1", "wf1")
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", again.Version)
	})

	t.Run("tenant isolation", func(t *testing.T) {
		_, err := repo.Get(ctx, "t2", "wf1")
		assert.ErrorIs(t, err, ErrNotFound)

		summaries, err := repo.List(ctx, "t2")
		require.NoError(t, err)
		assert.Empty(t, summaries)
	})

	t.Run("list", func(t *testing.T) {
		_, err := repo.Upsert(ctx, "t1", testWorkflow("wf2"))
		require.NoError(t, err)

		summaries, err := repo.List(ctx, "t1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []model.Summary{
			{ID: "wf1", Version: "1.0.0"},
			{ID: "wf2", Version: "1.0.0"},
		}, summaries)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "t1", "wf2"))
		assert.ErrorIs(t, repo.Delete(ctx, "t1", "wf2"), ErrNotFound)
	})
}

func TestMemoryExecutionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryExecutionRepository()

	state := model.NewState("wf1", "n0", map[string]any{"k": "v"})
	rec := &ExecutionRecord{ID: "e1", WorkflowID: "wf1", Status: ExecutionRunning, State: state}
	require.NoError(t, repo.Save(ctx, "t1", rec))

	t.Run("snapshot does not alias live state", func(t *testing.T) {
		state.Set("k", "changed")
		loaded, err := repo.Get(ctx, "t1", "e1")
		require.NoError(t, err)
		assert.Equal(t, "v", loaded.State.Context["k"])
	})

	t.Run("save is an upsert preserving created_at", func(t *testing.T) {
		first, err := repo.Get(ctx, "t1", "e1")
		require.NoError(t, err)

		rec.Status = ExecutionPaused
		require.NoError(t, repo.Save(ctx, "t1", rec))

		second, err := repo.Get(ctx, "t1", "e1")
		require.NoError(t, err)
		assert.Equal(t, ExecutionPaused, second.Status)
		assert.Equal(t, first.CreatedAt, second.CreatedAt)
	})

	t.Run("list by status", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, "t1", &ExecutionRecord{
			ID: "e2", WorkflowID: "wf1", Status: ExecutionPaused,
			State: model.NewState("wf1", "n1", nil),
		}))

		paused, err := repo.ListByStatus(ctx, "t1", ExecutionPaused)
		require.NoError(t, err)
		assert.Len(t, paused, 2)

		running, err := repo.ListByStatus(ctx, "t1", ExecutionRunning)
		require.NoError(t, err)
		assert.Empty(t, running)
	})

	t.Run("missing execution", func(t *testing.T) {
		_, err := repo.Get(ctx, "t1", "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestExecutionStatusTerminal(t *testing.T) {
	assert.True(t, ExecutionCompleted.Terminal())
	assert.True(t, ExecutionFailed.Terminal())
	assert.True(t, ExecutionRejected.Terminal())
	assert.True(t, ExecutionCancelled.Terminal())
	assert.False(t, ExecutionPending.Terminal())
	assert.False(t, ExecutionRunning.Terminal())
	assert.False(t, ExecutionPaused.Terminal())
}
