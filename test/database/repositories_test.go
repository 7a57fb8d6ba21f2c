// Package database holds PostgreSQL integration tests for the storage
// repositories. Tests run against a per-test schema: a shared
// testcontainer locally, the CI_DATABASE_URL service in CI.
package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/storage"
	"github.com/strand-ai/strand/test/util"
)

func testWorkflow(id string) *model.Workflow {
	return &model.Workflow{
		ID:        id,
		Version:   "1",
		StartNode: "n0",
		Nodes: map[string]*model.Node{
			"n0": {
				ID: "n0", Type: model.NodeTypeStandard, AgentID: "echo", Prompt: "handle {ticket}",
				TransitionRules: []model.TransitionRule{{Type: model.TransitionSuccess, Target: "done"}},
			},
			"done": {ID: "done", Type: model.NodeTypeEnd, ExitStatus: model.ExitSuccess},
		},
	}
}

func TestWorkflowRepositoryRoundTrip(t *testing.T) {
	db := util.SetupTestDatabase(t)
	repo := storage.NewPostgresWorkflowRepository(db)
	ctx := context.Background()

	created, err := repo.Upsert(ctx, "t1", testWorkflow("wf"))
	require.NoError(t, err)
	assert.True(t, created)

	// Replacing an existing definition reports update, not create.
	updated := testWorkflow("wf")
	updated.Version = "2"
	created, err = repo.Upsert(ctx, "t1", updated)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.Get(ctx, "t1", "wf")
	require.NoError(t, err)
	assert.Equal(t, "2", got.Version)
	assert.Equal(t, "n0", got.StartNode)
	require.Contains(t, got.Nodes, "n0")
	assert.Equal(t, "handle {ticket}", got.Nodes["n0"].Prompt)

	summaries, err := repo.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, model.Summary{ID: "wf", Version: "2"}, summaries[0])

	require.NoError(t, repo.Delete(ctx, "t1", "wf"))
	_, err = repo.Get(ctx, "t1", "wf")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "t1", "wf"), storage.ErrNotFound)
}

func TestWorkflowRepositoryTenantIsolation(t *testing.T) {
	db := util.SetupTestDatabase(t)
	repo := storage.NewPostgresWorkflowRepository(db)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "acme", testWorkflow("wf"))
	require.NoError(t, err)

	_, err = repo.Get(ctx, "globex", "wf")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The same id is a distinct row per tenant.
	created, err := repo.Upsert(ctx, "globex", testWorkflow("wf"))
	require.NoError(t, err)
	assert.True(t, created)

	summaries, err := repo.List(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestExecutionRepositoryRoundTrip(t *testing.T) {
	db := util.SetupTestDatabase(t)
	repo := storage.NewPostgresExecutionRepository(db)
	ctx := context.Background()

	state := model.NewState("wf", "n0", map[string]any{"ticket": "T-1"})
	rec := &storage.ExecutionRecord{
		ID:         "e1",
		WorkflowID: "wf",
		Status:     storage.ExecutionPending,
		State:      state,
	}
	require.NoError(t, repo.Save(ctx, "t1", rec))

	// Checkpoint: progress the state and upsert the same row.
	rec.State.Set("n0", "handled")
	rec.State.CurrentNode = "done"
	rec.Status = storage.ExecutionRunning
	require.NoError(t, repo.Save(ctx, "t1", rec))

	got, err := repo.Get(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionRunning, got.Status)
	assert.Equal(t, "done", got.State.CurrentNode)
	assert.Equal(t, "handled", got.State.Context["n0"])
	assert.Equal(t, "T-1", got.State.Context["ticket"])
}

func TestExecutionRepositoryTerminalFields(t *testing.T) {
	db := util.SetupTestDatabase(t)
	repo := storage.NewPostgresExecutionRepository(db)
	ctx := context.Background()

	rec := &storage.ExecutionRecord{
		ID:         "e1",
		WorkflowID: "wf",
		Status:     storage.ExecutionFailed,
		State:      model.NewState("wf", "n0", nil),
		ExitStatus: string(model.ExitFailure),
		Error:      "agent timed out",
	}
	require.NoError(t, repo.Save(ctx, "t1", rec))

	got, err := repo.Get(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, string(model.ExitFailure), got.ExitStatus)
	assert.Equal(t, "agent timed out", got.Error)
}

func TestExecutionRepositoryListByStatus(t *testing.T) {
	db := util.SetupTestDatabase(t)
	repo := storage.NewPostgresExecutionRepository(db)
	ctx := context.Background()

	for _, rec := range []*storage.ExecutionRecord{
		{ID: "e1", WorkflowID: "wf", Status: storage.ExecutionPaused, State: model.NewState("wf", "n0", nil)},
		{ID: "e2", WorkflowID: "wf", Status: storage.ExecutionPaused, State: model.NewState("wf", "n1", nil)},
		{ID: "e3", WorkflowID: "wf", Status: storage.ExecutionCompleted, State: model.NewState("wf", "done", nil)},
	} {
		require.NoError(t, repo.Save(ctx, "t1", rec))
	}
	require.NoError(t, repo.Save(ctx, "t2", &storage.ExecutionRecord{
		ID: "e4", WorkflowID: "wf", Status: storage.ExecutionPaused, State: model.NewState("wf", "n0", nil),
	}))

	paused, err := repo.ListByStatus(ctx, "t1", storage.ExecutionPaused)
	require.NoError(t, err)
	require.Len(t, paused, 2)
	assert.ElementsMatch(t, []string{"e1", "e2"}, []string{paused[0].ID, paused[1].ID})

	none, err := repo.ListByStatus(ctx, "t1", storage.ExecutionCancelled)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExecutionRepositoryPruneTerminal(t *testing.T) {
	db := util.SetupTestDatabase(t)
	repo := storage.NewPostgresExecutionRepository(db)
	ctx := context.Background()

	for _, rec := range []*storage.ExecutionRecord{
		{ID: "done", WorkflowID: "wf", Status: storage.ExecutionCompleted, State: model.NewState("wf", "done", nil)},
		{ID: "dead", WorkflowID: "wf", Status: storage.ExecutionFailed, State: model.NewState("wf", "n0", nil)},
		{ID: "live", WorkflowID: "wf", Status: storage.ExecutionRunning, State: model.NewState("wf", "n0", nil)},
	} {
		require.NoError(t, repo.Save(ctx, "t1", rec))
	}

	count, err := repo.PruneTerminal(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = repo.PruneTerminal(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = repo.Get(ctx, "t1", "done")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.Get(ctx, "t1", "live")
	assert.NoError(t, err)
}

func TestExecutionRepositoryGetUnknown(t *testing.T) {
	db := util.SetupTestDatabase(t)
	repo := storage.NewPostgresExecutionRepository(db)

	_, err := repo.Get(context.Background(), "t1", "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
