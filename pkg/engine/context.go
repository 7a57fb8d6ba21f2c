// Package engine runs workflow executions: a sequential graph driver per
// execution, a post-execution pipeline of processors, and one executor per
// node variant. Parallelism happens only inside Parallel and Fork nodes and
// is fully joined before control returns to the driver.
package engine

import (
	"sync"

	"github.com/strand-ai/strand/pkg/agent"
	"github.com/strand-ai/strand/pkg/events"
	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/rubric"
	"github.com/strand-ai/strand/pkg/storage"
)

// ExecutionContext bundles everything one execution needs: the workflow,
// its mutable state, and the registries and callbacks the executors and
// pipeline consult. Registries are shared across executions and safe for
// concurrent reads; State is owned by this execution alone.
type ExecutionContext struct {
	ExecutionID string
	TenantID    string
	Workflow    *model.Workflow
	State       *model.State

	Agents  *agent.Registry
	Tools   *agent.ToolRegistry
	Invoker agent.ToolInvoker
	Rubrics *rubric.Engine

	Actions  *HandlerRegistry
	Generic  *GenericRegistry
	Commands *CommandRegistry
	Review   ReviewHandler
	Planner  Planner

	// Workflows resolves SubWorkflow nodes under the same tenant.
	Workflows storage.WorkflowRepository

	Events *events.Broadcaster

	// OnCheckpoint fires before each node body with the about-to-execute
	// state; the snapshot it yields is a consistent recovery point.
	OnCheckpoint func(*model.State)
	// OnPaused fires when the driver exits with a Paused result.
	OnPaused func(*model.State)

	forkMu sync.Mutex
	forks  map[string]*ForkJoinContext

	// redirected marks that a pipeline processor moved the cursor during
	// the current step. Reset at the start of every pipeline run.
	redirected bool
}

// storeFork records a fork context under its fork node id.
func (ec *ExecutionContext) storeFork(fj *ForkJoinContext) {
	ec.forkMu.Lock()
	defer ec.forkMu.Unlock()
	if ec.forks == nil {
		ec.forks = make(map[string]*ForkJoinContext)
	}
	ec.forks[fj.ForkNodeID] = fj
}

// takeFork removes and returns the fork context for a fork node id. The
// Join executor consumes contexts exactly once.
func (ec *ExecutionContext) takeFork(forkNodeID string) (*ForkJoinContext, bool) {
	ec.forkMu.Lock()
	defer ec.forkMu.Unlock()
	fj, ok := ec.forks[forkNodeID]
	if ok {
		delete(ec.forks, forkNodeID)
	}
	return fj, ok
}

// branch derives a context for a fork branch or sub-workflow run. State is
// replaced; registries, callbacks and the event stream are inherited so
// branch steps surface on the parent execution's stream.
func (ec *ExecutionContext) branch(wf *model.Workflow, state *model.State) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID: ec.ExecutionID,
		TenantID:    ec.TenantID,
		Workflow:    wf,
		State:       state,
		Agents:      ec.Agents,
		Tools:       ec.Tools,
		Invoker:     ec.Invoker,
		Rubrics:     ec.Rubrics,
		Actions:     ec.Actions,
		Generic:     ec.Generic,
		Commands:    ec.Commands,
		Review:      ec.Review,
		Planner:     ec.Planner,
		Workflows:   ec.Workflows,
		Events:      ec.Events,
	}
}
