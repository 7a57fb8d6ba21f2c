package engine

import (
	"context"
	"sync"

	"github.com/strand-ai/strand/pkg/agent"
	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/rubric"
)

func newTestContext(wf *model.Workflow, initial map[string]any) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID: "exec-1",
		TenantID:    "default",
		Workflow:    wf,
		State:       model.NewState(wf.ID, wf.StartNode, initial),
		Agents:      agent.NewRegistry(),
		Tools:       agent.NewToolRegistry(),
		Rubrics:     rubric.NewEngine(nil),
		Actions:     NewHandlerRegistry(),
		Generic:     NewGenericRegistry(),
		Review:      AutoApprover{},
	}
}

func endNode(id string) *model.Node {
	return &model.Node{ID: id, Type: model.NodeTypeEnd, ExitStatus: model.ExitSuccess}
}

func successTo(target string) []model.TransitionRule {
	return []model.TransitionRule{{Type: model.TransitionSuccess, Target: target}}
}

func alwaysTo(target string) []model.TransitionRule {
	return []model.TransitionRule{{Type: model.TransitionAlways, Target: target}}
}

func singleCriterionRubric(id string, threshold float64) *model.Rubric {
	return &model.Rubric{
		ID:            id,
		Name:          id,
		PassThreshold: threshold,
		Criteria: []model.Criterion{{
			ID:             "c1",
			Name:           "quality",
			Weight:         1,
			MinScore:       60,
			EvaluationType: model.EvaluationAutomated,
		}},
	}
}

// scriptedEvaluator returns scores in order, repeating the last. Failing
// scores carry the feedback string.
type scriptedEvaluator struct {
	mu       sync.Mutex
	scores   []float64
	idx      int
	feedback string
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, criterion model.Criterion, _ rubric.Input) (float64, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.idx
	if idx >= len(e.scores) {
		idx = len(e.scores) - 1
	}
	e.idx++
	score := e.scores[idx]
	if score < criterion.MinScore {
		return score, e.feedback, nil
	}
	return score, "", nil
}

// recordingInvoker records tool calls and returns scripted outputs.
type recordingInvoker struct {
	mu      sync.Mutex
	calls   []string
	args    []map[string]any
	outputs map[string]any
	err     error
}

func (inv *recordingInvoker) CallTool(_ context.Context, name string, args map[string]any) (any, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.calls = append(inv.calls, name)
	inv.args = append(inv.args, args)
	if inv.err != nil {
		return nil, inv.err
	}
	if out, ok := inv.outputs[name]; ok {
		return out, nil
	}
	return "ok", nil
}

func (inv *recordingInvoker) Calls() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]string, len(inv.calls))
	copy(out, inv.calls)
	return out
}
