package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strand-ai/strand/pkg/agent"
	"github.com/strand-ai/strand/pkg/events"
	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/template"
)

// executeStandard runs a Standard node: resolve the prompt against the
// context, invoke the agent, return its text response. Nodes with a
// planning config run a plan instead of a single agent call.
func (d *Driver) executeStandard(ctx context.Context, ec *ExecutionContext, node *model.Node) *model.NodeResult {
	if node.Planning != nil {
		return d.executePlanned(ctx, ec, node)
	}

	prompt := node.Prompt
	if staged, ok := ec.State.Get(model.KeyEditedPrompt); ok {
		if s, ok := staged.(string); ok && s != "" {
			prompt = s
		}
		ec.State.Delete(model.KeyEditedPrompt)
	}
	resolved := template.Resolve(prompt, ec.State.Context)

	ag, err := ec.Agents.Get(node.AgentID)
	if err != nil {
		return model.NewFailureResult(err)
	}
	output, err := ag.Execute(ctx, resolved, ec.State.Context)
	if err != nil {
		return model.NewFailureResult(fmt.Errorf("agent %s: %w", node.AgentID, err))
	}
	return model.NewSuccessResult(output)
}

// executePlanned runs the planning flow of a Standard node: obtain a plan
// (static or from the planner), optionally pause for review, then execute
// each step through the tool invoker.
func (d *Driver) executePlanned(ctx context.Context, ec *ExecutionContext, node *model.Node) *model.NodeResult {
	pc := node.Planning

	plan, approved := pendingApprovedPlan(ec.State)
	if plan == nil {
		var err error
		plan, err = d.obtainPlan(ctx, ec, node)
		if err != nil {
			return planFailure(pc, err)
		}
		if ec.Events != nil {
			ec.Events.PublishPlanCreated(events.PlanCreatedPayload{
				ExecutionID: ec.ExecutionID,
				NodeID:      node.ID,
				PlanID:      plan.ID,
				TotalSteps:  len(plan.Steps),
			})
		}
		if pc.ReviewBeforeExecute {
			ec.State.Set(model.KeyPendingPlan, plan)
			result := &model.NodeResult{Status: model.StatusPending, Timestamp: time.Now()}
			result.SetMeta(model.KeyPlanReviewRequired, true)
			return result
		}
	} else if approved && ec.Events != nil {
		ec.Events.PublishPlanRevised(events.PlanRevisedPayload{
			ExecutionID: ec.ExecutionID,
			NodeID:      node.ID,
			PlanID:      plan.ID,
		})
	}

	outputs, err := d.runPlan(ctx, ec, node, plan)
	if ec.Events != nil {
		ec.Events.PublishPlanCompleted(events.PlanCompletedPayload{
			ExecutionID: ec.ExecutionID,
			NodeID:      node.ID,
			PlanID:      plan.ID,
			Succeeded:   err == nil,
		})
	}
	if err != nil {
		return planFailure(pc, err)
	}
	return model.NewSuccessResult(outputs)
}

func (d *Driver) obtainPlan(ctx context.Context, ec *ExecutionContext, node *model.Node) (*model.Plan, error) {
	switch node.Planning.Mode {
	case model.PlanningModeStatic:
		if node.StaticPlan == nil {
			return nil, fmt.Errorf("node %s: static planning mode without a static plan", node.ID)
		}
		plan := *node.StaticPlan
		if plan.ID == "" {
			plan.ID = uuid.New().String()
		}
		return &plan, nil
	case model.PlanningModeDynamic:
		if ec.Planner == nil {
			return nil, fmt.Errorf("node %s: dynamic planning mode without a planner", node.ID)
		}
		var tools []agent.ToolDescriptor
		if ec.Tools != nil {
			tools = ec.Tools.List()
		}
		return ec.Planner.CreatePlan(ctx, node, tools, ec.State.Context)
	default:
		return nil, fmt.Errorf("node %s: unknown planning mode %q", node.ID, node.Planning.Mode)
	}
}

// runPlan invokes each planned step's tool in order, recording progress
// for the plan status endpoint. Any step error aborts the plan.
func (d *Driver) runPlan(ctx context.Context, ec *ExecutionContext, node *model.Node, plan *model.Plan) (any, error) {
	if ec.Invoker == nil {
		return nil, fmt.Errorf("node %s: no tool invoker configured", node.ID)
	}

	results := make([]any, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		ec.State.Set(model.KeyPlanProgress, map[string]any{
			"planId":      plan.ID,
			"totalSteps":  len(plan.Steps),
			"currentStep": i + 1,
		})
		args := template.ResolvePayload(step.Args, ec.State.Context)
		out, err := ec.Invoker.CallTool(ctx, step.Tool, args)
		if err != nil {
			return nil, fmt.Errorf("plan step %d (%s): %w", i+1, step.Tool, err)
		}
		results = append(results, map[string]any{
			"step":   step.ID,
			"tool":   step.Tool,
			"result": out,
		})
	}
	ec.State.Delete(model.KeyPlanProgress)
	return results, nil
}

// pendingApprovedPlan returns the reviewed plan staged by the resume path,
// clearing the review keys. The plan survives a snapshot round-trip as a
// JSON map, so both representations are accepted.
func pendingApprovedPlan(state *model.State) (*model.Plan, bool) {
	if approved, _ := state.Context[model.KeyPlanApproved].(bool); !approved {
		return nil, false
	}
	raw, ok := state.Get(model.KeyPendingPlan)
	state.Delete(model.KeyPlanApproved)
	state.Delete(model.KeyPendingPlan)
	if !ok {
		return nil, false
	}

	switch plan := raw.(type) {
	case *model.Plan:
		return plan, true
	case map[string]any:
		data, err := json.Marshal(plan)
		if err != nil {
			return nil, false
		}
		var decoded model.Plan
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, false
		}
		return &decoded, true
	default:
		return nil, false
	}
}

func planFailure(pc *model.PlanningConfig, err error) *model.NodeResult {
	result := model.NewFailureResult(err)
	if pc.PlanFailureTarget != "" {
		result.SetMeta(model.KeyPlanFailureTarget, pc.PlanFailureTarget)
	}
	return result
}
