package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/strand-ai/strand/pkg/agent"
	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/template"
)

// Planner produces a plan for a Standard node in dynamic planning mode.
type Planner interface {
	CreatePlan(ctx context.Context, node *model.Node, tools []agent.ToolDescriptor, execContext map[string]any) (*model.Plan, error)
}

// AgentPlanner asks an LLM agent to emit a JSON plan over the available
// tools. The node's prompt (template-resolved) is the planning goal.
type AgentPlanner struct {
	agents  *agent.Registry
	agentID string
}

// NewAgentPlanner creates a planner backed by the given agent id.
func NewAgentPlanner(agents *agent.Registry, agentID string) *AgentPlanner {
	return &AgentPlanner{agents: agents, agentID: agentID}
}

func (p *AgentPlanner) CreatePlan(ctx context.Context, node *model.Node, tools []agent.ToolDescriptor, execContext map[string]any) (*model.Plan, error) {
	planner, err := p.agents.Get(p.agentID)
	if err != nil {
		return nil, fmt.Errorf("planner agent: %w", err)
	}

	pc := node.Planning
	available := filterTools(tools, pc.AllowedTools)
	if len(available) == 0 {
		return nil, fmt.Errorf("node %s: no tools available for planning", node.ID)
	}

	goal := template.Resolve(node.Prompt, execContext)
	prompt := buildPlanningPrompt(goal, available, pc)

	response, err := planner.Execute(ctx, prompt, execContext)
	if err != nil {
		return nil, fmt.Errorf("planner agent %s: %w", p.agentID, err)
	}

	plan, err := parsePlan(response)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, err)
	}
	if pc.MaxSteps > 0 && len(plan.Steps) > pc.MaxSteps {
		return nil, fmt.Errorf("node %s: plan has %d steps, maximum is %d", node.ID, len(plan.Steps), pc.MaxSteps)
	}
	for _, step := range plan.Steps {
		if !toolAllowed(available, step.Tool) {
			return nil, fmt.Errorf("node %s: plan uses unavailable tool %q", node.ID, step.Tool)
		}
	}

	plan.ID = uuid.New().String()
	if plan.Goal == "" {
		plan.Goal = goal
	}
	return plan, nil
}

func filterTools(tools []agent.ToolDescriptor, allowed []string) []agent.ToolDescriptor {
	if len(allowed) == 0 {
		return tools
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}
	out := make([]agent.ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		if allowedSet[tool.Name] {
			out = append(out, tool)
		}
	}
	return out
}

func toolAllowed(tools []agent.ToolDescriptor, name string) bool {
	for _, tool := range tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

func buildPlanningPrompt(goal string, tools []agent.ToolDescriptor, pc *model.PlanningConfig) string {
	var b strings.Builder
	b.WriteString("Create a step-by-step plan to accomplish the goal below using only the listed tools.\n\n")
	b.WriteString("Goal: ")
	b.WriteString(goal)
	b.WriteString("\n\nAvailable tools:\n")
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
	}
	if pc.MaxSteps > 0 {
		fmt.Fprintf(&b, "\nUse at most %d steps.\n", pc.MaxSteps)
	}
	if pc.PlannerInstructions != "" {
		b.WriteString("\n")
		b.WriteString(pc.PlannerInstructions)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with JSON only, in the form:\n")
	b.WriteString(`{"steps": [{"tool": "<tool name>", "args": {...}, "description": "<what this step does>"}]}`)
	return b.String()
}

// parsePlan extracts a plan from the planner's response, tolerating a
// markdown code fence around the JSON body.
func parsePlan(response string) (*model.Plan, error) {
	text := strings.TrimSpace(response)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}

	var plan model.Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return nil, fmt.Errorf("planner response is not a valid plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("planner produced an empty plan")
	}
	for i := range plan.Steps {
		if plan.Steps[i].ID == "" {
			plan.Steps[i].ID = fmt.Sprintf("step-%d", i+1)
		}
	}
	return &plan, nil
}
