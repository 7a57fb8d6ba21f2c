package validate

import (
	"fmt"
	"regexp"

	"github.com/strand-ai/strand/pkg/model"
)

// identifierPattern matches every path- and query-segment identifier the
// API accepts: workflow ids, node ids, execution ids, rubric ids, client
// ids. First char alphanumeric, then up to 254 of [A-Za-z0-9._-].
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,254}$`)

// Identifier validates a single identifier segment.
func Identifier(id string) error {
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier %q", LogSafe(id))
	}
	return nil
}

// Workflow deep-walks a submitted workflow definition, validating every
// nested identifier and stripping control characters from free-text
// fields in place. Returns the first identifier violation found.
func Workflow(wf *model.Workflow) error {
	if err := Identifier(wf.ID); err != nil {
		return fmt.Errorf("workflow id: %w", err)
	}
	wf.Metadata.Name = StripControl(wf.Metadata.Name)
	wf.Metadata.Description = StripControl(wf.Metadata.Description)
	wf.Metadata.Author = StripControl(wf.Metadata.Author)
	for i, tag := range wf.Metadata.Tags {
		wf.Metadata.Tags[i] = StripControl(tag)
	}

	for id := range wf.Agents {
		if err := Identifier(id); err != nil {
			return fmt.Errorf("agent id: %w", err)
		}
	}
	for id := range wf.Rubrics {
		if err := Identifier(id); err != nil {
			return fmt.Errorf("rubric id: %w", err)
		}
	}

	for id, node := range wf.Nodes {
		if err := Identifier(id); err != nil {
			return fmt.Errorf("node id: %w", err)
		}
		if err := workflowNode(node); err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
	}
	return nil
}

func workflowNode(node *model.Node) error {
	node.Prompt = StripControl(node.Prompt)
	if node.AgentID != "" {
		if err := Identifier(node.AgentID); err != nil {
			return fmt.Errorf("agent ref: %w", err)
		}
	}
	if node.RubricID != "" {
		if err := Identifier(node.RubricID); err != nil {
			return fmt.Errorf("rubric ref: %w", err)
		}
	}
	for _, rule := range node.TransitionRules {
		for _, target := range rule.Targets() {
			if err := Identifier(target); err != nil {
				return fmt.Errorf("transition target: %w", err)
			}
		}
	}
	for i, branch := range node.Branches {
		if err := Identifier(branch.ID); err != nil {
			return fmt.Errorf("branch id: %w", err)
		}
		node.Branches[i].Prompt = StripControl(branch.Prompt)
	}
	for _, target := range node.Targets {
		if err := Identifier(target); err != nil {
			return fmt.Errorf("fork target: %w", err)
		}
	}
	for _, target := range node.AwaitTargets {
		if err := Identifier(target); err != nil {
			return fmt.Errorf("join await target: %w", err)
		}
	}
	if node.WorkflowID != "" {
		if err := Identifier(node.WorkflowID); err != nil {
			return fmt.Errorf("subworkflow ref: %w", err)
		}
	}
	for _, action := range node.Actions {
		if action.HandlerID != "" {
			if err := Identifier(action.HandlerID); err != nil {
				return fmt.Errorf("action handler: %w", err)
			}
		}
		if action.CommandID != "" {
			if err := Identifier(action.CommandID); err != nil {
				return fmt.Errorf("action command: %w", err)
			}
		}
	}
	return nil
}
