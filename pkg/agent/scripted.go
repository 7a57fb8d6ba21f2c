package agent

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedAgent returns canned responses in registration order, then
// repeats the last one. Used by tests and dry runs; an empty script
// echoes the prompt.
type ScriptedAgent struct {
	id string

	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

// NewScriptedAgent creates a scripted agent with the given responses.
func NewScriptedAgent(id string, responses ...string) *ScriptedAgent {
	return &ScriptedAgent{id: id, responses: responses}
}

// FailWith appends an error step to the script: the call at that position
// returns the error instead of a response.
func (a *ScriptedAgent) FailWith(err error) *ScriptedAgent {
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.errs) < len(a.responses) {
		a.errs = append(a.errs, nil)
	}
	a.responses = append(a.responses, "")
	a.errs = append(a.errs, err)
	return a
}

// ID implements Agent.
func (a *ScriptedAgent) ID() string { return a.id }

// Execute implements Agent.
func (a *ScriptedAgent) Execute(ctx context.Context, prompt string, _ map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, prompt)
	idx := a.calls
	a.calls++

	if len(a.responses) == 0 {
		return prompt, nil
	}
	if idx >= len(a.responses) {
		idx = len(a.responses) - 1
	}
	if idx < len(a.errs) && a.errs[idx] != nil {
		return "", fmt.Errorf("agent %s: %w", a.id, a.errs[idx])
	}
	return a.responses[idx], nil
}

// Calls returns how many times Execute ran.
func (a *ScriptedAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Prompts returns the prompts seen so far.
func (a *ScriptedAgent) Prompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.prompts))
	copy(out, a.prompts)
	return out
}
