package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/expr-lang/expr"
	"gopkg.in/yaml.v3"

	"github.com/strand-ai/strand/pkg/model"
)

var (
	// ErrHandlerNotFound is returned when a Send action names an
	// unregistered handler id.
	ErrHandlerNotFound = errors.New("action handler not found")
	// ErrCommandNotFound is returned when an Execute action names an
	// unknown command id.
	ErrCommandNotFound = errors.New("command not found")
)

// ActionHandler consumes a resolved payload and emits an action result.
// Endpoints and credentials live in handler construction, never in the
// workflow definition.
type ActionHandler interface {
	Execute(ctx context.Context, payload map[string]any, execContext map[string]any) (any, error)
}

// ActionHandlerFunc adapts a function to the ActionHandler interface.
type ActionHandlerFunc func(ctx context.Context, payload map[string]any, execContext map[string]any) (any, error)

func (f ActionHandlerFunc) Execute(ctx context.Context, payload map[string]any, execContext map[string]any) (any, error) {
	return f(ctx, payload, execContext)
}

// HandlerRegistry maps handler ids to action handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

// NewHandlerRegistry creates an empty action handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]ActionHandler)}
}

// Register adds or replaces a handler.
func (r *HandlerRegistry) Register(id string, handler ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = handler
}

// Get returns the handler for id.
func (r *HandlerRegistry) Get(id string) (ActionHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, id)
	}
	return handler, nil
}

// GenericHandler implements a Generic node's executor type. The handler is
// free to read arbitrary config entries on the node; the engine treats it
// as an opaque function returning a NodeResult.
type GenericHandler func(ctx context.Context, node *model.Node, ec *ExecutionContext) (*model.NodeResult, error)

// GenericRegistry maps executor type names to generic handlers.
type GenericRegistry struct {
	mu       sync.RWMutex
	handlers map[string]GenericHandler
}

// NewGenericRegistry creates a registry with the built-in "expr" executor,
// which evaluates config["expression"] against the execution context and
// stores the value under config["outputKey"] when set.
func NewGenericRegistry() *GenericRegistry {
	r := &GenericRegistry{handlers: make(map[string]GenericHandler)}
	r.Register("expr", exprHandler)
	return r
}

// Register adds or replaces a generic handler.
func (r *GenericRegistry) Register(executorType string, handler GenericHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[executorType] = handler
}

// Get returns the handler for an executor type.
func (r *GenericRegistry) Get(executorType string) (GenericHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[executorType]
	return handler, ok
}

func exprHandler(_ context.Context, node *model.Node, ec *ExecutionContext) (*model.NodeResult, error) {
	code, _ := node.Config["expression"].(string)
	if code == "" {
		return nil, fmt.Errorf("node %s: expr executor requires config.expression", node.ID)
	}
	program, err := expr.Compile(code, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("node %s: compiling expression: %w", node.ID, err)
	}
	value, err := expr.Run(program, ec.State.Context)
	if err != nil {
		return nil, fmt.Errorf("node %s: evaluating expression: %w", node.ID, err)
	}
	if outputKey, _ := node.Config["outputKey"].(string); outputKey != "" {
		ec.State.Set(outputKey, value)
	}
	return model.NewSuccessResult(value), nil
}

// CommandSpec is one entry of the workflow-adjacent commands file.
type CommandSpec struct {
	Command     string            `json:"command" yaml:"command"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	TimeoutMs   int64             `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
}

// CommandRegistry maps command ids to command specs for Execute actions.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]CommandSpec
}

// NewCommandRegistry creates an empty command registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]CommandSpec)}
}

// Register adds or replaces a command spec.
func (r *CommandRegistry) Register(id string, spec CommandSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[id] = spec
}

// Get returns the spec for a command id.
func (r *CommandRegistry) Get(id string) (CommandSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.commands[id]
	if !ok {
		return CommandSpec{}, fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	return spec, nil
}

// LoadCommandsFile loads a command registry from a JSON or YAML file
// mapping command id to spec. The format follows the file extension.
func LoadCommandsFile(path string) (*CommandRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read commands file: %w", err)
	}
	commands := make(map[string]CommandSpec)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &commands); err != nil {
			return nil, fmt.Errorf("failed to parse commands file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &commands); err != nil {
			return nil, fmt.Errorf("failed to parse commands file %s: %w", path, err)
		}
	}
	registry := NewCommandRegistry()
	for id, spec := range commands {
		registry.Register(id, spec)
	}
	return registry, nil
}
