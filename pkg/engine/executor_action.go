package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/template"
)

// defaultCommandTimeout bounds Execute actions without an explicit timeout.
const defaultCommandTimeout = 60 * time.Second

// executeAction runs each action of an Action node in order. Send actions
// dispatch to registered handlers; Execute actions spawn a subprocess from
// the command registry. Server deployments run with AllowLocalCommands
// false, which rejects Execute outright.
func (d *Driver) executeAction(ctx context.Context, ec *ExecutionContext, node *model.Node) *model.NodeResult {
	if len(node.Actions) == 0 {
		return model.NewFailureResult(fmt.Errorf("node %s has no actions", node.ID))
	}

	outputs := make([]any, 0, len(node.Actions))
	for i, action := range node.Actions {
		switch action.Type {
		case model.ActionTypeSend:
			handler, err := ec.Actions.Get(action.HandlerID)
			if err != nil {
				return model.NewFailureResult(fmt.Errorf("node %s action %d: %w", node.ID, i+1, err))
			}
			payload := template.ResolvePayload(action.Payload, ec.State.Context)
			out, err := handler.Execute(ctx, payload, ec.State.Context)
			if err != nil {
				return model.NewFailureResult(fmt.Errorf("node %s action %d (%s): %w", node.ID, i+1, action.HandlerID, err))
			}
			outputs = append(outputs, out)
		case model.ActionTypeExecute:
			if !d.AllowLocalCommands {
				return model.NewFailureResult(fmt.Errorf("node %s: execute actions are not permitted on this executor", node.ID))
			}
			out, err := d.runCommand(ctx, ec, action.CommandID)
			if err != nil {
				return model.NewFailureResult(fmt.Errorf("node %s action %d: %w", node.ID, i+1, err))
			}
			outputs = append(outputs, out)
		default:
			return model.NewFailureResult(fmt.Errorf("node %s: unknown action type %q", node.ID, action.Type))
		}
	}

	if len(outputs) == 1 {
		return model.NewSuccessResult(outputs[0])
	}
	return model.NewSuccessResult(outputs)
}

// runCommand resolves and spawns a registered command. Stderr is merged
// into stdout; the timeout force-kills on expiry; non-zero exit fails.
func (d *Driver) runCommand(ctx context.Context, ec *ExecutionContext, commandID string) (string, error) {
	if ec.Commands == nil {
		return "", fmt.Errorf("%w: %s (no command registry configured)", ErrCommandNotFound, commandID)
	}
	spec, err := ec.Commands.Get(commandID)
	if err != nil {
		return "", err
	}

	timeout := defaultCommandTimeout
	if spec.TimeoutMs > 0 {
		timeout = time.Duration(spec.TimeoutMs) * time.Millisecond
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := template.Resolve(spec.Command, ec.State.Context)
	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Env = os.Environ()
	for k, v := range spec.Environment {
		cmd.Env = append(cmd.Env, k+"="+template.Resolve(v, ec.State.Context))
	}

	output, err := cmd.CombinedOutput()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command %s timed out after %s", commandID, timeout)
	}
	if err != nil {
		return "", fmt.Errorf("command %s failed: %w: %s", commandID, err, output)
	}
	return string(output), nil
}

// executeGeneric dispatches a Generic node to its registered handler.
func (d *Driver) executeGeneric(ctx context.Context, ec *ExecutionContext, node *model.Node) *model.NodeResult {
	if ec.Generic == nil {
		return model.NewFailureResult(fmt.Errorf("node %s: no generic handlers registered", node.ID))
	}
	handler, ok := ec.Generic.Get(node.ExecutorType)
	if !ok {
		return model.NewFailureResult(fmt.Errorf("node %s: unknown executor type %q", node.ID, node.ExecutorType))
	}
	result, err := handler(ctx, node, ec)
	if err != nil {
		return model.NewFailureResult(err)
	}
	if result == nil {
		return model.NewFailureResult(fmt.Errorf("node %s: executor %q returned no result", node.ID, node.ExecutorType))
	}
	return result
}
