package masking

import (
	"context"

	"github.com/strand-ai/strand/pkg/agent"
)

// Invoker wraps a tool invoker and masks every result before it flows
// back into the engine.
type Invoker struct {
	inner   agent.ToolInvoker
	service *Service
}

// NewInvoker wraps inner with masking. When the service is nil (masking
// disabled) the inner invoker is returned unwrapped.
func NewInvoker(inner agent.ToolInvoker, service *Service) agent.ToolInvoker {
	if service == nil {
		return inner
	}
	return &Invoker{inner: inner, service: service}
}

// CallTool invokes the tool and masks its result. Errors pass through
// untouched.
func (i *Invoker) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	result, err := i.inner.CallTool(ctx, name, args)
	if err != nil {
		return nil, err
	}
	return i.service.MaskValue(result), nil
}
