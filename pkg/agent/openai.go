package agent

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/strand-ai/strand/pkg/model"
)

// OpenAIAgent executes prompts against an OpenAI-compatible chat
// completions endpoint. The base URL is configurable so self-hosted
// gateways work with the same adapter.
type OpenAIAgent struct {
	id     string
	client *openai.Client
	config model.AgentConfig
}

// NewOpenAIAgent builds an agent from its workflow config and an API key.
// baseURL may be empty for the OpenAI default.
func NewOpenAIAgent(cfg model.AgentConfig, apiKey, baseURL string) *OpenAIAgent {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &OpenAIAgent{
		id:     cfg.ID,
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}
}

// ID implements Agent.
func (a *OpenAIAgent) ID() string { return a.id }

// Execute implements Agent. The per-agent timeout (if configured) bounds
// the completion call; the returned text is the first choice's content.
func (a *OpenAIAgent) Execute(ctx context.Context, prompt string, _ map[string]any) (string, error) {
	if a.config.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(a.config.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if a.config.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: a.config.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       a.config.Model,
		Messages:    messages,
		Temperature: float32(a.config.Temperature),
	}
	if a.config.MaxTokens > 0 {
		req.MaxTokens = a.config.MaxTokens
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("agent %s: completion failed: %w", a.id, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("agent %s: completion returned no choices", a.id)
	}
	return resp.Choices[0].Message.Content, nil
}
