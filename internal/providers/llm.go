package providers

import "context"

// LLM is the chat-completion contract.
type LLM interface {
	Name() string
	DefaultModel() string
	// Chat sends the conversation and returns the completion. Tool
	// schemas are passed natively where the provider supports them; the
	// caller normalizes returned tool calls back into text form.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	HealthCheck(ctx context.Context) Health
}

// ChatRequest is the input for one completion call.
type ChatRequest struct {
	System   string           `json:"system,omitempty"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Model    string           `json:"model,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string         `json:"role"` // "user", "assistant", "tool"
	Content string         `json:"content"`
	Images  []ImageContent `json:"images,omitempty"`
}

// ImageContent is a base64 image for vision-capable models.
type ImageContent struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// ToolDefinition describes a callable tool schema.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a structured tool invocation returned by the model.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the completion result.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}
