package providers

import (
	"context"
	"net/http"
	"time"
)

const anthropicBase = "https://api.anthropic.com/v1"

// AnthropicLLM talks to the Anthropic Messages API.
type AnthropicLLM struct {
	apiKey       string
	defaultModel string
	client       *http.Client
}

func NewAnthropicLLM(apiKey string, timeout time.Duration) *AnthropicLLM {
	return &AnthropicLLM{
		apiKey:       apiKey,
		defaultModel: "claude-sonnet-4-5",
		client:       httpClient(timeout),
	}
}

func (p *AnthropicLLM) Name() string         { return "anthropic" }
func (p *AnthropicLLM) DefaultModel() string { return p.defaultModel }

type anthropicContent struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Source *anthropicImg  `json:"source,omitempty"`
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name,omitempty"`
	Input  map[string]any `json:"input,omitempty"`
}

type anthropicImg struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *AnthropicLLM) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := anthropicRequest{Model: model, MaxTokens: 4096, System: req.System}
	for _, m := range req.Messages {
		am := anthropicMessage{Role: m.Role}
		if m.Role == "tool" {
			am.Role = "user"
		}
		if m.Content != "" {
			am.Content = append(am.Content, anthropicContent{Type: "text", Text: m.Content})
		}
		for _, img := range m.Images {
			am.Content = append(am.Content, anthropicContent{
				Type:   "image",
				Source: &anthropicImg{Type: "base64", MediaType: img.MimeType, Data: img.Data},
			})
		}
		body.Messages = append(body.Messages, am)
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name: t.Name, Description: t.Description, InputSchema: t.Parameters,
		})
	}

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
	}
	var resp anthropicResponse
	if err := doJSON(ctx, p.client, p.Name(), http.MethodPost, anthropicBase+"/messages", headers, body, &resp); err != nil {
		return nil, err
	}
	out := &ChatResponse{Usage: Usage{
		PromptUnits: resp.Usage.InputTokens,
		OutputUnits: resp.Usage.OutputTokens,
	}}
	for _, c := range resp.Content {
		switch c.Type {
		case "text":
			out.Content += c.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: c.Name, Arguments: c.Input})
		}
	}
	return out, nil
}

func (p *AnthropicLLM) HealthCheck(ctx context.Context) Health {
	if p.apiKey == "" {
		return Health{Status: HealthNotConfigured, Detail: "missing api key"}
	}
	return probeURL(ctx, p.client, anthropicBase+"/models", map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
	})
}
