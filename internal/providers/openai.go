package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// OpenAILLM speaks the chat-completions dialect, which also covers
// OpenRouter and any other compatible endpoint.
type OpenAILLM struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
}

func NewOpenAILLM(apiKey string, timeout time.Duration) *OpenAILLM {
	return &OpenAILLM{
		name:         "openai",
		apiKey:       apiKey,
		apiBase:      "https://api.openai.com/v1",
		defaultModel: "gpt-4o",
		client:       httpClient(timeout),
	}
}

func NewOpenRouterLLM(apiKey string, timeout time.Duration) *OpenAILLM {
	return &OpenAILLM{
		name:         "openrouter",
		apiKey:       apiKey,
		apiBase:      "https://openrouter.ai/api/v1",
		defaultModel: "anthropic/claude-sonnet-4.5",
		client:       httpClient(timeout),
	}
}

func (p *OpenAILLM) Name() string         { return p.name }
func (p *OpenAILLM) DefaultModel() string { return p.defaultModel }

// WithBaseURL points the provider at a compatible endpoint.
func (p *OpenAILLM) WithBaseURL(base string) *OpenAILLM {
	p.apiBase = strings.TrimRight(base, "/")
	return p
}

// resolveModel guards OpenRouter's provider-prefixed model ids: an
// unprefixed model falls back to the default instead of 404ing.
func (p *OpenAILLM) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	if p.name == "openrouter" && !strings.Contains(model, "/") {
		return p.defaultModel
	}
	return model
}

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []oaiContentPart
}

type oaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
	Tools    []oaiTool    `json:"tools,omitempty"`
}

type oaiResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAILLM) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := oaiRequest{Model: p.resolveModel(req.Model)}
	if req.System != "" {
		body.Messages = append(body.Messages, oaiMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		if len(m.Images) == 0 {
			body.Messages = append(body.Messages, oaiMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := []oaiContentPart{{Type: "text", Text: m.Content}}
		for _, img := range m.Images {
			parts = append(parts, oaiContentPart{
				Type:     "image_url",
				ImageURL: &oaiImageURL{URL: "data:" + img.MimeType + ";base64," + img.Data},
			})
		}
		body.Messages = append(body.Messages, oaiMessage{Role: m.Role, Content: parts})
	}
	for _, t := range req.Tools {
		var ot oaiTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		body.Tools = append(body.Tools, ot)
	}

	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	var resp oaiResponse
	if err := doJSON(ctx, p.client, p.name, http.MethodPost, p.apiBase+"/chat/completions", headers, body, &resp); err != nil {
		return nil, err
	}
	out := &ChatResponse{Usage: Usage{
		PromptUnits: resp.Usage.PromptTokens,
		OutputUnits: resp.Usage.CompletionTokens,
	}}
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		out.Content = msg.Content
		for _, tc := range msg.ToolCalls {
			args := map[string]any{}
			json.Unmarshal([]byte(tc.Function.Arguments), &args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: tc.Function.Name, Arguments: args})
		}
	}
	return out, nil
}

func (p *OpenAILLM) HealthCheck(ctx context.Context) Health {
	if p.apiKey == "" {
		return Health{Status: HealthNotConfigured, Detail: "missing api key"}
	}
	return probeURL(ctx, p.client, p.apiBase+"/models", map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	})
}
