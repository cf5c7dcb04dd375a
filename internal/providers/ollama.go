package providers

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// OllamaLLM talks to a local Ollama server. No credential is needed;
// tool schemas are passed natively for tool-calling models.
type OllamaLLM struct {
	baseURL      string
	defaultModel string
	client       *http.Client
}

func NewOllamaLLM(baseURL string, timeout time.Duration) *OllamaLLM {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaLLM{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: "llama3.1",
		client:       httpClient(timeout),
	}
}

func (p *OllamaLLM) Name() string         { return "ollama" }
func (p *OllamaLLM) DefaultModel() string { return p.defaultModel }

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64, no data-url prefix
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []oaiTool       `json:"tools,omitempty"` // ollama mirrors the openai schema
	Stream   bool            `json:"stream"`
}

type ollamaResponse struct {
	Message struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (p *OllamaLLM) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := ollamaRequest{Model: model, Stream: false}
	if req.System != "" {
		body.Messages = append(body.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, img := range m.Images {
			om.Images = append(om.Images, img.Data)
		}
		body.Messages = append(body.Messages, om)
	}
	for _, t := range req.Tools {
		var ot oaiTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		body.Tools = append(body.Tools, ot)
	}

	var resp ollamaResponse
	if err := doJSON(ctx, p.client, p.Name(), http.MethodPost, p.baseURL+"/api/chat", nil, body, &resp); err != nil {
		return nil, err
	}
	out := &ChatResponse{
		Content: resp.Message.Content,
		Usage: Usage{
			PromptUnits: resp.PromptEvalCount,
			OutputUnits: resp.EvalCount,
		},
	}
	for _, tc := range resp.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			Name: tc.Function.Name, Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (p *OllamaLLM) HealthCheck(ctx context.Context) Health {
	return probeURL(ctx, p.client, p.baseURL+"/api/tags", nil)
}
