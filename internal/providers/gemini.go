package providers

import (
	"context"
	"net/http"
	"time"
)

const geminiBase = "https://generativelanguage.googleapis.com/v1beta"

// GeminiLLM talks to the Google generateContent API.
type GeminiLLM struct {
	apiKey       string
	defaultModel string
	client       *http.Client
}

func NewGeminiLLM(apiKey string, timeout time.Duration) *GeminiLLM {
	return &GeminiLLM{
		apiKey:       apiKey,
		defaultModel: "gemini-2.0-flash",
		client:       httpClient(timeout),
	}
}

func (p *GeminiLLM) Name() string         { return "gemini" }
func (p *GeminiLLM) DefaultModel() string { return p.defaultModel }

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlob     `json:"inline_data,omitempty"`
	FuncCall   *geminiFuncCall `json:"functionCall,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiFuncCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTools   `json:"tools,omitempty"`
}

type geminiTools struct {
	FunctionDeclarations []geminiFuncDecl `json:"function_declarations"`
}

type geminiFuncDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (p *GeminiLLM) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := geminiRequest{}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		gc := geminiContent{Role: role}
		if m.Content != "" {
			gc.Parts = append(gc.Parts, geminiPart{Text: m.Content})
		}
		for _, img := range m.Images {
			gc.Parts = append(gc.Parts, geminiPart{
				InlineData: &geminiBlob{MimeType: img.MimeType, Data: img.Data},
			})
		}
		body.Contents = append(body.Contents, gc)
	}
	if len(req.Tools) > 0 {
		var decls []geminiFuncDecl
		for _, t := range req.Tools {
			decls = append(decls, geminiFuncDecl{
				Name: t.Name, Description: t.Description, Parameters: t.Parameters,
			})
		}
		body.Tools = []geminiTools{{FunctionDeclarations: decls}}
	}

	url := geminiBase + "/models/" + model + ":generateContent?key=" + p.apiKey
	var resp geminiResponse
	if err := doJSON(ctx, p.client, p.Name(), http.MethodPost, url, nil, body, &resp); err != nil {
		return nil, err
	}
	out := &ChatResponse{Usage: Usage{
		PromptUnits: resp.UsageMetadata.PromptTokenCount,
		OutputUnits: resp.UsageMetadata.CandidatesTokenCount,
	}}
	if len(resp.Candidates) > 0 {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				out.Content += part.Text
			}
			if part.FuncCall != nil {
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					Name: part.FuncCall.Name, Arguments: part.FuncCall.Args,
				})
			}
		}
	}
	return out, nil
}

func (p *GeminiLLM) HealthCheck(ctx context.Context) Health {
	if p.apiKey == "" {
		return Health{Status: HealthNotConfigured, Detail: "missing api key"}
	}
	return probeURL(ctx, p.client, geminiBase+"/models?key="+p.apiKey, nil)
}
