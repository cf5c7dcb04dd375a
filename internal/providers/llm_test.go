package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIChatParsesResponse(t *testing.T) {
	var gotReq oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(401)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices":[{"message":{
				"content":"Olá!",
				"tool_calls":[{"function":{"name":"nmap.quick_scan","arguments":"{\"target\":\"example.com\"}"}}]
			}}],
			"usage":{"prompt_tokens":42,"completion_tokens":7}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAILLM("sk-test", 5*time.Second).WithBaseURL(srv.URL)
	resp, err := p.Chat(context.Background(), ChatRequest{
		System:   "be helpful",
		Messages: []Message{{Role: "user", Content: "oi"}},
		Model:    "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Olá!" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.PromptUnits != 42 || resp.Usage.OutputUnits != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "nmap.quick_scan" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["target"] != "example.com" {
		t.Errorf("tool args = %+v", resp.ToolCalls[0].Arguments)
	}
	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("sent model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("system message not first: %+v", gotReq.Messages)
	}
}

func TestOpenAIAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	p := NewOpenAILLM("sk-bad", 5*time.Second).WithBaseURL(srv.URL)
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if ErrKind(err) != KindAuthFailed {
		t.Errorf("kind = %q, want auth_failed", ErrKind(err))
	}
}

func TestOpenAIRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
	}))
	defer srv.Close()

	p := NewOpenAILLM("sk", 5*time.Second).WithBaseURL(srv.URL)
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if ErrKind(err) != KindRateLimited {
		t.Errorf("kind = %q, want rate_limited", ErrKind(err))
	}
}

func TestOpenRouterModelFallback(t *testing.T) {
	p := NewOpenRouterLLM("k", time.Second)
	if got := p.resolveModel("gpt-4o"); got != p.defaultModel {
		t.Errorf("unprefixed model = %q, want default", got)
	}
	if got := p.resolveModel("anthropic/claude-sonnet-4.5"); got != "anthropic/claude-sonnet-4.5" {
		t.Errorf("prefixed model rewritten to %q", got)
	}
}

func TestOllamaChatNativeTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("stream requested, want false")
		}
		if len(req.Tools) != 1 {
			t.Errorf("tools forwarded = %d, want 1", len(req.Tools))
		}
		w.Write([]byte(`{
			"message":{"content":"","tool_calls":[{"function":{"name":"weather","arguments":{"city":"Lisboa"}}}]},
			"prompt_eval_count":10,"eval_count":3
		}`))
	}))
	defer srv.Close()

	p := NewOllamaLLM(srv.URL, 5*time.Second)
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "tempo em lisboa"}},
		Tools: []ToolDefinition{{Name: "weather", Description: "clima",
			Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Arguments["city"] != "Lisboa" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
}

func TestTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewOllamaLLM(srv.URL, 20*time.Millisecond)
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if ErrKind(err) != KindTimeout {
		t.Errorf("kind = %q, want timeout", ErrKind(err))
	}
}
