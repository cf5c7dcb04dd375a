package skills

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/providers"
)

// WebSearch lets the LLM query the tenant's search provider. The tool
// call may name a provider; otherwise the first catalog entry the
// tenant has credentials for is used.
type WebSearch struct {
	reg *providers.Registry[providers.WebSearch]
	log *slog.Logger
}

func NewWebSearch(reg *providers.Registry[providers.WebSearch], log *slog.Logger) *WebSearch {
	return &WebSearch{reg: reg, log: log.With("skill", "web_search")}
}

func (s *WebSearch) Name() string { return "web_search" }

func (s *WebSearch) Tools() []providers.ToolDefinition {
	return []providers.ToolDefinition{{
		Name:        "web_search",
		Description: "Search the web and return the top results with titles, links and snippets.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to search for.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "How many results to return, default 5.",
				},
				"provider": map[string]any{
					"type":        "string",
					"description": "Search provider name. Leave empty for the default.",
				},
			},
			"required": []string{"query"},
		},
	}}
}

func (s *WebSearch) PromptBlock() string {
	return "Use the web_search tool when the user asks about current events or facts you are unsure of. Cite the result links in your answer."
}

func (s *WebSearch) ExecuteTool(ctx context.Context, req *Request, name string, params map[string]any) (*ToolResult, error) {
	query := strings.TrimSpace(paramString(params, "query"))
	if query == "" {
		query = strings.TrimSpace(paramString(params, "q"))
	}
	if query == "" {
		return &ToolResult{Kind: KindError, Output: "web_search: empty query"}, nil
	}

	p, err := s.provider(ctx, req.TenantID, strings.TrimSpace(paramString(params, "provider")))
	if err != nil {
		return &ToolResult{Kind: KindError, Output: fmt.Sprintf("web_search: %v", err)}, nil
	}
	results, err := p.Search(ctx, query, paramInt(params, "limit"))
	if err != nil {
		s.log.Warn("search failed", "provider", p.Name(), "error", err)
		return &ToolResult{Kind: KindError, Output: fmt.Sprintf("web_search: %v", err)}, nil
	}
	if len(results) == 0 {
		return &ToolResult{Kind: KindText, Output: fmt.Sprintf("No results for %q.", query)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Results for %q (%s):\n", query, p.Name())
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return &ToolResult{Kind: KindText, Output: strings.TrimRight(b.String(), "\n")}, nil
}

// provider resolves a usable backend: the named one, or the first
// catalog entry whose credential lookup succeeds.
func (s *WebSearch) provider(ctx context.Context, tenantID uuid.UUID, name string) (providers.WebSearch, error) {
	if name != "" {
		return s.reg.Get(ctx, name, tenantID)
	}
	var lastErr error
	for _, info := range s.reg.List() {
		p, err := s.reg.Get(ctx, info.Name, tenantID)
		if err != nil {
			lastErr = err
			continue
		}
		return p, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no search provider registered")
	}
	return nil, lastErr
}
