package skills

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ligolabs/ligo/internal/providers"
	"github.com/ligolabs/ligo/internal/store"
)

// shareTriggers catch explicit user requests to share something with
// the other agents, PT and EN.
var shareTriggers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)compartilh[ea]\s+(?:com\s+(?:os\s+outros\s+agentes|todos)|isso)\s*:?\s*(.+)`),
	regexp.MustCompile(`(?i)share\s+with\s+(?:the\s+)?other\s+agents\s*:?\s*(.+)`),
}

// KnowledgeSharing publishes facts into the tenant's shared pool: via
// an explicit LLM tool and via a post-response hook that catches
// "compartilhe com os outros agentes: ..." style requests.
type KnowledgeSharing struct {
	knowledge store.KnowledgeStore
	log       *slog.Logger
}

func NewKnowledgeSharing(knowledge store.KnowledgeStore, log *slog.Logger) *KnowledgeSharing {
	return &KnowledgeSharing{knowledge: knowledge, log: log.With("skill", "knowledge_sharing")}
}

func (s *KnowledgeSharing) Name() string { return "knowledge_sharing" }

func (s *KnowledgeSharing) Tools() []providers.ToolDefinition {
	return []providers.ToolDefinition{{
		Name:        "share_knowledge",
		Description: "Publish a piece of knowledge to the shared pool visible to the tenant's other agents.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content":      map[string]any{"type": "string", "description": "The knowledge to share"},
				"topic":        map[string]any{"type": "string", "description": "Short topic label"},
				"access_level": map[string]any{"type": "string", "enum": []string{"public", "private"}},
			},
			"required": []string{"content"},
		},
	}}
}

func (s *KnowledgeSharing) PromptBlock() string {
	return "You can share durable knowledge with the tenant's other agents " +
		"by calling the share_knowledge tool. Share only non-personal facts."
}

func (s *KnowledgeSharing) ExecuteTool(ctx context.Context, req *Request, name string, params map[string]any) (*ToolResult, error) {
	content := strings.TrimSpace(paramString(params, "content"))
	if content == "" {
		return &ToolResult{Kind: KindError, Output: "share_knowledge requires content"}, nil
	}
	access := paramString(params, "access_level")
	if access != store.AccessPrivate {
		access = store.AccessPublic
	}
	item := &store.KnowledgeData{
		TenantID:      req.TenantID,
		SharedByAgent: req.Agent.ID,
		Content:       content,
		Topic:         paramString(params, "topic"),
		AccessLevel:   access,
	}
	if err := s.knowledge.Add(ctx, item); err != nil {
		return nil, err
	}
	return &ToolResult{Kind: KindText, Output: "Conhecimento compartilhado com os outros agentes."}, nil
}

// PostResponse catches explicit share requests in the user message that
// the model answered conversationally instead of via the tool.
func (s *KnowledgeSharing) PostResponse(ctx context.Context, in *PostInput) error {
	for _, re := range shareTriggers {
		m := re.FindStringSubmatch(in.UserMessage)
		if m == nil {
			continue
		}
		content := strings.TrimSpace(m[1])
		if content == "" {
			continue
		}
		err := s.knowledge.Add(ctx, &store.KnowledgeData{
			TenantID:      in.TenantID,
			SharedByAgent: in.Agent.ID,
			Content:       content,
			AccessLevel:   store.AccessPublic,
		})
		if err != nil {
			return err
		}
		s.log.Info("shared knowledge from user request", "agent", in.Agent.Name)
		return nil
	}
	return nil
}
