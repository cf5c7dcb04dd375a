// Package agent turns an assembled context into one model reply: it
// builds the system prompt, invokes the agent's LLM provider, and runs
// the reply through the post-processing chain before anything is sent
// or remembered.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ligolabs/ligo/internal/guard"
	"github.com/ligolabs/ligo/internal/providers"
	"github.com/ligolabs/ligo/internal/store"
)

// Service invokes LLM providers for agents and post-processes replies.
type Service struct {
	reg *providers.Registries
	// envExtras are contamination patterns configured at the gateway
	// level, applied to every agent on top of its own extras.
	envExtras []string
	tracer    trace.Tracer
	log       *slog.Logger
}

func NewService(reg *providers.Registries, envExtras []string, log *slog.Logger) *Service {
	return &Service{
		reg:       reg,
		envExtras: envExtras,
		tracer:    otel.Tracer("ligo/agent"),
		log:       log.With("component", "agent"),
	}
}

// ChatInput is one completion request on behalf of an agent.
type ChatInput struct {
	TenantID uuid.UUID
	Agent    *store.AgentData
	System   string
	History  []providers.Message
	UserText string
	Images   []providers.ImageContent
	Tools    []providers.ToolDefinition
}

// ChatOutput is the raw completion before post-processing. Native tool
// calls are already normalized into the text.
type ChatOutput struct {
	Text     string
	Usage    providers.Usage
	Provider string
	Model    string
}

// Chat resolves the agent's provider for the tenant and runs one
// completion. Providers that return structured tool calls have them
// rendered back into [TOOL_CALL] text for the common parser.
func (s *Service) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	llm, err := s.reg.LLM.Get(ctx, in.Agent.Provider, in.TenantID)
	if err != nil {
		return nil, err
	}
	model := in.Agent.Model
	if model == "" {
		model = llm.DefaultModel()
	}

	ctx, span := s.tracer.Start(ctx, "agent.chat", trace.WithAttributes(
		attribute.String("llm.provider", in.Agent.Provider),
		attribute.String("llm.model", model),
		attribute.String("agent.name", in.Agent.Name),
	))
	defer span.End()

	req := providers.ChatRequest{System: in.System, Model: model, Tools: in.Tools}
	req.Messages = append(req.Messages, in.History...)
	req.Messages = append(req.Messages, providers.Message{
		Role: "user", Content: in.UserText, Images: in.Images,
	})

	resp, err := llm.Chat(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("chat via %s: %w", in.Agent.Provider, err)
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_units", resp.Usage.PromptUnits),
		attribute.Int("llm.output_units", resp.Usage.OutputUnits),
	)

	text := resp.Content
	if len(resp.ToolCalls) > 0 {
		if text != "" {
			text += "\n"
		}
		text += NormalizeToolCalls(resp.ToolCalls)
	}
	return &ChatOutput{
		Text:     text,
		Usage:    resp.Usage,
		Provider: in.Agent.Provider,
		Model:    model,
	}, nil
}

// Reply is a post-processed model output.
type Reply struct {
	Text     string
	ToolCall *ParsedToolCall
	// Blocked holds the contamination pattern when the reply must not
	// be delivered at all.
	Blocked string
	// Filtered marks replies replaced by the sensitive-content apology.
	Filtered bool
}

// PostProcess runs the reply chain: strip reasoning, strip internal
// markers, extract a tool call, then filter and contamination-check.
// A parsed tool call skips the text filters; the post-tool output gets
// its own contamination re-check before sending.
func (s *Service) PostProcess(agent *store.AgentData, text string) Reply {
	text = guard.StripThinking(text)
	text = guard.StripInternalMarkers(text)
	text = strings.TrimSpace(text)

	if tc := ParseToolCall(text); tc != nil {
		return Reply{Text: text, ToolCall: tc}
	}

	filtered, pattern := guard.FilterSensitive(text)
	if pattern != "" {
		s.log.Warn("reply replaced by sensitive-content filter",
			"agent", agent.Name, "pattern", pattern)
		return Reply{Text: filtered, Filtered: true}
	}

	det := guard.ForAgent(agent.ID.String(), agent.ContaminationExtra, s.envExtras)
	if p := det.Check(text); p != "" {
		s.log.Warn("reply blocked by contamination detector",
			"agent", agent.Name, "pattern", p)
		return Reply{Blocked: p}
	}
	return Reply{Text: det.CleanResponse(text)}
}

// Contamination re-checks text that was produced after tool execution.
func (s *Service) Contamination(agent *store.AgentData, text string) string {
	det := guard.ForAgent(agent.ID.String(), agent.ContaminationExtra, s.envExtras)
	return det.Check(text)
}
