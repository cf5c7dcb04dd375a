// Package skills implements the per-agent capability bundles: message
// pre-processing, LLM tool schemas, and post-response hooks. Skills are
// registered once at startup; enablement is per agent.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/providers"
	"github.com/ligolabs/ligo/internal/store"
)

// Result kinds discriminate skill and tool outputs.
const (
	KindText  = "text"
	KindMedia = "media"
	KindError = "error"
)

// Skill is the minimal surface every skill implements. Capabilities
// beyond naming are optional interfaces checked at dispatch time.
type Skill interface {
	Name() string
}

// PreProcessor transforms an inbound message before the LLM sees it.
type PreProcessor interface {
	PreProcess(ctx context.Context, req *Request) (*PreResult, error)
}

// ToolProvider exposes callable tools to the LLM.
type ToolProvider interface {
	Tools() []providers.ToolDefinition
	ExecuteTool(ctx context.Context, req *Request, name string, params map[string]any) (*ToolResult, error)
	// PromptBlock is appended to the system prompt when the skill is on.
	PromptBlock() string
}

// PostHook runs after the reply was produced.
type PostHook interface {
	PostResponse(ctx context.Context, in *PostInput) error
}

// Request is the per-message input handed to skills.
type Request struct {
	TenantID  uuid.UUID
	Agent     *store.AgentData
	Msg       *bus.InboundMessage
	Text      string // body after earlier skills in the pipeline
	ContactID *uuid.UUID
}

// UserKey is the per-user fact discriminator for this request.
func (r *Request) UserKey() string {
	if r.ContactID != nil {
		return "contact_" + r.ContactID.String()
	}
	return "sender_" + r.Msg.Sender
}

// PreResult is what one skill's pre-processing produced.
type PreResult struct {
	// ReplaceText, when non-empty, becomes the message body for the
	// rest of the pipeline (audio transcription).
	ReplaceText string
	// Reply + SkipAI short-circuit the LLM: Reply is the final answer.
	Reply  string
	SkipAI bool
	// Context is extra text handed to the LLM alongside the message.
	Context string
	// MediaPaths are attached to the outbound reply.
	MediaPaths []string
}

// Outcome is the accumulated pipeline result over all enabled skills.
type Outcome struct {
	Text       string
	SkipAI     bool
	Reply      string
	Contexts   []string
	MediaPaths []string
	SkillUsed  string
}

// ToolResult is the outcome of one skill tool call.
type ToolResult struct {
	Kind       string // text | media | error
	Output     string
	MediaPaths []string
}

// PostInput feeds the post-response hooks.
type PostInput struct {
	TenantID    uuid.UUID
	Agent       *store.AgentData
	Sender      string
	ContactID   *uuid.UUID
	UserMessage string
	Response    string
}

// Manager holds the skill registry and runs the pipeline.
type Manager struct {
	order []Skill
	byName map[string]Skill
	log   *slog.Logger
}

func NewManager(log *slog.Logger) *Manager {
	return &Manager{byName: make(map[string]Skill), log: log.With("component", "skills")}
}

// Register adds a skill; registration order is pipeline order.
func (m *Manager) Register(s Skill) {
	if _, dup := m.byName[s.Name()]; dup {
		return
	}
	m.byName[s.Name()] = s
	m.order = append(m.order, s)
}

// enabled yields the registered skills the agent has turned on, in
// registration order.
func (m *Manager) enabled(agent *store.AgentData) []Skill {
	var out []Skill
	for _, s := range m.order {
		if agent.HasSkill(s.Name()) {
			out = append(out, s)
		}
	}
	return out
}

// Process runs the pre-processing pipeline. A failing skill is logged
// and skipped; the message continues unmodified through it.
func (m *Manager) Process(ctx context.Context, req *Request) *Outcome {
	out := &Outcome{Text: req.Text}
	for _, s := range m.enabled(req.Agent) {
		pp, ok := s.(PreProcessor)
		if !ok {
			continue
		}
		req.Text = out.Text
		res, err := pp.PreProcess(ctx, req)
		if err != nil {
			m.log.Warn("skill pre-process failed", "skill", s.Name(), "error", err)
			continue
		}
		if res == nil {
			continue
		}
		if res.ReplaceText != "" {
			out.Text = res.ReplaceText
			out.SkillUsed = s.Name()
		}
		if res.Context != "" {
			out.Contexts = append(out.Contexts, res.Context)
		}
		out.MediaPaths = append(out.MediaPaths, res.MediaPaths...)
		if res.SkipAI {
			out.SkipAI = true
			out.Reply = res.Reply
			out.SkillUsed = s.Name()
			return out
		}
	}
	return out
}

// Tools collects the tool schemas of the agent's enabled skills.
func (m *Manager) Tools(agent *store.AgentData) []providers.ToolDefinition {
	var defs []providers.ToolDefinition
	for _, s := range m.enabled(agent) {
		if tp, ok := s.(ToolProvider); ok {
			defs = append(defs, tp.Tools()...)
		}
	}
	return defs
}

// PromptBlocks concatenates the prompt contributions of enabled skills.
func (m *Manager) PromptBlocks(agent *store.AgentData) string {
	var out string
	for _, s := range m.enabled(agent) {
		tp, ok := s.(ToolProvider)
		if !ok {
			continue
		}
		if block := tp.PromptBlock(); block != "" {
			out += block + "\n\n"
		}
	}
	return out
}

// HandlesTool reports whether an enabled skill owns the named tool.
func (m *Manager) HandlesTool(agent *store.AgentData, tool string) bool {
	_, ok := m.toolOwner(agent, tool)
	return ok
}

func (m *Manager) toolOwner(agent *store.AgentData, tool string) (ToolProvider, bool) {
	for _, s := range m.enabled(agent) {
		tp, ok := s.(ToolProvider)
		if !ok {
			continue
		}
		for _, def := range tp.Tools() {
			if def.Name == tool {
				return tp, true
			}
		}
	}
	return nil, false
}

// ExecuteToolCall dispatches a parsed tool call to its owning skill.
func (m *Manager) ExecuteToolCall(ctx context.Context, req *Request, tool string, params map[string]any) (*ToolResult, error) {
	tp, ok := m.toolOwner(req.Agent, tool)
	if !ok {
		return nil, fmt.Errorf("no enabled skill handles tool %q", tool)
	}
	return tp.ExecuteTool(ctx, req, tool, params)
}

// PostResponse runs every enabled skill's post hook. Hook failures are
// logged; the reply has already been sent.
func (m *Manager) PostResponse(ctx context.Context, in *PostInput) {
	for _, s := range m.enabled(in.Agent) {
		ph, ok := s.(PostHook)
		if !ok {
			continue
		}
		if err := ph.PostResponse(ctx, in); err != nil {
			m.log.Warn("post-response hook failed", "skill", s.Name(), "error", err)
		}
	}
}

// paramString pulls a string parameter out of a tool-call map.
func paramString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// paramInt pulls an integer parameter, tolerating the float64 and
// string renditions models produce.
func paramInt(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
	}
	return 0
}
