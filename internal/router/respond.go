package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/agent"
	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/config"
	"github.com/ligolabs/ligo/internal/guard"
	"github.com/ligolabs/ligo/internal/memory"
	"github.com/ligolabs/ligo/internal/providers"
	"github.com/ligolabs/ligo/internal/sandbox"
	"github.com/ligolabs/ligo/internal/skills"
	"github.com/ligolabs/ligo/internal/store"
)

// respond runs the selected agent over the message: skill pipeline,
// sentinel, memory, context assembly, LLM turn, tool dispatch and the
// final send. Returns the text that went out.
func (r *Router) respond(ctx context.Context, cfg *config.Config, tenantID uuid.UUID, inst *store.InstanceData, contact *store.ContactData, ag *store.AgentData, msg bus.InboundMessage, run *store.AgentRunData) (string, error) {
	var contactID *uuid.UUID
	var senderName string
	if contact != nil {
		contactID = &contact.ID
		senderName = contact.Name
	}

	// Project context scopes the memory key and annotates the prompt.
	proj, err := r.st.Sessions.GetProject(ctx, tenantID, msg.SenderKey)
	if err != nil {
		r.log.Warn("project lookup failed", "sender", msg.SenderKey, "error", err)
		proj = nil
	}
	var projectID *uuid.UUID
	if proj != nil {
		projectID = &proj.ProjectID
	}

	// Attachments arrive as bridge URLs on some transports; the skill
	// pipeline needs a local path.
	r.fetchMedia(ctx, &msg)

	// Skill pre-processing: transcription, image description, command
	// skills. May replace the text or short-circuit the LLM.
	req := &skills.Request{TenantID: tenantID, Agent: ag, Msg: &msg, Text: msg.Body, ContactID: contactID}
	outcome := r.skills.Process(ctx, req)
	run.SkillUsed = outcome.SkillUsed

	if strings.TrimSpace(outcome.Text) == "" && !outcome.SkipAI {
		return cfg.Gateway.FailureText, r.sendReply(ctx, cfg, tenantID, inst, ag, msg, cfg.Gateway.FailureText, nil, false)
	}

	// Sentinel runs before any memory write so a hostile message never
	// reaches storage.
	if r.sentinel != nil {
		if v := r.sentinel.Analyze(outcome.Text); v.Blocked {
			r.log.Warn("sentinel blocked message", "sender", msg.SenderKey, "reason", v.Reason)
			return guard.RejectionText, r.dispatch(ctx, msg.Channel, inst, replyRecipient(msg), guard.RejectionText, nil, false)
		}
	}

	memIn := memory.AddInput{
		Agent:        ag,
		Sender:       msg.SenderKey,
		SenderName:   senderName,
		Role:         "user",
		Content:      outcome.Text,
		MessageID:    msg.ID,
		ChatOrSender: chatOrSender(msg),
		ContactID:    contactID,
		ProjectID:    projectID,
	}
	if err := r.mem.AddMessage(ctx, memIn); err != nil {
		r.log.Warn("user memory write failed", "agent", ag.Name, "error", err)
	}

	if outcome.SkipAI {
		return outcome.Reply, r.finishTurn(ctx, cfg, tenantID, inst, ag, msg, memIn, contactID, outcome.Text, outcome.Reply, outcome.MediaPaths, true)
	}

	// Context assembly with the tool-output freshness heuristic.
	buf := r.mem.ToolBuffer()
	inject := buf.WantsFullContext(ag.ID, msg.SenderKey, outcome.Text)
	prefix := ""
	bundle, err := r.mem.GetContext(ctx, tenantID, memIn, outcome.Text)
	if err != nil {
		r.log.Warn("context assembly failed", "agent", ag.Name, "error", err)
	} else {
		prefix = memory.Format(bundle, memory.FormatOptions{
			IncludeToolOutputs: inject,
			OmitUserFacts:      ag.HasSkill("adaptive_personality"),
			CharCap:            cfg.Memory.ContextCharCap,
		})
	}
	if lw := buf.LightweightContext(ag.ID, msg.SenderKey); lw != "" {
		prefix = joinBlocks(prefix, lw)
	}
	if inject {
		if full := buf.InjectFullContext(ag.ID, msg.SenderKey, outcome.Text); full != "" {
			prefix = joinBlocks(prefix, full)
		}
	}
	for _, c := range outcome.Contexts {
		prefix = joinBlocks(prefix, c)
	}
	if proj != nil {
		prefix = joinBlocks("=== Project: "+proj.ProjectName+" ===", prefix)
	}
	buf.TickMessage(ag.ID, msg.SenderKey)

	system := r.buildSystem(ctx, cfg, tenantID, ag)

	userText := outcome.Text
	if prefix != "" {
		userText = prefix + "\n\n" + outcome.Text
	}
	var images []providers.ImageContent
	if msg.MediaType == "image" && msg.MediaPath != "" {
		images = agent.LoadImages([]string{msg.MediaPath}, r.log)
	}

	chatOut, err := r.agent.Chat(ctx, agent.ChatInput{
		TenantID: tenantID,
		Agent:    ag,
		System:   system,
		UserText: userText,
		Images:   images,
		Tools:    r.skills.Tools(ag),
	})
	if err != nil {
		if serr := r.sendReply(ctx, cfg, tenantID, inst, ag, msg, cfg.Gateway.FailureText, nil, false); serr != nil {
			r.log.Warn("failure reply send failed", "error", serr)
		}
		return "", fmt.Errorf("llm chat: %w", err)
	}
	run.PromptTokens = chatOut.Usage.PromptUnits
	run.OutputTokens = chatOut.Usage.OutputUnits
	r.recordUsage(ctx, tenantID, store.OpLLMChat, chatOut.Provider, chatOut.Model, ag, msg, chatOut.Usage)

	reply := r.agent.PostProcess(ag, chatOut.Text)
	if reply.Blocked != "" {
		r.log.Warn("reply blocked", "agent", ag.Name, "pattern", reply.Blocked)
		if serr := r.sendReply(ctx, cfg, tenantID, inst, ag, msg, cfg.Gateway.FailureText, nil, false); serr != nil {
			r.log.Warn("failure reply send failed", "error", serr)
		}
		return "", fmt.Errorf("reply blocked: %s", reply.Blocked)
	}

	finalText := reply.Text
	var toolMedia []string
	fromTool := false
	background := false
	execID := ""
	toolName, cmdName := "", ""
	if tc := reply.ToolCall; tc != nil {
		res := r.dispatchTool(ctx, cfg, tenantID, inst, contactID, ag, msg, run, tc)
		finalText = res.text
		toolMedia = res.media
		fromTool = res.executed
		background = res.background
		execID = res.execID
		toolName, cmdName = res.tool, res.command
		run.ToolUsed = res.used

		// Tool output goes out unfiltered except for the contamination
		// re-check.
		if p := r.agent.Contamination(ag, finalText); p != "" {
			r.log.Warn("post-tool contamination", "agent", ag.Name, "pattern", p)
			finalText = cfg.Gateway.FailureText
			fromTool = false
		}
	}

	// Assistant memory write: tool output is stored as a tagged summary
	// with the full text pushed to the tool buffer.
	assistIn := memIn
	assistIn.Role = "assistant"
	assistIn.Content = finalText
	assistIn.Metadata = nil
	if fromTool && !background {
		bufID := buf.Add(ag.ID, msg.SenderKey, toolName, cmdName, finalText)
		if execID == "" {
			execID = bufID
		}
		assistIn.Content = fmt.Sprintf("Ran %s: %s", run.ToolUsed, preview(finalText))
		assistIn.Metadata = map[string]string{
			store.MetaIsToolOutput: "true",
			store.MetaToolUsed:     run.ToolUsed,
			store.MetaExecutionID:  execID,
		}
	}
	if err := r.mem.AddMessage(ctx, assistIn); err != nil {
		r.log.Warn("assistant memory write failed", "agent", ag.Name, "error", err)
	}

	media := append(outcome.MediaPaths, toolMedia...)
	if err := r.sendReply(ctx, cfg, tenantID, inst, ag, msg, finalText, media, true); err != nil {
		return finalText, err
	}

	r.skills.PostResponse(ctx, &skills.PostInput{
		TenantID:    tenantID,
		Agent:       ag,
		Sender:      msg.SenderKey,
		ContactID:   contactID,
		UserMessage: outcome.Text,
		Response:    finalText,
	})
	r.mem.MaybeExtract(ctx, tenantID, memIn, r.extractChat(tenantID, ag))
	return finalText, nil
}

// finishTurn completes a skill short-circuit: assistant write, send,
// post hooks, extraction. The LLM never ran.
func (r *Router) finishTurn(ctx context.Context, cfg *config.Config, tenantID uuid.UUID, inst *store.InstanceData, ag *store.AgentData, msg bus.InboundMessage, memIn memory.AddInput, contactID *uuid.UUID, userText, replyText string, media []string, allowVoice bool) error {
	assistIn := memIn
	assistIn.Role = "assistant"
	assistIn.Content = replyText
	if err := r.mem.AddMessage(ctx, assistIn); err != nil {
		r.log.Warn("assistant memory write failed", "agent", ag.Name, "error", err)
	}
	if err := r.sendReply(ctx, cfg, tenantID, inst, ag, msg, replyText, media, allowVoice); err != nil {
		return err
	}
	r.skills.PostResponse(ctx, &skills.PostInput{
		TenantID:    tenantID,
		Agent:       ag,
		Sender:      msg.SenderKey,
		ContactID:   contactID,
		UserMessage: userText,
		Response:    replyText,
	})
	r.mem.MaybeExtract(ctx, tenantID, memIn, r.extractChat(tenantID, ag))
	return nil
}

// buildSystem assembles the layered system prompt for the agent.
func (r *Router) buildSystem(ctx context.Context, cfg *config.Config, tenantID uuid.UUID, ag *store.AgentData) string {
	dir, err := r.resolver.DirectorySummary(ctx, tenantID)
	if err != nil {
		r.log.Warn("contact directory failed", "error", err)
	}
	var tools []*store.SandboxedToolData
	if r.sandbox != nil {
		tools, err = r.st.Tools.ListEnabled(ctx, tenantID)
		if err != nil {
			r.log.Warn("tool list failed", "error", err)
		}
	}
	var blocks []string
	if b := r.skills.PromptBlocks(ag); b != "" {
		blocks = append(blocks, b)
	}
	return agent.BuildSystemPrompt(agent.PromptInput{
		Agent:            ag,
		Now:              r.now(),
		ContactDirectory: dir,
		SandboxTools:     tools,
		ShellEnabled:     r.sandbox != nil && ag.HasSkill("shell"),
		SkillBlocks:      blocks,
	})
}

// toolDispatch is the outcome of resolving and running one tool call.
type toolDispatch struct {
	text       string
	media      []string
	tool       string // registry name, for the tool buffer
	command    string
	used       string // human label persisted on the run
	execID     string
	executed   bool
	background bool
}

// dispatchTool routes a parsed tool call to its owner: a skill tool or
// a sandboxed tool. The returned text replaces the LLM reply.
func (r *Router) dispatchTool(ctx context.Context, cfg *config.Config, tenantID uuid.UUID, inst *store.InstanceData, contactID *uuid.UUID, ag *store.AgentData, msg bus.InboundMessage, run *store.AgentRunData, tc *agent.ParsedToolCall) toolDispatch {
	if r.skills.HandlesTool(ag, tc.Tool) {
		req := &skills.Request{TenantID: tenantID, Agent: ag, Msg: &msg, Text: msg.Body, ContactID: contactID}
		res, err := r.skills.ExecuteToolCall(ctx, req, tc.Tool, tc.Parameters)
		if err != nil {
			return toolDispatch{text: fmt.Sprintf("Tool execution failed: %v", err), used: tc.Tool}
		}
		return toolDispatch{
			text:     res.Output,
			media:    res.MediaPaths,
			tool:     tc.Tool,
			command:  tc.Command,
			used:     tc.Tool,
			executed: res.Kind != skills.KindError,
		}
	}

	if r.sandbox == nil {
		return toolDispatch{text: fmt.Sprintf("Tool %q is not available.", tc.Tool)}
	}
	tool, err := r.st.Tools.GetByName(ctx, tenantID, tc.Tool)
	if err != nil || tool == nil || !tool.Enabled {
		return toolDispatch{text: fmt.Sprintf("Unknown tool %q.", tc.Tool)}
	}
	cmd := pickCommand(tool, tc.Command)
	if cmd == nil {
		return toolDispatch{text: fmt.Sprintf("Tool %q has no command %q.", tc.Tool, tc.Command)}
	}

	res, err := r.sandbox.Execute(ctx, sandbox.ExecRequest{
		TenantID:   tenantID,
		Tool:       tool,
		Command:    cmd,
		Params:     tc.Parameters,
		AgentRunID: &run.ID,
		Recipient:  replyRecipient(msg),
		Notify:     r.notifyFunc(cfg, inst, ag, msg),
		OnComplete: r.toolCompletion(ag, msg, contactID, tool.Name, cmd.Name),
	})
	if err != nil {
		return toolDispatch{text: fmt.Sprintf("Tool execution failed: %v", err), used: tool.Name + "." + cmd.Name}
	}
	return toolDispatch{
		text:       res.Output,
		tool:       tool.Name,
		command:    cmd.Name,
		used:       tool.Name + "." + cmd.Name,
		execID:     res.ExecutionID.String(),
		executed:   !res.Failed,
		background: res.Background,
	}
}

func pickCommand(tool *store.SandboxedToolData, name string) *store.SandboxedToolCommand {
	if name == "" && len(tool.Commands) > 0 {
		return &tool.Commands[0]
	}
	for i := range tool.Commands {
		if strings.EqualFold(tool.Commands[i].Name, name) {
			return &tool.Commands[i]
		}
	}
	return nil
}

// toolCompletion records a long-running command's final output once it
// lands: the full text goes to the tool buffer, a tagged summary to
// memory, so later "show me the full result" requests can recall it.
func (r *Router) toolCompletion(ag *store.AgentData, msg bus.InboundMessage, contactID *uuid.UUID, toolName, cmdName string) func(execID uuid.UUID, output string, failed bool) {
	return func(execID uuid.UUID, output string, failed bool) {
		if failed {
			return
		}
		used := toolName + "." + cmdName
		r.mem.ToolBuffer().Add(ag.ID, msg.SenderKey, toolName, cmdName, output)
		in := memory.AddInput{
			Agent:        ag,
			Sender:       msg.SenderKey,
			Role:         "assistant",
			Content:      fmt.Sprintf("Ran %s: %s", used, preview(output)),
			MessageID:    msg.ID,
			ChatOrSender: chatOrSender(msg),
			ContactID:    contactID,
			Metadata: map[string]string{
				store.MetaIsToolOutput: "true",
				store.MetaToolUsed:     used,
				store.MetaExecutionID:  execID.String(),
			},
		}
		if err := r.mem.AddMessage(context.Background(), in); err != nil {
			r.log.Warn("long-running memory write failed", "tool", used, "error", err)
		}
	}
}

// notifyFunc builds the same-channel callback long-running tools use
// to deliver their result after the ack.
func (r *Router) notifyFunc(cfg *config.Config, inst *store.InstanceData, ag *store.AgentData, msg bus.InboundMessage) bus.SendFunc {
	channel := msg.Channel
	return func(recipient, text string, mediaPaths []string) error {
		body := renderTemplate(responseTemplate(cfg, ag), ag.Name, text)
		return r.dispatch(context.Background(), channel, inst, recipient, body, mediaPaths, false)
	}
}

// extractChat binds the fact extractor to the agent's own provider.
func (r *Router) extractChat(tenantID uuid.UUID, ag *store.AgentData) memory.ChatFn {
	return func(ctx context.Context, system, user string) (string, error) {
		out, err := r.agent.Chat(ctx, agent.ChatInput{TenantID: tenantID, Agent: ag, System: system, UserText: user})
		if err != nil {
			return "", err
		}
		return out.Text, nil
	}
}

func (r *Router) recordUsage(ctx context.Context, tenantID uuid.UUID, op, provider, model string, ag *store.AgentData, msg bus.InboundMessage, u providers.Usage) {
	err := r.st.Usage.Record(ctx, &store.UsageEventData{
		ID:            uuid.Must(uuid.NewV7()),
		TenantID:      tenantID,
		OperationType: op,
		Provider:      provider,
		Model:         model,
		AgentID:       &ag.ID,
		Sender:        msg.SenderKey,
		MessageID:     msg.ID,
		PromptUnits:   u.PromptUnits,
		OutputUnits:   u.OutputUnits,
		CreatedAt:     r.now(),
	})
	if err != nil {
		r.log.Warn("usage record failed", "op", op, "error", err)
	}
}

func chatOrSender(msg bus.InboundMessage) string {
	if msg.IsGroup && msg.ChatID != "" {
		return msg.ChatID
	}
	return msg.SenderKey
}

func joinBlocks(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}
