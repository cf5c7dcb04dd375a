// Package router drives the end-to-end handling of one inbound
// message: guards, slash commands, thread precedence, agent selection,
// skill pipeline, memory, LLM turn, tool dispatch and the final send.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ligolabs/ligo/internal/agent"
	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/config"
	"github.com/ligolabs/ligo/internal/contacts"
	"github.com/ligolabs/ligo/internal/guard"
	"github.com/ligolabs/ligo/internal/memory"
	"github.com/ligolabs/ligo/internal/providers"
	"github.com/ligolabs/ligo/internal/sandbox"
	"github.com/ligolabs/ligo/internal/skills"
	"github.com/ligolabs/ligo/internal/store"
	"github.com/ligolabs/ligo/internal/thread"
)

// Sender dispatches an outbound message on its transport. The channel
// manager implements it; tests substitute a recorder.
type Sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// AgentService is the slice of the agent layer the router consumes.
// *agent.Service satisfies it.
type AgentService interface {
	Chat(ctx context.Context, in agent.ChatInput) (*agent.ChatOutput, error)
	PostProcess(a *store.AgentData, text string) agent.Reply
	Contamination(a *store.AgentData, text string) string
}

// ThreadEngine is the conversation-thread surface. *thread.Engine
// satisfies it.
type ThreadEngine interface {
	FindActive(ctx context.Context, tenantID uuid.UUID, sender string, extra []string) (*store.ThreadData, error)
	InCooldown(ctx context.Context, tenantID uuid.UUID, sender string) (bool, error)
	AutoDiscover(ctx context.Context, th *store.ThreadData, sender string)
	ProcessInbound(ctx context.Context, threadID uuid.UUID, msg bus.InboundMessage) (*thread.TurnResult, error)
}

// ToolExecutor runs sandboxed tool commands. *sandbox.Executor
// satisfies it; nil means the sandbox is disabled.
type ToolExecutor interface {
	Execute(ctx context.Context, req sandbox.ExecRequest) (*sandbox.ExecResult, error)
}

// Deps wires the router into the rest of the system.
type Deps struct {
	Config     *config.Config
	Stores     *store.Stores
	Memory     *memory.Manager
	Skills     *skills.Manager
	Agent      AgentService
	Threads    ThreadEngine
	Sandbox    ToolExecutor
	Resolver   *contacts.Resolver
	Sentinel   *guard.Sentinel
	Registries *providers.Registries
	Sender     Sender
	Log        *slog.Logger
}

// Router is the per-message pipeline. One Router serves all tenants;
// tenancy is resolved from the transport instance of each message.
type Router struct {
	cfg      atomic.Pointer[config.Config]
	st       *store.Stores
	mem      *memory.Manager
	skills   *skills.Manager
	agent    AgentService
	threads  ThreadEngine
	sandbox  ToolExecutor
	resolver *contacts.Resolver
	sentinel *guard.Sentinel
	reg      *providers.Registries
	sender   Sender
	tracer   trace.Tracer
	media    *http.Client
	log      *slog.Logger
	now      func() time.Time
}

func New(d Deps) *Router {
	r := &Router{
		st:       d.Stores,
		mem:      d.Memory,
		skills:   d.Skills,
		agent:    d.Agent,
		threads:  d.Threads,
		sandbox:  d.Sandbox,
		resolver: d.Resolver,
		sentinel: d.Sentinel,
		reg:      d.Registries,
		sender:   d.Sender,
		tracer:   otel.Tracer("ligo/router"),
		media:    &http.Client{Timeout: 30 * time.Second},
		log:      d.Log.With("component", "router"),
		now:      time.Now,
	}
	r.cfg.Store(d.Config)
	return r
}

// Reload swaps the active configuration. In-flight messages keep the
// snapshot they started with.
func (r *Router) Reload(cfg *config.Config) {
	r.cfg.Store(cfg)
}

// Handle routes one inbound message end to end. A nil return covers
// both replies and intentional drops; errors are transport-retryable.
// A panic anywhere downstream (skill, provider, store) is recovered
// here so one message can never take the watcher down.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage) (err error) {
	var run *store.AgentRunData
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		r.log.Error("panic handling message",
			"channel", msg.Channel, "sender", msg.Sender, "message", msg.ID,
			"panic", rec, "stack", string(debug.Stack()))
		if run != nil && run.Status == store.RunProcessing {
			run.Status = store.RunError
			run.ErrorDetail = fmt.Sprintf("panic: %v", rec)
			if ferr := r.st.Runs.Finish(context.WithoutCancel(ctx), run); ferr != nil {
				r.log.Warn("run finish failed", "run", run.ID, "error", ferr)
			}
		}
		err = fmt.Errorf("panic handling message %s: %v", msg.ID, rec)
	}()

	cfg := r.cfg.Load()
	ctx, span := r.tracer.Start(ctx, "router.handle", trace.WithAttributes(
		attribute.String("channel", msg.Channel),
		attribute.String("message.id", msg.ID),
		attribute.Bool("group", msg.IsGroup),
	))
	defer span.End()

	inst, err := r.instance(ctx, msg)
	if err != nil {
		span.RecordError(err)
		return err
	}
	tenantID := inst.TenantID

	agents, err := r.st.Agents.ListActive(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	// Self-loop guard: never react to an agent's own transport number.
	if matchesAgentNumber(agents, msg.Sender) {
		r.log.Debug("self-loop drop", "sender", msg.Sender)
		return nil
	}

	// Durable duplicate cache keyed by (tenant, external id).
	first, err := r.st.Messages.UpsertObserved(ctx, &store.MessageData{
		ID:         uuid.Must(uuid.NewV7()),
		TenantID:   tenantID,
		ExternalID: msg.ID,
		Sender:     msg.Sender,
		ChatID:     msg.ChatID,
		Body:       msg.Body,
		IsGroup:    msg.IsGroup,
		Channel:    msg.Channel,
		MediaType:  msg.MediaType,
		Timestamp:  msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("observe message: %w", err)
	}
	if !first {
		return nil
	}

	contact := r.resolveContact(ctx, tenantID, msg)

	if strings.HasPrefix(strings.TrimSpace(msg.Body), "/") {
		reply := r.handleCommand(ctx, cfg, tenantID, inst, contact, agents, msg)
		if reply == "" {
			return nil
		}
		return r.dispatch(ctx, msg.Channel, inst, replyRecipient(msg), reply, nil, false)
	}

	// Active threads take precedence unless the user asks for
	// scheduling, which must reach the reminder skill.
	if !skills.HasSchedulingKeyword(msg.Body) {
		handled, err := r.tryThread(ctx, tenantID, inst, contact, msg)
		if handled {
			return err
		}
	}

	if cool, err := r.threads.InCooldown(ctx, tenantID, msg.SenderKey); err == nil && cool {
		r.log.Debug("post-completion cooldown drop", "sender", msg.SenderKey)
		return nil
	}

	if cfg.Gateway.MaintenanceMode {
		return r.dispatch(ctx, msg.Channel, inst, replyRecipient(msg), cfg.Gateway.MaintenanceText, nil, false)
	}

	// Group fan-out guard: only the designated handler instance
	// processes group traffic.
	if msg.IsGroup && !inst.IsGroupHandler {
		return nil
	}

	ag, trigger := r.selectAgent(ctx, tenantID, inst, contact, agents, msg)
	if ag == nil {
		r.log.Debug("no agent matched", "sender", msg.SenderKey, "group", msg.IsGroup)
		return nil
	}
	span.SetAttributes(
		attribute.String("agent.name", ag.Name),
		attribute.String("trigger", trigger),
	)

	run = &store.AgentRunData{
		ID:           uuid.Must(uuid.NewV7()),
		TenantID:     tenantID,
		AgentID:      ag.ID,
		TriggerType:  trigger,
		Sender:       msg.SenderKey,
		InputPreview: preview(msg.Body),
		Status:       store.RunProcessing,
		CreatedAt:    r.now(),
	}
	if err := r.st.Runs.Create(ctx, run); err != nil {
		r.log.Warn("run create failed", "agent", ag.Name, "error", err)
	}
	started := r.now()

	outText, err := r.respond(ctx, cfg, tenantID, inst, contact, ag, msg, run)
	run.ExecutionMs = r.now().Sub(started).Milliseconds()
	if err != nil {
		run.Status = store.RunError
		run.ErrorDetail = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent run failed")
	} else {
		run.Status = store.RunSuccess
		run.OutputPreview = preview(outText)
	}
	if ferr := r.st.Runs.Finish(ctx, run); ferr != nil {
		r.log.Warn("run finish failed", "run", run.ID, "error", ferr)
	}
	return err
}

// instance resolves the watcher instance the message arrived on; it is
// the tenancy anchor for everything downstream.
func (r *Router) instance(ctx context.Context, msg bus.InboundMessage) (*store.InstanceData, error) {
	id, err := uuid.Parse(msg.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("bad instance id %q: %w", msg.InstanceID, err)
	}
	inst, err := r.st.Instances.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", id, err)
	}
	if inst == nil || !inst.Active {
		return nil, fmt.Errorf("instance %s inactive", id)
	}
	return inst, nil
}

// resolveContact maps the raw sender to a directory contact. Group
// senders are auto-created so the directory self-populates.
func (r *Router) resolveContact(ctx context.Context, tenantID uuid.UUID, msg bus.InboundMessage) *store.ContactData {
	var c *store.ContactData
	var err error
	if msg.IsGroup {
		c, err = r.resolver.ResolveOrCreate(ctx, tenantID, msg.Sender, msg.Channel)
	} else {
		c, err = r.resolver.Resolve(ctx, tenantID, msg.Sender, msg.Channel)
	}
	if err != nil {
		r.log.Warn("contact resolve failed", "sender", msg.Sender, "error", err)
		return nil
	}
	return c
}

// tryThread routes the message into an active conversation thread.
// handled=false falls through to normal processing (no thread, or the
// thread just timed out and released the sender).
func (r *Router) tryThread(ctx context.Context, tenantID uuid.UUID, inst *store.InstanceData, contact *store.ContactData, msg bus.InboundMessage) (bool, error) {
	th, err := r.threads.FindActive(ctx, tenantID, msg.SenderKey, contactForms(contact))
	if err != nil || th == nil {
		return false, nil
	}
	r.threads.AutoDiscover(ctx, th, msg.Sender)
	res, err := r.threads.ProcessInbound(ctx, th.ID, msg)
	if err != nil {
		return true, fmt.Errorf("thread turn: %w", err)
	}
	if res.Status == store.ThreadTimeout {
		return false, nil
	}
	if res.ShouldReply && res.Reply != "" {
		// Thread replies impersonate the user side; never templated.
		return true, r.dispatch(ctx, msg.Channel, inst, replyRecipient(msg), res.Reply, nil, false)
	}
	return true, nil
}

func contactForms(c *store.ContactData) []string {
	if c == nil {
		return nil
	}
	var out []string
	for _, id := range c.ChannelIDs {
		out = append(out, id)
	}
	return out
}

// matchesAgentNumber compares the sender against every configured
// agent phone number, digits only.
func matchesAgentNumber(agents []*store.AgentData, sender string) bool {
	digits := digitsOnly(contacts.BareID(sender))
	if digits == "" {
		return false
	}
	for _, a := range agents {
		if a.PhoneNumber != "" && digitsOnly(a.PhoneNumber) == digits {
			return true
		}
	}
	return false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// replyRecipient picks the outbound target: the chat for groups, the
// sender for DMs.
func replyRecipient(msg bus.InboundMessage) string {
	if msg.IsGroup && msg.ChatID != "" {
		return msg.ChatID
	}
	if msg.ChatID != "" {
		return msg.ChatID
	}
	return msg.SenderKey
}

func preview(s string) string {
	return runewidth.Truncate(strings.ReplaceAll(s, "\n", " "), 200, "…")
}
