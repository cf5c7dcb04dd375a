// Package thread runs outbound-initiated dialogues ("ask the courier
// bot what the ETA is") as a bounded state machine. Each inbound
// message from the counterpart drives one turn through safety gates,
// short-circuit replies, an LLM turn, goal detection and stagnation
// checks.
package thread

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/agent"
	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/config"
	"github.com/ligolabs/ligo/internal/contacts"
	"github.com/ligolabs/ligo/internal/providers"
	"github.com/ligolabs/ligo/internal/store"
)

// terminalReply is sent when a thread is closed for stagnation.
const terminalReply = "desculpe, encerrando esta conversa"

// Chatter is the slice of the agent service the engine needs.
type Chatter interface {
	Chat(ctx context.Context, in agent.ChatInput) (*agent.ChatOutput, error)
	PostProcess(a *store.AgentData, text string) agent.Reply
}

// TurnResult is the outcome of one thread turn.
type TurnResult struct {
	ShouldReply  bool
	Reply        string
	Status       string
	GoalAchieved bool
}

// Engine processes thread turns, one at a time per recipient.
type Engine struct {
	cfg      config.ThreadConfig
	threads  store.ThreadStore
	agents   store.AgentStore
	resolver *contacts.Resolver
	chat     Chatter
	log      *slog.Logger
	now      func() time.Time

	sessionEnd []string

	mu    sync.Mutex
	locks map[string]*recipientLock
}

func NewEngine(cfg config.ThreadConfig, threads store.ThreadStore, agents store.AgentStore, resolver *contacts.Resolver, chat Chatter, log *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		threads:    threads,
		agents:     agents,
		resolver:   resolver,
		chat:       chat,
		log:        log.With("component", "thread"),
		now:        func() time.Time { return time.Now().UTC() },
		sessionEnd: append(append([]string{}, sessionEndBase...), cfg.SessionEndPatternsExtra...),
		locks:      map[string]*recipientLock{},
	}
}

type recipientLock struct {
	mu   sync.Mutex
	refs int
}

// lockRecipient serializes turns per (tenant, recipient). The returned
// function releases the lock and drops the entry when unused.
func (e *Engine) lockRecipient(key string) func() {
	e.mu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &recipientLock{}
		e.locks[key] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, key)
		}
		e.mu.Unlock()
	}
}

// FindActive returns the most recently active thread matching any of
// the normalized recipient forms, or nil.
func (e *Engine) FindActive(ctx context.Context, tenantID uuid.UUID, sender string, extra []string) (*store.ThreadData, error) {
	cands := append(contacts.RecipientForms(sender), extra...)
	return e.threads.FindActiveByRecipient(ctx, tenantID, cands)
}

// InCooldown reports whether the sender is inside the post-completion
// block window of its last closed thread. Force-closed threads extend
// the window.
func (e *Engine) InCooldown(ctx context.Context, tenantID uuid.UUID, sender string) (bool, error) {
	last, err := e.threads.LastClosedForSender(ctx, tenantID, contacts.RecipientForms(sender))
	if err != nil || last == nil || last.CompletedAt == nil {
		return false, err
	}
	block := time.Duration(e.cfg.PostCompletionBlockSec) * time.Second
	if last.ForceClosed {
		block = time.Duration(e.cfg.LoopClosureBlockSec) * time.Second
	}
	return e.now().Before(last.CompletedAt.Add(block)), nil
}

// AutoDiscover pairs a previously unseen WhatsApp business id with the
// thread recipient's contact, so later lookups match both forms.
func (e *Engine) AutoDiscover(ctx context.Context, th *store.ThreadData, sender string) {
	if e.resolver == nil || !contacts.IsJID(sender) {
		return
	}
	bare := contacts.BareID(sender)
	if bare == contacts.BareID(th.Recipient) {
		return
	}
	contact, err := e.resolver.Resolve(ctx, th.TenantID, th.Recipient, bus.ChannelWhatsapp)
	if err != nil || contact == nil {
		return
	}
	if err := e.resolver.AddChannelID(ctx, contact.ID, "whatsapp_id", bare); err != nil {
		e.log.Warn("channel mapping discovery failed", "contact", contact.ID, "error", err)
		return
	}
	e.log.Info("discovered channel mapping", "contact", contact.ID, "whatsapp_id", bare)
}

// ProcessInbound runs one turn. The thread row is refreshed under the
// recipient lock so concurrent deliveries cannot lose updates.
func (e *Engine) ProcessInbound(ctx context.Context, threadID uuid.UUID, msg bus.InboundMessage) (*TurnResult, error) {
	th, err := e.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}

	unlock := e.lockRecipient(th.TenantID.String() + "|" + th.Recipient)
	defer unlock()

	// Refresh after acquiring the lock; a concurrent turn may have
	// advanced the row.
	th, err = e.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("reload thread: %w", err)
	}
	if th.Status != store.ThreadActive {
		return &TurnResult{Status: th.Status, GoalAchieved: th.GoalAchieved}, nil
	}

	now := e.now()
	if res := e.applyGates(ctx, th, msg, now); res != nil {
		return res, nil
	}

	// Duplicate re-delivery.
	for _, turn := range th.History {
		if msg.ID != "" && turn.MessageID == msg.ID {
			return &TurnResult{Status: th.Status}, nil
		}
	}

	th.History = append(th.History, store.ThreadTurn{
		Role: "user", Content: msg.Body, Timestamp: now, MessageID: msg.ID,
	})
	th.CurrentTurn++
	th.LastActivityAt = now

	if reply, ok := e.shortCircuit(th, msg.Body); ok {
		th.History = append(th.History, store.ThreadTurn{Role: "agent", Content: reply, Timestamp: now})
		// Short-circuit turns still count toward the goal: a status
		// acknowledgment means the data already arrived.
		if th.CurrentTurn >= 2 {
			if summary, achieved := detectGoal(msg.Body, reply); achieved {
				th.Status = store.ThreadGoalAchieved
				th.GoalAchieved = true
				th.GoalSummary = summary
				th.CompletedAt = &now
			}
		}
		if err := e.threads.Update(ctx, th); err != nil {
			return nil, fmt.Errorf("commit thread: %w", err)
		}
		return &TurnResult{ShouldReply: true, Reply: reply, Status: th.Status, GoalAchieved: th.GoalAchieved}, nil
	}

	reply, err := e.llmTurn(ctx, th, msg.Body)
	if err != nil {
		return nil, err
	}
	if reply == "" {
		// Contamination closure already applied to th.
		if uerr := e.threads.Update(ctx, th); uerr != nil {
			return nil, fmt.Errorf("commit thread: %w", uerr)
		}
		return &TurnResult{Status: th.Status, GoalAchieved: th.GoalAchieved}, nil
	}

	th.History = append(th.History, store.ThreadTurn{Role: "agent", Content: reply, Timestamp: now})

	if th.CurrentTurn >= 2 {
		if summary, ok := detectGoal(msg.Body, reply); ok {
			th.Status = store.ThreadGoalAchieved
			th.GoalAchieved = true
			th.GoalSummary = summary
			th.CompletedAt = &now
		}
	}
	if th.Status == store.ThreadActive && th.CurrentTurn >= 3 {
		if reason, ok := detectStagnation(th.History); ok {
			e.forceClose(th, "Stagnation: "+reason, now)
			reply = terminalReply
			th.History[len(th.History)-1].Content = reply
		}
	}

	if err := e.threads.Update(ctx, th); err != nil {
		return nil, fmt.Errorf("commit thread: %w", err)
	}
	return &TurnResult{
		ShouldReply:  true,
		Reply:        reply,
		Status:       th.Status,
		GoalAchieved: th.GoalAchieved,
	}, nil
}

// applyGates runs the pre-turn safety gates in order and returns a
// result when one fires. Gate closures are committed immediately.
func (e *Engine) applyGates(ctx context.Context, th *store.ThreadData, msg bus.InboundMessage, now time.Time) *TurnResult {
	maxTurns := th.MaxTurns
	if maxTurns <= 0 || maxTurns > e.cfg.AbsoluteMaxTurns {
		maxTurns = e.cfg.AbsoluteMaxTurns
	}

	switch {
	case th.CurrentTurn >= maxTurns:
		e.forceClose(th, fmt.Sprintf("FORCED CLOSURE: Exceeded %d turns (loop prevention)", maxTurns), now)
	case e.recentMessages(th, now) >= e.cfg.MaxMessagesPerMinute:
		e.forceClose(th, "Rate limit exceeded", now)
	case now.Sub(th.CreatedAt) >= time.Duration(e.cfg.MaxDurationMinutes)*time.Minute:
		e.forceClose(th, fmt.Sprintf("Exceeded %d min duration", e.cfg.MaxDurationMinutes), now)
	case now.Sub(th.LastActivityAt) >= time.Duration(e.cfg.InactivityMinutes)*time.Minute:
		th.Status = store.ThreadTimeout
		th.CompletedAt = &now
	case th.CurrentTurn >= 3 && matchesSessionEnd(msg.Body, e.sessionEnd):
		th.Status = store.ThreadGoalAchieved
		th.GoalAchieved = true
		th.GoalSummary = "External bot closed the session"
		th.CompletedAt = &now
	default:
		return nil
	}

	if err := e.threads.Update(ctx, th); err != nil {
		e.log.Error("gate closure commit failed", "thread", th.ID, "error", err)
	}
	e.log.Info("thread gate closed", "thread", th.ID, "status", th.Status, "summary", th.GoalSummary)
	return &TurnResult{Status: th.Status, GoalAchieved: th.GoalAchieved}
}

// recentMessages counts history entries younger than one minute.
func (e *Engine) recentMessages(th *store.ThreadData, now time.Time) int {
	cutoff := now.Add(-time.Minute)
	n := 0
	for i := len(th.History) - 1; i >= 0; i-- {
		if th.History[i].Timestamp.Before(cutoff) {
			break
		}
		n++
	}
	return n
}

func (e *Engine) forceClose(th *store.ThreadData, summary string, now time.Time) {
	th.Status = store.ThreadCompleted
	th.GoalAchieved = false
	th.GoalSummary = summary
	th.ForceClosed = true
	th.CompletedAt = &now
}

const threadGuardrails = `You are %s, messaging on behalf of your user to accomplish one objective.
Never prefix your reply with "@%s:" or any other name tag.
You are the customer in this conversation. Never act as a customer-service representative or offer assistance.
When an interactive menu is offered, reply with the exact option text and nothing else.
Objective: %s
Current turn: %d of %d`

// llmTurn runs the model with the thread guardrails and the last ten
// history entries. An empty return means the reply was blocked and the
// thread closed.
func (e *Engine) llmTurn(ctx context.Context, th *store.ThreadData, body string) (string, error) {
	ag, err := e.agents.GetByID(ctx, th.AgentID)
	if err != nil {
		return "", fmt.Errorf("load thread agent: %w", err)
	}

	maxTurns := th.MaxTurns
	if maxTurns <= 0 {
		maxTurns = e.cfg.AbsoluteMaxTurns
	}
	system := fmt.Sprintf(threadGuardrails, ag.Name, ag.Name, th.Objective, th.CurrentTurn, maxTurns)
	if ag.SystemPrompt != "" {
		system += "\n\n" + ag.SystemPrompt
	}

	// History already holds the new user turn; it becomes the final
	// user message of the request.
	hist := th.History[:len(th.History)-1]
	if len(hist) > 10 {
		hist = hist[len(hist)-10:]
	}
	var msgs []providers.Message
	for _, turn := range hist {
		role := "user"
		if turn.Role == "agent" {
			role = "assistant"
		}
		msgs = append(msgs, providers.Message{Role: role, Content: turn.Content})
	}

	out, err := e.chat.Chat(ctx, agent.ChatInput{
		TenantID: th.TenantID,
		Agent:    ag,
		System:   system,
		History:  msgs,
		UserText: body,
	})
	if err != nil {
		return "", fmt.Errorf("thread llm turn: %w", err)
	}

	reply := e.chat.PostProcess(ag, out.Text)
	if reply.Blocked != "" {
		now := e.now()
		th.Status = store.ThreadCompleted
		th.GoalAchieved = false
		th.GoalSummary = "CONTAMINATION DETECTED: " + reply.Blocked
		th.CompletedAt = &now
		e.log.Warn("thread reply blocked", "thread", th.ID, "pattern", reply.Blocked)
		return "", nil
	}
	return reply.Text, nil
}
