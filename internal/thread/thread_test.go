package thread

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/agent"
	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/config"
	"github.com/ligolabs/ligo/internal/store"
)

func testConfig() config.ThreadConfig {
	return config.ThreadConfig{
		AbsoluteMaxTurns:       25,
		MaxMessagesPerMinute:   15,
		MaxDurationMinutes:     30,
		InactivityMinutes:      30,
		PostCompletionBlockSec: 300,
		LoopClosureBlockSec:    1800,
	}
}

type fakeThreadStore struct {
	threads map[uuid.UUID]*store.ThreadData
	updates int
}

func newFakeThreadStore(ths ...*store.ThreadData) *fakeThreadStore {
	f := &fakeThreadStore{threads: map[uuid.UUID]*store.ThreadData{}}
	for _, t := range ths {
		f.threads[t.ID] = t
	}
	return f
}

func (f *fakeThreadStore) GetByID(ctx context.Context, id uuid.UUID) (*store.ThreadData, error) {
	t, ok := f.threads[id]
	if !ok {
		return nil, fmt.Errorf("thread %s not found", id)
	}
	cp := *t
	cp.History = append([]store.ThreadTurn{}, t.History...)
	cp.Context = map[string]string{}
	for k, v := range t.Context {
		cp.Context[k] = v
	}
	return &cp, nil
}

func (f *fakeThreadStore) Create(ctx context.Context, t *store.ThreadData) error {
	f.threads[t.ID] = t
	return nil
}

func (f *fakeThreadStore) Update(ctx context.Context, t *store.ThreadData) error {
	f.updates++
	f.threads[t.ID] = t
	return nil
}

func (f *fakeThreadStore) FindActiveByRecipient(ctx context.Context, tenantID uuid.UUID, candidates []string) (*store.ThreadData, error) {
	var best *store.ThreadData
	for _, t := range f.threads {
		if t.Status != store.ThreadActive {
			continue
		}
		for _, c := range candidates {
			if t.Recipient == c {
				if best == nil || t.LastActivityAt.After(best.LastActivityAt) {
					best = t
				}
			}
		}
	}
	return best, nil
}

func (f *fakeThreadStore) LastClosedForSender(ctx context.Context, tenantID uuid.UUID, candidates []string) (*store.ThreadData, error) {
	var best *store.ThreadData
	for _, t := range f.threads {
		if t.Status == store.ThreadActive || t.CompletedAt == nil {
			continue
		}
		for _, c := range candidates {
			if t.Recipient == c {
				if best == nil || t.CompletedAt.After(*best.CompletedAt) {
					best = t
				}
			}
		}
	}
	return best, nil
}

func (f *fakeThreadStore) ExpireInactive(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

type fakeAgentStore struct{ agent *store.AgentData }

func (f *fakeAgentStore) GetByID(ctx context.Context, id uuid.UUID) (*store.AgentData, error) {
	return f.agent, nil
}
func (f *fakeAgentStore) ListActive(ctx context.Context, tenantID uuid.UUID) ([]*store.AgentData, error) {
	return []*store.AgentData{f.agent}, nil
}
func (f *fakeAgentStore) Default(ctx context.Context, tenantID uuid.UUID) (*store.AgentData, error) {
	return f.agent, nil
}

// fakeChatter scripts replies; a func hook allows per-turn behavior.
type fakeChatter struct {
	reply string
	fn    func(in agent.ChatInput) string
	calls int
}

func (f *fakeChatter) Chat(ctx context.Context, in agent.ChatInput) (*agent.ChatOutput, error) {
	f.calls++
	text := f.reply
	if f.fn != nil {
		text = f.fn(in)
	}
	return &agent.ChatOutput{Text: text, Provider: "ollama", Model: "llama3.1"}, nil
}

func (f *fakeChatter) PostProcess(a *store.AgentData, text string) agent.Reply {
	if strings.HasPrefix(text, "@") {
		return agent.Reply{Blocked: `^@\w+:\s*`}
	}
	return agent.Reply{Text: text}
}

func testThread(now time.Time) *store.ThreadData {
	return &store.ThreadData{
		ID:             uuid.Must(uuid.NewV7()),
		TenantID:       uuid.Must(uuid.NewV7()),
		AgentID:        uuid.Must(uuid.NewV7()),
		Recipient:      "+5511999990000",
		Objective:      "descobrir o status da entrega do pedido BR123456789",
		Status:         store.ThreadActive,
		CreatedAt:      now,
		LastActivityAt: now,
		Context:        map[string]string{},
	}
}

func newTestEngine(ts *fakeThreadStore, ch Chatter, now time.Time) *Engine {
	ag := &store.AgentData{ID: uuid.Must(uuid.NewV7()), Name: "Maria", Provider: "ollama"}
	e := NewEngine(testConfig(), ts, &fakeAgentStore{agent: ag}, nil, ch,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return now }
	return e
}

func inbound(id, body string) bus.InboundMessage {
	return bus.InboundMessage{ID: id, Sender: "+5511999990000", Body: body, Channel: bus.ChannelWhatsapp}
}

func TestTurnCapForcesClosure(t *testing.T) {
	now := time.Now().UTC()
	th := testThread(now)
	th.CurrentTurn = 25
	ts := newFakeThreadStore(th)
	e := newTestEngine(ts, &fakeChatter{reply: "ok"}, now)

	res, err := e.ProcessInbound(context.Background(), th.ID, inbound("m1", "oi"))
	if err != nil {
		t.Fatal(err)
	}
	if res.ShouldReply || res.Status != store.ThreadCompleted {
		t.Errorf("result = %+v", res)
	}
	got := ts.threads[th.ID]
	if got.GoalSummary != "FORCED CLOSURE: Exceeded 25 turns (loop prevention)" || !got.ForceClosed {
		t.Errorf("closure = %q forceClosed=%v", got.GoalSummary, got.ForceClosed)
	}
}

func TestRateCapForcesClosure(t *testing.T) {
	now := time.Now().UTC()
	th := testThread(now)
	th.CurrentTurn = 8
	for i := 0; i < 15; i++ {
		th.History = append(th.History, store.ThreadTurn{
			Role: "user", Content: "x", Timestamp: now.Add(-30 * time.Second),
		})
	}
	ts := newFakeThreadStore(th)
	e := newTestEngine(ts, &fakeChatter{reply: "ok"}, now)

	res, _ := e.ProcessInbound(context.Background(), th.ID, inbound("m1", "oi"))
	if res.Status != store.ThreadCompleted || ts.threads[th.ID].GoalSummary != "Rate limit exceeded" {
		t.Errorf("result = %+v summary = %q", res, ts.threads[th.ID].GoalSummary)
	}
}

func TestInactivityTimesOut(t *testing.T) {
	now := time.Now().UTC()
	th := testThread(now.Add(-2 * time.Hour))
	th.CreatedAt = now.Add(-10 * time.Minute) // duration gate must not fire first
	th.LastActivityAt = now.Add(-45 * time.Minute)
	th.CurrentTurn = 2
	ts := newFakeThreadStore(th)
	e := newTestEngine(ts, &fakeChatter{reply: "ok"}, now)

	res, _ := e.ProcessInbound(context.Background(), th.ID, inbound("m1", "oi"))
	if res.Status != store.ThreadTimeout || res.ShouldReply {
		t.Errorf("result = %+v", res)
	}
	if ts.threads[th.ID].ForceClosed {
		t.Error("timeout marked as force-closed")
	}
}

func TestSessionEndPhraseAfterTurn3(t *testing.T) {
	now := time.Now().UTC()
	body := "Vamos encerrar o diálogo."

	early := testThread(now)
	early.CurrentTurn = 2
	ts := newFakeThreadStore(early)
	e := newTestEngine(ts, &fakeChatter{reply: "certo"}, now)
	res, _ := e.ProcessInbound(context.Background(), early.ID, inbound("m1", body))
	if res.Status == store.ThreadGoalAchieved {
		t.Error("session-end phrase honored before turn 3")
	}

	// Boundary: three completed turns are enough.
	boundary := testThread(now)
	boundary.CurrentTurn = 3
	ts = newFakeThreadStore(boundary)
	e = newTestEngine(ts, &fakeChatter{reply: "certo"}, now)
	res, _ = e.ProcessInbound(context.Background(), boundary.ID, inbound("m3", body))
	if res.Status != store.ThreadGoalAchieved {
		t.Errorf("session-end phrase ignored at turn 3: status = %q", res.Status)
	}

	late := testThread(now)
	late.CurrentTurn = 5
	ts = newFakeThreadStore(late)
	e = newTestEngine(ts, &fakeChatter{reply: "certo"}, now)
	res, _ = e.ProcessInbound(context.Background(), late.ID, inbound("m2", body))
	if res.Status != store.ThreadGoalAchieved {
		t.Errorf("status = %q", res.Status)
	}
	if ts.threads[late.ID].GoalSummary != "External bot closed the session" {
		t.Errorf("summary = %q", ts.threads[late.ID].GoalSummary)
	}
}

func TestDuplicateMessageDropped(t *testing.T) {
	now := time.Now().UTC()
	th := testThread(now)
	th.CurrentTurn = 1
	th.History = []store.ThreadTurn{{Role: "user", Content: "oi", Timestamp: now.Add(-2 * time.Minute), MessageID: "m1"}}
	ts := newFakeThreadStore(th)
	ch := &fakeChatter{reply: "ok"}
	e := newTestEngine(ts, ch, now)

	res, _ := e.ProcessInbound(context.Background(), th.ID, inbound("m1", "oi"))
	if res.ShouldReply || ch.calls != 0 {
		t.Errorf("duplicate processed: %+v calls=%d", res, ch.calls)
	}
	if ts.threads[th.ID].CurrentTurn != 1 {
		t.Error("duplicate advanced the turn counter")
	}
}

func TestMidSessionResetShortCircuit(t *testing.T) {
	now := time.Now().UTC()
	th := testThread(now)
	ts := newFakeThreadStore(th)
	ch := &fakeChatter{reply: "nunca"}
	e := newTestEngine(ts, ch, now)

	res, _ := e.ProcessInbound(context.Background(), th.ID, inbound("m1", "Há mais algo em que eu possa ajudar?"))
	if !res.ShouldReply || res.Reply != "menu" {
		t.Fatalf("first reset = %+v", res)
	}
	res, _ = e.ProcessInbound(context.Background(), th.ID, inbound("m2", "Há mais algo em que eu possa ajudar?"))
	if res.Reply != "0" {
		t.Fatalf("second reset = %+v", res)
	}
	if ch.calls != 0 {
		t.Error("short-circuit hit the LLM")
	}
	// Third prompt: attempts exhausted, goes to the model.
	e.ProcessInbound(context.Background(), th.ID, inbound("m3", "Há mais algo em que eu possa ajudar?"))
	if ch.calls != 1 {
		t.Errorf("llm calls = %d, want 1", ch.calls)
	}
}

const menuJSON = `{"type":"list","sections":[{"title":"Menu","rows":[{"title":"Segunda via de boleto"},{"title":"Rastrear pedido"},{"title":"Falar com atendente"}]}]}`

func TestMenuSelectionPrefersObjective(t *testing.T) {
	now := time.Now().UTC()
	th := testThread(now)
	th.Objective = "rastrear o pedido BR123456789"
	ts := newFakeThreadStore(th)
	ch := &fakeChatter{reply: "nunca"}
	e := newTestEngine(ts, ch, now)

	res, _ := e.ProcessInbound(context.Background(), th.ID, inbound("m1", menuJSON))
	if !res.ShouldReply || res.Reply != "Rastrear pedido" {
		t.Fatalf("selection = %+v", res)
	}
	if ch.calls != 0 {
		t.Error("menu selection hit the LLM")
	}

	// Same menu again: the remembered pick is avoided.
	res, _ = e.ProcessInbound(context.Background(), th.ID, inbound("m2", menuJSON))
	if res.Reply == "Rastrear pedido" {
		t.Errorf("repeated selection %q for recurring menu", res.Reply)
	}
}

func TestStatusAckShortCircuit(t *testing.T) {
	now := time.Now().UTC()
	th := testThread(now)
	ts := newFakeThreadStore(th)
	ch := &fakeChatter{reply: "nunca"}
	e := newTestEngine(ts, ch, now)

	res, _ := e.ProcessInbound(context.Background(), th.ID,
		inbound("m1", "Seu pedido foi enviado e a previsão de entrega é 12/05."))
	if res.Reply != "Perfeito, obrigado!" {
		t.Errorf("reply = %q", res.Reply)
	}

	// A status message that asks for input still goes to the model.
	th2 := testThread(now)
	ts2 := newFakeThreadStore(th2)
	ch2 := &fakeChatter{reply: "BR123456789"}
	e2 := newTestEngine(ts2, ch2, now)
	e2.ProcessInbound(context.Background(), th2.ID,
		inbound("m2", "Para consultar o status da entrega, digite o código de rastreio."))
	if ch2.calls != 1 {
		t.Errorf("llm calls = %d, want 1", ch2.calls)
	}
}

func TestStatusAckClosesThreadWithGoal(t *testing.T) {
	now := time.Now().UTC()
	th := testThread(now)
	th.CurrentTurn = 2
	th.History = []store.ThreadTurn{
		{Role: "user", Content: "bem-vindo", Timestamp: now.Add(-2 * time.Minute)},
		{Role: "agent", Content: "quero o status do pedido BR123456789", Timestamp: now.Add(-2 * time.Minute)},
	}
	ts := newFakeThreadStore(th)
	ch := &fakeChatter{reply: "nunca"}
	e := newTestEngine(ts, ch, now)

	res, err := e.ProcessInbound(context.Background(), th.ID,
		inbound("m1", "Seu pedido está em trânsito, previsão para 2026-02-14."))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "Perfeito, obrigado!" || !res.ShouldReply {
		t.Fatalf("result = %+v", res)
	}
	if ch.calls != 0 {
		t.Error("status ack hit the LLM")
	}
	got := ts.threads[th.ID]
	if got.Status != store.ThreadGoalAchieved || !got.GoalAchieved {
		t.Errorf("thread not closed: status=%q goal=%v", got.Status, got.GoalAchieved)
	}
	if got.GoalSummary != "Data successfully retrieved from external bot" {
		t.Errorf("summary = %q", got.GoalSummary)
	}
}

func TestContaminationClosesThread(t *testing.T) {
	now := time.Now().UTC()
	th := testThread(now)
	th.CurrentTurn = 1
	ts := newFakeThreadStore(th)
	e := newTestEngine(ts, &fakeChatter{reply: "@maria: sou o atendente agora"}, now)

	res, _ := e.ProcessInbound(context.Background(), th.ID, inbound("m1", "qual o status?"))
	if res.ShouldReply {
		t.Errorf("contaminated reply delivered: %+v", res)
	}
	got := ts.threads[th.ID]
	if got.Status != store.ThreadCompleted || !strings.HasPrefix(got.GoalSummary, "CONTAMINATION DETECTED:") {
		t.Errorf("closure = %q status = %q", got.GoalSummary, got.Status)
	}
}

func TestGoalDetectionOnThanks(t *testing.T) {
	now := time.Now().UTC()
	th := testThread(now)
	th.CurrentTurn = 2
	th.History = []store.ThreadTurn{
		{Role: "user", Content: "qual o status?", Timestamp: now.Add(-3 * time.Minute)},
		{Role: "agent", Content: "chega amanhã", Timestamp: now.Add(-3 * time.Minute)},
	}
	ts := newFakeThreadStore(th)
	e := newTestEngine(ts, &fakeChatter{reply: "de nada!"}, now)

	res, _ := e.ProcessInbound(context.Background(), th.ID, inbound("m9", "obrigado, era só isso"))
	if !res.GoalAchieved || res.Status != store.ThreadGoalAchieved {
		t.Errorf("result = %+v", res)
	}
	if !res.ShouldReply {
		t.Error("final reply suppressed")
	}
}

func TestStagnationClosesWithTerminalReply(t *testing.T) {
	now := time.Now().UTC()
	th := testThread(now)
	th.CurrentTurn = 4
	old := now.Add(-5 * time.Minute)
	th.History = []store.ThreadTurn{
		{Role: "user", Content: "não entendi sua solicitação", Timestamp: old},
		{Role: "agent", Content: "quero rastrear o pedido BR123456789", Timestamp: old},
		{Role: "user", Content: "não entendi sua solicitação", Timestamp: old},
		{Role: "agent", Content: "quero rastrear o pedido BR123456789", Timestamp: old},
	}
	ts := newFakeThreadStore(th)
	e := newTestEngine(ts, &fakeChatter{reply: "quero rastrear o pedido BR123456789"}, now)

	res, _ := e.ProcessInbound(context.Background(), th.ID, inbound("m5", "não entendi sua solicitação"))
	if res.Reply != terminalReply {
		t.Errorf("reply = %q", res.Reply)
	}
	got := ts.threads[th.ID]
	if got.Status != store.ThreadCompleted || !got.ForceClosed {
		t.Errorf("status = %q forceClosed = %v", got.Status, got.ForceClosed)
	}
}

func TestCooldownWindows(t *testing.T) {
	now := time.Now().UTC()
	closedAt := now.Add(-4 * time.Minute)

	normal := testThread(now)
	normal.Status = store.ThreadCompleted
	normal.CompletedAt = &closedAt
	ts := newFakeThreadStore(normal)
	e := newTestEngine(ts, &fakeChatter{}, now)

	in, err := e.InCooldown(context.Background(), normal.TenantID, normal.Recipient)
	if err != nil || !in {
		t.Errorf("4 min after normal close: in=%v err=%v, want cooldown", in, err)
	}

	e.now = func() time.Time { return now.Add(3 * time.Minute) } // 7 min after close
	in, _ = e.InCooldown(context.Background(), normal.TenantID, normal.Recipient)
	if in {
		t.Error("cooldown still active past 5 min for normal close")
	}

	forced := testThread(now)
	forced.Status = store.ThreadCompleted
	forced.ForceClosed = true
	forced.CompletedAt = &closedAt
	ts2 := newFakeThreadStore(forced)
	e2 := newTestEngine(ts2, &fakeChatter{}, now.Add(20*time.Minute))
	e2.now = func() time.Time { return now.Add(20 * time.Minute) }
	in, _ = e2.InCooldown(context.Background(), forced.TenantID, forced.Recipient)
	if !in {
		t.Error("force-closed thread released before the 30 min window")
	}
}

func TestLLMTurnSeesGuardrailsAndHistory(t *testing.T) {
	now := time.Now().UTC()
	th := testThread(now)
	th.CurrentTurn = 1
	th.History = []store.ThreadTurn{
		{Role: "user", Content: "bem-vindo ao atendimento", Timestamp: now.Add(-time.Minute)},
		{Role: "agent", Content: "quero rastrear um pedido", Timestamp: now.Add(-time.Minute)},
	}
	ts := newFakeThreadStore(th)
	var seen agent.ChatInput
	ch := &fakeChatter{fn: func(in agent.ChatInput) string {
		seen = in
		return "segue o código"
	}}
	e := newTestEngine(ts, ch, now)

	e.ProcessInbound(context.Background(), th.ID, inbound("m1", "informe o código de rastreio"))
	if !strings.Contains(seen.System, "Objective: "+th.Objective) {
		t.Errorf("objective missing from system prompt:\n%s", seen.System)
	}
	if !strings.Contains(seen.System, "customer-service") {
		t.Error("role-reversal guardrail missing")
	}
	if len(seen.History) != 2 || seen.History[1].Role != "assistant" {
		t.Errorf("history = %+v", seen.History)
	}
	if seen.UserText != "informe o código de rastreio" {
		t.Errorf("user text = %q", seen.UserText)
	}
}
