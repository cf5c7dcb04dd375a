package skills

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/providers"
)

// SchedulingKeywords mark a message as a reminder request. The router
// also uses them for the thread scheduling-breakout rule.
var SchedulingKeywords = []string{
	"me lembre", "me lembra", "lembrete", "agendar", "agende",
	"remind me", "reminder", "schedule",
}

// HasSchedulingKeyword reports whether the body asks for scheduling.
func HasSchedulingKeyword(body string) bool {
	lower := strings.ToLower(body)
	for _, kw := range SchedulingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// reminderEntry is one pending delivery. Either At (one-shot) or Cron
// (recurring) is set.
type reminderEntry struct {
	ID        string
	Recipient string
	Message   string
	At        time.Time
	Cron      string
	lastFired time.Time
}

// Scheduler delivers reminders through the channel-send capability. It
// owns no transport; the gateway hands it a bus.SendFunc per channel.
type Scheduler struct {
	send bus.SendFunc
	gron *gronx.Gronx
	log  *slog.Logger
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*reminderEntry
}

func NewScheduler(send bus.SendFunc, log *slog.Logger) *Scheduler {
	return &Scheduler{
		send:    send,
		gron:    gronx.New(),
		log:     log.With("component", "reminders"),
		now:     time.Now,
		entries: make(map[string]*reminderEntry),
	}
}

// AddOneShot schedules a single delivery and returns the reminder id.
func (s *Scheduler) AddOneShot(recipient, message string, at time.Time) string {
	id := uuid.Must(uuid.NewV7()).String()
	s.mu.Lock()
	s.entries[id] = &reminderEntry{ID: id, Recipient: recipient, Message: message, At: at}
	s.mu.Unlock()
	return id
}

// AddCron schedules a recurring delivery from a cron expression.
func (s *Scheduler) AddCron(recipient, message, expr string) (string, error) {
	if !s.gron.IsValid(expr) {
		return "", fmt.Errorf("invalid cron expression %q", expr)
	}
	id := uuid.Must(uuid.NewV7()).String()
	s.mu.Lock()
	s.entries[id] = &reminderEntry{ID: id, Recipient: recipient, Message: message, Cron: expr}
	s.mu.Unlock()
	return id, nil
}

// Run ticks until ctx is done. Tick granularity is 20s; cron entries
// fire at most once per minute.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue()
		}
	}
}

func (s *Scheduler) fireDue() {
	now := s.now()
	s.mu.Lock()
	var due []*reminderEntry
	for id, e := range s.entries {
		switch {
		case e.Cron == "":
			if !now.Before(e.At) {
				due = append(due, e)
				delete(s.entries, id)
			}
		default:
			if now.Sub(e.lastFired) < time.Minute {
				continue
			}
			if ok, err := s.gron.IsDue(e.Cron, now); err == nil && ok {
				e.lastFired = now
				due = append(due, e)
			}
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if err := s.send(e.Recipient, "⏰ Lembrete: "+e.Message, nil); err != nil {
			s.log.Warn("reminder delivery failed", "recipient", e.Recipient, "error", err)
		}
	}
}

// Pending returns the number of scheduled entries (maintenance stats).
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Reminder creates reminders from natural-language requests or from an
// explicit LLM tool call.
type Reminder struct {
	sched *Scheduler
	log   *slog.Logger
	now   func() time.Time
}

func NewReminder(sched *Scheduler, log *slog.Logger) *Reminder {
	return &Reminder{sched: sched, log: log.With("skill", "reminders"), now: time.Now}
}

func (s *Reminder) Name() string { return "reminders" }

func (s *Reminder) PreProcess(ctx context.Context, req *Request) (*PreResult, error) {
	if !HasSchedulingKeyword(req.Text) {
		return nil, nil
	}
	msg, at, ok := parseReminder(req.Text, s.now())
	if !ok {
		// Let the LLM clarify via the create_reminder tool.
		return nil, nil
	}
	s.sched.AddOneShot(req.Msg.SenderKey, msg, at)
	reply := fmt.Sprintf("⏰ Lembrete criado para %s: %s", at.Format("02/01 15:04"), msg)
	return &PreResult{SkipAI: true, Reply: reply}, nil
}

func (s *Reminder) Tools() []providers.ToolDefinition {
	return []providers.ToolDefinition{{
		Name:        "create_reminder",
		Description: "Schedule a reminder message for the user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message":    map[string]any{"type": "string", "description": "What to remind"},
				"in_minutes": map[string]any{"type": "number", "description": "Minutes from now"},
				"cron":       map[string]any{"type": "string", "description": "Cron expression for recurring reminders"},
			},
			"required": []string{"message"},
		},
	}}
}

func (s *Reminder) PromptBlock() string {
	return "You can schedule reminders with the create_reminder tool. " +
		"Use in_minutes for one-shot reminders and cron for recurring ones."
}

func (s *Reminder) ExecuteTool(ctx context.Context, req *Request, name string, params map[string]any) (*ToolResult, error) {
	message := strings.TrimSpace(paramString(params, "message"))
	if message == "" {
		return &ToolResult{Kind: KindError, Output: "create_reminder requires a message"}, nil
	}
	if expr := paramString(params, "cron"); expr != "" {
		if _, err := s.sched.AddCron(req.Msg.SenderKey, message, expr); err != nil {
			return &ToolResult{Kind: KindError, Output: err.Error()}, nil
		}
		return &ToolResult{Kind: KindText, Output: "Lembrete recorrente criado (" + expr + ")."}, nil
	}
	minutes, _ := params["in_minutes"].(float64)
	if minutes <= 0 {
		minutes = 60
	}
	at := s.now().Add(time.Duration(minutes) * time.Minute)
	s.sched.AddOneShot(req.Msg.SenderKey, message, at)
	return &ToolResult{
		Kind:   KindText,
		Output: fmt.Sprintf("Lembrete criado para %s.", at.Format("02/01 15:04")),
	}, nil
}

// Natural-language reminder parsing, PT and EN.
var (
	inDurationRe = regexp.MustCompile(`(?i)(?:em|in|daqui a)\s+(\d+)\s*(minutos?|minutes?|min|horas?|hours?|h)\b`)
	atClockRe    = regexp.MustCompile(`(?i)(?:às|as|at)\s+(\d{1,2})(?::(\d{2}))?\s*h?\b`)
	reminderOfRe = regexp.MustCompile(`(?i)(?:me lembr[ae](?:\s+de)?|remind me(?:\s+to)?|lembrete\s*:?)\s+(.+)`)
)

// parseReminder extracts (message, fire time) from a scheduling
// request. Returns ok=false when the time is missing or ambiguous.
func parseReminder(body string, now time.Time) (string, time.Time, bool) {
	var at time.Time
	timeSpan := ""
	if m := inDurationRe.FindStringSubmatch(body); m != nil {
		n, _ := strconv.Atoi(m[1])
		unit := strings.ToLower(m[2])
		d := time.Duration(n) * time.Minute
		if strings.HasPrefix(unit, "hora") || strings.HasPrefix(unit, "hour") || unit == "h" {
			d = time.Duration(n) * time.Hour
		}
		at = now.Add(d)
		timeSpan = m[0]
	} else if m := atClockRe.FindStringSubmatch(body); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm := 0
		if m[2] != "" {
			mm, _ = strconv.Atoi(m[2])
		}
		if hh > 23 || mm > 59 {
			return "", time.Time{}, false
		}
		at = time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if !at.After(now) {
			at = at.Add(24 * time.Hour)
		}
		timeSpan = m[0]
	} else {
		return "", time.Time{}, false
	}

	m := reminderOfRe.FindStringSubmatch(body)
	if m == nil {
		return "", time.Time{}, false
	}
	msg := strings.TrimSpace(strings.Replace(m[1], timeSpan, "", 1))
	msg = strings.Trim(msg, " ,.")
	if msg == "" {
		return "", time.Time{}, false
	}
	return msg, at, true
}
