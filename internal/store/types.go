// Package store defines the persistent entities and the store
// interfaces the rest of the system depends on. Every row is owned by a
// tenant; all queries are tenant-scoped.
package store

import (
	"time"

	"github.com/google/uuid"
)

// IsolationMode decides how the memory key is derived for an agent.
type IsolationMode string

const (
	IsolationIsolated        IsolationMode = "isolated"
	IsolationShared          IsolationMode = "shared"
	IsolationChannelIsolated IsolationMode = "channel_isolated"
)

// TenantData is the isolation root. Everything else hangs off a tenant.
type TenantData struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
}

// AgentData describes one LLM-backed agent.
type AgentData struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	Provider     string // llm provider name (anthropic, openai, ...)
	Model        string
	SystemPrompt string
	Isolation    IsolationMode
	Keywords     []string // case-insensitive routing triggers
	IsDefault    bool
	Active       bool
	// Channels the agent may answer on ("whatsapp", "telegram", "playground").
	EnabledChannels []string
	// Per-channel integration pins: when set, only the watcher with this
	// instance id may route to the agent on that channel.
	WhatsappIntegrationID *uuid.UUID
	TelegramIntegrationID *uuid.UUID
	// ContaminationExtra extends the base detector patterns for this agent.
	ContaminationExtra []string
	// EnabledSkills lists skill names active for the agent.
	EnabledSkills []string
	// ResponseTemplate overrides the gateway default ("@{agent_name}: {response}").
	ResponseTemplate string
	// TTSProvider, when set, synthesizes replies to voice notes.
	TTSProvider string
	// PhoneNumber is the transport number the agent answers from (self-loop guard).
	PhoneNumber string
	// ExtractEveryN overrides the fact-extraction cadence (0 = gateway default).
	ExtractEveryN int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasSkill reports whether the named skill is enabled for the agent.
func (a *AgentData) HasSkill(name string) bool {
	for _, s := range a.EnabledSkills {
		if s == name {
			return true
		}
	}
	return false
}

// ChannelEnabled reports whether the agent may answer on the channel.
func (a *AgentData) ChannelEnabled(channel string) bool {
	for _, c := range a.EnabledChannels {
		if c == channel {
			return true
		}
	}
	return false
}

// ContactRole distinguishes humans from agents in the directory.
type ContactRole string

const (
	RoleUser   ContactRole = "user"
	RoleAgent  ContactRole = "agent"
	RoleSystem ContactRole = "system"
)

// Channel identifier types recorded in the channel-mapping index.
const (
	ChanIDPhone            = "phone"
	ChanIDWhatsapp         = "whatsapp_id"
	ChanIDTelegram         = "telegram_id"
	ChanIDTelegramUsername = "telegram_username"
)

// ContactData is one entry in the per-tenant contact directory. Agents
// are contacts too, so "@name" mentions resolve uniformly.
type ContactData struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Role     ContactRole
	Active   bool
	// ChannelIDs maps channel identifier type → identifier.
	ChannelIDs map[string]string
	// AgentID links contacts of role "agent" to their agent row.
	AgentID   *uuid.UUID
	CreatedAt time.Time
}

// ContactAgentMapping routes DMs from a known contact to a fixed agent.
type ContactAgentMapping struct {
	ContactID uuid.UUID
	AgentID   uuid.UUID
}

// UserAgentSession is the sticky /invoke preference for one sender.
type UserAgentSession struct {
	TenantID  uuid.UUID
	SenderKey string
	AgentID   uuid.UUID
	CreatedAt time.Time
}

// ProjectSession marks a sender as working inside a project context.
type ProjectSession struct {
	TenantID    uuid.UUID
	SenderKey   string
	ProjectID   uuid.UUID
	ProjectName string
	EnteredAt   time.Time
}

// MessageData is the durable record of one observed inbound message.
// (tenant_id, external_id) is unique; re-observation is a no-op.
type MessageData struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	ExternalID string
	Sender     string
	ChatID     string
	Body       string
	IsGroup    bool
	Channel    string
	MediaType  string
	Timestamp  time.Time
	CreatedAt  time.Time
}

// Run statuses.
const (
	RunProcessing = "processing"
	RunSuccess    = "success"
	RunError      = "error"
)

// AgentRunData is one invocation record per routed message.
type AgentRunData struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	AgentID       uuid.UUID
	TriggerType   string // keyword | mention | mapping | default | session | thread
	Sender        string
	InputPreview  string
	OutputPreview string
	PromptTokens  int
	OutputTokens  int
	SkillUsed     string
	ToolUsed      string
	ExecutionMs   int64
	Status        string
	ErrorDetail   string
	CreatedAt     time.Time
}

// Thread statuses.
const (
	ThreadActive       = "active"
	ThreadCompleted    = "completed"
	ThreadGoalAchieved = "goal_achieved"
	ThreadTimeout      = "timeout"
)

// ThreadTurn is one entry in a conversation thread's history.
type ThreadTurn struct {
	Role      string    `json:"role"` // "user" (external party) or "agent"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id,omitempty"`
}

// ThreadData is a bounded outbound-initiated dialogue with an objective.
type ThreadData struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	AgentID      uuid.UUID
	Recipient    string
	Objective    string
	CurrentTurn  int
	MaxTurns     int
	Status       string
	GoalAchieved bool
	GoalSummary  string
	History      []ThreadTurn
	// Context carries small per-thread scratch state: last menu signature,
	// chosen options, reset attempts.
	Context        map[string]string
	PersonaID      *uuid.UUID
	CreatedAt      time.Time
	LastActivityAt time.Time
	CompletedAt    *time.Time
	// ForceClosed marks loop-prevention closures (longer cooldown applies).
	ForceClosed bool
}

// Fact topics form a fixed vocabulary.
var FactTopics = []string{
	"preferences", "personal_info", "history", "relationships", "goals",
	"instructions", "communication_style", "inside_jokes", "linguistic_patterns",
}

// FactData is one learned (agent, user, topic, key) fact.
type FactData struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	AgentID    uuid.UUID
	UserKey    string
	Topic      string
	Key        string
	Value      string
	Confidence float64
	// RepeatCount is how many times the same value was observed; it
	// weights the confidence merge on re-learning.
	RepeatCount int
	LearnedAt   time.Time
	UpdatedAt   time.Time
}

// Shared-knowledge access levels.
const (
	AccessPublic     = "public"
	AccessRestricted = "restricted"
	AccessPrivate    = "private"
)

// KnowledgeData is one item in the per-tenant shared pool.
type KnowledgeData struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	SharedByAgent uuid.UUID
	Content       string
	Topic         string
	AccessLevel   string
	AccessibleTo  []uuid.UUID // agent ids, when restricted
	CreatedAt     time.Time
}

// MemoryEntry is one working-memory ring entry.
type MemoryEntry struct {
	Role     string            `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	At       time.Time         `json:"at"`
}

// Metadata keys used on MemoryEntry.
const (
	MetaIsToolOutput = "is_tool_output"
	MetaToolUsed     = "tool_used"
	MetaExecutionID  = "execution_id"
	MetaSenderName   = "sender_name"
	MetaProjectID    = "project_id"
)

// SandboxedToolParameter declares one command parameter.
type SandboxedToolParameter struct {
	Name      string `json:"name"`
	Required  bool   `json:"required"`
	Default   string `json:"default,omitempty"`
	Describes string `json:"description,omitempty"`
}

// SandboxedToolCommand is a runnable template inside the tenant container.
type SandboxedToolCommand struct {
	ID            uuid.UUID
	Name          string
	Template      string // with <param> or {param} placeholders
	Description   string
	TimeoutSec    int
	IsLongRunning bool
	WorkDir       string
	Parameters    []SandboxedToolParameter
}

// SandboxedToolData declares a tool and its commands.
type SandboxedToolData struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Prompt   string // injected into the system prompt when enabled
	Enabled  bool
	Commands []SandboxedToolCommand
}

// Tool execution statuses.
const (
	ExecPending   = "pending"
	ExecRunning   = "running"
	ExecCompleted = "completed"
	ExecFailed    = "failed"
)

// ToolExecutionData is the audit row for one sandboxed command run.
type ToolExecutionData struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	ToolID     uuid.UUID
	CommandID  uuid.UUID
	AgentRunID *uuid.UUID
	Rendered   string
	Stdout     string
	Stderr     string
	ExitCode   int
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Usage operation types.
const (
	OpLLMChat      = "llm_chat"
	OpTTS          = "tts"
	OpWebSearch    = "web_search"
	OpFlightSearch = "flight_search"
	OpEmbedding    = "embedding"
)

// UsageEventData records per-call provider cost/usage.
type UsageEventData struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	OperationType string // llm_chat | tts | web_search | flight_search | embedding
	Provider      string
	Model         string
	AgentID       *uuid.UUID
	Sender        string
	MessageID     string
	PromptUnits   int
	OutputUnits   int
	CreatedAt     time.Time
}

// InstanceData is one live transport connection (e.g. a WhatsApp MCP
// container or a Telegram bot) within a channel.
type InstanceData struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Channel  string
	// Kind is AGENT for production instances; TESTER instances are never
	// used for outbound dispatch.
	Kind           string
	APIURL         string
	APISecret      string
	BotToken       string // telegram
	IsGroupHandler bool
	Active         bool
	// DMAutoMode: when false the watcher only forwards DMs that mention
	// an agent (QA safe mode).
	DMAutoMode  bool
	GroupAllow  []string // group JIDs allowed (empty = all)
	NumberAllow []string // sender numbers allowed (empty = all)
	CreatedAt   time.Time
}

const (
	InstanceAgent  = "AGENT"
	InstanceTester = "TESTER"
)
