package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AgentStore reads agent rows.
type AgentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*AgentData, error)
	// ListActive returns the tenant's active agents.
	ListActive(ctx context.Context, tenantID uuid.UUID) ([]*AgentData, error)
	// Default returns the tenant's default agent, or nil.
	Default(ctx context.Context, tenantID uuid.UUID) (*AgentData, error)
}

// ContactStore backs the contact directory.
type ContactStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*ContactData, error)
	// LookupChannelID resolves (channel id type, identifier) within a tenant.
	LookupChannelID(ctx context.Context, tenantID uuid.UUID, idType, identifier string) (*ContactData, error)
	// GetByName finds a contact by friendly name (case-insensitive).
	GetByName(ctx context.Context, tenantID uuid.UUID, name string) (*ContactData, error)
	Create(ctx context.Context, c *ContactData) error
	// AddChannelID records a (type, identifier) mapping for the contact.
	AddChannelID(ctx context.Context, contactID uuid.UUID, idType, identifier string) error
	ListActive(ctx context.Context, tenantID uuid.UUID) ([]*ContactData, error)
	// MappedAgent returns the contact→agent mapping target, or nil.
	MappedAgent(ctx context.Context, contactID uuid.UUID) (*uuid.UUID, error)
}

// SessionStore persists sticky routing preferences and project sessions.
type SessionStore interface {
	GetUserAgent(ctx context.Context, tenantID uuid.UUID, senderKey string) (*UserAgentSession, error)
	SetUserAgent(ctx context.Context, s *UserAgentSession) error
	ClearUserAgent(ctx context.Context, tenantID uuid.UUID, senderKey string) error

	GetProject(ctx context.Context, tenantID uuid.UUID, senderKey string) (*ProjectSession, error)
	EnterProject(ctx context.Context, s *ProjectSession) error
	ExitProject(ctx context.Context, tenantID uuid.UUID, senderKey string) error
	// FindProject resolves a project by name within the tenant.
	FindProject(ctx context.Context, tenantID uuid.UUID, name string) (*ProjectSession, error)
}

// MessageStore is the durable dedup + audit log of inbound messages.
type MessageStore interface {
	// UpsertObserved inserts the message keyed by (tenant, external id).
	// Returns true when this is the first observation.
	UpsertObserved(ctx context.Context, m *MessageData) (bool, error)
}

// RunStore persists agent runs.
type RunStore interface {
	Create(ctx context.Context, r *AgentRunData) error
	Finish(ctx context.Context, r *AgentRunData) error
	CountForMessage(ctx context.Context, tenantID uuid.UUID, messageID string) (int, error)
}

// ThreadStore persists conversation threads.
type ThreadStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*ThreadData, error)
	Create(ctx context.Context, t *ThreadData) error
	Update(ctx context.Context, t *ThreadData) error
	// FindActiveByRecipient matches any of the normalized recipient
	// candidates, most recently active first.
	FindActiveByRecipient(ctx context.Context, tenantID uuid.UUID, candidates []string) (*ThreadData, error)
	// LastClosedForSender returns the most recently completed thread
	// matching any candidate, for cooldown checks.
	LastClosedForSender(ctx context.Context, tenantID uuid.UUID, candidates []string) (*ThreadData, error)
	// ExpireInactive marks threads idle past the cutoff as timed out.
	ExpireInactive(ctx context.Context, cutoff time.Time) (int, error)
}

// FactStore persists learned facts.
type FactStore interface {
	Get(ctx context.Context, agentID uuid.UUID, userKey, topic, key string) (*FactData, error)
	Upsert(ctx context.Context, f *FactData) error
	ListForUser(ctx context.Context, agentID uuid.UUID, userKey string) ([]*FactData, error)
	DeleteForUser(ctx context.Context, agentID uuid.UUID, userKey string) error
	// Decay multiplies confidence of stale facts and prunes the floor.
	Decay(ctx context.Context, olderThan time.Time, factor, floor float64) (int, error)
}

// KnowledgeStore is the per-tenant shared pool.
type KnowledgeStore interface {
	Add(ctx context.Context, k *KnowledgeData) error
	// VisibleTo returns items the agent may read: public, own private,
	// and restricted items listing the agent.
	VisibleTo(ctx context.Context, tenantID, agentID uuid.UUID, limit int) ([]*KnowledgeData, error)
}

// MemoryStore persists working-memory rings (crash durability).
type MemoryStore interface {
	SaveRing(ctx context.Context, agentID uuid.UUID, memoryKey string, entries []MemoryEntry) error
	LoadRing(ctx context.Context, agentID uuid.UUID, memoryKey string) ([]MemoryEntry, error)
	DeleteRing(ctx context.Context, agentID uuid.UUID, memoryKey string) error
}

// ToolStore reads sandboxed tool declarations and writes execution rows.
type ToolStore interface {
	GetByName(ctx context.Context, tenantID uuid.UUID, name string) (*SandboxedToolData, error)
	ListEnabled(ctx context.Context, tenantID uuid.UUID) ([]*SandboxedToolData, error)
	CreateExecution(ctx context.Context, e *ToolExecutionData) error
	FinishExecution(ctx context.Context, e *ToolExecutionData) error
}

// UsageStore records provider usage events.
type UsageStore interface {
	Record(ctx context.Context, u *UsageEventData) error
}

// InstanceStore reads transport instances.
type InstanceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*InstanceData, error)
	ListActive(ctx context.Context) ([]*InstanceData, error)
	// FirstAgentInstance returns the tenant's first active AGENT-kind
	// instance for a channel (TESTER instances are never returned).
	FirstAgentInstance(ctx context.Context, tenantID uuid.UUID, channel string) (*InstanceData, error)
}

// CredentialStore resolves tenant-scoped provider credentials.
// Values are stored encrypted; Get returns plaintext or an error when
// decryption fails (providers then report not_configured).
type CredentialStore interface {
	Get(ctx context.Context, tenantID uuid.UUID, provider string) (string, error)
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Agents      AgentStore
	Contacts    ContactStore
	Sessions    SessionStore
	Messages    MessageStore
	Runs        RunStore
	Threads     ThreadStore
	Facts       FactStore
	Knowledge   KnowledgeStore
	Memory      MemoryStore
	Tools       ToolStore
	Usage       UsageStore
	Instances   InstanceStore
	Credentials CredentialStore
}
