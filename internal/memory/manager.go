package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/config"
	"github.com/ligolabs/ligo/internal/store"
	"github.com/ligolabs/ligo/internal/vector"
)

// Manager multiplexes the four memory layers across all agents. Every
// operation is keyed by the isolation-derived memory key; tenancy is
// implicit through the agent row.
type Manager struct {
	cfg       config.MemoryConfig
	working   *WorkingMemory
	toolBuf   *ToolBuffer
	vectors   vector.EmbeddingStore
	embedder  vector.Embedder
	facts     store.FactStore
	knowledge store.KnowledgeStore
	extractor *Extractor
	log       *slog.Logger

	mu        sync.Mutex
	userMsgs  map[string]int // ring key → user messages since last extraction
}

func NewManager(cfg config.MemoryConfig, st *store.Stores, vectors vector.EmbeddingStore, embedder vector.Embedder, extractor *Extractor, log *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		working:   NewWorkingMemory(cfg.WorkingSize, st.Memory),
		toolBuf:   NewToolBuffer(cfg.ToolBufferSize),
		vectors:   vectors,
		embedder:  embedder,
		facts:     st.Facts,
		knowledge: st.Knowledge,
		extractor: extractor,
		log:       log.With("component", "memory"),
		userMsgs:  make(map[string]int),
	}
}

// ToolBuffer exposes the tool output buffer to the router and skills.
func (m *Manager) ToolBuffer() *ToolBuffer { return m.toolBuf }

// AddInput describes one message to remember.
type AddInput struct {
	Agent        *store.AgentData
	Sender       string
	SenderName   string
	Role         string // "user" or "assistant"
	Content      string
	Metadata     map[string]string
	MessageID    string
	ChatOrSender string
	ContactID    *uuid.UUID
	ProjectID    *uuid.UUID
}

// Key derives the memory key for an AddInput.
func (m *Manager) Key(in AddInput) string {
	return DeriveKey(KeyInput{
		AgentID:      in.Agent.ID,
		Sender:       in.Sender,
		Isolation:    in.Agent.Isolation,
		ChatOrSender: in.ChatOrSender,
		ContactID:    in.ContactID,
		ProjectID:    in.ProjectID,
	})
}

// AddMessage appends to the working ring (persisted immediately) and,
// for user messages, upserts an embedding into the episodic store.
func (m *Manager) AddMessage(ctx context.Context, in AddInput) error {
	memoryKey := m.Key(in)
	meta := map[string]string{}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	if in.SenderName != "" {
		meta[store.MetaSenderName] = in.SenderName
	}
	if in.ProjectID != nil {
		meta[store.MetaProjectID] = in.ProjectID.String()
	}
	entry := store.MemoryEntry{Role: in.Role, Content: in.Content, Metadata: meta, At: time.Now().UTC()}
	if err := m.working.Append(ctx, in.Agent.ID, memoryKey, entry); err != nil {
		return err
	}

	if in.Role == "user" && meta[store.MetaIsToolOutput] == "" {
		if err := m.indexEpisodic(ctx, in.Agent.ID, memoryKey, in); err != nil {
			// Episodic indexing is recall quality, not correctness.
			m.log.Warn("episodic upsert failed", "agent", in.Agent.ID, "error", err)
		}
		m.mu.Lock()
		m.userMsgs[ringKey(in.Agent.ID, memoryKey)]++
		m.mu.Unlock()
	}
	return nil
}

func (m *Manager) indexEpisodic(ctx context.Context, agentID uuid.UUID, memoryKey string, in AddInput) error {
	vecs, err := m.embedder.Embed(ctx, []string{in.Content})
	if err != nil {
		return err
	}
	id := in.MessageID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	return m.vectors.Upsert(ctx, vector.MessagesCollection(agentID, memoryKey), []vector.Entry{{
		ID:     id,
		Vector: vecs[0],
		Metadata: map[string]string{
			"memory_key": memoryKey,
			"sender_key": in.Sender,
			"role":       in.Role,
		},
		Text: in.Content,
	}})
}

// MaybeExtract runs the fact extractor when the cadence or an explicit
// instruction warrants it. chat binds the agent's LLM provider; a nil
// chat falls straight to regex extraction. Returns stored fact count.
func (m *Manager) MaybeExtract(ctx context.Context, tenantID uuid.UUID, in AddInput, chat ChatFn) int {
	memoryKey := m.Key(in)
	key := ringKey(in.Agent.ID, memoryKey)

	threshold := in.Agent.ExtractEveryN
	if threshold <= 0 {
		threshold = m.cfg.ExtractEveryN
	}
	if in.Agent.HasSkill("adaptive_personality") && threshold > 2 {
		threshold = 2
	}

	m.mu.Lock()
	count := m.userMsgs[key]
	m.mu.Unlock()
	if !ShouldExtract(count, threshold, in.Content) {
		return 0
	}

	window, err := m.working.Recent(ctx, in.Agent.ID, memoryKey, 0)
	if err != nil {
		m.log.Warn("extract window load failed", "error", err)
		return 0
	}
	ex := m.extractor
	if chat != nil {
		ex = NewExtractor(m.facts, chat, ex.sentinelMode, m.log)
	}
	userKey := m.userFactKey(in)
	stored := ex.Extract(ctx, tenantID, in.Agent.ID, userKey, window)

	m.mu.Lock()
	m.userMsgs[key] = 0
	m.mu.Unlock()
	return stored
}

// userFactKey picks the per-user discriminator for fact storage: the
// contact id when resolved, the raw sender otherwise.
func (m *Manager) userFactKey(in AddInput) string {
	if in.ContactID != nil {
		return "contact_" + in.ContactID.String()
	}
	return "sender_" + in.Sender
}

// Context is the assembled recall bundle.
type Context struct {
	Working  []store.MemoryEntry
	Episodic []vector.Result
	Facts    map[string][]*store.FactData // topic → facts
	Shared   []*store.KnowledgeData
}

// GetContext assembles {working, episodic, facts, shared} for a query.
func (m *Manager) GetContext(ctx context.Context, tenantID uuid.UUID, in AddInput, query string) (*Context, error) {
	memoryKey := m.Key(in)
	out := &Context{Facts: map[string][]*store.FactData{}}

	working, err := m.working.Recent(ctx, in.Agent.ID, memoryKey, m.cfg.WorkingSize)
	if err != nil {
		return nil, fmt.Errorf("working memory: %w", err)
	}
	out.Working = working

	if query != "" {
		vecs, err := m.embedder.Embed(ctx, []string{query})
		if err == nil {
			hits, err := m.vectors.Search(ctx, vector.MessagesCollection(in.Agent.ID, memoryKey),
				vecs[0], m.cfg.EpisodicTopK, map[string]string{"memory_key": memoryKey})
			if err == nil {
				minSim := m.cfg.MinSimilarity
				for _, h := range hits {
					if vector.Similarity(h.Distance) >= minSim {
						out.Episodic = append(out.Episodic, h)
					}
				}
			}
		}
	}

	facts, err := m.facts.ListForUser(ctx, in.Agent.ID, m.userFactKey(in))
	if err != nil {
		return nil, fmt.Errorf("facts: %w", err)
	}
	for _, f := range facts {
		out.Facts[f.Topic] = append(out.Facts[f.Topic], f)
	}

	shared, err := m.knowledge.VisibleTo(ctx, tenantID, in.Agent.ID, 10)
	if err != nil {
		return nil, fmt.Errorf("shared knowledge: %w", err)
	}
	out.Shared = shared
	return out, nil
}

// ClearFor drops working and episodic memory for a sender (the /memory
// clear command). Facts are kept; they have their own lifecycle.
func (m *Manager) ClearFor(ctx context.Context, in AddInput) error {
	memoryKey := m.Key(in)
	if err := m.working.Clear(ctx, in.Agent.ID, memoryKey); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.userMsgs, ringKey(in.Agent.ID, memoryKey))
	m.mu.Unlock()
	return m.vectors.DeleteWhere(ctx, vector.MessagesCollection(in.Agent.ID, memoryKey),
		map[string]string{"memory_key": memoryKey})
}
