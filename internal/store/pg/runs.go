package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// PGRunStore implements store.RunStore.
type PGRunStore struct {
	db *sql.DB
}

func NewPGRunStore(db *sql.DB) *PGRunStore {
	return &PGRunStore{db: db}
}

func (s *PGRunStore) Create(ctx context.Context, r *store.AgentRunData) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.Must(uuid.NewV7())
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = store.RunProcessing
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_runs (id, tenant_id, agent_id, trigger_type, sender,
		   input_preview, status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.TenantID, r.AgentID, r.TriggerType, r.Sender,
		r.InputPreview, r.Status, r.CreatedAt)
	return err
}

func (s *PGRunStore) Finish(ctx context.Context, r *store.AgentRunData) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET output_preview = $2, prompt_tokens = $3,
		   output_tokens = $4, skill_used = $5, tool_used = $6,
		   execution_ms = $7, status = $8, error_detail = $9
		 WHERE id = $1`,
		r.ID, r.OutputPreview, r.PromptTokens, r.OutputTokens,
		r.SkillUsed, r.ToolUsed, r.ExecutionMs, r.Status, r.ErrorDetail)
	return err
}

func (s *PGRunStore) CountForMessage(ctx context.Context, tenantID uuid.UUID, messageID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM agent_runs r
		 JOIN messages m ON m.tenant_id = r.tenant_id AND m.sender = r.sender
		 WHERE r.tenant_id = $1 AND m.external_id = $2`,
		tenantID, messageID).Scan(&n)
	return n, err
}
