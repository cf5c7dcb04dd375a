package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// PGUsageStore implements store.UsageStore. Recording is best effort;
// callers log and continue when it fails.
type PGUsageStore struct {
	db *sql.DB
}

func NewPGUsageStore(db *sql.DB) *PGUsageStore {
	return &PGUsageStore{db: db}
}

func (s *PGUsageStore) Record(ctx context.Context, u *store.UsageEventData) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.Must(uuid.NewV7())
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	var agentID any
	if u.AgentID != nil {
		agentID = *u.AgentID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_events (id, tenant_id, operation_type, provider,
		   model, agent_id, sender, message_id, prompt_units, output_units, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		u.ID, u.TenantID, u.OperationType, u.Provider, u.Model, agentID,
		u.Sender, u.MessageID, u.PromptUnits, u.OutputUnits, u.CreatedAt)
	return err
}
