package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// PGAgentStore implements store.AgentStore.
type PGAgentStore struct {
	db *sql.DB
}

func NewPGAgentStore(db *sql.DB) *PGAgentStore {
	return &PGAgentStore{db: db}
}

const agentCols = `id, tenant_id, name, provider, model, system_prompt, isolation,
	keywords, is_default, active, enabled_channels, whatsapp_integration_id,
	telegram_integration_id, contamination_extra, enabled_skills,
	response_template, tts_provider, phone_number, extract_every_n,
	created_at, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (*store.AgentData, error) {
	var a store.AgentData
	var keywords, channels, contamExtra, skills []byte
	var waID, tgID sql.NullString
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Name, &a.Provider, &a.Model, &a.SystemPrompt,
		&a.Isolation, &keywords, &a.IsDefault, &a.Active, &channels,
		&waID, &tgID, &contamExtra, &skills,
		&a.ResponseTemplate, &a.TTSProvider, &a.PhoneNumber, &a.ExtractEveryN,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(keywords, &a.Keywords)
	json.Unmarshal(channels, &a.EnabledChannels)
	json.Unmarshal(contamExtra, &a.ContaminationExtra)
	json.Unmarshal(skills, &a.EnabledSkills)
	if waID.Valid {
		if id, err := uuid.Parse(waID.String); err == nil {
			a.WhatsappIntegrationID = &id
		}
	}
	if tgID.Valid {
		if id, err := uuid.Parse(tgID.String); err == nil {
			a.TelegramIntegrationID = &id
		}
	}
	return &a, nil
}

func (s *PGAgentStore) GetByID(ctx context.Context, id uuid.UUID) (*store.AgentData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentCols+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s not found", id)
	}
	return a, err
}

func (s *PGAgentStore) ListActive(ctx context.Context, tenantID uuid.UUID) ([]*store.AgentData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentCols+` FROM agents WHERE tenant_id = $1 AND active ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*store.AgentData
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *PGAgentStore) Default(ctx context.Context, tenantID uuid.UUID) (*store.AgentData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentCols+` FROM agents
		 WHERE tenant_id = $1 AND active AND is_default LIMIT 1`, tenantID)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}
