package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// PGSessionStore implements store.SessionStore (sticky /invoke
// preferences and project-mode sessions).
type PGSessionStore struct {
	db *sql.DB
}

func NewPGSessionStore(db *sql.DB) *PGSessionStore {
	return &PGSessionStore{db: db}
}

func (s *PGSessionStore) GetUserAgent(ctx context.Context, tenantID uuid.UUID, senderKey string) (*store.UserAgentSession, error) {
	var sess store.UserAgentSession
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, sender_key, agent_id, created_at
		 FROM user_agent_sessions WHERE tenant_id = $1 AND sender_key = $2`,
		tenantID, senderKey).
		Scan(&sess.TenantID, &sess.SenderKey, &sess.AgentID, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *PGSessionStore) SetUserAgent(ctx context.Context, sess *store.UserAgentSession) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_agent_sessions (tenant_id, sender_key, agent_id, created_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (tenant_id, sender_key) DO UPDATE SET agent_id = $3, created_at = $4`,
		sess.TenantID, sess.SenderKey, sess.AgentID, sess.CreatedAt)
	return err
}

func (s *PGSessionStore) ClearUserAgent(ctx context.Context, tenantID uuid.UUID, senderKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_agent_sessions WHERE tenant_id = $1 AND sender_key = $2`,
		tenantID, senderKey)
	return err
}

func (s *PGSessionStore) GetProject(ctx context.Context, tenantID uuid.UUID, senderKey string) (*store.ProjectSession, error) {
	var p store.ProjectSession
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, sender_key, project_id, project_name, entered_at
		 FROM project_sessions WHERE tenant_id = $1 AND sender_key = $2`,
		tenantID, senderKey).
		Scan(&p.TenantID, &p.SenderKey, &p.ProjectID, &p.ProjectName, &p.EnteredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PGSessionStore) EnterProject(ctx context.Context, p *store.ProjectSession) error {
	if p.EnteredAt.IsZero() {
		p.EnteredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_sessions (tenant_id, sender_key, project_id, project_name, entered_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (tenant_id, sender_key) DO UPDATE
		 SET project_id = $3, project_name = $4, entered_at = $5`,
		p.TenantID, p.SenderKey, p.ProjectID, p.ProjectName, p.EnteredAt)
	return err
}

func (s *PGSessionStore) ExitProject(ctx context.Context, tenantID uuid.UUID, senderKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM project_sessions WHERE tenant_id = $1 AND sender_key = $2`,
		tenantID, senderKey)
	return err
}

func (s *PGSessionStore) FindProject(ctx context.Context, tenantID uuid.UUID, name string) (*store.ProjectSession, error) {
	var p store.ProjectSession
	p.TenantID = tenantID
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM projects WHERE tenant_id = $1 AND lower(name) = lower($2) LIMIT 1`,
		tenantID, name).Scan(&p.ProjectID, &p.ProjectName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
