package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// PGToolStore implements store.ToolStore. Tool declarations live in two
// tables (sandboxed_tools, sandboxed_tool_commands); executions get one
// audit row each.
type PGToolStore struct {
	db *sql.DB
}

func NewPGToolStore(db *sql.DB) *PGToolStore {
	return &PGToolStore{db: db}
}

func (s *PGToolStore) GetByName(ctx context.Context, tenantID uuid.UUID, name string) (*store.SandboxedToolData, error) {
	var t store.SandboxedToolData
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, prompt, enabled FROM sandboxed_tools
		 WHERE tenant_id = $1 AND name = $2`, tenantID, name).
		Scan(&t.ID, &t.TenantID, &t.Name, &t.Prompt, &t.Enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadCommands(ctx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PGToolStore) ListEnabled(ctx context.Context, tenantID uuid.UUID) ([]*store.SandboxedToolData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, prompt, enabled FROM sandboxed_tools
		 WHERE tenant_id = $1 AND enabled ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []*store.SandboxedToolData
	for rows.Next() {
		var t store.SandboxedToolData
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.Prompt, &t.Enabled); err != nil {
			return nil, err
		}
		tools = append(tools, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, t := range tools {
		if err := s.loadCommands(ctx, t); err != nil {
			return nil, err
		}
	}
	return tools, nil
}

func (s *PGToolStore) loadCommands(ctx context.Context, t *store.SandboxedToolData) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, template, description, timeout_sec, is_long_running,
		   work_dir, parameters
		 FROM sandboxed_tool_commands WHERE tool_id = $1 ORDER BY name`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c store.SandboxedToolCommand
		var params []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.Template, &c.Description,
			&c.TimeoutSec, &c.IsLongRunning, &c.WorkDir, &params); err != nil {
			return err
		}
		json.Unmarshal(params, &c.Parameters)
		t.Commands = append(t.Commands, c)
	}
	return rows.Err()
}

func (s *PGToolStore) CreateExecution(ctx context.Context, e *store.ToolExecutionData) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.Must(uuid.NewV7())
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = store.ExecPending
	}
	var runID any
	if e.AgentRunID != nil {
		runID = *e.AgentRunID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_executions (id, tenant_id, tool_id, command_id,
		   agent_run_id, rendered, status, started_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.TenantID, e.ToolID, e.CommandID, runID, e.Rendered,
		e.Status, e.StartedAt)
	return err
}

func (s *PGToolStore) FinishExecution(ctx context.Context, e *store.ToolExecutionData) error {
	now := time.Now().UTC()
	if e.FinishedAt == nil {
		e.FinishedAt = &now
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tool_executions SET stdout = $2, stderr = $3, exit_code = $4,
		   status = $5, finished_at = $6
		 WHERE id = $1`,
		e.ID, e.Stdout, e.Stderr, e.ExitCode, e.Status, *e.FinishedAt)
	return err
}
