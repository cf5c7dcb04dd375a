package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// PGThreadStore implements store.ThreadStore. History and context are
// JSONB columns; the row is refreshed at the start of every turn by the
// engine, so plain UPDATEs are safe under the per-recipient lock.
type PGThreadStore struct {
	db *sql.DB
}

func NewPGThreadStore(db *sql.DB) *PGThreadStore {
	return &PGThreadStore{db: db}
}

const threadCols = `id, tenant_id, agent_id, recipient, objective, current_turn,
	max_turns, status, goal_achieved, goal_summary, history, context,
	persona_id, created_at, last_activity_at, completed_at, force_closed`

func scanThread(row interface{ Scan(...any) error }) (*store.ThreadData, error) {
	var t store.ThreadData
	var history, tctx []byte
	var personaID sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.TenantID, &t.AgentID, &t.Recipient, &t.Objective,
		&t.CurrentTurn, &t.MaxTurns, &t.Status, &t.GoalAchieved,
		&t.GoalSummary, &history, &tctx, &personaID,
		&t.CreatedAt, &t.LastActivityAt, &completedAt, &t.ForceClosed,
	)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(history, &t.History)
	t.Context = map[string]string{}
	json.Unmarshal(tctx, &t.Context)
	if personaID.Valid {
		if id, err := uuid.Parse(personaID.String); err == nil {
			t.PersonaID = &id
		}
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func (s *PGThreadStore) GetByID(ctx context.Context, id uuid.UUID) (*store.ThreadData, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+threadCols+` FROM conversation_threads WHERE id = $1`, id)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *PGThreadStore) Create(ctx context.Context, t *store.ThreadData) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.LastActivityAt.IsZero() {
		t.LastActivityAt = now
	}
	if t.Status == "" {
		t.Status = store.ThreadActive
	}
	history, _ := json.Marshal(t.History)
	tctx, _ := json.Marshal(t.Context)
	var personaID any
	if t.PersonaID != nil {
		personaID = *t.PersonaID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_threads (`+threadCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		t.ID, t.TenantID, t.AgentID, t.Recipient, t.Objective, t.CurrentTurn,
		t.MaxTurns, t.Status, t.GoalAchieved, t.GoalSummary, history, tctx,
		personaID, t.CreatedAt, t.LastActivityAt, nil, t.ForceClosed)
	return err
}

func (s *PGThreadStore) Update(ctx context.Context, t *store.ThreadData) error {
	history, _ := json.Marshal(t.History)
	tctx, _ := json.Marshal(t.Context)
	var completedAt any
	if t.CompletedAt != nil {
		completedAt = *t.CompletedAt
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversation_threads SET current_turn = $2, status = $3,
		   goal_achieved = $4, goal_summary = $5, history = $6, context = $7,
		   last_activity_at = $8, completed_at = $9, force_closed = $10
		 WHERE id = $1`,
		t.ID, t.CurrentTurn, t.Status, t.GoalAchieved, t.GoalSummary,
		history, tctx, t.LastActivityAt, completedAt, t.ForceClosed)
	return err
}

func (s *PGThreadStore) FindActiveByRecipient(ctx context.Context, tenantID uuid.UUID, candidates []string) (*store.ThreadData, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+threadCols+` FROM conversation_threads
		 WHERE tenant_id = $1 AND status = 'active' AND recipient = ANY($2)
		 ORDER BY last_activity_at DESC LIMIT 1`,
		tenantID, pgTextArray(candidates))
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *PGThreadStore) LastClosedForSender(ctx context.Context, tenantID uuid.UUID, candidates []string) (*store.ThreadData, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+threadCols+` FROM conversation_threads
		 WHERE tenant_id = $1 AND status <> 'active' AND recipient = ANY($2)
		 ORDER BY completed_at DESC NULLS LAST LIMIT 1`,
		tenantID, pgTextArray(candidates))
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *PGThreadStore) ExpireInactive(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversation_threads
		 SET status = 'timeout', completed_at = now()
		 WHERE status = 'active' AND last_activity_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// pgTextArray renders a []string as a Postgres text[] literal for ANY().
func pgTextArray(vals []string) string {
	out := "{"
	for i, v := range vals {
		if i > 0 {
			out += ","
		}
		out += `"` + escapePGArrayElem(v) + `"`
	}
	return out + "}"
}

func escapePGArrayElem(v string) string {
	var b []byte
	for i := 0; i < len(v); i++ {
		if v[i] == '"' || v[i] == '\\' {
			b = append(b, '\\')
		}
		b = append(b, v[i])
	}
	return string(b)
}
