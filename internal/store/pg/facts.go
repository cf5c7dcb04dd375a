package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// PGFactStore implements store.FactStore.
type PGFactStore struct {
	db *sql.DB
}

func NewPGFactStore(db *sql.DB) *PGFactStore {
	return &PGFactStore{db: db}
}

const factCols = `id, tenant_id, agent_id, user_key, topic, key, value, confidence, repeat_count, learned_at, updated_at`

func (s *PGFactStore) Get(ctx context.Context, agentID uuid.UUID, userKey, topic, key string) (*store.FactData, error) {
	var f store.FactData
	err := s.db.QueryRowContext(ctx,
		`SELECT `+factCols+` FROM facts
		 WHERE agent_id = $1 AND user_key = $2 AND topic = $3 AND key = $4`,
		agentID, userKey, topic, key).
		Scan(&f.ID, &f.TenantID, &f.AgentID, &f.UserKey, &f.Topic, &f.Key,
			&f.Value, &f.Confidence, &f.RepeatCount, &f.LearnedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PGFactStore) Upsert(ctx context.Context, f *store.FactData) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	if f.LearnedAt.IsZero() {
		f.LearnedAt = now
	}
	f.UpdatedAt = now
	if f.RepeatCount <= 0 {
		f.RepeatCount = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (`+factCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (agent_id, user_key, topic, key) DO UPDATE
		 SET value = $7, confidence = $8, repeat_count = $9, updated_at = $11`,
		f.ID, f.TenantID, f.AgentID, f.UserKey, f.Topic, f.Key,
		f.Value, f.Confidence, f.RepeatCount, f.LearnedAt, f.UpdatedAt)
	return err
}

func (s *PGFactStore) ListForUser(ctx context.Context, agentID uuid.UUID, userKey string) ([]*store.FactData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factCols+` FROM facts
		 WHERE agent_id = $1 AND user_key = $2
		 ORDER BY topic, confidence DESC`, agentID, userKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []*store.FactData
	for rows.Next() {
		var f store.FactData
		if err := rows.Scan(&f.ID, &f.TenantID, &f.AgentID, &f.UserKey, &f.Topic,
			&f.Key, &f.Value, &f.Confidence, &f.RepeatCount, &f.LearnedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		facts = append(facts, &f)
	}
	return facts, rows.Err()
}

func (s *PGFactStore) DeleteForUser(ctx context.Context, agentID uuid.UUID, userKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM facts WHERE agent_id = $1 AND user_key = $2`, agentID, userKey)
	return err
}

func (s *PGFactStore) Decay(ctx context.Context, olderThan time.Time, factor, floor float64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE facts SET confidence = GREATEST(confidence * $2, 0)
		 WHERE updated_at < $1 AND confidence > $3`, olderThan, factor, floor)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM facts WHERE confidence < $1 AND updated_at < $2`,
		floor, olderThan.AddDate(0, 0, -23)); err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
