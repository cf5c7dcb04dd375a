package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// PGMemoryStore persists working-memory rings so the ring survives a
// restart. One row per (agent, memory key); the entries column is the
// whole ring as JSONB.
type PGMemoryStore struct {
	db *sql.DB
}

func NewPGMemoryStore(db *sql.DB) *PGMemoryStore {
	return &PGMemoryStore{db: db}
}

func (s *PGMemoryStore) SaveRing(ctx context.Context, agentID uuid.UUID, memoryKey string, entries []store.MemoryEntry) error {
	blob, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO working_memory (agent_id, memory_key, entries, updated_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (agent_id, memory_key) DO UPDATE
		 SET entries = $3, updated_at = $4`,
		agentID, memoryKey, blob, time.Now().UTC())
	return err
}

func (s *PGMemoryStore) LoadRing(ctx context.Context, agentID uuid.UUID, memoryKey string) ([]store.MemoryEntry, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT entries FROM working_memory WHERE agent_id = $1 AND memory_key = $2`,
		agentID, memoryKey).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []store.MemoryEntry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *PGMemoryStore) DeleteRing(ctx context.Context, agentID uuid.UUID, memoryKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM working_memory WHERE agent_id = $1 AND memory_key = $2`,
		agentID, memoryKey)
	return err
}
