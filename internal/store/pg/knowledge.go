package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// PGKnowledgeStore implements store.KnowledgeStore.
type PGKnowledgeStore struct {
	db *sql.DB
}

func NewPGKnowledgeStore(db *sql.DB) *PGKnowledgeStore {
	return &PGKnowledgeStore{db: db}
}

func (s *PGKnowledgeStore) Add(ctx context.Context, k *store.KnowledgeData) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.Must(uuid.NewV7())
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	if k.AccessLevel == "" {
		k.AccessLevel = store.AccessPublic
	}
	accessibleTo, _ := json.Marshal(k.AccessibleTo)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shared_knowledge (id, tenant_id, shared_by_agent, content,
		   topic, access_level, accessible_to, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		k.ID, k.TenantID, k.SharedByAgent, k.Content, k.Topic,
		k.AccessLevel, accessibleTo, k.CreatedAt)
	return err
}

func (s *PGKnowledgeStore) VisibleTo(ctx context.Context, tenantID, agentID uuid.UUID, limit int) ([]*store.KnowledgeData, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, shared_by_agent, content, topic, access_level,
		   accessible_to, created_at
		 FROM shared_knowledge
		 WHERE tenant_id = $1 AND (
		   access_level = 'public'
		   OR (access_level = 'private' AND shared_by_agent = $2)
		   OR (access_level = 'restricted' AND accessible_to @> to_jsonb($2::text))
		 )
		 ORDER BY created_at DESC LIMIT $3`,
		tenantID, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*store.KnowledgeData
	for rows.Next() {
		var k store.KnowledgeData
		var accessibleTo []byte
		if err := rows.Scan(&k.ID, &k.TenantID, &k.SharedByAgent, &k.Content,
			&k.Topic, &k.AccessLevel, &accessibleTo, &k.CreatedAt); err != nil {
			return nil, err
		}
		json.Unmarshal(accessibleTo, &k.AccessibleTo)
		items = append(items, &k)
	}
	return items, rows.Err()
}
