package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// PGMessageStore implements store.MessageStore. The (tenant_id,
// external_id) unique index is what makes message processing idempotent
// across polling cycles and restarts.
type PGMessageStore struct {
	db *sql.DB
}

func NewPGMessageStore(db *sql.DB) *PGMessageStore {
	return &PGMessageStore{db: db}
}

func (s *PGMessageStore) UpsertObserved(ctx context.Context, m *store.MessageData) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, tenant_id, external_id, sender, chat_id, body,
		   is_group, channel, media_type, ts, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (tenant_id, external_id) DO NOTHING`,
		m.ID, m.TenantID, m.ExternalID, m.Sender, m.ChatID, m.Body,
		m.IsGroup, m.Channel, m.MediaType, m.Timestamp, m.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
