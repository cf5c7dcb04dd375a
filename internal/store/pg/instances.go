package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// PGInstanceStore implements store.InstanceStore.
type PGInstanceStore struct {
	db *sql.DB
}

func NewPGInstanceStore(db *sql.DB) *PGInstanceStore {
	return &PGInstanceStore{db: db}
}

const instanceCols = `id, tenant_id, channel, kind, api_url, api_secret,
	bot_token, is_group_handler, active, dm_auto_mode, group_allow,
	number_allow, created_at`

func scanInstance(row interface{ Scan(...any) error }) (*store.InstanceData, error) {
	var i store.InstanceData
	var groupAllow, numberAllow []byte
	err := row.Scan(&i.ID, &i.TenantID, &i.Channel, &i.Kind, &i.APIURL,
		&i.APISecret, &i.BotToken, &i.IsGroupHandler, &i.Active,
		&i.DMAutoMode, &groupAllow, &numberAllow, &i.CreatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(groupAllow, &i.GroupAllow)
	json.Unmarshal(numberAllow, &i.NumberAllow)
	return &i, nil
}

func (s *PGInstanceStore) GetByID(ctx context.Context, id uuid.UUID) (*store.InstanceData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceCols+` FROM instances WHERE id = $1`, id)
	i, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return i, err
}

func (s *PGInstanceStore) ListActive(ctx context.Context) ([]*store.InstanceData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceCols+` FROM instances WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.InstanceData
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *PGInstanceStore) FirstAgentInstance(ctx context.Context, tenantID uuid.UUID, channel string) (*store.InstanceData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceCols+` FROM instances
		 WHERE tenant_id = $1 AND channel = $2 AND active AND kind = 'AGENT'
		 ORDER BY created_at LIMIT 1`, tenantID, channel)
	i, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return i, err
}
