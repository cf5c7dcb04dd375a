package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// PGContactStore implements store.ContactStore.
type PGContactStore struct {
	db *sql.DB
}

func NewPGContactStore(db *sql.DB) *PGContactStore {
	return &PGContactStore{db: db}
}

const contactCols = `id, tenant_id, name, role, active, channel_ids, agent_id, created_at`

func scanContact(row interface{ Scan(...any) error }) (*store.ContactData, error) {
	var c store.ContactData
	var channelIDs []byte
	var agentID sql.NullString
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Role, &c.Active, &channelIDs, &agentID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.ChannelIDs = map[string]string{}
	json.Unmarshal(channelIDs, &c.ChannelIDs)
	if agentID.Valid {
		if id, err := uuid.Parse(agentID.String); err == nil {
			c.AgentID = &id
		}
	}
	return &c, nil
}

func (s *PGContactStore) GetByID(ctx context.Context, id uuid.UUID) (*store.ContactData, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contactCols+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *PGContactStore) LookupChannelID(ctx context.Context, tenantID uuid.UUID, idType, identifier string) (*store.ContactData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColsPrefixed("c")+` FROM contacts c
		 JOIN contact_channel_ids m ON m.contact_id = c.id
		 WHERE c.tenant_id = $1 AND m.id_type = $2 AND m.identifier = $3
		 LIMIT 1`,
		tenantID, idType, identifier)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func contactColsPrefixed(p string) string {
	return p + ".id, " + p + ".tenant_id, " + p + ".name, " + p + ".role, " +
		p + ".active, " + p + ".channel_ids, " + p + ".agent_id, " + p + ".created_at"
}

func (s *PGContactStore) GetByName(ctx context.Context, tenantID uuid.UUID, name string) (*store.ContactData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactCols+` FROM contacts
		 WHERE tenant_id = $1 AND lower(name) = lower($2) AND active LIMIT 1`,
		tenantID, name)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *PGContactStore) Create(ctx context.Context, c *store.ContactData) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.Must(uuid.NewV7())
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	channelIDs, _ := json.Marshal(c.ChannelIDs)
	var agentID any
	if c.AgentID != nil {
		agentID = *c.AgentID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, tenant_id, name, role, active, channel_ids, agent_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.TenantID, c.Name, c.Role, c.Active, channelIDs, agentID, c.CreatedAt)
	if err != nil {
		return err
	}
	for idType, identifier := range c.ChannelIDs {
		if err := s.AddChannelID(ctx, c.ID, idType, identifier); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGContactStore) AddChannelID(ctx context.Context, contactID uuid.UUID, idType, identifier string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contact_channel_ids (contact_id, id_type, identifier)
		 VALUES ($1,$2,$3) ON CONFLICT (contact_id, id_type) DO UPDATE SET identifier = $3`,
		contactID, idType, identifier)
	if err != nil {
		return err
	}
	// Keep the denormalized JSON column in sync for fast directory reads.
	_, err = s.db.ExecContext(ctx,
		`UPDATE contacts SET channel_ids = channel_ids || jsonb_build_object($2::text, $3::text)
		 WHERE id = $1`, contactID, idType, identifier)
	return err
}

func (s *PGContactStore) ListActive(ctx context.Context, tenantID uuid.UUID) ([]*store.ContactData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactCols+` FROM contacts WHERE tenant_id = $1 AND active ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*store.ContactData
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (s *PGContactStore) MappedAgent(ctx context.Context, contactID uuid.UUID) (*uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id FROM contact_agent_mappings WHERE contact_id = $1 LIMIT 1`,
		contactID).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}
