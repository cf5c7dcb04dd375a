package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/secrets"
)

// PGCredentialStore resolves per-tenant provider credentials. Values are
// sealed with AES-GCM before hitting the table; Get returns plaintext.
type PGCredentialStore struct {
	db  *sql.DB
	box *secrets.Box
}

// NewPGCredentialStore builds the store. box may be nil when no
// encryption key is configured; Get then fails for every credential.
func NewPGCredentialStore(db *sql.DB, box *secrets.Box) *PGCredentialStore {
	return &PGCredentialStore{db: db, box: box}
}

func (s *PGCredentialStore) Get(ctx context.Context, tenantID uuid.UUID, provider string) (string, error) {
	var sealed string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM tenant_credentials WHERE tenant_id = $1 AND provider = $2`,
		tenantID, provider).Scan(&sealed)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("credential %s: not configured", provider)
	}
	if err != nil {
		return "", err
	}
	if s.box == nil {
		return "", fmt.Errorf("credential %s: encryption key not configured", provider)
	}
	plain, err := s.box.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("credential %s: %w", provider, err)
	}
	return plain, nil
}

// Set seals and stores a credential. Used by admin tooling and tests.
func (s *PGCredentialStore) Set(ctx context.Context, tenantID uuid.UUID, provider, value string) error {
	if s.box == nil {
		return fmt.Errorf("credential %s: encryption key not configured", provider)
	}
	sealed, err := s.box.Seal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenant_credentials (tenant_id, provider, value)
		 VALUES ($1,$2,$3)
		 ON CONFLICT (tenant_id, provider) DO UPDATE SET value = $3`,
		tenantID, provider, sealed)
	return err
}
