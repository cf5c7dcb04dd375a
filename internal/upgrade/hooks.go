package upgrade

// Data migration hooks are registered here.
// Add new hooks when a schema migration requires Go-based data transformation.

import (
	"context"
	"database/sql"
)

func init() {
	// Migration 000002 adds the contact_channel_ids lookup table; the
	// identifiers already live in contacts.channel_ids jsonb and must be
	// fanned out so LookupChannelID can use the index.
	RegisterDataHook(2, "002_backfill_contact_channel_ids", func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO contact_channel_ids (contact_id, id_type, identifier)
			SELECT c.id, kv.key, kv.value
			FROM contacts c, jsonb_each_text(c.channel_ids) kv
			WHERE kv.value != ''
			ON CONFLICT (contact_id, id_type) DO NOTHING
		`)
		return err
	})
}
