package pg

import (
	"database/sql"

	"github.com/ligolabs/ligo/internal/secrets"
	"github.com/ligolabs/ligo/internal/store"
)

// NewStores wires every Postgres-backed store over one shared pool.
// box may be nil when no encryption key is configured.
func NewStores(db *sql.DB, box *secrets.Box) *store.Stores {
	return &store.Stores{
		Agents:      NewPGAgentStore(db),
		Contacts:    NewPGContactStore(db),
		Sessions:    NewPGSessionStore(db),
		Messages:    NewPGMessageStore(db),
		Runs:        NewPGRunStore(db),
		Threads:     NewPGThreadStore(db),
		Facts:       NewPGFactStore(db),
		Knowledge:   NewPGKnowledgeStore(db),
		Memory:      NewPGMemoryStore(db),
		Tools:       NewPGToolStore(db),
		Usage:       NewPGUsageStore(db),
		Instances:   NewPGInstanceStore(db),
		Credentials: NewPGCredentialStore(db, box),
	}
}
