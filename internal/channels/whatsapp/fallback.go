package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// fallbackStore reads the MCP container's local messages.db when the
// HTTP API is unreachable. Read-only: the container owns the file.
type fallbackStore struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func newFallbackStore(path string) *fallbackStore {
	return &fallbackStore{path: path}
}

func (f *fallbackStore) open() (*sql.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db != nil {
		return f.db, nil
	}
	if f.path == "" {
		return nil, fmt.Errorf("no fallback db configured")
	}
	db, err := sql.Open("sqlite", "file:"+f.path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open fallback db: %w", err)
	}
	db.SetMaxOpenConns(1)
	f.db = db
	return db, nil
}

// MessagesSince returns inbound messages strictly newer than since, in
// timestamp order.
func (f *fallbackStore) MessagesSince(ctx context.Context, since time.Time) ([]wireMessage, error) {
	db, err := f.open()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, sender, chat_jid, COALESCE(chat_name, ''), is_group,
		       COALESCE(content, ''), timestamp, COALESCE(media_type, '')
		FROM messages
		WHERE timestamp > ? AND is_from_me = 0
		ORDER BY timestamp ASC
		LIMIT 200`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("query fallback messages: %w", err)
	}
	defer rows.Close()

	var out []wireMessage
	for rows.Next() {
		var wm wireMessage
		if err := rows.Scan(&wm.ID, &wm.Sender, &wm.ChatJID, &wm.ChatName,
			&wm.IsGroup, &wm.Body, &wm.Timestamp, &wm.MediaType); err != nil {
			return nil, fmt.Errorf("scan fallback message: %w", err)
		}
		out = append(out, wm)
	}
	return out, rows.Err()
}

func (f *fallbackStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db == nil {
		return nil
	}
	err := f.db.Close()
	f.db = nil
	return err
}
