package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one SQLite file per collection under baseDir and
// searches with brute-force cosine distance. Handles are process-wide
// singletons per collection path; SQLite tolerates one writer per file.
type SQLiteStore struct {
	baseDir string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewSQLiteStore(baseDir string) *SQLiteStore {
	return &SQLiteStore{baseDir: baseDir, dbs: make(map[string]*sql.DB)}
}

func (s *SQLiteStore) collectionDB(collection string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[collection]; ok {
		return db, nil
	}
	dir := filepath.Join(s.baseDir, sanitizeCollection(collection))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vector: mkdir %s: %w", dir, err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "vectors.db"))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS vectors (
		id TEXT PRIMARY KEY,
		embedding TEXT NOT NULL,
		metadata TEXT,
		body TEXT
	)`); err != nil {
		db.Close()
		return nil, err
	}
	s.dbs[collection] = db
	return db, nil
}

func sanitizeCollection(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (s *SQLiteStore) Upsert(ctx context.Context, collection string, entries []Entry) error {
	db, err := s.collectionDB(collection)
	if err != nil {
		return err
	}
	for start := 0; start < len(entries); start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := s.upsertBatch(ctx, db, entries[start:end]); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) upsertBatch(ctx context.Context, db *sql.DB, batch []Entry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range batch {
		emb, err := json.Marshal(e.Vector)
		if err != nil {
			return err
		}
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vectors (id, embedding, metadata, body) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET embedding = ?, metadata = ?, body = ?`,
			e.ID, emb, meta, e.Text, emb, meta, e.Text); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Search(ctx context.Context, collection string, query []float32, k int, filter map[string]string) ([]Result, error) {
	db, err := s.collectionDB(collection)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, embedding, metadata, body FROM vectors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Result
	for rows.Next() {
		var id, body string
		var embText, metaText []byte
		if err := rows.Scan(&id, &embText, &metaText, &body); err != nil {
			return nil, err
		}
		var meta map[string]string
		json.Unmarshal(metaText, &meta)
		if !matchesFilter(meta, filter) {
			continue
		}
		var emb []float32
		if err := json.Unmarshal(embText, &emb); err != nil || len(emb) == 0 {
			continue
		}
		hits = append(hits, Result{
			ID:       id,
			Metadata: meta,
			Text:     body,
			Distance: 1 - cosine(query, emb),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *SQLiteStore) DeleteWhere(ctx context.Context, collection string, filter map[string]string) error {
	db, err := s.collectionDB(collection)
	if err != nil {
		return err
	}
	if len(filter) == 0 {
		_, err := db.ExecContext(ctx, `DELETE FROM vectors`)
		return err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, metadata FROM vectors`)
	if err != nil {
		return err
	}
	var doomed []string
	for rows.Next() {
		var id string
		var metaText []byte
		if err := rows.Scan(&id, &metaText); err != nil {
			rows.Close()
			return err
		}
		var meta map[string]string
		json.Unmarshal(metaText, &meta)
		if matchesFilter(meta, filter) {
			doomed = append(doomed, id)
		}
	}
	rows.Close()
	for _, id := range doomed {
		if _, err := db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	db, err := s.collectionDB(collection)
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT count(*) FROM vectors`).Scan(&n)
	return n, err
}

// Close releases every open collection handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for name, db := range s.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.dbs, name)
	}
	return first
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
