package upgrade

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// A data hook runs Go code right after the SQL migration for its schema
// version, for backfills that plain SQL cannot express. Hooks are
// registered in init (see hooks.go) and tracked by name in the
// data_migrations table so re-running migrate is safe.
type dataHook struct {
	version uint
	name    string
	run     func(ctx context.Context, db *sql.DB) error
}

var dataHooks []dataHook

// RegisterDataHook queues a hook for the given schema version. Names
// must be unique; hooks sharing a version run in registration order.
func RegisterDataHook(version uint, name string, run func(ctx context.Context, db *sql.DB) error) {
	dataHooks = append(dataHooks, dataHook{version: version, name: name, run: run})
}

// PendingHooks lists registered hooks that have not been applied.
func PendingHooks(ctx context.Context, db *sql.DB) ([]string, error) {
	applied, err := appliedHooks(ctx, db)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, h := range dataHooks {
		if !applied[h.name] {
			pending = append(pending, h.name)
		}
	}
	return pending, nil
}

// RunPendingHooks applies every unapplied hook and returns how many ran.
// A failing hook stops the walk; already-applied hooks stay recorded, so
// the next migrate resumes where this one stopped.
func RunPendingHooks(ctx context.Context, db *sql.DB) (int, error) {
	applied, err := appliedHooks(ctx, db)
	if err != nil {
		return 0, err
	}
	ran := 0
	for _, h := range dataHooks {
		if applied[h.name] {
			continue
		}
		slog.Info("data hook start", "hook", h.name, "schema", h.version)
		start := time.Now()
		if err := h.run(ctx, db); err != nil {
			return ran, fmt.Errorf("data hook %s: %w", h.name, err)
		}
		if err := markHookApplied(ctx, db, h); err != nil {
			return ran, err
		}
		slog.Info("data hook done", "hook", h.name, "took", time.Since(start))
		ran++
	}
	return ran, nil
}

func appliedHooks(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS data_migrations (
			name       VARCHAR(255) PRIMARY KEY,
			version    INT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return nil, fmt.Errorf("ensure data_migrations: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT name FROM data_migrations")
	if err != nil {
		return nil, fmt.Errorf("read data_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func markHookApplied(ctx context.Context, db *sql.DB, h dataHook) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO data_migrations (name, version, applied_at) VALUES ($1, $2, NOW())",
		h.name, h.version)
	if err != nil {
		return fmt.Errorf("record data hook %s: %w", h.name, err)
	}
	return nil
}
