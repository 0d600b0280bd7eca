package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
)

// Migrate applies every *.sql file in fsys that is not yet recorded in
// schema_migrations, in lexical order, inside one transaction. The tenant
// schema carried by ctx (if any) is the target.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) ([]string, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	var applied []string
	err = db.WithTx(ctx, func(ctx context.Context) error {
		tx := txFromContext(ctx)

		// Replicas starting together queue here instead of racing.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('schema_migrations'))`); err != nil {
			return fmt.Errorf("failed to lock migrations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
			return fmt.Errorf("failed to create schema_migrations: %w", err)
		}

		var done []string
		if err := tx.SelectContext(ctx, &done, `SELECT version FROM schema_migrations`); err != nil {
			return fmt.Errorf("failed to read schema_migrations: %w", err)
		}
		seen := make(map[string]bool, len(done))
		for _, v := range done {
			seen[v] = true
		}

		for _, name := range names {
			if seen[name] {
				continue
			}
			body, err := fs.ReadFile(fsys, name)
			if err != nil {
				return fmt.Errorf("failed to read migration %s: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return fmt.Errorf("migration %s failed: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", name, err)
			}
			applied = append(applied, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(applied) > 0 {
		db.log.Info().Strs("migrations", applied).Msg("database migrations applied")
	}
	return applied, nil
}
