package repo

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

// RunMigrations applies pending SQL migrations in lexicographic order.
// Applied file names are tracked in schema_migrations, so restarting against
// an already-migrated database is a no-op.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	if err := r.ensureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := r.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	names, err := migrationFiles(filesystem)
	if err != nil {
		return err
	}

	for _, name := range names {
		if applied[name] {
			continue
		}

		sqlBytes, err := fs.ReadFile(filesystem, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if len(sqlBytes) == 0 {
			continue
		}

		if err := r.applyMigration(ctx, name, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		r.logger.Info("applied migration", "name", name)
	}

	return nil
}

func (r *PostgresRepository) ensureMigrationTable(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	if _, err := r.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func (r *PostgresRepository) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT name FROM schema_migrations;`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	return applied, nil
}

// applyMigration runs the migration and records its name in one transaction,
// so a failed statement leaves no trace in schema_migrations.
func (r *PostgresRepository) applyMigration(ctx context.Context, name, sql string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1);`, name)
		return err
	})
}

// migrationFiles lists the .sql entries of the migrations filesystem sorted
// lexicographically.
func migrationFiles(filesystem fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(filesystem, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
