package hierarchy

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the hierarchy schema migrations (Postgres DDL).
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create hierarchy_nodes table",
			SQL: `
				CREATE TABLE IF NOT EXISTS hierarchy_nodes (
					id VARCHAR(128) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					node_type VARCHAR(32) NOT NULL,
					parent_id VARCHAR(128) REFERENCES hierarchy_nodes(id) ON DELETE CASCADE,
					description TEXT NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					allowed_roles TEXT NOT NULL DEFAULT '[]',
					allowed_tenants TEXT NOT NULL DEFAULT '[]',
					position BIGINT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_hierarchy_nodes_parent_id ON hierarchy_nodes(parent_id);
				CREATE INDEX idx_hierarchy_nodes_node_type ON hierarchy_nodes(node_type);
				CREATE INDEX idx_hierarchy_nodes_position ON hierarchy_nodes(position);
			`,
		},
	}
}

// RunMigrations executes all pending hierarchy migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS hierarchy_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM hierarchy_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO hierarchy_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}
	return nil
}
