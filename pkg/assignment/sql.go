package assignment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLBackend persists assignment records with one row per (dimension,
// scope key), upserted atomically so the one-record-per-key invariant
// never needs a client-side read-modify-write.
type SQLBackend struct {
	db *sql.DB
}

// NewSQLBackend creates a backend over an existing database handle.
func NewSQLBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

// Upsert implements Backend.Upsert.
func (b *SQLBackend) Upsert(ctx context.Context, dim Dimension, scopeKey string, nodeIDs []string) (*Record, error) {
	idsJSON, err := json.Marshal(nodeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node ids: %w", err)
	}
	now := time.Now().UTC()
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO hierarchy_assignments (dimension, scope_key, node_ids, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dimension, scope_key)
		DO UPDATE SET node_ids = EXCLUDED.node_ids, updated_at = EXCLUDED.updated_at
	`, string(dim), scopeKey, string(idsJSON), now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert assignment: %w", err)
	}
	return &Record{
		Dimension: dim,
		ScopeKey:  scopeKey,
		NodeIDs:   append([]string(nil), nodeIDs...),
		UpdatedAt: now,
	}, nil
}

// Get implements Backend.Get.
func (b *SQLBackend) Get(ctx context.Context, dim Dimension, scopeKey string) (*Record, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT dimension, scope_key, node_ids, updated_at
		FROM hierarchy_assignments
		WHERE dimension = $1 AND scope_key = $2
	`, string(dim), scopeKey)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return rec, nil
}

// Remove implements Backend.Remove.
func (b *SQLBackend) Remove(ctx context.Context, dim Dimension, scopeKey string) error {
	_, err := b.db.ExecContext(ctx, `
		DELETE FROM hierarchy_assignments WHERE dimension = $1 AND scope_key = $2
	`, string(dim), scopeKey)
	if err != nil {
		return fmt.Errorf("failed to remove assignment: %w", err)
	}
	return nil
}

// List implements Backend.List.
func (b *SQLBackend) List(ctx context.Context, dim Dimension) ([]*Record, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT dimension, scope_key, node_ids, updated_at
		FROM hierarchy_assignments
		WHERE dimension = $1
		ORDER BY scope_key
	`, string(dim))
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RemoveNodeRefs implements Backend.RemoveNodeRefs. Records are rewritten
// in one transaction; records left with no node refs are deleted.
func (b *SQLBackend) RemoveNodeRefs(ctx context.Context, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	gone := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		gone[id] = true
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT dimension, scope_key, node_ids, updated_at FROM hierarchy_assignments`)
	if err != nil {
		return fmt.Errorf("failed to scan assignments: %w", err)
	}
	var dirty []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan assignment: %w", err)
		}
		kept := rec.NodeIDs[:0]
		changed := false
		for _, id := range rec.NodeIDs {
			if gone[id] {
				changed = true
				continue
			}
			kept = append(kept, id)
		}
		if changed {
			rec.NodeIDs = kept
			dirty = append(dirty, rec)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read assignments: %w", err)
	}

	for _, rec := range dirty {
		if len(rec.NodeIDs) == 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM hierarchy_assignments WHERE dimension = $1 AND scope_key = $2`,
				string(rec.Dimension), rec.ScopeKey); err != nil {
				return fmt.Errorf("failed to delete emptied assignment: %w", err)
			}
			continue
		}
		idsJSON, err := json.Marshal(rec.NodeIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal node ids: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE hierarchy_assignments SET node_ids = $1, updated_at = $2
			WHERE dimension = $3 AND scope_key = $4
		`, string(idsJSON), time.Now().UTC(), string(rec.Dimension), rec.ScopeKey); err != nil {
			return fmt.Errorf("failed to rewrite assignment: %w", err)
		}
	}
	return tx.Commit()
}

func scanRecord(scanner interface {
	Scan(dest ...interface{}) error
}) (*Record, error) {
	var rec Record
	var dim, idsJSON string
	if err := scanner.Scan(&dim, &rec.ScopeKey, &idsJSON, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Dimension = Dimension(dim)
	if idsJSON != "" {
		if err := json.Unmarshal([]byte(idsJSON), &rec.NodeIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node ids: %w", err)
		}
	}
	return &rec, nil
}

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the assignment schema migrations (Postgres DDL).
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create hierarchy_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS hierarchy_assignments (
					dimension VARCHAR(16) NOT NULL,
					scope_key VARCHAR(255) NOT NULL,
					node_ids TEXT NOT NULL DEFAULT '[]',
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (dimension, scope_key)
				);
			`,
		},
	}
}

// RunMigrations executes all pending assignment migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS assignment_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM assignment_migrations ORDER BY version")
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
			"INSERT INTO assignment_migrations (version, description) VALUES ($1, $2)",
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
