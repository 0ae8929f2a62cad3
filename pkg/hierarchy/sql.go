package hierarchy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLStore persists the forest in a relational database. The parent edge is
// the source of truth: children are derived from parent_id ordered by an
// insertion counter, so bidirectional consistency holds by construction.
// Queries use $N placeholders and run against Postgres in production and
// in-memory SQLite in tests.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store over an existing database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const nodeColumns = `id, name, node_type, parent_id, description, is_active, allowed_roles, allowed_tenants, created_at, updated_at`

// CreateNode implements Store.CreateNode.
func (s *SQLStore) CreateNode(ctx context.Context, node *Node) (*Node, error) {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if err := ValidateID(node.ID); err != nil {
		return nil, err
	}
	if node.Name == "" {
		return nil, fmt.Errorf("%w: node name is required", ErrInvalidArgument)
	}
	if _, err := ParseNodeType(string(node.Type)); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM hierarchy_nodes WHERE id = $1)`, node.ID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check node id: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, node.ID)
	}

	var parentID interface{}
	if node.ParentID != "" {
		var parentExists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM hierarchy_nodes WHERE id = $1)`, node.ParentID,
		).Scan(&parentExists); err != nil {
			return nil, fmt.Errorf("failed to check parent: %w", err)
		}
		if !parentExists {
			return nil, fmt.Errorf("%w: parent %s", ErrNotFound, node.ParentID)
		}
		parentID = node.ParentID
	}

	rolesJSON, err := json.Marshal(nonNil(node.AllowedRoles))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal allowed roles: %w", err)
	}
	tenantsJSON, err := json.Marshal(nonNil(node.AllowedTenants))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal allowed tenants: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO hierarchy_nodes (id, name, node_type, parent_id, description, is_active, allowed_roles, allowed_tenants, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM hierarchy_nodes), $9, $10)
	`, node.ID, node.Name, string(node.Type), parentID, node.Description,
		node.IsActive, string(rolesJSON), string(tenantsJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert node: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetNode(ctx, node.ID)
}

// GetNode implements Store.GetNode.
func (s *SQLStore) GetNode(ctx context.Context, id string) (*Node, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM hierarchy_nodes WHERE id = $1`, id)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	if err := s.fillChildren(ctx, node); err != nil {
		return nil, err
	}
	return node, nil
}

// GetChildren implements Store.GetChildren.
func (s *SQLStore) GetChildren(ctx context.Context, parentID string) ([]*Node, error) {
	if err := ValidateID(parentID); err != nil {
		return nil, err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM hierarchy_nodes WHERE id = $1)`, parentID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check parent: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parentID)
	}
	return s.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM hierarchy_nodes WHERE parent_id = $1 ORDER BY position`, parentID)
}

// UpdateNode implements Store.UpdateNode.
func (s *SQLStore) UpdateNode(ctx context.Context, id string, upd NodeUpdate) (*Node, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if upd.Type != nil {
		if _, err := ParseNodeType(string(*upd.Type)); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM hierarchy_nodes WHERE id = $1`, id)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	if upd.Name != nil {
		node.Name = *upd.Name
	}
	if upd.Type != nil {
		node.Type = *upd.Type
	}
	if upd.Description != nil {
		node.Description = *upd.Description
	}
	if upd.IsActive != nil {
		node.IsActive = *upd.IsActive
	}
	if upd.AllowedRoles != nil {
		node.AllowedRoles = append([]string(nil), (*upd.AllowedRoles)...)
	}
	if upd.AllowedTenants != nil {
		node.AllowedTenants = append([]string(nil), (*upd.AllowedTenants)...)
	}

	if err := writeNode(ctx, tx, node); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetNode(ctx, id)
}

// DeleteNode implements Store.DeleteNode. The subtree is collected with a
// recursive CTE and removed in one transaction; the removed ids are
// returned target-first for assignment cleanup.
func (s *SQLStore) DeleteNode(ctx context.Context, id string) ([]string, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM hierarchy_nodes WHERE id = $1
			UNION ALL
			SELECT n.id FROM hierarchy_nodes n JOIN subtree s ON n.parent_id = s.id
		)
		SELECT id FROM subtree
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to collect subtree: %w", err)
	}
	var removed []string
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan subtree id: %w", err)
		}
		removed = append(removed, rid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtree: %w", err)
	}
	if len(removed) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	// Delete leaves-first so the self-referencing FK never dangles.
	for i := len(removed) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM hierarchy_nodes WHERE id = $1`, removed[i]); err != nil {
			return nil, fmt.Errorf("failed to delete node %s: %w", removed[i], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return removed, nil
}

// GetRoots implements Store.GetRoots.
func (s *SQLStore) GetRoots(ctx context.Context, rootType NodeType) ([]*Node, error) {
	if _, err := ParseNodeType(string(rootType)); err != nil {
		return nil, err
	}
	return s.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM hierarchy_nodes WHERE parent_id IS NULL AND node_type = $1 ORDER BY position`,
		string(rootType))
}

// ListNodes implements Store.ListNodes.
func (s *SQLStore) ListNodes(ctx context.Context) ([]*Node, error) {
	return s.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM hierarchy_nodes ORDER BY position`)
}

// Count implements Store.Count.
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hierarchy_nodes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// Reparent implements Store.Reparent.
func (s *SQLStore) Reparent(ctx context.Context, id, newParentID string) (*Node, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if newParentID != "" {
		if err := ValidateID(newParentID); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM hierarchy_nodes WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check node: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var parentID interface{}
	if newParentID != "" {
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM hierarchy_nodes WHERE id = $1)`, newParentID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check parent: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: parent %s", ErrNotFound, newParentID)
		}

		// The new parent's ancestor chain must not contain the node being
		// moved.
		var cycles int
		if err := tx.QueryRowContext(ctx, `
			WITH RECURSIVE ancestors(id, parent_id) AS (
				SELECT id, parent_id FROM hierarchy_nodes WHERE id = $1
				UNION ALL
				SELECT n.id, n.parent_id FROM hierarchy_nodes n JOIN ancestors a ON n.id = a.parent_id
			)
			SELECT COUNT(*) FROM ancestors WHERE id = $2
		`, newParentID, id).Scan(&cycles); err != nil {
			return nil, fmt.Errorf("failed to check ancestry: %w", err)
		}
		if cycles > 0 {
			return nil, fmt.Errorf("%w: %s under %s", ErrCycle, id, newParentID)
		}
		parentID = newParentID
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE hierarchy_nodes SET parent_id = $1, updated_at = $2 WHERE id = $3`,
		parentID, time.Now().UTC(), id); err != nil {
		return nil, fmt.Errorf("failed to reparent node: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetNode(ctx, id)
}

// Toggle implements Store.Toggle.
func (s *SQLStore) Toggle(ctx context.Context, id string) (*Node, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE hierarchy_nodes SET is_active = NOT is_active, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle node: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read toggle result: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.GetNode(ctx, id)
}

// AssignRole implements Store.AssignRole.
func (s *SQLStore) AssignRole(ctx context.Context, id, role string) (*Node, error) {
	return s.editList(ctx, id, role, func(n *Node, v string) {
		if !n.HasRole(v) {
			n.AllowedRoles = append(n.AllowedRoles, v)
		}
	})
}

// UnassignRole implements Store.UnassignRole.
func (s *SQLStore) UnassignRole(ctx context.Context, id, role string) (*Node, error) {
	return s.editList(ctx, id, role, func(n *Node, v string) {
		n.AllowedRoles = removeID(n.AllowedRoles, v)
	})
}

// AssignTenant implements Store.AssignTenant.
func (s *SQLStore) AssignTenant(ctx context.Context, id, tenant string) (*Node, error) {
	return s.editList(ctx, id, tenant, func(n *Node, v string) {
		if !n.HasTenant(v) {
			n.AllowedTenants = append(n.AllowedTenants, v)
		}
	})
}

// UnassignTenant implements Store.UnassignTenant.
func (s *SQLStore) UnassignTenant(ctx context.Context, id, tenant string) (*Node, error) {
	return s.editList(ctx, id, tenant, func(n *Node, v string) {
		n.AllowedTenants = removeID(n.AllowedTenants, v)
	})
}

func (s *SQLStore) editList(ctx context.Context, id, value string, edit func(*Node, string)) (*Node, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if value == "" {
		return nil, fmt.Errorf("%w: empty role or tenant", ErrInvalidArgument)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM hierarchy_nodes WHERE id = $1`, id)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	edit(node, value)
	if err := writeNode(ctx, tx, node); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetNode(ctx, id)
}

func (s *SQLStore) queryNodes(ctx context.Context, query string, args ...interface{}) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read nodes: %w", err)
	}
	for _, node := range nodes {
		if err := s.fillChildren(ctx, node); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

func (s *SQLStore) fillChildren(ctx context.Context, node *Node) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM hierarchy_nodes WHERE parent_id = $1 ORDER BY position`, node.ID)
	if err != nil {
		return fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()
	node.Children = nil
	for rows.Next() {
		var childID string
		if err := rows.Scan(&childID); err != nil {
			return fmt.Errorf("failed to scan child id: %w", err)
		}
		node.Children = append(node.Children, childID)
	}
	return rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func writeNode(ctx context.Context, tx execer, node *Node) error {
	rolesJSON, err := json.Marshal(nonNil(node.AllowedRoles))
	if err != nil {
		return fmt.Errorf("failed to marshal allowed roles: %w", err)
	}
	tenantsJSON, err := json.Marshal(nonNil(node.AllowedTenants))
	if err != nil {
		return fmt.Errorf("failed to marshal allowed tenants: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE hierarchy_nodes
		SET name = $1, node_type = $2, description = $3, is_active = $4,
		    allowed_roles = $5, allowed_tenants = $6, updated_at = $7
		WHERE id = $8
	`, node.Name, string(node.Type), node.Description, node.IsActive,
		string(rolesJSON), string(tenantsJSON), time.Now().UTC(), node.ID)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	return nil
}

func scanNode(scanner interface {
	Scan(dest ...interface{}) error
}) (*Node, error) {
	var node Node
	var parentID sql.NullString
	var nodeType, rolesJSON, tenantsJSON string

	err := scanner.Scan(
		&node.ID,
		&node.Name,
		&nodeType,
		&parentID,
		&node.Description,
		&node.IsActive,
		&rolesJSON,
		&tenantsJSON,
		&node.CreatedAt,
		&node.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	node.Type = NodeType(nodeType)
	if parentID.Valid {
		node.ParentID = parentID.String
	}
	if rolesJSON != "" {
		if err := json.Unmarshal([]byte(rolesJSON), &node.AllowedRoles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal allowed roles: %w", err)
		}
	}
	if tenantsJSON != "" {
		if err := json.Unmarshal([]byte(tenantsJSON), &node.AllowedTenants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal allowed tenants: %w", err)
		}
	}
	return &node, nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
