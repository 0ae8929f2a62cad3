package hierarchy

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE hierarchy_nodes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			node_type TEXT NOT NULL,
			parent_id TEXT REFERENCES hierarchy_nodes(id),
			description TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			allowed_roles TEXT NOT NULL DEFAULT '[]',
			allowed_tenants TEXT NOT NULL DEFAULT '[]',
			position INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	require.NoError(t, err)
	return db
}

func TestSQLStoreCreateAndGet(t *testing.T) {
	store := NewSQLStore(setupTestDB(t))
	ctx := context.Background()

	node, err := store.CreateNode(ctx, &Node{
		ID:           "billing",
		Name:         "Billing",
		Type:         TypeModule,
		IsActive:     true,
		AllowedRoles: []string{"BILLING_ADMIN"},
	})
	require.NoError(t, err)
	assert.Equal(t, "billing", node.ID)
	assert.Equal(t, []string{"BILLING_ADMIN"}, node.AllowedRoles)
	assert.Empty(t, node.Children)

	t.Run("duplicate id", func(t *testing.T) {
		_, err := store.CreateNode(ctx, &Node{ID: "billing", Name: "Again", Type: TypeModule})
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("missing parent", func(t *testing.T) {
		_, err := store.CreateNode(ctx, &Node{Name: "Orphan", Type: TypeFeature, ParentID: "nope"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("children are derived from parent edges", func(t *testing.T) {
		_, err := store.CreateNode(ctx, &Node{ID: "billing-dashboard", Name: "Dashboard", Type: TypeFeature, ParentID: "billing", IsActive: true})
		require.NoError(t, err)
		_, err = store.CreateNode(ctx, &Node{ID: "billing-invoices", Name: "Invoices", Type: TypeFeature, ParentID: "billing", IsActive: true})
		require.NoError(t, err)

		parent, err := store.GetNode(ctx, "billing")
		require.NoError(t, err)
		assert.Equal(t, []string{"billing-dashboard", "billing-invoices"}, parent.Children)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.GetNode(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLStoreCascadeDelete(t *testing.T) {
	store := NewSQLStore(setupTestDB(t))
	seedForest(t, store)
	ctx := context.Background()

	removed, err := store.DeleteNode(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, "billing", removed[0])
	assert.ElementsMatch(t,
		[]string{"billing", "billing-dashboard", "billing-invoices", "billing-invoices-export"},
		removed)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = store.DeleteNode(ctx, "billing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreReparent(t *testing.T) {
	store := NewSQLStore(setupTestDB(t))
	seedForest(t, store)
	ctx := context.Background()

	node, err := store.Reparent(ctx, "billing-invoices-export", "cms")
	require.NoError(t, err)
	assert.Equal(t, "cms", node.ParentID)

	_, err = store.Reparent(ctx, "billing", "billing-invoices")
	assert.ErrorIs(t, err, ErrCycle)

	_, err = store.Reparent(ctx, "billing", "billing")
	assert.ErrorIs(t, err, ErrCycle)

	node, err = store.Reparent(ctx, "billing-invoices-export", "")
	require.NoError(t, err)
	assert.Empty(t, node.ParentID)
}

func TestSQLStoreUpdateAndToggle(t *testing.T) {
	store := NewSQLStore(setupTestDB(t))
	seedForest(t, store)
	ctx := context.Background()

	desc := "All invoices, paid and unpaid"
	tenants := []string{"acme"}
	node, err := store.UpdateNode(ctx, "billing-invoices", NodeUpdate{
		Description:    &desc,
		AllowedTenants: &tenants,
	})
	require.NoError(t, err)
	assert.Equal(t, desc, node.Description)
	assert.Equal(t, tenants, node.AllowedTenants)
	assert.Equal(t, "Invoices", node.Name)

	node, err = store.Toggle(ctx, "billing-invoices")
	require.NoError(t, err)
	assert.False(t, node.IsActive)

	_, err = store.Toggle(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreRootsAndList(t *testing.T) {
	store := NewSQLStore(setupTestDB(t))
	seedForest(t, store)
	ctx := context.Background()

	roots, err := store.GetRoots(ctx, TypeModule)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "billing", roots[0].ID)

	nodes, err := store.ListNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 5)
	assert.Empty(t, CheckAcyclicity(nodes))
	assert.Empty(t, CheckBidirectional(nodes))
}

func TestSQLStoreAllowListEdits(t *testing.T) {
	store := NewSQLStore(setupTestDB(t))
	seedForest(t, store)
	ctx := context.Background()

	node, err := store.AssignRole(ctx, "billing-dashboard", "TENANT_ADMIN")
	require.NoError(t, err)
	assert.Equal(t, []string{"TENANT_ADMIN"}, node.AllowedRoles)

	node, err = store.AssignRole(ctx, "billing-dashboard", "TENANT_ADMIN")
	require.NoError(t, err)
	assert.Len(t, node.AllowedRoles, 1)

	node, err = store.UnassignRole(ctx, "billing-dashboard", "TENANT_ADMIN")
	require.NoError(t, err)
	assert.Empty(t, node.AllowedRoles)
}

func TestSQLStoreStorageErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(db)
	ctx := context.Background()

	t.Run("get propagates query failure", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM hierarchy_nodes WHERE id = \$1`).
			WithArgs("billing").
			WillReturnError(errors.New("connection reset"))

		_, err := store.GetNode(ctx, "billing")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	t.Run("count propagates query failure", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM hierarchy_nodes`).
			WillReturnError(errors.New("connection reset"))

		_, err := store.Count(ctx)
		require.Error(t, err)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}
