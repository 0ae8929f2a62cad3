package assignment

import (
	"context"
	"database/sql"
	"testing"

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
		CREATE TABLE hierarchy_assignments (
			dimension TEXT NOT NULL,
			scope_key TEXT NOT NULL,
			node_ids TEXT NOT NULL DEFAULT '[]',
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (dimension, scope_key)
		)
	`)
	require.NoError(t, err)
	return db
}

func TestSQLBackendUpsert(t *testing.T) {
	backend := NewSQLBackend(setupTestDB(t))
	ctx := context.Background()

	rec, err := backend.Upsert(ctx, DimensionRole, "TENANT_ADMIN", []string{"billing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"billing"}, rec.NodeIDs)

	// The second upsert replaces the set in place; still one row.
	_, err = backend.Upsert(ctx, DimensionRole, "TENANT_ADMIN", []string{"cms", "erp"})
	require.NoError(t, err)

	got, err := backend.Get(ctx, DimensionRole, "TENANT_ADMIN")
	require.NoError(t, err)
	assert.Equal(t, []string{"cms", "erp"}, got.NodeIDs)

	records, err := backend.List(ctx, DimensionRole)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSQLBackendGetMissing(t *testing.T) {
	backend := NewSQLBackend(setupTestDB(t))

	rec, err := backend.Get(context.Background(), DimensionUser, "ghost")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSQLBackendRemove(t *testing.T) {
	backend := NewSQLBackend(setupTestDB(t))
	ctx := context.Background()

	_, err := backend.Upsert(ctx, DimensionDomain, "acme.example.com", []string{"billing"})
	require.NoError(t, err)

	require.NoError(t, backend.Remove(ctx, DimensionDomain, "acme.example.com"))
	rec, err := backend.Get(ctx, DimensionDomain, "acme.example.com")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, backend.Remove(ctx, DimensionDomain, "acme.example.com"))
}

func TestSQLBackendRemoveNodeRefs(t *testing.T) {
	backend := NewSQLBackend(setupTestDB(t))
	ctx := context.Background()

	_, err := backend.Upsert(ctx, DimensionRole, "TENANT_ADMIN", []string{"billing", "cms"})
	require.NoError(t, err)
	_, err = backend.Upsert(ctx, DimensionBilling, "acct-7", []string{"billing"})
	require.NoError(t, err)
	_, err = backend.Upsert(ctx, DimensionUser, "user-1", []string{"cms"})
	require.NoError(t, err)

	require.NoError(t, backend.RemoveNodeRefs(ctx, []string{"billing"}))

	rec, err := backend.Get(ctx, DimensionRole, "TENANT_ADMIN")
	require.NoError(t, err)
	assert.Equal(t, []string{"cms"}, rec.NodeIDs)

	rec, err = backend.Get(ctx, DimensionBilling, "acct-7")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Untouched records survive as they were.
	rec, err = backend.Get(ctx, DimensionUser, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cms"}, rec.NodeIDs)
}

func TestSQLBackendListOrder(t *testing.T) {
	backend := NewSQLBackend(setupTestDB(t))
	ctx := context.Background()

	_, err := backend.Upsert(ctx, DimensionRole, "beta", []string{"cms"})
	require.NoError(t, err)
	_, err = backend.Upsert(ctx, DimensionRole, "alpha", []string{"billing"})
	require.NoError(t, err)

	records, err := backend.List(ctx, DimensionRole)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alpha", records[0].ScopeKey)
	assert.Equal(t, "beta", records[1].ScopeKey)
}
