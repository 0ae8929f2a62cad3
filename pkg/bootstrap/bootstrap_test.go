package bootstrap

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternhq/lantern/pkg/hierarchy"
	"github.com/lanternhq/lantern/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestEmbeddedCatalog(t *testing.T) {
	catalog, err := EmbeddedCatalog()
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Version)
	assert.NotEmpty(t, catalog.Nodes)
	for _, root := range catalog.Nodes {
		assert.Equal(t, "module", root.Type, "root %q must be a module", root.ID)
	}
}

func TestParseCatalog(t *testing.T) {
	t.Run("rejects missing version", func(t *testing.T) {
		_, err := ParseCatalog([]byte("nodes:\n  - id: a\n    name: A\n    type: module\n"))
		assert.ErrorContains(t, err, "version")
	})

	t.Run("rejects empty catalog", func(t *testing.T) {
		_, err := ParseCatalog([]byte("version: 1\n"))
		assert.ErrorContains(t, err, "no nodes")
	})

	t.Run("rejects duplicate ids across levels", func(t *testing.T) {
		doc := `
version: 1
nodes:
  - id: billing
    name: Billing
    type: module
    children:
      - id: billing
        name: Billing Again
        type: feature
`
		_, err := ParseCatalog([]byte(doc))
		assert.ErrorContains(t, err, "appears twice")
	})

	t.Run("rejects unknown node types", func(t *testing.T) {
		doc := `
version: 1
nodes:
  - id: billing
    name: Billing
    type: gadget
`
		_, err := ParseCatalog([]byte(doc))
		assert.Error(t, err)
	})

	t.Run("rejects nameless nodes", func(t *testing.T) {
		doc := `
version: 1
nodes:
  - id: billing
    type: module
`
		_, err := ParseCatalog([]byte(doc))
		assert.ErrorContains(t, err, "no name")
	})
}

func TestLoadSeedsEmptyStore(t *testing.T) {
	ctx := context.Background()
	store := hierarchy.NewMemoryStore()

	require.NoError(t, Load(ctx, store, testLogger()))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Greater(t, count, int64(0))

	catalog, err := EmbeddedCatalog()
	require.NoError(t, err)

	var verify func(nodes []SeedNode, parentID string)
	verify = func(nodes []SeedNode, parentID string) {
		for _, sn := range nodes {
			node, err := store.GetNode(ctx, sn.ID)
			require.NoError(t, err, "seed node %q missing", sn.ID)
			assert.Equal(t, sn.Name, node.Name)
			assert.Equal(t, parentID, node.ParentID)
			assert.Equal(t, !sn.Inactive, node.IsActive)
			verify(sn.Children, sn.ID)
		}
	}
	verify(catalog.Nodes, "")

	nodes, err := store.ListNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, hierarchy.CheckAcyclicity(nodes))
	assert.Empty(t, hierarchy.CheckBidirectional(nodes))
}

func TestLoadSkipsPopulatedStore(t *testing.T) {
	ctx := context.Background()
	store := hierarchy.NewMemoryStore()
	_, err := store.CreateNode(ctx, &hierarchy.Node{
		ID:       "custom-root",
		Name:     "Custom Root",
		Type:     hierarchy.TypeModule,
		IsActive: true,
	})
	require.NoError(t, err)

	require.NoError(t, Load(ctx, store, testLogger()))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "populated store must be left alone")
}
