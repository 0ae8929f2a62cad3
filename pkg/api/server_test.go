package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternhq/lantern/pkg/access"
	"github.com/lanternhq/lantern/pkg/assignment"
	"github.com/lanternhq/lantern/pkg/bootstrap"
	"github.com/lanternhq/lantern/pkg/guard"
	"github.com/lanternhq/lantern/pkg/hierarchy"
	"github.com/lanternhq/lantern/pkg/observability"
)

// newTestServer builds a fully wired server on the memory backends with
// the embedded seed catalog loaded and the admin surface gated behind
// the catalog editor feature.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	store := hierarchy.NewMemoryStore()
	require.NoError(t, bootstrap.Load(context.Background(), store, logger))

	assignments := assignment.NewService(assignment.NewMemoryBackend(), store)
	cache, err := access.NewLRUCache(128, time.Minute)
	require.NoError(t, err)
	resolver := access.NewResolver(store, cache, logger, nil)
	g := guard.New(resolver, nil, logger, nil)

	return NewServer(Options{
		Store:                store,
		Assignments:          assignments,
		Resolver:             resolver,
		Guard:                g,
		AdminCapability:      guard.Requires("platform-admin-catalog"),
		Logger:               logger,
		MaxBodyBytes:         1 << 20,
		TrustIdentityHeaders: true,
	})
}

type identity struct {
	subject string
	roles   string
	tenant  string
}

var platformAdmin = identity{subject: "op-1", roles: "PLATFORM_ADMIN"}

func do(t *testing.T, s *Server, method, path string, id *identity, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id != nil {
		req.Header.Set(guard.HeaderSubject, id.subject)
		req.Header.Set(guard.HeaderRoles, id.roles)
		req.Header.Set(guard.HeaderTenant, id.tenant)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestAdminSurfaceIsGuarded(t *testing.T) {
	s := newTestServer(t)

	t.Run("anonymous callers get 401", func(t *testing.T) {
		rec := do(t, s, "GET", "/hierarchy", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("identities without the capability get 403", func(t *testing.T) {
		rec := do(t, s, "GET", "/hierarchy",
			&identity{subject: "u1", roles: "TENANT_ADMIN", tenant: "acme"}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("platform admins pass", func(t *testing.T) {
		rec := do(t, s, "GET", "/hierarchy", &platformAdmin, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHierarchyAdministration(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/hierarchy", &platformAdmin, map[string]interface{}{
		"id":   "crm",
		"name": "CRM",
		"type": "module",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, "POST", "/hierarchy", &platformAdmin, map[string]interface{}{
		"id":            "crm-pipeline",
		"name":          "Pipeline Board",
		"type":          "feature",
		"parent_id":     "crm",
		"allowed_roles": []string{"SALES_MANAGER"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, "GET", "/hierarchy/crm/children", &platformAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var children []hierarchy.Node
	decode(t, rec, &children)
	require.Len(t, children, 1)
	assert.Equal(t, "crm-pipeline", children[0].ID)

	rec = do(t, s, "DELETE", "/hierarchy/crm", &platformAdmin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, "GET", "/hierarchy/crm", &platformAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccessFlowEndToEnd(t *testing.T) {
	s := newTestServer(t)
	tenantAdmin := &identity{subject: "u1", roles: "TENANT_ADMIN", tenant: "acme"}

	// billing-dashboard is seeded with a TENANT_ADMIN role gate.
	rec := do(t, s, "GET", "/features/billing-dashboard/access", tenantAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var verdict map[string]bool
	decode(t, rec, &verdict)
	assert.True(t, verdict["allowed"])

	// Pin the feature to a different tenant; role and tenant gates are
	// both required, so acme loses access.
	rec = do(t, s, "PATCH", "/features/billing-dashboard/assign-tenant/globex", &platformAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "GET", "/features/billing-dashboard/access", tenantAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &verdict)
	assert.False(t, verdict["allowed"], "tenant pin must invalidate cached grants")

	// Toggling the feature off denies everyone, including globex.
	rec = do(t, s, "PATCH", "/features/billing-dashboard/assign-tenant/acme", &platformAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, "PATCH", "/features/billing-dashboard/toggle", &platformAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "GET", "/features/billing-dashboard/access", tenantAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &verdict)
	assert.False(t, verdict["allowed"])
}

func TestAccessibleTreeEndToEnd(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "GET", "/hierarchy/tree/accessible",
		&identity{subject: "u1", roles: "TENANT_ADMIN", tenant: "acme"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tree []*access.FilteredNode
	decode(t, rec, &tree)
	ids := make(map[string]bool)
	var walk func(nodes []*access.FilteredNode)
	walk = func(nodes []*access.FilteredNode) {
		for _, n := range nodes {
			ids[n.Node.ID] = true
			walk(n.Children)
		}
	}
	walk(tree)
	assert.True(t, ids["tenant-dashboards"], "open module visible to tenants")
	assert.False(t, ids["platform-admin"], "operator module hidden from tenants")
}

func TestAssignmentRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/role-hierarchy/TENANT_ANALYST", &platformAdmin,
		map[string]interface{}{"node_ids": []string{"tenant-usage"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "GET", "/role-hierarchy/TENANT_ANALYST", &platformAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got assignment.Record
	decode(t, rec, &got)
	assert.Equal(t, []string{"tenant-usage"}, got.NodeIDs)

	rec = do(t, s, "DELETE", "/role-hierarchy/TENANT_ANALYST", &platformAdmin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestOversizedBodiesAreRejected(t *testing.T) {
	s := newTestServer(t)

	big := bytes.Repeat([]byte("x"), 2<<20)
	req := httptest.NewRequest("POST", "/hierarchy", bytes.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(guard.HeaderSubject, platformAdmin.subject)
	req.Header.Set(guard.HeaderRoles, platformAdmin.roles)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
