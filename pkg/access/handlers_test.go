package access

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccessRouter(t *testing.T) *mux.Router {
	t.Helper()
	store := seedAccessForest(t)
	resolver := NewResolver(store, nil, testLogger(), nil)
	router := mux.NewRouter()
	NewHandlers(resolver, testLogger()).RegisterRoutes(router)
	return router
}

func doAs(router *mux.Router, method, path string, identity *Identity) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if identity != nil {
		req = req.WithContext(WithIdentity(req.Context(), identity))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCheckAccessEndpoint(t *testing.T) {
	router := newAccessRouter(t)

	t.Run("unauthenticated is 401", func(t *testing.T) {
		rec := doAs(router, "GET", "/features/portal-account/access", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("allowed verdict", func(t *testing.T) {
		rec := doAs(router, "GET", "/features/portal-billing/access",
			&Identity{Subject: "u1", Roles: []string{"BILLING_ADMIN"}})
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]bool
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body["allowed"])
	})

	t.Run("denied verdict carries no detail", func(t *testing.T) {
		rec := doAs(router, "GET", "/features/portal-billing/access",
			&Identity{Subject: "u2", Roles: []string{"VIEWER"}})
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]bool
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body["allowed"])
		assert.NotContains(t, rec.Body.String(), "Billing")
	})

	t.Run("unknown feature is a deny, not an error", func(t *testing.T) {
		rec := doAs(router, "GET", "/features/ghost/access",
			&Identity{Subject: "u3"})
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]bool
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body["allowed"])
	})
}

func TestAccessibleTreeEndpoint(t *testing.T) {
	router := newAccessRouter(t)

	t.Run("unauthenticated is 401", func(t *testing.T) {
		rec := doAs(router, "GET", "/hierarchy/tree/accessible", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("filtered forest", func(t *testing.T) {
		rec := doAs(router, "GET", "/hierarchy/tree/accessible",
			&Identity{Subject: "u1", Roles: []string{"TENANT_ADMIN"}, Tenant: "acme"})
		require.Equal(t, http.StatusOK, rec.Code)

		var tree []*FilteredNode
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tree))
		require.Len(t, tree, 1)
		assert.Equal(t, "portal", tree[0].Node.ID)
	})

	t.Run("bad root type is 400", func(t *testing.T) {
		rec := doAs(router, "GET", "/hierarchy/tree/accessible?rootType=gadget",
			&Identity{Subject: "u1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
