package guard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternhq/lantern/pkg/access"
	"github.com/lanternhq/lantern/pkg/audit"
	"github.com/lanternhq/lantern/pkg/observability"
)

type stubChecker struct {
	allowed bool
	err     error
	calls   int
}

func (s *stubChecker) HasAccess(ctx context.Context, nodeID string, roles []string, tenant string) (bool, error) {
	s.calls++
	return s.allowed, s.err
}

type recordingAuditor struct {
	audit.NopLogger
	events []*audit.Event
}

func (r *recordingAuditor) LogAccessDecision(ctx context.Context, subject string, roles []string, tenant, nodeID string, allowed bool, path string) error {
	r.events = append(r.events, audit.NewAccessEvent(subject, roles, tenant, nodeID, allowed, path))
	return nil
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveAs(t *testing.T, h http.Handler, identity *access.Identity) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", "/reports", nil)
	if identity != nil {
		req = req.WithContext(access.WithIdentity(req.Context(), identity))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuardRequire(t *testing.T) {
	t.Run("zero capability passes everything through", func(t *testing.T) {
		checker := &stubChecker{}
		g := New(checker, nil, testLogger(), nil)

		rec := serveAs(t, g.Require(Capability{}, okHandler()), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, checker.calls)
	})

	t.Run("missing identity is 401", func(t *testing.T) {
		checker := &stubChecker{allowed: true}
		g := New(checker, nil, testLogger(), nil)

		rec := serveAs(t, g.Require(Requires("reports"), okHandler()), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, checker.calls)
	})

	t.Run("denied identity is 403 with a generic body", func(t *testing.T) {
		g := New(&stubChecker{allowed: false}, nil, testLogger(), nil)

		rec := serveAs(t, g.Require(Requires("reports"), okHandler()),
			&access.Identity{Subject: "u1", Roles: []string{"VIEWER"}, Tenant: "acme"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.NotContains(t, rec.Body.String(), "reports")
	})

	t.Run("allowed identity reaches the handler", func(t *testing.T) {
		g := New(&stubChecker{allowed: true}, nil, testLogger(), nil)

		rec := serveAs(t, g.Require(Requires("reports"), okHandler()),
			&access.Identity{Subject: "u1", Roles: []string{"ANALYST"}})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("checker failure is a generic 500", func(t *testing.T) {
		g := New(&stubChecker{err: errors.New("storage down")}, nil, testLogger(), nil)

		rec := serveAs(t, g.Require(Requires("reports"), okHandler()),
			&access.Identity{Subject: "u1"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "storage down")
	})
}

func TestGuardEmitsAuditEvents(t *testing.T) {
	auditor := &recordingAuditor{}
	g := New(&stubChecker{allowed: false}, auditor, testLogger(), nil)
	handler := g.Require(Requires("reports"), okHandler())

	serveAs(t, handler, &access.Identity{Subject: "u1", Roles: []string{"VIEWER"}, Tenant: "acme"})
	require.Len(t, auditor.events, 1)
	assert.Equal(t, audit.EventAccessDenied, auditor.events[0].EventType)
	assert.Equal(t, "u1", auditor.events[0].Subject)
	assert.Equal(t, "reports", auditor.events[0].NodeID)

	g = New(&stubChecker{allowed: true}, auditor, testLogger(), nil)
	serveAs(t, g.Require(Requires("reports"), okHandler()),
		&access.Identity{Subject: "u2"})
	require.Len(t, auditor.events, 2)
	assert.Equal(t, audit.EventAccessGranted, auditor.events[1].EventType)

	// Unauthenticated requests never reach the audit trail; there is no
	// subject to attribute.
	serveAs(t, g.Require(Requires("reports"), okHandler()), nil)
	assert.Len(t, auditor.events, 2)
}

func TestHeaderIdentityMiddleware(t *testing.T) {
	var got *access.Identity
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = access.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := HeaderIdentityMiddleware(inner)

	t.Run("builds identity from headers", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderSubject, "u1")
		req.Header.Set(HeaderRoles, "TENANT_ADMIN, BILLING_ADMIN")
		req.Header.Set(HeaderTenant, "acme")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		require.NotNil(t, got)
		assert.Equal(t, "u1", got.Subject)
		assert.Equal(t, []string{"TENANT_ADMIN", "BILLING_ADMIN"}, got.Roles)
		assert.Equal(t, "acme", got.Tenant)
	})

	t.Run("no subject means no identity", func(t *testing.T) {
		got = nil
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderRoles, "TENANT_ADMIN")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Nil(t, got)
	})
}
