package guard

import (
	"context"
	"net/http"

	"github.com/lanternhq/lantern/pkg/access"
	"github.com/lanternhq/lantern/pkg/audit"
	"github.com/lanternhq/lantern/pkg/httputil"
	"github.com/lanternhq/lantern/pkg/observability"
)

// Capability names the feature node a route requires. The zero value
// declares no requirement and the guard lets the request through.
type Capability struct {
	FeatureID string
}

// Requires builds a capability for the given feature node id.
func Requires(featureID string) Capability {
	return Capability{FeatureID: featureID}
}

// AccessChecker resolves whether the given roles and tenant may use a
// feature node. Implemented by access.Resolver.
type AccessChecker interface {
	HasAccess(ctx context.Context, nodeID string, roles []string, tenant string) (bool, error)
}

// Guard wraps HTTP handlers with capability enforcement.
type Guard struct {
	checker AccessChecker
	auditor audit.Logger
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates a guard. auditor may be nil when no audit trail is kept.
func New(checker AccessChecker, auditor audit.Logger, logger *observability.Logger, metrics *observability.Metrics) *Guard {
	if auditor == nil {
		auditor = audit.NewNopLogger()
	}
	return &Guard{
		checker: checker,
		auditor: auditor,
		logger:  logger,
		metrics: metrics,
	}
}

// Require wraps next so it only runs when the request's identity may
// use the capability's feature. Requests without an authenticated
// identity get 401; denied identities get 403 with a generic body.
func (g *Guard) Require(cap Capability, next http.Handler) http.Handler {
	if cap.FeatureID == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := access.IdentityFromContext(r.Context())
		if id == nil {
			g.observe(cap.FeatureID, "unauthenticated")
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		allowed, err := g.checker.HasAccess(r.Context(), cap.FeatureID, id.Roles, id.Tenant)
		if err != nil {
			g.logger.WithError(err).WithField("feature_id", cap.FeatureID).
				Error("access check failed")
			g.observe(cap.FeatureID, "error")
			httputil.WriteInternalError(w)
			return
		}

		if logErr := g.auditor.LogAccessDecision(r.Context(), id.Subject, id.Roles, id.Tenant, cap.FeatureID, allowed, r.URL.Path); logErr != nil {
			g.logger.WithError(logErr).Warn("failed to write audit event")
		}

		if !allowed {
			g.observe(cap.FeatureID, "denied")
			httputil.WriteForbidden(w, "access denied")
			return
		}

		g.observe(cap.FeatureID, "granted")
		next.ServeHTTP(w, r)
	})
}

// Middleware adapts Require to the func(http.Handler) http.Handler
// shape used by router middleware chains.
func (g *Guard) Middleware(cap Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.Require(cap, next)
	}
}

// RequireFunc is Require for plain handler functions.
func (g *Guard) RequireFunc(cap Capability, next http.HandlerFunc) http.Handler {
	return g.Require(cap, next)
}

func (g *Guard) observe(featureID, outcome string) {
	if g.metrics != nil {
		g.metrics.GuardDecisionsTotal.WithLabelValues(featureID, outcome).Inc()
	}
}
