package access

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lanternhq/lantern/pkg/hierarchy"
	"github.com/lanternhq/lantern/pkg/httputil"
	"github.com/lanternhq/lantern/pkg/observability"
)

// Handlers exposes the read-side access endpoints: a per-feature self
// check and the caller's accessible subtree.
type Handlers struct {
	resolver *Resolver
	logger   *observability.Logger
}

// NewHandlers creates access handlers.
func NewHandlers(resolver *Resolver, logger *observability.Logger) *Handlers {
	return &Handlers{resolver: resolver, logger: logger}
}

// RegisterRoutes registers the access routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/features/{id}/access", h.CheckAccess).Methods("GET")
	router.HandleFunc("/hierarchy/tree/accessible", h.AccessibleTree).Methods("GET")
}

// CheckAccess handles GET /features/{id}/access: the current identity's
// verdict for one node. The response carries only the verdict, never the
// node itself.
func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	allowed, err := h.resolver.HasAccess(r.Context(), id, identity.Roles, identity.Tenant)
	if err != nil {
		h.logger.WithError(err).Error("access check failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"allowed": allowed})
}

// AccessibleTree handles GET /hierarchy/tree/accessible?rootType=module:
// the forest filtered down to what the caller may see.
func (h *Handlers) AccessibleTree(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	rootType, err := hierarchy.ParseNodeType(
		httputil.ParseQueryString(r, "rootType", string(hierarchy.TypeModule)))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	tree, err := h.resolver.AccessibleSubtree(r.Context(), rootType, identity.Roles, identity.Tenant)
	if err != nil {
		h.logger.WithError(err).Error("accessible tree filter failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, tree)
}
