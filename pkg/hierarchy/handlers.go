package hierarchy

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lanternhq/lantern/pkg/httputil"
	"github.com/lanternhq/lantern/pkg/observability"
)

// RefCleaner purges assignment-record references to deleted nodes. The
// assignment store implements it; deletion always cleans up, never leaves
// dangling references.
type RefCleaner interface {
	RemoveNodeRefs(ctx context.Context, nodeIDs []string) error
}

// Invalidator drops cached access decisions after a mutation. The resolver's
// decision caches implement it.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Handlers provides the admin HTTP surface over the capability tree.
type Handlers struct {
	store       Store
	cleaner     RefCleaner
	invalidator Invalidator
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewHandlers creates hierarchy handlers. cleaner and invalidator may be nil
// in tests.
func NewHandlers(store Store, cleaner RefCleaner, invalidator Invalidator, logger *observability.Logger, metrics *observability.Metrics) *Handlers {
	return &Handlers{
		store:       store,
		cleaner:     cleaner,
		invalidator: invalidator,
		logger:      logger,
		metrics:     metrics,
	}
}

// RegisterRoutes registers all hierarchy and feature-administration routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/hierarchy", h.CreateNode).Methods("POST")
	router.HandleFunc("/hierarchy", h.GetRoots).Methods("GET")
	router.HandleFunc("/hierarchy/{id}", h.GetNode).Methods("GET")
	router.HandleFunc("/hierarchy/{id}", h.UpdateNode).Methods("PATCH")
	router.HandleFunc("/hierarchy/{id}", h.DeleteNode).Methods("DELETE")
	router.HandleFunc("/hierarchy/{id}/children", h.GetChildren).Methods("GET")
	router.HandleFunc("/hierarchy/{id}/reparent", h.Reparent).Methods("POST")

	router.HandleFunc("/features/{id}/toggle", h.Toggle).Methods("PATCH")
	router.HandleFunc("/features/{id}/assign-role/{role}", h.AssignRole).Methods("PATCH")
	router.HandleFunc("/features/{id}/unassign-role/{role}", h.UnassignRole).Methods("PATCH")
	router.HandleFunc("/features/{id}/assign-tenant/{tenant}", h.AssignTenant).Methods("PATCH")
	router.HandleFunc("/features/{id}/unassign-tenant/{tenant}", h.UnassignTenant).Methods("PATCH")
}

// CreateNodeRequest is the POST /hierarchy payload.
type CreateNodeRequest struct {
	ID             string   `json:"id,omitempty"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	ParentID       string   `json:"parent_id,omitempty"`
	Description    string   `json:"description,omitempty"`
	IsActive       *bool    `json:"is_active,omitempty"`
	AllowedRoles   []string `json:"allowed_roles,omitempty"`
	AllowedTenants []string `json:"allowed_tenants,omitempty"`
}

// CreateNode handles POST /hierarchy
func (h *Handlers) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	nodeType, err := ParseNodeType(req.Type)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	node, err := h.store.CreateNode(r.Context(), &Node{
		ID:             req.ID,
		Name:           req.Name,
		Type:           nodeType,
		ParentID:       req.ParentID,
		Description:    req.Description,
		IsActive:       active,
		AllowedRoles:   req.AllowedRoles,
		AllowedTenants: req.AllowedTenants,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.afterMutation(r.Context(), "create")
	h.logger.WithField("node_id", node.ID).Info("hierarchy node created")
	httputil.WriteCreated(w, node)
}

// GetNode handles GET /hierarchy/{id}
func (h *Handlers) GetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	node, err := h.store.GetNode(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, node)
}

// GetChildren handles GET /hierarchy/{id}/children
func (h *Handlers) GetChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	children, err := h.store.GetChildren(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if children == nil {
		children = []*Node{}
	}
	httputil.WriteSuccess(w, children)
}

// UpdateNode handles PATCH /hierarchy/{id}
func (h *Handlers) UpdateNode(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var upd NodeUpdate
	if !httputil.ParseJSONOrError(w, r, &upd) {
		return
	}
	node, err := h.store.UpdateNode(r.Context(), id, upd)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.afterMutation(r.Context(), "update")
	httputil.WriteSuccess(w, node)
}

// DeleteNode handles DELETE /hierarchy/{id}. The whole subtree goes, and
// assignment records referencing any removed node are purged.
func (h *Handlers) DeleteNode(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	removed, err := h.store.DeleteNode(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if h.cleaner != nil {
		if err := h.cleaner.RemoveNodeRefs(r.Context(), removed); err != nil {
			h.logger.WithError(err).WithField("node_id", id).
				Error("failed to clean assignment references after delete")
		}
	}
	h.afterMutation(r.Context(), "delete")
	h.logger.WithFields(map[string]interface{}{
		"node_id": id,
		"removed": len(removed),
	}).Info("hierarchy subtree deleted")
	httputil.WriteNoContent(w)
}

// GetRoots handles GET /hierarchy?rootType=module
func (h *Handlers) GetRoots(w http.ResponseWriter, r *http.Request) {
	rootType, err := ParseNodeType(httputil.ParseQueryString(r, "rootType", string(TypeModule)))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	roots, err := h.store.GetRoots(r.Context(), rootType)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if roots == nil {
		roots = []*Node{}
	}
	httputil.WriteSuccess(w, roots)
}

// ReparentRequest is the POST /hierarchy/{id}/reparent payload. An empty
// parent_id moves the node to the root of the forest.
type ReparentRequest struct {
	ParentID string `json:"parent_id"`
}

// Reparent handles POST /hierarchy/{id}/reparent
func (h *Handlers) Reparent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req ReparentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	node, err := h.store.Reparent(r.Context(), id, req.ParentID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.afterMutation(r.Context(), "reparent")
	httputil.WriteSuccess(w, node)
}

// Toggle handles PATCH /features/{id}/toggle
func (h *Handlers) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	node, err := h.store.Toggle(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.afterMutation(r.Context(), "toggle")
	h.logger.WithFields(map[string]interface{}{
		"node_id":   id,
		"is_active": node.IsActive,
	}).Info("feature toggled")
	httputil.WriteSuccess(w, node)
}

// AssignRole handles PATCH /features/{id}/assign-role/{role}
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	h.editAllowList(w, r, "role", "assign_role", h.store.AssignRole)
}

// UnassignRole handles PATCH /features/{id}/unassign-role/{role}
func (h *Handlers) UnassignRole(w http.ResponseWriter, r *http.Request) {
	h.editAllowList(w, r, "role", "unassign_role", h.store.UnassignRole)
}

// AssignTenant handles PATCH /features/{id}/assign-tenant/{tenant}
func (h *Handlers) AssignTenant(w http.ResponseWriter, r *http.Request) {
	h.editAllowList(w, r, "tenant", "assign_tenant", h.store.AssignTenant)
}

// UnassignTenant handles PATCH /features/{id}/unassign-tenant/{tenant}
func (h *Handlers) UnassignTenant(w http.ResponseWriter, r *http.Request) {
	h.editAllowList(w, r, "tenant", "unassign_tenant", h.store.UnassignTenant)
}

func (h *Handlers) editAllowList(w http.ResponseWriter, r *http.Request, pathKey, op string, edit func(context.Context, string, string) (*Node, error)) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	value, ok := httputil.ParsePathStringOrError(w, r, pathKey)
	if !ok {
		return
	}
	node, err := edit(r.Context(), id, value)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.afterMutation(r.Context(), op)
	httputil.WriteSuccess(w, node)
}

func (h *Handlers) afterMutation(ctx context.Context, op string) {
	if h.invalidator != nil {
		h.invalidator.Invalidate(ctx)
	}
	if h.metrics != nil {
		h.metrics.HierarchyMutationsTotal.WithLabelValues(op).Inc()
		if count, err := h.store.Count(ctx); err == nil {
			h.metrics.HierarchyNodesTotal.Set(float64(count))
		}
	}
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrDuplicateID), errors.Is(err, ErrCycle):
		httputil.WriteConflict(w, err.Error())
	default:
		h.logger.WithError(err).Error("hierarchy storage failure")
		httputil.WriteInternalError(w)
	}
}
