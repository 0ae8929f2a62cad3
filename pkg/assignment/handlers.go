package assignment

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lanternhq/lantern/pkg/hierarchy"
	"github.com/lanternhq/lantern/pkg/httputil"
	"github.com/lanternhq/lantern/pkg/observability"
)

// Handlers exposes the five assignment surfaces: /role-hierarchy,
// /domain-hierarchy, /package-hierarchy, /billing-hierarchy and
// /user-hierarchy, all sharing one set of handlers.
type Handlers struct {
	service     *Service
	invalidator hierarchy.Invalidator
	logger      *observability.Logger
}

// NewHandlers creates assignment handlers. invalidator may be nil in tests.
func NewHandlers(service *Service, invalidator hierarchy.Invalidator, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, invalidator: invalidator, logger: logger}
}

// RegisterRoutes registers the assignment routes for every dimension.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	for _, dim := range Dimensions() {
		prefix := fmt.Sprintf("/%s-hierarchy/{scopeKey}", dim)
		router.HandleFunc(prefix, h.assign(dim)).Methods("POST")
		router.HandleFunc(prefix, h.get(dim)).Methods("GET")
		router.HandleFunc(prefix, h.remove(dim)).Methods("DELETE")
	}
}

// AssignRequest is the POST /{dim}-hierarchy/{scopeKey} payload. The node
// set replaces the previous assignment wholesale.
type AssignRequest struct {
	NodeIDs []string `json:"node_ids"`
}

func (h *Handlers) assign(dim Dimension) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scopeKey, ok := httputil.ParsePathStringOrError(w, r, "scopeKey")
		if !ok {
			return
		}
		var req AssignRequest
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
		rec, err := h.service.Assign(r.Context(), dim, scopeKey, req.NodeIDs)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if h.invalidator != nil {
			h.invalidator.Invalidate(r.Context())
		}
		h.logger.WithFields(map[string]interface{}{
			"dimension": string(dim),
			"scope_key": scopeKey,
			"nodes":     len(rec.NodeIDs),
		}).Info("assignment replaced")
		httputil.WriteSuccess(w, rec)
	}
}

func (h *Handlers) get(dim Dimension) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scopeKey, ok := httputil.ParsePathStringOrError(w, r, "scopeKey")
		if !ok {
			return
		}
		rec, err := h.service.Get(r.Context(), dim, scopeKey)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if rec == nil {
			httputil.WriteNotFound(w, fmt.Sprintf("no %s assignment for %q", dim, scopeKey))
			return
		}
		httputil.WriteSuccess(w, rec)
	}
}

func (h *Handlers) remove(dim Dimension) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scopeKey, ok := httputil.ParsePathStringOrError(w, r, "scopeKey")
		if !ok {
			return
		}
		if err := h.service.Remove(r.Context(), dim, scopeKey); err != nil {
			h.writeError(w, err)
			return
		}
		if h.invalidator != nil {
			h.invalidator.Invalidate(r.Context())
		}
		httputil.WriteNoContent(w)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidArgument) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	h.logger.WithError(err).Error("assignment storage failure")
	httputil.WriteInternalError(w)
}
