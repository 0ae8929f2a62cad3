package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lanternhq/lantern/pkg/access"
	"github.com/lanternhq/lantern/pkg/assignment"
	"github.com/lanternhq/lantern/pkg/guard"
	"github.com/lanternhq/lantern/pkg/hierarchy"
	"github.com/lanternhq/lantern/pkg/httputil"
	"github.com/lanternhq/lantern/pkg/observability"
)

// Options carries the collaborators the server wires together.
type Options struct {
	Store       hierarchy.Store
	Assignments *assignment.Service
	Resolver    *access.Resolver
	Guard       *guard.Guard

	// AdminCapability gates every administrative route when set. The
	// zero value leaves the admin surface open, which is only sensible
	// when an outer proxy handles authorization.
	AdminCapability guard.Capability

	Logger  *observability.Logger
	Metrics *observability.Metrics

	// MaxBodyBytes caps accepted request bodies. Zero disables the cap.
	MaxBodyBytes int64

	// TrustIdentityHeaders enables the header-based identity middleware.
	// Development and tests only.
	TrustIdentityHeaders bool
}

// Server represents our API server
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// NewServer creates a new API server with all routes registered.
func NewServer(opts Options) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: opts.Logger,
	}

	s.router.Use(httputil.RecoveryMiddleware)
	if opts.Metrics != nil {
		s.router.Use(opts.Metrics.HTTPMiddleware)
	}
	if opts.MaxBodyBytes > 0 {
		s.router.Use(httputil.MaxBytesMiddleware(opts.MaxBodyBytes))
	}
	if opts.TrustIdentityHeaders {
		s.router.Use(guard.HeaderIdentityMiddleware)
	}

	s.setupRoutes(opts)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(opts Options) {
	// Self-check routes stay outside the admin gate so any
	// authenticated caller can ask about its own access.
	access.NewHandlers(opts.Resolver, opts.Logger).RegisterRoutes(s.router)

	admin := s.router.PathPrefix("/").Subrouter()
	if opts.Guard != nil && opts.AdminCapability.FeatureID != "" {
		admin.Use(opts.Guard.Middleware(opts.AdminCapability))
	}

	hierarchy.NewHandlers(opts.Store, opts.Assignments, opts.Resolver, opts.Logger, opts.Metrics).
		RegisterRoutes(admin)
	assignment.NewHandlers(opts.Assignments, opts.Resolver, opts.Logger).
		RegisterRoutes(admin)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// Router exposes the underlying router for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}
