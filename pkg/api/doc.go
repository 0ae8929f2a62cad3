// Package api composes the HTTP server: it builds the router, applies
// the shared middleware chain and registers the per-package handlers
// for hierarchy administration, assignment management and access
// checks. Administrative routes can be gated behind a capability so
// the registry's own guard protects its own admin surface.
package api
