// Package guard enforces feature access at the HTTP boundary. Routes
// declare the capability they require as an explicit value; the guard
// middleware resolves the caller's identity against the capability's
// feature node and denies with 401 or 403 before the handler runs.
package guard
