// Package access resolves whether a caller, described by a role set and a
// tenant, may see and operate a node of the capability tree. Resolution is
// the hot path of the service: it is read-only, lock-free, and served
// through decision caches that mutations invalidate.
package access
