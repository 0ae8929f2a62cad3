// Package bootstrap seeds an empty hierarchy store with the built-in
// product capability catalog. The catalog is a versioned YAML document
// embedded in the binary; it is applied exactly once, when the store
// has no nodes, and never re-applied over administrator changes.
package bootstrap
