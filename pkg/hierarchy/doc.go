// Package hierarchy owns the capability tree: an ordered forest of nodes
// (modules, features, options, ...) with per-node role and tenant
// restrictions. Nodes are kept in an arena keyed by id; parent/children are
// id references, never live pointers, so acyclicity and bidirectional
// consistency can be checked as pure functions over a snapshot.
package hierarchy
