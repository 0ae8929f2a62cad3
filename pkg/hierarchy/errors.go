package hierarchy

import "errors"

// Sentinel errors for the store. Callers branch with errors.Is; HTTP
// handlers map them onto status codes.
var (
	// ErrNotFound is returned when a referenced node does not exist.
	ErrNotFound = errors.New("hierarchy: node not found")

	// ErrInvalidArgument is returned for malformed identifiers or payloads,
	// before any storage access happens.
	ErrInvalidArgument = errors.New("hierarchy: invalid argument")

	// ErrDuplicateID is returned when a create collides with an existing id.
	// Ids are unique across the whole forest, not per subtree.
	ErrDuplicateID = errors.New("hierarchy: duplicate node id")

	// ErrCycle is returned when a reparent would make a node its own
	// ancestor.
	ErrCycle = errors.New("hierarchy: reparent would create a cycle")
)
