package assignment

import "errors"

var (
	// ErrInvalidArgument is returned for malformed dimensions, scope keys,
	// or node id lists.
	ErrInvalidArgument = errors.New("assignment: invalid argument")
)
