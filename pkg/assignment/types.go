package assignment

import (
	"fmt"
	"time"

	"github.com/lanternhq/lantern/pkg/hierarchy"
)

// Dimension is one of the five scoping axes along which hierarchy nodes
// can be granted.
type Dimension string

const (
	DimensionRole    Dimension = "role"
	DimensionDomain  Dimension = "domain"
	DimensionPackage Dimension = "package"
	DimensionBilling Dimension = "billing"
	DimensionUser    Dimension = "user"
)

// Dimensions lists all assignment dimensions.
func Dimensions() []Dimension {
	return []Dimension{
		DimensionRole, DimensionDomain, DimensionPackage, DimensionBilling, DimensionUser,
	}
}

// ParseDimension validates and converts a string to a Dimension.
func ParseDimension(s string) (Dimension, error) {
	for _, d := range Dimensions() {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: unknown dimension %q", ErrInvalidArgument, s)
}

// Record is one assignment document: a scope key and the node set granted
// to it. Nodes carries the joined hierarchy nodes on reads.
type Record struct {
	Dimension Dimension         `json:"dimension"`
	ScopeKey  string            `json:"scope_key"`
	NodeIDs   []string          `json:"node_ids"`
	Nodes     []*hierarchy.Node `json:"nodes,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// maxScopeKeyLength bounds scope keys before they hit storage.
const maxScopeKeyLength = 255

// ValidateScopeKey rejects malformed scope keys up front.
func ValidateScopeKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty scope key", ErrInvalidArgument)
	}
	if len(key) > maxScopeKeyLength {
		return fmt.Errorf("%w: scope key longer than %d characters", ErrInvalidArgument, maxScopeKeyLength)
	}
	return nil
}
