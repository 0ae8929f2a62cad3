package hierarchy

import (
	"fmt"
	"time"
)

// NodeType describes the declared level of a node in the capability tree.
// The order is part of the product vocabulary; the store does not enforce
// that a node's type matches its actual depth.
type NodeType string

const (
	TypeModule     NodeType = "module"
	TypeSubmodule  NodeType = "submodule"
	TypeFeature    NodeType = "feature"
	TypeSubfeature NodeType = "subfeature"
	TypeOption     NodeType = "option"
	TypeSuboption  NodeType = "suboption"
	TypePoint      NodeType = "point"
	TypeSubpoint   NodeType = "subpoint"
)

// NodeTypes lists all node types in declared order.
func NodeTypes() []NodeType {
	return []NodeType{
		TypeModule, TypeSubmodule, TypeFeature, TypeSubfeature,
		TypeOption, TypeSuboption, TypePoint, TypeSubpoint,
	}
}

// ParseNodeType validates and converts a string to a NodeType.
func ParseNodeType(s string) (NodeType, error) {
	for _, t := range NodeTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown node type %q", ErrInvalidArgument, s)
}

// Node is one entry in the capability tree.
type Node struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Type           NodeType  `json:"type"`
	ParentID       string    `json:"parent_id,omitempty"`
	Children       []string  `json:"children"`
	Description    string    `json:"description,omitempty"`
	IsActive       bool      `json:"is_active"`
	AllowedRoles   []string  `json:"allowed_roles,omitempty"`
	AllowedTenants []string  `json:"allowed_tenants,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Unrestricted reports whether the node carries no role and no tenant
// restriction, i.e. it is open to every caller.
func (n *Node) Unrestricted() bool {
	return len(n.AllowedRoles) == 0 && len(n.AllowedTenants) == 0
}

// HasRole reports whether role is in the node's allow-list.
func (n *Node) HasRole(role string) bool {
	for _, r := range n.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// HasTenant reports whether tenant is in the node's allow-list.
func (n *Node) HasTenant(tenant string) bool {
	for _, t := range n.AllowedTenants {
		if t == tenant {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the node. Stores hand out clones so callers
// can never mutate the arena behind the store's back.
func (n *Node) Clone() *Node {
	c := *n
	c.Children = append([]string(nil), n.Children...)
	c.AllowedRoles = append([]string(nil), n.AllowedRoles...)
	c.AllowedTenants = append([]string(nil), n.AllowedTenants...)
	return &c
}

// NodeUpdate is a partial update; nil fields are left untouched.
// Parent changes are not expressible here: reparenting goes through
// Store.Reparent, which performs cycle validation.
type NodeUpdate struct {
	Name           *string   `json:"name,omitempty"`
	Type           *NodeType `json:"type,omitempty"`
	Description    *string   `json:"description,omitempty"`
	IsActive       *bool     `json:"is_active,omitempty"`
	AllowedRoles   *[]string `json:"allowed_roles,omitempty"`
	AllowedTenants *[]string `json:"allowed_tenants,omitempty"`
}

// maxIDLength bounds identifiers before they hit storage.
const maxIDLength = 128

// ValidateID rejects malformed node identifiers before any storage access.
// Identifiers are opaque but must be non-empty, bounded, and drawn from a
// URL-safe alphabet (seed catalog slugs and generated UUIDs both qualify).
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidArgument)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id longer than %d characters", ErrInvalidArgument, maxIDLength)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == ':':
		default:
			return fmt.Errorf("%w: id contains invalid character %q", ErrInvalidArgument, r)
		}
	}
	return nil
}
