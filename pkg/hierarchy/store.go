package hierarchy

import (
	"context"
	"fmt"
)

// Store is the single interface over the capability tree. Two backends
// implement it: MemoryStore (arena map, used in tests and single-process
// deployments) and SQLStore (Postgres in production, SQLite in tests).
//
// Policy notes shared by all backends:
//   - CreateNode validates that a declared parent exists and fails with
//     ErrNotFound otherwise; there is no silent skip.
//   - DeleteNode cascades to the whole subtree and reports every removed id
//     so assignment records referencing them can be purged.
//   - Reparent rejects moves that would make a node its own ancestor.
type Store interface {
	// CreateNode inserts a node. A missing id is filled in by the store;
	// a missing parent is an ErrNotFound.
	CreateNode(ctx context.Context, node *Node) (*Node, error)

	// GetNode returns the node or ErrNotFound. Malformed ids fail with
	// ErrInvalidArgument before storage is consulted.
	GetNode(ctx context.Context, id string) (*Node, error)

	// GetChildren returns the direct children of a node in insertion
	// order. It is not recursive.
	GetChildren(ctx context.Context, parentID string) ([]*Node, error)

	// UpdateNode merges the provided fields into an existing node.
	UpdateNode(ctx context.Context, id string, upd NodeUpdate) (*Node, error)

	// DeleteNode removes the node and its entire subtree, returning the
	// ids of every node removed (the target first).
	DeleteNode(ctx context.Context, id string) ([]string, error)

	// GetRoots returns parentless nodes of the given declared type, in
	// insertion order.
	GetRoots(ctx context.Context, rootType NodeType) ([]*Node, error)

	// ListNodes returns a snapshot of the whole forest in insertion order.
	ListNodes(ctx context.Context) ([]*Node, error)

	// Count returns the number of nodes in the forest.
	Count(ctx context.Context) (int64, error)

	// Reparent moves a node under a new parent (or to the root when
	// newParentID is empty), rejecting cycles with ErrCycle.
	Reparent(ctx context.Context, id, newParentID string) (*Node, error)

	// Toggle flips the node's IsActive flag.
	Toggle(ctx context.Context, id string) (*Node, error)

	// AssignRole / UnassignRole edit the node's role allow-list.
	AssignRole(ctx context.Context, id, role string) (*Node, error)
	UnassignRole(ctx context.Context, id, role string) (*Node, error)

	// AssignTenant / UnassignTenant edit the node's tenant allow-list.
	AssignTenant(ctx context.Context, id, tenant string) (*Node, error)
	UnassignTenant(ctx context.Context, id, tenant string) (*Node, error)
}

// FindRecursive searches the whole forest depth-first for a node id,
// visiting children before siblings and short-circuiting on the first
// match. Returns nil (and no error) when the id is not present. A visited
// set guards the walk even though stores keep the forest acyclic.
func FindRecursive(ctx context.Context, s Store, id string) (*Node, error) {
	nodes, err := s.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot forest: %w", err)
	}
	byID := make(map[string]*Node, len(nodes))
	var roots []*Node
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, n := range nodes {
		if n.ParentID == "" || byID[n.ParentID] == nil {
			roots = append(roots, n)
		}
	}

	visited := make(map[string]bool, len(nodes))
	var walk func(n *Node) *Node
	walk = func(n *Node) *Node {
		if n == nil || visited[n.ID] {
			return nil
		}
		visited[n.ID] = true
		if n.ID == id {
			return n
		}
		for _, childID := range n.Children {
			if found := walk(byID[childID]); found != nil {
				return found
			}
		}
		return nil
	}
	for _, root := range roots {
		if found := walk(root); found != nil {
			return found, nil
		}
	}
	return nil, nil
}

// CheckAcyclicity walks parent references in a snapshot and reports every
// node that is its own ancestor. A healthy forest returns an empty slice.
func CheckAcyclicity(nodes []*Node) []string {
	byID := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	var bad []string
	for _, n := range nodes {
		seen := map[string]bool{n.ID: true}
		cur := byID[n.ParentID]
		for cur != nil {
			if seen[cur.ID] {
				bad = append(bad, n.ID)
				break
			}
			seen[cur.ID] = true
			cur = byID[cur.ParentID]
		}
	}
	return bad
}

// CheckBidirectional verifies that every node's children slice equals the
// set of nodes whose parent points back at it, reporting each violation as
// a human-readable string.
func CheckBidirectional(nodes []*Node) []string {
	byParent := make(map[string]map[string]bool)
	byID := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		if n.ParentID != "" {
			if byParent[n.ParentID] == nil {
				byParent[n.ParentID] = make(map[string]bool)
			}
			byParent[n.ParentID][n.ID] = true
		}
	}
	var violations []string
	for _, n := range nodes {
		actual := byParent[n.ID]
		for _, childID := range n.Children {
			if !actual[childID] {
				violations = append(violations,
					fmt.Sprintf("node %s lists child %s whose parent is not %s", n.ID, childID, n.ID))
			}
		}
		if len(n.Children) != len(actual) {
			for childID := range actual {
				if !containsID(n.Children, childID) {
					violations = append(violations,
						fmt.Sprintf("node %s has parent %s but is missing from its children", childID, n.ID))
				}
			}
		}
	}
	return violations
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
