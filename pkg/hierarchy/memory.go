package hierarchy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps the forest in a flat arena map guarded by a RWMutex.
// It backs tests and single-process deployments; read paths take only the
// read lock and every returned node is a clone.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string // insertion order across the whole forest
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[string]*Node)}
}

// CreateNode implements Store.CreateNode.
func (s *MemoryStore) CreateNode(ctx context.Context, node *Node) (*Node, error) {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if err := ValidateID(node.ID); err != nil {
		return nil, err
	}
	if node.Name == "" {
		return nil, fmt.Errorf("%w: node name is required", ErrInvalidArgument)
	}
	if _, err := ParseNodeType(string(node.Type)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[node.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, node.ID)
	}
	var parent *Node
	if node.ParentID != "" {
		var ok bool
		parent, ok = s.nodes[node.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: parent %s", ErrNotFound, node.ParentID)
		}
	}

	now := time.Now().UTC()
	stored := node.Clone()
	stored.Children = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.nodes[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	if parent != nil {
		parent.Children = append(parent.Children, stored.ID)
	}
	return stored.Clone(), nil
}

// GetNode implements Store.GetNode.
func (s *MemoryStore) GetNode(ctx context.Context, id string) (*Node, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return node.Clone(), nil
}

// GetChildren implements Store.GetChildren.
func (s *MemoryStore) GetChildren(ctx context.Context, parentID string) ([]*Node, error) {
	if err := ValidateID(parentID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, ok := s.nodes[parentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parentID)
	}
	children := make([]*Node, 0, len(parent.Children))
	for _, childID := range parent.Children {
		if child, ok := s.nodes[childID]; ok {
			children = append(children, child.Clone())
		}
	}
	return children, nil
}

// UpdateNode implements Store.UpdateNode.
func (s *MemoryStore) UpdateNode(ctx context.Context, id string, upd NodeUpdate) (*Node, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if upd.Type != nil {
		if _, err := ParseNodeType(string(*upd.Type)); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if upd.Name != nil {
		node.Name = *upd.Name
	}
	if upd.Type != nil {
		node.Type = *upd.Type
	}
	if upd.Description != nil {
		node.Description = *upd.Description
	}
	if upd.IsActive != nil {
		node.IsActive = *upd.IsActive
	}
	if upd.AllowedRoles != nil {
		node.AllowedRoles = append([]string(nil), (*upd.AllowedRoles)...)
	}
	if upd.AllowedTenants != nil {
		node.AllowedTenants = append([]string(nil), (*upd.AllowedTenants)...)
	}
	node.UpdatedAt = time.Now().UTC()
	return node.Clone(), nil
}

// DeleteNode implements Store.DeleteNode. The whole subtree is removed and
// every removed id is reported so assignment records can be cleaned.
func (s *MemoryStore) DeleteNode(ctx context.Context, id string) ([]string, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	// Collect the subtree depth-first, target first.
	var removed []string
	stack := []string{node.ID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := s.nodes[cur]
		if !ok {
			continue
		}
		removed = append(removed, cur)
		stack = append(stack, n.Children...)
	}

	if node.ParentID != "" {
		if parent, ok := s.nodes[node.ParentID]; ok {
			parent.Children = removeID(parent.Children, node.ID)
		}
	}
	for _, rid := range removed {
		delete(s.nodes, rid)
		s.order = removeID(s.order, rid)
	}
	return removed, nil
}

// GetRoots implements Store.GetRoots.
func (s *MemoryStore) GetRoots(ctx context.Context, rootType NodeType) ([]*Node, error) {
	if _, err := ParseNodeType(string(rootType)); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var roots []*Node
	for _, id := range s.order {
		n := s.nodes[id]
		if n.ParentID == "" && n.Type == rootType {
			roots = append(roots, n.Clone())
		}
	}
	return roots, nil
}

// ListNodes implements Store.ListNodes.
func (s *MemoryStore) ListNodes(ctx context.Context) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]*Node, 0, len(s.order))
	for _, id := range s.order {
		nodes = append(nodes, s.nodes[id].Clone())
	}
	return nodes, nil
}

// Count implements Store.Count.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.nodes)), nil
}

// Reparent implements Store.Reparent.
func (s *MemoryStore) Reparent(ctx context.Context, id, newParentID string) (*Node, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if newParentID != "" {
		if err := ValidateID(newParentID); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if newParentID != "" {
		newParent, ok := s.nodes[newParentID]
		if !ok {
			return nil, fmt.Errorf("%w: parent %s", ErrNotFound, newParentID)
		}
		// Walking up from the new parent must never reach the node being
		// moved, otherwise the move closes a cycle.
		for cur := newParent; cur != nil; cur = s.nodes[cur.ParentID] {
			if cur.ID == id {
				return nil, fmt.Errorf("%w: %s under %s", ErrCycle, id, newParentID)
			}
			if cur.ParentID == "" {
				break
			}
		}
	}

	if node.ParentID != "" {
		if old, ok := s.nodes[node.ParentID]; ok {
			old.Children = removeID(old.Children, node.ID)
		}
	}
	node.ParentID = newParentID
	if newParentID != "" {
		s.nodes[newParentID].Children = append(s.nodes[newParentID].Children, node.ID)
	}
	node.UpdatedAt = time.Now().UTC()
	return node.Clone(), nil
}

// Toggle implements Store.Toggle.
func (s *MemoryStore) Toggle(ctx context.Context, id string) (*Node, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	node.IsActive = !node.IsActive
	node.UpdatedAt = time.Now().UTC()
	return node.Clone(), nil
}

// AssignRole implements Store.AssignRole.
func (s *MemoryStore) AssignRole(ctx context.Context, id, role string) (*Node, error) {
	return s.editList(id, role, func(n *Node, v string) {
		if !n.HasRole(v) {
			n.AllowedRoles = append(n.AllowedRoles, v)
		}
	})
}

// UnassignRole implements Store.UnassignRole.
func (s *MemoryStore) UnassignRole(ctx context.Context, id, role string) (*Node, error) {
	return s.editList(id, role, func(n *Node, v string) {
		n.AllowedRoles = removeID(n.AllowedRoles, v)
	})
}

// AssignTenant implements Store.AssignTenant.
func (s *MemoryStore) AssignTenant(ctx context.Context, id, tenant string) (*Node, error) {
	return s.editList(id, tenant, func(n *Node, v string) {
		if !n.HasTenant(v) {
			n.AllowedTenants = append(n.AllowedTenants, v)
		}
	})
}

// UnassignTenant implements Store.UnassignTenant.
func (s *MemoryStore) UnassignTenant(ctx context.Context, id, tenant string) (*Node, error) {
	return s.editList(id, tenant, func(n *Node, v string) {
		n.AllowedTenants = removeID(n.AllowedTenants, v)
	})
}

func (s *MemoryStore) editList(id, value string, edit func(*Node, string)) (*Node, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if value == "" {
		return nil, fmt.Errorf("%w: empty role or tenant", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	edit(node, value)
	node.UpdatedAt = time.Now().UTC()
	return node.Clone(), nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
