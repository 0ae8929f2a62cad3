package assignment

import (
	"context"
	"fmt"

	"github.com/lanternhq/lantern/pkg/hierarchy"
)

// Backend is the raw persistence interface behind the assignment service.
// Upsert replaces the whole node-id set for a scope key atomically; Remove
// is idempotent.
type Backend interface {
	Upsert(ctx context.Context, dim Dimension, scopeKey string, nodeIDs []string) (*Record, error)
	Get(ctx context.Context, dim Dimension, scopeKey string) (*Record, error)
	Remove(ctx context.Context, dim Dimension, scopeKey string) error
	List(ctx context.Context, dim Dimension) ([]*Record, error)
	RemoveNodeRefs(ctx context.Context, nodeIDs []string) error
}

// Service wraps a Backend and joins node references against the hierarchy
// store on reads.
type Service struct {
	backend Backend
	nodes   hierarchy.Store
}

// NewService creates an assignment service.
func NewService(backend Backend, nodes hierarchy.Store) *Service {
	return &Service{backend: backend, nodes: nodes}
}

// Assign replaces the full node-id set for the scope key. Node ids are
// validated for shape only; the set may reference nodes that later get
// deleted, at which point RemoveNodeRefs cleans them up.
func (s *Service) Assign(ctx context.Context, dim Dimension, scopeKey string, nodeIDs []string) (*Record, error) {
	if _, err := ParseDimension(string(dim)); err != nil {
		return nil, err
	}
	if err := ValidateScopeKey(scopeKey); err != nil {
		return nil, err
	}
	for _, id := range nodeIDs {
		if err := hierarchy.ValidateID(id); err != nil {
			return nil, fmt.Errorf("%w: node id %q", ErrInvalidArgument, id)
		}
	}
	return s.backend.Upsert(ctx, dim, scopeKey, dedupe(nodeIDs))
}

// Get returns the scope key's record with nodes resolved, or nil when no
// assignment exists.
func (s *Service) Get(ctx context.Context, dim Dimension, scopeKey string) (*Record, error) {
	if _, err := ParseDimension(string(dim)); err != nil {
		return nil, err
	}
	if err := ValidateScopeKey(scopeKey); err != nil {
		return nil, err
	}
	rec, err := s.backend.Get(ctx, dim, scopeKey)
	if err != nil || rec == nil {
		return rec, err
	}
	rec.Nodes = make([]*hierarchy.Node, 0, len(rec.NodeIDs))
	for _, id := range rec.NodeIDs {
		node, err := s.nodes.GetNode(ctx, id)
		if err != nil {
			// A dangling reference means cleanup raced a delete; the join
			// simply skips it.
			continue
		}
		rec.Nodes = append(rec.Nodes, node)
	}
	return rec, nil
}

// Remove deletes the scope key's record; removing an absent key is a no-op.
func (s *Service) Remove(ctx context.Context, dim Dimension, scopeKey string) error {
	if _, err := ParseDimension(string(dim)); err != nil {
		return err
	}
	if err := ValidateScopeKey(scopeKey); err != nil {
		return err
	}
	return s.backend.Remove(ctx, dim, scopeKey)
}

// RemoveNodeRefs strips the given node ids from every record across all
// dimensions, deleting records that end up empty.
func (s *Service) RemoveNodeRefs(ctx context.Context, nodeIDs []string) error {
	return s.backend.RemoveNodeRefs(ctx, nodeIDs)
}

// List returns every record in a dimension.
func (s *Service) List(ctx context.Context, dim Dimension) ([]*Record, error) {
	if _, err := ParseDimension(string(dim)); err != nil {
		return nil, err
	}
	return s.backend.List(ctx, dim)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
