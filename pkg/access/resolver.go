package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lanternhq/lantern/pkg/hierarchy"
	"github.com/lanternhq/lantern/pkg/observability"
)

// DecisionCache stores access verdicts keyed by (node, roles, tenant).
// Implementations must be safe for concurrent use; Invalidate drops every
// cached verdict and is called after any hierarchy mutation.
type DecisionCache interface {
	Get(ctx context.Context, key string) (allowed bool, ok bool)
	Set(ctx context.Context, key string, allowed bool)
	Invalidate(ctx context.Context)
}

// Resolver answers access questions against the hierarchy store.
type Resolver struct {
	store   hierarchy.Store
	cache   DecisionCache
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a resolver. cache and metrics may be nil.
func NewResolver(store hierarchy.Store, cache DecisionCache, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{store: store, cache: cache, logger: logger, metrics: metrics}
}

// Allowed is the pure decision function over a single node. Inactive nodes
// deny everyone. A node with no restrictions allows everyone. Otherwise the
// role gate and the tenant gate are evaluated independently and combined
// with AND: a role-only restriction still gates by role even when the
// tenant side is open, and vice versa.
func Allowed(node *hierarchy.Node, roles []string, tenant string) bool {
	if node == nil || !node.IsActive {
		return false
	}
	if node.Unrestricted() {
		return true
	}
	roleOK := len(node.AllowedRoles) == 0
	if !roleOK {
		for _, r := range roles {
			if node.HasRole(r) {
				roleOK = true
				break
			}
		}
	}
	tenantOK := len(node.AllowedTenants) == 0 || node.HasTenant(tenant)
	return roleOK && tenantOK
}

// HasAccess resolves the verdict for one node id. Unknown nodes deny
// rather than error: a guard declaring a feature id that is not in the
// registry simply always denies.
func (r *Resolver) HasAccess(ctx context.Context, nodeID string, roles []string, tenant string) (bool, error) {
	start := time.Now()
	allowed, err := r.hasAccess(ctx, nodeID, roles, tenant)
	if r.metrics != nil {
		r.metrics.AccessCheckDuration.Observe(time.Since(start).Seconds())
		decision := "deny"
		if allowed {
			decision = "allow"
		}
		r.metrics.AccessChecksTotal.WithLabelValues(decision).Inc()
	}
	return allowed, err
}

func (r *Resolver) hasAccess(ctx context.Context, nodeID string, roles []string, tenant string) (bool, error) {
	key := decisionKey(nodeID, roles, tenant)
	if r.cache != nil {
		if allowed, ok := r.cache.Get(ctx, key); ok {
			if r.metrics != nil {
				r.metrics.CacheHitsTotal.WithLabelValues("decision").Inc()
			}
			return allowed, nil
		}
		if r.metrics != nil {
			r.metrics.CacheMissesTotal.WithLabelValues("decision").Inc()
		}
	}

	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		if errors.Is(err, hierarchy.ErrNotFound) || errors.Is(err, hierarchy.ErrInvalidArgument) {
			// Unknown or malformed target is a deny, not an error, and is
			// cacheable like any other verdict.
			if r.cache != nil {
				r.cache.Set(ctx, key, false)
			}
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve node %s: %w", nodeID, err)
	}

	allowed := Allowed(node, roles, tenant)
	if r.cache != nil {
		r.cache.Set(ctx, key, allowed)
	}
	return allowed, nil
}

// FilteredNode is one node of an access-filtered tree.
type FilteredNode struct {
	Node     *hierarchy.Node `json:"node"`
	Children []*FilteredNode `json:"children"`
}

// AccessibleSubtree filters a forest down to what the caller may see. A
// denied node prunes its whole subtree from the result; an allowed node
// does not vouch for its children, each of which is evaluated on its own.
// The filter works over one snapshot of the forest so concurrent mutations
// cannot produce a torn tree.
func (r *Resolver) AccessibleSubtree(ctx context.Context, rootType hierarchy.NodeType, roles []string, tenant string) ([]*FilteredNode, error) {
	nodes, err := r.store.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot forest: %w", err)
	}
	byID := make(map[string]*hierarchy.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	var filter func(node *hierarchy.Node) *FilteredNode
	filter = func(node *hierarchy.Node) *FilteredNode {
		if !Allowed(node, roles, tenant) {
			return nil
		}
		out := &FilteredNode{Node: node, Children: []*FilteredNode{}}
		for _, childID := range node.Children {
			child := byID[childID]
			if child == nil {
				continue
			}
			if kept := filter(child); kept != nil {
				out.Children = append(out.Children, kept)
			}
		}
		return out
	}

	result := []*FilteredNode{}
	for _, n := range nodes {
		if n.ParentID != "" || n.Type != rootType {
			continue
		}
		if kept := filter(n); kept != nil {
			result = append(result, kept)
		}
	}
	return result, nil
}

// FilterNodes applies the per-node decision to a flat node list with no
// regard for ancestry: a node whose ancestor is denied still appears here
// when its own verdict allows. This is the independence property policy
// authors must keep in mind when restricting root-level nodes.
func FilterNodes(nodes []*hierarchy.Node, roles []string, tenant string) []*hierarchy.Node {
	out := []*hierarchy.Node{}
	for _, n := range nodes {
		if Allowed(n, roles, tenant) {
			out = append(out, n)
		}
	}
	return out
}

// Invalidate implements hierarchy.Invalidator: any mutation drops the whole
// decision cache.
func (r *Resolver) Invalidate(ctx context.Context) {
	if r.cache != nil {
		r.cache.Invalidate(ctx)
	}
}

func decisionKey(nodeID string, roles []string, tenant string) string {
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	return nodeID + "|" + strings.Join(sorted, ",") + "|" + tenant
}
