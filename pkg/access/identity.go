package access

import "context"

// Identity is the already-authenticated caller: who they are, which roles
// they hold, and which tenant they act for. Authentication itself happens
// outside this service; the host injects the identity into the request
// context.
type Identity struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
	Tenant  string   `json:"tenant"`
}

type contextKey struct{}

// WithIdentity attaches a caller identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext returns the caller identity, or nil when the request
// is unauthenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
