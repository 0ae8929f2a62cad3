package guard

import (
	"net/http"
	"strings"

	"github.com/lanternhq/lantern/pkg/access"
)

// Identity headers honored by HeaderIdentityMiddleware. Authentication
// itself is out of scope here; in production the host's auth layer
// injects the identity into the request context and these headers are
// not trusted.
const (
	HeaderSubject = "X-Lantern-Subject"
	HeaderRoles   = "X-Lantern-Roles"
	HeaderTenant  = "X-Lantern-Tenant"
)

// HeaderIdentityMiddleware builds a request identity from headers. It
// is meant for development and tests. A request without a subject
// header passes through unauthenticated.
func HeaderIdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimSpace(r.Header.Get(HeaderSubject))
		if subject == "" {
			next.ServeHTTP(w, r)
			return
		}

		id := &access.Identity{
			Subject: subject,
			Roles:   splitRoles(r.Header.Get(HeaderRoles)),
			Tenant:  strings.TrimSpace(r.Header.Get(HeaderTenant)),
		}
		next.ServeHTTP(w, r.WithContext(access.WithIdentity(r.Context(), id)))
	})
}

func splitRoles(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}
