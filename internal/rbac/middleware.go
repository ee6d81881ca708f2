package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/portal/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Cache  *Cache
	Logger *slog.Logger
}

// Require ensures the current actor's role grants every listed permission.
func (m Middleware) Require(perms ...Permission) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			if m.Cache == nil || !m.Cache.Ready() {
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok || actor.Anonymous() || actor.Role == "" {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if hasAllPermissions(m.Cache.Get(actor.Role), required) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Info("rbac denied",
					slog.String("user", actor.UserID),
					slog.String("role", actor.Role),
					slog.String("path", r.URL.Path))
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func normalizePermissions(perms []Permission) []Permission {
	unique := make(map[Permission]struct{}, len(perms))
	normalized := make([]Permission, 0, len(perms))
	for _, p := range perms {
		p = Permission{
			Resource: strings.TrimSpace(strings.ToLower(p.Resource)),
			Action:   strings.TrimSpace(strings.ToLower(p.Action)),
			Scope:    strings.TrimSpace(strings.ToLower(p.Scope)),
		}
		if p.Resource == "" || p.Action == "" || p.Scope == "" {
			continue
		}
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAllPermissions(granted RolePermissions, required []Permission) bool {
	set := toSet(granted.Permissions)
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
