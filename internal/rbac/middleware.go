package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/helmboard/helmboard/internal/platform/httpx"
	"github.com/helmboard/helmboard/internal/shared"
)

// Middleware wires authorization helpers for HTTP handlers.
//
// Authorization checks role names directly rather than traversing the
// permission graph; permissions are declarative data consumed by the
// dashboard only. See DESIGN.md for the rationale.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Hydrate resolves the session to a principal: the session's user id plus the
// role names loaded fresh from the database. Runs on every request so the
// roles always reflect the store at materialization time. Unauthenticated
// requests pass through without a principal.
func (m Middleware) Hydrate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			next.ServeHTTP(w, r)
			return
		}
		roles, err := m.Service.RolesForUser(r.Context(), sess.User())
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("hydrate principal", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{
			UserID: sess.User(),
			Roles:  roles,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole ensures the current principal holds at least one of the named
// roles. Requests without a principal get 401, principals without a matching
// role get 403, both before any handler touches the data model.
func (m Middleware) RequireRole(names ...string) func(http.Handler) http.Handler {
	required := normalizeNames(names)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			for _, name := range required {
				if principal.HasRole(name) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if m.Logger != nil {
				m.Logger.Warn("role check failed",
					slog.String("user_id", principal.UserID),
					slog.String("required", strings.Join(required, ",")))
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

// RequireAdmin is shorthand for RequireRole(ADMIN), the guard on every admin
// read and mutation path.
func (m Middleware) RequireAdmin() func(http.Handler) http.Handler {
	return m.RequireRole(shared.RoleAdmin)
}
