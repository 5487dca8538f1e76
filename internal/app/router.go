package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/helmboard/helmboard/internal/audit"
	"github.com/helmboard/helmboard/internal/auth"
	"github.com/helmboard/helmboard/internal/observability"
	"github.com/helmboard/helmboard/internal/platform/httpx"
	"github.com/helmboard/helmboard/internal/rbac"
	"github.com/helmboard/helmboard/internal/shared"
	"github.com/helmboard/helmboard/internal/users"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	AuthHandler    *auth.Handler
	RBACHandler    *rbac.Handler
	UsersHandler   *users.Handler
	AuditHandler   *audit.Handler
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with Helmboard defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	// Every authenticated route sees a principal with roles loaded fresh
	// from the database for this request.
	r.Use(params.RBACMiddleware.Hydrate)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/csrf", csrfTokenHandler(params.Logger, params.CSRFManager))
		params.AuthHandler.MountRoutes(r)
	})
	r.Get("/me", params.AuthHandler.MeHandler())

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(params.RBACMiddleware.RequireAdmin())
		r.Route("/users", params.UsersHandler.MountRoutes)
		params.RBACHandler.MountRoutes(r)
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// csrfTokenHandler hands the session's CSRF token to the client. Mutating
// requests must echo it back in the X-CSRF-Token header.
func csrfTokenHandler(logger *slog.Logger, manager *shared.CSRFManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		token, err := manager.EnsureToken(sess)
		if err != nil {
			logger.Error("issue csrf token", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"csrfToken": token})
	}
}
